package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"read-library-backend/pkg/logger"
	"read-library-backend/pkg/models"
)

const savedItemsTable = "public.saved_items"

var savedItemColumns = []string{
	"id", "url", "user_id", "status", "title", "content", "og_image",
	"author", "published_at", "created_at", "updated_at",
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresDatabase PostgreSQL数据库实现
type PostgresDatabase struct {
	db *sql.DB
}

// NewPostgresDatabase 创建PostgreSQL数据库实例
func NewPostgresDatabase(dsn string, log logger.Logger) (DatabaseInterface, error) {
	// 尝试多种连接策略来解决Vercel Lambda的IPv6问题
	dsn = strings.TrimSpace(dsn)
	strategies := []string{
		dsn,
		addConnectionParams(dsn, "connect_timeout=10"),
		addConnectionParams(dsn, "sslmode=require&connect_timeout=10"),
	}

	var lastErr error
	for i, strategy := range strategies {
		db, err := sql.Open("postgres", strategy)
		if err != nil {
			lastErr = err
			log.Warn("Postgres open failed", logger.Int("strategy", i+1), logger.Error(err))
			continue
		}

		// 设置连接池参数，适合无服务器环境
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = db.PingContext(ctx)
		cancel()
		if err != nil {
			lastErr = err
			log.Warn("Postgres ping failed", logger.Int("strategy", i+1), logger.Error(err))
			_ = db.Close()
			continue
		}

		log.Info("PostgreSQL connection established", logger.Int("strategy", i+1))
		return &PostgresDatabase{db: db}, nil
	}

	return nil, fmt.Errorf("connect to postgres with all strategies: %w", lastErr)
}

// NewPostgresDatabaseFromDB wraps an existing connection pool.
func NewPostgresDatabaseFromDB(db *sql.DB) *PostgresDatabase {
	return &PostgresDatabase{db: db}
}

// addConnectionParams 添加连接参数到DSN
func addConnectionParams(dsn, params string) string {
	if params == "" {
		return dsn
	}
	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return dsn + separator + params
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSavedItem(row rowScanner) (*models.SavedItem, error) {
	var (
		item                            models.SavedItem
		status                          string
		title, content, ogImage, author sql.NullString
		publishedAt                     sql.NullTime
	)
	err := row.Scan(
		&item.ID, &item.URL, &item.UserID, &status, &title, &content, &ogImage,
		&author, &publishedAt, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	item.Status = models.ItemStatus(status)
	item.Title = nullString(title)
	item.Content = nullString(content)
	item.OGImage = nullString(ogImage)
	item.Author = nullString(author)
	if publishedAt.Valid {
		t := publishedAt.Time.UTC()
		item.PublishedAt = &t
	}
	return &item, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// isInvalidID reports whether err is postgres rejecting a malformed uuid.
func isInvalidID(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "22P02"
}

// CreateSavedItem 创建条目
func (db *PostgresDatabase) CreateSavedItem(ctx context.Context, item *models.SavedItem) error {
	if err := validateNew(item); err != nil {
		return err
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}

	query, args, err := psql.Insert(savedItemsTable).
		Columns("id", "url", "user_id", "status", "created_at", "updated_at").
		Values(item.ID, item.URL, item.UserID, string(item.Status), sq.Expr("NOW()"), sq.Expr("NOW()")).
		Suffix("RETURNING created_at, updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if err := db.db.QueryRowContext(ctx, query, args...).Scan(&item.CreatedAt, &item.UpdatedAt); err != nil {
		return fmt.Errorf("failed to create saved item: %w", err)
	}
	return nil
}

// CompleteSavedItem 写入抽取结果
func (db *PostgresDatabase) CompleteSavedItem(ctx context.Context, id string, ex models.Extraction) (*models.SavedItem, error) {
	update := psql.Update(savedItemsTable).
		Set("title", ex.Title).
		Set("content", ex.Content).
		Set("og_image", ex.OGImage).
		Set("author", ex.Author).
		Set("published_at", ex.PublishedAt).
		Set("status", string(models.StatusCompleted))
	return db.terminalUpdate(ctx, id, update)
}

// FailSavedItem 标记失败
func (db *PostgresDatabase) FailSavedItem(ctx context.Context, id string) (*models.SavedItem, error) {
	update := psql.Update(savedItemsTable).
		Set("status", string(models.StatusFailed))
	return db.terminalUpdate(ctx, id, update)
}

// terminalUpdate applies update only while the row is still pending.
func (db *PostgresDatabase) terminalUpdate(ctx context.Context, id string, update sq.UpdateBuilder) (*models.SavedItem, error) {
	query, args, err := update.
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{
			"id":     id,
			"status": []string{string(models.StatusPending), string(models.StatusProcessing)},
		}).
		Suffix("RETURNING " + strings.Join(savedItemColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build update: %w", err)
	}

	item, err := scanSavedItem(db.db.QueryRowContext(ctx, query, args...))
	if err == nil {
		return item, nil
	}
	if isInvalidID(err) {
		return nil, ErrNotFound
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to update saved item: %w", err)
	}

	// 区分不存在与已处于终态
	var status string
	err = db.db.QueryRowContext(ctx, "SELECT status FROM "+savedItemsTable+" WHERE id = $1", id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read saved item status: %w", err)
	}
	return nil, fmt.Errorf("%w: status is %s", ErrNotPending, status)
}

// GetSavedItem 获取当前用户的条目
func (db *PostgresDatabase) GetSavedItem(ctx context.Context, userID, id string) (*models.SavedItem, error) {
	query, args, err := psql.Select(savedItemColumns...).
		From(savedItemsTable).
		Where(sq.Eq{"id": id, "user_id": userID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	item, err := scanSavedItem(db.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) || isInvalidID(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get saved item: %w", err)
	}
	return item, nil
}

// ListSavedItems 分页列出当前用户的条目，按创建时间倒序
func (db *PostgresDatabase) ListSavedItems(ctx context.Context, userID string, opts ListOptions) ([]models.SavedItem, int, error) {
	opts = opts.Normalize()

	filter := sq.Eq{"user_id": userID}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	countQuery, countArgs, err := psql.Select("COUNT(*)").From(savedItemsTable).Where(filter).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count: %w", err)
	}
	var total int
	if err := db.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count saved items: %w", err)
	}

	query, args, err := psql.Select(savedItemColumns...).
		From(savedItemsTable).
		Where(filter).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(opts.Limit)).
		Offset(uint64(opts.Offset)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build select: %w", err)
	}

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list saved items: %w", err)
	}
	defer rows.Close()

	items := []models.SavedItem{}
	for rows.Next() {
		item, err := scanSavedItem(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan saved item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows iteration: %w", err)
	}
	return items, total, nil
}

// DeleteSavedItem 删除当前用户的条目
func (db *PostgresDatabase) DeleteSavedItem(ctx context.Context, userID, id string) error {
	query, args, err := psql.Delete(savedItemsTable).
		Where(sq.Eq{"id": id, "user_id": userID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}

	res, err := db.db.ExecContext(ctx, query, args...)
	if isInvalidID(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete saved item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// HealthCheck 健康检查
func (db *PostgresDatabase) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return db.db.PingContext(ctx)
}

// Close 关闭连接
func (db *PostgresDatabase) Close() error {
	return db.db.Close()
}
