package database

import (
	"context"
	"errors"
	"fmt"
	"os"

	"read-library-backend/pkg/logger"
	"read-library-backend/pkg/models"
)

var (
	// ErrNotFound 条目不存在，或不属于当前用户
	ErrNotFound = errors.New("saved item not found")
	// ErrNotPending 条目已处于终态，不允许再次写入
	ErrNotPending = errors.New("saved item is not pending")
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

// DatabaseInterface 定义数据库访问接口
type DatabaseInterface interface {
	// CreateSavedItem 创建条目，分配 ID 与时间戳；状态必须为非终态
	CreateSavedItem(ctx context.Context, item *models.SavedItem) error
	// CompleteSavedItem 写入抽取结果并置为 COMPLETED
	CompleteSavedItem(ctx context.Context, id string, ex models.Extraction) (*models.SavedItem, error)
	// FailSavedItem 置为 FAILED，抽取字段保持为空
	FailSavedItem(ctx context.Context, id string) (*models.SavedItem, error)

	GetSavedItem(ctx context.Context, userID, id string) (*models.SavedItem, error)
	ListSavedItems(ctx context.Context, userID string, opts ListOptions) ([]models.SavedItem, int, error)
	DeleteSavedItem(ctx context.Context, userID, id string) error

	// 健康检查
	HealthCheck() error

	// 关闭连接
	Close() error
}

// ListOptions 列表查询参数
type ListOptions struct {
	Status models.ItemStatus
	Limit  int
	Offset int
}

// Normalize clamps limit and offset into their allowed ranges.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = defaultListLimit
	}
	if o.Limit > maxListLimit {
		o.Limit = maxListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	UseLocalDB  bool
	LocalDBPath string
	PostgresDSN string
	SupabaseURL string
	SupabaseKey string
	Debug       bool
}

// NewDatabase 根据环境与配置选择数据库实现
func NewDatabase(config DatabaseConfig, log logger.Logger) (DatabaseInterface, error) {
	if config.UseLocalDB {
		log.Info("Using local file database", logger.String("path", config.LocalDBPath))
		db, err := NewLocalDatabase(config.LocalDBPath)
		if err != nil {
			return nil, err
		}
		return db, nil
	}

	// Vercel 优先使用 Supabase（避免 IPv6）
	if IsVercelEnvironment() && config.SupabaseURL != "" && config.SupabaseKey != "" {
		log.Info("Using Supabase REST API", logger.Bool("serverless", true))
		return NewSupabaseDatabase(config.SupabaseURL, config.SupabaseKey), nil
	}

	if config.PostgresDSN != "" {
		log.Info("Using PostgreSQL database")
		return NewPostgresDatabase(config.PostgresDSN, log)
	}

	if config.SupabaseURL != "" && config.SupabaseKey != "" {
		log.Info("Using Supabase REST API")
		return NewSupabaseDatabase(config.SupabaseURL, config.SupabaseKey), nil
	}

	return nil, fmt.Errorf("no valid database configuration found: set POSTGRES_DSN, SUPABASE_URL+SUPABASE_SERVICE_KEY or USE_LOCAL_DB")
}

// IsVercelEnvironment 检查是否在Vercel环境中
func IsVercelEnvironment() bool {
	return os.Getenv("VERCEL_ENV") != "" || os.Getenv("VERCEL_URL") != "" || os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""
}

func validateNew(item *models.SavedItem) error {
	if item.UserID == "" {
		return fmt.Errorf("user id is required")
	}
	if item.URL == "" {
		return fmt.Errorf("url is required")
	}
	if item.Status == "" {
		item.Status = models.StatusPending
	}
	if !item.Status.Valid() || item.Status.IsTerminal() {
		return fmt.Errorf("cannot create item with status %q", item.Status)
	}
	return nil
}
