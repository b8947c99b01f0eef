package database

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"read-library-backend/pkg/models"
)

// LocalDatabase 本地文件数据库实现（开发与测试使用）
// 全部条目保存在一个 JSON 文件中；path 为空时只保存在内存
type LocalDatabase struct {
	path  string
	mu    sync.RWMutex
	items map[string]models.SavedItem
	now   func() time.Time
}

// NewLocalDatabase 创建本地数据库实例，并加载已有数据
func NewLocalDatabase(path string) (*LocalDatabase, error) {
	db := &LocalDatabase{
		path:  path,
		items: make(map[string]models.SavedItem),
		now:   func() time.Time { return time.Now().UTC() },
	}
	if path == "" {
		return db, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return db, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read local database: %w", err)
	}
	if len(data) == 0 {
		return db, nil
	}

	var items []models.SavedItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode local database: %w", err)
	}
	for _, it := range items {
		db.items[it.ID] = it
	}
	return db, nil
}

// NewMemoryDatabase returns a LocalDatabase that never touches disk.
func NewMemoryDatabase() *LocalDatabase {
	db, _ := NewLocalDatabase("")
	return db
}

// persist writes all items atomically. Callers hold mu.
func (db *LocalDatabase) persist() error {
	if db.path == "" {
		return nil
	}
	items := make([]models.SavedItem, 0, len(db.items))
	for _, it := range db.items {
		items = append(items, it)
	}
	sortNewestFirst(items)

	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("encode local database: %w", err)
	}
	tmp := db.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write local database: %w", err)
	}
	return os.Rename(tmp, db.path)
}

// CreateSavedItem 创建条目
func (db *LocalDatabase) CreateSavedItem(_ context.Context, item *models.SavedItem) error {
	if err := validateNew(item); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if _, exists := db.items[item.ID]; exists {
		return fmt.Errorf("saved item %s already exists", item.ID)
	}
	now := db.now()
	item.CreatedAt = now
	item.UpdatedAt = now
	item.Title, item.Content, item.OGImage, item.Author, item.PublishedAt = nil, nil, nil, nil, nil

	db.items[item.ID] = *item
	if err := db.persist(); err != nil {
		delete(db.items, item.ID)
		return err
	}
	return nil
}

// CompleteSavedItem 写入抽取结果
func (db *LocalDatabase) CompleteSavedItem(_ context.Context, id string, ex models.Extraction) (*models.SavedItem, error) {
	return db.terminalUpdate(id, func(it *models.SavedItem) { ex.Apply(it) })
}

// FailSavedItem 标记失败
func (db *LocalDatabase) FailSavedItem(_ context.Context, id string) (*models.SavedItem, error) {
	return db.terminalUpdate(id, func(it *models.SavedItem) { it.Status = models.StatusFailed })
}

func (db *LocalDatabase) terminalUpdate(id string, apply func(*models.SavedItem)) (*models.SavedItem, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	prev, ok := db.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	if prev.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: status is %s", ErrNotPending, prev.Status)
	}

	next := prev
	apply(&next)
	next.UpdatedAt = db.now()
	db.items[id] = next
	if err := db.persist(); err != nil {
		db.items[id] = prev
		return nil, err
	}
	return &next, nil
}

// GetSavedItem 获取当前用户的条目
func (db *LocalDatabase) GetSavedItem(_ context.Context, userID, id string) (*models.SavedItem, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	it, ok := db.items[id]
	if !ok || it.UserID != userID {
		return nil, ErrNotFound
	}
	return &it, nil
}

// ListSavedItems 分页列出当前用户的条目
func (db *LocalDatabase) ListSavedItems(_ context.Context, userID string, opts ListOptions) ([]models.SavedItem, int, error) {
	opts = opts.Normalize()

	db.mu.RLock()
	var matched []models.SavedItem
	for _, it := range db.items {
		if it.UserID != userID {
			continue
		}
		if opts.Status != "" && it.Status != opts.Status {
			continue
		}
		matched = append(matched, it)
	}
	db.mu.RUnlock()

	sortNewestFirst(matched)
	total := len(matched)

	if opts.Offset >= total {
		return []models.SavedItem{}, total, nil
	}
	end := opts.Offset + opts.Limit
	if end > total {
		end = total
	}
	return matched[opts.Offset:end], total, nil
}

// DeleteSavedItem 删除当前用户的条目
func (db *LocalDatabase) DeleteSavedItem(_ context.Context, userID, id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	it, ok := db.items[id]
	if !ok || it.UserID != userID {
		return ErrNotFound
	}
	delete(db.items, id)
	if err := db.persist(); err != nil {
		db.items[id] = it
		return err
	}
	return nil
}

// HealthCheck 健康检查
func (db *LocalDatabase) HealthCheck() error {
	if db.path == "" {
		return nil
	}
	if _, err := os.Stat(filepath.Dir(db.path)); err != nil {
		return fmt.Errorf("data directory unavailable: %w", err)
	}
	return nil
}

// Close 关闭连接
func (db *LocalDatabase) Close() error {
	return nil
}

func sortNewestFirst(items []models.SavedItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID > items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}
