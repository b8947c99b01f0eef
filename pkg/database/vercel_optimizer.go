package database

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"read-library-backend/pkg/logger"
)

// VercelOptimizer 无服务器环境下按配置复用连接，跨热启动调用共享
type VercelOptimizer struct {
	connections map[string]DatabaseInterface
	lastUsed    map[string]time.Time
	mu          sync.Mutex
	log         logger.Logger
}

var (
	vercelOptimizer *VercelOptimizer
	optimizerOnce   sync.Once
)

// GetVercelOptimizer 获取Vercel优化器单例
func GetVercelOptimizer(log logger.Logger) *VercelOptimizer {
	optimizerOnce.Do(func() {
		vercelOptimizer = &VercelOptimizer{
			connections: make(map[string]DatabaseInterface),
			lastUsed:    make(map[string]time.Time),
			log:         log,
		}
	})
	return vercelOptimizer
}

// GetOptimizedConnection 获取优化的数据库连接
func (vo *VercelOptimizer) GetOptimizedConnection(config DatabaseConfig) (DatabaseInterface, error) {
	key := configKey(config)

	vo.mu.Lock()
	defer vo.mu.Unlock()

	// 热启动时顺带清理过期连接，无需后台 goroutine
	vo.cleanupExpiredLocked(time.Now())

	if conn, ok := vo.connections[key]; ok {
		if err := conn.HealthCheck(); err == nil {
			vo.lastUsed[key] = time.Now()
			return conn, nil
		} else {
			vo.log.Warn("Cached connection unhealthy, removing", logger.String("key", key[:8]), logger.Error(err))
			_ = conn.Close()
			delete(vo.connections, key)
			delete(vo.lastUsed, key)
		}
	}

	conn, err := NewDatabase(config, vo.log)
	if err != nil {
		return nil, err
	}
	vo.connections[key] = conn
	vo.lastUsed[key] = time.Now()
	return conn, nil
}

func (vo *VercelOptimizer) cleanupExpiredLocked(now time.Time) {
	for key, last := range vo.lastUsed {
		if now.Sub(last) <= connectionMaxIdle {
			continue
		}
		if conn, ok := vo.connections[key]; ok {
			_ = conn.Close()
		}
		delete(vo.connections, key)
		delete(vo.lastUsed, key)
	}
}

// GetStats 获取优化器统计信息
func (vo *VercelOptimizer) GetStats() map[string]any {
	vo.mu.Lock()
	defer vo.mu.Unlock()

	conns := make([]map[string]any, 0, len(vo.lastUsed))
	for key, last := range vo.lastUsed {
		conns = append(conns, map[string]any{
			"key":       key[:8] + "...",
			"last_used": last.Format(time.RFC3339),
			"idle":      time.Since(last).String(),
		})
	}
	return map[string]any{
		"total_connections": len(vo.connections),
		"connections":       conns,
	}
}

// configKey hashes the config so secrets never appear in stats or logs.
func configKey(config DatabaseConfig) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%t|%s|%s|%s|%s|%t",
		config.UseLocalDB, config.LocalDBPath, config.PostgresDSN, config.SupabaseURL, config.SupabaseKey, config.Debug)))
	return hex.EncodeToString(sum[:])
}

// GetOptimizedDatabase 获取数据库连接：Vercel 环境按配置缓存，其它环境使用单例
func GetOptimizedDatabase(config DatabaseConfig, log logger.Logger) (DatabaseInterface, error) {
	if IsVercelEnvironment() {
		return GetVercelOptimizer(log).GetOptimizedConnection(config)
	}
	return GetDatabase(config, log)
}

// ConnectionStats 返回当前环境下的连接复用统计
func ConnectionStats() map[string]any {
	if IsVercelEnvironment() && vercelOptimizer != nil {
		stats := vercelOptimizer.GetStats()
		stats["optimizer_type"] = "vercel"
		return stats
	}
	stats := GetConnectionStats()
	stats["optimizer_type"] = "standard"
	return stats
}
