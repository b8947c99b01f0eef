package database

import (
	"fmt"
	"sync"
	"time"

	"read-library-backend/pkg/logger"
)

const (
	// 无服务器环境下空闲超过该时长的连接会被关闭
	connectionMaxIdle = 10 * time.Minute
	connectionMaxAge  = 30 * time.Minute
)

// DatabasePool 进程内复用的数据库连接（长驻进程使用）
type DatabasePool struct {
	instance  DatabaseInterface
	config    DatabaseConfig
	createdAt time.Time
	lastUsed  time.Time
}

var (
	globalPool *DatabasePool
	poolMutex  sync.Mutex
)

// GetDatabase 获取数据库连接（单例 + 健康检查）
func GetDatabase(config DatabaseConfig, log logger.Logger) (DatabaseInterface, error) {
	poolMutex.Lock()
	defer poolMutex.Unlock()

	if globalPool != nil && !shouldRecreateConnection(globalPool, config, log) {
		globalPool.lastUsed = time.Now()
		return globalPool.instance, nil
	}

	if globalPool != nil && globalPool.instance != nil {
		_ = globalPool.instance.Close()
	}
	globalPool = nil

	instance, err := NewDatabase(config, log)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	globalPool = &DatabasePool{instance: instance, config: config, createdAt: now, lastUsed: now}
	return instance, nil
}

// shouldRecreateConnection 判断是否需要重新创建连接
func shouldRecreateConnection(pool *DatabasePool, newConfig DatabaseConfig, log logger.Logger) bool {
	if pool.instance == nil {
		return true
	}
	if pool.config != newConfig {
		log.Info("Database configuration changed, recreating connection")
		return true
	}
	if time.Since(pool.createdAt) > connectionMaxAge {
		log.Info("Database connection expired, recreating")
		return true
	}
	if err := pool.instance.HealthCheck(); err != nil {
		log.Warn("Database health check failed, recreating", logger.Error(err))
		return true
	}
	return false
}

// GetConnectionStats 获取连接池统计信息
func GetConnectionStats() map[string]any {
	poolMutex.Lock()
	defer poolMutex.Unlock()

	if globalPool == nil {
		return map[string]any{"status": "no_connection"}
	}
	return map[string]any{
		"status":    "connected",
		"type":      fmt.Sprintf("%T", globalPool.instance),
		"last_used": globalPool.lastUsed.Format(time.RFC3339),
		"age":       time.Since(globalPool.createdAt).String(),
	}
}
