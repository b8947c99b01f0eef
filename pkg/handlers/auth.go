package handlers

import (
	"net/http"
	"strings"
	"time"

	"read-library-backend/pkg/config"
	"read-library-backend/pkg/database"
	"read-library-backend/pkg/logger"
	"read-library-backend/pkg/models"
	"read-library-backend/pkg/utils"
)

const (
	serviceName    = "read-library-backend"
	serviceVersion = "1.0.0"
)

// AuthHandler 令牌刷新与健康检查
type AuthHandler struct {
	config *config.Config
	db     database.DatabaseInterface
	jwt    *utils.JWTService
	log    logger.Logger
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(cfg *config.Config, db database.DatabaseInterface, jwt *utils.JWTService, log logger.Logger) *AuthHandler {
	return &AuthHandler{config: cfg, db: db, jwt: jwt, log: log}
}

// RefreshToken POST /api/auth/refresh
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req models.RefreshTokenRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		utils.WriteValidationErrorResponse(w, "refresh_token is required", "")
		return
	}

	pair, err := h.jwt.RefreshAccessToken(req.RefreshToken)
	if err != nil {
		h.log.Debug("Refresh token rejected", logger.Error(err))
		utils.WriteUnauthorizedResponse(w, "Invalid or expired refresh token")
		return
	}

	utils.WriteSuccessResponse(w, pair)
}

// HealthCheck 健康检查
func (h *AuthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "healthy"
	if err := h.db.HealthCheck(); err != nil {
		h.log.Warn("Database health check failed", logger.Error(err))
		dbStatus = "unhealthy"
	}

	utils.WriteSuccessResponse(w, map[string]any{
		"service":     serviceName,
		"version":     serviceVersion,
		"environment": h.config.Environment,
		"database":    h.config.DatabaseType(),
		"db_status":   dbStatus,
		"timestamp":   time.Now().Unix(),
		"status":      "healthy",
	})
}
