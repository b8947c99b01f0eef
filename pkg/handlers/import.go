package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"read-library-backend/pkg/importer"
	"read-library-backend/pkg/logger"
	"read-library-backend/pkg/middleware"
	"read-library-backend/pkg/models"
	"read-library-backend/pkg/scraper"
	"read-library-backend/pkg/utils"
)

// Importer is the import workflow the handlers drive.
type Importer interface {
	ImportURL(ctx context.Context, user *models.User, rawURL string) (*models.SavedItem, error)
	DiscoverLinks(ctx context.Context, user *models.User, baseURL, search string) ([]scraper.Link, error)
	BulkImport(ctx context.Context, user *models.User, urls []string) (importer.BulkResult, error)
}

// ImportHandler 导入相关接口
type ImportHandler struct {
	importer Importer
	log      logger.Logger
}

// NewImportHandler 创建导入处理器
func NewImportHandler(imp Importer, log logger.Logger) *ImportHandler {
	return &ImportHandler{importer: imp, log: log}
}

// DiscoverResponse 链接发现结果
type DiscoverResponse struct {
	Links []scraper.Link `json:"links"`
	Count int            `json:"count"`
}

// BulkImportResponse 批量导入结果
type BulkImportResponse struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// ImportURL POST /api/import
func (h *ImportHandler) ImportURL(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}

	var req models.ImportRequest
	if !decodeBody(w, r, &req) {
		return
	}

	item, err := h.importer.ImportURL(r.Context(), user, req.URL)
	if err != nil {
		h.writeImportError(w, "Import failed", err)
		return
	}
	utils.WriteSuccessResponse(w, item)
}

// DiscoverLinks POST /api/import/discover
func (h *ImportHandler) DiscoverLinks(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}

	var req models.DiscoverRequest
	if !decodeBody(w, r, &req) {
		return
	}

	links, err := h.importer.DiscoverLinks(r.Context(), user, req.URL, req.Search)
	if err != nil {
		if errors.Is(err, models.ErrInvalidURL) {
			utils.WriteValidationErrorResponse(w, "Invalid url", err.Error())
			return
		}
		utils.WriteBadGatewayResponse(w, "Link discovery failed", string(scraper.KindOf(err)))
		return
	}
	utils.WriteSuccessResponse(w, DiscoverResponse{Links: links, Count: len(links)})
}

// BulkImport POST /api/import/bulk
func (h *ImportHandler) BulkImport(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}

	var req models.BulkImportRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.importer.BulkImport(r.Context(), user, req.URLs)
	if err != nil {
		h.writeImportError(w, "Bulk import failed", err)
		return
	}
	utils.WriteSuccessResponse(w, BulkImportResponse{
		Message: fmt.Sprintf("Successfully imported %d URLs", res.Count),
		Count:   res.Count,
	})
}

func (h *ImportHandler) writeImportError(w http.ResponseWriter, message string, err error) {
	if errors.Is(err, models.ErrInvalidURL) {
		utils.WriteValidationErrorResponse(w, "Invalid url", err.Error())
		return
	}
	h.log.Error(message, logger.Error(err))
	utils.WriteInternalServerErrorResponse(w, message)
}

// decodeBody 解析请求体，失败时写入错误响应
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	err := utils.ParseJSONBody(r, v)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		utils.WriteErrorResponseWithCode(w, http.StatusRequestEntityTooLarge,
			utils.CodeTooLarge, "Request body too large", "")
		return false
	}
	utils.WriteValidationErrorResponse(w, "Invalid request body", err.Error())
	return false
}
