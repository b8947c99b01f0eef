package handlers

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	chiRoute "github.com/go-chi/chi/v5"

	"read-library-backend/pkg/database"
	"read-library-backend/pkg/logger"
	"read-library-backend/pkg/middleware"
	"read-library-backend/pkg/models"
	"read-library-backend/pkg/utils"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	// offset 需落在 int32 范围内
	maxPage = math.MaxInt32/maxPageSize + 1
)

// ItemsHandler 阅读库条目接口
type ItemsHandler struct {
	db  database.DatabaseInterface
	log logger.Logger
}

// NewItemsHandler 创建条目处理器
func NewItemsHandler(db database.DatabaseInterface, log logger.Logger) *ItemsHandler {
	return &ItemsHandler{db: db, log: log}
}

// ListItems GET /api/items?status=&page=&page_size=
func (h *ItemsHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}

	status := models.ItemStatus(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))))
	if status != "" && !status.Valid() {
		utils.WriteValidationErrorResponse(w, "Invalid status", "status must be one of PENDING, PROCESSING, COMPLETED, FAILED")
		return
	}
	page, err := utils.GetIntQueryParam(r, "page", 1)
	if err != nil {
		utils.WriteValidationErrorResponse(w, "Invalid page", err.Error())
		return
	}
	pageSize, err := utils.GetIntQueryParam(r, "page_size", defaultPageSize)
	if err != nil {
		utils.WriteValidationErrorResponse(w, "Invalid page_size", err.Error())
		return
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	if page > maxPage {
		utils.WriteValidationErrorResponse(w, "Invalid page", fmt.Sprintf("page must be at most %d", maxPage))
		return
	}

	items, total, err := h.db.ListSavedItems(r.Context(), user.ID, database.ListOptions{
		Status: status,
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
	})
	if err != nil {
		h.log.Error("Failed to list saved items", logger.String("user_id", user.ID), logger.Error(err))
		utils.WriteInternalServerErrorResponse(w, "Failed to list items")
		return
	}
	utils.WritePaginatedResponse(w, items, page, pageSize, total)
}

// GetItem GET /api/items/{id}
func (h *ItemsHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	id := strings.TrimSpace(chiRoute.URLParam(r, "id"))

	item, err := h.db.GetSavedItem(r.Context(), user.ID, id)
	if err != nil {
		h.writeStoreError(w, "Failed to get item", err)
		return
	}
	utils.WriteSuccessResponse(w, item)
}

// DeleteItem DELETE /api/items/{id}
func (h *ItemsHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	id := strings.TrimSpace(chiRoute.URLParam(r, "id"))

	if err := h.db.DeleteSavedItem(r.Context(), user.ID, id); err != nil {
		h.writeStoreError(w, "Failed to delete item", err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]any{"deleted": true, "id": id})
}

func (h *ItemsHandler) writeStoreError(w http.ResponseWriter, message string, err error) {
	if errors.Is(err, database.ErrNotFound) {
		utils.WriteNotFoundResponse(w, "Item not found")
		return
	}
	h.log.Error(message, logger.Error(err))
	utils.WriteInternalServerErrorResponse(w, message)
}
