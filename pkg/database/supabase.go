package database

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"read-library-backend/pkg/models"
)

// SupabaseDatabase Supabase数据库实现（PostgREST 接口）
type SupabaseDatabase struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewSupabaseDatabase 创建Supabase数据库实例
func NewSupabaseDatabase(baseURL, key string) *SupabaseDatabase {
	// 确保URL格式正确
	if !strings.HasPrefix(baseURL, "http") {
		baseURL = "https://" + baseURL
	}

	return &SupabaseDatabase{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  key,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type supabaseResponse struct {
	body   []byte
	header http.Header
}

// makeRequest 发送HTTP请求到Supabase
func (db *SupabaseDatabase) makeRequest(ctx context.Context, method, table string, query url.Values, body any, customHeaders map[string]string) (*supabaseResponse, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	endpoint := db.baseURL + "/rest/v1/" + table
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// 设置请求头
	req.Header.Set("apikey", db.apiKey)
	req.Header.Set("Authorization", "Bearer "+db.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")
	for key, value := range customHeaders {
		req.Header.Set(key, value)
	}

	resp, err := db.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		// 非法 uuid 由 PostgREST 以 22P02 返回
		if resp.StatusCode == http.StatusBadRequest && bytes.Contains(respBody, []byte("22P02")) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	return &supabaseResponse{body: respBody, header: resp.Header}, nil
}

func decodeRows(data []byte) ([]models.SavedItem, error) {
	var rows []models.SavedItem
	if len(bytes.TrimSpace(data)) == 0 {
		return rows, nil
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode saved items: %w", err)
	}
	return rows, nil
}

// CreateSavedItem 创建条目
func (db *SupabaseDatabase) CreateSavedItem(ctx context.Context, item *models.SavedItem) error {
	if err := validateNew(item); err != nil {
		return err
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}

	payload := map[string]any{
		"id":      item.ID,
		"url":     item.URL,
		"user_id": item.UserID,
		"status":  string(item.Status),
	}
	resp, err := db.makeRequest(ctx, http.MethodPost, "saved_items", nil, payload, nil)
	if err != nil {
		return fmt.Errorf("failed to create saved item: %w", err)
	}
	rows, err := decodeRows(resp.body)
	if err != nil {
		return err
	}
	if len(rows) > 0 {
		item.CreatedAt = rows[0].CreatedAt
		item.UpdatedAt = rows[0].UpdatedAt
	}
	return nil
}

// CompleteSavedItem 写入抽取结果
func (db *SupabaseDatabase) CompleteSavedItem(ctx context.Context, id string, ex models.Extraction) (*models.SavedItem, error) {
	payload := map[string]any{
		"title":        ex.Title,
		"content":      ex.Content,
		"og_image":     ex.OGImage,
		"author":       ex.Author,
		"published_at": ex.PublishedAt,
		"status":       string(models.StatusCompleted),
	}
	return db.terminalUpdate(ctx, id, payload)
}

// FailSavedItem 标记失败
func (db *SupabaseDatabase) FailSavedItem(ctx context.Context, id string) (*models.SavedItem, error) {
	return db.terminalUpdate(ctx, id, map[string]any{"status": string(models.StatusFailed)})
}

func (db *SupabaseDatabase) terminalUpdate(ctx context.Context, id string, payload map[string]any) (*models.SavedItem, error) {
	payload["updated_at"] = time.Now().UTC()
	query := url.Values{
		"id":     {"eq." + id},
		"status": {fmt.Sprintf("in.(%s,%s)", models.StatusPending, models.StatusProcessing)},
	}
	resp, err := db.makeRequest(ctx, http.MethodPatch, "saved_items", query, payload, nil)
	if err != nil {
		if err == ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update saved item: %w", err)
	}
	rows, err := decodeRows(resp.body)
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		return &rows[0], nil
	}

	// 区分不存在与已处于终态
	resp, err = db.makeRequest(ctx, http.MethodGet, "saved_items", url.Values{
		"id":     {"eq." + id},
		"select": {"status"},
	}, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read saved item status: %w", err)
	}
	rows, err = decodeRows(resp.body)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return nil, fmt.Errorf("%w: status is %s", ErrNotPending, rows[0].Status)
}

// GetSavedItem 获取当前用户的条目
func (db *SupabaseDatabase) GetSavedItem(ctx context.Context, userID, id string) (*models.SavedItem, error) {
	resp, err := db.makeRequest(ctx, http.MethodGet, "saved_items", url.Values{
		"id":      {"eq." + id},
		"user_id": {"eq." + userID},
		"select":  {"*"},
	}, nil, nil)
	if err != nil {
		return nil, err
	}
	rows, err := decodeRows(resp.body)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// ListSavedItems 分页列出当前用户的条目
func (db *SupabaseDatabase) ListSavedItems(ctx context.Context, userID string, opts ListOptions) ([]models.SavedItem, int, error) {
	opts = opts.Normalize()

	query := url.Values{
		"user_id": {"eq." + userID},
		"select":  {"*"},
		"order":   {"created_at.desc,id.desc"},
		"limit":   {strconv.Itoa(opts.Limit)},
		"offset":  {strconv.Itoa(opts.Offset)},
	}
	if opts.Status != "" {
		query.Set("status", "eq."+string(opts.Status))
	}

	resp, err := db.makeRequest(ctx, http.MethodGet, "saved_items", query, nil, map[string]string{
		"Prefer": "count=exact",
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list saved items: %w", err)
	}
	rows, err := decodeRows(resp.body)
	if err != nil {
		return nil, 0, err
	}
	if rows == nil {
		rows = []models.SavedItem{}
	}

	total := parseContentRangeTotal(resp.header.Get("Content-Range"))
	if total < 0 {
		total = opts.Offset + len(rows)
	}
	return rows, total, nil
}

// parseContentRangeTotal reads the total from "0-19/57"; -1 when absent.
func parseContentRangeTotal(v string) int {
	i := strings.LastIndex(v, "/")
	if i < 0 {
		return -1
	}
	n, err := strconv.Atoi(strings.TrimSpace(v[i+1:]))
	if err != nil {
		return -1
	}
	return n
}

// DeleteSavedItem 删除当前用户的条目
func (db *SupabaseDatabase) DeleteSavedItem(ctx context.Context, userID, id string) error {
	resp, err := db.makeRequest(ctx, http.MethodDelete, "saved_items", url.Values{
		"id":      {"eq." + id},
		"user_id": {"eq." + userID},
	}, nil, nil)
	if err != nil {
		if err == ErrNotFound {
			return err
		}
		return fmt.Errorf("failed to delete saved item: %w", err)
	}
	rows, err := decodeRows(resp.body)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return ErrNotFound
	}
	return nil
}

// HealthCheck 健康检查
func (db *SupabaseDatabase) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := db.makeRequest(ctx, http.MethodGet, "saved_items", url.Values{
		"select": {"id"},
		"limit":  {"1"},
	}, nil, nil)
	return err
}

// Close 关闭连接
func (db *SupabaseDatabase) Close() error {
	db.httpClient.CloseIdleConnections()
	return nil
}
