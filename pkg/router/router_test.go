package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"read-library-backend/pkg/config"
	"read-library-backend/pkg/database"
	"read-library-backend/pkg/logger"
	"read-library-backend/pkg/models"
	"read-library-backend/pkg/scraper"
	"read-library-backend/pkg/utils"
)

type stubScraper struct {
	pages  map[string]*scraper.ScrapeResult
	links  []scraper.Link
	mapErr error
}

func (s *stubScraper) Scrape(_ context.Context, url string, _ scraper.ScrapeOptions) (*scraper.ScrapeResult, error) {
	if res, ok := s.pages[url]; ok {
		return res, nil
	}
	return nil, &scraper.Error{Kind: scraper.FailureUpstream, Op: "scrape", URL: url, StatusCode: 404, Err: errors.New("not found")}
}

func (s *stubScraper) Map(_ context.Context, _ string, opts scraper.MapOptions) ([]scraper.Link, error) {
	if s.mapErr != nil {
		return nil, s.mapErr
	}
	return s.links, nil
}

const testSecret = "test-secret"

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *utils.APIError `json:"error"`
	Meta    *utils.Meta     `json:"meta"`
}

type testServer struct {
	t       *testing.T
	handler http.Handler
	db      *database.LocalDatabase
}

func newTestServer(t *testing.T, scr scraper.Scraper) *testServer {
	t.Helper()
	cfg := &config.Config{
		Environment:     "test",
		JWTSecret:       testSecret,
		UseLocalDB:      true,
		AllowedOrigins:  []string{"*"},
		RequestTimeout:  10 * time.Second,
		ExtractPrompt:   "please extract the author and also the publishedAt timestamps",
		MapLimit:        25,
		MapCountry:      "US",
		MapLanguages:    []string{"en"},
		BulkConcurrency: 1,
	}
	db := database.NewMemoryDatabase()
	return &testServer{t: t, handler: New(cfg, db, scr, logger.NewNop()), db: db}
}

func (s *testServer) token(userID string) string {
	pair, err := utils.NewJWTService(testSecret).GenerateTokenPair(&models.User{ID: userID, Email: userID + "@example.com"})
	require.NoError(s.t, err)
	return pair.AccessToken
}

func (s *testServer) do(method, path, userID string, body any) (int, envelope) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+s.token(userID))
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var env envelope
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func TestRouter_RequiresAuth(t *testing.T) {
	srv := newTestServer(t, &stubScraper{})
	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/import"},
		{http.MethodPost, "/api/import/discover"},
		{http.MethodPost, "/api/import/bulk"},
		{http.MethodGet, "/api/items"},
		{http.MethodGet, "/api/items/abc"},
		{http.MethodDelete, "/api/items/abc"},
	} {
		code, env := srv.do(tc.method, tc.path, "", map[string]string{"url": "https://example.com"})
		assert.Equal(t, http.StatusUnauthorized, code, tc.path)
		require.NotNil(t, env.Error)
		assert.Equal(t, utils.CodeUnauthorized, env.Error.Code)
	}
}

func TestRouter_ImportLifecycle(t *testing.T) {
	srv := newTestServer(t, &stubScraper{pages: map[string]*scraper.ScrapeResult{
		"https://example.com/post": {
			Markdown: "body",
			Metadata: scraper.Metadata{Title: "T", OGImage: "https://example.com/og.png"},
			JSON:     map[string]any{"author": "A", "publishedAt": "2024-01-05"},
		},
	}})

	code, env := srv.do(http.MethodPost, "/api/import", "alice", map[string]string{"url": "https://example.com/post"})
	require.Equal(t, http.StatusOK, code)
	var item models.SavedItem
	require.NoError(t, json.Unmarshal(env.Data, &item))
	assert.Equal(t, models.StatusCompleted, item.Status)
	assert.Equal(t, "alice", item.UserID)
	assert.Equal(t, "A", *item.Author)
	assert.Equal(t, "https://example.com/og.png", *item.OGImage)

	code, env = srv.do(http.MethodGet, "/api/items/"+item.ID, "alice", nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = srv.do(http.MethodGet, "/api/items/"+item.ID, "bob", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, env = srv.do(http.MethodGet, "/api/items?status=completed", "alice", nil)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, env.Meta)
	assert.Equal(t, 1, env.Meta.Total)

	code, _ = srv.do(http.MethodDelete, "/api/items/"+item.ID, "bob", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = srv.do(http.MethodDelete, "/api/items/"+item.ID, "alice", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = srv.do(http.MethodGet, "/api/items/"+item.ID, "alice", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRouter_ImportFailureStillOK(t *testing.T) {
	srv := newTestServer(t, &stubScraper{})

	code, env := srv.do(http.MethodPost, "/api/import", "alice", map[string]string{"url": "https://example.com/missing"})
	require.Equal(t, http.StatusOK, code)
	var item models.SavedItem
	require.NoError(t, json.Unmarshal(env.Data, &item))
	assert.Equal(t, models.StatusFailed, item.Status)
	assert.Nil(t, item.Content)
}

func TestRouter_ImportValidation(t *testing.T) {
	srv := newTestServer(t, &stubScraper{})

	code, env := srv.do(http.MethodPost, "/api/import", "alice", map[string]string{"url": "notaurl"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, utils.CodeValidation, env.Error.Code)

	code, env = srv.do(http.MethodPost, "/api/import/bulk", "alice", map[string][]string{"urls": {"https://example.com", ""}})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Error.Details, "urls[1]")

	items, total, err := srv.db.ListSavedItems(context.Background(), "alice", database.ListOptions{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, items)
}

func TestRouter_Discover(t *testing.T) {
	srv := newTestServer(t, &stubScraper{links: []scraper.Link{
		{URL: "https://example.com/a", Title: "A"},
		{URL: "https://example.com/b"},
	}})

	code, env := srv.do(http.MethodPost, "/api/import/discover", "alice", map[string]string{"url": "https://example.com", "search": "a"})
	require.Equal(t, http.StatusOK, code)
	var res struct {
		Links []scraper.Link `json:"links"`
		Count int            `json:"count"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, "https://example.com/a", res.Links[0].URL)
}

func TestRouter_DiscoverUpstreamError(t *testing.T) {
	srv := newTestServer(t, &stubScraper{mapErr: &scraper.Error{Kind: scraper.FailureNetwork, Op: "map", Err: errors.New("dial tcp: refused")}})

	code, env := srv.do(http.MethodPost, "/api/import/discover", "alice", map[string]string{"url": "https://example.com"})
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, utils.CodeBadGateway, env.Error.Code)
	assert.Equal(t, "network", env.Error.Details)
}

func TestRouter_BulkImport(t *testing.T) {
	srv := newTestServer(t, &stubScraper{pages: map[string]*scraper.ScrapeResult{
		"https://example.com/1": {Markdown: "one"},
		"https://example.com/3": {Markdown: "three"},
	}})

	code, env := srv.do(http.MethodPost, "/api/import/bulk", "alice", map[string][]string{
		"urls": {"https://example.com/1", "https://example.com/2", "https://example.com/3"},
	})
	require.Equal(t, http.StatusOK, code)
	var res struct {
		Message string `json:"message"`
		Count   int    `json:"count"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, "Successfully imported 3 URLs", res.Message)
	assert.Equal(t, 3, res.Count)

	_, total, err := srv.db.ListSavedItems(context.Background(), "alice", database.ListOptions{Status: models.StatusFailed})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestRouter_NotFoundAndMethod(t *testing.T) {
	srv := newTestServer(t, &stubScraper{})

	code, env := srv.do(http.MethodGet, "/api/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, utils.CodeNotFound, env.Error.Code)

	code, env = srv.do(http.MethodPut, "/api/items/abc", "alice", map[string]string{})
	assert.Equal(t, http.StatusMethodNotAllowed, code)
	assert.Equal(t, utils.CodeMethod, env.Error.Code)
}

func TestRouter_Health(t *testing.T) {
	srv := newTestServer(t, &stubScraper{})
	code, env := srv.do(http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, code)

	var health map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &health))
	assert.Equal(t, "local", health["database"])
	assert.Equal(t, "healthy", health["db_status"])
}

func TestNewScraper(t *testing.T) {
	scr, err := NewScraper(&config.Config{ScrapeTimeout: time.Second}, logger.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &scraper.ReadabilityScraper{}, scr)

	scr, err = NewScraper(&config.Config{FirecrawlAPIKey: "fc-key", FirecrawlBaseURL: "https://api.firecrawl.dev", ScrapeTimeout: time.Second}, logger.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &scraper.FirecrawlClient{}, scr)
}
