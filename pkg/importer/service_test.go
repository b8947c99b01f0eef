package importer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"read-library-backend/pkg/database"
	"read-library-backend/pkg/logger"
	"read-library-backend/pkg/models"
	"read-library-backend/pkg/scraper"
)

const testPrompt = "please extract the author and also the publishedAt timestamps"

type mockScraper struct {
	mock.Mock
}

func (m *mockScraper) Scrape(ctx context.Context, url string, opts scraper.ScrapeOptions) (*scraper.ScrapeResult, error) {
	args := m.Called(ctx, url, opts)
	res, _ := args.Get(0).(*scraper.ScrapeResult)
	return res, args.Error(1)
}

func (m *mockScraper) Map(ctx context.Context, url string, opts scraper.MapOptions) ([]scraper.Link, error) {
	args := m.Called(ctx, url, opts)
	links, _ := args.Get(0).([]scraper.Link)
	return links, args.Error(1)
}

var scrapeOpts = scraper.ScrapeOptions{Prompt: testPrompt, OnlyMainContent: true}

func newTestService(scr scraper.Scraper, concurrency int) (*Service, *database.LocalDatabase) {
	store := database.NewMemoryDatabase()
	svc := NewService(store, scr, logger.NewNop(), Options{
		Prompt:          testPrompt,
		MapLimit:        25,
		Country:         "US",
		Languages:       []string{"en"},
		BulkConcurrency: concurrency,
	})
	return svc, store
}

func listAll(t *testing.T, store database.DatabaseInterface, userID string) []models.SavedItem {
	t.Helper()
	items, _, err := store.ListSavedItems(context.Background(), userID, database.ListOptions{Limit: 200})
	require.NoError(t, err)
	return items
}

var alice = &models.User{ID: "user-a", Email: "a@example.com"}

func TestImportURL_Completed(t *testing.T) {
	scr := new(mockScraper)
	scr.On("Scrape", mock.Anything, "https://example.com/post", scrapeOpts).Return(&scraper.ScrapeResult{
		Markdown: "body",
		Metadata: scraper.Metadata{Title: "T"},
		JSON:     map[string]any{"author": "A", "publishedAt": "2024-01-05"},
	}, nil)
	svc, _ := newTestService(scr, 1)

	item, err := svc.ImportURL(context.Background(), alice, "https://example.com/post")
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, item.Status)
	assert.Equal(t, "user-a", item.UserID)
	assert.Equal(t, "T", *item.Title)
	assert.Equal(t, "body", *item.Content)
	assert.Equal(t, "A", *item.Author)
	assert.Nil(t, item.OGImage)
	require.NotNil(t, item.PublishedAt)
	assert.True(t, item.PublishedAt.Equal(time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)))
	scr.AssertExpectations(t)
}

func TestImportURL_ScrapeFailureMarksFailed(t *testing.T) {
	scr := new(mockScraper)
	scr.On("Scrape", mock.Anything, "https://example.com/down", scrapeOpts).
		Return(nil, &scraper.Error{Kind: scraper.FailureUpstream, Op: "scrape", URL: "https://example.com/down", StatusCode: 500, Err: errors.New("boom")})
	svc, store := newTestService(scr, 1)

	item, err := svc.ImportURL(context.Background(), alice, "https://example.com/down")
	require.NoError(t, err)

	assert.Equal(t, models.StatusFailed, item.Status)
	assert.Nil(t, item.Title)
	assert.Nil(t, item.Content)
	assert.Nil(t, item.Author)
	assert.Nil(t, item.PublishedAt)

	stored, err := store.GetSavedItem(context.Background(), "user-a", item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, stored.Status)
}

func TestImportURL_UnparseableDate(t *testing.T) {
	scr := new(mockScraper)
	scr.On("Scrape", mock.Anything, mock.Anything, scrapeOpts).Return(&scraper.ScrapeResult{
		Markdown: "body",
		JSON:     map[string]any{"author": "", "publishedAt": "sometime last spring"},
	}, nil)
	svc, _ := newTestService(scr, 1)

	item, err := svc.ImportURL(context.Background(), alice, "https://example.com/post")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, item.Status)
	assert.Nil(t, item.PublishedAt)
	assert.Nil(t, item.Author)
	assert.Nil(t, item.Title)
}

// ctxStore fails writes on a done context the way a network-backed store does.
type ctxStore struct {
	*database.LocalDatabase
	createErr   map[string]error
	completeErr error
}

func (s *ctxStore) CreateSavedItem(ctx context.Context, item *models.SavedItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.createErr[item.URL]; err != nil {
		return err
	}
	return s.LocalDatabase.CreateSavedItem(ctx, item)
}

func (s *ctxStore) CompleteSavedItem(ctx context.Context, id string, ex models.Extraction) (*models.SavedItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.completeErr != nil {
		return nil, s.completeErr
	}
	return s.LocalDatabase.CompleteSavedItem(ctx, id, ex)
}

func (s *ctxStore) FailSavedItem(ctx context.Context, id string) (*models.SavedItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.LocalDatabase.FailSavedItem(ctx, id)
}

func newCtxService(scr scraper.Scraper, store *ctxStore, concurrency int) *Service {
	return NewService(store, scr, logger.NewNop(), Options{Prompt: testPrompt, BulkConcurrency: concurrency})
}

func TestImportURL_CancelledAfterScrapeStillCompletes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scr := new(mockScraper)
	scr.On("Scrape", mock.Anything, "https://example.com/post", scrapeOpts).
		Run(func(mock.Arguments) { cancel() }).
		Return(&scraper.ScrapeResult{Markdown: "body"}, nil)
	store := &ctxStore{LocalDatabase: database.NewMemoryDatabase()}
	svc := newCtxService(scr, store, 1)

	item, err := svc.ImportURL(ctx, alice, "https://example.com/post")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, item.Status)

	stored, err := store.GetSavedItem(context.Background(), "user-a", item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)
}

func TestImportURL_StoreErrorAfterScrapeMarksFailed(t *testing.T) {
	scr := new(mockScraper)
	scr.On("Scrape", mock.Anything, "https://example.com/post", scrapeOpts).
		Return(&scraper.ScrapeResult{Markdown: "body", Metadata: scraper.Metadata{Title: "T"}}, nil)
	store := &ctxStore{LocalDatabase: database.NewMemoryDatabase(), completeErr: errors.New("value too long for column")}
	svc := newCtxService(scr, store, 1)

	item, err := svc.ImportURL(context.Background(), alice, "https://example.com/post")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, item.Status)
	assert.Nil(t, item.Title)

	items := listAll(t, store, "user-a")
	require.Len(t, items, 1)
	assert.Equal(t, models.StatusFailed, items[0].Status)
}

func TestImportURL_AlreadyTerminalIsReported(t *testing.T) {
	scr := new(mockScraper)
	scr.On("Scrape", mock.Anything, mock.Anything, scrapeOpts).Return(&scraper.ScrapeResult{Markdown: "x"}, nil)
	store := &ctxStore{LocalDatabase: database.NewMemoryDatabase(), completeErr: fmt.Errorf("%w: status is FAILED", database.ErrNotPending)}
	svc := newCtxService(scr, store, 1)

	_, err := svc.ImportURL(context.Background(), alice, "https://example.com/post")
	assert.ErrorIs(t, err, database.ErrNotPending)

	// 不会再改写已有终态
	items := listAll(t, store, "user-a")
	require.Len(t, items, 1)
	assert.Equal(t, models.StatusProcessing, items[0].Status)
}

func TestImportURL_InvalidURL(t *testing.T) {
	scr := new(mockScraper)
	svc, store := newTestService(scr, 1)

	_, err := svc.ImportURL(context.Background(), alice, "not a url")
	assert.ErrorIs(t, err, models.ErrInvalidURL)
	assert.Empty(t, listAll(t, store, "user-a"))
	scr.AssertNotCalled(t, "Scrape", mock.Anything, mock.Anything, mock.Anything)
}

func TestImportURL_RequiresUser(t *testing.T) {
	svc, _ := newTestService(new(mockScraper), 1)
	_, err := svc.ImportURL(context.Background(), nil, "https://example.com")
	assert.ErrorIs(t, err, ErrNoUser)
}

func TestDiscoverLinks(t *testing.T) {
	links := make([]scraper.Link, 30)
	for i := range links {
		links[i] = scraper.Link{URL: fmt.Sprintf("https://example.com/p/%d", i)}
	}
	scr := new(mockScraper)
	scr.On("Map", mock.Anything, "https://example.com", scraper.MapOptions{
		Limit: 25, Search: "docs", Country: "US", Languages: []string{"en"},
	}).Return(links, nil)
	svc, store := newTestService(scr, 1)

	got, err := svc.DiscoverLinks(context.Background(), alice, " https://example.com ", " docs ")
	require.NoError(t, err)
	assert.Len(t, got, 25)
	assert.Empty(t, listAll(t, store, "user-a"))
	scr.AssertExpectations(t)
}

func TestDiscoverLinks_UpstreamError(t *testing.T) {
	scr := new(mockScraper)
	upstream := &scraper.Error{Kind: scraper.FailureUpstream, Op: "map", Err: errors.New("rate limited"), StatusCode: 429}
	scr.On("Map", mock.Anything, mock.Anything, mock.Anything).Return(nil, upstream)
	svc, _ := newTestService(scr, 1)

	_, err := svc.DiscoverLinks(context.Background(), alice, "https://example.com", "")
	require.Error(t, err)
	assert.Equal(t, scraper.FailureUpstream, scraper.KindOf(err))
}

func TestDiscoverLinks_EmptyIsNotNil(t *testing.T) {
	scr := new(mockScraper)
	scr.On("Map", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	svc, _ := newTestService(scr, 1)

	got, err := svc.DiscoverLinks(context.Background(), alice, "https://example.com", "")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestBulkImport_PartialFailure(t *testing.T) {
	for _, concurrency := range []int{1, 3} {
		t.Run(fmt.Sprintf("concurrency=%d", concurrency), func(t *testing.T) {
			scr := new(mockScraper)
			scr.On("Scrape", mock.Anything, "https://example.com/a", scrapeOpts).
				Return(&scraper.ScrapeResult{Markdown: "a", Metadata: scraper.Metadata{Title: "A"}}, nil)
			scr.On("Scrape", mock.Anything, "https://example.com/b", scrapeOpts).
				Return(nil, &scraper.Error{Kind: scraper.FailureNetwork, Op: "scrape", Err: context.DeadlineExceeded})
			scr.On("Scrape", mock.Anything, "https://example.com/c", scrapeOpts).
				Return(&scraper.ScrapeResult{Markdown: "c"}, nil)
			svc, store := newTestService(scr, concurrency)

			res, err := svc.BulkImport(context.Background(), alice, []string{
				"https://example.com/a", "https://example.com/b", "https://example.com/c",
			})
			require.NoError(t, err)
			assert.Equal(t, 3, res.Count)

			byURL := map[string]models.ItemStatus{}
			for _, it := range listAll(t, store, "user-a") {
				byURL[it.URL] = it.Status
			}
			assert.Equal(t, map[string]models.ItemStatus{
				"https://example.com/a": models.StatusCompleted,
				"https://example.com/b": models.StatusFailed,
				"https://example.com/c": models.StatusCompleted,
			}, byURL)
		})
	}
}

func TestBulkImport_CreateFailureLeavesNoOpenItems(t *testing.T) {
	scr := new(mockScraper)
	// 模拟仍在进行中的抓取，直到批次被取消
	scr.On("Scrape", mock.Anything, mock.Anything, scrapeOpts).
		Run(func(args mock.Arguments) { <-args.Get(0).(context.Context).Done() }).
		Return(&scraper.ScrapeResult{Markdown: "x"}, nil).Maybe()
	store := &ctxStore{
		LocalDatabase: database.NewMemoryDatabase(),
		createErr:     map[string]error{"https://example.com/b": errors.New("connection reset")},
	}
	svc := newCtxService(scr, store, 3)

	_, err := svc.BulkImport(context.Background(), alice, []string{
		"https://example.com/a", "https://example.com/b", "https://example.com/c",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "https://example.com/b")

	for _, it := range listAll(t, store, "user-a") {
		assert.Contains(t, []models.ItemStatus{models.StatusCompleted, models.StatusFailed}, it.Status, it.URL)
		assert.NotEqual(t, "https://example.com/b", it.URL)
	}
}

func TestBulkImport_SerialOrder(t *testing.T) {
	var order []string
	scr := new(mockScraper)
	scr.On("Scrape", mock.Anything, mock.Anything, scrapeOpts).
		Run(func(args mock.Arguments) { order = append(order, args.String(1)) }).
		Return(&scraper.ScrapeResult{Markdown: "x"}, nil)
	svc, _ := newTestService(scr, 1)

	urls := []string{"https://example.com/3", "https://example.com/1", "https://example.com/2"}
	_, err := svc.BulkImport(context.Background(), alice, urls)
	require.NoError(t, err)
	assert.Equal(t, urls, order)
}

func TestBulkImport_InvalidURLCreatesNothing(t *testing.T) {
	scr := new(mockScraper)
	svc, store := newTestService(scr, 1)

	_, err := svc.BulkImport(context.Background(), alice, []string{"https://example.com/a", "ftp://example.com/b"})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidURL)
	assert.Contains(t, err.Error(), "urls[1]")
	assert.Empty(t, listAll(t, store, "user-a"))
	scr.AssertNotCalled(t, "Scrape", mock.Anything, mock.Anything, mock.Anything)
}

func TestBulkImport_Empty(t *testing.T) {
	svc, _ := newTestService(new(mockScraper), 1)
	_, err := svc.BulkImport(context.Background(), alice, nil)
	assert.ErrorIs(t, err, models.ErrInvalidURL)
}

func TestImport_UserIsolation(t *testing.T) {
	scr := new(mockScraper)
	scr.On("Scrape", mock.Anything, mock.Anything, scrapeOpts).Return(&scraper.ScrapeResult{Markdown: "x"}, nil)
	svc, store := newTestService(scr, 1)

	item, err := svc.ImportURL(context.Background(), alice, "https://example.com")
	require.NoError(t, err)

	_, err = store.GetSavedItem(context.Background(), "user-b", item.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)
	assert.Empty(t, listAll(t, store, "user-b"))
}

func TestNewService_ClampsOptions(t *testing.T) {
	svc := NewService(database.NewMemoryDatabase(), new(mockScraper), nil, Options{MapLimit: 100})
	assert.Equal(t, MaxMapLimit, svc.opts.MapLimit)
	assert.Equal(t, 1, svc.opts.BulkConcurrency)
}
