// Package importer turns submitted URLs into saved items: it creates the row,
// runs the extraction and records exactly one terminal outcome per item.
package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"read-library-backend/pkg/database"
	"read-library-backend/pkg/logger"
	"read-library-backend/pkg/models"
	"read-library-backend/pkg/scraper"
)

// MaxMapLimit caps how many links one discovery call may return.
const MaxMapLimit = 25

// ErrNoUser is returned when an operation is called without a user.
var ErrNoUser = errors.New("importer: user is required")

// Options 导入服务配置
type Options struct {
	Prompt          string
	MapLimit        int
	Country         string
	Languages       []string
	BulkConcurrency int
}

// BulkResult is the outcome of a bulk import. Count is the number of URLs
// accepted, regardless of how each item ended.
type BulkResult struct {
	Count int
}

// Service 导入服务
type Service struct {
	store   database.DatabaseInterface
	scraper scraper.Scraper
	log     logger.Logger
	opts    Options
}

// NewService 创建导入服务
func NewService(store database.DatabaseInterface, scr scraper.Scraper, log logger.Logger, opts Options) *Service {
	if opts.MapLimit <= 0 || opts.MapLimit > MaxMapLimit {
		opts.MapLimit = MaxMapLimit
	}
	if opts.BulkConcurrency < 1 {
		opts.BulkConcurrency = 1
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{store: store, scraper: scr, log: log, opts: opts}
}

// ImportURL imports one page. The row is created as PROCESSING and is
// COMPLETED or FAILED by the time it is returned. Scrape failures are
// recorded on the row, not returned.
func (s *Service) ImportURL(ctx context.Context, user *models.User, rawURL string) (*models.SavedItem, error) {
	if user == nil {
		return nil, ErrNoUser
	}
	req := models.ImportRequest{URL: rawURL}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	item := &models.SavedItem{URL: req.URL, UserID: user.ID, Status: models.StatusProcessing}
	if err := s.store.CreateSavedItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to create saved item: %w", err)
	}

	return s.process(ctx, item)
}

// DiscoverLinks maps baseURL for candidate pages. Nothing is persisted.
func (s *Service) DiscoverLinks(ctx context.Context, user *models.User, baseURL, search string) ([]scraper.Link, error) {
	if user == nil {
		return nil, ErrNoUser
	}
	req := models.DiscoverRequest{URL: baseURL, Search: search}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	links, err := s.scraper.Map(ctx, req.URL, scraper.MapOptions{
		Limit:     s.opts.MapLimit,
		Search:    req.Search,
		Country:   s.opts.Country,
		Languages: s.opts.Languages,
	})
	if err != nil {
		s.log.Warn("Link discovery failed",
			logger.String("user_id", user.ID),
			logger.String("url", req.URL),
			logger.String("kind", string(scraper.KindOf(err))),
			logger.Error(err),
		)
		return nil, err
	}
	if len(links) > s.opts.MapLimit {
		links = links[:s.opts.MapLimit]
	}
	if links == nil {
		links = []scraper.Link{}
	}
	return links, nil
}

// BulkImport validates every URL before creating anything, then imports
// each one as its own PENDING item. With BulkConcurrency 1 the URLs are
// handled strictly in order.
func (s *Service) BulkImport(ctx context.Context, user *models.User, urls []string) (BulkResult, error) {
	if user == nil {
		return BulkResult{}, ErrNoUser
	}
	req := models.BulkImportRequest{URLs: urls}
	if err := req.Validate(); err != nil {
		return BulkResult{}, err
	}

	start := time.Now()
	log := s.log.With(logger.String("user_id", user.ID), logger.Int("count", len(req.URLs)))

	if s.opts.BulkConcurrency == 1 {
		for _, u := range req.URLs {
			if err := s.importPending(ctx, user, u); err != nil {
				return BulkResult{}, err
			}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.opts.BulkConcurrency)
		for _, u := range req.URLs {
			u := u
			g.Go(func() error {
				return s.importPending(gctx, user, u)
			})
		}
		if err := g.Wait(); err != nil {
			return BulkResult{}, err
		}
	}

	log.Info("Bulk import finished", logger.Duration("duration", time.Since(start)))
	return BulkResult{Count: len(req.URLs)}, nil
}

func (s *Service) importPending(ctx context.Context, user *models.User, u string) error {
	// 批次已中止时不再创建新条目
	if err := ctx.Err(); err != nil {
		return err
	}
	item := &models.SavedItem{URL: u, UserID: user.ID, Status: models.StatusPending}
	if err := s.store.CreateSavedItem(ctx, item); err != nil {
		return fmt.Errorf("failed to create saved item for %s: %w", u, err)
	}
	_, err := s.process(ctx, item)
	return err
}

// process scrapes item.URL and writes the terminal status.
func (s *Service) process(ctx context.Context, item *models.SavedItem) (*models.SavedItem, error) {
	log := s.log.With(
		logger.String("item_id", item.ID),
		logger.String("user_id", item.UserID),
		logger.String("url", item.URL),
	)

	start := time.Now()
	result, err := s.scraper.Scrape(ctx, item.URL, scraper.ScrapeOptions{
		Prompt:          s.opts.Prompt,
		OnlyMainContent: true,
	})
	// 请求已取消时仍需写入终态
	writeCtx := context.WithoutCancel(ctx)
	if err != nil {
		log.Warn("Scrape failed",
			logger.String("kind", string(scraper.KindOf(err))),
			logger.Duration("duration", time.Since(start)),
			logger.Error(err),
		)
		return s.fail(writeCtx, item.ID)
	}

	completed, err := s.store.CompleteSavedItem(writeCtx, item.ID, extractionFrom(result))
	if err != nil {
		if errors.Is(err, database.ErrNotPending) {
			return nil, fmt.Errorf("failed to complete saved item: %w", err)
		}
		log.Error("Failed to store extraction", logger.Error(err))
		return s.fail(writeCtx, item.ID)
	}
	log.Info("Scrape completed", logger.Duration("duration", time.Since(start)))
	return completed, nil
}

func (s *Service) fail(ctx context.Context, id string) (*models.SavedItem, error) {
	failed, err := s.store.FailSavedItem(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to mark saved item failed: %w", err)
	}
	return failed, nil
}

func extractionFrom(result *scraper.ScrapeResult) models.Extraction {
	var published any
	if result.JSON != nil {
		published = result.JSON["publishedAt"]
	}
	return models.Extraction{
		Title:       scraper.OptionalString(result.Metadata.Title),
		Content:     scraper.OptionalString(result.Markdown),
		OGImage:     scraper.OptionalString(result.Metadata.OGImage),
		Author:      scraper.StringField(result.JSON, "author"),
		PublishedAt: scraper.ParsePublishedAt(published),
	}
}
