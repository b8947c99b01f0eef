package router

import (
	"read-library-backend/pkg/config"
	"read-library-backend/pkg/database"
	"read-library-backend/pkg/logger"
	"read-library-backend/pkg/scraper"
)

// DatabaseConfig 从应用配置构造数据库配置
func DatabaseConfig(cfg *config.Config) database.DatabaseConfig {
	return database.DatabaseConfig{
		UseLocalDB:  cfg.UseLocalDB,
		LocalDBPath: cfg.LocalDBPath,
		PostgresDSN: cfg.PostgresDSN,
		SupabaseURL: cfg.SupabaseURL,
		SupabaseKey: cfg.SupabaseKey,
		Debug:       cfg.Debug,
	}
}

// NewScraper 有 Firecrawl 密钥时使用托管服务，否则退回本地 readability 抽取
func NewScraper(cfg *config.Config, log logger.Logger) (scraper.Scraper, error) {
	if cfg.FirecrawlAPIKey == "" {
		log.Warn("FIRECRAWL_API_KEY not set, using local readability scraper")
		return scraper.NewReadabilityScraper(cfg.ScrapeTimeout), nil
	}
	client, err := scraper.NewFirecrawlClient(cfg.FirecrawlBaseURL, cfg.FirecrawlAPIKey, cfg.ScrapeTimeout)
	if err != nil {
		return nil, err
	}
	return client, nil
}
