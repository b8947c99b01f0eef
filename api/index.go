package handler

import (
	"net/http"
	"sync"

	"read-library-backend/pkg/config"
	"read-library-backend/pkg/database"
	"read-library-backend/pkg/logger"
	"read-library-backend/pkg/router"
	"read-library-backend/pkg/scraper"
	"read-library-backend/pkg/utils"
)

// Handler 是Vercel函数的入口点
// 这个函数实现了"单体路由模式"，将所有API端点集中在一个Chi路由器中管理
func Handler(w http.ResponseWriter, r *http.Request) {
	cfg := config.GetCached()
	if err := cfg.Validate(); err != nil {
		utils.WriteInternalServerErrorResponse(w, "Configuration error: "+err.Error())
		return
	}

	log := getLogger(cfg)

	// 连接由优化器管理，warm 调用间复用
	db, err := database.GetOptimizedDatabase(router.DatabaseConfig(cfg), log)
	if err != nil {
		log.Error("Database unavailable", logger.Error(err))
		utils.WriteInternalServerErrorResponse(w, "Database unavailable")
		return
	}

	scr, err := getScraper(cfg, log)
	if err != nil {
		log.Error("Scraper unavailable", logger.Error(err))
		utils.WriteInternalServerErrorResponse(w, "Scraper unavailable")
		return
	}

	router.New(cfg, db, scr, log).ServeHTTP(w, r)
}

var (
	logOnce   sync.Once
	appLogger logger.Logger

	scraperOnce sync.Once
	appScraper  scraper.Scraper
	scraperErr  error
)

func getLogger(cfg *config.Config) logger.Logger {
	logOnce.Do(func() {
		l, err := logger.New(logger.Config{Level: cfg.LogLevel, Development: cfg.IsDevelopment()})
		if err != nil {
			l = logger.NewNop()
		}
		appLogger = l
	})
	return appLogger
}

func getScraper(cfg *config.Config, log logger.Logger) (scraper.Scraper, error) {
	scraperOnce.Do(func() {
		appScraper, scraperErr = router.NewScraper(cfg, log)
	})
	return appScraper, scraperErr
}
