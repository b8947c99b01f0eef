// Package router assembles the HTTP surface shared by the serverless handler
// and the standalone server.
package router

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"read-library-backend/pkg/config"
	"read-library-backend/pkg/database"
	"read-library-backend/pkg/handlers"
	"read-library-backend/pkg/importer"
	"read-library-backend/pkg/logger"
	customMiddleware "read-library-backend/pkg/middleware"
	"read-library-backend/pkg/scraper"
	"read-library-backend/pkg/utils"
)

// New 创建路由器，挂载全局中间件与全部路由
func New(cfg *config.Config, db database.DatabaseInterface, scr scraper.Scraper, log logger.Logger) http.Handler {
	router := chi.NewRouter()
	setupMiddleware(router, cfg, log)
	setupRoutes(router, cfg, db, scr, log)
	return router
}

// setupMiddleware 设置全局中间件
func setupMiddleware(router *chi.Mux, cfg *config.Config, log logger.Logger) {
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	// Normalize path and restore scheme/host before logging and routing
	router.Use(customMiddleware.Normalize())
	router.Use(customMiddleware.RequestLogger(log))
	router.Use(customMiddleware.Recovery(cfg, log))

	router.Use(customMiddleware.CORS(cfg))
	router.Use(middleware.Timeout(cfg.RequestTimeout))
	router.Use(middleware.Compress(5))

	if cfg.IsDevelopment() {
		router.Use(middleware.Heartbeat("/ping"))
	}
}

// setupRoutes 设置所有API路由
func setupRoutes(router *chi.Mux, cfg *config.Config, db database.DatabaseInterface, scr scraper.Scraper, log logger.Logger) {
	jwtService := utils.NewJWTService(cfg.JWTSecret)
	svc := importer.NewService(db, scr, log, importer.Options{
		Prompt:          cfg.ExtractPrompt,
		MapLimit:        cfg.MapLimit,
		Country:         cfg.MapCountry,
		Languages:       cfg.MapLanguages,
		BulkConcurrency: cfg.BulkConcurrency,
	})

	authHandler := handlers.NewAuthHandler(cfg, db, jwtService, log)
	importHandler := handlers.NewImportHandler(svc, log)
	itemsHandler := handlers.NewItemsHandler(db, log)

	// 健康检查端点
	router.Get("/", authHandler.HealthCheck)

	if cfg.IsDevelopment() {
		router.Get("/debug/db-pool", func(w http.ResponseWriter, r *http.Request) {
			utils.WriteSuccessResponse(w, database.ConnectionStats())
		})
	}

	router.Route("/api", func(r chi.Router) {
		r.Use(customMiddleware.MaxBodySize(customMiddleware.DefaultMaxBodyBytes))
		r.Use(customMiddleware.ContentTypeJSON)

		r.Post("/auth/refresh", authHandler.RefreshToken)

		r.Group(func(r chi.Router) {
			r.Use(customMiddleware.Auth(jwtService, log))

			r.Route("/import", func(r chi.Router) {
				r.Post("/", importHandler.ImportURL)
				r.Post("/discover", importHandler.DiscoverLinks)
				r.Post("/bulk", importHandler.BulkImport)
			})

			r.Route("/items", func(r chi.Router) {
				r.Get("/", itemsHandler.ListItems)
				r.Get("/{id}", itemsHandler.GetItem)
				r.Delete("/{id}", itemsHandler.DeleteItem)
			})
		})
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteNotFoundResponse(w, fmt.Sprintf("Route not found: %s %s", r.Method, r.URL.Path))
	})

	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteErrorResponseWithCode(w, http.StatusMethodNotAllowed, utils.CodeMethod,
			fmt.Sprintf("Method %s not allowed for %s", r.Method, r.URL.Path), "")
	})
}
