package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shahuldxb/TradeDiscrepancyFinder-sub000/config"
	"github.com/shahuldxb/TradeDiscrepancyFinder-sub000/handler"
	"github.com/shahuldxb/TradeDiscrepancyFinder-sub000/middleware"
	"github.com/shahuldxb/TradeDiscrepancyFinder-sub000/pipeline"
	"github.com/shahuldxb/TradeDiscrepancyFinder-sub000/pkg/logger"
	"github.com/shahuldxb/TradeDiscrepancyFinder-sub000/pkg/refdata"
	"github.com/shahuldxb/TradeDiscrepancyFinder-sub000/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	slog.Info("configuration loaded successfully")

	// Persistence
	var store service.Store
	switch cfg.Store.Driver {
	case "memory":
		store = service.NewMemoryStore(&cfg.Store)
		slog.Info("using in-memory store", "max_sets", cfg.Store.MaxSets)
	default:
		gormStore, err := service.NewGormStore(&cfg.Store)
		if err != nil {
			slog.Error("failed to open store", "error", err)
			os.Exit(1)
		}
		store = gormStore
		slog.Info("using sqlite store", "path", cfg.Store.Path)
	}

	// Raw file storage
	minioSvc, err := service.NewMinioService(&cfg.Minio)
	if err != nil {
		slog.Error("failed to initialize MINIO service", "error", err)
		os.Exit(1)
	}
	if err := minioSvc.EnsureBucket(context.Background()); err != nil {
		slog.Error("failed to ensure MINIO bucket", "error", err)
		os.Exit(1)
	}

	// External text-extraction service
	textractSvc := service.NewTextractService(&cfg.Textract)

	// Reference catalogs
	catalog := refdata.NewCatalog()
	if cfg.Refdata.FieldCatalogPath != "" {
		if err := catalog.LoadFieldCatalog(cfg.Refdata.FieldCatalogPath); err != nil {
			slog.Error("failed to load field catalog", "error", err)
			os.Exit(1)
		}
	}
	if cfg.Refdata.ComplianceRulesPath != "" {
		if err := catalog.LoadComplianceRules(cfg.Refdata.ComplianceRulesPath); err != nil {
			slog.Error("failed to load compliance rules", "error", err)
			os.Exit(1)
		}
	}

	// Analysis pipeline
	orchestrator := pipeline.NewOrchestrator(store, catalog, nil)
	defer orchestrator.Registry().Close()

	// Initialize handlers
	authHandler := handler.NewAuthHandler(cfg)
	documentHandler := handler.NewDocumentHandler(minioSvc, textractSvc, store)
	analysisHandler := handler.NewAnalysisHandler(orchestrator, store)
	callbackHandler := handler.NewCallbackHandler(textractSvc, store)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New() // Use New() instead of Default() to avoid default middleware

	// Add custom middleware
	router.Use(middleware.RequestID())                 // Request ID for tracing
	router.Use(middleware.Recovery())                  // Panic recovery
	router.Use(middleware.RequestLogger())             // Access logging
	router.Use(corsMiddleware())                       // CORS
	router.Use(middleware.RateLimit(100, time.Minute)) // Rate limiting: 100 requests per minute

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	// Public routes
	api := router.Group("/api")
	{
		api.POST("/auth/login", authHandler.Login)
		api.POST("/textract/callback", callbackHandler.HandleCallback)
	}

	// Protected routes
	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(&cfg.Auth))
	{
		protected.GET("/auth/me", authHandler.GetCurrentUser)
		protected.POST("/documents/upload", documentHandler.Upload)
		protected.PATCH("/documents/:id/type", documentHandler.Reclassify)
		protected.GET("/sets", documentHandler.ListSets)
		protected.GET("/sets/:id", documentHandler.GetSet)
		protected.DELETE("/sets/:id", documentHandler.DeleteSet)
		protected.POST("/sets/:id/analysis", analysisHandler.Start)
		protected.GET("/sets/:id/report", analysisHandler.GetReport)
		protected.GET("/sets/:id/tasks", analysisHandler.GetTasks)
		protected.GET("/workers", analysisHandler.GetWorkers)
	}

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server exited gracefully")
}

// corsMiddleware handles CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, PATCH, DELETE")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
