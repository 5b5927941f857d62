package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/voxarena/callctl/adapters/backend"
	"github.com/voxarena/callctl/adapters/llm"
	"github.com/voxarena/callctl/domain/repositories"
	"github.com/voxarena/callctl/internal/bootstrap"
	"github.com/voxarena/callctl/internal/config"
	"github.com/voxarena/callctl/internal/gateway"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	// Create Echo instance
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Backend client covers sessions, transcripts, transfers, and
	// telephony
	client := backend.NewClient(cfg.APIURL, logger)

	// Post-call analysis is optional
	var analyzer repositories.CallAnalyzer
	if cfg.GeminiAPIKey != "" {
		gemini, err := llm.NewGeminiAnalyzer(cfg.GeminiAPIKey, logger)
		if err != nil {
			logger.Warn("Call analysis disabled", zap.Error(err))
		} else {
			analyzer = gemini
		}
	}

	bootstrapper := bootstrap.New(cfg.LiveKitURL, cfg.LiveKitAPIKey, cfg.LiveKitAPISecret, client, logger)

	gw := gateway.New(bootstrapper, client, client, client, analyzer, logger)
	gw.InitRoutes(e)
	defer gw.Close()

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("port", cfg.Port))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
