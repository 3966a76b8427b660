package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/document-extractor/api/handlers"
	"github.com/feichai0017/document-extractor/api/routes"
	"github.com/feichai0017/document-extractor/config"
	"github.com/feichai0017/document-extractor/internal/metrics"
	"github.com/feichai0017/document-extractor/internal/service/analysis"
	"github.com/feichai0017/document-extractor/pkg/logger"
)

func main() {
	cfg, err := config.GetAppConfig()
	if err != nil {
		panic(err)
	}

	// init logger
	log, err := logger.NewLogger(
		logger.WithLevel(cfg.Log.Level),
		logger.WithEncoding(cfg.Log.Encoding),
		logger.WithOutputPaths(cfg.Log.OutputPaths),
		logger.WithService("document-extractor"),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	m := metrics.New("server")

	// init analysis service
	svc, err := analysis.GetService(cfg, log, m)
	if err != nil {
		log.Fatal("Failed to get analysis service", logger.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.RunJanitor(ctx, cfg.Archive.CleanupInterval)

	// init handlers
	h := handlers.NewHandlers(svc, log)
	r := gin.New()
	r.Use(gin.Recovery())
	routes.SetupRoutes(r, h, m, log)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: r,
	}

	// start server
	go func() {
		log.Info("Server starting", logger.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", logger.Error(err))
		}
	}()

	// wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	cancel()

	// graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
	}
	if err := svc.Close(shutdownCtx); err != nil {
		log.Warn("Background tasks still running at shutdown", logger.Error(err))
	}
}
