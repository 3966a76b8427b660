package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/feichai0017/document-extractor/config"
	"github.com/feichai0017/document-extractor/internal/metrics"
	"github.com/feichai0017/document-extractor/internal/service/analysis"
	"github.com/feichai0017/document-extractor/pkg/logger"
	"github.com/feichai0017/document-extractor/pkg/queue"
	"github.com/feichai0017/document-extractor/pkg/worker"
)

func main() {
	cfg, err := config.GetAppConfig()
	if err != nil {
		panic(err)
	}

	// 初始化日志
	log, err := logger.NewLogger(
		logger.WithLevel(cfg.Log.Level),
		logger.WithEncoding(cfg.Log.Encoding),
		logger.WithOutputPaths(cfg.Log.WorkerOutputPaths),
		logger.WithService("document-extractor-worker"),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if cfg.Tasks.Dispatcher != "asynq" {
		log.Error("Worker requires TASK_DISPATCHER=asynq", logger.String("dispatcher", cfg.Tasks.Dispatcher))
		os.Exit(1)
	}

	m := metrics.New("worker")

	// 创建分析服务
	svc, err := analysis.GetService(cfg, log, m)
	if err != nil {
		log.Error("Failed to create analysis service", logger.Error(err))
		os.Exit(1)
	}

	// 创建 worker
	qc := queue.ConfigFrom(cfg)
	analysisWorker := worker.NewAnalysisWorker(&worker.Config{
		RedisAddr:     qc.RedisAddr,
		RedisPassword: qc.RedisPassword,
		RedisDB:       qc.RedisDB,
		Concurrency:   qc.Concurrency,
	}, svc, log)

	// 创建上下文和取消函数
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动 worker
	if err := analysisWorker.Start(ctx); err != nil {
		log.Error("Failed to start worker", logger.Error(err))
		os.Exit(1)
	}

	// worker 的指标单独暴露
	if addr := cfg.Tasks.WorkerMetricsAddr; addr != "" {
		go func() {
			if err := http.ListenAndServe(addr, m.Handler()); err != nil {
				log.Error("Metrics server stopped", logger.Error(err))
			}
		}()
	}

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	// 优雅关闭
	log.Info("Shutting down worker...")
	analysisWorker.Stop()
	if err := svc.Close(ctx); err != nil {
		log.Warn("Failed to close analysis service", logger.Error(err))
	}
	log.Info("Worker stopped")
}
