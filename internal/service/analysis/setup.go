package analysis

import (
	"fmt"

	"github.com/feichai0017/document-extractor/config"
	"github.com/feichai0017/document-extractor/internal/inference"
	"github.com/feichai0017/document-extractor/internal/metrics"
	"github.com/feichai0017/document-extractor/internal/normalizer"
	"github.com/feichai0017/document-extractor/internal/store"
	"github.com/feichai0017/document-extractor/internal/template"
	"github.com/feichai0017/document-extractor/pkg/logger"
	"github.com/feichai0017/document-extractor/pkg/queue"
	"github.com/feichai0017/document-extractor/pkg/storage"
	"github.com/feichai0017/document-extractor/pkg/storage/local"
)

// GetService 按应用配置组装服务
func GetService(cfg *config.AppConfig, log logger.Logger, m *metrics.Metrics) (*Service, error) {
	// 任务存储
	tasks, err := store.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize task store: %w", err)
	}

	// 模板
	registry, err := template.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}
	if cfg.Upload.TemplatesDir != "" {
		if err := registry.LoadDir(cfg.Upload.TemplatesDir); err != nil {
			return nil, fmt.Errorf("failed to load templates: %w", err)
		}
	}
	if !registry.Has(cfg.Upload.DefaultTemplate) {
		return nil, fmt.Errorf("default template %q is not registered", cfg.Upload.DefaultTemplate)
	}

	// 上传目录与结果归档
	uploads, err := local.NewLocalStorage(cfg.Upload.Dir, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize upload storage: %w", err)
	}
	archive, err := storage.NewStorage(cfg.Archive, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize archive storage: %w", err)
	}

	opts := []Option{WithMetrics(m)}
	stage := false
	if cfg.Tasks.Dispatcher == "asynq" {
		opts = append(opts, WithDispatcher(queue.GetQueue(cfg)))
		if archive != nil {
			stage = true
		} else {
			log.Warn("Uploads are not staged, worker must share the upload directory",
				logger.String("dir", cfg.Upload.Dir),
			)
		}
	}

	log.Info("Analysis service configured",
		logger.String("store", cfg.Tasks.Store),
		logger.String("dispatcher", cfg.Tasks.Dispatcher),
		logger.String("archive", cfg.Archive.Backend),
		logger.String("model", cfg.Inference.Model),
		logger.Int("templates", len(registry.Names())),
	)

	return NewService(
		tasks,
		registry,
		normalizer.New(cfg.Normalizer, log.Named("normalizer")),
		inference.NewClient(cfg.Inference, log.Named("inference")),
		uploads,
		archive,
		log,
		&ServiceConfig{
			DefaultTemplate:    cfg.Upload.DefaultTemplate,
			MaxFileSize:        cfg.Upload.MaxFileSize,
			AllowedExtensions:  cfg.Upload.AllowedExtensions,
			StreamPollInterval: cfg.Tasks.StreamPollInterval,
			RunTimeout:         cfg.Tasks.RunTimeout,
			Retention:          cfg.Archive.Retention,
			StageUploads:       stage,
		},
		opts...,
	), nil
}
