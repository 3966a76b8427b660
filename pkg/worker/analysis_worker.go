package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/document-extractor/internal/models"
	"github.com/feichai0017/document-extractor/pkg/logger"
	"github.com/feichai0017/document-extractor/pkg/queue"
)

// Runner 执行一个分析任务
type Runner interface {
	Run(ctx context.Context, job models.Job) error
}

type AnalysisWorker struct {
	BaseWorker
	runner Runner
}

func NewAnalysisWorker(cfg *Config, runner Runner, log logger.Logger) *AnalysisWorker {
	queues := cfg.Queues
	if len(queues) == 0 {
		queues = map[string]int{queue.DefaultQueue: 1}
	}

	server := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues:      queues,
			Logger:      newAsynqLogger(log),
		},
	)

	w := &AnalysisWorker{
		BaseWorker: BaseWorker{
			server: server,
			mux:    asynq.NewServeMux(),
			logger: log,
		},
		runner: runner,
	}

	// 注册任务处理器
	w.registerHandlers()
	return w
}

func (w *AnalysisWorker) registerHandlers() {
	w.mux.HandleFunc(queue.TaskTypeAnalysisRun, w.handleAnalysisRun)
}

func (w *AnalysisWorker) handleAnalysisRun(ctx context.Context, t *asynq.Task) error {
	job, err := queue.ParseJob(t)
	if err != nil {
		w.logger.Error("Invalid analysis task",
			logger.String("payload", string(t.Payload())),
			logger.Error(err),
		)
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	w.logger.Info("Processing analysis task",
		logger.TaskID(job.TaskID),
		logger.String("template", job.Template),
		logger.Bool("streaming", job.Streaming),
	)

	if err := w.runner.Run(ctx, job); err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	return nil
}

func (w *AnalysisWorker) Start(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}

	go func() {
		<-ctx.Done()
		w.Stop()
	}()

	return nil
}
