package analysis

import (
	"context"
	"sync"

	"github.com/feichai0017/document-extractor/internal/models"
	"github.com/feichai0017/document-extractor/pkg/logger"
)

// RunFunc 执行一个后台单元
type RunFunc func(ctx context.Context, job models.Job) error

// LocalDispatcher 每个任务在当前进程中启动一个 goroutine
type LocalDispatcher struct {
	run    RunFunc
	logger logger.Logger
	wg     sync.WaitGroup
}

func NewLocalDispatcher(run RunFunc, log logger.Logger) *LocalDispatcher {
	return &LocalDispatcher{run: run, logger: log}
}

// Dispatch 任务不跟随请求的生命周期，使用独立的 context
func (d *LocalDispatcher) Dispatch(_ context.Context, job models.Job) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.run(context.Background(), job); err != nil {
			d.logger.Error("Background task failed",
				logger.TaskID(job.TaskID),
				logger.Error(err),
			)
		}
	}()
	return nil
}

// Wait 等待所有已派发的任务结束，或 ctx 结束
func (d *LocalDispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
