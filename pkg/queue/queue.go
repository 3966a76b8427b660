// pkg/queue/queue.go
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/document-extractor/config"
	"github.com/feichai0017/document-extractor/internal/models"
)

// TaskType 定义任务类型
const (
	TaskTypeAnalysisRun = "analysis:run"
)

// DefaultQueue 分析任务使用的队列
const DefaultQueue = "default"

// AsynqQueue 把分析任务写入 asynq，由 worker 进程执行
type AsynqQueue struct {
	client *asynq.Client
	config *QueueConfig
}

// QueueConfig 定义队列配置
type QueueConfig struct {
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	ProcessTimeout time.Duration
	Concurrency    int
}

// RedisOpt asynq 的连接参数
func (c *QueueConfig) RedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}

// ConfigFrom 从应用配置生成队列配置
func ConfigFrom(cfg *config.AppConfig) *QueueConfig {
	return &QueueConfig{
		RedisAddr:      cfg.Redis.Addr,
		RedisPassword:  cfg.Redis.Password,
		RedisDB:        cfg.Redis.DB,
		ProcessTimeout: cfg.Tasks.RunTimeout,
		Concurrency:    cfg.Tasks.Concurrency,
	}
}

// GetQueue 获取队列实例
func GetQueue(cfg *config.AppConfig) *AsynqQueue {
	return NewAsynqQueue(ConfigFrom(cfg))
}

// NewAsynqQueue 创建新的队列实例
func NewAsynqQueue(cfg *QueueConfig) *AsynqQueue {
	return &AsynqQueue{
		client: asynq.NewClient(cfg.RedisOpt()),
		config: cfg,
	}
}

// NewAnalysisTask 构造分析任务；不自动重试，失败由任务状态体现
func NewAnalysisTask(job models.Job, timeout time.Duration) (*asynq.Task, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	opts := []asynq.Option{
		asynq.MaxRetry(0),
		asynq.TaskID(job.TaskID),
		asynq.Queue(DefaultQueue),
	}
	if timeout > 0 {
		opts = append(opts, asynq.Timeout(timeout))
	}
	return asynq.NewTask(TaskTypeAnalysisRun, payload, opts...), nil
}

// ParseJob 从 asynq 任务中取出 Job
func ParseJob(t *asynq.Task) (models.Job, error) {
	var job models.Job
	if err := json.Unmarshal(t.Payload(), &job); err != nil {
		return job, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	if job.TaskID == "" || job.FilePath == "" {
		return job, fmt.Errorf("invalid job: missing required fields")
	}
	return job, nil
}

// Enqueue 将任务加入队列
func (q *AsynqQueue) Enqueue(ctx context.Context, job models.Job) error {
	t, err := NewAnalysisTask(job, q.config.ProcessTimeout)
	if err != nil {
		return err
	}
	if _, err := q.client.EnqueueContext(ctx, t); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// Dispatch 实现 analysis.Dispatcher
func (q *AsynqQueue) Dispatch(ctx context.Context, job models.Job) error {
	return q.Enqueue(ctx, job)
}

func (q *AsynqQueue) Close() error {
	return q.client.Close()
}
