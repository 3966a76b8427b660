// Package analysis 编排一次文档分析：接收上传、登记任务、后台执行并通知订阅者。
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/document-extractor/internal/inference"
	"github.com/feichai0017/document-extractor/internal/metrics"
	"github.com/feichai0017/document-extractor/internal/models"
	"github.com/feichai0017/document-extractor/internal/normalizer"
	"github.com/feichai0017/document-extractor/internal/reconcile"
	"github.com/feichai0017/document-extractor/internal/store"
	"github.com/feichai0017/document-extractor/internal/template"
	"github.com/feichai0017/document-extractor/internal/utils/validator"
	"github.com/feichai0017/document-extractor/pkg/logger"
	"github.com/feichai0017/document-extractor/pkg/storage"
	"github.com/feichai0017/document-extractor/pkg/storage/local"
)

// Normalizer 把上传文件转换为模型输入
type Normalizer interface {
	Normalize(ctx context.Context, path string) (*normalizer.Payload, error)
}

// Analyzer 多模态模型调用
type Analyzer interface {
	Analyze(ctx context.Context, templateRaw string, payload *normalizer.Payload) (string, error)
	AnalyzeStream(ctx context.Context, templateRaw string, payload *normalizer.Payload, onDelta func(string) error) error
}

// Dispatcher 把后台执行单元交给执行者
type Dispatcher interface {
	Dispatch(ctx context.Context, job models.Job) error
}

type Service struct {
	store      store.Store
	templates  *template.Registry
	normalizer Normalizer
	analyzer   Analyzer
	validator  *validator.UploadValidator
	uploads    *local.LocalStorage
	archive    storage.Storage
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	logger     logger.Logger
	config     *ServiceConfig
	now        func() time.Time

	mu      sync.Mutex
	signals map[string]chan struct{}
}

type ServiceConfig struct {
	DefaultTemplate    string
	MaxFileSize        int64
	AllowedExtensions  []string
	StreamPollInterval time.Duration
	RunTimeout         time.Duration
	Retention          time.Duration
	// StageUploads 上传文件同时写入归档存储，worker 不共享上传目录时开启
	StageUploads       bool
}

type Option func(*Service)

// WithDispatcher 替换默认的进程内执行
func WithDispatcher(d Dispatcher) Option {
	return func(s *Service) { s.dispatcher = d }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// SubmitRequest 一次上传
type SubmitRequest struct {
	Filename  string
	Size      int64
	Content   io.ReadSeeker
	Template  string
	Streaming bool
}

// ArchivedResult 归档到 results/<taskId>.json 的内容
type ArchivedResult struct {
	TaskID      string            `json:"taskId"`
	Template    string            `json:"template"`
	Filename    string            `json:"filename"`
	Status      models.TaskStatus `json:"status"`
	Result      any               `json:"result"`
	Error       string            `json:"error,omitempty"`
	StartedAt   time.Time         `json:"startedAt"`
	FinishedAt  time.Time         `json:"finishedAt"`
	ProcessTime float64           `json:"processTime"`
}

func NewService(
	tasks store.Store,
	templates *template.Registry,
	norm Normalizer,
	analyzer Analyzer,
	uploads *local.LocalStorage,
	archive storage.Storage,
	log logger.Logger,
	cfg *ServiceConfig,
	opts ...Option,
) *Service {
	if cfg == nil {
		cfg = &ServiceConfig{
			DefaultTemplate:    "purchase",
			MaxFileSize:        16 * 1024 * 1024, // 16MB
			AllowedExtensions:  []string{".jpg", ".jpeg", ".png", ".pdf", ".doc", ".docx"},
			StreamPollInterval: 5 * time.Second,
			RunTimeout:         30 * time.Minute,
			Retention:          7 * 24 * time.Hour,
		}
	}
	if cfg.StreamPollInterval <= 0 {
		cfg.StreamPollInterval = 5 * time.Second
	}

	s := &Service{
		store:      tasks,
		templates:  templates,
		normalizer: norm,
		analyzer:   analyzer,
		validator: validator.NewUploadValidator(log, &validator.ValidatorConfig{
			MaxFileSize:       cfg.MaxFileSize,
			AllowedExtensions: cfg.AllowedExtensions,
		}),
		uploads: uploads,
		archive: archive,
		logger:  log,
		config:  cfg,
		now:     time.Now,
		signals: make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dispatcher == nil {
		s.dispatcher = NewLocalDispatcher(s.Run, log)
	}
	return s
}

// Templates 模板注册表
func (s *Service) Templates() *template.Registry {
	return s.templates
}

// Submit 校验并保存上传文件，登记任务后交给后台执行，立即返回
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*models.Task, error) {
	s.logger.Info("Received document",
		logger.String("filename", req.Filename),
		logger.Int64("size", req.Size),
		logger.String("template", req.Template),
		logger.Bool("streaming", req.Streaming),
	)

	result, err := s.validator.Validate(req.Filename, req.Size, req.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to validate upload: %w", err)
	}
	if err := result.Err(); err != nil {
		s.logger.Warn("Upload rejected",
			logger.String("filename", req.Filename),
			logger.Error(err),
		)
		return nil, err
	}

	name := req.Template
	if name == "" {
		name = s.config.DefaultTemplate
	}
	if !s.templates.Has(name) {
		s.logger.Warn("Unknown template, using default",
			logger.String("template", name),
			logger.String("default", template.DefaultName),
		)
	}
	tpl := s.templates.Lookup(name)

	taskID := uuid.New().String()
	key := taskID + "_" + result.FileInfo.SafeName
	if _, err := s.uploads.Store(ctx, req.Content, key); err != nil {
		return nil, fmt.Errorf("failed to save upload: %w", err)
	}
	path, err := s.uploads.Path(key)
	if err != nil {
		return nil, fmt.Errorf("failed to save upload: %w", err)
	}

	task := &models.Task{
		ID:        taskID,
		Status:    models.StatusProcessing,
		Template:  tpl.Name,
		Streaming: req.Streaming,
		FilePath:  path,
		Filename:  req.Filename,
		StartedAt: s.now(),
	}
	if req.Streaming {
		// 流式任务从空白实例开始逐步填充
		task.Result = tpl.Blank()
	}

	var staged string
	if s.config.StageUploads && s.archive != nil {
		if staged, err = s.stageUpload(ctx, key); err != nil {
			return nil, err
		}
	}

	s.registerSignal(taskID)
	if err := s.store.Create(ctx, task); err != nil {
		s.releaseSignal(taskID)
		return nil, fmt.Errorf("failed to register task: %w", err)
	}
	s.metrics.TaskSubmitted(tpl.Name, req.Streaming)

	job := models.Job{
		TaskID:    taskID,
		FilePath:  path,
		UploadKey: staged,
		Template:  tpl.Name,
		Streaming: req.Streaming,
	}
	if err := s.dispatcher.Dispatch(ctx, job); err != nil {
		s.logger.Error("Failed to dispatch task", logger.TaskID(taskID), logger.Error(err))
		// 客户端拿不到任务 ID，任务不会再被订阅
		if derr := s.store.Delete(context.WithoutCancel(ctx), taskID); derr != nil {
			s.logger.Error("Failed to remove undispatched task", logger.TaskID(taskID), logger.Error(derr))
		}
		s.releaseSignal(taskID)
		s.dropStaged(context.WithoutCancel(ctx), job)
		return nil, fmt.Errorf("failed to dispatch task: %w", err)
	}

	s.logger.Info("Task submitted",
		logger.TaskID(taskID),
		logger.String("template", tpl.Name),
		logger.String("path", path),
	)
	return task, nil
}

// Run 后台执行单元：转换文档、调用模型、写入终止状态。
// 处理失败记录在任务上，只有任务状态无法写回时才返回错误。
func (s *Service) Run(ctx context.Context, job models.Job) error {
	log := s.logger.With(logger.TaskID(job.TaskID))
	defer s.signalDone(job.TaskID)

	s.metrics.TaskStarted()
	log.Info("Starting analysis",
		logger.String("template", job.Template),
		logger.Bool("streaming", job.Streaming),
	)

	runCtx := ctx
	if s.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.config.RunTimeout)
		defer cancel()
	}

	result, runErr := s.execute(runCtx, job)
	switch {
	case runErr == nil:
	case inference.IsCircuitOpen(runErr):
		s.metrics.InferenceRejected()
		log.Warn("Inference circuit open, task failed fast", logger.Error(runErr))
	default:
		log.Error("Analysis failed", logger.Error(runErr))
	}

	task, err := s.finish(context.WithoutCancel(ctx), job.TaskID, result, runErr)
	if err != nil {
		s.metrics.TaskFinished(string(models.StatusError), 0)
		log.Error("Failed to record task result", logger.Error(err))
		return fmt.Errorf("failed to record result for task %s: %w", job.TaskID, err)
	}

	elapsed := task.FinishedAt.Sub(task.StartedAt)
	s.metrics.TaskFinished(string(task.Status), elapsed)
	log.Info("Analysis finished",
		logger.String("status", string(task.Status)),
		logger.Duration("elapsed", elapsed),
	)

	s.archiveResult(context.WithoutCancel(ctx), task)
	s.dropStaged(context.WithoutCancel(ctx), job)
	return nil
}

func (s *Service) execute(ctx context.Context, job models.Job) (any, error) {
	tpl := s.templates.Lookup(job.Template)

	path, release, err := s.localUpload(ctx, job)
	if err != nil {
		return nil, err
	}
	defer release()

	payload, err := s.normalizer.Normalize(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to convert document: %w", err)
	}

	if !job.Streaming {
		text, err := s.analyzer.Analyze(ctx, tpl.Raw, payload)
		if err != nil {
			return nil, err
		}
		return text, nil
	}

	var acc strings.Builder
	instance := tpl.Blank()
	err = s.analyzer.AnalyzeStream(ctx, tpl.Raw, payload, func(delta string) error {
		acc.WriteString(delta)
		instance = reconcile.Reconcile(instance, acc.String())
		next := instance
		return s.store.Update(ctx, job.TaskID, func(t *models.Task) error {
			if t.Status.Terminal() {
				return models.ErrTaskFinished
			}
			t.Result = next
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

// finish 写入终止状态，只会成功一次
func (s *Service) finish(ctx context.Context, id string, result any, runErr error) (*models.Task, error) {
	var final *models.Task
	err := s.store.Update(ctx, id, func(t *models.Task) error {
		if t.Status.Terminal() {
			return models.ErrTaskFinished
		}
		t.FinishedAt = s.now()
		if runErr != nil {
			t.Status = models.StatusError
			t.Error = runErr.Error()
		} else {
			t.Status = models.StatusCompleted
			t.Result = result
		}
		cp := *t
		final = &cp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return final, nil
}

// Wait 阻塞直到任务进入终止状态
func (s *Service) Wait(ctx context.Context, id string) (*models.Task, error) {
	done := s.completion(id)
	ticker := time.NewTicker(s.config.StreamPollInterval)
	defer ticker.Stop()

	for {
		task, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.Status.Terminal() {
			return task, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-done:
			done = nil
		case <-ticker.C:
		}
	}
}

// Result 读取归档的最终结果
func (s *Service) Result(ctx context.Context, id string) (*ArchivedResult, error) {
	if s.archive == nil {
		return nil, models.ErrResultNotFound
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrResultNotFound
	}

	rc, err := s.archive.Get(ctx, ResultKey(id))
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, models.ErrResultNotFound
		}
		return nil, fmt.Errorf("failed to read result: %w", err)
	}
	defer rc.Close()

	var out ArchivedResult
	if err := json.NewDecoder(rc).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	return &out, nil
}

// ResultKey 归档对象的 key
func ResultKey(id string) string {
	return "results/" + id + ".json"
}

func (s *Service) archiveResult(ctx context.Context, task *models.Task) {
	if s.archive == nil {
		return
	}

	record := ArchivedResult{
		TaskID:      task.ID,
		Template:    task.Template,
		Filename:    task.Filename,
		Status:      task.Status,
		Result:      task.Result,
		Error:       task.Error,
		StartedAt:   task.StartedAt,
		FinishedAt:  task.FinishedAt,
		ProcessTime: task.Elapsed(task.FinishedAt),
	}
	if task.Status == models.StatusCompleted {
		record.Result = FinalResult(task.Result)
	}

	data, err := json.Marshal(record)
	if err != nil {
		s.logger.Error("Failed to marshal result", logger.TaskID(task.ID), logger.Error(err))
		return
	}
	if _, err := s.archive.Store(ctx, bytes.NewReader(data), ResultKey(task.ID)); err != nil {
		s.logger.Error("Failed to archive result", logger.TaskID(task.ID), logger.Error(err))
		return
	}
	s.logger.Info("Result archived",
		logger.TaskID(task.ID),
		logger.String("key", ResultKey(task.ID)),
	)
}

// FinalResult 完成事件中的结果：原始文本能解析时用解析结果，否则包装为 raw_result
func FinalResult(v any) any {
	switch val := v.(type) {
	case nil:
		return map[string]any{}
	case string:
		var parsed any
		if err := json.Unmarshal([]byte(val), &parsed); err == nil {
			return parsed
		}
		return map[string]any{"raw_result": val}
	default:
		return val
	}
}

// CleanupExpired 删除超过保留期的上传文件和归档结果
func (s *Service) CleanupExpired(ctx context.Context) error {
	if s.config.Retention <= 0 {
		return nil
	}
	threshold := s.now().Add(-s.config.Retention)

	if err := s.uploads.CleanupBefore(ctx, threshold); err != nil {
		return fmt.Errorf("failed to clean up uploads: %w", err)
	}
	if s.archive != nil {
		if err := s.archive.CleanupBefore(ctx, threshold); err != nil {
			return fmt.Errorf("failed to clean up archive: %w", err)
		}
	}
	return nil
}

// RunJanitor 按固定间隔清理过期文件，直到 ctx 结束
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.CleanupExpired(ctx); err != nil {
				s.logger.Error("Cleanup failed", logger.Error(err))
			}
		}
	}
}

// Close 等待进程内的任务执行结束，或关闭队列连接
func (s *Service) Close(ctx context.Context) error {
	switch d := s.dispatcher.(type) {
	case *LocalDispatcher:
		return d.Wait(ctx)
	case io.Closer:
		return d.Close()
	}
	return nil
}

func (s *Service) registerSignal(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals[id] = make(chan struct{})
}

// signalDone 关闭完成信号；重复调用无影响
func (s *Service) signalDone(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.signals[id]
	if !ok {
		return
	}
	select {
	case <-ch:
	default:
		close(ch)
	}
}

// completion 返回任务的完成信号。任务在其他进程提交时返回 nil，调用方只能依赖轮询。
func (s *Service) completion(id string) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.signals[id]
	if !ok {
		return nil
	}
	return ch
}

func (s *Service) releaseSignal(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.signals, id)
}
