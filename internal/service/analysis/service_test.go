package analysis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/document-extractor/internal/metrics"
	"github.com/feichai0017/document-extractor/internal/models"
	"github.com/feichai0017/document-extractor/internal/normalizer"
	"github.com/feichai0017/document-extractor/internal/store"
	"github.com/feichai0017/document-extractor/internal/template"
	"github.com/feichai0017/document-extractor/pkg/logger"
	"github.com/feichai0017/document-extractor/pkg/storage/local"
)

var pdfContent = []byte("%PDF-1.4\n%âãÏÓ\n1 0 obj\n<<>>\nendobj\n")

type fakeNormalizer struct {
	err      error
	mu       sync.Mutex
	paths    []string
	contents [][]byte
}

func (f *fakeNormalizer) Normalize(_ context.Context, path string) (*normalizer.Payload, error) {
	data, _ := os.ReadFile(path)
	f.mu.Lock()
	f.paths = append(f.paths, path)
	f.contents = append(f.contents, data)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &normalizer.Payload{Images: []normalizer.Image{{MIMEType: "image/jpeg", Data: "jpeg"}}}, nil
}

func (f *fakeNormalizer) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

// fakeAnalyzer 设置 gate 时，同步调用返回前、每段流式文本发送前都要从 gate 取一次
type fakeAnalyzer struct {
	text   string
	err    error
	deltas []string
	gate   chan struct{}
}

func (f *fakeAnalyzer) wait(ctx context.Context) error {
	if f.gate == nil {
		return nil
	}
	select {
	case <-f.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, _ string, _ *normalizer.Payload) (string, error) {
	if err := f.wait(ctx); err != nil {
		return "", err
	}
	return f.text, f.err
}

func (f *fakeAnalyzer) AnalyzeStream(ctx context.Context, _ string, _ *normalizer.Payload, onDelta func(string) error) error {
	for _, d := range f.deltas {
		if err := f.wait(ctx); err != nil {
			return err
		}
		if err := onDelta(d); err != nil {
			return err
		}
	}
	return f.err
}

// capturingDispatcher 只记录任务，不执行
type capturingDispatcher struct {
	mu   sync.Mutex
	jobs []models.Job
}

func (d *capturingDispatcher) Dispatch(_ context.Context, job models.Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, job)
	return nil
}

type failingDispatcher struct{}

func (failingDispatcher) Dispatch(context.Context, models.Job) error {
	return errors.New("redis unavailable")
}

type fixture struct {
	svc        *Service
	tasks      *store.MemoryStore
	norm       *fakeNormalizer
	uploadDir  string
	archiveDir string
}

func newFixture(t *testing.T, analyzer Analyzer, opts ...Option) *fixture {
	t.Helper()
	log := logger.NewTestLogger()

	registry, err := template.NewRegistry()
	require.NoError(t, err)
	require.NoError(t, registry.Register("order", `{"a": "名称", "items": [{"x": "数量"}]}`))

	uploadDir := filepath.Join(t.TempDir(), "uploads")
	uploads, err := local.NewLocalStorage(uploadDir, log)
	require.NoError(t, err)
	archiveDir := filepath.Join(t.TempDir(), "archive")
	archive, err := local.NewLocalStorage(archiveDir, log)
	require.NoError(t, err)

	f := &fixture{
		tasks:      store.NewMemoryStore(),
		norm:       &fakeNormalizer{},
		uploadDir:  uploadDir,
		archiveDir: archiveDir,
	}
	f.svc = NewService(f.tasks, registry, f.norm, analyzer, uploads, archive, log, &ServiceConfig{
		DefaultTemplate:    "purchase",
		MaxFileSize:        1024 * 1024,
		AllowedExtensions:  []string{".jpg", ".jpeg", ".png", ".pdf", ".doc", ".docx"},
		StreamPollInterval: 10 * time.Millisecond,
		RunTimeout:         time.Minute,
		Retention:          24 * time.Hour,
	}, opts...)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.svc.Close(ctx)
	})
	return f
}

func (f *fixture) submit(t *testing.T, tpl string, streaming bool) *models.Task {
	t.Helper()
	task, err := f.svc.Submit(context.Background(), SubmitRequest{
		Filename:  "采购单.pdf",
		Size:      int64(len(pdfContent)),
		Content:   bytes.NewReader(pdfContent),
		Template:  tpl,
		Streaming: streaming,
	})
	require.NoError(t, err)
	return task
}

func (f *fixture) wait(t *testing.T, id string) *models.Task {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	task, err := f.svc.Wait(ctx, id)
	require.NoError(t, err)
	return task
}

func (f *fixture) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.svc.Close(ctx))
}

func TestSubmitSavesUploadAndRegistersTask(t *testing.T) {
	f := newFixture(t, &fakeAnalyzer{text: `{"buyer":"甲公司"}`})

	task := f.submit(t, "", false)
	assert.Equal(t, models.StatusProcessing, task.Status)
	assert.Equal(t, "purchase", task.Template)
	assert.Nil(t, task.Result)
	assert.Equal(t, filepath.Join(f.uploadDir, task.ID+"_采购单.pdf"), task.FilePath)

	data, err := os.ReadFile(task.FilePath)
	require.NoError(t, err)
	assert.Equal(t, pdfContent, data)

	done := f.wait(t, task.ID)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.Equal(t, `{"buyer":"甲公司"}`, done.Result)
	assert.False(t, done.FinishedAt.IsZero())
	assert.Equal(t, []string{task.FilePath}, f.norm.calls())
}

func TestSubmitStreamingStartsFromBlankInstance(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, &fakeAnalyzer{deltas: []string{`{"a": "x"}`}, gate: gate})

	task := f.submit(t, "order", true)
	assert.Equal(t, map[string]any{"a": "", "items": []any{map[string]any{"x": ""}}}, task.Result)

	close(gate)
	f.wait(t, task.ID)
}

func TestSubmitUnknownTemplateFallsBackToDefault(t *testing.T) {
	f := newFixture(t, &fakeAnalyzer{text: "{}"})

	task := f.submit(t, "no_such_template", true)
	assert.Equal(t, template.DefaultName, task.Template)
	assert.Equal(t, map[string]any{}, task.Result)
	f.wait(t, task.ID)
}

func TestSubmitRejectsInvalidUpload(t *testing.T) {
	f := newFixture(t, &fakeAnalyzer{})

	cases := []struct {
		name     string
		filename string
		size     int64
	}{
		{"empty filename", "", 10},
		{"bad extension", "notes.txt", 10},
		{"too large", "scan.pdf", 2 * 1024 * 1024},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Submit(context.Background(), SubmitRequest{
				Filename: tc.filename,
				Size:     tc.size,
				Content:  bytes.NewReader(pdfContent),
			})
			assert.ErrorIs(t, err, models.ErrInvalidUpload)
		})
	}

	assert.Equal(t, 0, f.tasks.Len())
	entries, err := os.ReadDir(f.uploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSubmitDispatchFailureRemovesTask(t *testing.T) {
	f := newFixture(t, &fakeAnalyzer{}, WithDispatcher(failingDispatcher{}))

	_, err := f.svc.Submit(context.Background(), SubmitRequest{
		Filename: "scan.pdf",
		Size:     int64(len(pdfContent)),
		Content:  bytes.NewReader(pdfContent),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis unavailable")
	assert.Equal(t, 0, f.tasks.Len())
}

func TestRunRecordsNormalizeFailure(t *testing.T) {
	f := newFixture(t, &fakeAnalyzer{text: "{}"})
	f.norm.err = errors.New("pdftoppm exited with status 1")

	task := f.submit(t, "purchase", false)
	done := f.wait(t, task.ID)

	assert.Equal(t, models.StatusError, done.Status)
	assert.Equal(t, "failed to convert document: pdftoppm exited with status 1", done.Error)
}

func TestRunRecordsAnalyzerFailure(t *testing.T) {
	f := newFixture(t, &fakeAnalyzer{err: errors.New("inference request failed: 503")})

	task := f.submit(t, "purchase", false)
	done := f.wait(t, task.ID)

	assert.Equal(t, models.StatusError, done.Status)
	assert.Contains(t, done.Error, "503")
}

func TestRunStreamingReconcilesEachDelta(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, &fakeAnalyzer{
		deltas: []string{`{"a": "hel`, `lo", "items": [{"x": "1"}`, `, {"x": "2"}]}`},
		gate:   gate,
	})
	task := f.submit(t, "order", true)
	ctx := context.Background()

	gate <- struct{}{}
	gate <- struct{}{}
	// 第三次放行时第二段文本一定已经写回
	gate <- struct{}{}

	done := f.wait(t, task.ID)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.Equal(t, map[string]any{
		"a":     "hello",
		"items": []any{map[string]any{"x": "1"}, map[string]any{"x": "2"}},
	}, done.Result)

	_, err := f.tasks.Get(ctx, task.ID)
	assert.NoError(t, err)
}

func TestRunStreamingPartialResultVisible(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, &fakeAnalyzer{
		deltas: []string{`{"a": "hello", "items": [{"x": "1"}`, `]}`},
		gate:   gate,
	})
	task := f.submit(t, "order", true)

	gate <- struct{}{}
	require.Eventually(t, func() bool {
		cur, err := f.tasks.Get(context.Background(), task.ID)
		if err != nil {
			return false
		}
		m, ok := cur.Result.(map[string]any)
		return ok && m["a"] == "hello"
	}, 2*time.Second, 5*time.Millisecond)

	cur, err := f.tasks.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, cur.Status)
	assert.Equal(t, []any{map[string]any{"x": "1"}}, cur.Result.(map[string]any)["items"])

	gate <- struct{}{}
	f.wait(t, task.ID)
}

func TestRunMissingTask(t *testing.T) {
	f := newFixture(t, &fakeAnalyzer{text: "{}"})

	err := f.svc.Run(context.Background(), models.Job{TaskID: "missing", Template: "purchase"})
	assert.ErrorIs(t, err, models.ErrTaskNotFound)
}

func TestResultIsArchived(t *testing.T) {
	f := newFixture(t, &fakeAnalyzer{text: `{"buyer":"甲公司"}`})

	task := f.submit(t, "purchase", false)
	f.wait(t, task.ID)
	f.drain(t)

	res, err := f.svc.Result(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, res.TaskID)
	assert.Equal(t, models.StatusCompleted, res.Status)
	assert.Equal(t, "采购单.pdf", res.Filename)
	assert.Equal(t, map[string]any{"buyer": "甲公司"}, res.Result)

	_, err = os.Stat(filepath.Join(f.archiveDir, "results", task.ID+".json"))
	assert.NoError(t, err)
}

func TestResultNotFound(t *testing.T) {
	f := newFixture(t, &fakeAnalyzer{})

	_, err := f.svc.Result(context.Background(), "1b4e28ba-2fa1-11d2-883f-0016d3cca427")
	assert.ErrorIs(t, err, models.ErrResultNotFound)

	_, err = f.svc.Result(context.Background(), "../../etc/passwd")
	assert.ErrorIs(t, err, models.ErrResultNotFound)
}

func TestFinalResult(t *testing.T) {
	assert.Equal(t, map[string]any{"a": "b"}, FinalResult(`{"a":"b"}`))
	assert.Equal(t, map[string]any{"raw_result": "not json"}, FinalResult("not json"))
	assert.Equal(t, map[string]any{}, FinalResult(nil))

	instance := map[string]any{"a": "b"}
	assert.Equal(t, instance, FinalResult(instance))
}

func TestCleanupExpired(t *testing.T) {
	f := newFixture(t, &fakeAnalyzer{text: "{}"})

	task := f.submit(t, "purchase", false)
	f.wait(t, task.ID)
	f.drain(t)

	require.NoError(t, f.svc.CleanupExpired(context.Background()))
	_, err := os.Stat(task.FilePath)
	assert.NoError(t, err)

	f.svc.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	require.NoError(t, f.svc.CleanupExpired(context.Background()))

	_, err = os.Stat(task.FilePath)
	assert.True(t, os.IsNotExist(err))
	_, err = f.svc.Result(context.Background(), task.ID)
	assert.ErrorIs(t, err, models.ErrResultNotFound)
}

func TestWaitHonorsContext(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, &fakeAnalyzer{text: "{}", gate: gate})
	task := f.submit(t, "purchase", false)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.svc.Wait(ctx, task.ID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(gate)
	f.wait(t, task.ID)
}

func TestLocalDispatcherLogsRunErrors(t *testing.T) {
	log := logger.NewTestLogger()
	d := NewLocalDispatcher(func(context.Context, models.Job) error {
		return errors.New("boom")
	}, log)

	require.NoError(t, d.Dispatch(context.Background(), models.Job{TaskID: "t1"}))
	require.NoError(t, d.Wait(context.Background()))
	assert.True(t, log.HasMessage("ERROR", "Background task failed"))
}

func TestSubmitSanitizesFilename(t *testing.T) {
	f := newFixture(t, &fakeAnalyzer{text: "{}"})

	task, err := f.svc.Submit(context.Background(), SubmitRequest{
		Filename: `..\..\合同 2024.pdf`,
		Size:     int64(len(pdfContent)),
		Content:  bytes.NewReader(pdfContent),
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(task.FilePath, f.uploadDir))
	assert.Equal(t, task.ID+"_合同_2024.pdf", filepath.Base(task.FilePath))
	f.wait(t, task.ID)
}

func TestStagedUploadFetchedWhenNotLocal(t *testing.T) {
	d := &capturingDispatcher{}
	f := newFixture(t, &fakeAnalyzer{text: `{"buyer":"甲公司"}`}, WithDispatcher(d))
	f.svc.config.StageUploads = true

	task := f.submit(t, "purchase", false)
	require.Len(t, d.jobs, 1)
	job := d.jobs[0]
	assert.Equal(t, StagedKey(filepath.Base(task.FilePath)), job.UploadKey)

	staged := filepath.Join(f.archiveDir, filepath.FromSlash(job.UploadKey))
	_, err := os.Stat(staged)
	require.NoError(t, err)

	// worker 所在主机没有这份上传文件
	require.NoError(t, os.Remove(job.FilePath))

	require.NoError(t, f.svc.Run(context.Background(), job))
	done := f.wait(t, task.ID)
	assert.Equal(t, models.StatusCompleted, done.Status)

	require.Len(t, f.norm.contents, 1)
	assert.Equal(t, pdfContent, f.norm.contents[0])

	// 取回的副本和暂存副本都已删除
	_, err = os.Stat(f.norm.calls()[0])
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(staged)
	assert.True(t, os.IsNotExist(err))
}

func TestStagedUploadMissingFailsTask(t *testing.T) {
	d := &capturingDispatcher{}
	f := newFixture(t, &fakeAnalyzer{text: "{}"}, WithDispatcher(d))
	f.svc.config.StageUploads = true

	task := f.submit(t, "purchase", false)
	require.Len(t, d.jobs, 1)
	job := d.jobs[0]
	require.NoError(t, os.Remove(job.FilePath))
	require.NoError(t, os.Remove(filepath.Join(f.archiveDir, filepath.FromSlash(job.UploadKey))))

	require.NoError(t, f.svc.Run(context.Background(), job))
	done := f.wait(t, task.ID)
	assert.Equal(t, models.StatusError, done.Status)
	assert.Contains(t, done.Error, "failed to fetch staged upload")
	assert.Empty(t, f.norm.calls())
}

func TestUnstagedJobUsesLocalPath(t *testing.T) {
	d := &capturingDispatcher{}
	f := newFixture(t, &fakeAnalyzer{text: "{}"}, WithDispatcher(d))

	task := f.submit(t, "purchase", false)
	require.Len(t, d.jobs, 1)
	assert.Empty(t, d.jobs[0].UploadKey)

	require.NoError(t, f.svc.Run(context.Background(), d.jobs[0]))
	assert.Equal(t, []string{task.FilePath}, f.norm.calls())
}

func TestRunCountsCircuitOpenRejections(t *testing.T) {
	m := metrics.New("test")
	f := newFixture(t, &fakeAnalyzer{err: fmt.Errorf("inference request failed: %w", gobreaker.ErrOpenState)}, WithMetrics(m))

	task := f.submit(t, "purchase", false)
	done := f.wait(t, task.ID)
	assert.Equal(t, models.StatusError, done.Status)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `docextract_inference_rejected_total{service="test"} 1`)
}

func TestRunOrdinaryFailureIsNotARejection(t *testing.T) {
	m := metrics.New("test")
	f := newFixture(t, &fakeAnalyzer{err: errors.New("upstream 500")}, WithMetrics(m))

	task := f.submit(t, "purchase", false)
	assert.Equal(t, models.StatusError, f.wait(t, task.ID).Status)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `docextract_inference_rejected_total{service="test"} 0`)
}
