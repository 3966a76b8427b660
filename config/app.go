package config

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	appOnce   sync.Once
	appConfig *AppConfig
	appErr    error
)

// AppConfig 服务整体配置
type AppConfig struct {
	Server     ServerConfig     `yaml:"server"`
	Upload     UploadConfig     `yaml:"upload"`
	Inference  InferenceConfig  `yaml:"inference"`
	Normalizer NormalizerConfig `yaml:"normalizer"`
	Tasks      TaskConfig       `yaml:"tasks"`
	Redis      RedisConfig      `yaml:"redis"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Log        LogConfig        `yaml:"log"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type UploadConfig struct {
	Dir               string   `yaml:"dir"`
	MaxFileSize       int64    `yaml:"maxFileSize"`
	AllowedExtensions []string `yaml:"allowedExtensions"`
	DefaultTemplate   string   `yaml:"defaultTemplate"`
	TemplatesDir      string   `yaml:"templatesDir"`
}

// InferenceConfig OpenAI 兼容的多模态接口
type InferenceConfig struct {
	BaseURL         string        `yaml:"baseUrl"`
	APIKey          string        `yaml:"apiKey"`
	Model           string        `yaml:"model"`
	MaxTokens       int           `yaml:"maxTokens"`
	Temperature     float32       `yaml:"temperature"`
	Timeout         time.Duration `yaml:"timeout"`
	BreakerFailures int           `yaml:"breakerFailures"`
	BreakerCooldown time.Duration `yaml:"breakerCooldown"`
}

type NormalizerConfig struct {
	ScratchDir        string        `yaml:"scratchDir"`
	DPI               int           `yaml:"dpi"`
	SequenceThreshold int           `yaml:"sequenceThreshold"`
	OfficeBinary      string        `yaml:"officeBinary"`
	PdftoppmBinary    string        `yaml:"pdftoppmBinary"`
	ConvertTimeout    time.Duration `yaml:"convertTimeout"`
	// 页面预处理，零值表示关闭
	MaxPageDimension int     `yaml:"maxPageDimension"`
	Grayscale        bool    `yaml:"grayscale"`
	Contrast         float32 `yaml:"contrast"`
	Sharpen          float32 `yaml:"sharpen"`
}

type TaskConfig struct {
	// Store: memory | redis
	Store string `yaml:"store"`
	// Dispatcher: local | asynq
	Dispatcher         string        `yaml:"dispatcher"`
	StreamPollInterval time.Duration `yaml:"streamPollInterval"`
	Concurrency        int           `yaml:"concurrency"`
	RedisTTL           time.Duration `yaml:"redisTtl"`
	RunTimeout         time.Duration `yaml:"runTimeout"`
	// WorkerMetricsAddr worker 进程的 /metrics 监听地址，为空时不暴露
	WorkerMetricsAddr string `yaml:"workerMetricsAddr"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type ArchiveConfig struct {
	// Backend: none | local | s3 | minio
	Backend         string        `yaml:"backend"`
	Dir             string        `yaml:"dir"`
	Retention       time.Duration `yaml:"retention"`
	CleanupInterval time.Duration `yaml:"cleanupInterval"`
}

type LogConfig struct {
	Level             string   `yaml:"level"`
	Encoding          string   `yaml:"encoding"`
	OutputPaths       []string `yaml:"outputPaths"`
	// worker 进程单独的日志文件，两个进程不能轮转同一个文件
	WorkerOutputPaths []string `yaml:"workerOutputPaths"`
}

// Default 默认配置
func Default() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Addr:            ":7777",
			ShutdownTimeout: 5 * time.Second,
		},
		Upload: UploadConfig{
			Dir:               "uploads",
			MaxFileSize:       16 * 1024 * 1024, // 16MB
			AllowedExtensions: []string{".jpg", ".jpeg", ".png", ".pdf", ".doc", ".docx"},
			DefaultTemplate:   "purchase",
		},
		Inference: InferenceConfig{
			BaseURL:         "https://dashscope.aliyuncs.com/compatible-mode/v1",
			Model:           "qwen-vl-max-latest",
			MaxTokens:       8192,
			Temperature:     0.3,
			Timeout:         5 * time.Minute,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
		Normalizer: NormalizerConfig{
			ScratchDir:        "output",
			DPI:               200,
			SequenceThreshold: 4,
			ConvertTimeout:    60 * time.Second,
		},
		Tasks: TaskConfig{
			Store:              "memory",
			Dispatcher:         "local",
			StreamPollInterval: 5 * time.Second,
			Concurrency:        5,
			RedisTTL:           24 * time.Hour,
			RunTimeout:         30 * time.Minute,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Archive: ArchiveConfig{
			Backend:         "local",
			Dir:             "results",
			Retention:       7 * 24 * time.Hour,
			CleanupInterval: time.Hour,
		},
		Log: LogConfig{
			Level:             "info",
			Encoding:          "json",
			OutputPaths:       []string{"stdout", "logs/app.log"},
			WorkerOutputPaths: []string{"stdout", "logs/worker.log"},
		},
	}
}

// GetAppConfig 读取 CONFIG_FILE（默认 config.yaml）并叠加环境变量
func GetAppConfig() (*AppConfig, error) {
	appOnce.Do(func() {
		loadDotEnv()
		path := "config.yaml"
		envString("CONFIG_FILE", &path)
		appConfig, appErr = Load(path)
	})
	return appConfig, appErr
}

// Load 从 YAML 文件加载配置，文件不存在时只使用默认值和环境变量
func Load(path string) (*AppConfig, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) applyEnv() {
	envString("SERVER_ADDR", &c.Server.Addr)
	envDuration("SERVER_SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)

	envString("UPLOAD_DIR", &c.Upload.Dir)
	envInt64("UPLOAD_MAX_FILE_SIZE", &c.Upload.MaxFileSize)
	envList("UPLOAD_ALLOWED_EXTENSIONS", &c.Upload.AllowedExtensions)
	envString("UPLOAD_DEFAULT_TEMPLATE", &c.Upload.DefaultTemplate)
	envString("TEMPLATES_DIR", &c.Upload.TemplatesDir)

	envString("INFERENCE_BASE_URL", &c.Inference.BaseURL)
	envString("INFERENCE_API_KEY", &c.Inference.APIKey)
	envString("INFERENCE_MODEL", &c.Inference.Model)
	envInt("INFERENCE_MAX_TOKENS", &c.Inference.MaxTokens)
	envFloat32("INFERENCE_TEMPERATURE", &c.Inference.Temperature)
	envDuration("INFERENCE_TIMEOUT", &c.Inference.Timeout)
	envInt("INFERENCE_BREAKER_FAILURES", &c.Inference.BreakerFailures)
	envDuration("INFERENCE_BREAKER_COOLDOWN", &c.Inference.BreakerCooldown)

	envString("NORMALIZER_SCRATCH_DIR", &c.Normalizer.ScratchDir)
	envInt("NORMALIZER_DPI", &c.Normalizer.DPI)
	envInt("NORMALIZER_SEQUENCE_THRESHOLD", &c.Normalizer.SequenceThreshold)
	envString("NORMALIZER_OFFICE_BINARY", &c.Normalizer.OfficeBinary)
	envString("NORMALIZER_PDFTOPPM_BINARY", &c.Normalizer.PdftoppmBinary)
	envDuration("NORMALIZER_CONVERT_TIMEOUT", &c.Normalizer.ConvertTimeout)
	envInt("NORMALIZER_MAX_PAGE_DIMENSION", &c.Normalizer.MaxPageDimension)
	envBool("NORMALIZER_GRAYSCALE", &c.Normalizer.Grayscale)
	envFloat32("NORMALIZER_CONTRAST", &c.Normalizer.Contrast)
	envFloat32("NORMALIZER_SHARPEN", &c.Normalizer.Sharpen)

	envString("TASK_STORE", &c.Tasks.Store)
	envString("TASK_DISPATCHER", &c.Tasks.Dispatcher)
	envDuration("TASK_STREAM_POLL_INTERVAL", &c.Tasks.StreamPollInterval)
	envInt("TASK_CONCURRENCY", &c.Tasks.Concurrency)
	envDuration("TASK_REDIS_TTL", &c.Tasks.RedisTTL)
	envDuration("TASK_RUN_TIMEOUT", &c.Tasks.RunTimeout)
	envString("TASK_WORKER_METRICS_ADDR", &c.Tasks.WorkerMetricsAddr)

	envString("REDIS_ADDR", &c.Redis.Addr)
	envString("REDIS_PASSWORD", &c.Redis.Password)
	envInt("REDIS_DB", &c.Redis.DB)

	envString("ARCHIVE_BACKEND", &c.Archive.Backend)
	envString("ARCHIVE_DIR", &c.Archive.Dir)
	envDuration("ARCHIVE_RETENTION", &c.Archive.Retention)
	envDuration("ARCHIVE_CLEANUP_INTERVAL", &c.Archive.CleanupInterval)

	envString("LOG_LEVEL", &c.Log.Level)
	envString("LOG_ENCODING", &c.Log.Encoding)
	envList("LOG_OUTPUT_PATHS", &c.Log.OutputPaths)
	envList("LOG_WORKER_OUTPUT_PATHS", &c.Log.WorkerOutputPaths)
}

// Validate 检查互相依赖的配置项
func (c *AppConfig) Validate() error {
	switch c.Tasks.Store {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported task store: %s", c.Tasks.Store)
	}
	switch c.Tasks.Dispatcher {
	case "local":
	case "asynq":
		// worker 进程需要共享任务状态
		if c.Tasks.Store != "redis" {
			return fmt.Errorf("asynq dispatcher requires the redis task store")
		}
	default:
		return fmt.Errorf("unsupported task dispatcher: %s", c.Tasks.Dispatcher)
	}
	switch c.Archive.Backend {
	case "none", "local", "s3", "minio":
	default:
		return fmt.Errorf("unsupported archive backend: %s", c.Archive.Backend)
	}
	if c.Tasks.StreamPollInterval <= 0 {
		return fmt.Errorf("stream poll interval must be positive")
	}
	if c.Normalizer.SequenceThreshold < 2 {
		return fmt.Errorf("sequence threshold must be at least 2")
	}
	return nil
}
