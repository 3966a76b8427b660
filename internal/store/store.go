// Package store 保存任务状态，API 进程与 worker 进程通过它共享任务。
package store

import (
	"context"
	"fmt"

	"github.com/feichai0017/document-extractor/config"
	"github.com/feichai0017/document-extractor/internal/models"
	"github.com/redis/go-redis/v9"
)

// Store 任务注册表。
//
// Get 返回副本；Update 在存储的临界区内把 fn 应用到副本上再整体写回，
// fn 返回错误时不做任何修改。Attach 原子地检查任务存在并设置订阅标记。
type Store interface {
	Create(ctx context.Context, task *models.Task) error
	Get(ctx context.Context, id string) (*models.Task, error)
	Update(ctx context.Context, id string, fn func(*models.Task) error) error
	Attach(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// New 按配置创建存储
func New(cfg *config.AppConfig) (Store, error) {
	switch cfg.Tasks.Store {
	case "memory":
		return NewMemoryStore(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return NewRedisStore(client, cfg.Tasks.RedisTTL), nil
	default:
		return nil, fmt.Errorf("unsupported task store: %s", cfg.Tasks.Store)
	}
}
