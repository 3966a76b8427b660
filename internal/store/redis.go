package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/document-extractor/internal/models"
)

const (
	keyPrefix = "task:"
	// 乐观锁冲突时的最大尝试次数
	maxTxAttempts = 10
)

// RedisStore 多进程共享的存储，读改写通过 WATCH/MULTI 保证原子性
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func taskKey(id string) string {
	return keyPrefix + id
}

func (s *RedisStore) Create(ctx context.Context, task *models.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	ok, err := s.client.SetNX(ctx, taskKey(task.ID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	if !ok {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.Task, error) {
	return s.load(ctx, s.client, id)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) load(ctx context.Context, c getter, id string) (*models.Task, error) {
	data, err := c.Get(ctx, taskKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task from redis: %w", err)
	}

	var task models.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return &task, nil
}

func (s *RedisStore) Update(ctx context.Context, id string, fn func(*models.Task) error) error {
	return s.transact(ctx, id, fn)
}

func (s *RedisStore) Attach(ctx context.Context, id string) error {
	return s.transact(ctx, id, func(t *models.Task) error {
		if t.Subscribed {
			return models.ErrSubscriberExists
		}
		t.Subscribed = true
		return nil
	})
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, taskKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

// transact 在 WATCH 保护下读取、修改并写回；键被并发修改时重试
func (s *RedisStore) transact(ctx context.Context, id string, fn func(*models.Task) error) error {
	key := taskKey(id)
	txf := func(tx *redis.Tx) error {
		task, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(task); err != nil {
			return err
		}
		data, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("failed to marshal task: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxAttempts; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("task %s: too many concurrent updates", id)
}
