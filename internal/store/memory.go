package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/feichai0017/document-extractor/internal/models"
)

// MemoryStore 单进程存储，所有访问由一把锁串行化
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[string]*models.Task
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*models.Task)}
}

func (s *MemoryStore) Create(_ context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[task.ID]; ok {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	cp := *task
	s.tasks[task.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, models.ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) Update(_ context.Context, id string, fn func(*models.Task) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return models.ErrTaskNotFound
	}
	cp := *t
	if err := fn(&cp); err != nil {
		return err
	}
	s.tasks[id] = &cp
	return nil
}

func (s *MemoryStore) Attach(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return models.ErrTaskNotFound
	}
	if t.Subscribed {
		return models.ErrSubscriberExists
	}
	cp := *t
	cp.Subscribed = true
	s.tasks[id] = &cp
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tasks, id)
	return nil
}

// Len 当前登记的任务数
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}
