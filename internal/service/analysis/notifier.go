package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/feichai0017/document-extractor/internal/models"
	"github.com/feichai0017/document-extractor/pkg/logger"
)

// EventType SSE 事件名
type EventType string

const (
	EventConnected EventType = "connected"
	EventUpdate    EventType = "update"
	EventCompleted EventType = "completed"
	EventError     EventType = "error"
)

const connectedMessage = "已连接到任务流"

// Event 推送给订阅者的一条事件，Data 为字符串或可 JSON 序列化的值
type Event struct {
	Type EventType
	Data any
}

// Progress update 与 completed 事件的数据
type Progress struct {
	Status      models.TaskStatus `json:"status"`
	TaskID      string            `json:"taskId,omitempty"`
	Result      any               `json:"result"`
	ProcessTime float64           `json:"processTime"`
}

// Failure error 事件的数据
type Failure struct {
	Error       string  `json:"error"`
	ProcessTime float64 `json:"processTime"`
}

// Subscribe 订阅任务进度。每个任务只允许一个订阅者。
//
// 返回的 channel 依次收到 connected、若干 update，以及一个 completed 或 error 事件，
// 之后任务被删除、channel 关闭。ctx 结束时只停止推送，任务保留。
func (s *Service) Subscribe(ctx context.Context, id string) (<-chan Event, error) {
	if err := s.store.Attach(ctx, id); err != nil {
		return nil, err
	}
	s.metrics.SubscriberAttached()
	s.logger.Info("Stream subscriber attached", logger.TaskID(id))

	events := make(chan Event)
	go s.notify(ctx, id, events)
	return events, nil
}

func (s *Service) notify(ctx context.Context, id string, events chan<- Event) {
	log := s.logger.With(logger.TaskID(id))
	defer close(events)
	defer s.metrics.SubscriberDetached()

	if !s.emit(ctx, events, Event{Type: EventConnected, Data: connectedMessage}) {
		return
	}

	done := s.completion(id)
	ticker := time.NewTicker(s.config.StreamPollInterval)
	defer ticker.Stop()

	// 非流式任务处理期间结果为 null，不推送 update
	last := []byte("null")
	for {
		task, err := s.store.Get(ctx, id)
		if err != nil {
			log.Warn("Task disappeared while streaming", logger.Error(err))
			return
		}
		now := s.now()

		if task.Status.Terminal() {
			if !s.emit(ctx, events, terminalEvent(task, now)) {
				return
			}
			if err := s.store.Delete(context.WithoutCancel(ctx), id); err != nil {
				log.Error("Failed to remove finished task", logger.Error(err))
			}
			s.releaseSignal(id)
			log.Info("Stream finished", logger.String("status", string(task.Status)))
			return
		}

		current, err := json.Marshal(task.Result)
		if err != nil {
			log.Error("Failed to marshal partial result", logger.Error(err))
		} else if !bytes.Equal(current, last) {
			ev := Event{Type: EventUpdate, Data: Progress{
				Status:      task.Status,
				TaskID:      task.ID,
				Result:      json.RawMessage(current),
				ProcessTime: task.Elapsed(now),
			}}
			if !s.emit(ctx, events, ev) {
				return
			}
			last = current
		}

		select {
		case <-ctx.Done():
			log.Info("Stream subscriber disconnected")
			return
		case <-done:
			// 之后只靠下一次读取发现终止状态
			done = nil
		case <-ticker.C:
		}
	}
}

func terminalEvent(task *models.Task, now time.Time) Event {
	end := now
	if !task.FinishedAt.IsZero() {
		end = task.FinishedAt
	}
	elapsed := task.Elapsed(end)

	if task.Status == models.StatusError {
		return Event{Type: EventError, Data: Failure{
			Error:       "处理文件时出错: " + task.Error,
			ProcessTime: elapsed,
		}}
	}
	return Event{Type: EventCompleted, Data: Progress{
		Status:      models.StatusCompleted,
		Result:      FinalResult(task.Result),
		ProcessTime: elapsed,
	}}
}

func (s *Service) emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		s.metrics.StreamEvent(string(ev.Type))
		return true
	case <-ctx.Done():
		return false
	}
}
