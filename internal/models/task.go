package models

import (
	"time"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusError      TaskStatus = "error"
)

// Terminal 是否为终止状态
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Task 一次文档分析请求
//
// Result 只会被整体替换，写入存储后不再原地修改，因此浅拷贝的 Task 可以安全地跨 goroutine 读取。
type Task struct {
	ID         string     `json:"id"`
	Status     TaskStatus `json:"status"`
	Template   string     `json:"template"`
	Streaming  bool       `json:"streaming"`
	Result     any        `json:"result"`
	Error      string     `json:"error,omitempty"`
	FilePath   string     `json:"filePath"`
	Filename   string     `json:"filename"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt time.Time  `json:"finishedAt,omitempty"`
	Subscribed bool       `json:"subscribed"`
}

// Elapsed 从开始到 now 的处理时间，保留两位小数（秒）
func (t *Task) Elapsed(now time.Time) float64 {
	d := now.Sub(t.StartedAt).Seconds()
	if d < 0 {
		d = 0
	}
	return float64(int64(d*100+0.5)) / 100
}

// Job 后台执行单元的输入，可以序列化后经由队列传递
type Job struct {
	TaskID    string `json:"taskId"`
	FilePath  string `json:"filePath"`
	// UploadKey 暂存在归档存储中的副本，FilePath 不在本机时使用
	UploadKey string `json:"uploadKey,omitempty"`
	Template  string `json:"template"`
	Streaming bool   `json:"streaming"`
}
