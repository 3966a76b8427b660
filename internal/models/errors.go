package models

import "errors"

var (
	// ErrInvalidUpload 上传校验失败，对应 HTTP 400
	ErrInvalidUpload = errors.New("invalid upload")
	// ErrTaskNotFound 任务不存在或已完成并被清理
	ErrTaskNotFound = errors.New("task not found or already finished")
	// ErrSubscriberExists 同一任务只允许一个 SSE 连接
	ErrSubscriberExists = errors.New("task already has an active stream subscriber")
	// ErrTaskFinished 任务已经处于终止状态
	ErrTaskFinished = errors.New("task already finished")
	// ErrResultNotFound 归档中没有该任务的结果
	ErrResultNotFound = errors.New("result not found")
)
