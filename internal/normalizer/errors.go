package normalizer

import (
	"errors"
	"fmt"
)

// ErrToolUnavailable 本机没有可用的转换工具
var ErrToolUnavailable = errors.New("conversion tool unavailable")

// NormalizeError 文档转换失败，调用方不应自动重试
type NormalizeError struct {
	Stage string
	Path  string
	Err   error
}

func (e *NormalizeError) Error() string {
	return fmt.Sprintf("normalize %s failed for %s: %v", e.Stage, e.Path, e.Err)
}

func (e *NormalizeError) Unwrap() error {
	return e.Err
}

func stageError(stage, path string, err error) error {
	return &NormalizeError{Stage: stage, Path: path, Err: err}
}
