package worker

import (
	"fmt"

	"github.com/feichai0017/document-extractor/pkg/logger"
)

// asynqLogger 把 asynq 的内部日志转到 zap
type asynqLogger struct {
	logger logger.Logger
}

func newAsynqLogger(log logger.Logger) *asynqLogger {
	return &asynqLogger{logger: log.Named("asynq")}
}

func (l *asynqLogger) Debug(args ...interface{}) { l.logger.Debug(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...interface{})  { l.logger.Info(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...interface{})  { l.logger.Warn(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...interface{}) { l.logger.Error(fmt.Sprint(args...)) }
func (l *asynqLogger) Fatal(args ...interface{}) { l.logger.Fatal(fmt.Sprint(args...)) }
