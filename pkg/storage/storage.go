package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/feichai0017/document-extractor/config"
	"github.com/feichai0017/document-extractor/pkg/logger"
	"github.com/feichai0017/document-extractor/pkg/storage/local"
	"github.com/feichai0017/document-extractor/pkg/storage/minio"
	"github.com/feichai0017/document-extractor/pkg/storage/s3"
)

// StorageType 定义存储类型
type StorageType string

const (
	StorageTypeNone  StorageType = "none"
	StorageTypeLocal StorageType = "local"
	StorageTypeS3    StorageType = "s3"
	StorageTypeMinio StorageType = "minio"
)

// Storage 接口定义
type Storage interface {
	// Store 存储文件
	Store(ctx context.Context, reader io.Reader, key string) (string, error)
	// Get 获取文件，不存在时返回的错误满足 errors.Is(err, fs.ErrNotExist)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete 删除文件
	Delete(ctx context.Context, key string) error
	// CleanupBefore 清理过期文件
	CleanupBefore(ctx context.Context, threshold time.Time) error
}

// NewStorage 创建结果归档存储；none 返回 nil，表示不归档
func NewStorage(cfg config.ArchiveConfig, log logger.Logger) (Storage, error) {
	switch StorageType(cfg.Backend) {
	case StorageTypeNone:
		return nil, nil
	case StorageTypeLocal:
		return local.NewLocalStorage(cfg.Dir, log)
	case StorageTypeS3:
		return s3.GetClient(log)
	case StorageTypeMinio:
		return minio.GetClient(log)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Backend)
	}
}

// IsNotFound 文件不存在
func IsNotFound(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
