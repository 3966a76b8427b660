package analysis

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/feichai0017/document-extractor/internal/models"
	"github.com/feichai0017/document-extractor/pkg/logger"
)

// stagedPrefix 暂存上传文件的 key 前缀，worker 从归档存储取回
const stagedPrefix = "uploads/"

// StagedKey 上传文件在归档存储中的 key
func StagedKey(uploadKey string) string {
	return stagedPrefix + uploadKey
}

// stageUpload 把本地上传文件复制到归档存储，供其他主机上的 worker 读取
func (s *Service) stageUpload(ctx context.Context, uploadKey string) (string, error) {
	rc, err := s.uploads.Get(ctx, uploadKey)
	if err != nil {
		return "", fmt.Errorf("failed to open upload: %w", err)
	}
	defer rc.Close()

	key := StagedKey(uploadKey)
	if _, err := s.archive.Store(ctx, rc, key); err != nil {
		return "", fmt.Errorf("failed to stage upload: %w", err)
	}
	return key, nil
}

// localUpload 返回可以本地读取的文件路径。
// 文件不在本机时从归档存储取回，release 删除取回的副本。
func (s *Service) localUpload(ctx context.Context, job models.Job) (string, func(), error) {
	noop := func() {}
	if job.UploadKey == "" {
		return job.FilePath, noop, nil
	}
	if _, err := os.Stat(job.FilePath); err == nil {
		return job.FilePath, noop, nil
	}
	if s.archive == nil {
		return "", noop, fmt.Errorf("upload %s is not available locally and no archive is configured", job.UploadKey)
	}

	rc, err := s.archive.Get(ctx, job.UploadKey)
	if err != nil {
		return "", noop, fmt.Errorf("failed to fetch staged upload: %w", err)
	}
	defer rc.Close()

	localKey := strings.TrimPrefix(job.UploadKey, stagedPrefix)
	if _, err := s.uploads.Store(ctx, rc, localKey); err != nil {
		return "", noop, fmt.Errorf("failed to fetch staged upload: %w", err)
	}
	path, err := s.uploads.Path(localKey)
	if err != nil {
		return "", noop, err
	}

	release := func() {
		if err := s.uploads.Delete(context.WithoutCancel(ctx), localKey); err != nil {
			s.logger.Warn("Failed to remove fetched upload", logger.TaskID(job.TaskID), logger.Error(err))
		}
	}
	return path, release, nil
}

// dropStaged 任务结束后删除暂存副本
func (s *Service) dropStaged(ctx context.Context, job models.Job) {
	if job.UploadKey == "" || s.archive == nil {
		return
	}
	if err := s.archive.Delete(ctx, job.UploadKey); err != nil {
		s.logger.Warn("Failed to remove staged upload",
			logger.TaskID(job.TaskID),
			logger.String("key", job.UploadKey),
			logger.Error(err),
		)
	}
}
