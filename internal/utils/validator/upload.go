package validator

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/feichai0017/document-extractor/internal/models"
	"github.com/feichai0017/document-extractor/pkg/logger"
)

// UploadValidator 上传文件验证器
type UploadValidator struct {
	logger  logger.Logger
	config  *ValidatorConfig
	allowed map[string]struct{}
}

// ValidatorConfig 验证器配置
type ValidatorConfig struct {
	MaxFileSize       int64    // 最大文件大小（字节）
	AllowedExtensions []string // 允许的扩展名，带点号
}

// ValidationResult 验证结果
type ValidationResult struct {
	IsValid  bool              `json:"isValid"`
	Errors   []ValidationError `json:"errors,omitempty"`
	FileInfo FileInfo          `json:"fileInfo"`
}

// ValidationError 验证错误
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// FileInfo 文件信息
type FileInfo struct {
	Filename  string `json:"filename"`
	SafeName  string `json:"safeName"`
	Size      int64  `json:"size"`
	MimeType  string `json:"mimeType"`
	Extension string `json:"extension"`
	Hash      string `json:"hash"`
}

// NewUploadValidator 创建上传验证器
func NewUploadValidator(log logger.Logger, config *ValidatorConfig) *UploadValidator {
	if config == nil {
		config = &ValidatorConfig{
			MaxFileSize:       16 * 1024 * 1024, // 16MB
			AllowedExtensions: []string{".jpg", ".jpeg", ".png", ".pdf", ".doc", ".docx"},
		}
	}

	allowed := make(map[string]struct{}, len(config.AllowedExtensions))
	for _, ext := range config.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = struct{}{}
	}

	return &UploadValidator{logger: log, config: config, allowed: allowed}
}

// Validate 验证上传文件；content 为 nil 时跳过内容检测
func (v *UploadValidator) Validate(filename string, size int64, content io.ReadSeeker) (*ValidationResult, error) {
	ext := strings.ToLower(filepath.Ext(baseName(filename)))
	result := &ValidationResult{
		IsValid: true,
		FileInfo: FileInfo{
			Filename:  filename,
			SafeName:  SanitizeFilename(filename),
			Size:      size,
			Extension: ext,
		},
	}

	if errs := v.performBasicValidation(result.FileInfo); len(errs) > 0 {
		result.IsValid = false
		result.Errors = append(result.Errors, errs...)
		return result, nil
	}

	if content == nil {
		return result, nil
	}

	mime, err := mimetype.DetectReader(content)
	if err != nil {
		return nil, fmt.Errorf("failed to detect mime type: %w", err)
	}
	result.FileInfo.MimeType = mime.String()

	if _, err := content.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to reset file pointer: %w", err)
	}
	hash, err := calculateHash(content)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate hash: %w", err)
	}
	result.FileInfo.Hash = hash
	if _, err := content.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to reset file pointer: %w", err)
	}

	if errs := v.validateMimeType(result.FileInfo); len(errs) > 0 {
		result.IsValid = false
		result.Errors = append(result.Errors, errs...)
	}

	if !result.IsValid {
		v.logger.Warn("Upload rejected",
			logger.String("filename", filename),
			logger.String("mimeType", result.FileInfo.MimeType),
		)
	}
	return result, nil
}

// Err 验证失败时返回包装了 models.ErrInvalidUpload 的错误
func (r *ValidationResult) Err() error {
	if r.IsValid {
		return nil
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Message)
	}
	return fmt.Errorf("%w: %s", models.ErrInvalidUpload, strings.Join(msgs, "; "))
}

// 基本验证
func (v *UploadValidator) performBasicValidation(info FileInfo) []ValidationError {
	if strings.TrimSpace(baseName(info.Filename)) == "" {
		return []ValidationError{{
			Code:    "EMPTY_FILENAME",
			Message: "No file selected",
			Field:   "filename",
		}}
	}

	var errs []ValidationError
	if _, ok := v.allowed[info.Extension]; !ok {
		errs = append(errs, ValidationError{
			Code:    "INVALID_FILE_TYPE",
			Message: fmt.Sprintf("File type %q is not allowed", info.Extension),
			Field:   "extension",
		})
	}
	if v.config.MaxFileSize > 0 && info.Size > v.config.MaxFileSize {
		errs = append(errs, ValidationError{
			Code:    "FILE_TOO_LARGE",
			Message: fmt.Sprintf("File size exceeds maximum limit of %d bytes", v.config.MaxFileSize),
			Field:   "size",
		})
	}
	return errs
}

// validateMimeType 只拒绝明显的不一致：图片扩展名对应 PDF 内容，或反过来。
// doc/docx 的检测结果因生成工具而异，不做限制。
func (v *UploadValidator) validateMimeType(info FileInfo) []ValidationError {
	isImageExt := info.Extension == ".jpg" || info.Extension == ".jpeg" || info.Extension == ".png"
	isPDF := info.MimeType == "application/pdf"
	isImage := strings.HasPrefix(info.MimeType, "image/")

	if (isImageExt && isPDF) || (info.Extension == ".pdf" && isImage) {
		return []ValidationError{{
			Code:    "INVALID_MIME_TYPE",
			Message: fmt.Sprintf("Invalid MIME type %s for extension %s", info.MimeType, info.Extension),
			Field:   "mimeType",
		}}
	}
	return nil
}

func calculateHash(r io.Reader) (string, error) {
	hash := sha256.New()
	if _, err := io.Copy(hash, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

var unsafeChars = regexp.MustCompile(`[^\p{L}\p{N}_.-]`)

// SanitizeFilename 去掉目录部分和路径分隔符，保留中文等非 ASCII 字符和扩展名
func SanitizeFilename(name string) string {
	base := baseName(name)
	ext := strings.ToLower(filepath.Ext(base))
	if ext == "." {
		ext = ""
	}

	safe := unsafeChars.ReplaceAllString(base, "_")
	safe = strings.Trim(safe, "._")
	if safe == "" || safe == strings.TrimPrefix(ext, ".") {
		safe = "unnamed_file"
	}
	if ext != "" && !strings.HasSuffix(strings.ToLower(safe), ext) {
		safe += ext
	}
	return safe
}

// baseName 同时按 / 和 \ 截取，浏览器可能上传完整的 Windows 路径
func baseName(name string) string {
	return name[strings.LastIndexAny(name, `/\`)+1:]
}

// IsInvalidUpload 是否为上传校验错误
func IsInvalidUpload(err error) bool {
	return errors.Is(err, models.ErrInvalidUpload)
}
