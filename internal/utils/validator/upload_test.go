package validator

import (
	"bytes"
	"image/color"
	"io"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/document-extractor/internal/models"
	"github.com/feichai0017/document-extractor/pkg/logger"
)

func newValidator() *UploadValidator {
	return NewUploadValidator(logger.NewTestLogger(), &ValidatorConfig{
		MaxFileSize:       1024 * 1024,
		AllowedExtensions: []string{".jpg", ".jpeg", ".png", "pdf", ".doc", ".docx"},
	})
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, imaging.New(4, 4, color.White), imaging.PNG))
	return buf.Bytes()
}

func TestValidateAcceptsAllowedUpload(t *testing.T) {
	v := newValidator()
	data := pngBytes(t)
	content := bytes.NewReader(data)

	result, err := v.Validate("磅单 01.png", int64(len(data)), content)
	require.NoError(t, err)

	assert.True(t, result.IsValid)
	assert.NoError(t, result.Err())
	assert.Equal(t, "image/png", result.FileInfo.MimeType)
	assert.Equal(t, "磅单_01.png", result.FileInfo.SafeName)
	assert.Len(t, result.FileInfo.Hash, 64)

	// 读指针已经复位，调用方可以继续保存文件
	pos, err := content.Seek(0, io.SeekCurrent)
	require.NoError(t, err)
	assert.Zero(t, pos)
}

func TestValidateRejects(t *testing.T) {
	v := newValidator()

	tests := []struct {
		name     string
		filename string
		size     int64
		content  []byte
		code     string
	}{
		{"empty filename", "", 10, nil, "EMPTY_FILENAME"},
		{"directory only", "uploads/", 10, nil, "EMPTY_FILENAME"},
		{"bad extension", "script.exe", 10, nil, "INVALID_FILE_TYPE"},
		{"no extension", "README", 10, nil, "INVALID_FILE_TYPE"},
		{"too large", "contract.pdf", 2 * 1024 * 1024, nil, "FILE_TOO_LARGE"},
		{"pdf content with image extension", "photo.jpg", 20, []byte("%PDF-1.4\n%âãÏÓ\n1 0 obj"), "INVALID_MIME_TYPE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var content io.ReadSeeker
			if tt.content != nil {
				content = bytes.NewReader(tt.content)
			}
			result, err := v.Validate(tt.filename, tt.size, content)
			require.NoError(t, err)

			assert.False(t, result.IsValid)
			require.NotEmpty(t, result.Errors)
			assert.Equal(t, tt.code, result.Errors[0].Code)
			assert.ErrorIs(t, result.Err(), models.ErrInvalidUpload)
			assert.True(t, IsInvalidUpload(result.Err()))
		})
	}
}

func TestValidateImageContentWithPDFExtension(t *testing.T) {
	v := newValidator()
	data := pngBytes(t)

	result, err := v.Validate("contract.pdf", int64(len(data)), bytes.NewReader(data))
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.Equal(t, "INVALID_MIME_TYPE", result.Errors[0].Code)
}

func TestValidateOfficeContentIsNotSniffed(t *testing.T) {
	v := newValidator()
	data := []byte("PK\x03\x04 not really a docx")

	result, err := v.Validate("合同.docx", int64(len(data)), bytes.NewReader(data))
	require.NoError(t, err)
	assert.True(t, result.IsValid)
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"采购合同.pdf", "采购合同.pdf"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\张三\Desktop\运单 (1).jpg`, "运单__1_.jpg"},
		{"report.pdf.", "report.pdf"},
		{".pdf", "unnamed_file.pdf"},
		{"", "unnamed_file"},
		{"___", "unnamed_file"},
		{"Invoice.PNG", "Invoice.PNG"},
		{"a;rm -rf.docx", "a_rm_-rf.docx"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeFilename(tt.in), tt.in)
	}
}
