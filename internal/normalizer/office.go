package normalizer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// OfficeConverter 把 doc/docx 转换成 PDF
type OfficeConverter interface {
	ConvertToPDF(ctx context.Context, src, outDir string) (string, error)
}

// windowsOfficePaths LibreOffice 在 Windows 上的默认安装位置
var windowsOfficePaths = []string{
	`C:\Program Files\LibreOffice\program\soffice.exe`,
	`C:\Program Files (x86)\LibreOffice\program\soffice.exe`,
}

// NewOfficeConverter 按运行平台选择转换器；binary 非空时直接使用
func NewOfficeConverter(binary string, timeout time.Duration) OfficeConverter {
	if binary == "" {
		binary = detectOffice(runtime.GOOS, exec.LookPath, fileExists)
	}
	if binary == "" {
		return unavailableConverter{}
	}
	return &SofficeConverter{Binary: binary, Timeout: timeout}
}

func detectOffice(goos string, lookPath func(string) (string, error), exists func(string) bool) string {
	names := []string{"soffice", "libreoffice"}
	var fallback []string
	if goos == "windows" {
		names = []string{"soffice.exe"}
		fallback = windowsOfficePaths
	}

	for _, name := range names {
		if p, err := lookPath(name); err == nil {
			return p
		}
	}
	for _, p := range fallback {
		if exists(p) {
			return p
		}
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// SofficeConverter 调用 LibreOffice 无界面模式转换
type SofficeConverter struct {
	Binary  string
	Timeout time.Duration
}

func (c *SofficeConverter) ConvertToPDF(ctx context.Context, src, outDir string) (string, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Binary, "--headless", "--convert-to", "pdf", "--outdir", outDir, src)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("soffice: %w: %s", err, strings.TrimSpace(string(out)))
	}

	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	pdfPath := filepath.Join(outDir, base+".pdf")
	if !fileExists(pdfPath) {
		return "", fmt.Errorf("soffice produced no output for %s", filepath.Base(src))
	}
	return pdfPath, nil
}

type unavailableConverter struct{}

func (unavailableConverter) ConvertToPDF(context.Context, string, string) (string, error) {
	return "", fmt.Errorf("office converter: %w", ErrToolUnavailable)
}
