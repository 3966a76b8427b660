package normalizer

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
)

// PageRasterizer 把 PDF 每一页渲染成一张图片，按页码顺序返回路径
type PageRasterizer interface {
	Rasterize(ctx context.Context, pdfPath, outDir string) ([]string, error)
}

// PdftoppmRasterizer 使用 poppler 的 pdftoppm 渲染 JPEG
type PdftoppmRasterizer struct {
	Binary  string
	DPI     int
	Timeout time.Duration
}

func NewPdftoppmRasterizer(binary string, dpi int, timeout time.Duration) *PdftoppmRasterizer {
	if binary == "" {
		binary = "pdftoppm"
	}
	if dpi <= 0 {
		dpi = 200
	}
	return &PdftoppmRasterizer{Binary: binary, DPI: dpi, Timeout: timeout}
}

func (r *PdftoppmRasterizer) Rasterize(ctx context.Context, pdfPath, outDir string) ([]string, error) {
	pages, err := countPages(pdfPath)
	if err != nil {
		return nil, err
	}
	if _, err := exec.LookPath(r.Binary); err != nil {
		return nil, fmt.Errorf("%s: %w", r.Binary, ErrToolUnavailable)
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	prefix := filepath.Join(outDir, "page")
	cmd := exec.CommandContext(ctx, r.Binary, "-jpeg", "-r", strconv.Itoa(r.DPI), pdfPath, prefix)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, strings.TrimSpace(string(out)))
	}

	files, err := filepath.Glob(prefix + "-*.jpg")
	if err != nil {
		return nil, err
	}
	sortByPageNumber(files)
	if len(files) != pages {
		return nil, fmt.Errorf("pdftoppm rendered %d of %d pages", len(files), pages)
	}
	return files, nil
}

// countPages 打开 PDF 校验结构并返回页数
func countPages(pdfPath string) (n int, err error) {
	// ledongthuc/pdf 遇到损坏文件可能 panic
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("corrupt pdf: %v", r)
		}
	}()

	f, reader, err := pdf.Open(pdfPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open pdf: %w", err)
	}
	defer f.Close()

	n = reader.NumPage()
	if n == 0 {
		return 0, fmt.Errorf("pdf has no pages")
	}
	return n, nil
}

// sortByPageNumber pdftoppm 按总页数补零（page-01.jpg），按页码数字排序
func sortByPageNumber(files []string) {
	num := func(p string) int {
		base := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		n, _ := strconv.Atoi(base[strings.LastIndex(base, "-")+1:])
		return n
	}
	sort.Slice(files, func(i, j int) bool { return num(files[i]) < num(files[j]) })
}
