// Package normalizer 把上传的文档转换成发送给多模态模型的图片。
//
// doc/docx 先转换为 PDF，PDF 每页渲染为一张 JPEG。页数少于阈值时垂直拼接成一张图，
// 否则每页单独编码，作为有序图片序列发送。
package normalizer

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/document-extractor/config"
	"github.com/feichai0017/document-extractor/pkg/logger"
)

// Image 一张 base64 编码的图片
type Image struct {
	MIMEType string
	Data     string
}

// DataURL 返回 data:<mime>;base64,<data> 形式
func (i Image) DataURL() string {
	return "data:" + i.MIMEType + ";base64," + i.Data
}

// Payload 转换结果：单张图片，或 Sequence 为 true 时的有序图片序列
type Payload struct {
	Images   []Image
	Sequence bool
}

type Normalizer struct {
	office            OfficeConverter
	rasterizer        PageRasterizer
	scratchDir        string
	sequenceThreshold int
	preprocessors     []PagePreprocessor
	logger            logger.Logger
}

type Option func(*Normalizer)

func WithOfficeConverter(c OfficeConverter) Option {
	return func(n *Normalizer) { n.office = c }
}

func WithRasterizer(r PageRasterizer) Option {
	return func(n *Normalizer) { n.rasterizer = r }
}

// WithPreprocessors 替换按配置生成的页面处理链
func WithPreprocessors(chain ...PagePreprocessor) Option {
	return func(n *Normalizer) { n.preprocessors = chain }
}

func New(cfg config.NormalizerConfig, log logger.Logger, opts ...Option) *Normalizer {
	n := &Normalizer{
		scratchDir:        cfg.ScratchDir,
		sequenceThreshold: cfg.SequenceThreshold,
		preprocessors:     preprocessorsFrom(cfg),
		logger:            log,
	}
	if n.sequenceThreshold < 2 {
		n.sequenceThreshold = 4
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.office == nil {
		n.office = NewOfficeConverter(cfg.OfficeBinary, cfg.ConvertTimeout)
	}
	if n.rasterizer == nil {
		n.rasterizer = NewPdftoppmRasterizer(cfg.PdftoppmBinary, cfg.DPI, cfg.ConvertTimeout)
	}
	return n
}

// Normalize 按扩展名选择转换路径；任何失败都返回 *NormalizeError
func (n *Normalizer) Normalize(ctx context.Context, path string) (*Payload, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, stageError("open", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".doc", ".docx":
		return n.fromOffice(ctx, path)
	case ".pdf":
		return n.fromPDF(ctx, path)
	default:
		return n.fromImage(path)
	}
}

func (n *Normalizer) fromOffice(ctx context.Context, path string) (*Payload, error) {
	workDir, cleanup, err := n.workDir()
	if err != nil {
		return nil, stageError("office", path, err)
	}
	defer cleanup()

	pdfPath, err := n.office.ConvertToPDF(ctx, path, workDir)
	if err != nil {
		return nil, stageError("office", path, err)
	}
	n.logger.Debug("office document converted", logger.String("pdf", pdfPath))

	return n.rasterizeAndEncode(ctx, pdfPath, workDir)
}

func (n *Normalizer) fromPDF(ctx context.Context, path string) (*Payload, error) {
	workDir, cleanup, err := n.workDir()
	if err != nil {
		return nil, stageError("pdf", path, err)
	}
	defer cleanup()

	return n.rasterizeAndEncode(ctx, path, workDir)
}

func (n *Normalizer) rasterizeAndEncode(ctx context.Context, pdfPath, workDir string) (*Payload, error) {
	pages, err := n.rasterizer.Rasterize(ctx, pdfPath, workDir)
	if err != nil {
		return nil, stageError("rasterize", pdfPath, err)
	}
	if len(pages) == 0 {
		return nil, stageError("rasterize", pdfPath, fmt.Errorf("no pages rendered"))
	}
	n.logger.Debug("pdf rasterized", logger.String("pdf", pdfPath), logger.Int("pages", len(pages)))

	if len(pages) < n.sequenceThreshold {
		img, err := n.composite(pages)
		if err != nil {
			return nil, stageError("composite", pdfPath, err)
		}
		return &Payload{Images: []Image{img}}, nil
	}

	images, err := n.encodeSequence(ctx, pages)
	if err != nil {
		return nil, stageError("encode", pdfPath, err)
	}
	return &Payload{Images: images, Sequence: true}, nil
}

func (n *Normalizer) fromImage(path string) (*Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, stageError("image", path, err)
	}
	mime := mimetype.Detect(data)
	if !strings.HasPrefix(mime.String(), "image/") {
		return nil, stageError("image", path, fmt.Errorf("unsupported content type %s", mime.String()))
	}
	return &Payload{Images: []Image{{
		MIMEType: mime.String(),
		Data:     base64.StdEncoding.EncodeToString(data),
	}}}, nil
}

// workDir 在 scratch 目录下创建本次转换的临时目录
func (n *Normalizer) workDir() (string, func(), error) {
	base := n.scratchDir
	if base == "" {
		base = os.TempDir()
	}
	if err := os.MkdirAll(base, 0755); err != nil {
		return "", nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	dir, err := os.MkdirTemp(base, "normalize-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	return dir, func() { os.RemoveAll(dir) }, nil
}

// composite 垂直拼接：宽度取最大值，高度求和，水平居中，白色背景
func (n *Normalizer) composite(pages []string) (Image, error) {
	imgs := make([]image.Image, 0, len(pages))
	width, height := 0, 0
	for _, p := range pages {
		img, err := n.loadPage(p)
		if err != nil {
			return Image{}, err
		}
		b := img.Bounds()
		if b.Dx() > width {
			width = b.Dx()
		}
		height += b.Dy()
		imgs = append(imgs, img)
	}

	canvas := imaging.New(width, height, color.White)
	y := 0
	for _, img := range imgs {
		b := img.Bounds()
		canvas = imaging.Paste(canvas, img, image.Pt((width-b.Dx())/2, y))
		y += b.Dy()
	}

	img, err := encodeJPEG(canvas)
	if err != nil {
		return Image{}, fmt.Errorf("failed to encode composite: %w", err)
	}
	return img, nil
}

// loadPage 读取一页并执行预处理链
func (n *Normalizer) loadPage(path string) (image.Image, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open page %s: %w", filepath.Base(path), err)
	}
	return applyPreprocessing(img, n.preprocessors)
}

func encodeJPEG(img image.Image) (Image, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG); err != nil {
		return Image{}, err
	}
	return Image{MIMEType: "image/jpeg", Data: base64.StdEncoding.EncodeToString(buf.Bytes())}, nil
}

// encodeSequence 并发编码每一页，保持页码顺序。没有预处理时直接使用渲染出的 JPEG。
func (n *Normalizer) encodeSequence(ctx context.Context, pages []string) ([]Image, error) {
	images := make([]Image, len(pages))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, p := range pages {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if len(n.preprocessors) > 0 {
				img, err := n.loadPage(p)
				if err != nil {
					return err
				}
				images[i], err = encodeJPEG(img)
				if err != nil {
					return fmt.Errorf("failed to encode page %s: %w", filepath.Base(p), err)
				}
				return nil
			}
			data, err := os.ReadFile(p)
			if err != nil {
				return fmt.Errorf("failed to read page %s: %w", filepath.Base(p), err)
			}
			images[i] = Image{MIMEType: "image/jpeg", Data: base64.StdEncoding.EncodeToString(data)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return images, nil
}
