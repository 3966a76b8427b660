package normalizer

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/feichai0017/document-extractor/config"
)

// PagePreprocessor 在编码前处理渲染出的页面
type PagePreprocessor interface {
	Process(img image.Image) (image.Image, error)
}

// ResizeProcessor 等比缩小到最长边不超过 maxDimension，小图不放大
type ResizeProcessor struct {
	maxDimension int
}

func NewResizeProcessor(maxDimension int) *ResizeProcessor {
	return &ResizeProcessor{maxDimension: maxDimension}
}

func (p *ResizeProcessor) Process(img image.Image) (image.Image, error) {
	b := img.Bounds()
	if b.Dx() <= p.maxDimension && b.Dy() <= p.maxDimension {
		return img, nil
	}
	return imaging.Fit(img, p.maxDimension, p.maxDimension, imaging.Lanczos), nil
}

// 灰度处理器
type GrayscaleProcessor struct{}

func NewGrayscaleProcessor() *GrayscaleProcessor {
	return &GrayscaleProcessor{}
}

func (p *GrayscaleProcessor) Process(img image.Image) (image.Image, error) {
	return imaging.Grayscale(img), nil
}

// 对比度调整，percentage 取值 (-100, 100)
type ContrastProcessor struct {
	percentage float64
}

func NewContrastProcessor(percentage float64) *ContrastProcessor {
	return &ContrastProcessor{percentage: percentage}
}

func (p *ContrastProcessor) Process(img image.Image) (image.Image, error) {
	return imaging.AdjustContrast(img, p.percentage), nil
}

// 锐化处理器
type SharpenProcessor struct {
	sigma float64
}

func NewSharpenProcessor(sigma float64) *SharpenProcessor {
	return &SharpenProcessor{sigma: sigma}
}

func (p *SharpenProcessor) Process(img image.Image) (image.Image, error) {
	return imaging.Sharpen(img, p.sigma), nil
}

// preprocessorsFrom 按配置组装处理链，缩放在最前
func preprocessorsFrom(cfg config.NormalizerConfig) []PagePreprocessor {
	var chain []PagePreprocessor
	if cfg.MaxPageDimension > 0 {
		chain = append(chain, NewResizeProcessor(cfg.MaxPageDimension))
	}
	if cfg.Grayscale {
		chain = append(chain, NewGrayscaleProcessor())
	}
	if cfg.Contrast != 0 {
		chain = append(chain, NewContrastProcessor(float64(cfg.Contrast)))
	}
	if cfg.Sharpen > 0 {
		chain = append(chain, NewSharpenProcessor(float64(cfg.Sharpen)))
	}
	return chain
}

func applyPreprocessing(img image.Image, chain []PagePreprocessor) (image.Image, error) {
	var err error
	for _, p := range chain {
		img, err = p.Process(img)
		if err != nil {
			return nil, fmt.Errorf("page preprocessing failed: %w", err)
		}
	}
	return img, nil
}
