package normalizer

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/document-extractor/config"
)

type failingPreprocessor struct{}

func (failingPreprocessor) Process(image.Image) (image.Image, error) {
	return nil, errors.New("bad page")
}

func TestResizeProcessor(t *testing.T) {
	p := NewResizeProcessor(100)

	small := imaging.New(80, 40, color.White)
	out, err := p.Process(small)
	require.NoError(t, err)
	assert.Equal(t, small, out)

	out, err = p.Process(imaging.New(400, 200, color.White))
	require.NoError(t, err)
	assert.Equal(t, 100, out.Bounds().Dx())
	assert.Equal(t, 50, out.Bounds().Dy())
}

func TestGrayscaleProcessor(t *testing.T) {
	out, err := NewGrayscaleProcessor().Process(imaging.New(2, 2, color.NRGBA{R: 255, A: 255}))
	require.NoError(t, err)

	r, g, b, _ := out.At(0, 0).RGBA()
	assert.Equal(t, r, g)
	assert.Equal(t, g, b)
}

func TestPreprocessorsFrom(t *testing.T) {
	assert.Empty(t, preprocessorsFrom(config.NormalizerConfig{}))

	chain := preprocessorsFrom(config.NormalizerConfig{
		MaxPageDimension: 1600,
		Grayscale:        true,
		Contrast:         20,
		Sharpen:          0.5,
	})
	require.Len(t, chain, 4)
	assert.IsType(t, &ResizeProcessor{}, chain[0])
	assert.IsType(t, &GrayscaleProcessor{}, chain[1])
	assert.IsType(t, &ContrastProcessor{}, chain[2])
	assert.IsType(t, &SharpenProcessor{}, chain[3])
}

func TestSequencePagesArePreprocessed(t *testing.T) {
	n, _ := newTestNormalizer(t,
		WithRasterizer(&fakeRasterizer{pages: 4}),
		WithPreprocessors(NewResizeProcessor(60)),
	)
	src := writeFile(t, "manifest.pdf", []byte("%PDF-1.4"))

	payload, err := n.Normalize(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, payload.Images, 4)

	for _, img := range payload.Images {
		decoded, err := base64.StdEncoding.DecodeString(img.Data)
		require.NoError(t, err)
		page, err := imaging.Decode(bytes.NewReader(decoded))
		require.NoError(t, err)
		assert.Equal(t, 60, page.Bounds().Dx())
	}
}

func TestPreprocessingFailureIsNormalizeError(t *testing.T) {
	n, _ := newTestNormalizer(t,
		WithRasterizer(&fakeRasterizer{pages: 2}),
		WithPreprocessors(failingPreprocessor{}),
	)
	src := writeFile(t, "manifest.pdf", []byte("%PDF-1.4"))

	_, err := n.Normalize(context.Background(), src)
	var nerr *NormalizeError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "composite", nerr.Stage)
	assert.Contains(t, err.Error(), "bad page")
}
