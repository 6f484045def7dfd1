// Package image renders a prompt into logo imagery. The fal.ai queue client
// is the production capability; the synthetic generator stands in when no
// API key is configured.
package image

import (
	"bytes"
	"context"
	"hash/fnv"
	goimage "image"
	"image/color"
	"image/png"
)

// RenderRequest describes one image generation call.
type RenderRequest struct {
	AssetID string
	Prompt  string
	Size    int
}

// RenderResult carries the produced image. Data holds the downloaded bytes
// when available; URL is the provider-hosted location.
type RenderResult struct {
	URL  string
	Data []byte
	MIME string
}

// Generator renders a single prompt. Implementations may be slow (seconds)
// and must honor ctx cancellation.
type Generator interface {
	Render(ctx context.Context, req RenderRequest) (*RenderResult, error)
}

// SyntheticGenerator produces a deterministic placeholder image derived
// from the prompt. Used in development and tests where no render API key is
// available.
type SyntheticGenerator struct {
	size int
}

// NewSyntheticGenerator constructs a placeholder generator. size defaults
// to 64 pixels.
func NewSyntheticGenerator(size int) *SyntheticGenerator {
	if size <= 0 {
		size = 64
	}
	return &SyntheticGenerator{size: size}
}

// Render encodes a solid-color PNG whose color is derived from the prompt.
func (s *SyntheticGenerator) Render(ctx context.Context, req RenderRequest) (*RenderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(req.Prompt))
	sum := h.Sum32()
	fill := color.RGBA{R: uint8(sum), G: uint8(sum >> 8), B: uint8(sum >> 16), A: 255}

	size := s.size
	if req.Size > 0 {
		size = req.Size
	}
	img := goimage.NewRGBA(goimage.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetRGBA(x, y, fill)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return &RenderResult{Data: buf.Bytes(), MIME: "image/png"}, nil
}

var _ Generator = (*SyntheticGenerator)(nil)
