package image

import (
	"bytes"
	"context"
	"image/png"
	"testing"
)

func TestSyntheticGeneratorProducesValidPNG(t *testing.T) {
	gen := NewSyntheticGenerator(32)

	res, err := gen.Render(context.Background(), RenderRequest{AssetID: "asset-1", Prompt: "a logo"})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if res.MIME != "image/png" {
		t.Fatalf("mime = %q, want image/png", res.MIME)
	}
	img, err := png.Decode(bytes.NewReader(res.Data))
	if err != nil {
		t.Fatalf("output is not a decodable png: %v", err)
	}
	if img.Bounds().Dx() != 32 || img.Bounds().Dy() != 32 {
		t.Fatalf("image size = %v, want 32x32", img.Bounds())
	}
}

func TestSyntheticGeneratorIsDeterministicPerPrompt(t *testing.T) {
	gen := NewSyntheticGenerator(16)

	first, err := gen.Render(context.Background(), RenderRequest{Prompt: "same prompt"})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	second, err := gen.Render(context.Background(), RenderRequest{Prompt: "same prompt"})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !bytes.Equal(first.Data, second.Data) {
		t.Fatalf("same prompt produced different images")
	}

	other, err := gen.Render(context.Background(), RenderRequest{Prompt: "different prompt"})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if bytes.Equal(first.Data, other.Data) {
		t.Fatalf("different prompts produced identical images")
	}
}

func TestSyntheticGeneratorHonorsRequestSize(t *testing.T) {
	gen := NewSyntheticGenerator(64)
	res, err := gen.Render(context.Background(), RenderRequest{Prompt: "x", Size: 8})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(res.Data))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if img.Bounds().Dx() != 8 {
		t.Fatalf("size = %d, want 8", img.Bounds().Dx())
	}
}
