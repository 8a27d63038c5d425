package local

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"time"

	"github.com/disintegration/imaging"

	"styler/internal/generation"
)

// Transformer renders styles with plain image filters. It needs no network
// and is used for development and when no model credentials are configured.
type Transformer struct {
	latency time.Duration
}

func New(latency time.Duration) *Transformer {
	return &Transformer{latency: latency}
}

type filter func(img image.Image, seed int64) image.Image

var filters = map[string]filter{
	"inpasto": func(img image.Image, _ int64) image.Image {
		return imaging.AdjustSaturation(imaging.Blur(img, 1.2), 35)
	},
	"caricature": func(img image.Image, _ int64) image.Image {
		return imaging.AdjustContrast(imaging.Sharpen(img, 2), 25)
	},
	"popart_figure": func(img image.Image, seed int64) image.Image {
		return imaging.AdjustSigmoid(imaging.AdjustSaturation(img, 80), 0.5, float64(3+seed%7))
	},
	"romantic": func(img image.Image, _ int64) image.Image {
		return imaging.AdjustGamma(imaging.Blur(img, 0.8), 1.2)
	},
	"simpson": func(img image.Image, _ int64) image.Image {
		return imaging.AdjustGamma(imaging.AdjustSaturation(img, 60), 1.4)
	},
	"wpap": func(img image.Image, seed int64) image.Image {
		return imaging.AdjustContrast(imaging.AdjustSaturation(img, float64(seed%100)), 40)
	},
	"bibli": func(img image.Image, _ int64) image.Image {
		return imaging.AdjustBrightness(imaging.Blur(img, 0.6), 8)
	},
	"bolt_old": func(img image.Image, _ int64) image.Image {
		return imaging.AdjustContrast(imaging.Grayscale(img), 20)
	},
	"pop_toon": func(img image.Image, _ int64) image.Image {
		return imaging.AdjustSaturation(imaging.Sharpen(img, 1), 50)
	},
}

func fallback(img image.Image, _ int64) image.Image {
	return imaging.AdjustSaturation(img, 20)
}

func (t *Transformer) Transform(ctx context.Context, req generation.TransformRequest) (generation.TransformResult, error) {
	if t.latency > 0 {
		timer := time.NewTimer(t.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return generation.TransformResult{}, ctx.Err()
		case <-timer.C:
		}
	}

	src, err := imaging.Decode(bytes.NewReader(req.Image), imaging.AutoOrientation(true))
	if err != nil {
		return generation.TransformResult{}, fmt.Errorf("%w: decode source: %w", generation.ErrTransformFailed, err)
	}
	if err := ctx.Err(); err != nil {
		return generation.TransformResult{}, err
	}

	size := req.Size
	if size <= 0 {
		size = generation.DefaultTargetSize
	}
	img := imaging.Fill(src, size, size, imaging.Center, imaging.Lanczos)

	f, ok := filters[req.Style.Key]
	if !ok {
		f = fallback
	}
	img = f(img, req.Seed)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return generation.TransformResult{}, fmt.Errorf("%w: encode: %w", generation.ErrTransformFailed, err)
	}
	return generation.TransformResult{Image: buf.Bytes(), MimeType: "image/png"}, nil
}

var _ generation.Transformer = (*Transformer)(nil)
