// Package augment turns 8-bit dataset images into normalized model inputs,
// with random flips, rotations and zooms during training.
package augment

import (
	"math"
	"math/rand"

	"vit-classifier/internal/dataset"
)

// Options configures the random transforms. Zero factors disable a
// transform.
type Options struct {
	ImageSize int

	FlipProbability float64
	// RotationFactor is a fraction of a full turn; angles are drawn from
	// [-factor*2pi, factor*2pi].
	RotationFactor float64
	// ZoomHeight and ZoomWidth draw zoom factors from [1-f, 1+f].
	ZoomHeight, ZoomWidth float64
}

// DefaultOptions reproduces the tutorial's augmentation layers.
func DefaultOptions(imageSize int) Options {
	return Options{
		ImageSize:       imageSize,
		FlipProbability: 0.5,
		RotationFactor:  0.02,
		ZoomHeight:      0.2,
		ZoomWidth:       0.2,
	}
}

// Pipeline resizes, normalizes and optionally augments images.
type Pipeline struct {
	opts Options
	norm *Normalization
}

// NewPipeline returns a pipeline using statistics from norm.
func NewPipeline(opts Options, norm *Normalization) *Pipeline {
	return &Pipeline{opts: opts, norm: norm}
}

// Options returns the configured options.
func (p *Pipeline) Options() Options { return p.opts }

// Apply returns the ImageSize x ImageSize HWC float input for img. The
// image is normalized before it is resized. Random transforms run only when
// training is true and draw from rng.
func (p *Pipeline) Apply(img dataset.Image, rng *rand.Rand, training bool) []float32 {
	size := p.opts.ImageSize
	pix := make([]float32, len(img.Pix))
	for i, v := range img.Pix {
		pix[i] = float32(v)
	}
	if p.norm != nil {
		p.norm.Apply(pix)
	}
	if img.Height != size || img.Width != size {
		pix = Resize(pix, img.Height, img.Width, img.Channels, size)
	}
	if !training {
		return pix
	}

	c := img.Channels
	if p.opts.FlipProbability > 0 && rng.Float64() < p.opts.FlipProbability {
		FlipHorizontal(pix, size, c)
	}
	if f := p.opts.RotationFactor; f > 0 {
		angle := (rng.Float64()*2 - 1) * f * 2 * math.Pi
		pix = Rotate(pix, size, c, float32(angle))
	}
	if p.opts.ZoomHeight > 0 || p.opts.ZoomWidth > 0 {
		zy := 1 + (rng.Float64()*2-1)*p.opts.ZoomHeight
		zx := 1 + (rng.Float64()*2-1)*p.opts.ZoomWidth
		pix = Zoom(pix, size, c, float32(zy), float32(zx))
	}
	return pix
}
