package augment

import (
	"errors"
	"fmt"

	"github.com/chewxy/math32"

	"vit-classifier/internal/dataset"
)

const minStddev = 1e-7

// Normalization holds per-channel statistics adapted on a set of images.
type Normalization struct {
	Mean     []float32
	Variance []float32
}

// Adapt computes per-channel mean and variance over every pixel of images.
func Adapt(images []dataset.Image) (*Normalization, error) {
	if len(images) == 0 {
		return nil, errors.New("normalization: no images to adapt on")
	}
	channels := images[0].Channels
	sum := make([]float64, channels)
	sumSq := make([]float64, channels)
	var count float64
	for i, img := range images {
		if img.Channels != channels {
			return nil, fmt.Errorf("normalization: image %d has %d channels, want %d", i, img.Channels, channels)
		}
		for j, v := range img.Pix {
			f := float64(v)
			sum[j%channels] += f
			sumSq[j%channels] += f * f
		}
		count += float64(img.Height * img.Width)
	}

	n := &Normalization{Mean: make([]float32, channels), Variance: make([]float32, channels)}
	for c := range sum {
		mean := sum[c] / count
		n.Mean[c] = float32(mean)
		n.Variance[c] = float32(max(sumSq[c]/count-mean*mean, 0))
	}
	return n, nil
}

// Apply normalizes HWC pix in place.
func (n *Normalization) Apply(pix []float32) {
	channels := len(n.Mean)
	inv := make([]float32, channels)
	for c := range inv {
		inv[c] = 1 / math32.Max(math32.Sqrt(n.Variance[c]), minStddev)
	}
	for i := range pix {
		c := i % channels
		pix[i] = (pix[i] - n.Mean[c]) * inv[c]
	}
}
