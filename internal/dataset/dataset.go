package dataset

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"
)

// Source names accepted by Load.
const (
	SourceCIFAR100   = "cifar100"
	SourceWebDataset = "webdataset"
	SourceSynthetic  = "synthetic"
)

// Image is an 8-bit HWC image.
type Image struct {
	Height, Width, Channels int
	Pix                     []uint8
}

// NewImage allocates a black image.
func NewImage(h, w, c int) Image {
	return Image{Height: h, Width: w, Channels: c, Pix: make([]uint8, h*w*c)}
}

// At returns the value of channel c at (x, y).
func (m Image) At(x, y, c int) uint8 {
	return m.Pix[(y*m.Width+x)*m.Channels+c]
}

// ToImage converts m to a standard library image (Gray or RGBA).
func (m Image) ToImage() image.Image {
	r := image.Rect(0, 0, m.Width, m.Height)
	if m.Channels == 1 {
		g := image.NewGray(r)
		copy(g.Pix, m.Pix)
		return g
	}
	rgba := image.NewRGBA(r)
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			off := (y*m.Width + x) * m.Channels
			rgba.SetRGBA(x, y, color.RGBA{m.Pix[off], m.Pix[off+1], m.Pix[off+2], 255})
		}
	}
	return rgba
}

// FromImage resizes src to size x size with bilinear interpolation and
// keeps the requested number of channels (1 or 3).
func FromImage(src image.Image, size, channels int) Image {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Rect, src, src.Bounds(), draw.Src, nil)

	out := NewImage(size, size, channels)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			c := dst.RGBAAt(x, y)
			off := (y*size + x) * channels
			if channels == 1 {
				out.Pix[off] = color.GrayModel.Convert(c).(color.Gray).Y
				continue
			}
			out.Pix[off], out.Pix[off+1], out.Pix[off+2] = c.R, c.G, c.B
		}
	}
	return out
}

// Split is a labelled partition of a dataset.
type Split struct {
	Images []Image
	Labels []int
}

// Len returns the number of samples.
func (s Split) Len() int { return len(s.Images) }

// Slice returns samples [from, to) sharing storage with s.
func (s Split) Slice(from, to int) Split {
	return Split{Images: s.Images[from:to], Labels: s.Labels[from:to]}
}

// Dataset is the in-memory train/test pair.
type Dataset struct {
	Train, Test Split
	ClassNames  []string
}

// Options selects and parameterizes a source.
type Options struct {
	Source   string
	DataDir  string
	CacheDir string

	// Height, Width and Channels describe the images the source must
	// produce. CIFAR-100 is always 32x32x3.
	Height, Width, Channels int
	NumClasses              int

	SyntheticTrain, SyntheticTest int
	Seed                          int64
}

// Load reads the configured dataset into memory.
func Load(ctx context.Context, opts Options) (*Dataset, error) {
	switch opts.Source {
	case SourceCIFAR100, "":
		cache := opts.CacheDir
		if cache == "" {
			dir, err := os.UserCacheDir()
			if err != nil {
				return nil, fmt.Errorf("locate cache dir: %w", err)
			}
			cache = filepath.Join(dir, "vit-classifier")
		}
		return LoadCIFAR100(ctx, cache, CIFAR100URL)
	case SourceWebDataset:
		return LoadWebDataset(ctx, opts.DataDir, opts.Height, opts.Channels)
	case SourceSynthetic:
		return Synthetic(SyntheticOptions{
			Train:      opts.SyntheticTrain,
			Test:       opts.SyntheticTest,
			Size:       opts.Height,
			Channels:   opts.Channels,
			NumClasses: opts.NumClasses,
			Seed:       opts.Seed,
		}), nil
	default:
		return nil, fmt.Errorf("dataset: unknown source %q", opts.Source)
	}
}
