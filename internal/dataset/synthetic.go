package dataset

import (
	"math"
	"math/rand"
	"strconv"
)

// SyntheticOptions sizes a generated dataset.
type SyntheticOptions struct {
	Train, Test int
	Size        int
	Channels    int
	NumClasses  int
	Seed        int64
}

// Synthetic generates a small labelled dataset offline. Each class has its
// own tint and stripe orientation so a model can learn to tell them apart.
// The same options always produce the same pixels.
func Synthetic(opts SyntheticOptions) *Dataset {
	if opts.Size <= 0 {
		opts.Size = cifarSide
	}
	if opts.Channels <= 0 {
		opts.Channels = cifarChannels
	}
	if opts.NumClasses <= 0 {
		opts.NumClasses = 10
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	ds := &Dataset{ClassNames: make([]string, opts.NumClasses)}
	for i := range ds.ClassNames {
		ds.ClassNames[i] = "class_" + strconv.Itoa(i)
	}
	ds.Train = syntheticSplit(rng, opts, opts.Train)
	ds.Test = syntheticSplit(rng, opts, opts.Test)
	return ds
}

func syntheticSplit(rng *rand.Rand, opts SyntheticOptions, n int) Split {
	split := Split{Images: make([]Image, n), Labels: make([]int, n)}
	for i := 0; i < n; i++ {
		label := rng.Intn(opts.NumClasses)
		split.Images[i] = syntheticImage(rng, opts, label)
		split.Labels[i] = label
	}
	return split
}

func syntheticImage(rng *rand.Rand, opts SyntheticOptions, label int) Image {
	img := NewImage(opts.Size, opts.Size, opts.Channels)
	angle := math.Pi * float64(label) / float64(opts.NumClasses)
	dx, dy := math.Cos(angle), math.Sin(angle)
	freq := 2 * math.Pi * float64(1+label%3) / float64(opts.Size)

	for y := 0; y < opts.Size; y++ {
		for x := 0; x < opts.Size; x++ {
			stripe := 0.5 + 0.5*math.Sin(freq*(dx*float64(x)+dy*float64(y)))
			for c := 0; c < opts.Channels; c++ {
				tint := float64((label+c)%opts.NumClasses) / float64(opts.NumClasses)
				v := 255 * (0.6*stripe + 0.3*tint + 0.1*rng.Float64())
				img.Pix[(y*opts.Size+x)*opts.Channels+c] = uint8(math.Max(0, math.Min(255, v)))
			}
		}
	}
	return img
}
