package dataset

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// SplitValidation carves the last fraction of s off as a validation split.
// The cut happens before any shuffling so the held-out samples are stable,
// and lands at floor(n * (1 - fraction)). A non-zero fraction must leave
// samples on both sides.
func SplitValidation(s Split, fraction float64) (train, val Split, err error) {
	if fraction < 0 || fraction >= 1 {
		return Split{}, Split{}, fmt.Errorf("validation fraction %v out of range [0, 1)", fraction)
	}
	n := s.Len()
	if fraction == 0 {
		return s, Split{}, nil
	}
	cut := int(math.Floor(float64(n) * (1 - fraction)))
	if cut <= 0 || cut >= n {
		return Split{}, Split{}, fmt.Errorf("%d samples are not enough for a %v validation split", n, fraction)
	}
	return s.Slice(0, cut), s.Slice(cut, n), nil
}

// SamplerOptions configures the epoch sampler.
type SamplerOptions struct {
	Size      int
	BatchSize int
	Shuffle   bool
	Seed      int64
}

// Sampler yields index batches over a split, reshuffling at the start of
// every epoch when Shuffle is set.
type Sampler struct {
	opts SamplerOptions
	rng  *rand.Rand
}

// NewSampler validates opts and returns a sampler.
func NewSampler(opts SamplerOptions) (*Sampler, error) {
	if opts.Size <= 0 {
		return nil, errors.New("sampler: empty split")
	}
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("sampler: batch size %d", opts.BatchSize)
	}
	return &Sampler{opts: opts, rng: rand.New(rand.NewSource(opts.Seed))}, nil
}

// Batches returns the number of batches per epoch. The last batch may be
// short.
func (s *Sampler) Batches() int {
	return (s.opts.Size + s.opts.BatchSize - 1) / s.opts.BatchSize
}

// Epoch returns the batches of one pass over the split.
func (s *Sampler) Epoch() [][]int {
	order := make([]int, s.opts.Size)
	for i := range order {
		order[i] = i
	}
	if s.opts.Shuffle {
		s.rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}

	batches := make([][]int, 0, s.Batches())
	for from := 0; from < len(order); from += s.opts.BatchSize {
		to := min(from+s.opts.BatchSize, len(order))
		batches = append(batches, order[from:to])
	}
	return batches
}
