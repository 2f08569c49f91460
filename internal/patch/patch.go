// Package patch cuts square images into non-overlapping square tiles and
// puts them back together.
package patch

import (
	"errors"
	"fmt"

	"github.com/pdevine/tensor"
	"github.com/pdevine/tensor/native"
)

// ErrIndivisible reports an image size that is not a multiple of the patch
// size.
var ErrIndivisible = errors.New("patch: image size not divisible by patch size")

// Sequence is a raster-ordered list of flattened patches, one per row.
type Sequence struct {
	Count int
	Dim   int
	Data  []float32
}

// Patch returns row i.
func (s Sequence) Patch(i int) []float32 {
	return s.Data[i*s.Dim : (i+1)*s.Dim]
}

// Grid returns the number of patches along one side of a size x size image.
func Grid(size, patchSize int) (int, error) {
	if patchSize <= 0 || size <= 0 || size%patchSize != 0 {
		return 0, fmt.Errorf("%w: %d %% %d", ErrIndivisible, size, patchSize)
	}
	return size / patchSize, nil
}

// Extract splits an HWC image of size x size x channels into patches of
// patchSize x patchSize. Each patch is flattened row, column, channel.
func Extract(pix []float32, size, channels, patchSize int) (Sequence, error) {
	g, err := Grid(size, patchSize)
	if err != nil {
		return Sequence{}, err
	}
	if len(pix) != size*size*channels {
		return Sequence{}, fmt.Errorf("patch: %d values for a %dx%dx%d image", len(pix), size, size, channels)
	}

	data, err := permute(pix, []int{g, patchSize, g, patchSize, channels})
	if err != nil {
		return Sequence{}, fmt.Errorf("extract patches: %w", err)
	}
	return Sequence{Count: g * g, Dim: patchSize * patchSize * channels, Data: data}, nil
}

// Reconstruct reverses Extract.
func Reconstruct(seq Sequence, size, channels, patchSize int) ([]float32, error) {
	g, err := Grid(size, patchSize)
	if err != nil {
		return nil, err
	}
	if seq.Count != g*g || seq.Dim != patchSize*patchSize*channels {
		return nil, fmt.Errorf("patch: sequence %dx%d does not tile a %dx%dx%d image", seq.Count, seq.Dim, size, size, channels)
	}

	data, err := permute(seq.Data, []int{g, g, patchSize, patchSize, channels})
	if err != nil {
		return nil, fmt.Errorf("reconstruct image: %w", err)
	}
	return data, nil
}

// permute views data as dims, swaps axes 1 and 2 and returns the
// materialized result flattened.
func permute(data []float32, dims []int) ([]float32, error) {
	backing := append([]float32(nil), data...)
	var t tensor.Tensor = tensor.New(tensor.WithShape(dims...), tensor.WithBacking(backing))

	if err := t.T(0, 2, 1, 3, 4); err != nil {
		return nil, err
	}

	t = tensor.Materialize(t)
	if err := t.Reshape(t.Shape().TotalSize()); err != nil {
		return nil, err
	}

	return native.VectorF32(t.(*tensor.Dense))
}
