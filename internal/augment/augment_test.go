package augment

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vit-classifier/internal/dataset"
)

func constantImage(size, channels int, values ...uint8) dataset.Image {
	img := dataset.NewImage(size, size, channels)
	for i := range img.Pix {
		img.Pix[i] = values[i%channels]
	}
	return img
}

func ramp(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i)
	}
	return out
}

func TestAdapt(t *testing.T) {
	norm, err := Adapt([]dataset.Image{
		constantImage(2, 2, 0, 10),
		constantImage(2, 2, 4, 10),
	})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{2, 10}, norm.Mean, 1e-6)
	assert.InDeltaSlice(t, []float32{4, 0}, norm.Variance, 1e-6)

	pix := []float32{0, 10, 4, 10}
	norm.Apply(pix)
	assert.InDeltaSlice(t, []float32{-1, 0, 1, 0}, pix, 1e-6)
}

func TestAdaptRejects(t *testing.T) {
	_, err := Adapt(nil)
	assert.Error(t, err)

	_, err = Adapt([]dataset.Image{constantImage(2, 2, 1, 1, 1), constantImage(2, 1, 1)})
	assert.Error(t, err)
}

func TestFlipHorizontal(t *testing.T) {
	sq := ramp(3 * 3 * 2)
	FlipHorizontal(sq, 3, 2)
	assert.Equal(t, []float32{4, 5, 2, 3, 0, 1}, sq[:6])

	FlipHorizontal(sq, 3, 2)
	assert.Equal(t, ramp(18), sq)
}

func TestRotateZeroIsIdentity(t *testing.T) {
	pix := ramp(5 * 5 * 3)
	assert.Equal(t, pix, Rotate(pix, 5, 3, 0))
}

func TestZoomOneIsIdentity(t *testing.T) {
	pix := ramp(4 * 4)
	assert.Equal(t, pix, Zoom(pix, 4, 1, 1, 1))
}

func TestRotateHalfTurn(t *testing.T) {
	pix := ramp(3 * 3)
	got := Rotate(pix, 3, 1, 3.14159265)
	assert.InDeltaSlice(t, []float32{8, 7, 6, 5, 4, 3, 2, 1, 0}, got, 1e-4)
}

func TestZoomOutReflects(t *testing.T) {
	// 1 x 4 row pattern repeated down the image.
	pix := make([]float32, 4*4)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			pix[y*4+x] = float32(x)
		}
	}
	got := Zoom(pix, 4, 1, 1, 3)
	// source x = 1.5 + 3*(x-1.5) = -3, 0, 3, 6 -> reflected 2, 0, 3, 1
	assert.InDeltaSlice(t, []float32{2, 0, 3, 1}, got[:4], 1e-5)
}

func TestReflect(t *testing.T) {
	cases := []struct {
		in, want float32
	}{
		{0, 0},
		{2.5, 2.5},
		{-1, 0},
		{-2, 1},
		{4, 3},
		{5, 2},
		{9, 1},
	}
	for _, tc := range cases {
		assert.InDelta(t, tc.want, reflect(tc.in, 4), 1e-6, "reflect(%v)", tc.in)
	}
}

func TestPipelineInference(t *testing.T) {
	img := constantImage(4, 3, 50, 100, 150)
	norm := &Normalization{Mean: []float32{50, 100, 150}, Variance: []float32{1, 4, 0}}
	p := NewPipeline(DefaultOptions(8), norm)

	out := p.Apply(img, rand.New(rand.NewSource(1)), false)
	require.Len(t, out, 8*8*3)
	for _, v := range out {
		assert.InDelta(t, 0, v, 1e-5)
	}
}

func TestResizeIdentity(t *testing.T) {
	pix := ramp(3 * 3 * 2)
	assert.Equal(t, pix, Resize(pix, 3, 3, 2, 3))
}

func TestResizeHalfPixelCenters(t *testing.T) {
	// a 1x2 row doubled to 4 wide samples at x = -0.25, 0.25, 0.75, 1.25
	got := Resize([]float32{0, 4, 0, 4}, 2, 2, 1, 4)
	assert.InDeltaSlice(t, []float32{0, 1, 3, 4}, got[:4], 1e-6)
	assert.InDeltaSlice(t, []float32{0, 1, 3, 4}, got[12:], 1e-6)
}

func TestPipelineResizesNormalizedValues(t *testing.T) {
	img := dataset.NewImage(2, 2, 1)
	copy(img.Pix, []uint8{0, 1, 0, 1})
	norm := &Normalization{Mean: []float32{0}, Variance: []float32{4}}
	p := NewPipeline(DefaultOptions(4), norm)

	out := p.Apply(img, nil, false)
	assert.InDeltaSlice(t, []float32{0, 0.125, 0.375, 0.5}, out[:4], 1e-6)
}

func TestPipelineTrainingDeterministicPerSeed(t *testing.T) {
	img := dataset.Synthetic(dataset.SyntheticOptions{Train: 1, Size: 6, Channels: 3, NumClasses: 4, Seed: 2}).Train.Images[0]
	p := NewPipeline(DefaultOptions(6), nil)

	a := p.Apply(img, rand.New(rand.NewSource(7)), true)
	b := p.Apply(img, rand.New(rand.NewSource(7)), true)
	assert.Equal(t, a, b)
	assert.Len(t, a, 6*6*3)

	plain := p.Apply(img, nil, false)
	assert.NotEqual(t, plain, a)
}
