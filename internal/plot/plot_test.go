package plot

import (
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vit-classifier/internal/dataset"
	"vit-classifier/internal/model"
)

func sample() dataset.Image {
	return dataset.Synthetic(dataset.SyntheticOptions{Train: 1, Size: 12, Channels: 3, NumClasses: 3, Seed: 1}).Train.Images[0]
}

func decode(t *testing.T, path string, fn func(f *os.File) (image.Image, error)) image.Image {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := fn(f)
	require.NoError(t, err)
	return img
}

func decodeJPEG(f *os.File) (image.Image, error) { return jpeg.Decode(f) }

func decodePNG(f *os.File) (image.Image, error) { return png.Decode(f) }

func TestSampleImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vit_classification_image.jpeg")
	require.NoError(t, SampleImage(path, sample(), 4))

	img := decode(t, path, decodeJPEG)
	assert.Equal(t, image.Rect(0, 0, 48, 48), img.Bounds())
}

func TestPatchGrid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vit_classification_patches.jpeg")
	require.NoError(t, PatchGrid(path, sample(), 18, 6, 2, 3))

	// 3 tiles of 12px and 4 gutters of 3px
	img := decode(t, path, decodeJPEG)
	assert.Equal(t, image.Rect(0, 0, 48, 48), img.Bounds())
}

func TestPatchGridIndivisible(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grid.jpeg")
	assert.Error(t, PatchGrid(path, sample(), 10, 3, 1, 1))
}

func TestModelDiagram(t *testing.T) {
	o := model.Options{
		ImageSize:        8,
		PatchSize:        4,
		Channels:         3,
		ProjectionDim:    8,
		NumHeads:         2,
		Layers:           2,
		TransformerUnits: []int{16, 8},
		HeadUnits:        []int{12},
		NumClasses:       5,
		Epsilon:          1e-6,
	}
	c, err := model.New(o, 1)
	require.NoError(t, err)
	nodes := c.Graph()

	path := filepath.Join(t.TempDir(), "vit_classifier.png")
	require.NoError(t, ModelDiagram(path, nodes))

	img := decode(t, path, decodePNG)
	wantHeight := 2*margin + len(nodes)*boxHeight + (len(nodes)-1)*rowGap
	assert.Equal(t, wantHeight, img.Bounds().Dy())

	// box outline at the top-left corner of the first node
	r, g, b, _ := img.At(margin, margin).RGBA()
	assert.Equal(t, [3]uint32{0x2020, 0x2020, 0x2020}, [3]uint32{r, g, b})
}

func TestModelDiagramEmpty(t *testing.T) {
	assert.Error(t, ModelDiagram(filepath.Join(t.TempDir(), "x.png"), nil))
}
