// Package plot writes the illustration files: a sample image, its patch
// grid and a diagram of the model.
package plot

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"

	"golang.org/x/image/draw"

	"vit-classifier/internal/dataset"
	"vit-classifier/internal/patch"
)

var background = color.RGBA{255, 255, 255, 255}

// SampleImage writes img upscaled by scale with nearest neighbour sampling.
func SampleImage(path string, img dataset.Image, scale int) error {
	if scale < 1 {
		scale = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, img.Width*scale, img.Height*scale))
	draw.NearestNeighbor.Scale(dst, dst.Rect, img.ToImage(), image.Rect(0, 0, img.Width, img.Height), draw.Src, nil)
	return writeJPEG(path, dst)
}

// PatchGrid resizes img to imageSize, cuts it into patchSize tiles and
// writes them as an n x n grid separated by gutter pixels. Each tile is
// magnified by scale.
func PatchGrid(path string, img dataset.Image, imageSize, patchSize, scale, gutter int) error {
	resized := dataset.FromImage(img.ToImage(), imageSize, img.Channels)
	pix := make([]float32, len(resized.Pix))
	for i, v := range resized.Pix {
		pix[i] = float32(v)
	}
	seq, err := patch.Extract(pix, imageSize, img.Channels, patchSize)
	if err != nil {
		return err
	}
	n, err := patch.Grid(imageSize, patchSize)
	if err != nil {
		return err
	}

	tile := patchSize * scale
	side := n*tile + (n+1)*gutter
	dst := image.NewRGBA(image.Rect(0, 0, side, side))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{background}, image.Point{}, draw.Src)

	for i := 0; i < seq.Count; i++ {
		p := dataset.NewImage(patchSize, patchSize, img.Channels)
		for j, v := range seq.Patch(i) {
			p.Pix[j] = uint8(v)
		}
		row, col := i/n, i%n
		x0 := gutter + col*(tile+gutter)
		y0 := gutter + row*(tile+gutter)
		r := image.Rect(x0, y0, x0+tile, y0+tile)
		draw.NearestNeighbor.Scale(dst, r, p.ToImage(), image.Rect(0, 0, patchSize, patchSize), draw.Src, nil)
	}
	return writeJPEG(path, dst)
}

func writeJPEG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 95}); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}
