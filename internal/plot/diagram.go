package plot

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"

	"vit-classifier/internal/model"
)

const (
	margin     = 20
	padding    = 8
	lineHeight = 13
	boxHeight  = 2*lineHeight + 2*padding
	rowGap     = 22
	laneWidth  = 14
	arrowSize  = 5
)

var (
	ink      = color.RGBA{0x20, 0x20, 0x20, 0xff}
	boxFill  = color.RGBA{0xe8, 0xf0, 0xfa, 0xff}
	skipInk  = color.RGBA{0x1f, 0x6f, 0xb4, 0xff}
	fontFace = basicfont.Face7x13
)

func labels(n model.Node) (string, string) {
	return fmt.Sprintf("%s (%s)", n.Name, n.Kind), model.FormatShape(n.Shape)
}

// ModelDiagram draws nodes top to bottom as labelled boxes. Edges from the
// previous node run straight down; every other edge is routed along a lane
// to the right of the boxes.
func ModelDiagram(path string, nodes []model.Node) error {
	if len(nodes) == 0 {
		return fmt.Errorf("plot: empty model graph")
	}

	textWidth := 0
	for _, n := range nodes {
		title, shape := labels(n)
		textWidth = max(textWidth, font.MeasureString(fontFace, title).Ceil(), font.MeasureString(fontFace, shape).Ceil())
	}
	boxWidth := textWidth + 2*padding
	width := 2*margin + boxWidth + 3*laneWidth
	height := 2*margin + len(nodes)*boxHeight + (len(nodes)-1)*rowGap

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{background}, image.Point{}, draw.Src)

	top := func(i int) int { return margin + i*(boxHeight+rowGap) }
	right := margin + boxWidth
	center := margin + boxWidth/2

	edges := vector.NewRasterizer(width, height)
	skips := vector.NewRasterizer(width, height)
	lane := 0
	for i, n := range nodes {
		for _, in := range n.Inputs {
			if in == i-1 {
				rect(edges, center, top(in)+boxHeight, center+1, top(i)-arrowSize)
				arrowDown(edges, center, top(i))
				continue
			}
			x := right + (1+lane%2)*laneWidth
			lane++
			yFrom := top(in) + boxHeight/2
			yTo := top(i) + boxHeight/2
			rect(skips, right, yFrom, x+1, yFrom+1)
			rect(skips, x, yFrom, x+1, yTo+1)
			rect(skips, right+arrowSize, yTo, x+1, yTo+1)
			arrowLeft(skips, right, yTo)
		}
	}
	edges.Draw(dst, dst.Bounds(), image.NewUniform(ink), image.Point{})
	skips.Draw(dst, dst.Bounds(), image.NewUniform(skipInk), image.Point{})

	d := &font.Drawer{Dst: dst, Src: image.NewUniform(ink), Face: fontFace}
	for i, n := range nodes {
		box := image.Rect(margin, top(i), right, top(i)+boxHeight)
		draw.Draw(dst, box, image.NewUniform(boxFill), image.Point{}, draw.Src)
		outline(dst, box)

		title, shape := labels(n)
		d.Dot = fixed.P(margin+padding, top(i)+padding+lineHeight-2)
		d.DrawString(title)
		d.Dot = fixed.P(margin+padding, top(i)+padding+2*lineHeight-2)
		d.DrawString(shape)
	}
	return writePNG(path, dst)
}

func rect(z *vector.Rasterizer, x0, y0, x1, y1 int) {
	z.MoveTo(float32(x0), float32(y0))
	z.LineTo(float32(x1), float32(y0))
	z.LineTo(float32(x1), float32(y1))
	z.LineTo(float32(x0), float32(y1))
	z.ClosePath()
}

func arrowDown(z *vector.Rasterizer, x, y int) {
	z.MoveTo(float32(x-arrowSize), float32(y-arrowSize))
	z.LineTo(float32(x+arrowSize+1), float32(y-arrowSize))
	z.LineTo(float32(x)+0.5, float32(y))
	z.ClosePath()
}

func arrowLeft(z *vector.Rasterizer, x, y int) {
	z.MoveTo(float32(x+arrowSize), float32(y-arrowSize))
	z.LineTo(float32(x+arrowSize), float32(y+arrowSize+1))
	z.LineTo(float32(x), float32(y)+0.5)
	z.ClosePath()
}

func outline(dst *image.RGBA, r image.Rectangle) {
	for x := r.Min.X; x < r.Max.X; x++ {
		dst.SetRGBA(x, r.Min.Y, ink)
		dst.SetRGBA(x, r.Max.Y-1, ink)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		dst.SetRGBA(r.Min.X, y, ink)
		dst.SetRGBA(r.Max.X-1, y, ink)
	}
}
