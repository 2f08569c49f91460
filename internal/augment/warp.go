package augment

import "github.com/chewxy/math32"

// Resize scales an h x w HWC image to size x size with bilinear sampling on
// half-pixel centers. Edge pixels are clamped.
func Resize(pix []float32, h, w, channels, size int) []float32 {
	out := make([]float32, size*size*channels)
	scaleY, scaleX := float32(h)/float32(size), float32(w)/float32(size)
	for y := 0; y < size; y++ {
		sy := clamp((float32(y)+0.5)*scaleY-0.5, h)
		y0 := int(sy)
		y1, fy := min(y0+1, h-1), sy-float32(y0)
		for x := 0; x < size; x++ {
			sx := clamp((float32(x)+0.5)*scaleX-0.5, w)
			x0 := int(sx)
			x1, fx := min(x0+1, w-1), sx-float32(x0)

			dst := out[(y*size+x)*channels:]
			for c := 0; c < channels; c++ {
				v00 := pix[(y0*w+x0)*channels+c]
				v01 := pix[(y0*w+x1)*channels+c]
				v10 := pix[(y1*w+x0)*channels+c]
				v11 := pix[(y1*w+x1)*channels+c]
				top := v00 + (v01-v00)*fx
				bottom := v10 + (v11-v10)*fx
				dst[c] = top + (bottom-top)*fy
			}
		}
	}
	return out
}

func clamp(v float32, n int) float32 {
	return math32.Max(0, math32.Min(v, float32(n-1)))
}

// FlipHorizontal mirrors an HWC image left to right in place.
func FlipHorizontal(pix []float32, size, channels int) {
	for y := 0; y < size; y++ {
		row := pix[y*size*channels : (y+1)*size*channels]
		for l, r := 0, size-1; l < r; l, r = l+1, r-1 {
			for c := 0; c < channels; c++ {
				row[l*channels+c], row[r*channels+c] = row[r*channels+c], row[l*channels+c]
			}
		}
	}
}

// Rotate turns the image by angle radians about its center.
func Rotate(pix []float32, size, channels int, angle float32) []float32 {
	sin, cos := math32.Sin(angle), math32.Cos(angle)
	center := float32(size-1) / 2
	return warp(pix, size, channels, func(x, y float32) (float32, float32) {
		dx, dy := x-center, y-center
		return center + cos*dx - sin*dy, center + sin*dx + cos*dy
	})
}

// Zoom scales the sampling grid about the center. Factors above one zoom
// out, below one zoom in.
func Zoom(pix []float32, size, channels int, zoomY, zoomX float32) []float32 {
	center := float32(size-1) / 2
	return warp(pix, size, channels, func(x, y float32) (float32, float32) {
		return center + zoomX*(x-center), center + zoomY*(y-center)
	})
}

// warp resamples pix bilinearly. source maps an output pixel to the input
// coordinate it reads from; coordinates outside the image are reflected.
func warp(pix []float32, size, channels int, source func(x, y float32) (float32, float32)) []float32 {
	out := make([]float32, len(pix))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			sx, sy := source(float32(x), float32(y))
			sx, sy = reflect(sx, size), reflect(sy, size)

			x0, y0 := int(math32.Floor(sx)), int(math32.Floor(sy))
			x1, y1 := min(x0+1, size-1), min(y0+1, size-1)
			fx, fy := sx-float32(x0), sy-float32(y0)

			dst := out[(y*size+x)*channels:]
			for c := 0; c < channels; c++ {
				v00 := pix[(y0*size+x0)*channels+c]
				v01 := pix[(y0*size+x1)*channels+c]
				v10 := pix[(y1*size+x0)*channels+c]
				v11 := pix[(y1*size+x1)*channels+c]
				top := v00 + (v01-v00)*fx
				bottom := v10 + (v11-v10)*fx
				dst[c] = top + (bottom-top)*fy
			}
		}
	}
	return out
}

// reflect folds a coordinate into [0, n-1] the way "reflect" fill does:
// d c b a | a b c d | d c b a.
func reflect(v float32, n int) float32 {
	size := float32(n)
	period := 2 * size
	if v < 0 {
		if v < -period {
			v += period * math32.Floor(-v/period)
		}
		if v < -size {
			v += period
		} else {
			v = -v - 1
		}
	} else if v > size-1 {
		v -= period * math32.Floor(v/period)
		if v >= size {
			v = period - v - 1
		}
	}
	return math32.Max(0, math32.Min(v, size-1))
}
