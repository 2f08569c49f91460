// Package nn holds the float32 building blocks of the classifier: a dense
// row-major matrix, named parameters with gradient buffers, and layers that
// return an explicit backward closure from every forward call.
package nn

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Matrix is a dense row-major float32 matrix.
type Matrix struct {
	Rows, Cols int
	Data       []float32
}

// NewMatrix allocates a zeroed rows x cols matrix.
func NewMatrix(rows, cols int) Matrix {
	return Matrix{Rows: rows, Cols: cols, Data: make([]float32, rows*cols)}
}

// FromSlice wraps data without copying. It panics if the length does not
// match the shape.
func FromSlice(rows, cols int, data []float32) Matrix {
	if len(data) != rows*cols {
		panic(fmt.Sprintf("nn: %d values cannot form a %dx%d matrix", len(data), rows, cols))
	}
	return Matrix{Rows: rows, Cols: cols, Data: data}
}

// Row returns row i as a slice sharing the matrix storage.
func (m Matrix) Row(i int) []float32 {
	return m.Data[i*m.Cols : (i+1)*m.Cols]
}

// Clone returns a deep copy.
func (m Matrix) Clone() Matrix {
	out := NewMatrix(m.Rows, m.Cols)
	copy(out.Data, m.Data)
	return out
}

// Reshape returns a view with a different shape over the same storage.
func (m Matrix) Reshape(rows, cols int) Matrix {
	return FromSlice(rows, cols, m.Data)
}

func (m Matrix) general() blas32.General {
	return blas32.General{Rows: m.Rows, Cols: m.Cols, Stride: m.Cols, Data: m.Data}
}

// columns views cols columns starting at col0, keeping the parent stride.
func (m Matrix) columns(col0, cols int) blas32.General {
	return blas32.General{Rows: m.Rows, Cols: cols, Stride: m.Cols, Data: m.Data[col0:]}
}

func transpose(t bool) blas.Transpose {
	if t {
		return blas.Trans
	}
	return blas.NoTrans
}

// gemm computes c = alpha*op(a)*op(b) + beta*c.
func gemm(tA, tB bool, alpha float32, a, b blas32.General, beta float32, c blas32.General) {
	blas32.Gemm(transpose(tA), transpose(tB), alpha, a, b, beta, c)
}

// MatMul returns a*b.
func MatMul(a, b Matrix) Matrix {
	if a.Cols != b.Rows {
		panic(fmt.Sprintf("nn: matmul shape mismatch %dx%d * %dx%d", a.Rows, a.Cols, b.Rows, b.Cols))
	}
	c := NewMatrix(a.Rows, b.Cols)
	gemm(false, false, 1, a.general(), b.general(), 0, c.general())
	return c
}

// Add returns a+b.
func Add(a, b Matrix) Matrix {
	if a.Rows != b.Rows || a.Cols != b.Cols {
		panic(fmt.Sprintf("nn: add shape mismatch %dx%d + %dx%d", a.Rows, a.Cols, b.Rows, b.Cols))
	}
	out := a.Clone()
	addTo(out.Data, b.Data)
	return out
}

func addTo(dst, src []float32) {
	for i, v := range src {
		dst[i] += v
	}
}
