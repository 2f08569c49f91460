package nn

import (
	"math"
	"math/rand"

	"github.com/chewxy/math32"
)

// Tape carries per-pass state: whether stochastic layers are active, the
// random source they draw from, and where parameter gradients accumulate.
// A nil Grads makes backward closures skip parameter gradients.
type Tape struct {
	Training bool
	RNG      *rand.Rand
	Grads    *Grads
}

// Backward maps the gradient of a layer's output to the gradient of its
// input, accumulating parameter gradients into the tape on the way.
type Backward func(dy Matrix) Matrix

// Linear is a dense layer y = xW + b with W stored as in x out.
type Linear struct {
	Name    string
	In, Out int
	W, B    *Param
}

// NewLinear registers kernel and bias under name and Glorot-initializes the
// kernel.
func NewLinear(ps *ParamSet, name string, in, out int, rng *rand.Rand) *Linear {
	l := &Linear{
		Name: name,
		In:   in,
		Out:  out,
		W:    ps.New(name+"/kernel", in, out),
		B:    ps.New(name+"/bias", out),
	}
	GlorotUniform(l.W.Data, in, out, rng)
	return l
}

func (l *Linear) kernel() Matrix { return FromSlice(l.In, l.Out, l.W.Data) }

// Forward applies the layer to every row of x.
func (l *Linear) Forward(t *Tape, x Matrix) (Matrix, Backward) {
	y := NewMatrix(x.Rows, l.Out)
	for i := 0; i < y.Rows; i++ {
		copy(y.Row(i), l.B.Data)
	}
	gemm(false, false, 1, x.general(), l.kernel().general(), 1, y.general())

	return y, func(dy Matrix) Matrix {
		if t.Grads != nil {
			dw := FromSlice(l.In, l.Out, t.Grads.Of(l.W))
			gemm(true, false, 1, x.general(), dy.general(), 1, dw.general())
			db := t.Grads.Of(l.B)
			for i := 0; i < dy.Rows; i++ {
				addTo(db, dy.Row(i))
			}
		}
		dx := NewMatrix(x.Rows, l.In)
		gemm(false, true, 1, dy.general(), l.kernel().general(), 0, dx.general())
		return dx
	}
}

// LayerNorm normalizes each row to zero mean and unit variance, then
// applies a learned scale and shift.
type LayerNorm struct {
	Name        string
	Dim         int
	Eps         float32
	Gamma, Beta *Param
}

// NewLayerNorm registers gamma (ones) and beta (zeros).
func NewLayerNorm(ps *ParamSet, name string, dim int, eps float32) *LayerNorm {
	ln := &LayerNorm{
		Name:  name,
		Dim:   dim,
		Eps:   eps,
		Gamma: ps.New(name+"/gamma", dim),
		Beta:  ps.New(name+"/beta", dim),
	}
	Fill(ln.Gamma.Data, 1)
	return ln
}

// Forward normalizes every row of x.
func (ln *LayerNorm) Forward(t *Tape, x Matrix) (Matrix, Backward) {
	n := float32(x.Cols)
	y := NewMatrix(x.Rows, x.Cols)
	xhat := NewMatrix(x.Rows, x.Cols)
	inv := make([]float32, x.Rows)

	for i := 0; i < x.Rows; i++ {
		row := x.Row(i)
		var mean float32
		for _, v := range row {
			mean += v
		}
		mean /= n
		var variance float32
		for _, v := range row {
			d := v - mean
			variance += d * d
		}
		variance /= n
		inv[i] = 1 / math32.Sqrt(variance+ln.Eps)

		hrow, yrow := xhat.Row(i), y.Row(i)
		for j, v := range row {
			hrow[j] = (v - mean) * inv[i]
			yrow[j] = hrow[j]*ln.Gamma.Data[j] + ln.Beta.Data[j]
		}
	}

	return y, func(dy Matrix) Matrix {
		dx := NewMatrix(x.Rows, x.Cols)
		var dgamma, dbeta []float32
		if t.Grads != nil {
			dgamma, dbeta = t.Grads.Of(ln.Gamma), t.Grads.Of(ln.Beta)
		}
		for i := 0; i < dy.Rows; i++ {
			drow, hrow := dy.Row(i), xhat.Row(i)
			var sum, sumH float32
			for j, g := range drow {
				if dgamma != nil {
					dgamma[j] += g * hrow[j]
					dbeta[j] += g
				}
				dh := g * ln.Gamma.Data[j]
				sum += dh
				sumH += dh * hrow[j]
			}
			dxrow := dx.Row(i)
			for j, g := range drow {
				dh := g * ln.Gamma.Data[j]
				dxrow[j] = inv[i] / n * (n*dh - sum - hrow[j]*sumH)
			}
		}
		return dx
	}
}

// Embedding is a lookup table of Count vectors of width Dim.
type Embedding struct {
	Name       string
	Count, Dim int
	Table      *Param
}

// NewEmbedding registers the table and fills it from U(-0.05, 0.05).
func NewEmbedding(ps *ParamSet, name string, count, dim int, rng *rand.Rand) *Embedding {
	e := &Embedding{
		Name:  name,
		Count: count,
		Dim:   dim,
		Table: ps.New(name+"/embeddings", count, dim),
	}
	Uniform(e.Table.Data, -0.05, 0.05, rng)
	return e
}

// Forward gathers the rows named by ids. The returned closure scatters the
// output gradient back into the table.
func (e *Embedding) Forward(t *Tape, ids []int) (Matrix, func(dy Matrix)) {
	out := NewMatrix(len(ids), e.Dim)
	for i, id := range ids {
		copy(out.Row(i), e.Table.Data[id*e.Dim:(id+1)*e.Dim])
	}
	return out, func(dy Matrix) {
		if t.Grads == nil {
			return
		}
		g := t.Grads.Of(e.Table)
		for i, id := range ids {
			addTo(g[id*e.Dim:(id+1)*e.Dim], dy.Row(i))
		}
	}
}

// GELU applies the exact Gaussian error linear unit elementwise.
func GELU(x Matrix) (Matrix, Backward) {
	y := NewMatrix(x.Rows, x.Cols)
	for i, v := range x.Data {
		y.Data[i] = float32(0.5 * float64(v) * (1 + math.Erf(float64(v)/math.Sqrt2)))
	}
	return y, func(dy Matrix) Matrix {
		dx := NewMatrix(x.Rows, x.Cols)
		for i, v := range x.Data {
			f := float64(v)
			cdf := 0.5 * (1 + math.Erf(f/math.Sqrt2))
			pdf := math.Exp(-0.5*f*f) / math.Sqrt(2*math.Pi)
			dx.Data[i] = dy.Data[i] * float32(cdf+f*pdf)
		}
		return dx
	}
}

// Dropout zeroes each value with probability rate during training and
// scales survivors by 1/(1-rate). It is the identity at inference.
func Dropout(t *Tape, x Matrix, rate float32) (Matrix, Backward) {
	if !t.Training || rate <= 0 {
		return x, func(dy Matrix) Matrix { return dy }
	}
	keep := 1 - rate
	scale := 1 / keep
	mask := make([]float32, len(x.Data))
	y := NewMatrix(x.Rows, x.Cols)
	for i, v := range x.Data {
		if t.RNG.Float32() < keep {
			mask[i] = scale
			y.Data[i] = v * scale
		}
	}
	return y, func(dy Matrix) Matrix {
		dx := NewMatrix(dy.Rows, dy.Cols)
		for i, g := range dy.Data {
			dx.Data[i] = g * mask[i]
		}
		return dx
	}
}

// SoftmaxRows applies a numerically stable softmax to every row in place.
func SoftmaxRows(m Matrix) {
	for i := 0; i < m.Rows; i++ {
		softmax(m.Row(i))
	}
}

func softmax(row []float32) {
	maxv := row[0]
	for _, v := range row[1:] {
		if v > maxv {
			maxv = v
		}
	}
	var sum float32
	for j, v := range row {
		e := math32.Exp(v - maxv)
		row[j] = e
		sum += e
	}
	for j := range row {
		row[j] /= sum
	}
}
