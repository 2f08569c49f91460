package nn

import (
	"fmt"
	"math/rand"

	"github.com/chewxy/math32"
)

// MultiHeadAttention is unmasked scaled dot-product self-attention with
// Heads heads of width KeyDim, followed by an output projection back to the
// input width.
type MultiHeadAttention struct {
	Name    string
	Heads   int
	KeyDim  int
	Dropout float32

	Query, Key, Value, Output *Linear
}

// NewMultiHeadAttention registers the four projections of a dim-wide block.
func NewMultiHeadAttention(ps *ParamSet, name string, dim, heads, keyDim int, dropout float32, rng *rand.Rand) *MultiHeadAttention {
	width := heads * keyDim
	return &MultiHeadAttention{
		Name:    name,
		Heads:   heads,
		KeyDim:  keyDim,
		Dropout: dropout,
		Query:   NewLinear(ps, name+"/query", dim, width, rng),
		Key:     NewLinear(ps, name+"/key", dim, width, rng),
		Value:   NewLinear(ps, name+"/value", dim, width, rng),
		Output:  NewLinear(ps, name+"/attention_output", width, dim, rng),
	}
}

// Forward attends every row of x to every row of x.
func (m *MultiHeadAttention) Forward(t *Tape, x Matrix) (Matrix, Backward) {
	if x.Cols != m.Query.In {
		panic(fmt.Sprintf("nn: %s expects width %d, got %d", m.Name, m.Query.In, x.Cols))
	}
	q, backQ := m.Query.Forward(t, x)
	k, backK := m.Key.Forward(t, x)
	v, backV := m.Value.Forward(t, x)

	n, dk := x.Rows, m.KeyDim
	scale := 1 / math32.Sqrt(float32(dk))
	ctx := NewMatrix(n, m.Heads*dk)
	probs := make([]Matrix, m.Heads)
	dropped := make([]Matrix, m.Heads)
	backDrop := make([]Backward, m.Heads)

	for h := 0; h < m.Heads; h++ {
		col := h * dk
		scores := NewMatrix(n, n)
		gemm(false, true, scale, q.columns(col, dk), k.columns(col, dk), 0, scores.general())
		SoftmaxRows(scores)
		probs[h] = scores
		dropped[h], backDrop[h] = Dropout(t, scores, m.Dropout)
		gemm(false, false, 1, dropped[h].general(), v.columns(col, dk), 0, ctx.columns(col, dk))
	}

	out, backOut := m.Output.Forward(t, ctx)

	return out, func(dy Matrix) Matrix {
		dctx := backOut(dy)
		dq := NewMatrix(n, m.Heads*dk)
		dkm := NewMatrix(n, m.Heads*dk)
		dv := NewMatrix(n, m.Heads*dk)

		for h := 0; h < m.Heads; h++ {
			col := h * dk
			ddrop := NewMatrix(n, n)
			gemm(false, true, 1, dctx.columns(col, dk), v.columns(col, dk), 0, ddrop.general())
			gemm(true, false, 1, dropped[h].general(), dctx.columns(col, dk), 0, dv.columns(col, dk))

			dp := backDrop[h](ddrop)
			p := probs[h]
			ds := NewMatrix(n, n)
			for i := 0; i < n; i++ {
				prow, dprow, dsrow := p.Row(i), dp.Row(i), ds.Row(i)
				var dot float32
				for j := range prow {
					dot += prow[j] * dprow[j]
				}
				for j := range prow {
					dsrow[j] = prow[j] * (dprow[j] - dot)
				}
			}
			gemm(false, false, scale, ds.general(), k.columns(col, dk), 0, dq.columns(col, dk))
			gemm(true, false, scale, ds.general(), q.columns(col, dk), 0, dkm.columns(col, dk))
		}

		dx := backQ(dq)
		addTo(dx.Data, backK(dkm).Data)
		addTo(dx.Data, backV(dv).Data)
		return dx
	}
}
