package nn

import (
	"math/rand"

	"github.com/chewxy/math32"
)

// Param is a named trainable tensor. Shape is informational; Data is flat.
type Param struct {
	Name  string
	Shape []int
	Data  []float32

	id int
}

// Size returns the number of scalar values in p.
func (p *Param) Size() int { return len(p.Data) }

// ParamSet owns every parameter of one model instance.
type ParamSet struct {
	params []*Param
	byName map[string]*Param
}

// NewParamSet returns an empty set.
func NewParamSet() *ParamSet {
	return &ParamSet{byName: make(map[string]*Param)}
}

// New registers a zero-initialized parameter. Names must be unique.
func (s *ParamSet) New(name string, shape ...int) *Param {
	if _, ok := s.byName[name]; ok {
		panic("nn: duplicate parameter " + name)
	}
	size := 1
	for _, d := range shape {
		size *= d
	}
	p := &Param{
		Name:  name,
		Shape: append([]int(nil), shape...),
		Data:  make([]float32, size),
		id:    len(s.params),
	}
	s.params = append(s.params, p)
	s.byName[name] = p
	return p
}

// Params returns parameters in registration order.
func (s *ParamSet) Params() []*Param { return s.params }

// Lookup finds a parameter by name.
func (s *ParamSet) Lookup(name string) (*Param, bool) {
	p, ok := s.byName[name]
	return p, ok
}

// Count returns the total number of scalar parameters.
func (s *ParamSet) Count() int {
	n := 0
	for _, p := range s.params {
		n += p.Size()
	}
	return n
}

// Grads holds one gradient buffer per parameter of a ParamSet. Buffers are
// allocated on first use.
type Grads struct {
	set  *ParamSet
	bufs [][]float32
}

// NewGrads returns empty gradient storage for s.
func NewGrads(s *ParamSet) *Grads {
	return &Grads{set: s, bufs: make([][]float32, len(s.params))}
}

// Of returns the buffer for p, allocating it if needed.
func (g *Grads) Of(p *Param) []float32 {
	if g.bufs[p.id] == nil {
		g.bufs[p.id] = make([]float32, len(p.Data))
	}
	return g.bufs[p.id]
}

// Get returns the buffer for p or nil if p never received a gradient.
func (g *Grads) Get(p *Param) []float32 { return g.bufs[p.id] }

// Zero clears all buffers while keeping their storage.
func (g *Grads) Zero() {
	for _, b := range g.bufs {
		clear(b)
	}
}

// Accumulate adds o into g.
func (g *Grads) Accumulate(o *Grads) {
	for i, src := range o.bufs {
		if src == nil {
			continue
		}
		if g.bufs[i] == nil {
			g.bufs[i] = make([]float32, len(src))
		}
		addTo(g.bufs[i], src)
	}
}

// Scale multiplies every buffer by f.
func (g *Grads) Scale(f float32) {
	for _, b := range g.bufs {
		for i := range b {
			b[i] *= f
		}
	}
}

// GlorotUniform fills data from U(-l, l) with l = sqrt(6 / (fanIn + fanOut)).
func GlorotUniform(data []float32, fanIn, fanOut int, rng *rand.Rand) {
	limit := math32.Sqrt(6 / float32(fanIn+fanOut))
	Uniform(data, -limit, limit, rng)
}

// Uniform fills data from U(lo, hi).
func Uniform(data []float32, lo, hi float32, rng *rand.Rand) {
	for i := range data {
		data[i] = lo + (hi-lo)*rng.Float32()
	}
}

// Fill sets every value to v.
func Fill(data []float32, v float32) {
	for i := range data {
		data[i] = v
	}
}
