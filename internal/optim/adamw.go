// Package optim holds the AdamW optimizer used for training.
package optim

import (
	"fmt"

	"github.com/chewxy/math32"

	"vit-classifier/internal/nn"
)

// AdamWConfig holds the optimizer hyperparameters.
type AdamWConfig struct {
	LearningRate float32 `yaml:"learning_rate"`
	WeightDecay  float32 `yaml:"weight_decay"`
	Beta1        float32 `yaml:"beta_1"`
	Beta2        float32 `yaml:"beta_2"`
	Epsilon      float32 `yaml:"epsilon"`
}

// DefaultAdamWConfig returns the tutorial settings.
func DefaultAdamWConfig() AdamWConfig {
	return AdamWConfig{
		LearningRate: 0.001,
		WeightDecay:  0.0001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-7,
	}
}

// AdamW is Adam with decoupled weight decay. Each step first shrinks every
// parameter by WeightDecay (not scaled by the learning rate), then applies
// the bias-corrected Adam update.
type AdamW struct {
	cfg    AdamWConfig
	params *nn.ParamSet
	m, v   [][]float32
	step   int
}

// NewAdamW returns an optimizer with zeroed moments for every parameter
// in params.
func NewAdamW(cfg AdamWConfig, params *nn.ParamSet) *AdamW {
	n := len(params.Params())
	return &AdamW{cfg: cfg, params: params, m: make([][]float32, n), v: make([][]float32, n)}
}

// Steps returns the number of updates applied so far.
func (o *AdamW) Steps() int { return o.step }

// Step updates every parameter from grads. Parameters without a gradient
// buffer are treated as having a zero gradient.
func (o *AdamW) Step(grads *nn.Grads) error {
	o.step++
	t := float32(o.step)
	c := o.cfg
	lr := c.LearningRate * math32.Sqrt(1-math32.Pow(c.Beta2, t)) / (1 - math32.Pow(c.Beta1, t))

	for i, p := range o.params.Params() {
		g := grads.Get(p)
		if g != nil && len(g) != len(p.Data) {
			return fmt.Errorf("adamw: gradient for %s has %d values, want %d", p.Name, len(g), len(p.Data))
		}
		if o.m[i] == nil {
			o.m[i] = make([]float32, len(p.Data))
			o.v[i] = make([]float32, len(p.Data))
		}
		m, v := o.m[i], o.v[i]
		for j := range p.Data {
			var gj float32
			if g != nil {
				gj = g[j]
			}
			p.Data[j] -= c.WeightDecay * p.Data[j]
			m[j] = c.Beta1*m[j] + (1-c.Beta1)*gj
			v[j] = c.Beta2*v[j] + (1-c.Beta2)*gj*gj
			p.Data[j] -= lr * m[j] / (math32.Sqrt(v[j]) + c.Epsilon)
		}
	}
	return nil
}
