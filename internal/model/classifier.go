package model

import (
	"fmt"
	"math/rand"

	"vit-classifier/internal/nn"
)

// Classifier is the full ViT: patch encoder, encoder stack and head.
type Classifier struct {
	Options Options
	Encoder *PatchEncoder
	Blocks  []*EncoderBlock
	Head    *Head

	params *nn.ParamSet
}

var _ Model = (*Classifier)(nil)

// New builds a classifier with weights initialized from seed.
func New(o Options, seed int64) (*Classifier, error) {
	if err := o.Validate(); err != nil {
		return nil, fmt.Errorf("model options: %w", err)
	}
	rng := rand.New(rand.NewSource(seed))
	ps := nn.NewParamSet()

	c := &Classifier{
		Options: o,
		Encoder: NewPatchEncoder(ps, o.NumPatches(), o.PatchDim(), o.ProjectionDim, rng),
		params:  ps,
	}
	for i := 0; i < o.Layers; i++ {
		c.Blocks = append(c.Blocks, NewEncoderBlock(ps, fmt.Sprintf("encoder_%d", i), o, rng))
	}
	c.Head = NewHead(ps, o, rng)
	return c, nil
}

// Params returns every trainable parameter in registration order.
func (c *Classifier) Params() *nn.ParamSet { return c.params }

// Encode runs the patch encoder and every encoder block.
func (c *Classifier) Encode(t *nn.Tape, patches nn.Matrix) (nn.Matrix, nn.Backward) {
	x, backEnc := c.Encoder.Forward(t, patches)
	backs := []nn.Backward{backEnc}
	for _, b := range c.Blocks {
		var back nn.Backward
		x, back = b.Forward(t, x)
		backs = append(backs, back)
	}
	return x, chain(backs)
}

// Forward returns the logits for one patch sequence and a function that
// back-propagates a logits gradient into the tape.
func (c *Classifier) Forward(t *nn.Tape, patches nn.Matrix) ([]float32, func(dlogits []float32)) {
	x, backEncode := c.Encode(t, patches)
	logits, backHead := c.Head.Forward(t, x)
	return logits.Data, func(dlogits []float32) {
		backEncode(backHead(nn.FromSlice(1, len(dlogits), dlogits)))
	}
}
