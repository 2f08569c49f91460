package model

import (
	"fmt"
	"math/rand"

	"vit-classifier/internal/nn"
)

// FeedForward is a stack of dense layers, each followed by GELU and dropout.
type FeedForward struct {
	Layers []*nn.Linear
	Rate   float32
}

// NewFeedForward registers one dense layer per entry of units.
func NewFeedForward(ps *nn.ParamSet, name string, in int, units []int, rate float32, rng *rand.Rand) *FeedForward {
	ff := &FeedForward{Rate: rate}
	for i, u := range units {
		ff.Layers = append(ff.Layers, nn.NewLinear(ps, fmt.Sprintf("%s/dense_%d", name, i), in, u, rng))
		in = u
	}
	return ff
}

// Forward applies each dense layer followed by GELU and dropout.
func (ff *FeedForward) Forward(t *nn.Tape, x nn.Matrix) (nn.Matrix, nn.Backward) {
	backs := make([]nn.Backward, 0, 3*len(ff.Layers))
	for _, l := range ff.Layers {
		var b nn.Backward
		x, b = l.Forward(t, x)
		backs = append(backs, b)
		x, b = nn.GELU(x)
		backs = append(backs, b)
		x, b = nn.Dropout(t, x, ff.Rate)
		backs = append(backs, b)
	}
	return x, chain(backs)
}

// chain runs backward closures in reverse order.
func chain(backs []nn.Backward) nn.Backward {
	return func(dy nn.Matrix) nn.Matrix {
		for i := len(backs) - 1; i >= 0; i-- {
			dy = backs[i](dy)
		}
		return dy
	}
}

// PatchEncoder projects each patch to the model width and adds a learned
// position embedding.
type PatchEncoder struct {
	Projection *nn.Linear
	Position   *nn.Embedding
	positions  []int
}

// NewPatchEncoder registers the patch projection and the position
// embedding table.
func NewPatchEncoder(ps *nn.ParamSet, numPatches, patchDim, dim int, rng *rand.Rand) *PatchEncoder {
	e := &PatchEncoder{
		Projection: nn.NewLinear(ps, "patch_encoder/dense", patchDim, dim, rng),
		Position:   nn.NewEmbedding(ps, "patch_encoder/embedding", numPatches, dim, rng),
		positions:  make([]int, numPatches),
	}
	for i := range e.positions {
		e.positions[i] = i
	}
	return e
}

// Forward projects every patch and adds its position embedding.
func (e *PatchEncoder) Forward(t *nn.Tape, patches nn.Matrix) (nn.Matrix, nn.Backward) {
	if patches.Rows != len(e.positions) {
		panic(fmt.Sprintf("model: patch encoder expects %d patches, got %d", len(e.positions), patches.Rows))
	}
	proj, backProj := e.Projection.Forward(t, patches)
	pos, backPos := e.Position.Forward(t, e.positions)
	return nn.Add(proj, pos), func(dy nn.Matrix) nn.Matrix {
		backPos(dy)
		return backProj(dy)
	}
}

// EncoderBlock is a pre-norm transformer block with residual connections
// around attention and the feed-forward network.
type EncoderBlock struct {
	Norm1     *nn.LayerNorm
	Attention *nn.MultiHeadAttention
	Norm2     *nn.LayerNorm
	MLP       *FeedForward
}

// NewEncoderBlock registers one pre-norm attention and MLP block.
func NewEncoderBlock(ps *nn.ParamSet, name string, o Options, rng *rand.Rand) *EncoderBlock {
	d := o.ProjectionDim
	return &EncoderBlock{
		Norm1:     nn.NewLayerNorm(ps, name+"/layer_norm_1", d, o.Epsilon),
		Attention: nn.NewMultiHeadAttention(ps, name+"/multi_head_attention", d, o.NumHeads, d, o.AttentionDropout, rng),
		Norm2:     nn.NewLayerNorm(ps, name+"/layer_norm_2", d, o.Epsilon),
		MLP:       NewFeedForward(ps, name+"/mlp", d, o.TransformerUnits, o.EncoderDropout, rng),
	}
}

// Forward runs attention and the MLP, each with a residual connection.
func (b *EncoderBlock) Forward(t *nn.Tape, x nn.Matrix) (nn.Matrix, nn.Backward) {
	x1, backNorm1 := b.Norm1.Forward(t, x)
	a, backAttn := b.Attention.Forward(t, x1)
	x2 := nn.Add(a, x)
	x3, backNorm2 := b.Norm2.Forward(t, x2)
	x4, backMLP := b.MLP.Forward(t, x3)
	y := nn.Add(x4, x2)

	return y, func(dy nn.Matrix) nn.Matrix {
		dx2 := nn.Add(dy, backNorm2(backMLP(dy)))
		return nn.Add(dx2, backNorm1(backAttn(dx2)))
	}
}

// Head turns the encoded sequence into class logits.
type Head struct {
	Norm   *nn.LayerNorm
	Rate   float32
	MLP    *FeedForward
	Logits *nn.Linear
}

// NewHead registers the final norm, the head MLP and the logits layer.
func NewHead(ps *nn.ParamSet, o Options, rng *rand.Rand) *Head {
	flat := o.NumPatches() * o.ProjectionDim
	width := flat
	if n := len(o.HeadUnits); n > 0 {
		width = o.HeadUnits[n-1]
	}
	return &Head{
		Norm:   nn.NewLayerNorm(ps, "head/layer_norm", o.ProjectionDim, o.Epsilon),
		Rate:   o.HeadDropout,
		MLP:    NewFeedForward(ps, "head/mlp", flat, o.HeadUnits, o.HeadDropout, rng),
		Logits: nn.NewLinear(ps, "head/logits", width, o.NumClasses, rng),
	}
}

// Forward maps the encoded sequence to class logits.
func (h *Head) Forward(t *nn.Tape, x nn.Matrix) (nn.Matrix, nn.Backward) {
	normed, backNorm := h.Norm.Forward(t, x)
	flat := normed.Reshape(1, normed.Rows*normed.Cols)
	dropped, backDrop := nn.Dropout(t, flat, h.Rate)
	features, backMLP := h.MLP.Forward(t, dropped)
	logits, backLogits := h.Logits.Forward(t, features)

	return logits, func(dy nn.Matrix) nn.Matrix {
		d := backDrop(backMLP(backLogits(dy)))
		return backNorm(d.Reshape(x.Rows, x.Cols))
	}
}
