// Package model builds the Vision Transformer classifier out of nn layers.
package model

import (
	"errors"
	"fmt"

	"vit-classifier/internal/nn"
)

// Model is what the trainer needs from a classifier.
type Model interface {
	// Forward maps one patch sequence to raw class logits. The returned
	// closure propagates dL/dlogits back into the tape's gradients.
	Forward(t *nn.Tape, patches nn.Matrix) ([]float32, func(dlogits []float32))
	Params() *nn.ParamSet
}

// Options are the architecture hyperparameters.
type Options struct {
	ImageSize int `yaml:"image_size"`
	PatchSize int `yaml:"patch_size"`
	Channels  int `yaml:"-"`

	ProjectionDim    int   `yaml:"projection_dim"`
	NumHeads         int   `yaml:"num_heads"`
	Layers           int   `yaml:"transformer_layers"`
	TransformerUnits []int `yaml:"transformer_units"`
	HeadUnits        []int `yaml:"mlp_head_units"`
	NumClasses       int   `yaml:"num_classes"`

	AttentionDropout float32 `yaml:"attention_dropout"`
	EncoderDropout   float32 `yaml:"encoder_dropout"`
	HeadDropout      float32 `yaml:"head_dropout"`
	Epsilon          float32 `yaml:"layer_norm_epsilon"`
}

// DefaultOptions returns the CIFAR-100 tutorial architecture.
func DefaultOptions() Options {
	const projection = 64
	return Options{
		ImageSize:        72,
		PatchSize:        6,
		Channels:         3,
		ProjectionDim:    projection,
		NumHeads:         4,
		Layers:           8,
		TransformerUnits: []int{projection * 2, projection},
		HeadUnits:        []int{2048, 1024},
		NumClasses:       100,
		AttentionDropout: 0.1,
		EncoderDropout:   0.1,
		HeadDropout:      0.5,
		Epsilon:          1e-6,
	}
}

// NumPatches is the length of the patch sequence.
func (o Options) NumPatches() int {
	g := o.ImageSize / o.PatchSize
	return g * g
}

// PatchDim is the flattened length of one patch.
func (o Options) PatchDim() int {
	return o.PatchSize * o.PatchSize * o.Channels
}

// Validate reports architecture options that cannot be built.
func (o Options) Validate() error {
	var errs []error
	if o.ImageSize <= 0 || o.PatchSize <= 0 || o.ImageSize%o.PatchSize != 0 {
		errs = append(errs, fmt.Errorf("image_size %d must be a positive multiple of patch_size %d", o.ImageSize, o.PatchSize))
	}
	if o.Channels <= 0 {
		errs = append(errs, fmt.Errorf("channels must be positive, got %d", o.Channels))
	}
	if o.ProjectionDim <= 0 || o.NumHeads <= 0 || o.Layers < 0 {
		errs = append(errs, fmt.Errorf("projection_dim %d, num_heads %d and transformer_layers %d must be positive", o.ProjectionDim, o.NumHeads, o.Layers))
	}
	if n := len(o.TransformerUnits); n == 0 || o.TransformerUnits[n-1] != o.ProjectionDim {
		errs = append(errs, fmt.Errorf("transformer_units %v must end with projection_dim %d", o.TransformerUnits, o.ProjectionDim))
	}
	if o.NumClasses <= 0 {
		errs = append(errs, fmt.Errorf("num_classes must be positive, got %d", o.NumClasses))
	}
	for _, r := range []float32{o.AttentionDropout, o.EncoderDropout, o.HeadDropout} {
		if r < 0 || r >= 1 {
			errs = append(errs, fmt.Errorf("dropout rate %v out of range [0, 1)", r))
		}
	}
	return errors.Join(errs...)
}
