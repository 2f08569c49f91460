package model

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"vit-classifier/internal/nn"
)

// Node is one layer in the classifier's dataflow graph. Inputs index
// earlier nodes.
type Node struct {
	Name   string
	Kind   string
	Inputs []int
	Shape  []int
	Params int
}

func linearParams(l *nn.Linear) int { return l.W.Size() + l.B.Size() }

func normParams(ln *nn.LayerNorm) int { return ln.Gamma.Size() + ln.Beta.Size() }

func feedForwardParams(ff *FeedForward) int {
	n := 0
	for _, l := range ff.Layers {
		n += linearParams(l)
	}
	return n
}

// Graph lists the layers from raw input to logits, including the
// preprocessing stages that run outside the parameter set.
func (c *Classifier) Graph() []Node {
	o := c.Options
	var nodes []Node
	add := func(n Node) int {
		nodes = append(nodes, n)
		return len(nodes) - 1
	}
	seq := []int{o.NumPatches(), o.ProjectionDim}

	prev := add(Node{Name: "input", Kind: "InputLayer", Shape: []int{o.ImageSize, o.ImageSize, o.Channels}})
	prev = add(Node{Name: "data_augmentation", Kind: "Augmentation", Inputs: []int{prev}, Shape: []int{o.ImageSize, o.ImageSize, o.Channels}})
	prev = add(Node{Name: "patches", Kind: "Patches", Inputs: []int{prev}, Shape: []int{o.NumPatches(), o.PatchDim()}})
	prev = add(Node{
		Name:   "patch_encoder",
		Kind:   "PatchEncoder",
		Inputs: []int{prev},
		Shape:  seq,
		Params: linearParams(c.Encoder.Projection) + c.Encoder.Position.Table.Size(),
	})

	for i, b := range c.Blocks {
		name := fmt.Sprintf("encoder_%d", i)
		mha := b.Attention
		norm1 := add(Node{Name: name + "/layer_norm_1", Kind: "LayerNormalization", Inputs: []int{prev}, Shape: seq, Params: normParams(b.Norm1)})
		attn := add(Node{
			Name:   name + "/multi_head_attention",
			Kind:   "MultiHeadAttention",
			Inputs: []int{norm1},
			Shape:  seq,
			Params: linearParams(mha.Query) + linearParams(mha.Key) + linearParams(mha.Value) + linearParams(mha.Output),
		})
		res1 := add(Node{Name: name + "/add_1", Kind: "Add", Inputs: []int{attn, prev}, Shape: seq})
		norm2 := add(Node{Name: name + "/layer_norm_2", Kind: "LayerNormalization", Inputs: []int{res1}, Shape: seq, Params: normParams(b.Norm2)})
		mlp := add(Node{Name: name + "/mlp", Kind: "MLP", Inputs: []int{norm2}, Shape: seq, Params: feedForwardParams(b.MLP)})
		prev = add(Node{Name: name + "/add_2", Kind: "Add", Inputs: []int{mlp, res1}, Shape: seq})
	}

	flat := o.NumPatches() * o.ProjectionDim
	width := flat
	if n := len(o.HeadUnits); n > 0 {
		width = o.HeadUnits[n-1]
	}
	prev = add(Node{Name: "head/layer_norm", Kind: "LayerNormalization", Inputs: []int{prev}, Shape: seq, Params: normParams(c.Head.Norm)})
	prev = add(Node{Name: "head/flatten", Kind: "Flatten", Inputs: []int{prev}, Shape: []int{flat}})
	prev = add(Node{Name: "head/dropout", Kind: "Dropout", Inputs: []int{prev}, Shape: []int{flat}})
	prev = add(Node{Name: "head/mlp", Kind: "MLP", Inputs: []int{prev}, Shape: []int{width}, Params: feedForwardParams(c.Head.MLP)})
	add(Node{Name: "head/logits", Kind: "Dense", Inputs: []int{prev}, Shape: []int{o.NumClasses}, Params: linearParams(c.Head.Logits)})
	return nodes
}

// FormatShape renders a per-sample shape the way Keras summaries do.
func FormatShape(shape []int) string {
	parts := []string{"None"}
	for _, d := range shape {
		parts = append(parts, strconv.Itoa(d))
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Summary writes a layer table and the parameter total to w.
func (c *Classifier) Summary(w io.Writer) {
	nodes := c.Graph()
	var data [][]string
	for _, n := range nodes {
		var from []string
		for _, in := range n.Inputs {
			from = append(from, nodes[in].Name)
		}
		data = append(data, []string{
			fmt.Sprintf("%s (%s)", n.Name, n.Kind),
			FormatShape(n.Shape),
			humanize.Comma(int64(n.Params)),
			strings.Join(from, ", "),
		})
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"LAYER (TYPE)", "OUTPUT SHAPE", "PARAM #", "CONNECTED TO"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()

	fmt.Fprintf(w, "Total params: %s\n", humanize.Comma(int64(c.params.Count())))
}
