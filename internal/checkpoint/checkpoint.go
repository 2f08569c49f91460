// Package checkpoint stores model weights as a CBOR document.
package checkpoint

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/d4l3k/go-bfloat16"
	"github.com/fxamacker/cbor/v2"
	"github.com/x448/float16"

	"vit-classifier/internal/nn"
)

const formatVersion = 1

// Storage types for tensor payloads.
const (
	DTypeF32  = "f32"
	DTypeF16  = "f16"
	DTypeBF16 = "bf16"
)

// ErrShapeMismatch reports a checkpoint whose tensors do not fit the model.
var ErrShapeMismatch = errors.New("checkpoint: tensor shape mismatch")

// Metadata describes when and why a checkpoint was written.
type Metadata struct {
	RunID   string  `cbor:"run_id"`
	Epoch   int     `cbor:"epoch"`
	Monitor string  `cbor:"monitor"`
	Value   float64 `cbor:"value"`
}

type tensor struct {
	Name  string `cbor:"name"`
	Shape []int  `cbor:"shape"`
	Data  []byte `cbor:"data"`
}

type file struct {
	Version  int      `cbor:"version"`
	DType    string   `cbor:"dtype"`
	Metadata Metadata `cbor:"metadata"`
	Tensors  []tensor `cbor:"tensors"`
}

func encode(dtype string, f32s []float32) ([]byte, error) {
	var buf bytes.Buffer
	switch dtype {
	case DTypeF32:
		if err := binary.Write(&buf, binary.LittleEndian, f32s); err != nil {
			return nil, err
		}
	case DTypeF16:
		f16s := make([]uint16, len(f32s))
		for i := range f32s {
			f16s[i] = float16.Fromfloat32(f32s[i]).Bits()
		}
		if err := binary.Write(&buf, binary.LittleEndian, f16s); err != nil {
			return nil, err
		}
	case DTypeBF16:
		return bfloat16.EncodeFloat32(f32s), nil
	default:
		return nil, fmt.Errorf("unknown data type: %s", dtype)
	}
	return buf.Bytes(), nil
}

func decode(dtype string, data []byte, n int) ([]float32, error) {
	var f32s []float32
	switch dtype {
	case DTypeF32:
		f32s = make([]float32, len(data)/4)
		if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, f32s); err != nil {
			return nil, err
		}
	case DTypeF16:
		u16s := make([]uint16, len(data)/2)
		if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, u16s); err != nil {
			return nil, err
		}
		f32s = make([]float32, len(u16s))
		for i := range u16s {
			f32s[i] = float16.Frombits(u16s[i]).Float32()
		}
	case DTypeBF16:
		f32s = bfloat16.DecodeFloat32(data)
	default:
		return nil, fmt.Errorf("unknown data type: %s", dtype)
	}
	if len(f32s) != n {
		return nil, fmt.Errorf("%w: %d values, want %d", ErrShapeMismatch, len(f32s), n)
	}
	return f32s, nil
}

// Save writes every parameter of ps to path. The file is replaced
// atomically.
func Save(path string, ps *nn.ParamSet, dtype string, meta Metadata) error {
	doc := file{Version: formatVersion, DType: dtype, Metadata: meta}
	for _, p := range ps.Params() {
		data, err := encode(dtype, p.Data)
		if err != nil {
			return fmt.Errorf("encode %s: %w", p.Name, err)
		}
		doc.Tensors = append(doc.Tensors, tensor{Name: p.Name, Shape: p.Shape, Data: data})
	}

	payload, err := cbor.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Load reads path into the parameters of ps. Every parameter must be
// present with the same shape; extra tensors are an error too.
func Load(path string, ps *nn.ParamSet) (Metadata, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("read checkpoint: %w", err)
	}
	var doc file
	if err := cbor.Unmarshal(payload, &doc); err != nil {
		return Metadata{}, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	if doc.Version != formatVersion {
		return Metadata{}, fmt.Errorf("checkpoint: unsupported version %d", doc.Version)
	}
	if len(doc.Tensors) != len(ps.Params()) {
		return Metadata{}, fmt.Errorf("%w: %d tensors for %d parameters", ErrShapeMismatch, len(doc.Tensors), len(ps.Params()))
	}

	decoded := make([][]float32, len(doc.Tensors))
	for i, t := range doc.Tensors {
		p, ok := ps.Lookup(t.Name)
		if !ok {
			return Metadata{}, fmt.Errorf("%w: unknown tensor %s", ErrShapeMismatch, t.Name)
		}
		if !slices.Equal(p.Shape, t.Shape) {
			return Metadata{}, fmt.Errorf("%w: %s is %v, want %v", ErrShapeMismatch, t.Name, t.Shape, p.Shape)
		}
		if decoded[i], err = decode(doc.DType, t.Data, p.Size()); err != nil {
			return Metadata{}, fmt.Errorf("decode %s: %w", t.Name, err)
		}
	}

	// nothing is written until every tensor has decoded
	for i, t := range doc.Tensors {
		p, _ := ps.Lookup(t.Name)
		copy(p.Data, decoded[i])
	}
	return doc.Metadata, nil
}
