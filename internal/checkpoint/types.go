package checkpoint

import (
	"fmt"
	"path/filepath"
)

// #region tensor
// Tensor is one named parameter array, row-major.
type Tensor struct {
	Name  string
	Shape []int
	Data  []float32
}

// Size returns the element count implied by Shape.
func (t Tensor) Size() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// #endregion tensor

// #region param-state
// ParamState is a complete snapshot of a model's learnable parameters.
type ParamState struct {
	Tensors []Tensor
}

// Clone returns a deep copy that shares no memory with s.
func (s ParamState) Clone() ParamState {
	out := ParamState{Tensors: make([]Tensor, len(s.Tensors))}
	for i, t := range s.Tensors {
		out.Tensors[i] = Tensor{
			Name:  t.Name,
			Shape: append([]int(nil), t.Shape...),
			Data:  append([]float32(nil), t.Data...),
		}
	}
	return out
}

// Equal reports whether two states hold the same tensors bit for bit.
func (s ParamState) Equal(o ParamState) bool {
	if len(s.Tensors) != len(o.Tensors) {
		return false
	}
	for i, a := range s.Tensors {
		b := o.Tensors[i]
		if a.Name != b.Name || len(a.Shape) != len(b.Shape) || len(a.Data) != len(b.Data) {
			return false
		}
		for j := range a.Shape {
			if a.Shape[j] != b.Shape[j] {
				return false
			}
		}
		for j := range a.Data {
			if a.Data[j] != b.Data[j] {
				return false
			}
		}
	}
	return true
}

// Lookup returns the tensor with the given name.
func (s ParamState) Lookup(name string) (Tensor, bool) {
	for _, t := range s.Tensors {
		if t.Name == name {
			return t, true
		}
	}
	return Tensor{}, false
}

// NumElements returns the total parameter count.
func (s ParamState) NumElements() int {
	n := 0
	for _, t := range s.Tensors {
		n += len(t.Data)
	}
	return n
}

// #endregion param-state

// #region trainable
// Trainable is anything whose parameters can be snapshotted and restored.
type Trainable interface {
	State() (ParamState, error)
	Load(ParamState) error
}

// #endregion trainable

// #region errors
// IOError reports a checkpoint that could not be written, read or decoded.
type IOError struct {
	Op   string // "save" | "load" | "decode"
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("checkpoint %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// #endregion errors

// #region paths
// RevealPath is the Reveal best-F1 checkpoint location for a dataset.
func RevealPath(dir, dataset string) string {
	return filepath.Join(dir, dataset+"_best_f1.model")
}

// SVulDPath is the SVulD best checkpoint location under an output directory.
func SVulDPath(outputDir string) string {
	return filepath.Join(outputDir, "checkpoint-best-f1", "model.bin")
}

// #endregion paths
