package model

import (
	"context"

	"github.com/danielpatrickdp/vulnharness/internal/checkpoint"
	"github.com/danielpatrickdp/vulnharness/internal/dataset"
)

// #region input-output
// Input is one forward pass worth of token sequences. Contrasts, Positives
// and Negatives are optional and, when set, parallel to Inputs.
type Input struct {
	Inputs    [][]int `json:"inputs"`
	Contrasts [][]int `json:"contrasts,omitempty"`
	Positives [][]int `json:"positives,omitempty"`
	Negatives [][]int `json:"negatives,omitempty"`
	Labels    []int   `json:"labels,omitempty"` // nil for inference without a loss
}

// FromBatch builds an Input from a dataset batch.
func FromBatch(b dataset.Batch, withLabels bool) Input {
	in := Input{
		Inputs:    b.Inputs(),
		Contrasts: b.Contrasts(),
	}
	if b.Positives != nil {
		in.Positives = dataset.Batch{Examples: b.Positives}.Inputs()
	}
	if b.Negatives != nil {
		in.Negatives = dataset.Batch{Examples: b.Negatives}.Inputs()
	}
	if withLabels {
		in.Labels = b.Labels()
	}
	return in
}

// Len returns the batch size.
func (in Input) Len() int { return len(in.Inputs) }

// Output is the result of a forward pass.
type Output struct {
	Probs [][]float64 `json:"probs"` // n x 2 class probabilities
	Repr  [][]float64 `json:"repr"`  // n x d sequence representations
	Loss  float64     `json:"loss"`  // batch mean loss, 0 without labels
}

// #endregion input-output

// #region capabilities
// Model is a trainable binary classifier.
type Model interface {
	checkpoint.Trainable
	Forward(ctx context.Context, in Input) (Output, error)
	// Backward accumulates gradients of the last labelled training Forward.
	Backward(ctx context.Context) error
	SetTraining(training bool)
	NumParameters() int
}

// Optimizer updates a model's parameters from accumulated gradients.
type Optimizer interface {
	ZeroGrad()
	Step() error
	LR() float64
	SetLR(lr float64)
}

// Parameterized exposes in-process parameters to local optimizers.
type Parameterized interface {
	Params() ParamSet
}

// #endregion capabilities

// #region params
// Param is one learnable array with its gradient buffer.
type Param struct {
	Name    string
	Shape   []int
	Data    []float32
	Grad    []float32
	NoDecay bool // excluded from weight decay (biases)
}

// NewParam allocates a zeroed parameter of the given shape.
func NewParam(name string, shape ...int) *Param {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Param{
		Name:  name,
		Shape: append([]int(nil), shape...),
		Data:  make([]float32, n),
		Grad:  make([]float32, n),
	}
}

// ParamSet is an ordered list of parameters.
type ParamSet []*Param

// ZeroGrad clears every gradient buffer.
func (ps ParamSet) ZeroGrad() {
	for _, p := range ps {
		clear(p.Grad)
	}
}

// Count returns the total number of scalars.
func (ps ParamSet) Count() int {
	n := 0
	for _, p := range ps {
		n += len(p.Data)
	}
	return n
}

// State snapshots the parameter values.
func (ps ParamSet) State() checkpoint.ParamState {
	s := checkpoint.ParamState{Tensors: make([]checkpoint.Tensor, len(ps))}
	for i, p := range ps {
		s.Tensors[i] = checkpoint.Tensor{
			Name:  p.Name,
			Shape: append([]int(nil), p.Shape...),
			Data:  append([]float32(nil), p.Data...),
		}
	}
	return s
}

// Load copies values from a snapshot. Every parameter must be present with a
// matching shape.
func (ps ParamSet) Load(s checkpoint.ParamState) error {
	if len(s.Tensors) != len(ps) {
		return &ShapeError{Name: "state", Want: []int{len(ps)}, Got: []int{len(s.Tensors)}}
	}
	for _, p := range ps {
		t, ok := s.Lookup(p.Name)
		if !ok {
			return &ShapeError{Name: p.Name, Want: p.Shape}
		}
		if !sameShape(p.Shape, t.Shape) || len(t.Data) != len(p.Data) {
			return &ShapeError{Name: p.Name, Want: p.Shape, Got: t.Shape}
		}
	}
	for _, p := range ps {
		t, _ := s.Lookup(p.Name)
		copy(p.Data, t.Data)
	}
	return nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// #endregion params
