package model

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/danielpatrickdp/vulnharness/internal/dataset"
)

func smallConfig() BagConfig {
	return BagConfig{
		VocabSize:      12,
		Dim:            4,
		PadID:          1,
		Margin:         10,
		PairWeight:     0.5,
		ContrastWeight: 0.3,
		Seed:           3,
	}
}

func newSmall(t *testing.T) *BagModel {
	t.Helper()
	m, err := NewBagModel(smallConfig())
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	return m
}

func fullInput() Input {
	return Input{
		Inputs:    [][]int{{2, 3, 1, 1}, {4, 5, 6}, {7, 1}},
		Contrasts: [][]int{{8, 9}, {}, {10, 2}},
		Positives: [][]int{{3, 4}, {5}, {11}},
		Negatives: [][]int{{9}, {2, 8}, {3, 6}},
		Labels:    []int{1, 0, 1},
	}
}

func TestForwardProbsSumToOne(t *testing.T) {
	m := newSmall(t)
	out, err := m.Forward(context.Background(), Input{Inputs: [][]int{{2, 3}, {4}}})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if len(out.Probs) != 2 || len(out.Repr) != 2 || len(out.Repr[0]) != 4 {
		t.Fatalf("unexpected output shapes: %d probs, %d repr", len(out.Probs), len(out.Repr))
	}
	for i, p := range out.Probs {
		if math.Abs(p[0]+p[1]-1) > 1e-9 {
			t.Fatalf("probs %d do not sum to 1: %v", i, p)
		}
	}
	if out.Loss != 0 {
		t.Fatalf("expected zero loss without labels, got %v", out.Loss)
	}
}

func TestPadAndModuloTokens(t *testing.T) {
	m := newSmall(t)
	ctx := context.Background()
	a, _ := m.Forward(ctx, Input{Inputs: [][]int{{2, 3}}})
	b, _ := m.Forward(ctx, Input{Inputs: [][]int{{1, 2, 1, 3 + 12, 1}}})
	for j := range a.Repr[0] {
		if math.Abs(a.Repr[0][j]-b.Repr[0][j]) > 1e-12 {
			t.Fatalf("pad or wrapped token changed representation at %d", j)
		}
	}
	c, _ := m.Forward(ctx, Input{Inputs: [][]int{{1, 1}}})
	for _, x := range c.Repr[0] {
		if x != 0 {
			t.Fatal("all-pad sequence should encode to zero")
		}
	}
}

func TestBackwardRequiresLabelledTrainingForward(t *testing.T) {
	m := newSmall(t)
	ctx := context.Background()
	if err := m.Backward(ctx); !errors.Is(err, ErrNoForward) {
		t.Fatalf("expected ErrNoForward, got %v", err)
	}
	if _, err := m.Forward(ctx, Input{Inputs: [][]int{{2}}}); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if err := m.Backward(ctx); !errors.Is(err, ErrNoForward) {
		t.Fatalf("expected ErrNoForward after unlabelled forward, got %v", err)
	}

	m.SetTraining(false)
	if _, err := m.Forward(ctx, Input{Inputs: [][]int{{2}}, Labels: []int{1}}); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if err := m.Backward(ctx); !errors.Is(err, ErrNoForward) {
		t.Fatalf("expected ErrNoForward in eval mode, got %v", err)
	}
}

func TestForwardValidatesInput(t *testing.T) {
	m := newSmall(t)
	ctx := context.Background()
	if _, err := m.Forward(ctx, Input{}); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
	if _, err := m.Forward(ctx, Input{Inputs: [][]int{{2}}, Labels: []int{2}}); err == nil {
		t.Fatal("expected error for label 2")
	}
	if _, err := m.Forward(ctx, Input{Inputs: [][]int{{2}}, Contrasts: [][]int{{2}, {3}}}); err == nil {
		t.Fatal("expected error for mismatched contrasts")
	}
}

func TestGradientMatchesFiniteDifference(t *testing.T) {
	m := newSmall(t)
	ctx := context.Background()
	in := fullInput()

	if _, err := m.Forward(ctx, in); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if err := m.Backward(ctx); err != nil {
		t.Fatalf("backward: %v", err)
	}

	lossAt := func() float64 {
		out, err := m.Forward(ctx, in)
		if err != nil {
			t.Fatalf("forward: %v", err)
		}
		return out.Loss
	}

	const eps = 1e-3
	checked := 0
	for _, p := range m.Params() {
		grad := append([]float32(nil), p.Grad...)
		for i := range p.Data {
			orig := p.Data[i]
			p.Data[i] = orig + eps
			up := lossAt()
			p.Data[i] = orig - eps
			down := lossAt()
			p.Data[i] = orig

			numeric := (up - down) / (2 * eps)
			analytic := float64(grad[i])
			if math.Abs(numeric-analytic) > 2e-3+2e-2*math.Abs(numeric) {
				t.Fatalf("%s[%d]: analytic %v, numeric %v", p.Name, i, analytic, numeric)
			}
			checked++
		}
	}
	if checked != m.NumParameters() {
		t.Fatalf("checked %d of %d parameters", checked, m.NumParameters())
	}
}

func TestStateLoadRoundTrip(t *testing.T) {
	a := newSmall(t)
	cfg := smallConfig()
	cfg.Seed = 99
	b, err := NewBagModel(cfg)
	if err != nil {
		t.Fatalf("new model: %v", err)
	}

	s, _ := a.State()
	if err := b.Load(s); err != nil {
		t.Fatalf("load: %v", err)
	}
	ctx := context.Background()
	in := Input{Inputs: [][]int{{2, 5, 7}}}
	outA, _ := a.Forward(ctx, in)
	outB, _ := b.Forward(ctx, in)
	if outA.Probs[0][1] != outB.Probs[0][1] {
		t.Fatalf("loaded model disagrees: %v vs %v", outA.Probs[0], outB.Probs[0])
	}

	bad := s.Clone()
	bad.Tensors[0].Shape = []int{6, 8}
	var shapeErr *ShapeError
	if err := b.Load(bad); !errors.As(err, &shapeErr) {
		t.Fatalf("expected ShapeError, got %v", err)
	}
}

func TestFromBatch(t *testing.T) {
	ex := []dataset.Example{
		{ID: 1, Input: []int{2, 3}, Contrast: []int{4}, Label: 1},
		{ID: 2, Input: []int{5}, Label: 0},
	}
	b := dataset.Batch{Examples: ex, Positives: ex, Negatives: []dataset.Example{ex[1], ex[0]}}

	in := FromBatch(b, true)
	if in.Len() != 2 || len(in.Contrasts) != 2 || len(in.Positives) != 2 || len(in.Negatives) != 2 {
		t.Fatalf("unexpected input %+v", in)
	}
	if in.Labels[0] != 1 || in.Negatives[0][0] != 5 {
		t.Fatalf("unexpected contents %+v", in)
	}
	if FromBatch(b, false).Labels != nil {
		t.Fatal("expected nil labels")
	}
}

func TestParamSetZeroGrad(t *testing.T) {
	m := newSmall(t)
	ctx := context.Background()
	if _, err := m.Forward(ctx, fullInput()); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if err := m.Backward(ctx); err != nil {
		t.Fatalf("backward: %v", err)
	}
	ps := m.Params()
	ps.ZeroGrad()
	for _, p := range ps {
		for _, g := range p.Grad {
			if g != 0 {
				t.Fatalf("%s has non-zero grad after ZeroGrad", p.Name)
			}
		}
	}
}
