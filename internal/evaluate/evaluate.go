package evaluate

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielpatrickdp/vulnharness/internal/dataset"
	"github.com/danielpatrickdp/vulnharness/internal/export"
	"github.com/danielpatrickdp/vulnharness/internal/metrics"
	"github.com/danielpatrickdp/vulnharness/internal/model"
	"github.com/danielpatrickdp/vulnharness/internal/progress"
)

// #region runner
// Runner executes inference-mode passes over a split.
type Runner struct {
	config Config
}

// NewRunner creates a runner with the given configuration.
func NewRunner(config Config) *Runner {
	return &Runner{config: config}
}

// #endregion runner

// #region evaluate
// Evaluate runs count labelled forward passes without gradients and scores
// them. A single-class split returns the Result with a wrapped
// metrics.ErrDegenerateSplit.
func (r *Runner) Evaluate(ctx context.Context, m model.Model, next BatchFunc, count int) (Result, error) {
	var res Result
	err := r.inference(ctx, m, count, func(int) error {
		b, err := next()
		if err != nil {
			return fmt.Errorf("next batch: %w", err)
		}
		out, err := m.Forward(ctx, model.FromBatch(b, true))
		if err != nil {
			return fmt.Errorf("forward: %w", err)
		}
		exs, err := collect(b, out)
		if err != nil {
			return err
		}
		res.Loss += out.Loss
		res.Batches++
		res.Examples = append(res.Examples, exs...)
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if len(res.Examples) == 0 {
		return res, metrics.ErrEmpty
	}

	labels := res.Labels()
	preds := make([]int, len(res.Examples))
	probs := make([]float64, len(res.Examples))
	for i, e := range res.Examples {
		preds[i] = e.Pred
		probs[i] = e.Prob
	}
	res.Metrics, err = metrics.Compute(labels, preds, probs)
	if err != nil && !errors.Is(err, metrics.ErrDegenerateSplit) {
		return Result{}, fmt.Errorf("metrics: %w", err)
	}
	return res, err
}

// #endregion evaluate

// #region predict
// Predict runs count forward passes without labels over the chosen field.
func (r *Runner) Predict(ctx context.Context, m model.Model, next BatchFunc, count int, field Field) ([]ExampleResult, error) {
	var results []ExampleResult
	err := r.inference(ctx, m, count, func(int) error {
		b, err := next()
		if err != nil {
			return fmt.Errorf("next batch: %w", err)
		}
		in := model.Input{Inputs: b.Inputs()}
		if field == UseContrast {
			in.Inputs = make([][]int, b.Len())
			for i, ex := range b.Examples {
				if len(ex.Contrast) == 0 {
					return fmt.Errorf("example %d has no contrast sequence", ex.ID)
				}
				in.Inputs[i] = ex.Contrast
			}
		}
		out, err := m.Forward(ctx, in)
		if err != nil {
			return fmt.Errorf("forward: %w", err)
		}
		exs, err := collect(b, out)
		if err != nil {
			return err
		}
		results = append(results, exs...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// #endregion predict

// #region embeddings
// Embeddings collects the representation and label of every example.
func (r *Runner) Embeddings(ctx context.Context, m model.Model, next BatchFunc, count int) ([]export.Embedding, error) {
	var out []export.Embedding
	err := r.inference(ctx, m, count, func(int) error {
		b, err := next()
		if err != nil {
			return fmt.Errorf("next batch: %w", err)
		}
		res, err := m.Forward(ctx, model.Input{Inputs: b.Inputs()})
		if err != nil {
			return fmt.Errorf("forward: %w", err)
		}
		if len(res.Repr) != b.Len() {
			return fmt.Errorf("model returned %d representations for %d examples", len(res.Repr), b.Len())
		}
		for i, ex := range b.Examples {
			out = append(out, export.Embedding{Vector: res.Repr[i], Label: ex.Label})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// #endregion embeddings

// #region helpers
// inference switches m to eval mode for the duration of count steps.
func (r *Runner) inference(ctx context.Context, m model.Model, count int, step func(int) error) error {
	m.SetTraining(false)
	defer m.SetTraining(true)

	return progress.Each(count, r.config.Description, r.config.ShowProgress, func(i int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return step(i)
	})
}

// collect pairs each example with its P(1). The output must hold one
// two-class row per example.
func collect(b dataset.Batch, out model.Output) ([]ExampleResult, error) {
	if len(out.Probs) != b.Len() {
		return nil, fmt.Errorf("model returned %d probability rows for %d examples", len(out.Probs), b.Len())
	}
	res := make([]ExampleResult, 0, b.Len())
	for i, ex := range b.Examples {
		if len(out.Probs[i]) != 2 {
			return nil, fmt.Errorf("example %d: model returned %d class probabilities, want 2", ex.ID, len(out.Probs[i]))
		}
		prob := out.Probs[i][1]
		pred := 0
		if prob > 0.5 {
			pred = 1
		}
		res = append(res, ExampleResult{ID: ex.ID, Label: ex.Label, Prob: prob, Pred: pred})
	}
	return res, nil
}

// #endregion helpers
