package evaluate

import (
	"github.com/danielpatrickdp/vulnharness/internal/dataset"
	"github.com/danielpatrickdp/vulnharness/internal/export"
	"github.com/danielpatrickdp/vulnharness/internal/metrics"
)

// #region config
// Config holds runner display settings.
type Config struct {
	ShowProgress bool
	Description  string // progress bar label
}

// DefaultConfig returns a quiet runner.
func DefaultConfig() Config {
	return Config{Description: "evaluate"}
}

// #endregion config

// #region batch-func
// BatchFunc yields the next batch of a split, e.g. Adapter.NextValidBatch.
type BatchFunc func() (dataset.Batch, error)

// Field picks which sequence of each example the model reads.
type Field int

const (
	UseInput Field = iota
	UseContrast
)

// #endregion batch-func

// #region result
// ExampleResult is the model's verdict on one example.
type ExampleResult struct {
	ID    int
	Label int     // dataset.Unlabeled when unknown
	Prob  float64 // P(class 1)
	Pred  int
}

// Result is one labelled evaluation pass.
type Result struct {
	Metrics  metrics.Result
	Loss     float64 // sum of batch mean losses
	Batches  int
	Examples []ExampleResult
}

// Labels returns the true labels in pass order.
func (r Result) Labels() []int {
	out := make([]int, len(r.Examples))
	for i, e := range r.Examples {
		out[i] = e.Label
	}
	return out
}

// Predictions returns the id/pred pairs for export.
func (r Result) Predictions() []export.Prediction {
	return Predictions(r.Examples)
}

// Predictions converts example results into export rows.
func Predictions(exs []ExampleResult) []export.Prediction {
	out := make([]export.Prediction, len(exs))
	for i, e := range exs {
		out[i] = export.Prediction{ID: e.ID, Pred: e.Pred}
	}
	return out
}

// DetectRows converts example results into detection CSV rows.
func DetectRows(exs []ExampleResult) []export.DetectRow {
	out := make([]export.DetectRow, len(exs))
	for i, e := range exs {
		out[i] = export.DetectRow{Index: e.ID, Pred: e.Pred}
	}
	return out
}

// Accuracy returns the share of labelled examples predicted correctly, and
// how many labelled examples there were.
func Accuracy(exs []ExampleResult) (float64, int) {
	labelled, correct := 0, 0
	for _, e := range exs {
		if e.Label == dataset.Unlabeled {
			continue
		}
		labelled++
		if e.Label == e.Pred {
			correct++
		}
	}
	if labelled == 0 {
		return 0, 0
	}
	return float64(correct) / float64(labelled), labelled
}

// #endregion result
