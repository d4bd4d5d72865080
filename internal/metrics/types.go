package metrics

import "errors"

// #region result
// Result holds the binary classification scores for one evaluation pass.
type Result struct {
	Accuracy   float64
	Precision  float64
	Recall     float64
	F1         float64
	PRAUC      float64
	ROCAUC     float64
	Count      int
	Positives  int
	Degenerate bool // every label belongs to one class; ROCAUC is left at 0
}

// #endregion result

// #region errors
var (
	ErrEmpty          = errors.New("metrics: no examples")
	ErrLengthMismatch = errors.New("metrics: labels, preds and probs differ in length")
	// ErrDegenerateSplit accompanies a still-valid Result whose labels are all one class.
	ErrDegenerateSplit = errors.New("metrics: evaluation split has a single class")
)

// #endregion errors
