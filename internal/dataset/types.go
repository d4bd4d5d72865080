package dataset

import (
	"errors"
	"fmt"
)

// #region example
// Unlabeled marks an example loaded without a ground-truth label.
const Unlabeled = -1

// Example is one pre-tokenized sample. Never mutated after Load.
type Example struct {
	ID       int
	Input    []int
	Contrast []int
	Label    int
}

// #endregion example

// #region split
// Split names a partition of the dataset.
type Split int

const (
	Train Split = iota
	Valid
	Test
)

func (s Split) String() string {
	switch s {
	case Train:
		return "train"
	case Valid:
		return "valid"
	case Test:
		return "test"
	default:
		return fmt.Sprintf("split(%d)", int(s))
	}
}

// #endregion split

// #region batch
// Batch is an ordered group of examples from one split. Positives and Negatives
// are parallel to Examples and only set for train batches under pair sampling.
type Batch struct {
	Split     Split
	Examples  []Example
	Positives []Example
	Negatives []Example
}

// Len returns the number of examples in the batch.
func (b Batch) Len() int { return len(b.Examples) }

// IDs returns the example ids in batch order.
func (b Batch) IDs() []int {
	out := make([]int, len(b.Examples))
	for i, ex := range b.Examples {
		out[i] = ex.ID
	}
	return out
}

// Labels returns the example labels in batch order.
func (b Batch) Labels() []int {
	out := make([]int, len(b.Examples))
	for i, ex := range b.Examples {
		out[i] = ex.Label
	}
	return out
}

// Inputs returns the input sequences in batch order.
func (b Batch) Inputs() [][]int {
	return sequences(b.Examples, func(ex Example) []int { return ex.Input })
}

// Contrasts returns the contrast sequences, or nil if no example has one.
func (b Batch) Contrasts() [][]int {
	has := false
	for _, ex := range b.Examples {
		if len(ex.Contrast) > 0 {
			has = true
			break
		}
	}
	if !has {
		return nil
	}
	return sequences(b.Examples, func(ex Example) []int { return ex.Contrast })
}

func sequences(exs []Example, pick func(Example) []int) [][]int {
	if exs == nil {
		return nil
	}
	out := make([][]int, len(exs))
	for i, ex := range exs {
		out[i] = pick(ex)
	}
	return out
}

// #endregion batch

// #region config
// Config controls batching for an Adapter.
type Config struct {
	TrainBatchSize int
	EvalBatchSize  int
	ShuffleTrain   bool  // reshuffle the train split on every InitializeBatches
	PairSampling   bool  // attach same-class / different-class partners to train batches
	Seed           int64 // shuffle and partner sampling seed
}

// DefaultConfig returns the SVulD batch sizes with sequential train order.
func DefaultConfig() Config {
	return Config{
		TrainBatchSize: 4,
		EvalBatchSize:  4,
		Seed:           42,
	}
}

// LoadOptions tune Load.
type LoadOptions struct {
	AllowUnlabeled bool // accept records without a label (detection inputs)
}

// #endregion config

// #region errors
var (
	// ErrNotInitialized is returned by NextBatch before InitializeBatches or
	// after the split has been exhausted.
	ErrNotInitialized = errors.New("dataset: batches not initialized")
	// ErrUnknownSplit is returned for a Split value the adapter does not hold.
	ErrUnknownSplit = errors.New("dataset: unknown split")
)

// LoadError reports a dataset file that could not be read or validated.
type LoadError struct {
	Path string
	Line int // 1-based record number, 0 when not record-specific
	Err  error
}

func (e *LoadError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("load dataset %s: record %d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("load dataset %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// #endregion errors
