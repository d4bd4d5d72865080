package metrics

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeCounts(t *testing.T) {
	labels := []int{1, 1, 1, 0, 0, 0}
	preds := []int{1, 1, 0, 1, 0, 0}
	probs := []float64{0.9, 0.8, 0.4, 0.7, 0.2, 0.1}

	r, err := Compute(labels, preds, probs)
	require.NoError(t, err)
	require.InDelta(t, 4.0/6.0, r.Accuracy, 1e-12)
	require.InDelta(t, 2.0/3.0, r.Precision, 1e-12)
	require.InDelta(t, 2.0/3.0, r.Recall, 1e-12)
	require.Equal(t, 6, r.Count)
	require.Equal(t, 3, r.Positives)
	require.False(t, r.Degenerate)
}

func TestF1IsHarmonicMean(t *testing.T) {
	labels := []int{1, 1, 1, 1, 0, 0, 0, 0}
	preds := []int{1, 0, 0, 0, 1, 1, 0, 0}
	probs := []float64{0.9, 0.3, 0.2, 0.1, 0.8, 0.7, 0.4, 0.05}

	r, err := Compute(labels, preds, probs)
	require.NoError(t, err)
	require.InDelta(t, 1.0/3.0, r.Precision, 1e-12)
	require.InDelta(t, 1.0/4.0, r.Recall, 1e-12)
	want := 2 * r.Precision * r.Recall / (r.Precision + r.Recall)
	require.InDelta(t, want, r.F1, 1e-12)
}

func TestZeroDenominators(t *testing.T) {
	r, err := Compute([]int{1, 0}, []int{0, 0}, []float64{0.4, 0.3})
	require.NoError(t, err)
	require.Zero(t, r.Precision)
	require.Zero(t, r.Recall)
	require.Zero(t, r.F1)
	require.InDelta(t, 0.5, r.Accuracy, 1e-12)
}

func TestRankingPerfectAndInverted(t *testing.T) {
	labels := []int{1, 1, 0, 0}
	preds := []int{1, 1, 0, 0}

	r, err := Compute(labels, preds, []float64{0.9, 0.8, 0.2, 0.1})
	require.NoError(t, err)
	require.InDelta(t, 1.0, r.ROCAUC, 1e-12)
	require.InDelta(t, 1.0, r.PRAUC, 1e-12)

	r, err = Compute(labels, preds, []float64{0.1, 0.2, 0.8, 0.9})
	require.NoError(t, err)
	require.InDelta(t, 0.0, r.ROCAUC, 1e-12)
	// positives found at ranks 3 and 4: (1/2)(1/3) + (1/2)(2/4)
	require.InDelta(t, 1.0/6.0+1.0/4.0, r.PRAUC, 1e-12)
}

func TestRankingTiesGrouped(t *testing.T) {
	labels := []int{1, 0, 1, 0}
	preds := []int{1, 1, 1, 1}
	probs := []float64{0.5, 0.5, 0.5, 0.5}

	r, err := Compute(labels, preds, probs)
	require.NoError(t, err)
	require.InDelta(t, 0.5, r.ROCAUC, 1e-12)
	require.InDelta(t, 0.5, r.PRAUC, 1e-12)
}

func TestDegenerateSplit(t *testing.T) {
	r, err := Compute([]int{0, 0, 0}, []int{0, 1, 0}, []float64{0.1, 0.6, 0.2})
	require.True(t, errors.Is(err, ErrDegenerateSplit))
	require.True(t, r.Degenerate)
	require.Zero(t, r.ROCAUC)
	require.Zero(t, r.PRAUC)
	require.InDelta(t, 2.0/3.0, r.Accuracy, 1e-12)

	r, err = Compute([]int{1, 1}, []int{1, 1}, []float64{0.9, 0.8})
	require.ErrorIs(t, err, ErrDegenerateSplit)
	require.InDelta(t, 1.0, r.F1, 1e-12)
	require.InDelta(t, 1.0, r.PRAUC, 1e-12)
}

func TestInputErrors(t *testing.T) {
	_, err := Compute(nil, nil, nil)
	require.ErrorIs(t, err, ErrEmpty)

	_, err = Compute([]int{1, 0}, []int{1}, []float64{0.3, 0.2})
	require.ErrorIs(t, err, ErrLengthMismatch)
}

func TestKeysSorted(t *testing.T) {
	r := Result{F1: 0.5}
	require.Equal(t, []string{"acc", "f1", "pr_auc", "precision", "recall", "roc_auc"}, r.Keys())
	require.Equal(t, 0.5, r.Map()["f1"])
}
