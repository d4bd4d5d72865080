package metrics

import (
	"fmt"
	"sort"
)

// #region compute
// Compute scores preds against labels, and probs (P(class 1)) for the ranking
// metrics. A single-class split returns the Result with a wrapped
// ErrDegenerateSplit.
func Compute(labels, preds []int, probs []float64) (Result, error) {
	if len(labels) == 0 {
		return Result{}, ErrEmpty
	}
	if len(preds) != len(labels) || len(probs) != len(labels) {
		return Result{}, fmt.Errorf("%w: %d labels, %d preds, %d probs",
			ErrLengthMismatch, len(labels), len(preds), len(probs))
	}

	var tp, fp, fn, correct int
	positives := 0
	for i, y := range labels {
		p := preds[i]
		if y == 1 {
			positives++
		}
		if y == p {
			correct++
		}
		switch {
		case p == 1 && y == 1:
			tp++
		case p == 1 && y != 1:
			fp++
		case p != 1 && y == 1:
			fn++
		}
	}

	r := Result{
		Accuracy:  float64(correct) / float64(len(labels)),
		Precision: ratio(tp, tp+fp),
		Recall:    ratio(tp, tp+fn),
		Count:     len(labels),
		Positives: positives,
	}
	if r.Precision+r.Recall > 0 {
		r.F1 = 2 * r.Precision * r.Recall / (r.Precision + r.Recall)
	}

	ranked := rank(labels, probs)
	r.PRAUC = averagePrecision(ranked, positives)

	negatives := len(labels) - positives
	if positives == 0 || negatives == 0 {
		r.Degenerate = true
		return r, fmt.Errorf("%w: %d examples, %d positive", ErrDegenerateSplit, len(labels), positives)
	}
	r.ROCAUC = rocAUC(ranked, positives, negatives)
	return r, nil
}

// Map returns the scores keyed by name, for structured logging.
func (r Result) Map() map[string]float64 {
	return map[string]float64{
		"acc":       r.Accuracy,
		"precision": r.Precision,
		"recall":    r.Recall,
		"f1":        r.F1,
		"pr_auc":    r.PRAUC,
		"roc_auc":   r.ROCAUC,
	}
}

// Keys returns the Map keys in sorted order.
func (r Result) Keys() []string {
	m := r.Map()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// #endregion compute

// #region ranking
type scored struct {
	prob     float64
	positive bool
}

// rank orders examples by descending probability.
func rank(labels []int, probs []float64) []scored {
	out := make([]scored, len(labels))
	for i := range labels {
		out[i] = scored{prob: probs[i], positive: labels[i] == 1}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].prob > out[j].prob })
	return out
}

// averagePrecision is the step-wise area under the precision-recall curve.
// Examples sharing a score form one threshold.
func averagePrecision(ranked []scored, positives int) float64 {
	if positives == 0 {
		return 0
	}
	var ap float64
	tp, seen := 0, 0
	for i := 0; i < len(ranked); {
		j := i
		groupTP := 0
		for j < len(ranked) && ranked[j].prob == ranked[i].prob {
			if ranked[j].positive {
				groupTP++
			}
			j++
		}
		tp += groupTP
		seen += j - i
		if groupTP > 0 {
			ap += float64(groupTP) / float64(positives) * float64(tp) / float64(seen)
		}
		i = j
	}
	return ap
}

// rocAUC integrates the ROC curve with the trapezoid rule over tie groups.
func rocAUC(ranked []scored, positives, negatives int) float64 {
	var area float64
	tp, fp := 0, 0
	prevTPR, prevFPR := 0.0, 0.0
	for i := 0; i < len(ranked); {
		j := i
		for j < len(ranked) && ranked[j].prob == ranked[i].prob {
			if ranked[j].positive {
				tp++
			} else {
				fp++
			}
			j++
		}
		tpr := float64(tp) / float64(positives)
		fpr := float64(fp) / float64(negatives)
		area += (fpr - prevFPR) * (tpr + prevTPR) / 2
		prevTPR, prevFPR = tpr, fpr
		i = j
	}
	return area
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// #endregion ranking
