package export

import (
	"path/filepath"
	"strings"
)

// #region records
// Prediction is one row of a test prediction file.
type Prediction struct {
	ID   int `json:"id"`
	Pred int `json:"pred"`
}

// Embedding is one representation vector with its label, for t-SNE plots.
type Embedding struct {
	Vector []float64
	Label  int
}

// DetectRow is one row of a detection CSV.
type DetectRow struct {
	Index int `csv:"index"`
	Pred  int `csv:"pred"`
}

// #endregion records

// #region paths
// ResultPath returns <root>/<model>/<dataset>/<file>.
func ResultPath(root, model, dataset, file string) string {
	return filepath.Join(root, model, dataset, file)
}

// DetectPath derives the detection CSV location from a training output
// directory by swapping every "saved_models" for "detect".
func DetectPath(outputDir string) string {
	return strings.ReplaceAll(outputDir, "saved_models", "detect") + ".csv"
}

// #endregion paths
