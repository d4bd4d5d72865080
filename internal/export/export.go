package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/gocarina/gocsv"

	"github.com/danielpatrickdp/vulnharness/internal/metrics"
)

// #region predictions
// WritePredictions writes preds sorted by id as an indented JSON array,
// replacing any existing file.
func WritePredictions(path string, preds []Prediction) error {
	sorted := append([]Prediction(nil), preds...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	if sorted == nil {
		sorted = []Prediction{}
	}

	data, err := json.MarshalIndent(sorted, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal predictions: %w", err)
	}
	if err := writeFile(path, append(data, '\n')); err != nil {
		return fmt.Errorf("write predictions: %w", err)
	}
	return nil
}

// ReadPredictions reads a file written by WritePredictions.
func ReadPredictions(path string) ([]Prediction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read predictions: %w", err)
	}
	var preds []Prediction
	if err := json.Unmarshal(data, &preds); err != nil {
		return nil, fmt.Errorf("parse predictions %s: %w", path, err)
	}
	return preds, nil
}

// #endregion predictions

// #region detect-csv
// WriteDetectCSV writes rows with an index,pred header.
func WriteDetectCSV(path string, rows []DetectRow) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("write detect csv: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write detect csv: %w", err)
	}
	if err := gocsv.MarshalFile(&rows, f); err != nil {
		f.Close()
		return fmt.Errorf("marshal detect csv: %w", err)
	}
	return f.Close()
}

// ReadDetectCSV reads a file written by WriteDetectCSV.
func ReadDetectCSV(path string) ([]DetectRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read detect csv: %w", err)
	}
	defer f.Close()
	var rows []DetectRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("parse detect csv %s: %w", path, err)
	}
	return rows, nil
}

// #endregion detect-csv

// #region summary
// WriteSummary writes the test summary block for a result.
func WriteSummary(w io.Writer, title string, r metrics.Result) error {
	_, err := fmt.Fprintf(w, "%s: Acc: %6.4f\tF1: %6.4f\tRc %6.4f\tPr: %6.4f\tPRAUC %6.4f\nroc_auc %f\n%f\t%f\t%f\t%f\n",
		title, r.Accuracy, r.F1, r.Recall, r.Precision, r.PRAUC, r.ROCAUC,
		r.Accuracy, r.Precision, r.Recall, r.F1)
	return err
}

// WriteValidation writes the per-cycle validation line.
func WriteValidation(w io.Writer, r metrics.Result, patience int) error {
	_, err := fmt.Fprintf(w, "Validation Set: Acc: %6.4f\tF1: %6.4f\tRr: %6.4f\tPr %6.4f\tPRAUC %6.4f\tPatience: %2d\n",
		r.Accuracy, r.F1, r.Recall, r.Precision, r.PRAUC, patience)
	return err
}

// WriteEpoch writes the end-of-epoch train loss line.
func WriteEpoch(w io.Writer, epoch int, loss float64) error {
	_, err := fmt.Fprintf(w, "After epoch %2d Train loss : %10.4f\n", epoch, loss)
	return err
}

// #endregion summary

// #region helpers
// writeFile replaces path atomically, creating parent directories.
func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// #endregion helpers
