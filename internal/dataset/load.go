package dataset

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// #region record
// record is the on-disk shape of one example.
type record struct {
	Index       *int  `json:"index"`
	Label       *int  `json:"label"`
	InputIDs    []int `json:"input_ids"`
	ContrastIDs []int `json:"contrast_ids"`
}

// #endregion record

// #region load
// Load reads a pre-tokenized dataset file. The file is either a JSON array of
// records or JSON Lines, decided by the first non-space byte.
func Load(path string, opts LoadOptions) ([]Example, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, &LoadError{Path: path, Err: errors.New("empty file")}
	}

	var records []record
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, &LoadError{Path: path, Err: fmt.Errorf("parse json array: %w", err)}
		}
	} else {
		records, err = parseLines(path, trimmed)
		if err != nil {
			return nil, err
		}
	}

	examples := make([]Example, 0, len(records))
	seen := make(map[int]bool, len(records))
	for i, r := range records {
		ex, err := r.toExample(opts)
		if err != nil {
			return nil, &LoadError{Path: path, Line: i + 1, Err: err}
		}
		if seen[ex.ID] {
			return nil, &LoadError{Path: path, Line: i + 1, Err: fmt.Errorf("duplicate index %d", ex.ID)}
		}
		seen[ex.ID] = true
		examples = append(examples, ex)
	}
	return examples, nil
}

func parseLines(path string, data []byte) ([]record, error) {
	var records []record
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 1<<20), 64<<20)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var r record
		if err := json.Unmarshal(text, &r); err != nil {
			return nil, &LoadError{Path: path, Line: line, Err: fmt.Errorf("parse json line: %w", err)}
		}
		records = append(records, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return records, nil
}

func (r record) toExample(opts LoadOptions) (Example, error) {
	if r.Index == nil {
		return Example{}, errors.New("missing index")
	}
	if len(r.InputIDs) == 0 {
		return Example{}, errors.New("empty input_ids")
	}
	label := Unlabeled
	switch {
	case r.Label != nil:
		label = *r.Label
		if label != 0 && label != 1 {
			return Example{}, fmt.Errorf("label %d not in {0,1}", label)
		}
	case !opts.AllowUnlabeled:
		return Example{}, errors.New("missing label")
	}
	return Example{
		ID:       *r.Index,
		Input:    r.InputIDs,
		Contrast: r.ContrastIDs,
		Label:    label,
	}, nil
}

// #endregion load

// #region truncate
// Truncate returns copies of exs with input and contrast sequences cut to at
// most n tokens. n <= 0 returns exs unchanged.
func Truncate(exs []Example, n int) []Example {
	if n <= 0 {
		return exs
	}
	out := make([]Example, len(exs))
	for i, ex := range exs {
		out[i] = Example{
			ID:       ex.ID,
			Input:    clip(ex.Input, n),
			Contrast: clip(ex.Contrast, n),
			Label:    ex.Label,
		}
	}
	return out
}

func clip(seq []int, n int) []int {
	if seq == nil {
		return nil
	}
	return append([]int(nil), seq[:min(n, len(seq))]...)
}

// #endregion truncate
