package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func makeExamples(n int, label func(i int) int) []Example {
	out := make([]Example, n)
	for i := range out {
		out[i] = Example{ID: i, Input: []int{i + 2, i + 3}, Label: label(i)}
	}
	return out
}

func alternating(i int) int { return i % 2 }

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestBatchCountIsCeiling(t *testing.T) {
	cases := []struct {
		n, batch, want int
	}{
		{10, 4, 3},
		{8, 4, 2},
		{1, 4, 1},
		{0, 4, 0},
	}
	for _, c := range cases {
		a := New(Config{TrainBatchSize: c.batch, EvalBatchSize: c.batch}, nil, nil, makeExamples(c.n, alternating))
		got, err := a.InitializeTestBatches()
		if err != nil {
			t.Fatalf("initialize: %v", err)
		}
		if got != c.want {
			t.Fatalf("n=%d batch=%d: expected %d batches, got %d", c.n, c.batch, c.want, got)
		}
	}
}

func TestNextBatchExhaustsThenRequiresInit(t *testing.T) {
	a := New(DefaultConfig(), nil, nil, makeExamples(10, alternating))

	if _, err := a.NextTestBatch(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized before init, got %v", err)
	}

	count, err := a.InitializeTestBatches()
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	var ids []int
	for i := 0; i < count; i++ {
		b, err := a.NextTestBatch()
		if err != nil {
			t.Fatalf("batch %d: %v", i, err)
		}
		ids = append(ids, b.IDs()...)
	}
	if len(ids) != 10 {
		t.Fatalf("expected 10 ids, got %d", len(ids))
	}
	for i, id := range ids {
		if id != i {
			t.Fatalf("test split should keep file order: position %d has id %d", i, id)
		}
	}

	if _, err := a.NextTestBatch(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized after exhaustion, got %v", err)
	}

	if _, err := a.InitializeTestBatches(); err != nil {
		t.Fatalf("reinitialize: %v", err)
	}
	if _, err := a.NextTestBatch(); err != nil {
		t.Fatalf("expected batch after reinit, got %v", err)
	}
}

func TestLastBatchIsPartial(t *testing.T) {
	a := New(Config{TrainBatchSize: 4, EvalBatchSize: 4}, nil, makeExamples(6, alternating), nil)
	if _, err := a.InitializeValidBatches(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	first, _ := a.NextValidBatch()
	second, _ := a.NextValidBatch()
	if first.Len() != 4 || second.Len() != 2 {
		t.Fatalf("expected sizes 4 and 2, got %d and %d", first.Len(), second.Len())
	}
}

func TestShuffleTrainIsSeededPermutation(t *testing.T) {
	cfg := Config{TrainBatchSize: 50, EvalBatchSize: 50, ShuffleTrain: true, Seed: 7}
	collect := func() []int {
		a := New(cfg, makeExamples(50, alternating), nil, nil)
		if _, err := a.InitializeTrainBatches(); err != nil {
			t.Fatalf("initialize: %v", err)
		}
		b, err := a.NextTrainBatch()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		return b.IDs()
	}

	first := collect()
	second := collect()
	seen := make(map[int]bool)
	inOrder := true
	for i, id := range first {
		seen[id] = true
		if id != i {
			inOrder = false
		}
		if second[i] != id {
			t.Fatalf("same seed should give same order at %d: %d vs %d", i, id, second[i])
		}
	}
	if len(seen) != 50 {
		t.Fatalf("shuffle lost examples: %d unique", len(seen))
	}
	if inOrder {
		t.Fatal("expected shuffled order")
	}
}

func TestPairSamplingPartners(t *testing.T) {
	cfg := Config{TrainBatchSize: 8, EvalBatchSize: 8, PairSampling: true, Seed: 1}
	a := New(cfg, makeExamples(16, alternating), nil, nil)
	if _, err := a.InitializeTrainBatches(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	b, err := a.NextTrainBatch()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if len(b.Positives) != b.Len() || len(b.Negatives) != b.Len() {
		t.Fatalf("expected partners for every example, got %d/%d", len(b.Positives), len(b.Negatives))
	}
	for i, ex := range b.Examples {
		if b.Positives[i].Label != ex.Label {
			t.Fatalf("positive partner %d has label %d, want %d", i, b.Positives[i].Label, ex.Label)
		}
		if b.Negatives[i].Label == ex.Label {
			t.Fatalf("negative partner %d shares label %d", i, ex.Label)
		}
	}
}

func TestPairSamplingSingleClassDropsNegatives(t *testing.T) {
	cfg := Config{TrainBatchSize: 4, EvalBatchSize: 4, PairSampling: true}
	a := New(cfg, makeExamples(4, func(int) int { return 1 }), nil, nil)
	if _, err := a.InitializeTrainBatches(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	b, err := a.NextTrainBatch()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if b.Negatives != nil {
		t.Fatalf("expected nil negatives, got %d", len(b.Negatives))
	}
	if len(b.Positives) != 4 {
		t.Fatalf("expected 4 positives, got %d", len(b.Positives))
	}
}

func TestUnknownSplit(t *testing.T) {
	a := New(DefaultConfig(), nil, nil, nil)
	if _, err := a.InitializeBatches(Split(9)); !errors.Is(err, ErrUnknownSplit) {
		t.Fatalf("expected ErrUnknownSplit, got %v", err)
	}
}

func TestContrastsNilWithoutContrast(t *testing.T) {
	b := Batch{Examples: makeExamples(3, alternating)}
	if b.Contrasts() != nil {
		t.Fatal("expected nil contrasts")
	}
	b.Examples[1].Contrast = []int{5}
	got := b.Contrasts()
	if len(got) != 3 || len(got[1]) != 1 {
		t.Fatalf("unexpected contrasts %v", got)
	}
}

func TestLoadJSONArrayAndLines(t *testing.T) {
	array := writeFile(t, "train.json", `[
		{"index": 3, "label": 1, "input_ids": [0, 5, 6, 2], "contrast_ids": [0, 7, 2]},
		{"index": 4, "label": 0, "input_ids": [0, 8, 2]}
	]`)
	lines := writeFile(t, "train.jsonl", "{\"index\": 3, \"label\": 1, \"input_ids\": [0, 5, 6, 2], \"contrast_ids\": [0, 7, 2]}\n\n{\"index\": 4, \"label\": 0, \"input_ids\": [0, 8, 2]}\n")

	for _, path := range []string{array, lines} {
		exs, err := Load(path, LoadOptions{})
		if err != nil {
			t.Fatalf("load %s: %v", path, err)
		}
		if len(exs) != 2 {
			t.Fatalf("expected 2 examples, got %d", len(exs))
		}
		if exs[0].ID != 3 || exs[0].Label != 1 || len(exs[0].Input) != 4 || len(exs[0].Contrast) != 3 {
			t.Fatalf("unexpected first example %+v", exs[0])
		}
		if exs[1].Contrast != nil {
			t.Fatalf("expected no contrast on second example, got %v", exs[1].Contrast)
		}
	}
}

func TestLoadRejectsInvalidRecords(t *testing.T) {
	cases := map[string]string{
		"empty input":     `[{"index": 1, "label": 0, "input_ids": []}]`,
		"bad label":       `[{"index": 1, "label": 2, "input_ids": [1]}]`,
		"missing label":   `[{"index": 1, "input_ids": [1]}]`,
		"duplicate index": `[{"index": 1, "label": 0, "input_ids": [1]}, {"index": 1, "label": 1, "input_ids": [2]}]`,
		"bad json":        `[{"index": 1,`,
		"empty file":      "  \n",
	}
	for name, body := range cases {
		path := writeFile(t, "bad.json", body)
		_, err := Load(path, LoadOptions{})
		var loadErr *LoadError
		if !errors.As(err, &loadErr) {
			t.Fatalf("%s: expected *LoadError, got %v", name, err)
		}
		if loadErr.Path != path {
			t.Fatalf("%s: expected path %s, got %s", name, path, loadErr.Path)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"), LoadOptions{})
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected *LoadError, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected wrapped ErrNotExist, got %v", err)
	}
}

func TestLoadAllowUnlabeled(t *testing.T) {
	path := writeFile(t, "detect.jsonl", `{"index": 9, "input_ids": [4, 5]}`)
	exs, err := Load(path, LoadOptions{AllowUnlabeled: true})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if exs[0].Label != Unlabeled {
		t.Fatalf("expected Unlabeled, got %d", exs[0].Label)
	}
}

func TestTruncateCopiesAndClips(t *testing.T) {
	exs := []Example{
		{ID: 1, Input: []int{5, 6, 7, 8}, Contrast: []int{9, 10}, Label: 1},
		{ID: 2, Input: []int{5}, Label: 0},
	}
	got := Truncate(exs, 3)
	if len(got[0].Input) != 3 || len(got[0].Contrast) != 2 {
		t.Fatalf("unexpected lengths %d/%d", len(got[0].Input), len(got[0].Contrast))
	}
	if got[1].Contrast != nil || len(got[1].Input) != 1 {
		t.Fatalf("unexpected short example %+v", got[1])
	}
	got[0].Input[0] = 99
	if exs[0].Input[0] != 5 {
		t.Fatal("truncate must not share memory with its input")
	}
	if same := Truncate(exs, 0); &same[0] != &exs[0] {
		t.Fatal("non-positive limit should return the input slice")
	}
}
