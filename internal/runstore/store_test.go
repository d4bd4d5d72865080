package runstore

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielpatrickdp/vulnharness/internal/metrics"
)

func tempDB(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "runs.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func startRun(t *testing.T, s *Store, started time.Time) string {
	t.Helper()
	id, err := s.StartRun(RunRecord{
		Variant:    "reveal",
		ModelName:  "reveal",
		Dataset:    "devign",
		Monitor:    "f1",
		ConfigJSON: `{"epochs":3}`,
		StartedAt:  started,
	})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	return id
}

func TestStartAndGetRun(t *testing.T) {
	s := tempDB(t)
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	id := startRun(t, s, started)
	if id == "" {
		t.Fatal("expected non-empty run id")
	}

	rec, err := s.GetRun(id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if rec.Variant != "reveal" || rec.Dataset != "devign" || rec.ConfigJSON != `{"epochs":3}` {
		t.Fatalf("unexpected run %+v", rec)
	}
	if !rec.StartedAt.Equal(started) {
		t.Fatalf("expected start %v, got %v", started, rec.StartedAt)
	}
	if rec.Finished() || rec.BestCheckpointID != "" {
		t.Fatalf("new run should be open with no best checkpoint: %+v", rec)
	}
}

func TestGetRunMissing(t *testing.T) {
	s := tempDB(t)
	if _, err := s.GetRun("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordCheckpointMovesBestPointer(t *testing.T) {
	s := tempDB(t)
	id := startRun(t, s, time.Time{})

	if _, err := s.BestCheckpoint(id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before any checkpoint, got %v", err)
	}

	first, err := s.RecordCheckpoint(CheckpointRecord{RunID: id, Epoch: 1, Score: 0.4, Path: "devign_best_f1.model"})
	if err != nil {
		t.Fatalf("RecordCheckpoint: %v", err)
	}
	second, err := s.RecordCheckpoint(CheckpointRecord{RunID: id, Epoch: 3, Score: 0.7, Path: "devign_best_f1.model"})
	if err != nil {
		t.Fatalf("RecordCheckpoint: %v", err)
	}
	if first == second {
		t.Fatal("expected distinct checkpoint ids")
	}

	best, err := s.BestCheckpoint(id)
	if err != nil {
		t.Fatalf("BestCheckpoint: %v", err)
	}
	if best.ID != second || best.Epoch != 3 || best.Score != 0.7 {
		t.Fatalf("unexpected best %+v", best)
	}

	rec, _ := s.GetRun(id)
	if rec.BestCheckpointID != second || rec.BestEpoch != 3 {
		t.Fatalf("run pointer not moved: %+v", rec)
	}
}

func TestRecordCheckpointUnknownRun(t *testing.T) {
	s := tempDB(t)
	if _, err := s.RecordCheckpoint(CheckpointRecord{RunID: "ghost", Epoch: 1}); err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestCyclesInEpochOrder(t *testing.T) {
	s := tempDB(t)
	id := startRun(t, s, time.Time{})

	for _, epoch := range []int{2, 1, 3} {
		err := s.RecordCycle(Cycle{
			RunID:     id,
			Epoch:     epoch,
			TrainLoss: float64(10 - epoch),
			ValidLoss: 1.5,
			Metrics:   metrics.Result{Accuracy: 0.5, F1: float64(epoch) / 10, Degenerate: epoch == 3},
			Score:     float64(epoch) / 10,
			Patience:  epoch - 1,
			Improved:  epoch == 1,
		})
		if err != nil {
			t.Fatalf("RecordCycle: %v", err)
		}
	}

	cycles, err := s.ListCycles(id)
	if err != nil {
		t.Fatalf("ListCycles: %v", err)
	}
	if len(cycles) != 3 {
		t.Fatalf("expected 3 cycles, got %d", len(cycles))
	}
	for i, c := range cycles {
		if c.Epoch != i+1 {
			t.Fatalf("cycle %d has epoch %d", i, c.Epoch)
		}
	}
	if !cycles[0].Improved || cycles[1].Improved {
		t.Fatal("improved flag not preserved")
	}
	if !cycles[2].Metrics.Degenerate || cycles[2].Metrics.F1 != 0.3 {
		t.Fatalf("metrics not preserved: %+v", cycles[2].Metrics)
	}
	if cycles[0].CreatedAt.IsZero() {
		t.Fatal("expected created_at")
	}
}

func TestFinishRunAndList(t *testing.T) {
	s := tempDB(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	older := startRun(t, s, base)
	newer := startRun(t, s, base.Add(500*time.Millisecond))

	if err := s.FinishRun(older, "early_stop", 4, 0.66); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	rec, _ := s.GetRun(older)
	if !rec.Finished() || rec.StopReason != "early_stop" || rec.BestScore != 0.66 {
		t.Fatalf("unexpected finished run %+v", rec)
	}

	if err := s.FinishRun("ghost", "done", 0, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	runs, err := s.ListRuns(10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != newer || runs[1].ID != older {
		t.Fatalf("expected newest first, got %+v", runs)
	}

	limited, _ := s.ListRuns(1)
	if len(limited) != 1 {
		t.Fatalf("expected limit 1, got %d", len(limited))
	}
}
