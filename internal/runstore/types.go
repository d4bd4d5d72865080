package runstore

import (
	"errors"
	"time"

	"github.com/danielpatrickdp/vulnharness/internal/metrics"
)

// ErrNotFound is returned when a run or checkpoint does not exist.
var ErrNotFound = errors.New("runstore: not found")

// #region run-record
// RunRecord is one training run.
type RunRecord struct {
	ID               string
	Variant          string // "reveal" | "svuld"
	ModelName        string
	Dataset          string
	Monitor          string
	ConfigJSON       string
	StartedAt        time.Time
	FinishedAt       time.Time // zero while running
	StopReason       string    // "" while running
	BestEpoch        int
	BestScore        float64
	BestCheckpointID string
}

// Finished reports whether FinishRun has been called.
func (r RunRecord) Finished() bool { return !r.FinishedAt.IsZero() }

// #endregion run-record

// #region cycle
// Cycle is one validation pass within a run.
type Cycle struct {
	RunID     string
	Epoch     int
	TrainLoss float64
	ValidLoss float64
	Metrics   metrics.Result
	Score     float64 // monitored value
	Patience  int
	Improved  bool
	CreatedAt time.Time
}

// #endregion cycle

// #region checkpoint-record
// CheckpointRecord is one saved best-so-far snapshot.
type CheckpointRecord struct {
	ID        string
	RunID     string
	Epoch     int
	Score     float64
	Path      string // empty for in-memory snapshots
	CreatedAt time.Time
}

// #endregion checkpoint-record
