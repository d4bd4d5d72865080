package trainer

import (
	"errors"

	"github.com/danielpatrickdp/vulnharness/internal/dataset"
	"github.com/danielpatrickdp/vulnharness/internal/earlystop"
	"github.com/danielpatrickdp/vulnharness/internal/runstore"
)

// ErrInterrupted marks a run that was cancelled by the caller. The best
// parameters are still restored, so it is informational rather than fatal.
var ErrInterrupted = errors.New("trainer: training interrupted")

// #region config
// Config controls one training run.
type Config struct {
	Epochs         int
	ValidEvery     int // validate when epoch % ValidEvery == 0 (epochs count from 0)
	MaxPatience    int
	Monitor        earlystop.Monitor
	MinDelta       float64
	CheckpointPath string // "" keeps the best snapshot in memory only
	LogEvery       int    // steps between running-loss log lines, 0 disables
	ShowProgress   bool
	ModelName      string
	Dataset        string
	Variant        string
	Flags          map[string]any // extra run options stored with the run config
}

// DefaultConfig returns the Reveal training setup.
func DefaultConfig() Config {
	return Config{
		Epochs:      100,
		ValidEvery:  1,
		MaxPatience: 5,
		Monitor:     earlystop.MonitorF1,
		LogEvery:    100,
		ModelName:   "reveal",
		Variant:     "reveal",
	}
}

// #endregion config

// #region stop-reason
// StopReason says why the epoch loop ended.
type StopReason string

const (
	StopCompleted   StopReason = "completed"
	StopEarly       StopReason = "early_stop"
	StopInterrupted StopReason = "interrupted"
)

// #endregion stop-reason

// #region interfaces
// BatchSource issues training and validation batches.
type BatchSource interface {
	InitializeTrainBatches() (int, error)
	NextTrainBatch() (dataset.Batch, error)
	InitializeValidBatches() (int, error)
	NextValidBatch() (dataset.Batch, error)
}

// Recorder persists run history. runstore.Store implements it.
type Recorder interface {
	StartRun(rec runstore.RunRecord) (string, error)
	RecordCycle(c runstore.Cycle) error
	RecordCheckpoint(rec runstore.CheckpointRecord) (string, error)
	FinishRun(runID, reason string, bestEpoch int, bestScore float64) error
}

// #endregion interfaces

// #region summary
// Summary describes a finished run.
type Summary struct {
	RunID       string
	EpochsRun   int
	BestEpoch   int // -1 when no validation improved
	BestScore   float64
	Reason      StopReason
	TrainLosses []float64 // per epoch, sum of batch losses
	Cycles      []runstore.Cycle
}

// Err returns ErrInterrupted for cancelled runs and nil otherwise.
func (s Summary) Err() error {
	if s.Reason == StopInterrupted {
		return ErrInterrupted
	}
	return nil
}

// #endregion summary
