package earlystop

import (
	"fmt"

	"github.com/danielpatrickdp/vulnharness/internal/metrics"
)

// #region direction
// Direction says which way a monitored score improves.
type Direction int

const (
	Maximize Direction = iota
	Minimize
)

func (d Direction) String() string {
	if d == Minimize {
		return "min"
	}
	return "max"
}

// #endregion direction

// #region monitor
// Monitor names the validation scalar a run watches.
type Monitor string

const (
	MonitorF1   Monitor = "f1"
	MonitorLoss Monitor = "loss"
)

// ValidationView is what a monitor reads from one validation pass.
type ValidationView struct {
	Loss    float64
	Metrics metrics.Result
}

// Score extracts the monitored value.
func (m Monitor) Score(v ValidationView) (float64, error) {
	switch m {
	case MonitorF1:
		return v.Metrics.F1, nil
	case MonitorLoss:
		return v.Loss, nil
	default:
		return 0, fmt.Errorf("earlystop: unknown monitor %q", string(m))
	}
}

// Direction returns the improvement direction for the monitor.
func (m Monitor) Direction() Direction {
	if m == MonitorLoss {
		return Minimize
	}
	return Maximize
}

// #endregion monitor

// #region config
// Config holds the patience policy thresholds.
type Config struct {
	Direction   Direction
	MaxPatience int     // consecutive non-improving cycles before stopping
	MinDelta    float64 // improvement must exceed this margin
}

// DefaultConfig returns the Reveal policy: F1, higher is better, patience 5.
func DefaultConfig() Config {
	return Config{
		Direction:   Maximize,
		MaxPatience: 5,
	}
}

// ConfigFor returns a policy config for a monitor.
func ConfigFor(m Monitor, maxPatience int) Config {
	return Config{Direction: m.Direction(), MaxPatience: maxPatience}
}

// #endregion config

// #region decision
// State is the policy's position after an observation.
type State int

const (
	Improving State = iota
	Waiting
	Stopped
)

func (s State) String() string {
	switch s {
	case Improving:
		return "improving"
	case Waiting:
		return "waiting"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Decision is the output of one Observe call.
type Decision struct {
	State    State
	Improved bool    // this observation became the new best
	Patience int     // non-improving cycles since the last best
	Best     float64 // best score so far
}

// #endregion decision
