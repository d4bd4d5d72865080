package optim

import (
	"fmt"
	"math"
)

// #region scheduler
// Scheduler maps an optimizer step count to a learning rate.
type Scheduler interface {
	LR(step int) float64
	Name() string
}

// Constant keeps the learning rate fixed.
type Constant struct {
	Base float64
}

func (s Constant) LR(int) float64 { return s.Base }

func (s Constant) Name() string { return "constant" }

// LinearWarmup ramps from 0 to Base over Warmup steps, then decays linearly
// to 0 at Total. Warmup may be fractional.
type LinearWarmup struct {
	Base   float64
	Warmup float64
	Total  int
}

// NewLinearWarmup builds the SVulD schedule: warmup is a tenth of the total.
func NewLinearWarmup(base float64, total int) LinearWarmup {
	return LinearWarmup{Base: base, Warmup: float64(total) * 0.1, Total: total}
}

func (s LinearWarmup) LR(step int) float64 {
	cur := float64(step)
	if cur < s.Warmup {
		return s.Base * cur / math.Max(1, s.Warmup)
	}
	remaining := float64(s.Total - step)
	if remaining <= 0 {
		return 0
	}
	return s.Base * remaining / math.Max(1, float64(s.Total)-s.Warmup)
}

func (s LinearWarmup) Name() string {
	return fmt.Sprintf("linear_warmup(%g/%d)", s.Warmup, s.Total)
}

// StepDecay multiplies the rate by Gamma every Every steps.
type StepDecay struct {
	Base  float64
	Every int
	Gamma float64
}

func (s StepDecay) LR(step int) float64 {
	if s.Every <= 0 {
		return s.Base
	}
	lr := s.Base
	for i := 0; i < step/s.Every; i++ {
		lr *= s.Gamma
	}
	return lr
}

func (s StepDecay) Name() string {
	return fmt.Sprintf("step_decay(%d,%g)", s.Every, s.Gamma)
}

// #endregion scheduler
