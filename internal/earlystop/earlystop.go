package earlystop

// #region policy
// Policy decides after each validation cycle whether a run improved, keeps
// waiting, or stops. One Policy belongs to one run.
type Policy struct {
	config   Config
	best     float64
	patience int
	observed bool
	stopped  bool
}

// New creates a policy with the given configuration.
func New(config Config) *Policy {
	if config.MaxPatience < 1 {
		config.MaxPatience = 1
	}
	if config.MinDelta < 0 {
		config.MinDelta = -config.MinDelta
	}
	return &Policy{config: config}
}

// Observe feeds one validation score. The first observation is always an
// improvement. After Stopped every call returns the same stopped decision.
func (p *Policy) Observe(score float64) Decision {
	if p.stopped {
		return p.decision(Stopped, false)
	}
	if !p.observed || p.better(score) {
		p.observed = true
		p.best = score
		p.patience = 0
		return p.decision(Improving, true)
	}

	p.patience++
	if p.patience >= p.config.MaxPatience {
		p.stopped = true
		return p.decision(Stopped, false)
	}
	return p.decision(Waiting, false)
}

// Stopped reports whether the policy has ended the run.
func (p *Policy) Stopped() bool { return p.stopped }

// Best returns the best score and whether anything has been observed.
func (p *Policy) Best() (float64, bool) { return p.best, p.observed }

// Patience returns the current count of non-improving cycles.
func (p *Policy) Patience() int { return p.patience }

// Config returns the policy configuration.
func (p *Policy) Config() Config { return p.config }

// Reset clears all observations.
func (p *Policy) Reset() {
	p.best = 0
	p.patience = 0
	p.observed = false
	p.stopped = false
}

// #endregion policy

// #region helpers
func (p *Policy) better(score float64) bool {
	if p.config.Direction == Minimize {
		return score < p.best-p.config.MinDelta
	}
	return score > p.best+p.config.MinDelta
}

func (p *Policy) decision(s State, improved bool) Decision {
	return Decision{State: s, Improved: improved, Patience: p.patience, Best: p.best}
}

// #endregion helpers
