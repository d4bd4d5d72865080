package optim

// #region adamw-config
// AdamWConfig holds AdamW hyperparameters.
type AdamWConfig struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64 // decoupled, skipped for NoDecay params
	MaxGradNorm float64 // clip before each step when > 0
}

// DefaultAdamWConfig returns the SVulD optimizer settings.
func DefaultAdamWConfig() AdamWConfig {
	return AdamWConfig{
		LR:          5e-5,
		Beta1:       0.9,
		Beta2:       0.999,
		Eps:         1e-8,
		MaxGradNorm: 1.0,
	}
}

// #endregion adamw-config

// #region sgd-config
// SGDConfig holds SGD hyperparameters.
type SGDConfig struct {
	LR          float64
	Momentum    float64
	WeightDecay float64
	MaxGradNorm float64
}

// DefaultSGDConfig returns the Reveal optimizer settings.
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LR:          1e-4,
		WeightDecay: 1e-3,
		MaxGradNorm: 0,
	}
}

// #endregion sgd-config
