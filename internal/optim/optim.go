package optim

import (
	"math"

	"github.com/danielpatrickdp/vulnharness/internal/model"
)

// #region clip
// ClipGradNorm scales all gradients so their joint L2 norm is at most maxNorm and
// returns the norm before clipping.
func ClipGradNorm(params model.ParamSet, maxNorm float64) float64 {
	var sum float64
	for _, p := range params {
		for _, g := range p.Grad {
			sum += float64(g) * float64(g)
		}
	}
	norm := math.Sqrt(sum)
	if maxNorm <= 0 || norm <= maxNorm {
		return norm
	}
	scale := float32(maxNorm / (norm + 1e-6))
	for _, p := range params {
		for i := range p.Grad {
			p.Grad[i] *= scale
		}
	}
	return norm
}

// #endregion clip

// #region sgd
// SGD is stochastic gradient descent with optional momentum and decoupled
// weight decay.
type SGD struct {
	config   SGDConfig
	params   model.ParamSet
	velocity [][]float32
}

// NewSGD creates an SGD optimizer over params.
func NewSGD(params model.ParamSet, config SGDConfig) *SGD {
	o := &SGD{config: config, params: params}
	if config.Momentum != 0 {
		o.velocity = make([][]float32, len(params))
		for i, p := range params {
			o.velocity[i] = make([]float32, len(p.Data))
		}
	}
	return o
}

func (o *SGD) ZeroGrad() { o.params.ZeroGrad() }

func (o *SGD) LR() float64 { return o.config.LR }

func (o *SGD) SetLR(lr float64) { o.config.LR = lr }

// Step applies one update from the accumulated gradients.
func (o *SGD) Step() error {
	if o.config.MaxGradNorm > 0 {
		ClipGradNorm(o.params, o.config.MaxGradNorm)
	}
	lr := float32(o.config.LR)
	decay := float32(1 - o.config.LR*o.config.WeightDecay)
	for i, p := range o.params {
		if o.config.WeightDecay != 0 && !p.NoDecay {
			for j := range p.Data {
				p.Data[j] *= decay
			}
		}
		if o.velocity == nil {
			for j, g := range p.Grad {
				p.Data[j] -= lr * g
			}
			continue
		}
		v := o.velocity[i]
		mom := float32(o.config.Momentum)
		for j, g := range p.Grad {
			v[j] = mom*v[j] + g
			p.Data[j] -= lr * v[j]
		}
	}
	return nil
}

// #endregion sgd

// #region adamw
// AdamW is Adam with decoupled weight decay.
type AdamW struct {
	config AdamWConfig
	params model.ParamSet
	m      [][]float64
	v      [][]float64
	t      int
}

// NewAdamW creates an AdamW optimizer over params.
func NewAdamW(params model.ParamSet, config AdamWConfig) *AdamW {
	o := &AdamW{
		config: config,
		params: params,
		m:      make([][]float64, len(params)),
		v:      make([][]float64, len(params)),
	}
	for i, p := range params {
		o.m[i] = make([]float64, len(p.Data))
		o.v[i] = make([]float64, len(p.Data))
	}
	return o
}

func (o *AdamW) ZeroGrad() { o.params.ZeroGrad() }

func (o *AdamW) LR() float64 { return o.config.LR }

func (o *AdamW) SetLR(lr float64) { o.config.LR = lr }

// Steps returns how many updates have been applied.
func (o *AdamW) Steps() int { return o.t }

// Step applies one bias-corrected Adam update.
func (o *AdamW) Step() error {
	if o.config.MaxGradNorm > 0 {
		ClipGradNorm(o.params, o.config.MaxGradNorm)
	}
	o.t++
	b1, b2 := o.config.Beta1, o.config.Beta2
	c1 := 1 - math.Pow(b1, float64(o.t))
	c2 := 1 - math.Pow(b2, float64(o.t))
	lr := o.config.LR

	for i, p := range o.params {
		m, v := o.m[i], o.v[i]
		decay := o.config.WeightDecay != 0 && !p.NoDecay
		for j, g32 := range p.Grad {
			g := float64(g32)
			m[j] = b1*m[j] + (1-b1)*g
			v[j] = b2*v[j] + (1-b2)*g*g
			x := float64(p.Data[j])
			if decay {
				x -= lr * o.config.WeightDecay * x
			}
			x -= lr * (m[j] / c1) / (math.Sqrt(v[j]/c2) + o.config.Eps)
			p.Data[j] = float32(x)
		}
	}
	return nil
}

// #endregion adamw
