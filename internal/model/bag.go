package model

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/danielpatrickdp/vulnharness/internal/checkpoint"
)

// #region bag-config
// BagConfig sizes a BagModel and weights its auxiliary losses.
type BagConfig struct {
	VocabSize      int
	Dim            int
	PadID          int
	Margin         float64 // hinge margin for pair and contrast terms
	PairWeight     float64 // weight of the triplet term over Positives/Negatives
	ContrastWeight float64 // weight of the separation term over Contrasts
	Seed           int64
}

// DefaultBagConfig matches the RoBERTa vocabulary and pad id.
func DefaultBagConfig() BagConfig {
	return BagConfig{
		VocabSize:      50265,
		Dim:            64,
		PadID:          1,
		Margin:         1.0,
		PairWeight:     0.5,
		ContrastWeight: 0.2,
		Seed:           42,
	}
}

// #endregion bag-config

// #region bag-struct
// BagModel is a mean-of-embeddings classifier with analytic gradients. Not
// safe for concurrent use.
type BagModel struct {
	config BagConfig

	embedding *Param // V x D
	weight    *Param // D x 2
	bias      *Param // 2

	training bool
	cache    *forwardCache
}

// encoded is one sequence after the embedding bag.
type encoded struct {
	tokens []int     // non-pad token rows
	h      []float64 // tanh(mean embedding)
}

type forwardCache struct {
	inputs    []encoded
	positives []encoded
	negatives []encoded
	contrasts []encoded
	probs     [][]float64
	labels    []int
}

// #endregion bag-struct

// #region constructor
// NewBagModel creates a randomly initialized model in training mode.
func NewBagModel(config BagConfig) (*BagModel, error) {
	if config.VocabSize <= 0 || config.Dim <= 0 {
		return nil, fmt.Errorf("bag model: vocab %d and dim %d must be positive", config.VocabSize, config.Dim)
	}
	m := &BagModel{
		config:    config,
		embedding: NewParam("embedding", config.VocabSize, config.Dim),
		weight:    NewParam("classifier.weight", config.Dim, 2),
		bias:      NewParam("classifier.bias", 2),
		training:  true,
	}
	m.bias.NoDecay = true

	rng := rand.New(rand.NewSource(config.Seed))
	for i := range m.embedding.Data {
		m.embedding.Data[i] = float32((rng.Float64()*2 - 1) * 0.1)
	}
	limit := 1 / math.Sqrt(float64(config.Dim))
	for i := range m.weight.Data {
		m.weight.Data[i] = float32((rng.Float64()*2 - 1) * limit)
	}
	return m, nil
}

// #endregion constructor

// #region trainable
// Params returns the learnable parameters.
func (m *BagModel) Params() ParamSet {
	return ParamSet{m.embedding, m.weight, m.bias}
}

// State snapshots the parameters.
func (m *BagModel) State() (checkpoint.ParamState, error) {
	return m.Params().State(), nil
}

// Load restores parameters from a snapshot.
func (m *BagModel) Load(s checkpoint.ParamState) error {
	m.cache = nil
	return m.Params().Load(s)
}

// SetTraining toggles training mode. Leaving it drops any cached forward pass.
func (m *BagModel) SetTraining(training bool) {
	m.training = training
	if !training {
		m.cache = nil
	}
}

// NumParameters returns the scalar parameter count.
func (m *BagModel) NumParameters() int { return m.Params().Count() }

// Config returns the model configuration.
func (m *BagModel) Config() BagConfig { return m.config }

// #endregion trainable

// #region forward
// Forward classifies every input sequence. With labels it also computes the
// loss and, in training mode, caches what Backward needs.
func (m *BagModel) Forward(ctx context.Context, in Input) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}
	n := in.Len()
	if n == 0 {
		return Output{}, ErrEmptyInput
	}
	if err := checkParallel(in, n); err != nil {
		return Output{}, err
	}

	c := &forwardCache{inputs: m.encodeAll(in.Inputs)}
	out := Output{Probs: make([][]float64, n), Repr: make([][]float64, n)}
	for i, e := range c.inputs {
		out.Probs[i] = m.classify(e.h)
		out.Repr[i] = append([]float64(nil), e.h...)
	}
	c.probs = out.Probs

	if in.Labels == nil {
		m.cache = nil
		return out, nil
	}

	var loss float64
	for i, y := range in.Labels {
		loss -= math.Log(math.Max(out.Probs[i][y], 1e-12))
	}
	if in.Positives != nil && in.Negatives != nil && m.config.PairWeight != 0 {
		c.positives = m.encodeAll(in.Positives)
		c.negatives = m.encodeAll(in.Negatives)
		for i := range c.inputs {
			loss += m.config.PairWeight * m.pairTerm(c, i)
		}
	}
	if in.Contrasts != nil && m.config.ContrastWeight != 0 {
		c.contrasts = m.encodeAll(in.Contrasts)
		for i := range c.inputs {
			loss += m.config.ContrastWeight * m.contrastTerm(c, i)
		}
	}
	out.Loss = loss / float64(n)

	if m.training {
		c.labels = in.Labels
		m.cache = c
	} else {
		m.cache = nil
	}
	return out, nil
}

func checkParallel(in Input, n int) error {
	aux := []struct {
		name string
		seqs [][]int
	}{
		{"contrasts", in.Contrasts},
		{"positives", in.Positives},
		{"negatives", in.Negatives},
	}
	for _, a := range aux {
		if a.seqs != nil && len(a.seqs) != n {
			return fmt.Errorf("model: %d %s for %d inputs", len(a.seqs), a.name, n)
		}
	}
	if in.Labels != nil {
		if len(in.Labels) != n {
			return fmt.Errorf("model: %d labels for %d inputs", len(in.Labels), n)
		}
		for i, y := range in.Labels {
			if y != 0 && y != 1 {
				return fmt.Errorf("model: label %d at %d not in {0,1}", y, i)
			}
		}
	}
	return nil
}

func (m *BagModel) encodeAll(seqs [][]int) []encoded {
	out := make([]encoded, len(seqs))
	for i, s := range seqs {
		out[i] = m.encode(s)
	}
	return out
}

// encode averages the non-pad embeddings and squashes with tanh. A sequence
// with no non-pad tokens encodes to the zero vector.
func (m *BagModel) encode(seq []int) encoded {
	d := m.config.Dim
	v := m.config.VocabSize
	e := encoded{h: make([]float64, d)}
	for _, tok := range seq {
		row := ((tok % v) + v) % v
		if row == m.config.PadID {
			continue
		}
		e.tokens = append(e.tokens, row)
		base := m.embedding.Data[row*d : (row+1)*d]
		for j, x := range base {
			e.h[j] += float64(x)
		}
	}
	if len(e.tokens) > 0 {
		inv := 1 / float64(len(e.tokens))
		for j := range e.h {
			e.h[j] = math.Tanh(e.h[j] * inv)
		}
	}
	return e
}

// classify returns softmax(hW + b).
func (m *BagModel) classify(h []float64) []float64 {
	z0 := float64(m.bias.Data[0])
	z1 := float64(m.bias.Data[1])
	for j, x := range h {
		z0 += x * float64(m.weight.Data[j*2])
		z1 += x * float64(m.weight.Data[j*2+1])
	}
	mx := math.Max(z0, z1)
	e0 := math.Exp(z0 - mx)
	e1 := math.Exp(z1 - mx)
	sum := e0 + e1
	return []float64{e0 / sum, e1 / sum}
}

func (m *BagModel) pairTerm(c *forwardCache, i int) float64 {
	h := c.inputs[i].h
	return math.Max(0, m.config.Margin+sqDist(h, c.positives[i].h)-sqDist(h, c.negatives[i].h))
}

func (m *BagModel) contrastTerm(c *forwardCache, i int) float64 {
	if len(c.contrasts[i].tokens) == 0 {
		return 0
	}
	return math.Max(0, m.config.Margin-sqDist(c.inputs[i].h, c.contrasts[i].h))
}

func sqDist(a, b []float64) float64 {
	var s float64
	for j := range a {
		d := a[j] - b[j]
		s += d * d
	}
	return s
}

// #endregion forward

// #region backward
// Backward accumulates loss gradients into the parameter buffers.
func (m *BagModel) Backward(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := m.cache
	if c == nil || !m.training {
		return ErrNoForward
	}
	m.cache = nil

	n := float64(len(c.inputs))
	d := m.config.Dim
	dh := make([]float64, d)
	scratch := make([]float64, d)

	for i, in := range c.inputs {
		clear(dh)

		// cross-entropy through softmax
		dz0 := c.probs[i][0] / n
		dz1 := c.probs[i][1] / n
		if c.labels[i] == 0 {
			dz0 -= 1 / n
		} else {
			dz1 -= 1 / n
		}
		m.bias.Grad[0] += float32(dz0)
		m.bias.Grad[1] += float32(dz1)
		for j, x := range in.h {
			m.weight.Grad[j*2] += float32(x * dz0)
			m.weight.Grad[j*2+1] += float32(x * dz1)
			dh[j] += float64(m.weight.Data[j*2])*dz0 + float64(m.weight.Data[j*2+1])*dz1
		}

		if c.positives != nil && m.pairTerm(c, i) > 0 {
			k := m.config.PairWeight / n
			pos, neg := c.positives[i], c.negatives[i]
			for j := range dh {
				dh[j] += k * 2 * (neg.h[j] - pos.h[j])
			}
			for j := range scratch {
				scratch[j] = -k * 2 * (in.h[j] - pos.h[j])
			}
			m.accumulate(pos, scratch)
			for j := range scratch {
				scratch[j] = k * 2 * (in.h[j] - neg.h[j])
			}
			m.accumulate(neg, scratch)
		}

		if c.contrasts != nil && m.contrastTerm(c, i) > 0 {
			k := m.config.ContrastWeight / n
			con := c.contrasts[i]
			for j := range dh {
				dh[j] -= k * 2 * (in.h[j] - con.h[j])
			}
			for j := range scratch {
				scratch[j] = k * 2 * (in.h[j] - con.h[j])
			}
			m.accumulate(con, scratch)
		}

		m.accumulate(in, dh)
	}
	return nil
}

// accumulate pushes a gradient on h back through tanh and the mean into the
// embedding rows that produced it.
func (m *BagModel) accumulate(e encoded, dh []float64) {
	if len(e.tokens) == 0 {
		return
	}
	d := m.config.Dim
	inv := 1 / float64(len(e.tokens))
	du := make([]float32, d)
	for j, h := range e.h {
		du[j] = float32(dh[j] * (1 - h*h) * inv)
	}
	for _, row := range e.tokens {
		g := m.embedding.Grad[row*d : (row+1)*d]
		for j := range g {
			g[j] += du[j]
		}
	}
}

// #endregion backward
