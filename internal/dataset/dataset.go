package dataset

import (
	"fmt"
	"math/rand"
)

// #region adapter-struct
// Adapter exposes fixed-size, resettable batch iteration over the three splits.
type Adapter struct {
	config Config
	rng    *rand.Rand
	splits map[Split]*splitState

	// train examples grouped by label, for partner sampling
	byLabel map[int][]Example
}

type splitState struct {
	examples    []Example
	order       []int
	batchSize   int
	position    int
	initialized bool
}

// #endregion adapter-struct

// #region constructor
// New builds an Adapter over the given splits. Any split may be empty.
func New(config Config, train, valid, test []Example) *Adapter {
	if config.TrainBatchSize <= 0 {
		config.TrainBatchSize = 1
	}
	if config.EvalBatchSize <= 0 {
		config.EvalBatchSize = 1
	}
	a := &Adapter{
		config: config,
		rng:    rand.New(rand.NewSource(config.Seed)),
		splits: map[Split]*splitState{
			Train: newSplitState(train, config.TrainBatchSize),
			Valid: newSplitState(valid, config.EvalBatchSize),
			Test:  newSplitState(test, config.EvalBatchSize),
		},
		byLabel: make(map[int][]Example),
	}
	for _, ex := range train {
		a.byLabel[ex.Label] = append(a.byLabel[ex.Label], ex)
	}
	return a
}

func newSplitState(examples []Example, batchSize int) *splitState {
	order := make([]int, len(examples))
	for i := range order {
		order[i] = i
	}
	return &splitState{examples: examples, order: order, batchSize: batchSize}
}

// #endregion constructor

// #region iteration
// Len returns the number of examples in a split.
func (a *Adapter) Len(split Split) int {
	s, ok := a.splits[split]
	if !ok {
		return 0
	}
	return len(s.examples)
}

// InitializeBatches resets iteration over a split and returns its batch count.
// The train split is reshuffled when ShuffleTrain is set; other splits keep
// file order so ids stay aligned with predictions.
func (a *Adapter) InitializeBatches(split Split) (int, error) {
	s, ok := a.splits[split]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSplit, split)
	}
	s.position = 0
	s.initialized = true
	if split == Train && a.config.ShuffleTrain {
		a.rng.Shuffle(len(s.order), func(i, j int) {
			s.order[i], s.order[j] = s.order[j], s.order[i]
		})
	}
	return (len(s.examples) + s.batchSize - 1) / s.batchSize, nil
}

// NextBatch returns the next batch of a split. After the last batch the split
// reverts to uninitialized.
func (a *Adapter) NextBatch(split Split) (Batch, error) {
	s, ok := a.splits[split]
	if !ok {
		return Batch{}, fmt.Errorf("%w: %s", ErrUnknownSplit, split)
	}
	if !s.initialized || s.position >= len(s.order) {
		s.initialized = false
		return Batch{}, fmt.Errorf("%w: %s", ErrNotInitialized, split)
	}

	end := s.position + s.batchSize
	if end > len(s.order) {
		end = len(s.order)
	}
	batch := Batch{Split: split, Examples: make([]Example, 0, end-s.position)}
	for _, idx := range s.order[s.position:end] {
		batch.Examples = append(batch.Examples, s.examples[idx])
	}
	s.position = end
	if s.position >= len(s.order) {
		s.initialized = false
	}

	if split == Train && a.config.PairSampling {
		a.attachPartners(&batch)
	}
	return batch, nil
}

// #endregion iteration

// #region partners
// attachPartners pairs every example with a random same-class and a random
// different-class train example.
func (a *Adapter) attachPartners(b *Batch) {
	b.Positives = make([]Example, len(b.Examples))
	b.Negatives = make([]Example, len(b.Examples))
	haveNegatives := true
	for i, ex := range b.Examples {
		same := a.byLabel[ex.Label]
		b.Positives[i] = same[a.rng.Intn(len(same))]

		other := a.byLabel[1-ex.Label]
		if len(other) == 0 {
			haveNegatives = false
			continue
		}
		b.Negatives[i] = other[a.rng.Intn(len(other))]
	}
	if !haveNegatives {
		b.Negatives = nil
	}
}

// #endregion partners

// #region named-wrappers
// InitializeTrainBatches resets the train split.
func (a *Adapter) InitializeTrainBatches() (int, error) { return a.InitializeBatches(Train) }

// NextTrainBatch returns the next train batch.
func (a *Adapter) NextTrainBatch() (Batch, error) { return a.NextBatch(Train) }

// InitializeValidBatches resets the validation split.
func (a *Adapter) InitializeValidBatches() (int, error) { return a.InitializeBatches(Valid) }

// NextValidBatch returns the next validation batch.
func (a *Adapter) NextValidBatch() (Batch, error) { return a.NextBatch(Valid) }

// InitializeTestBatches resets the test split.
func (a *Adapter) InitializeTestBatches() (int, error) { return a.InitializeBatches(Test) }

// NextTestBatch returns the next test batch.
func (a *Adapter) NextTestBatch() (Batch, error) { return a.NextBatch(Test) }

// #endregion named-wrappers
