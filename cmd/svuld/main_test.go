package main

import (
	"testing"

	"github.com/danielpatrickdp/vulnharness/internal/dataset"
)

func TestTrainBatchesKeepFileOrder(t *testing.T) {
	a := defaultArgs()
	a.TrainBatchSize = 2
	cfg := trainDataConfig(a)
	if cfg.ShuffleTrain {
		t.Fatal("svuld training batches should not be shuffled")
	}

	var train []dataset.Example
	for i := 0; i < 6; i++ {
		train = append(train, dataset.Example{ID: i, Input: []int{2, 3}, Label: i % 2})
	}
	data := dataset.New(cfg, train, nil, nil)
	for epoch := 0; epoch < 2; epoch++ {
		count, err := data.InitializeTrainBatches()
		if err != nil {
			t.Fatalf("initialize: %v", err)
		}
		var ids []int
		for i := 0; i < count; i++ {
			b, err := data.NextTrainBatch()
			if err != nil {
				t.Fatalf("batch %d: %v", i, err)
			}
			ids = append(ids, b.IDs()...)
		}
		for i, id := range ids {
			if id != i {
				t.Fatalf("epoch %d: got ids %v, want file order", epoch, ids)
			}
		}
	}
}
