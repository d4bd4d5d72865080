package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/alexflint/go-arg"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/vulnharness/internal/checkpoint"
	"github.com/danielpatrickdp/vulnharness/internal/dataset"
	"github.com/danielpatrickdp/vulnharness/internal/earlystop"
	"github.com/danielpatrickdp/vulnharness/internal/evaluate"
	"github.com/danielpatrickdp/vulnharness/internal/export"
	"github.com/danielpatrickdp/vulnharness/internal/logging"
	"github.com/danielpatrickdp/vulnharness/internal/metrics"
	"github.com/danielpatrickdp/vulnharness/internal/runstore"
	"github.com/danielpatrickdp/vulnharness/internal/session"
	"github.com/danielpatrickdp/vulnharness/internal/trainer"
)

// #region args
type args struct {
	Dataset       string  `arg:"--dataset,required" help:"dataset name, used in checkpoint and result paths"`
	InputDir      string  `arg:"--input_dir,required" help:"directory holding train.json, valid.json and test.json"`
	NumEpochs     int     `arg:"--num_epochs"`
	BatchSize     int     `arg:"--batch_size"`
	MaxPatience   int     `arg:"--max_patience"`
	ValidEvery    int     `arg:"--valid_every"`
	Optimizer     string  `arg:"--optimizer" help:"sgd or adamw"`
	LearningRate  float64 `arg:"--lr"`
	WeightDecay   float64 `arg:"--weight_decay"`
	Seed          int64   `arg:"--seed"`
	VocabSize     int     `arg:"--vocab_size"`
	EmbedDim      int     `arg:"--embed_dim"`
	Margin        float64 `arg:"--margin" help:"metric-learning hinge margin"`
	PairWeight    float64 `arg:"--pair_weight" help:"weight of the same/different class distance loss"`
	CheckpointDir string  `arg:"--checkpoint_dir" help:"where <dataset>_best_f1.model is written"`
	ResultRoot    string  `arg:"--result_root"`
	TSNE          bool    `arg:"--tsne" help:"export test representations for t-SNE plots"`
	Backend       string  `arg:"--backend,env:MODEL_BACKEND_ADDR" help:"model server address, empty for a local model"`
	RunDB         string  `arg:"--run_db" help:"sqlite file recording runs and validation cycles"`
	ShowProgress  bool    `arg:"--show_progress"`
	LogLevel      string  `arg:"--log_level"`
	LogJSON       bool    `arg:"--log_json"`
}

func (args) Description() string {
	return "reveal trains the metric-learning vulnerability classifier and evaluates it on the test split"
}

func defaultArgs() args {
	sess := session.DefaultConfig()
	return args{
		NumEpochs:     100,
		BatchSize:     128,
		MaxPatience:   5,
		ValidEvery:    1,
		Optimizer:     session.OptimizerSGD,
		LearningRate:  sess.SGD.LR,
		WeightDecay:   sess.SGD.WeightDecay,
		Seed:          42,
		VocabSize:     sess.Bag.VocabSize,
		EmbedDim:      sess.Bag.Dim,
		Margin:        sess.Bag.Margin,
		PairWeight:    sess.Bag.PairWeight,
		CheckpointDir: ".",
		ResultRoot:    "result",
		ShowProgress:  true,
		LogLevel:      "info",
	}
}

// #endregion args

// #region main
func main() {
	a := defaultArgs()
	arg.MustParse(&a)

	log, err := logging.New(logging.Options{Level: a.LogLevel, JSON: a.LogJSON})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(a, log); err != nil {
		log.Fatal("reveal failed", zap.Error(err))
	}
}

func run(a args, log *zap.Logger) error {
	splits := make([][]dataset.Example, 3)
	for i, name := range []string{"train.json", "valid.json", "test.json"} {
		exs, err := dataset.Load(filepath.Join(a.InputDir, name), dataset.LoadOptions{})
		if err != nil {
			return err
		}
		splits[i] = exs
	}
	data := dataset.New(dataset.Config{
		TrainBatchSize: a.BatchSize,
		EvalBatchSize:  a.BatchSize,
		ShuffleTrain:   true,
		PairSampling:   true,
		Seed:           a.Seed,
	}, splits[0], splits[1], splits[2])

	sess, err := session.Open(sessionConfig(a), log)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := train(a, sess, data, log); err != nil {
		return err
	}
	return test(a, sess, data, log)
}

func sessionConfig(a args) session.Config {
	cfg := session.DefaultConfig()
	cfg.BackendAddr = a.Backend
	cfg.Bag.VocabSize = a.VocabSize
	cfg.Bag.Dim = a.EmbedDim
	cfg.Bag.Margin = a.Margin
	cfg.Bag.PairWeight = a.PairWeight
	cfg.Bag.ContrastWeight = 0
	cfg.Bag.Seed = a.Seed
	cfg.Optimizer = a.Optimizer
	cfg.SGD.LR = a.LearningRate
	cfg.SGD.WeightDecay = a.WeightDecay
	cfg.AdamW.LR = a.LearningRate
	cfg.AdamW.WeightDecay = a.WeightDecay
	return cfg
}

// #endregion main

// #region train
func train(a args, sess *session.Session, data *dataset.Adapter, log *zap.Logger) error {
	cfg := trainer.DefaultConfig()
	cfg.Epochs = a.NumEpochs
	cfg.ValidEvery = a.ValidEvery
	cfg.MaxPatience = a.MaxPatience
	cfg.Monitor = earlystop.MonitorF1
	cfg.CheckpointPath = checkpoint.RevealPath(a.CheckpointDir, a.Dataset)
	cfg.ShowProgress = a.ShowProgress
	cfg.ModelName = "reveal"
	cfg.Variant = "reveal"
	cfg.Dataset = a.Dataset

	opts := []trainer.Option{
		trainer.WithLogger(log),
		trainer.WithReport(os.Stderr),
	}
	if a.RunDB != "" {
		store, err := runstore.NewStore(a.RunDB)
		if err != nil {
			return err
		}
		defer store.Close()
		opts = append(opts, trainer.WithRecorder(store))
	}

	fmt.Fprintln(os.Stderr, "Start Training")
	sw := logging.StartStopwatch()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	sum, err := trainer.New(cfg, sess.Model, sess.Optimizer, data, opts...).Train(ctx)
	if err != nil {
		return err
	}
	if errors.Is(sum.Err(), trainer.ErrInterrupted) {
		fmt.Println("Training Interrupted by User!")
	}
	log.Info("Reveal train done!", zap.String("elapsed", sw.String()), zap.Int("best_epoch", sum.BestEpoch), zap.Float64("best_f1", sum.BestScore))
	return nil
}

// #endregion train

// #region test
func test(a args, sess *session.Session, data *dataset.Adapter, log *zap.Logger) error {
	sw := logging.StartStopwatch()
	count, err := data.InitializeTestBatches()
	if err != nil {
		return err
	}
	if count == 0 {
		return nil
	}

	runner := evaluate.NewRunner(evaluate.Config{ShowProgress: a.ShowProgress, Description: "test"})
	res, err := runner.Evaluate(context.Background(), sess.Model, data.NextTestBatch, count)
	if err != nil {
		if !errors.Is(err, metrics.ErrDegenerateSplit) {
			return err
		}
		log.Warn("degenerate test split", zap.Int("examples", res.Metrics.Count))
	}

	if err := export.WritePredictions(export.ResultPath(a.ResultRoot, "reveal", a.Dataset, "test.json"), res.Predictions()); err != nil {
		return err
	}
	if err := export.WriteSummary(os.Stderr, "Test Set", res.Metrics); err != nil {
		return err
	}

	if a.TSNE {
		if err := embeddings(a, sess, data, log); err != nil {
			return err
		}
	}
	log.Info("Reveal test done!", zap.String("elapsed", sw.String()))
	return nil
}

func embeddings(a args, sess *session.Session, data *dataset.Adapter, log *zap.Logger) error {
	log.Info("***** Running tSNE embeddings *****")
	count, err := data.InitializeTestBatches()
	if err != nil {
		return err
	}
	runner := evaluate.NewRunner(evaluate.Config{ShowProgress: a.ShowProgress, Description: "tsne"})
	embs, err := runner.Embeddings(context.Background(), sess.Model, data.NextTestBatch, count)
	if err != nil {
		return err
	}
	path := export.ResultPath(a.ResultRoot, "reveal", a.Dataset, "test_tSNE_embedding.bin")
	if err := export.WriteEmbeddings(path, embs); err != nil {
		return err
	}
	log.Info("tSNE embedding done!", zap.String("path", path), zap.Int("vectors", len(embs)))
	return nil
}

// #endregion test
