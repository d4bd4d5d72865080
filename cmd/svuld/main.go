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
	"github.com/danielpatrickdp/vulnharness/internal/optim"
	"github.com/danielpatrickdp/vulnharness/internal/runstore"
	"github.com/danielpatrickdp/vulnharness/internal/session"
	"github.com/danielpatrickdp/vulnharness/internal/trainer"
)

// #region args
type args struct {
	OutputDir       string  `arg:"--output_dir,required" help:"directory for checkpoints"`
	TrainDataFile   string  `arg:"--train_data_file" help:"pre-tokenized training file (json or jsonl)"`
	EvalDataFile    string  `arg:"--eval_data_file" help:"pre-tokenized validation file"`
	TestDataFile    string  `arg:"--test_data_file" help:"pre-tokenized test or detection file"`
	ModelNameOrPath string  `arg:"--model_name_or_path" help:"checkpoint to initialize parameters from"`
	BlockSize       int     `arg:"--block_size" help:"truncate sequences to this many tokens, -1 keeps all"`
	DoTrain         bool    `arg:"--do_train"`
	DoTest          bool    `arg:"--do_test"`
	DoDetect        bool    `arg:"--do_detect"`
	TrainBatchSize  int     `arg:"--train_batch_size"`
	EvalBatchSize   int     `arg:"--eval_batch_size"`
	LearningRate    float64 `arg:"--learning_rate"`
	WeightDecay     float64 `arg:"--weight_decay"`
	AdamEpsilon     float64 `arg:"--adam_epsilon"`
	MaxGradNorm     float64 `arg:"--max_grad_norm"`
	NumTrainEpochs  int     `arg:"--num_train_epochs"`
	Seed            int64   `arg:"--seed"`
	SimCSE          bool    `arg:"--simcse" help:"stored in the run config; needs a backend that implements it"`
	SimCT           bool    `arg:"--simct" help:"enable the contrast loss"`
	RDrop           bool    `arg:"--r_drop" help:"stored in the run config; needs a backend that implements it"`
	Sigma           float64 `arg:"--sigma" help:"contrast loss weight"`
	MaxPatience     int     `arg:"--max_patience" help:"validation cycles without a lower loss before stopping"`
	StorageDir      string  `arg:"--storage_dir" help:"where test.json is written"`
	VocabSize       int     `arg:"--vocab_size"`
	EmbedDim        int     `arg:"--embed_dim"`
	Backend         string  `arg:"--backend,env:MODEL_BACKEND_ADDR" help:"model server address, empty for a local model"`
	RunDB           string  `arg:"--run_db" help:"sqlite file recording runs and validation cycles"`
	ShowProgress    bool    `arg:"--show_progress"`
	LogLevel        string  `arg:"--log_level"`
	LogJSON         bool    `arg:"--log_json"`
}

func (args) Description() string {
	return "svuld trains, tests and runs detection for the contrastive vulnerability classifier"
}

func defaultArgs() args {
	adam := optim.DefaultAdamWConfig()
	bag := session.DefaultConfig().Bag
	return args{
		BlockSize:      -1,
		TrainBatchSize: 4,
		EvalBatchSize:  4,
		LearningRate:   adam.LR,
		AdamEpsilon:    adam.Eps,
		MaxGradNorm:    adam.MaxGradNorm,
		NumTrainEpochs: 1,
		Seed:           42,
		Sigma:          0.2,
		MaxPatience:    7,
		StorageDir:     "storage",
		VocabSize:      bag.VocabSize,
		EmbedDim:       bag.Dim,
		LogLevel:       "info",
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
		log.Fatal("svuld failed", zap.Error(err))
	}
}

func run(a args, log *zap.Logger) error {
	sess, err := session.Open(sessionConfig(a), log)
	if err != nil {
		return err
	}
	defer sess.Close()
	log.Info("model ready", zap.String("variant", "SVulD"), zap.String("parameters", logging.ParameterSummary(sess.Model.NumParameters())))

	sw := logging.StartStopwatch()
	if a.DoTrain {
		if err := train(a, sess, log); err != nil {
			return err
		}
		log.Info("SVulD train done!", zap.String("elapsed", sw.String()))
	}
	if a.DoTest {
		if err := test(a, sess, log); err != nil {
			return err
		}
		log.Info("SVulD test done!", zap.String("elapsed", sw.String()))
	}
	if a.DoDetect {
		if err := detect(a, sess, log); err != nil {
			return err
		}
	}
	return nil
}

func sessionConfig(a args) session.Config {
	cfg := session.DefaultConfig()
	cfg.BackendAddr = a.Backend
	cfg.InitCheckpoint = a.ModelNameOrPath
	cfg.Bag.VocabSize = a.VocabSize
	cfg.Bag.Dim = a.EmbedDim
	cfg.Bag.Seed = a.Seed
	cfg.Bag.PairWeight = 0
	cfg.Bag.ContrastWeight = 0
	if a.SimCT {
		cfg.Bag.ContrastWeight = a.Sigma
	}
	cfg.Optimizer = session.OptimizerAdamW
	cfg.AdamW.LR = a.LearningRate
	cfg.AdamW.Eps = a.AdamEpsilon
	cfg.AdamW.WeightDecay = a.WeightDecay
	cfg.AdamW.MaxGradNorm = a.MaxGradNorm
	return cfg
}

// #endregion main

// #region train
func train(a args, sess *session.Session, log *zap.Logger) error {
	if a.TrainDataFile == "" || a.EvalDataFile == "" {
		return errors.New("--do_train needs --train_data_file and --eval_data_file")
	}
	trainSet, err := load(a, a.TrainDataFile, false)
	if err != nil {
		return err
	}
	validSet, err := load(a, a.EvalDataFile, false)
	if err != nil {
		return err
	}
	data := dataset.New(trainDataConfig(a), trainSet, validSet, nil)

	perEpoch, err := data.InitializeTrainBatches()
	if err != nil {
		return err
	}
	total := a.NumTrainEpochs * perEpoch
	sched := optim.NewLinearWarmup(a.LearningRate, total)
	log.Info("***** Running training *****",
		zap.Int("examples", len(trainSet)),
		zap.Int("epochs", a.NumTrainEpochs),
		zap.Int("batch_size", a.TrainBatchSize),
		zap.Int("total_steps", total),
		zap.String("schedule", sched.Name()),
		zap.Bool("simcse", a.SimCSE),
		zap.Bool("simct", a.SimCT),
		zap.Bool("r_drop", a.RDrop),
	)

	cfg := trainer.DefaultConfig()
	cfg.Epochs = a.NumTrainEpochs
	cfg.MaxPatience = a.MaxPatience
	cfg.Monitor = earlystop.MonitorLoss
	cfg.CheckpointPath = checkpoint.SVulDPath(a.OutputDir)
	cfg.ShowProgress = a.ShowProgress
	cfg.ModelName = "svuld"
	cfg.Variant = "svuld"
	cfg.Dataset = filepath.Base(filepath.Dir(a.TrainDataFile))
	cfg.Flags = map[string]any{
		"simcse": a.SimCSE,
		"simct":  a.SimCT,
		"r_drop": a.RDrop,
		"sigma":  a.Sigma,
	}

	opts := []trainer.Option{
		trainer.WithScheduler(sched),
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	sum, err := trainer.New(cfg, sess.Model, sess.Optimizer, data, opts...).Train(ctx)
	if err != nil {
		return err
	}
	if errors.Is(sum.Err(), trainer.ErrInterrupted) {
		log.Warn("Training Interrupted by User!", zap.Int("best_epoch", sum.BestEpoch))
	}
	log.Info("training finished",
		zap.String("reason", string(sum.Reason)),
		zap.Int("epochs", sum.EpochsRun),
		zap.Int("best_epoch", sum.BestEpoch),
		zap.Float64("best_eval_loss", sum.BestScore),
	)
	return nil
}

// #endregion train

// #region test
func test(a args, sess *session.Session, log *zap.Logger) error {
	if a.TestDataFile == "" {
		return errors.New("--do_test needs --test_data_file")
	}
	if err := checkpoint.Restore(checkpoint.SVulDPath(a.OutputDir), sess.Model); err != nil {
		return err
	}
	testSet, err := load(a, a.TestDataFile, false)
	if err != nil {
		return err
	}
	data := evalAdapter(a, testSet)
	count, err := data.InitializeTestBatches()
	if err != nil {
		return err
	}

	runner := evaluate.NewRunner(evaluate.Config{ShowProgress: a.ShowProgress, Description: "test"})
	res, err := runner.Evaluate(context.Background(), sess.Model, data.NextTestBatch, count)
	if err != nil {
		if !errors.Is(err, metrics.ErrDegenerateSplit) {
			return err
		}
		log.Warn("degenerate test split", zap.Int("examples", res.Metrics.Count))
	}

	log.Info("***** Test results *****")
	m := res.Metrics.Map()
	for _, k := range res.Metrics.Keys() {
		log.Info("test metric", zap.String("key", k), zap.Float64("value", m[k]))
	}
	log.Info("test loss", zap.Float64("eval_loss", res.Loss/float64(max(1, res.Batches))))

	preds := res.Predictions()
	fmt.Printf("indices:%d preds:%d\n", len(res.Examples), len(preds))
	if err := export.WritePredictions(filepath.Join(a.StorageDir, "test.json"), preds); err != nil {
		return err
	}
	return export.WriteSummary(os.Stdout, "Test Set", res.Metrics)
}

// #endregion test

// #region detect
func detect(a args, sess *session.Session, log *zap.Logger) error {
	if a.TestDataFile == "" {
		return errors.New("--do_detect needs --test_data_file")
	}
	if err := checkpoint.Restore(checkpoint.SVulDPath(a.OutputDir), sess.Model); err != nil {
		return err
	}
	detectSet, err := load(a, a.TestDataFile, true)
	if err != nil {
		return err
	}
	data := evalAdapter(a, detectSet)
	count, err := data.InitializeTestBatches()
	if err != nil {
		return err
	}

	runner := evaluate.NewRunner(evaluate.Config{ShowProgress: a.ShowProgress, Description: "detect"})
	results, err := runner.Predict(context.Background(), sess.Model, data.NextTestBatch, count, evaluate.UseContrast)
	if err != nil {
		return err
	}

	log.Info("***** Detect results *****")
	if acc, n := evaluate.Accuracy(results); n > 0 {
		log.Info("detect metric", zap.String("key", "acc"), zap.Float64("value", acc), zap.Int("labelled", n))
	}
	path := export.DetectPath(a.OutputDir)
	if err := export.WriteDetectCSV(path, evaluate.DetectRows(results)); err != nil {
		return err
	}
	log.Info("wrote detections", zap.String("path", path), zap.Int("rows", len(results)))
	return nil
}

// #endregion detect

// #region helpers
func load(a args, path string, allowUnlabeled bool) ([]dataset.Example, error) {
	exs, err := dataset.Load(path, dataset.LoadOptions{AllowUnlabeled: allowUnlabeled})
	if err != nil {
		return nil, err
	}
	return dataset.Truncate(exs, a.BlockSize), nil
}

// trainDataConfig reads training batches in file order.
func trainDataConfig(a args) dataset.Config {
	return dataset.Config{
		TrainBatchSize: a.TrainBatchSize,
		EvalBatchSize:  a.EvalBatchSize,
		Seed:           a.Seed,
	}
}

func evalAdapter(a args, testSet []dataset.Example) *dataset.Adapter {
	return dataset.New(dataset.Config{
		TrainBatchSize: a.TrainBatchSize,
		EvalBatchSize:  a.EvalBatchSize,
		Seed:           a.Seed,
	}, nil, nil, testSet)
}

// #endregion helpers
