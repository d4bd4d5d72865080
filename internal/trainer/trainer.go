package trainer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/montanaflynn/stats"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/vulnharness/internal/checkpoint"
	"github.com/danielpatrickdp/vulnharness/internal/earlystop"
	"github.com/danielpatrickdp/vulnharness/internal/evaluate"
	"github.com/danielpatrickdp/vulnharness/internal/export"
	"github.com/danielpatrickdp/vulnharness/internal/logging"
	"github.com/danielpatrickdp/vulnharness/internal/metrics"
	"github.com/danielpatrickdp/vulnharness/internal/model"
	"github.com/danielpatrickdp/vulnharness/internal/optim"
	"github.com/danielpatrickdp/vulnharness/internal/progress"
	"github.com/danielpatrickdp/vulnharness/internal/runstore"
)

// #region controller
// Controller drives one training run: epochs of optimizer steps, periodic
// validation, patience-based stopping and best-checkpoint bookkeeping.
type Controller struct {
	config   Config
	model    model.Model
	opt      model.Optimizer
	data     BatchSource
	sched    optim.Scheduler
	recorder Recorder
	policy   *earlystop.Policy
	runner   *evaluate.Runner
	log      *zap.Logger
	report   io.Writer

	step   int
	recent []float64 // last LogEvery batch losses across epochs
}

// Option configures a Controller.
type Option func(*Controller)

// WithScheduler sets the learning rate after every optimizer step.
func WithScheduler(s optim.Scheduler) Option {
	return func(c *Controller) { c.sched = s }
}

// WithRecorder persists runs, cycles and checkpoints.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.log = logging.OrNop(l) }
}

// WithPolicy replaces the patience policy built from Config.
func WithPolicy(p *earlystop.Policy) Option {
	return func(c *Controller) { c.policy = p }
}

// WithRunner replaces the validation runner.
func WithRunner(r *evaluate.Runner) Option {
	return func(c *Controller) { c.runner = r }
}

// WithReport sets where the per-epoch and validation summary lines go.
func WithReport(w io.Writer) Option {
	return func(c *Controller) { c.report = w }
}

// New builds a controller. The policy defaults to the monitor's direction with
// Config.MaxPatience.
func New(config Config, m model.Model, opt model.Optimizer, data BatchSource, opts ...Option) *Controller {
	if config.ValidEvery < 1 {
		config.ValidEvery = 1
	}
	c := &Controller{
		config: config,
		model:  m,
		opt:    opt,
		data:   data,
		log:    zap.NewNop(),
		report: io.Discard,
	}
	for _, o := range opts {
		o(c)
	}
	if c.policy == nil {
		c.policy = earlystop.New(earlystop.Config{
			Direction:   config.Monitor.Direction(),
			MaxPatience: config.MaxPatience,
			MinDelta:    config.MinDelta,
		})
	}
	if c.runner == nil {
		c.runner = evaluate.NewRunner(evaluate.Config{ShowProgress: config.ShowProgress, Description: "valid"})
	}
	return c
}

// #endregion controller

// #region train
// Train runs the epoch loop and leaves the model holding its best parameters.
// Cancelling ctx ends training early with StopInterrupted and a nil error.
func (c *Controller) Train(ctx context.Context) (Summary, error) {
	sw := logging.StartStopwatch()
	c.log.Info("start training",
		zap.String("model", c.config.ModelName),
		zap.String("dataset", c.config.Dataset),
		zap.String("monitor", string(c.config.Monitor)),
		zap.String("parameters", logging.ParameterSummary(c.model.NumParameters())),
	)

	sum := Summary{BestEpoch: -1, Reason: StopCompleted}
	runID, err := c.startRun()
	if err != nil {
		return sum, err
	}
	sum.RunID = runID

	if c.sched != nil {
		c.opt.SetLR(c.sched.LR(0))
	}

	var best checkpoint.ParamState
	haveBest := false

	for epoch := 0; epoch < c.config.Epochs; epoch++ {
		epochLoss, err := c.trainEpoch(ctx, epoch)
		if err != nil {
			if ctx.Err() != nil {
				sum.Reason = StopInterrupted
				break
			}
			return sum, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		sum.EpochsRun++
		sum.TrainLosses = append(sum.TrainLosses, epochLoss)
		export.WriteEpoch(c.report, epoch, epochLoss)
		c.log.Info("epoch done", zap.Int("epoch", epoch), zap.Float64("train_loss", epochLoss))

		if epoch%c.config.ValidEvery != 0 {
			continue
		}

		cycle, dec, err := c.validate(ctx, runID, epoch, epochLoss)
		if err != nil {
			if ctx.Err() != nil {
				sum.Reason = StopInterrupted
				break
			}
			return sum, fmt.Errorf("validate epoch %d: %w", epoch, err)
		}
		sum.Cycles = append(sum.Cycles, cycle)

		if dec.Improved {
			st, err := c.model.State()
			if err != nil {
				return sum, fmt.Errorf("snapshot epoch %d: %w", epoch, err)
			}
			best, haveBest = st.Clone(), true
			sum.BestEpoch, sum.BestScore = epoch, dec.Best
			if err := c.persistBest(runID, epoch, dec.Best, st); err != nil {
				return sum, err
			}
		}
		if dec.State == earlystop.Stopped {
			sum.Reason = StopEarly
			break
		}
	}

	if sum.Reason != StopCompleted {
		c.log.Info("training ended early", zap.String("reason", string(sum.Reason)), zap.Int("best_epoch", sum.BestEpoch))
		if haveBest {
			if err := c.model.Load(best); err != nil {
				return sum, fmt.Errorf("restore best snapshot: %w", err)
			}
		}
	}
	c.log.Info("train done", zap.String("elapsed", sw.String()))

	if haveBest {
		if err := c.reloadBest(best); err != nil {
			return sum, err
		}
	}
	c.finishRun(sum)
	return sum, nil
}

// #endregion train

// #region epoch
func (c *Controller) trainEpoch(ctx context.Context, epoch int) (float64, error) {
	n, err := c.data.InitializeTrainBatches()
	if err != nil {
		return 0, fmt.Errorf("initialize train batches: %w", err)
	}
	c.model.SetTraining(true)

	losses := make([]float64, 0, n)
	err = progress.Each(n, fmt.Sprintf("epoch %d", epoch), c.config.ShowProgress, func(i int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		b, err := c.data.NextTrainBatch()
		if err != nil {
			return fmt.Errorf("next train batch: %w", err)
		}
		c.opt.ZeroGrad()
		out, err := c.model.Forward(ctx, model.FromBatch(b, true))
		if err != nil {
			return fmt.Errorf("forward: %w", err)
		}
		if err := c.model.Backward(ctx); err != nil {
			return fmt.Errorf("backward: %w", err)
		}
		if err := c.opt.Step(); err != nil {
			return fmt.Errorf("step: %w", err)
		}
		c.step++
		if c.sched != nil {
			c.opt.SetLR(c.sched.LR(c.step))
		}
		losses = append(losses, out.Loss)
		c.logRunningLoss(epoch, i, out.Loss)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(losses) == 0 {
		return 0, nil
	}
	total, err := stats.Sum(losses)
	if err != nil {
		return 0, fmt.Errorf("sum losses: %w", err)
	}
	return total, nil
}

func (c *Controller) logRunningLoss(epoch, batch int, loss float64) {
	if c.config.LogEvery <= 0 {
		return
	}
	c.recent = append(c.recent, loss)
	if len(c.recent) > c.config.LogEvery {
		c.recent = c.recent[len(c.recent)-c.config.LogEvery:]
	}
	if c.step%c.config.LogEvery != 0 {
		return
	}
	mean, err := stats.Mean(c.recent)
	if err != nil {
		return
	}
	rounded, _ := stats.Round(mean, 4)
	c.log.Info("train loss",
		zap.Int("epoch", epoch),
		zap.Int("step", batch+1),
		zap.Int("global_step", c.step),
		zap.Float64("loss", rounded),
		zap.Float64("lr", c.opt.LR()),
	)
}

// #endregion epoch

// #region validate
func (c *Controller) validate(ctx context.Context, runID string, epoch int, trainLoss float64) (runstore.Cycle, earlystop.Decision, error) {
	count, err := c.data.InitializeValidBatches()
	if err != nil {
		return runstore.Cycle{}, earlystop.Decision{}, fmt.Errorf("initialize valid batches: %w", err)
	}
	res, err := c.runner.Evaluate(ctx, c.model, c.data.NextValidBatch, count)
	if err != nil {
		if !errors.Is(err, metrics.ErrDegenerateSplit) {
			return runstore.Cycle{}, earlystop.Decision{}, err
		}
		c.log.Warn("degenerate validation split", zap.Int("epoch", epoch), zap.Int("examples", res.Metrics.Count))
	}

	validLoss := res.Loss
	if res.Batches > 0 {
		validLoss /= float64(res.Batches)
	}
	score, err := c.config.Monitor.Score(earlystop.ValidationView{Loss: validLoss, Metrics: res.Metrics})
	if err != nil {
		return runstore.Cycle{}, earlystop.Decision{}, err
	}
	dec := c.policy.Observe(score)

	export.WriteValidation(c.report, res.Metrics, dec.Patience)
	c.log.Info("validation",
		zap.Int("epoch", epoch),
		zap.Float64("valid_loss", validLoss),
		zap.Float64("score", score),
		zap.Bool("improved", dec.Improved),
		zap.Int("patience", dec.Patience),
		zap.Any("metrics", res.Metrics.Map()),
	)

	cycle := runstore.Cycle{
		RunID:     runID,
		Epoch:     epoch,
		TrainLoss: trainLoss,
		ValidLoss: validLoss,
		Metrics:   res.Metrics,
		Score:     score,
		Patience:  dec.Patience,
		Improved:  dec.Improved,
		CreatedAt: time.Now(),
	}
	if c.recorder != nil {
		if err := c.recorder.RecordCycle(cycle); err != nil {
			c.log.Warn("record cycle failed", zap.Int("epoch", epoch), zap.Error(err))
		}
	}
	return cycle, dec, nil
}

// #endregion validate

// #region checkpoints
func (c *Controller) persistBest(runID string, epoch int, score float64, st checkpoint.ParamState) error {
	if c.config.CheckpointPath != "" {
		if err := checkpoint.Save(c.config.CheckpointPath, st); err != nil {
			return err
		}
		c.log.Info("saved best checkpoint", zap.Int("epoch", epoch), zap.Float64("score", score), zap.String("path", c.config.CheckpointPath))
	}
	if c.recorder == nil {
		return nil
	}
	_, err := c.recorder.RecordCheckpoint(runstore.CheckpointRecord{
		RunID:     runID,
		Epoch:     epoch,
		Score:     score,
		Path:      c.config.CheckpointPath,
		CreatedAt: time.Now(),
	})
	if err != nil {
		c.log.Warn("record checkpoint failed", zap.Int("epoch", epoch), zap.Error(err))
	}
	return nil
}

// reloadBest loads the best parameters from disk when a path is configured,
// otherwise from the in-memory snapshot.
func (c *Controller) reloadBest(best checkpoint.ParamState) error {
	if c.config.CheckpointPath == "" {
		return c.model.Load(best)
	}
	c.log.Info("load best model", zap.String("path", c.config.CheckpointPath))
	return checkpoint.Restore(c.config.CheckpointPath, c.model)
}

// #endregion checkpoints

// #region run-records
func (c *Controller) startRun() (string, error) {
	if c.recorder == nil {
		return "", nil
	}
	cfg, err := json.Marshal(c.config)
	if err != nil {
		return "", fmt.Errorf("encode run config: %w", err)
	}
	id, err := c.recorder.StartRun(runstore.RunRecord{
		Variant:    c.config.Variant,
		ModelName:  c.config.ModelName,
		Dataset:    c.config.Dataset,
		Monitor:    string(c.config.Monitor),
		ConfigJSON: string(cfg),
		StartedAt:  time.Now(),
	})
	if err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	return id, nil
}

func (c *Controller) finishRun(sum Summary) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.FinishRun(sum.RunID, string(sum.Reason), sum.BestEpoch, sum.BestScore); err != nil {
		c.log.Warn("finish run failed", zap.String("run", sum.RunID), zap.Error(err))
	}
}

// #endregion run-records
