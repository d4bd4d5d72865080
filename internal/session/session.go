package session

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/vulnharness/internal/backend"
	"github.com/danielpatrickdp/vulnharness/internal/checkpoint"
	"github.com/danielpatrickdp/vulnharness/internal/logging"
	"github.com/danielpatrickdp/vulnharness/internal/model"
	"github.com/danielpatrickdp/vulnharness/internal/optim"
)

// #region config
// Optimizer names accepted by Config.Optimizer.
const (
	OptimizerAdamW = "adamw"
	OptimizerSGD   = "sgd"
)

// Config picks where the model runs and how it is optimized.
type Config struct {
	BackendAddr    string // "" builds a local BagModel
	Backend        backend.Config
	Bag            model.BagConfig
	Optimizer      string
	AdamW          optim.AdamWConfig
	SGD            optim.SGDConfig
	InitCheckpoint string // optional starting parameters
}

// DefaultConfig returns a local bag model trained with AdamW.
func DefaultConfig() Config {
	return Config{
		Backend:   backend.DefaultConfig(),
		Bag:       model.DefaultBagConfig(),
		Optimizer: OptimizerAdamW,
		AdamW:     optim.DefaultAdamWConfig(),
		SGD:       optim.DefaultSGDConfig(),
	}
}

// #endregion config

// #region session
// Session is a ready model and its optimizer.
type Session struct {
	Model     model.Model
	Optimizer model.Optimizer
	remote    *backend.RemoteModel
}

// Open builds the session. A remote backend hosts its own optimizer, so the
// optimizer settings only apply to local models.
func Open(cfg Config, log *zap.Logger) (*Session, error) {
	log = logging.OrNop(log)
	var s *Session
	if cfg.BackendAddr != "" {
		r, err := backend.Dial(cfg.BackendAddr, cfg.Backend)
		if err != nil {
			return nil, err
		}
		log.Info("using remote model", zap.String("addr", cfg.BackendAddr))
		s = &Session{Model: r, Optimizer: r, remote: r}
	} else {
		m, err := model.NewBagModel(cfg.Bag)
		if err != nil {
			return nil, err
		}
		opt, err := NewOptimizer(cfg, m.Params())
		if err != nil {
			return nil, err
		}
		log.Info("using local bag model", zap.Int("vocab", cfg.Bag.VocabSize), zap.Int("dim", cfg.Bag.Dim), zap.String("optimizer", cfg.Optimizer))
		s = &Session{Model: m, Optimizer: opt}
	}

	if cfg.InitCheckpoint != "" {
		if err := checkpoint.Restore(cfg.InitCheckpoint, s.Model); err != nil {
			s.Close()
			return nil, err
		}
		log.Info("initialized from checkpoint", zap.String("path", cfg.InitCheckpoint))
	}
	return s, nil
}

// NewOptimizer builds the named local optimizer over params.
func NewOptimizer(cfg Config, params model.ParamSet) (model.Optimizer, error) {
	switch cfg.Optimizer {
	case OptimizerAdamW, "":
		return optim.NewAdamW(params, cfg.AdamW), nil
	case OptimizerSGD:
		return optim.NewSGD(params, cfg.SGD), nil
	default:
		return nil, fmt.Errorf("session: unknown optimizer %q", cfg.Optimizer)
	}
}

// Close releases a remote connection.
func (s *Session) Close() error {
	if s.remote == nil {
		return nil
	}
	return s.remote.Close()
}

// #endregion session
