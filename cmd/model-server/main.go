package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexflint/go-arg"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/danielpatrickdp/vulnharness/internal/backend"
	"github.com/danielpatrickdp/vulnharness/internal/logging"
	"github.com/danielpatrickdp/vulnharness/internal/model"
	"github.com/danielpatrickdp/vulnharness/internal/session"
)

// #region args
type args struct {
	Addr           string  `arg:"--addr,env:MODEL_SERVER_ADDR" help:"listen address"`
	VocabSize      int     `arg:"--vocab_size"`
	EmbedDim       int     `arg:"--embed_dim"`
	Margin         float64 `arg:"--margin"`
	PairWeight     float64 `arg:"--pair_weight"`
	ContrastWeight float64 `arg:"--contrast_weight"`
	Seed           int64   `arg:"--seed"`
	Optimizer      string  `arg:"--optimizer" help:"adamw or sgd"`
	LearningRate   float64 `arg:"--lr"`
	WeightDecay    float64 `arg:"--weight_decay"`
	InitCheckpoint string  `arg:"--init_checkpoint" help:"checkpoint to start the hosted model from"`
	MaxMessageMiB  int     `arg:"--max_message_mib"`
	LogJSON        bool    `arg:"--log_json"`
}

func (args) Description() string {
	return "model-server hosts a bag-of-embeddings model and its optimizer over gRPC"
}

// #endregion args

// #region main
func main() {
	def := session.DefaultConfig()
	a := args{
		Addr:           "localhost:50051",
		VocabSize:      def.Bag.VocabSize,
		EmbedDim:       def.Bag.Dim,
		Margin:         def.Bag.Margin,
		PairWeight:     def.Bag.PairWeight,
		ContrastWeight: def.Bag.ContrastWeight,
		Seed:           def.Bag.Seed,
		Optimizer:      def.Optimizer,
		LearningRate:   def.AdamW.LR,
		MaxMessageMiB:  def.Backend.MaxMessageBytes >> 20,
	}
	arg.MustParse(&a)

	log, err := logging.New(logging.Options{Level: "info", JSON: a.LogJSON})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg := def
	cfg.Bag = model.BagConfig{
		VocabSize:      a.VocabSize,
		Dim:            a.EmbedDim,
		PadID:          def.Bag.PadID,
		Margin:         a.Margin,
		PairWeight:     a.PairWeight,
		ContrastWeight: a.ContrastWeight,
		Seed:           a.Seed,
	}
	cfg.Optimizer = a.Optimizer
	cfg.AdamW.LR, cfg.AdamW.WeightDecay = a.LearningRate, a.WeightDecay
	cfg.SGD.LR, cfg.SGD.WeightDecay = a.LearningRate, a.WeightDecay
	cfg.InitCheckpoint = a.InitCheckpoint
	cfg.Backend.MaxMessageBytes = a.MaxMessageMiB << 20

	sess, err := session.Open(cfg, log)
	if err != nil {
		log.Fatal("build model", zap.Error(err))
	}

	lis, err := net.Listen("tcp", a.Addr)
	if err != nil {
		log.Fatal("listen", zap.String("addr", a.Addr), zap.Error(err))
	}
	gs := grpc.NewServer(backend.ServerOptions(cfg.Backend)...)
	backend.NewServer(sess.Model, sess.Optimizer, backend.WithLogger(log)).Register(gs)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		log.Info("shutting down")
		gs.GracefulStop()
	}()

	log.Info("model server ready",
		zap.String("addr", lis.Addr().String()),
		zap.String("parameters", logging.ParameterSummary(sess.Model.NumParameters())),
	)
	if err := gs.Serve(lis); err != nil {
		log.Fatal("serve", zap.Error(err))
	}
}

// #endregion main
