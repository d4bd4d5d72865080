package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"

	"github.com/alexflint/go-arg"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/vulnharness/internal/logging"
	"github.com/danielpatrickdp/vulnharness/internal/zeroshot"
)

var allGPUs = []int{0, 1, 6, 7}

const splitCount = 2

type args struct {
	ModelName  string `arg:"--model_name,env:ZERO_SHOT_MODEL" help:"model whose results are merged; '/' becomes '-' in the directory name"`
	ResultRoot string `arg:"--result_root"`
	Python     string `arg:"--python"`
	Script     string `arg:"--script" help:"zero-shot worker script, run once per gpu split"`
	MergeOnly  bool   `arg:"--merge_only" help:"skip the fan-out and only merge existing split results"`
	LogJSON    bool   `arg:"--log_json"`
}

func (args) Description() string {
	return fmt.Sprintf("zeroshot runs the zero-shot worker on gpus %v in %d splits and merges the results", allGPUs, splitCount)
}

func main() {
	a := args{
		ModelName:  "gpt-3.5-turbo",
		ResultRoot: "result",
		Python:     "python",
		Script:     "zero_shot.py",
	}
	arg.MustParse(&a)

	log, err := logging.New(logging.Options{Level: "info", JSON: a.LogJSON})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if !a.MergeOnly {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		script := zeroshot.ScriptCommand(a.Python, a.Script)
		fan := zeroshot.FanOut{
			Command: func(ctx context.Context, gpus string, split, total int) *exec.Cmd {
				cmd := script(ctx, gpus, split, total)
				cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
				return cmd
			},
			Log: log,
		}
		err := fan.Run(ctx, allGPUs, splitCount)
		stop()
		if err != nil {
			log.Error("fan-out finished with failures", zap.Error(err))
		}
	}

	log.Info("begin merge result")
	dir := zeroshot.ResultDir(a.ResultRoot, a.ModelName)
	n, err := zeroshot.Merge(dir, splitCount, zeroshot.MaxPrompts)
	if err != nil {
		log.Fatal("merge failed", zap.String("dir", dir), zap.Int("merged", n), zap.Error(err))
	}
	log.Info("merge done", zap.String("dir", dir), zap.Int("prompts", n))
}
