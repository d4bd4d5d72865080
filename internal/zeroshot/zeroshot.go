package zeroshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// #region split
// SplitGPUs divides gpus into n consecutive equal groups.
func SplitGPUs(gpus []int, n int) ([][]int, error) {
	if n <= 0 {
		return nil, fmt.Errorf("zeroshot: split count %d must be positive", n)
	}
	if len(gpus)%n != 0 {
		return nil, fmt.Errorf("%w: %d gpus, %d splits", ErrUnevenSplit, len(gpus), n)
	}
	size := len(gpus) / n
	out := make([][]int, n)
	for i := range out {
		out[i] = append([]int(nil), gpus[i*size:(i+1)*size]...)
	}
	return out, nil
}

func joinGPUs(gpus []int) string {
	parts := make([]string, len(gpus))
	for i, g := range gpus {
		parts[i] = strconv.Itoa(g)
	}
	return strings.Join(parts, ",")
}

// #endregion split

// #region fanout
// FanOut runs one subprocess per GPU group and waits for all of them.
type FanOut struct {
	Command CommandFunc
	Log     *zap.Logger
}

// Run starts every split, then waits for each. A failing split does not stop
// the others; all failures are returned joined.
func (f FanOut) Run(ctx context.Context, gpus []int, n int) error {
	log := f.Log
	if log == nil {
		log = zap.NewNop()
	}
	groups, err := SplitGPUs(gpus, n)
	if err != nil {
		return err
	}

	cmds := make([]*exec.Cmd, n)
	var errs []error
	for i, g := range groups {
		cmd := f.Command(ctx, joinGPUs(g), i, n)
		if err := cmd.Start(); err != nil {
			errs = append(errs, fmt.Errorf("start split %d: %w", i, err))
			continue
		}
		log.Info("started split", zap.Int("split", i), zap.Ints("gpus", g), zap.Int("pid", cmd.Process.Pid))
		cmds[i] = cmd
	}
	for i, cmd := range cmds {
		if cmd == nil {
			continue
		}
		if err := cmd.Wait(); err != nil {
			log.Error("split failed", zap.Int("split", i), zap.Error(err))
			errs = append(errs, fmt.Errorf("split %d: %w", i, err))
			continue
		}
		log.Info("split done", zap.Int("split", i))
	}
	return errors.Join(errs...)
}

// #endregion fanout

// #region merge
// Merge concatenates the split result arrays of each prompt, in split order,
// into one file per prompt. It stops at the first prompt with no split 0
// result and returns how many prompts it merged.
func Merge(dir string, splits, maxPrompts int) (int, error) {
	merged := 0
	for prompt := 0; prompt < maxPrompts; prompt++ {
		if _, err := os.Stat(SplitResultPath(dir, prompt, 0)); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				break
			}
			return merged, fmt.Errorf("stat prompt %d: %w", prompt, err)
		}

		var all []json.RawMessage
		for split := 0; split < splits; split++ {
			items, err := readSplit(SplitResultPath(dir, prompt, split))
			if err != nil {
				return merged, fmt.Errorf("merge prompt %d: %w", prompt, err)
			}
			all = append(all, items...)
		}
		if all == nil {
			all = []json.RawMessage{}
		}
		data, err := json.Marshal(all)
		if err != nil {
			return merged, fmt.Errorf("encode prompt %d: %w", prompt, err)
		}
		if err := os.WriteFile(MergedResultPath(dir, prompt), data, 0o644); err != nil {
			return merged, fmt.Errorf("write prompt %d: %w", prompt, err)
		}
		merged++
	}
	return merged, nil
}

func readSplit(path string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return items, nil
}

// #endregion merge
