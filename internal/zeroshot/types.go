package zeroshot

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// MaxPrompts bounds the prompt ids Merge looks at.
const MaxPrompts = 100

// ErrUnevenSplit is returned when the GPU list cannot be divided evenly.
var ErrUnevenSplit = errors.New("zeroshot: split count should divide the number of gpus")

// #region command
// CommandFunc builds the subprocess for one split. gpus is the
// comma-separated device list, split the split index and total the split
// count.
type CommandFunc func(ctx context.Context, gpus string, split, total int) *exec.Cmd

// ScriptCommand runs `python <script> --gpus=<gpus> -split_idx=<i>
// -total_split_cnt=<n>`.
func ScriptCommand(python, script string) CommandFunc {
	return func(ctx context.Context, gpus string, split, total int) *exec.Cmd {
		return exec.CommandContext(ctx, python, script,
			"--gpus="+gpus,
			fmt.Sprintf("-split_idx=%d", split),
			fmt.Sprintf("-total_split_cnt=%d", total),
		)
	}
}

// #endregion command

// #region paths
// ResultDir is where a model's zero-shot results live under root.
func ResultDir(root, modelName string) string {
	return filepath.Join(root, "zero_shot", strings.ReplaceAll(modelName, "/", "-"))
}

// SplitResultPath is the result of one prompt from one split.
func SplitResultPath(dir string, prompt, split int) string {
	return filepath.Join(dir, fmt.Sprintf("prompt_%d_result_split_%d.json", prompt, split))
}

// MergedResultPath is the combined result of one prompt.
func MergedResultPath(dir string, prompt int) string {
	return filepath.Join(dir, fmt.Sprintf("prompt_%d_result.json", prompt))
}

// #endregion paths
