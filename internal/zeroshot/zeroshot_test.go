package zeroshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitGPUs(t *testing.T) {
	got, err := SplitGPUs([]int{0, 1, 6, 7}, 2)
	require.NoError(t, err)
	require.Equal(t, [][]int{{0, 1}, {6, 7}}, got)

	got, err = SplitGPUs([]int{0, 1, 6, 7}, 4)
	require.NoError(t, err)
	require.Equal(t, [][]int{{0}, {1}, {6}, {7}}, got)

	_, err = SplitGPUs([]int{0, 1, 6}, 2)
	require.ErrorIs(t, err, ErrUnevenSplit)

	_, err = SplitGPUs([]int{0}, 0)
	require.Error(t, err)
}

func TestResultPaths(t *testing.T) {
	dir := ResultDir("result", "meta-llama/Llama-2-7b")
	require.Equal(t, filepath.Join("result", "zero_shot", "meta-llama-Llama-2-7b"), dir)
	require.Equal(t, filepath.Join(dir, "prompt_3_result_split_1.json"), SplitResultPath(dir, 3, 1))
	require.Equal(t, filepath.Join(dir, "prompt_3_result.json"), MergedResultPath(dir, 3))
}

func writeJSON(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestMergeConcatenatesInSplitOrder(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, SplitResultPath(dir, 0, 0), `[{"a":1}]`)
	writeJSON(t, SplitResultPath(dir, 0, 1), `[{"b":2}]`)
	writeJSON(t, SplitResultPath(dir, 1, 0), `[]`)
	writeJSON(t, SplitResultPath(dir, 1, 1), `[{"c": 3}, {"d": 4}]`)

	n, err := Merge(dir, 2, MaxPrompts)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	data, err := os.ReadFile(MergedResultPath(dir, 0))
	require.NoError(t, err)
	require.JSONEq(t, `[{"a":1},{"b":2}]`, string(data))

	data, err = os.ReadFile(MergedResultPath(dir, 1))
	require.NoError(t, err)
	require.JSONEq(t, `[{"c":3},{"d":4}]`, string(data))
}

func TestMergeStopsAtFirstMissingPrompt(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, SplitResultPath(dir, 0, 0), `[1]`)
	writeJSON(t, SplitResultPath(dir, 2, 0), `[2]`)

	n, err := Merge(dir, 1, MaxPrompts)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	_, err = os.Stat(MergedResultPath(dir, 2))
	require.True(t, errors.Is(err, os.ErrNotExist))
}

func TestMergeMissingLaterSplitFails(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, SplitResultPath(dir, 0, 0), `[1]`)

	n, err := Merge(dir, 2, MaxPrompts)
	require.Error(t, err)
	require.ErrorIs(t, err, os.ErrNotExist)
	require.Equal(t, 0, n)
}

// TestHelperProcess stands in for the zero-shot worker when run as a
// subprocess of the fan-out tests.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("ZEROSHOT_HELPER") != "1" {
		return
	}
	gpus := os.Getenv("HELPER_GPUS")
	split, _ := strconv.Atoi(os.Getenv("HELPER_SPLIT"))
	dir := os.Getenv("HELPER_DIR")
	if split == 1 && os.Getenv("HELPER_FAIL_ONE") == "1" {
		os.Exit(3)
	}
	body, _ := json.Marshal([]map[string]any{{"split": split, "gpus": gpus}})
	if err := os.WriteFile(SplitResultPath(dir, 0, split), body, 0o644); err != nil {
		os.Exit(2)
	}
	os.Exit(0)
}

func helperCommand(dir string, failOne bool) CommandFunc {
	return func(ctx context.Context, gpus string, split, total int) *exec.Cmd {
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=^TestHelperProcess$")
		cmd.Env = append(os.Environ(),
			"ZEROSHOT_HELPER=1",
			"HELPER_GPUS="+gpus,
			fmt.Sprintf("HELPER_SPLIT=%d", split),
			"HELPER_DIR="+dir,
		)
		if failOne {
			cmd.Env = append(cmd.Env, "HELPER_FAIL_ONE=1")
		}
		return cmd
	}
}

func TestFanOutRunsEverySplit(t *testing.T) {
	dir := t.TempDir()
	f := FanOut{Command: helperCommand(dir, false)}
	require.NoError(t, f.Run(context.Background(), []int{0, 1, 6, 7}, 2))

	n, err := Merge(dir, 2, MaxPrompts)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	data, err := os.ReadFile(MergedResultPath(dir, 0))
	require.NoError(t, err)
	require.JSONEq(t, `[{"split":0,"gpus":"0,1"},{"split":1,"gpus":"6,7"}]`, string(data))
}

func TestFanOutFailureDoesNotCancelOthers(t *testing.T) {
	dir := t.TempDir()
	f := FanOut{Command: helperCommand(dir, true)}
	err := f.Run(context.Background(), []int{0, 1, 6, 7}, 2)
	require.Error(t, err)
	require.Contains(t, err.Error(), "split 1")

	_, statErr := os.Stat(SplitResultPath(dir, 0, 0))
	require.NoError(t, statErr, "split 0 should still have finished")

	_, err = Merge(dir, 2, MaxPrompts)
	require.Error(t, err)
}

func TestScriptCommandArgs(t *testing.T) {
	cmd := ScriptCommand("python", "zero_shot.py")(context.Background(), "0,1", 1, 2)
	require.Equal(t, []string{"python", "zero_shot.py", "--gpus=0,1", "-split_idx=1", "-total_split_cnt=2"}, cmd.Args)
}
