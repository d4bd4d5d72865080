package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/danielpatrickdp/vulnharness/internal/runstore"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to the run database")
	last := flag.Int("last", 20, "show N most recent runs")
	run := flag.String("run", "", "show validation cycles for one run")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/runs.db [--last N] [--run id] [--json]")
		os.Exit(2)
	}

	store, err := runstore.NewStore(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	if *run != "" {
		err = runDetailMode(store, *run, *jsonOut)
	} else {
		err = runListMode(store, *last, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region list-mode

type listRow struct {
	RunID     string  `json:"run_id"`
	Variant   string  `json:"variant"`
	Dataset   string  `json:"dataset"`
	Monitor   string  `json:"monitor"`
	Status    string  `json:"status"`
	BestEpoch int     `json:"best_epoch"`
	BestScore float64 `json:"best_score"`
	StartedAt string  `json:"started_at"`
}

func runListMode(store *runstore.Store, last int, jsonOut bool) error {
	runs, err := store.ListRuns(last)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stderr, "no runs found")
		return nil
	}

	rows := make([]listRow, len(runs))
	for i, r := range runs {
		rows[i] = listRow{
			RunID:     r.ID,
			Variant:   r.Variant,
			Dataset:   r.Dataset,
			Monitor:   r.Monitor,
			Status:    status(r),
			BestEpoch: r.BestEpoch,
			BestScore: r.BestScore,
			StartedAt: r.StartedAt.Format("2006-01-02T15:04:05Z"),
		}
	}

	if jsonOut {
		return printJSON(rows)
	}
	fmt.Printf("%-10s  %-8s  %-12s  %-7s  %-12s  %5s  %10s  %s\n",
		"Run", "Variant", "Dataset", "Monitor", "Status", "Best", "Score", "Started")
	fmt.Printf("%-10s+-%-8s+-%-12s+-%-7s+-%-12s+-%5s+-%10s+-%s\n",
		"----------", "--------", "------------", "-------", "------------", "-----", "----------", "--------------------")
	for _, r := range rows {
		fmt.Printf("%-10s  %-8s  %-12s  %-7s  %-12s  %5d  %10.4f  %s\n",
			shortID(r.RunID), r.Variant, r.Dataset, r.Monitor, r.Status, r.BestEpoch, r.BestScore, r.StartedAt)
	}
	return nil
}

func status(r runstore.RunRecord) string {
	if !r.Finished() {
		return "running"
	}
	return r.StopReason
}

// #endregion list-mode

// #region detail-mode

type detailOutput struct {
	Run    listRow          `json:"run"`
	Config json.RawMessage  `json:"config,omitempty"`
	Best   *checkpointRow   `json:"best_checkpoint,omitempty"`
	Cycles []runstore.Cycle `json:"cycles"`
}

type checkpointRow struct {
	ID    string  `json:"id"`
	Epoch int     `json:"epoch"`
	Score float64 `json:"score"`
	Path  string  `json:"path"`
}

func runDetailMode(store *runstore.Store, runID string, jsonOut bool) error {
	r, err := store.GetRun(runID)
	if err != nil {
		return err
	}
	cycles, err := store.ListCycles(runID)
	if err != nil {
		return err
	}

	out := detailOutput{
		Run: listRow{
			RunID: r.ID, Variant: r.Variant, Dataset: r.Dataset, Monitor: r.Monitor,
			Status: status(r), BestEpoch: r.BestEpoch, BestScore: r.BestScore,
			StartedAt: r.StartedAt.Format("2006-01-02T15:04:05Z"),
		},
		Cycles: cycles,
	}
	if json.Valid([]byte(r.ConfigJSON)) {
		out.Config = json.RawMessage(r.ConfigJSON)
	}
	if best, err := store.BestCheckpoint(runID); err == nil {
		out.Best = &checkpointRow{ID: best.ID, Epoch: best.Epoch, Score: best.Score, Path: best.Path}
	}

	if jsonOut {
		return printJSON(out)
	}

	fmt.Printf("Run:      %s\n", r.ID)
	fmt.Printf("Model:    %s (%s)\n", r.ModelName, r.Variant)
	fmt.Printf("Dataset:  %s\n", r.Dataset)
	fmt.Printf("Monitor:  %s\n", r.Monitor)
	fmt.Printf("Status:   %s\n", out.Run.Status)
	if out.Best != nil {
		fmt.Printf("Best:     epoch %d score %.4f (%s)\n", out.Best.Epoch, out.Best.Score, out.Best.Path)
	}

	fmt.Printf("\n%5s  %10s  %10s  %6s  %6s  %6s  %6s  %8s  %s\n",
		"Epoch", "Train", "Valid", "Acc", "F1", "Prec", "Rec", "Patience", "")
	for _, c := range cycles {
		mark := ""
		if c.Improved {
			mark = "*"
		}
		if c.Metrics.Degenerate {
			mark += " degenerate"
		}
		fmt.Printf("%5d  %10.4f  %10.4f  %6.4f  %6.4f  %6.4f  %6.4f  %8d  %s\n",
			c.Epoch, c.TrainLoss, c.ValidLoss, c.Metrics.Accuracy, c.Metrics.F1,
			c.Metrics.Precision, c.Metrics.Recall, c.Patience, mark)
	}
	return nil
}

// #endregion detail-mode

// #region output

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion output
