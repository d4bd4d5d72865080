package runstore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id             TEXT PRIMARY KEY,
	variant            TEXT NOT NULL,
	model_name         TEXT,
	dataset            TEXT,
	monitor            TEXT NOT NULL,
	config_json        TEXT,
	started_at         TEXT NOT NULL,
	finished_at        TEXT,
	stop_reason        TEXT,
	best_epoch         INTEGER NOT NULL DEFAULT 0,
	best_score         REAL NOT NULL DEFAULT 0,
	best_checkpoint_id TEXT,
	FOREIGN KEY (best_checkpoint_id) REFERENCES checkpoints(checkpoint_id)
);

CREATE TABLE IF NOT EXISTS checkpoints (
	checkpoint_id TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL,
	epoch         INTEGER NOT NULL,
	score         REAL NOT NULL,
	path          TEXT,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS cycles (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL,
	epoch       INTEGER NOT NULL,
	train_loss  REAL NOT NULL,
	valid_loss  REAL NOT NULL,
	acc         REAL NOT NULL,
	precision   REAL NOT NULL,
	recall      REAL NOT NULL,
	f1          REAL NOT NULL,
	pr_auc      REAL NOT NULL,
	roc_auc     REAL NOT NULL,
	degenerate  INTEGER NOT NULL,
	score       REAL NOT NULL,
	patience    INTEGER NOT NULL,
	improved    INTEGER NOT NULL,
	created_at  TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);
`

// #endregion schema

// timeFormat is RFC3339 with fixed-width nanoseconds so stored times sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// #region store-struct
// Store records training runs in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion constructor

// #region start-run
// StartRun inserts a new run and returns its id.
func (s *Store) StartRun(rec RunRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = s.now()
	}
	_, err := s.db.Exec(
		`INSERT INTO runs (run_id, variant, model_name, dataset, monitor, config_json, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Variant, nullIfEmpty(rec.ModelName), nullIfEmpty(rec.Dataset), rec.Monitor,
		nullIfEmpty(rec.ConfigJSON), rec.StartedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return rec.ID, nil
}

// #endregion start-run

// #region record-cycle
// RecordCycle appends one validation cycle to a run.
func (s *Store) RecordCycle(c Cycle) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	m := c.Metrics
	_, err := s.db.Exec(
		`INSERT INTO cycles (run_id, epoch, train_loss, valid_loss, acc, precision, recall, f1,
		 pr_auc, roc_auc, degenerate, score, patience, improved, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.RunID, c.Epoch, c.TrainLoss, c.ValidLoss, m.Accuracy, m.Precision, m.Recall, m.F1,
		m.PRAUC, m.ROCAUC, boolInt(m.Degenerate), c.Score, c.Patience, boolInt(c.Improved),
		c.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("record cycle: %w", err)
	}
	return nil
}

// ListCycles returns a run's cycles in epoch order.
func (s *Store) ListCycles(runID string) ([]Cycle, error) {
	rows, err := s.db.Query(
		`SELECT run_id, epoch, train_loss, valid_loss, acc, precision, recall, f1, pr_auc, roc_auc,
		 degenerate, score, patience, improved, created_at
		 FROM cycles WHERE run_id = ? ORDER BY epoch, id`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list cycles: %w", err)
	}
	defer rows.Close()

	var cycles []Cycle
	for rows.Next() {
		var c Cycle
		var degenerate, improved int
		var createdStr string
		if err := rows.Scan(&c.RunID, &c.Epoch, &c.TrainLoss, &c.ValidLoss,
			&c.Metrics.Accuracy, &c.Metrics.Precision, &c.Metrics.Recall, &c.Metrics.F1,
			&c.Metrics.PRAUC, &c.Metrics.ROCAUC, &degenerate, &c.Score, &c.Patience, &improved,
			&createdStr); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		c.Metrics.Degenerate = degenerate != 0
		c.Improved = improved != 0
		c.CreatedAt, _ = time.Parse(timeFormat, createdStr)
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}

// #endregion record-cycle

// #region record-checkpoint
// RecordCheckpoint inserts a checkpoint and moves the run's best pointer to
// it atomically. Returns the checkpoint id.
func (s *Store) RecordCheckpoint(rec CheckpointRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO checkpoints (checkpoint_id, run_id, epoch, score, path, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RunID, rec.Epoch, rec.Score, nullIfEmpty(rec.Path), rec.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return "", fmt.Errorf("insert checkpoint: %w", err)
	}

	res, err := tx.Exec(
		`UPDATE runs SET best_checkpoint_id = ?, best_epoch = ?, best_score = ? WHERE run_id = ?`,
		rec.ID, rec.Epoch, rec.Score, rec.RunID,
	)
	if err != nil {
		return "", fmt.Errorf("update best: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", fmt.Errorf("run %s: %w", rec.RunID, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return rec.ID, nil
}

// BestCheckpoint returns the checkpoint the run's best pointer refers to.
func (s *Store) BestCheckpoint(runID string) (CheckpointRecord, error) {
	var rec CheckpointRecord
	var path sql.NullString
	var createdStr string
	err := s.db.QueryRow(
		`SELECT c.checkpoint_id, c.run_id, c.epoch, c.score, c.path, c.created_at
		 FROM runs r JOIN checkpoints c ON c.checkpoint_id = r.best_checkpoint_id
		 WHERE r.run_id = ?`, runID,
	).Scan(&rec.ID, &rec.RunID, &rec.Epoch, &rec.Score, &path, &createdStr)
	if errors.Is(err, sql.ErrNoRows) {
		return CheckpointRecord{}, fmt.Errorf("best checkpoint of %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return CheckpointRecord{}, fmt.Errorf("best checkpoint of %s: %w", runID, err)
	}
	if path.Valid {
		rec.Path = path.String
	}
	rec.CreatedAt, _ = time.Parse(timeFormat, createdStr)
	return rec, nil
}

// #endregion record-checkpoint

// #region finish-run
// FinishRun stamps the stop reason and final best on a run.
func (s *Store) FinishRun(runID, reason string, bestEpoch int, bestScore float64) error {
	res, err := s.db.Exec(
		`UPDATE runs SET finished_at = ?, stop_reason = ?, best_epoch = ?, best_score = ? WHERE run_id = ?`,
		s.now().UTC().Format(timeFormat), reason, bestEpoch, bestScore, runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// #endregion finish-run

// #region get-run
const runColumns = `run_id, variant, model_name, dataset, monitor, config_json, started_at,
	finished_at, stop_reason, best_epoch, best_score, best_checkpoint_id`

// GetRun retrieves a run by id.
func (s *Store) GetRun(id string) (RunRecord, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, id)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("get run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return rec, nil
}

// ListRuns returns the most recently started runs.
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (RunRecord, error) {
	var rec RunRecord
	var modelName, dataset, configJSON, finished, reason, bestID sql.NullString
	var startedStr string
	err := row.Scan(&rec.ID, &rec.Variant, &modelName, &dataset, &rec.Monitor, &configJSON,
		&startedStr, &finished, &reason, &rec.BestEpoch, &rec.BestScore, &bestID)
	if err != nil {
		return RunRecord{}, err
	}
	rec.ModelName = modelName.String
	rec.Dataset = dataset.String
	rec.ConfigJSON = configJSON.String
	rec.StopReason = reason.String
	rec.BestCheckpointID = bestID.String
	rec.StartedAt, _ = time.Parse(timeFormat, startedStr)
	if finished.Valid {
		rec.FinishedAt, _ = time.Parse(timeFormat, finished.String)
	}
	return rec, nil
}

// #endregion get-run

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// #endregion helpers
