package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/auv.localiser/internal/config"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// Run is one process lifetime of the filter.
type Run struct {
	ID         string     `json:"run_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Particles  int        `json:"particles"`
	Workers    int        `json:"workers"`
	Strategy   string     `json:"strategy"`
	ConfigJSON string     `json:"config_json"`
}

// CreateRun records the start of a filter run with its configuration.
func (db *DB) CreateRun(ctx context.Context, cfg *config.FilterConfig, startedAt time.Time) (*Run, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	run := &Run{
		ID:         uuid.NewString(),
		StartedAt:  startedAt.UTC(),
		Particles:  cfg.GetParticleCount(),
		Workers:    cfg.GetWorkerCount(),
		Strategy:   cfg.GetResampleStrategy(),
		ConfigJSON: string(raw),
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO filter_runs (run_id, started_at, particles, workers, strategy, config_json)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UnixNano(), run.Particles, run.Workers, run.Strategy, run.ConfigJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// FinishRun stamps the end time of a run.
func (db *DB) FinishRun(ctx context.Context, runID string, finishedAt time.Time) error {
	res, err := db.ExecContext(ctx,
		`UPDATE filter_runs SET finished_at = ? WHERE run_id = ?`,
		finishedAt.UTC().UnixNano(), runID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// GetRun returns a single run.
func (db *DB) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := db.QueryRowContext(ctx,
		`SELECT run_id, started_at, finished_at, particles, workers, strategy, config_json
		 FROM filter_runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, err
}

// Runs returns the most recent runs, newest first.
func (db *DB) Runs(ctx context.Context, limit int) ([]Run, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT run_id, started_at, finished_at, particles, workers, strategy, config_json
		 FROM filter_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		run      Run
		started  int64
		finished sql.NullInt64
	)
	if err := s.Scan(&run.ID, &started, &finished, &run.Particles, &run.Workers, &run.Strategy, &run.ConfigJSON); err != nil {
		return nil, err
	}
	run.StartedAt = time.Unix(0, started).UTC()
	if finished.Valid {
		t := time.Unix(0, finished.Int64).UTC()
		run.FinishedAt = &t
	}
	return &run, nil
}
