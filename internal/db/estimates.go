package db

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/auv.localiser/internal/pose"
	"github.com/banshee-data/auv.localiser/internal/publish"
)

// EstimateRow is a stored estimate.
type EstimateRow struct {
	RunID     string    `json:"run_id"`
	Stamp     time.Time `json:"stamp"`
	FrameID   string    `json:"frame_id"`
	Pose      pose.Pose `json:"pose"`
	VarX      float64   `json:"var_x"`
	VarY      float64   `json:"var_y"`
	VarYaw    float64   `json:"var_yaw"`
	NEff      float64   `json:"n_eff"`
	Resampled bool      `json:"resampled"`
}

// RecordEstimate stores one estimate against a run.
func (db *DB) RecordEstimate(ctx context.Context, runID string, e publish.Estimate) error {
	resampled := 0
	if e.Resampled {
		resampled = 1
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO filter_estimates (
			run_id, stamp_ns, frame_id, x, y, z, roll, pitch, yaw,
			var_x, var_y, var_yaw, n_eff, resampled
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, e.Stamp.UnixNano(), e.FrameID,
		e.Pose.X, e.Pose.Y, e.Pose.Z, e.Pose.Roll, e.Pose.Pitch, e.Pose.Yaw,
		e.Variance[0], e.Variance[1], e.Variance[5], e.NEff, resampled,
	)
	if err != nil {
		return fmt.Errorf("insert estimate: %w", err)
	}
	return nil
}

// Estimates returns up to limit estimates for a run in stamp order.
func (db *DB) Estimates(ctx context.Context, runID string, limit int) ([]EstimateRow, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT run_id, stamp_ns, frame_id, x, y, z, roll, pitch, yaw,
		        var_x, var_y, var_yaw, n_eff, resampled
		 FROM filter_estimates WHERE run_id = ? ORDER BY stamp_ns ASC LIMIT ?`,
		runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EstimateRow
	for rows.Next() {
		var (
			r         EstimateRow
			stamp     int64
			resampled int
		)
		if err := rows.Scan(&r.RunID, &stamp, &r.FrameID,
			&r.Pose.X, &r.Pose.Y, &r.Pose.Z, &r.Pose.Roll, &r.Pose.Pitch, &r.Pose.Yaw,
			&r.VarX, &r.VarY, &r.VarYaw, &r.NEff, &resampled); err != nil {
			return nil, err
		}
		r.Stamp = time.Unix(0, stamp).UTC()
		r.Resampled = resampled != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// RunSink records every published estimate against one run. Particle
// clouds are not stored.
type RunSink struct {
	db    *DB
	runID string
}

var _ publish.Sink = (*RunSink)(nil)

// Sink returns a publish.Sink bound to runID.
func (db *DB) Sink(runID string) *RunSink {
	return &RunSink{db: db, runID: runID}
}

func (s *RunSink) PublishParticles(time.Time, string, []pose.Pose) error { return nil }

func (s *RunSink) PublishEstimate(e publish.Estimate) error {
	return s.db.RecordEstimate(context.Background(), s.runID, e)
}
