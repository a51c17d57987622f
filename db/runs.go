package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type Run struct {
	ID        string `json:"id"`
	Op        string `json:"op"`
	Reference string `json:"reference,omitempty"`

	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`

	Err string `json:"err,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

type SegmentEvent struct {
	RunID   string    `json:"run_id"`
	Index   int       `json:"index"`
	Status  string    `json:"status"`
	ErrKind string    `json:"err_kind,omitempty"`
	Err     string    `json:"err,omitempty"`
	At      time.Time `json:"at"`
}

func (db *DB) StartRun(ctx context.Context, run *Run) error {
	_, err := db.db.ExecContext(ctx, `
		insert into runs (id, op, reference, total, started_at)
		values ($1, $2, $3, $4, $5)
	`,
		run.ID,
		run.Op,
		run.Reference,
		run.Total,
		run.StartedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	return nil
}

func (db *DB) FinishRun(ctx context.Context, run *Run) error {
	finished := time.Now()
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}

	_, err := db.db.ExecContext(ctx, `
		update runs set
			total = $1,
			succeeded = $2,
			failed = $3,
			skipped = $4,
			err = $5,
			finished_at = $6
		where id = $7
	`,
		run.Total,
		run.Succeeded,
		run.Failed,
		run.Skipped,
		run.Err,
		finished.UnixMilli(),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	if db.cfg.MaxRuns > 0 {
		if err := db.Prune(ctx, db.cfg.MaxRuns); err != nil {
			return err
		}
	}

	return nil
}

func (db *DB) RecordSegment(ctx context.Context, ev *SegmentEvent) error {
	_, err := db.db.ExecContext(ctx, `
		insert into segment_events (run_id, idx, status, err_kind, err, at)
		values ($1, $2, $3, $4, $5, $6)
	`,
		ev.RunID,
		ev.Index,
		ev.Status,
		ev.ErrKind,
		ev.Err,
		ev.At.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert segment event: %w", err)
	}

	return nil
}

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var run Run
	var started int64
	var finished sql.NullInt64

	if err := row.Scan(
		&run.ID,
		&run.Op,
		&run.Reference,
		&run.Total,
		&run.Succeeded,
		&run.Failed,
		&run.Skipped,
		&run.Err,
		&started,
		&finished,
	); err != nil {
		return nil, err
	}

	run.StartedAt = time.UnixMilli(started)
	if finished.Valid {
		t := time.UnixMilli(finished.Int64)
		run.FinishedAt = &t
	}

	return &run, nil
}

const runColumns = `id, op, reference, total, succeeded, failed, skipped, err, started_at, finished_at`

func (db *DB) GetRun(ctx context.Context, id string) (*Run, error) {
	run, err := scanRun(db.db.QueryRowContext(ctx, `select `+runColumns+` from runs where id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", parseErr(err))
	}

	return run, nil
}

// GetRuns returns the latest runs, newest first.
func (db *DB) GetRuns(ctx context.Context, limit int) ([]*Run, error) {
	rows, err := db.db.QueryContext(ctx, `select `+runColumns+` from runs order by started_at desc, id limit $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

func (db *DB) GetSegmentEvents(ctx context.Context, runID string) ([]*SegmentEvent, error) {
	rows, err := db.db.QueryContext(ctx, `
		select run_id, idx, status, err_kind, err, at
		from segment_events
		where run_id = $1
		order by at, idx
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query segment events: %w", err)
	}
	defer rows.Close()

	var events []*SegmentEvent
	for rows.Next() {
		var ev SegmentEvent
		var at int64
		if err := rows.Scan(&ev.RunID, &ev.Index, &ev.Status, &ev.ErrKind, &ev.Err, &at); err != nil {
			return nil, fmt.Errorf("failed to scan segment event: %w", err)
		}
		ev.At = time.UnixMilli(at)
		events = append(events, &ev)
	}

	return events, rows.Err()
}

// Prune keeps only the newest keep runs.
func (db *DB) Prune(ctx context.Context, keep int) error {
	stale := `select id from runs order by started_at desc, id limit -1 offset $1`
	if db.driver == DriverPostgres {
		stale = `select id from runs order by started_at desc, id offset $1`
	}

	if _, err := db.db.ExecContext(ctx, `delete from segment_events where run_id in (`+stale+`)`, keep); err != nil {
		return fmt.Errorf("failed to prune segment events: %w", err)
	}
	if _, err := db.db.ExecContext(ctx, `delete from runs where id in (`+stale+`)`, keep); err != nil {
		return fmt.Errorf("failed to prune runs: %w", err)
	}

	return nil
}
