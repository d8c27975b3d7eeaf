package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/seedscout/seedscout/internal/model"
)

// CreateJobRun opens a new job run in the running state and returns its id.
func (s *Store) CreateJobRun(ctx context.Context, jobType string, at time.Time) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `INSERT INTO job_runs (
		id, job_type, started_at_ns, completed_at_ns, status, stats_json, error_message
	) VALUES (?,?,?,NULL,?,'{}','')`,
		id, jobType, at.UnixNano(), model.JobStatusRunning)
	if err != nil {
		return "", fmt.Errorf("store: create job run: %w", err)
	}
	return id, nil
}

// FinishJobRun closes a job run with its final status, stats, and error
// message. A nil stats map is stored as an empty object.
func (s *Store) FinishJobRun(ctx context.Context, id, status string, stats map[string]any, errMsg string, at time.Time) error {
	statsJSON := []byte("{}")
	if stats != nil {
		raw, err := json.Marshal(stats)
		if err != nil {
			return fmt.Errorf("store: encode job stats: %w", err)
		}
		statsJSON = raw
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE job_runs SET completed_at_ns = ?, status = ?, stats_json = ?, error_message = ? WHERE id = ?",
		at.UnixNano(), status, string(statsJSON), errMsg, id)
	if err != nil {
		return fmt.Errorf("store: finish job run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: finish job run rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("store: job run %s not found", id)
	}
	return nil
}

const jobColumns = `id, job_type, started_at_ns, completed_at_ns, status, stats_json, error_message`

func scanJobRun(row interface{ Scan(...any) error }) (*model.JobRun, error) {
	var j model.JobRun
	var startedNs int64
	var completedNs sql.NullInt64
	var stats string
	err := row.Scan(&j.ID, &j.JobType, &startedNs, &completedNs, &j.Status, &stats, &j.ErrorMsg)
	if err != nil {
		return nil, err
	}
	j.StartedAt = nsToTime(startedNs)
	if completedNs.Valid {
		j.CompletedAt = nsToTime(completedNs.Int64)
	}
	j.Stats = json.RawMessage(stats)
	return &j, nil
}

// RecentJobRuns returns the most recent runs, newest first. jobType filters
// when non-empty.
func (s *Store) RecentJobRuns(ctx context.Context, jobType string, limit int) ([]model.JobRun, error) {
	if limit <= 0 {
		limit = 20
	}
	q := "SELECT " + jobColumns + " FROM job_runs"
	var args []any
	if jobType != "" {
		q += " WHERE job_type = ?"
		args = append(args, jobType)
	}
	q += " ORDER BY started_at_ns DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: recent job runs: %w", err)
	}
	defer rows.Close()

	var out []model.JobRun
	for rows.Next() {
		j, err := scanJobRun(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan job run: %w", err)
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}
