package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/seedscout/seedscout/internal/model"
)

const queueColumns = `id, repo_id, priority, priority_reason, queued_at_ns,
	processed, processed_at_ns, last_deep_analysis_at_ns`

func scanQueueEntry(row interface{ Scan(...any) error }) (*model.QueueEntry, error) {
	var e model.QueueEntry
	var queuedNs int64
	var processed int
	var processedNs, lastDeepNs sql.NullInt64
	err := row.Scan(&e.ID, &e.RepoID, &e.Priority, &e.Reason, &queuedNs,
		&processed, &processedNs, &lastDeepNs)
	if err != nil {
		return nil, err
	}
	e.QueuedAt = nsToTime(queuedNs)
	e.Processed = processed != 0
	if processedNs.Valid {
		e.ProcessedAt = nsToTime(processedNs.Int64)
	}
	if lastDeepNs.Valid {
		e.LastDeepAnalysisAt = nsToTime(lastDeepNs.Int64)
	}
	return &e, nil
}

// UnprocessedEntryForRepo returns the repo's pending queue entry, or nil.
func (s *Store) UnprocessedEntryForRepo(ctx context.Context, repoID int64) (*model.QueueEntry, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+queueColumns+" FROM repo_queue WHERE repo_id = ? AND processed = 0",
		repoID)
	e, err := scanQueueEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: unprocessed entry for repo: %w", err)
	}
	return e, nil
}

// InsertQueueEntry adds a pending entry for a repo. The partial unique
// index on repo_queue rejects a second unprocessed entry for the same repo.
func (s *Store) InsertQueueEntry(ctx context.Context, e model.QueueEntry) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO repo_queue (
		repo_id, priority, priority_reason, queued_at_ns,
		processed, processed_at_ns, last_deep_analysis_at_ns
	) VALUES (?,?,?,?,0,NULL,?)`,
		e.RepoID, e.Priority, e.Reason, timeToNs(e.QueuedAt),
		nullNs(e.LastDeepAnalysisAt),
	)
	if err != nil {
		return 0, fmt.Errorf("store: insert queue entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: insert queue entry id: %w", err)
	}
	return id, nil
}

// UpdateQueuePriority changes the priority and reason of a pending entry.
func (s *Store) UpdateQueuePriority(ctx context.Context, entryID int64, priority int, reason string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE repo_queue SET priority = ?, priority_reason = ? WHERE id = ? AND processed = 0",
		priority, reason, entryID)
	if err != nil {
		return fmt.Errorf("store: update queue priority: %w", err)
	}
	return nil
}

// UnprocessedQueueEntries returns pending entries ordered by priority
// descending, then queue time ascending. limit <= 0 means no limit.
func (s *Store) UnprocessedQueueEntries(ctx context.Context, limit int) ([]model.QueueEntry, error) {
	q := "SELECT " + queueColumns + " FROM repo_queue WHERE processed = 0 ORDER BY priority DESC, queued_at_ns ASC"
	var args []any
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: unprocessed queue entries: %w", err)
	}
	defer rows.Close()

	var out []model.QueueEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan queue entry: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// DeleteProcessedBefore removes processed entries older than the cutoff.
// Returns the number of rows deleted.
func (s *Store) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM repo_queue WHERE processed = 1 AND processed_at_ns < ?",
		timeToNs(cutoff))
	if err != nil {
		return 0, fmt.Errorf("store: delete processed entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: delete processed rows affected: %w", err)
	}
	return n, nil
}

// QueueSummary groups pending entries by priority.
type QueueSummary struct {
	Pending    int         `json:"pending"`
	Processed  int         `json:"processed"`
	ByPriority map[int]int `json:"by_priority"`
}

// SummarizeQueue returns pending/processed counts and a per-priority
// breakdown of pending entries.
func (s *Store) SummarizeQueue(ctx context.Context) (QueueSummary, error) {
	sum := QueueSummary{ByPriority: make(map[int]int)}

	rows, err := s.db.QueryContext(ctx,
		"SELECT priority, COUNT(*) FROM repo_queue WHERE processed = 0 GROUP BY priority")
	if err != nil {
		return sum, fmt.Errorf("store: summarize queue: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var priority, n int
		if err := rows.Scan(&priority, &n); err != nil {
			return sum, fmt.Errorf("store: scan queue summary: %w", err)
		}
		sum.ByPriority[priority] = n
		sum.Pending += n
	}
	if err := rows.Err(); err != nil {
		return sum, fmt.Errorf("store: iterate queue summary: %w", err)
	}

	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM repo_queue WHERE processed = 1").Scan(&sum.Processed); err != nil {
		return sum, fmt.Errorf("store: count processed entries: %w", err)
	}
	return sum, nil
}

// CompleteAnalysis appends a deep snapshot and marks the queue entry
// processed in a single transaction. An entry is never marked processed
// without its snapshot landing alongside it.
func (s *Store) CompleteAnalysis(ctx context.Context, entryID int64, snap model.DeepSnapshot, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: complete analysis begin: %w", err)
	}
	defer tx.Rollback()

	if err := insertDeepSnapshot(ctx, tx, snap); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE repo_queue SET processed = 1, processed_at_ns = ? WHERE id = ? AND processed = 0",
		at.UnixNano(), entryID)
	if err != nil {
		return fmt.Errorf("store: mark entry processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: mark entry rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("store: queue entry %d not pending", entryID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: complete analysis commit: %w", err)
	}
	return nil
}
