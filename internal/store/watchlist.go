package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/seedscout/seedscout/internal/model"
)

// AppendWatchlistEntries inserts one generation's entries in a single
// transaction. Every entry is stamped with the shared date so a generation
// is either fully visible or not at all.
func (s *Store) AppendWatchlistEntries(ctx context.Context, date time.Time, entries []model.WatchlistEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: append watchlist begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO watchlist_entries (
		repo_id, watchlist_date_ns, momentum_score, durability_score,
		adoption_score, rationale, metrics_json
	) VALUES (?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("store: prepare watchlist insert: %w", err)
	}
	defer stmt.Close()

	dateNs := timeToNs(date)
	for _, e := range entries {
		metrics := "{}"
		if len(e.Metrics) > 0 {
			metrics = string(e.Metrics)
		}
		if _, err := stmt.ExecContext(ctx,
			e.RepoID, dateNs, e.MomentumScore, e.DurabilityScore,
			e.AdoptionScore, e.Rationale, metrics,
		); err != nil {
			return fmt.Errorf("store: insert watchlist entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: append watchlist commit: %w", err)
	}
	return nil
}

// LatestWatchlistDate returns the date of the most recent generation, or a
// zero time when no watchlist exists yet.
func (s *Store) LatestWatchlistDate(ctx context.Context) (time.Time, error) {
	// MAX over an empty table yields a NULL row, not ErrNoRows.
	var ns sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT MAX(watchlist_date_ns) FROM watchlist_entries").Scan(&ns)
	if err != nil {
		return time.Time{}, fmt.Errorf("store: latest watchlist date: %w", err)
	}
	if !ns.Valid {
		return time.Time{}, nil
	}
	return nsToTime(ns.Int64), nil
}

const watchlistColumns = `id, repo_id, watchlist_date_ns, momentum_score,
	durability_score, adoption_score, rationale, metrics_json`

func scanWatchlistEntry(row interface{ Scan(...any) error }) (*model.WatchlistEntry, error) {
	var e model.WatchlistEntry
	var dateNs int64
	var metrics string
	err := row.Scan(&e.ID, &e.RepoID, &dateNs, &e.MomentumScore,
		&e.DurabilityScore, &e.AdoptionScore, &e.Rationale, &metrics)
	if err != nil {
		return nil, err
	}
	e.WatchlistDate = nsToTime(dateNs)
	e.Metrics = json.RawMessage(metrics)
	return &e, nil
}

// WatchlistForDate returns a generation's entries ordered by the given
// track score descending: "momentum" (default), "durability", "adoption".
func (s *Store) WatchlistForDate(ctx context.Context, date time.Time, sortBy string) ([]model.WatchlistEntry, error) {
	orderCol := "momentum_score"
	switch sortBy {
	case "durability":
		orderCol = "durability_score"
	case "adoption":
		orderCol = "adoption_score"
	}

	q := fmt.Sprintf("SELECT %s FROM watchlist_entries WHERE watchlist_date_ns = ? ORDER BY %s DESC, repo_id ASC",
		watchlistColumns, orderCol)
	rows, err := s.db.QueryContext(ctx, q, timeToNs(date))
	if err != nil {
		return nil, fmt.Errorf("store: watchlist for date: %w", err)
	}
	defer rows.Close()

	var out []model.WatchlistEntry
	for rows.Next() {
		e, err := scanWatchlistEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan watchlist entry: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// WatchlistDates returns all generation dates, newest first.
func (s *Store) WatchlistDates(ctx context.Context) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT watchlist_date_ns FROM watchlist_entries ORDER BY watchlist_date_ns DESC")
	if err != nil {
		return nil, fmt.Errorf("store: watchlist dates: %w", err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var ns int64
		if err := rows.Scan(&ns); err != nil {
			return nil, fmt.Errorf("store: scan watchlist date: %w", err)
		}
		out = append(out, nsToTime(ns))
	}
	return out, rows.Err()
}
