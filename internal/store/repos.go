package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/seedscout/seedscout/internal/model"
)

const repoColumns = `id, github_id, owner, name, full_name, language, stars, forks,
	created_at_ns, pushed_at_ns, archived, is_fork,
	first_discovered_at_ns, last_seen_at_ns, eligible`

func scanRepo(row interface{ Scan(...any) error }) (*model.Repo, error) {
	var r model.Repo
	var createdNs, pushedNs, firstNs, seenNs int64
	var archived, isFork, eligible int
	err := row.Scan(
		&r.ID, &r.GitHubID, &r.Owner, &r.Name, &r.FullName, &r.Language,
		&r.Stars, &r.Forks, &createdNs, &pushedNs, &archived, &isFork,
		&firstNs, &seenNs, &eligible,
	)
	if err != nil {
		return nil, err
	}
	r.CreatedAt = nsToTime(createdNs)
	r.PushedAt = nsToTime(pushedNs)
	r.FirstDiscoveredAt = nsToTime(firstNs)
	r.LastSeenAt = nsToTime(seenNs)
	r.Archived = archived != 0
	r.IsFork = isFork != 0
	r.Eligible = eligible != 0
	return &r, nil
}

// GetRepoByGitHubID returns the repo with the given upstream id, or nil.
func (s *Store) GetRepoByGitHubID(ctx context.Context, githubID int64) (*model.Repo, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+repoColumns+" FROM repos WHERE github_id = ?", githubID)
	r, err := scanRepo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get repo by github id: %w", err)
	}
	return r, nil
}

// GetRepoByFullName returns the repo with the given "owner/name", or nil.
func (s *Store) GetRepoByFullName(ctx context.Context, fullName string) (*model.Repo, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+repoColumns+" FROM repos WHERE full_name = ?", fullName)
	r, err := scanRepo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get repo by full name: %w", err)
	}
	return r, nil
}

// GetRepoByID returns the repo with the given row id, or nil.
func (s *Store) GetRepoByID(ctx context.Context, id int64) (*model.Repo, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+repoColumns+" FROM repos WHERE id = ?", id)
	r, err := scanRepo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get repo by id: %w", err)
	}
	return r, nil
}

// RecordDiscovery upserts the repo by upstream id and appends one discovery
// snapshot, both in a single transaction. first_discovered_at is attached
// on insert only; last_seen_at is touched on every call. Returns the repo
// row id and whether the repo was newly created.
func (s *Store) RecordDiscovery(ctx context.Context, repo model.Repo, snap model.DiscoverySnapshot) (int64, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("store: record discovery begin: %w", err)
	}
	defer tx.Rollback()

	var repoID int64
	created := false
	err = tx.QueryRowContext(ctx,
		"SELECT id FROM repos WHERE github_id = ?", repo.GitHubID).Scan(&repoID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		created = true
		res, err := tx.ExecContext(ctx, `INSERT INTO repos (
			github_id, owner, name, full_name, language, stars, forks,
			created_at_ns, pushed_at_ns, archived, is_fork,
			first_discovered_at_ns, last_seen_at_ns, eligible
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			repo.GitHubID, repo.Owner, repo.Name, repo.FullName, repo.Language,
			repo.Stars, repo.Forks, timeToNs(repo.CreatedAt), timeToNs(repo.PushedAt),
			boolToInt(repo.Archived), boolToInt(repo.IsFork),
			timeToNs(repo.LastSeenAt), timeToNs(repo.LastSeenAt), boolToInt(repo.Eligible),
		)
		if err != nil {
			return 0, false, fmt.Errorf("store: insert repo %s: %w", repo.FullName, err)
		}
		repoID, err = res.LastInsertId()
		if err != nil {
			return 0, false, fmt.Errorf("store: insert repo id: %w", err)
		}
	case err != nil:
		return 0, false, fmt.Errorf("store: record discovery lookup: %w", err)
	default:
		_, err = tx.ExecContext(ctx, `UPDATE repos SET
			owner = ?, name = ?, full_name = ?, language = ?, stars = ?, forks = ?,
			created_at_ns = ?, pushed_at_ns = ?, archived = ?, is_fork = ?,
			last_seen_at_ns = ?, eligible = ?
			WHERE id = ?`,
			repo.Owner, repo.Name, repo.FullName, repo.Language, repo.Stars, repo.Forks,
			timeToNs(repo.CreatedAt), timeToNs(repo.PushedAt),
			boolToInt(repo.Archived), boolToInt(repo.IsFork),
			timeToNs(repo.LastSeenAt), boolToInt(repo.Eligible), repoID,
		)
		if err != nil {
			return 0, false, fmt.Errorf("store: update repo %s: %w", repo.FullName, err)
		}
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO discovery_snapshots (
		repo_id, snapshot_date_ns, stars, forks, pushed_at_ns, eligible,
		payload_hash, payload_json
	) VALUES (?,?,?,?,?,?,?,?)`,
		repoID, timeToNs(snap.SnapshotDate), snap.Stars, snap.Forks,
		timeToNs(snap.PushedAt), boolToInt(snap.Eligible),
		int64(snap.PayloadHash), string(snap.Payload),
	)
	if err != nil {
		return 0, false, fmt.Errorf("store: insert discovery snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("store: record discovery commit: %w", err)
	}
	return repoID, created, nil
}

// ListEligibleRepos returns all repos with eligible=true.
func (s *Store) ListEligibleRepos(ctx context.Context) ([]model.Repo, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+repoColumns+" FROM repos WHERE eligible = 1 ORDER BY stars DESC")
	if err != nil {
		return nil, fmt.Errorf("store: list eligible repos: %w", err)
	}
	defer rows.Close()
	return collectRepos(rows)
}

// ListEligibleReposCreatedAfter returns eligible repos created at or after
// the cutoff.
func (s *Store) ListEligibleReposCreatedAfter(ctx context.Context, cutoff time.Time) ([]model.Repo, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+repoColumns+" FROM repos WHERE eligible = 1 AND created_at_ns >= ? ORDER BY stars DESC",
		timeToNs(cutoff))
	if err != nil {
		return nil, fmt.Errorf("store: list eligible repos after cutoff: %w", err)
	}
	defer rows.Close()
	return collectRepos(rows)
}

// RepoFilter selects and orders repos for the read surface.
type RepoFilter struct {
	Language string
	MinStars int
	MaxStars int // 0 means no upper bound
	Eligible *bool
	SortBy   string // stars | created_at | pushed_at (default stars)
	Limit    int
	Offset   int
}

// ListRepos returns matching repos plus the total match count.
func (s *Store) ListRepos(ctx context.Context, f RepoFilter) ([]model.Repo, int, error) {
	var where []string
	var args []any

	if f.Language != "" {
		where = append(where, "language = ?")
		args = append(args, f.Language)
	}
	if f.MinStars > 0 {
		where = append(where, "stars >= ?")
		args = append(args, f.MinStars)
	}
	if f.MaxStars > 0 {
		where = append(where, "stars <= ?")
		args = append(args, f.MaxStars)
	}
	if f.Eligible != nil {
		where = append(where, "eligible = ?")
		args = append(args, boolToInt(*f.Eligible))
	}

	whereSQL := ""
	if len(where) > 0 {
		whereSQL = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM repos"+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count repos: %w", err)
	}

	orderCol := "stars"
	switch f.SortBy {
	case "created_at":
		orderCol = "created_at_ns"
	case "pushed_at":
		orderCol = "pushed_at_ns"
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := max(f.Offset, 0)

	q := fmt.Sprintf("SELECT %s FROM repos%s ORDER BY %s DESC LIMIT ? OFFSET ?",
		repoColumns, whereSQL, orderCol)
	rows, err := s.db.QueryContext(ctx, q, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list repos: %w", err)
	}
	defer rows.Close()

	repos, err := collectRepos(rows)
	if err != nil {
		return nil, 0, err
	}
	return repos, total, nil
}

// SweepUnseenSince marks repos not re-encountered by discovery since the
// cutoff as ineligible. Returns the number of repos swept.
func (s *Store) SweepUnseenSince(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE repos SET eligible = 0 WHERE eligible = 1 AND last_seen_at_ns < ?",
		timeToNs(cutoff))
	if err != nil {
		return 0, fmt.Errorf("store: sweep unseen repos: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: sweep rows affected: %w", err)
	}
	return n, nil
}

func collectRepos(rows *sql.Rows) ([]model.Repo, error) {
	var out []model.Repo
	for rows.Next() {
		r, err := scanRepo(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan repo: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate repos: %w", err)
	}
	return out, nil
}
