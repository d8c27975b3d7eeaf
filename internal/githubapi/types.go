package githubapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// RepoPayload is the subset of the GitHub repository object the pipelines
// consume. The raw JSON is preserved separately on discovery snapshots.
type RepoPayload struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Owner struct {
		Login string `json:"login"`
	} `json:"owner"`
	FullName        string    `json:"full_name"`
	Description     string    `json:"description"`
	Homepage        string    `json:"homepage"`
	Language        string    `json:"language"`
	Topics          []string  `json:"topics"`
	StargazersCount int       `json:"stargazers_count"`
	ForksCount      int       `json:"forks_count"`
	OpenIssuesCount int       `json:"open_issues_count"`
	WatchersCount   int       `json:"watchers_count"`
	CreatedAt       time.Time `json:"created_at"`
	PushedAt        time.Time `json:"pushed_at"`
	Archived        bool      `json:"archived"`
	Fork            bool      `json:"fork"`
	License         *struct {
		SPDXID string `json:"spdx_id"`
	} `json:"license"`
}

// RepoSearchPage is one page of search/repositories results.
type RepoSearchPage struct {
	TotalCount        int               `json:"total_count"`
	IncompleteResults bool              `json:"incomplete_results"`
	Items             []json.RawMessage `json:"items"`
}

// CommitWeek is one bucket of the stats/commit_activity series.
type CommitWeek struct {
	Week  int64 `json:"week"`
	Days  []int `json:"days"`
	Total int   `json:"total"`
}

// ContributorStat is one entry of the stats/contributors series.
type ContributorStat struct {
	Total  int `json:"total"`
	Author struct {
		Login string `json:"login"`
	} `json:"author"`
}

// Issue is a closed issue or pull request from the issues listing.
// PullRequest is non-nil iff the item is a PR.
type Issue struct {
	Number      int             `json:"number"`
	CreatedAt   time.Time       `json:"created_at"`
	PullRequest json.RawMessage `json:"pull_request"`
}

// IsPullRequest reports whether the item carries the PR sub-field.
func (i Issue) IsPullRequest() bool {
	return len(i.PullRequest) > 0
}

// Comment is one issue comment.
type Comment struct {
	AuthorAssociation string    `json:"author_association"`
	CreatedAt         time.Time `json:"created_at"`
}

// SearchRepositories fetches one page of repository search results sorted
// by stars descending. Items stay raw so callers can both decode and
// persist the original payload.
func (c *Client) SearchRepositories(ctx context.Context, query string, perPage, page int) (*RepoSearchPage, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("sort", "stars")
	params.Set("order", "desc")
	params.Set("per_page", strconv.Itoa(perPage))
	params.Set("page", strconv.Itoa(page))

	raw, err := c.Get(ctx, "search/repositories", params)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var result RepoSearchPage
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("github: decode search page: %w", err)
	}
	return &result, nil
}

// GetRepo fetches the repository summary, or nil when it no longer exists.
func (c *Client) GetRepo(ctx context.Context, owner, name string) (*RepoPayload, error) {
	raw, err := c.Get(ctx, fmt.Sprintf("repos/%s/%s", owner, name), nil)
	if err != nil || raw == nil {
		return nil, err
	}
	var repo RepoPayload
	if err := json.Unmarshal(raw, &repo); err != nil {
		return nil, fmt.Errorf("github: decode repo: %w", err)
	}
	return &repo, nil
}

// CommitActivity fetches the 52-week commit activity series. A nil slice
// means GitHub has not computed the statistics yet.
func (c *Client) CommitActivity(ctx context.Context, owner, name string) ([]CommitWeek, error) {
	raw, err := c.Get(ctx, fmt.Sprintf("repos/%s/%s/stats/commit_activity", owner, name), nil)
	if err != nil || raw == nil {
		return nil, err
	}
	var weeks []CommitWeek
	if err := json.Unmarshal(raw, &weeks); err != nil {
		return nil, fmt.Errorf("github: decode commit activity: %w", err)
	}
	return weeks, nil
}

// ContributorStats fetches the all-time per-contributor commit totals.
// GitHub caps this list at the top 100 contributors.
func (c *Client) ContributorStats(ctx context.Context, owner, name string) ([]ContributorStat, error) {
	raw, err := c.Get(ctx, fmt.Sprintf("repos/%s/%s/stats/contributors", owner, name), nil)
	if err != nil || raw == nil {
		return nil, err
	}
	var stats []ContributorStat
	if err := json.Unmarshal(raw, &stats); err != nil {
		return nil, fmt.Errorf("github: decode contributor stats: %w", err)
	}
	return stats, nil
}

// ClosedIssues fetches the most recently updated closed issues and PRs.
func (c *Client) ClosedIssues(ctx context.Context, owner, name string, perPage int) ([]Issue, error) {
	params := url.Values{}
	params.Set("state", "closed")
	params.Set("sort", "updated")
	params.Set("direction", "desc")
	params.Set("per_page", strconv.Itoa(perPage))

	raw, err := c.Get(ctx, fmt.Sprintf("repos/%s/%s/issues", owner, name), params)
	if err != nil || raw == nil {
		return nil, err
	}
	var issues []Issue
	if err := json.Unmarshal(raw, &issues); err != nil {
		return nil, fmt.Errorf("github: decode issues: %w", err)
	}
	return issues, nil
}

// IssueComments fetches the comments of one issue or PR in creation order.
func (c *Client) IssueComments(ctx context.Context, owner, name string, number int) ([]Comment, error) {
	raw, err := c.Get(ctx, fmt.Sprintf("repos/%s/%s/issues/%d/comments", owner, name, number), nil)
	if err != nil || raw == nil {
		return nil, err
	}
	var comments []Comment
	if err := json.Unmarshal(raw, &comments); err != nil {
		return nil, fmt.Errorf("github: decode comments: %w", err)
	}
	return comments, nil
}

// SearchIssueCount returns the total_count of an issue search without
// materializing results (per_page=1).
func (c *Client) SearchIssueCount(ctx context.Context, query string) (int, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("per_page", "1")

	raw, err := c.Get(ctx, "search/issues", params)
	if err != nil {
		return 0, err
	}
	if raw == nil {
		return 0, nil
	}
	var result struct {
		TotalCount int `json:"total_count"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return 0, fmt.Errorf("github: decode issue search: %w", err)
	}
	return result.TotalCount, nil
}
