package api

import (
	"net/http"
	"slices"

	"github.com/seedscout/seedscout/internal/model"
	"github.com/seedscout/seedscout/internal/service"
	"github.com/seedscout/seedscout/internal/store"
)

var repoSortFields = []string{"stars", "created_at", "pushed_at"}

// HandleListRepos returns a handler for GET /api/v1/repos.
// Filters: language, min_stars, max_stars, eligible; sort_by; limit/offset.
func HandleListRepos(reads *service.ReadService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := ParsePagination(r)
		if err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}
		minStars, err := ParseIntQuery(r, "min_stars")
		if err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}
		maxStars, err := ParseIntQuery(r, "max_stars")
		if err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}
		eligible, err := ParseBoolQuery(r, "eligible")
		if err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}
		sortBy := r.URL.Query().Get("sort_by")
		if sortBy != "" && !slices.Contains(repoSortFields, sortBy) {
			writeInvalidArgument(w, "sort_by: must be one of stars, created_at, pushed_at")
			return
		}

		repos, total, err := reads.ListRepos(r.Context(), store.RepoFilter{
			Language: r.URL.Query().Get("language"),
			MinStars: minStars,
			MaxStars: maxStars,
			Eligible: eligible,
			SortBy:   sortBy,
			Limit:    page.Limit,
			Offset:   page.Offset,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if repos == nil {
			repos = []model.Repo{}
		}
		WriteJSON(w, http.StatusOK, PageResponse[model.Repo]{
			Items:  repos,
			Total:  total,
			Limit:  page.Limit,
			Offset: page.Offset,
		})
	}
}

// HandleGetRepo returns a handler for GET /api/v1/repos/{owner}/{name}.
func HandleGetRepo(reads *service.ReadService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		detail, err := reads.GetRepoDetail(r.Context(), r.PathValue("owner"), r.PathValue("name"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, detail)
	}
}

// HandleRepoHistory returns a handler for GET /api/v1/repos/{owner}/{name}/history.
// Query: kind=discovery|deep, limit.
func HandleRepoHistory(reads *service.ReadService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := ParseIntQuery(r, "limit")
		if err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}
		kind := r.URL.Query().Get("kind")
		if kind == "" {
			kind = "discovery"
		}
		history, err := reads.GetRepoHistory(r.Context(), r.PathValue("owner"), r.PathValue("name"), kind, limit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, history)
	}
}
