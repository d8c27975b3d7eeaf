package api

import (
	"net/http"

	"github.com/seedscout/seedscout/internal/service"
)

// HandleTriggerDiscovery returns a handler for POST /api/v1/admin/trigger-discovery.
// Runs one discovery pass followed by a queue refresh.
func HandleTriggerDiscovery(admin *service.AdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := admin.RunDiscovery(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, result)
	}
}

type triggerDeepAnalysisRequest struct {
	MaxRepos int `json:"max_repos"`
}

// HandleTriggerDeepAnalysis returns a handler for POST /api/v1/admin/trigger-deep-analysis.
// max_repos comes from the query string or a {"max_repos": n} body; omitting
// both uses the configured default.
func HandleTriggerDeepAnalysis(admin *service.AdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req triggerDeepAnalysisRequest
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		if req.MaxRepos == 0 {
			n, err := ParseIntQuery(r, "max_repos")
			if err != nil {
				writeInvalidArgument(w, err.Error())
				return
			}
			req.MaxRepos = n
		}
		stats, err := admin.RunDeepAnalysis(r.Context(), req.MaxRepos)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, stats)
	}
}

// HandleTriggerWatchlist returns a handler for POST /api/v1/admin/trigger-watchlist.
func HandleTriggerWatchlist(admin *service.AdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := admin.RunWatchlist(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, stats)
	}
}

// HandleRefreshQueue returns a handler for POST /api/v1/admin/refresh-queue.
func HandleRefreshQueue(admin *service.AdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := admin.RefreshQueue(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, stats)
	}
}

// HandleAdminStatus returns a handler for GET /api/v1/admin/status.
func HandleAdminStatus(admin *service.AdminService, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := admin.Status(r.Context(), version)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, report)
	}
}
