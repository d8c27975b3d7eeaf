package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/seedscout/seedscout/internal/service"
)

// HandleLatestWatchlist returns a handler for GET /api/v1/watchlist/latest.
// Query: sort_by=momentum|durability|adoption (default momentum).
func HandleLatestWatchlist(reads *service.ReadService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := reads.LatestWatchlist(r.Context(), r.URL.Query().Get("sort_by"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, page)
	}
}

// HandleWatchlistExport returns a handler for GET /api/v1/watchlist/export.
// Same payload as /latest, served as a downloadable attachment.
func HandleWatchlistExport(reads *service.ReadService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := reads.LatestWatchlist(r.Context(), r.URL.Query().Get("sort_by"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		filename := fmt.Sprintf("watchlist-%s.json", page.Date.Format("2006-01-02"))
		w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
		WriteJSON(w, http.StatusOK, page)
	}
}

// HandleWatchlistDates returns a handler for GET /api/v1/watchlist/dates.
func HandleWatchlistDates(reads *service.ReadService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dates, err := reads.WatchlistDates(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if dates == nil {
			dates = []time.Time{}
		}
		WriteJSON(w, http.StatusOK, map[string]any{"dates": dates})
	}
}
