package api

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"github.com/seedscout/seedscout/internal/buildinfo"
	"github.com/seedscout/seedscout/internal/service"
)

// Server wraps the HTTP server and its routes.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
}

// ServerOptions configures a Server.
type ServerOptions struct {
	ListenAddress string
	Port          int
	AdminToken    string
	MaxBodyBytes  int64

	Admin *service.AdminService
	Reads *service.ReadService

	// MetricsHandler serves GET /metrics when non-nil.
	MetricsHandler http.Handler
}

// NewServer builds the route table. Health and metrics are public; every
// /api/ route sits behind the admin-token middleware.
func NewServer(opts ServerOptions) *Server {
	mux := http.NewServeMux()

	mux.Handle("GET /healthz", HandleHealthz(buildinfo.Version))
	if opts.MetricsHandler != nil {
		mux.Handle("GET /metrics", opts.MetricsHandler)
	}

	authed := http.NewServeMux()

	authed.Handle("POST /api/v1/admin/trigger-discovery", HandleTriggerDiscovery(opts.Admin))
	authed.Handle("POST /api/v1/admin/trigger-deep-analysis", HandleTriggerDeepAnalysis(opts.Admin))
	authed.Handle("POST /api/v1/admin/trigger-watchlist", HandleTriggerWatchlist(opts.Admin))
	authed.Handle("POST /api/v1/admin/refresh-queue", HandleRefreshQueue(opts.Admin))
	authed.Handle("GET /api/v1/admin/status", HandleAdminStatus(opts.Admin, buildinfo.Version))

	authed.Handle("GET /api/v1/repos", HandleListRepos(opts.Reads))
	authed.Handle("GET /api/v1/repos/{owner}/{name}", HandleGetRepo(opts.Reads))
	authed.Handle("GET /api/v1/repos/{owner}/{name}/history", HandleRepoHistory(opts.Reads))

	authed.Handle("GET /api/v1/watchlist/latest", HandleLatestWatchlist(opts.Reads))
	authed.Handle("GET /api/v1/watchlist/export", HandleWatchlistExport(opts.Reads))
	authed.Handle("GET /api/v1/watchlist/dates", HandleWatchlistDates(opts.Reads))

	limitedAuthed := RequestBodyLimitMiddleware(opts.MaxBodyBytes, authed)
	mux.Handle("/api/", AuthMiddleware(opts.AdminToken, limitedAuthed))

	srv := &http.Server{
		Addr:    net.JoinHostPort(opts.ListenAddress, strconv.Itoa(opts.Port)),
		Handler: mux,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
	}
}

// ListenAndServe starts the HTTP server. It blocks until the server stops.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.mux
}
