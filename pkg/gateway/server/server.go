// Package server assembles the HTTP surface: session lifecycle endpoints,
// the leaderboard, the live WebSocket upgrade, health, and metrics.
package server

import (
	"log/slog"
	"net/http"

	"github.com/voxtutor/voxtutor/pkg/gateway/config"
	"github.com/voxtutor/voxtutor/pkg/gateway/live"
	"github.com/voxtutor/voxtutor/pkg/gateway/metrics"
	"github.com/voxtutor/voxtutor/pkg/gateway/mw"
	"github.com/voxtutor/voxtutor/pkg/gateway/sessions"
	"github.com/voxtutor/voxtutor/pkg/score"
	"github.com/voxtutor/voxtutor/pkg/session"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	manager     *session.Manager
	leaderboard score.Leaderboard
	metrics     *metrics.Metrics
	hub         *live.Hub
	tracker     *sessions.Tracker
}

func New(cfg config.Config, logger *slog.Logger, manager *session.Manager, leaderboard score.Leaderboard, m *metrics.Metrics, hub *live.Hub, tracker *sessions.Tracker) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:         cfg,
		logger:      logger,
		mux:         http.NewServeMux(),
		manager:     manager,
		leaderboard: leaderboard,
		metrics:     m,
		hub:         hub,
		tracker:     tracker,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", s.metrics.Handler())

	s.mux.HandleFunc("POST /v1/sessions", s.handleStartSession)
	s.mux.HandleFunc("GET /v1/sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("POST /v1/sessions/{id}/pause", s.handlePauseSession)
	s.mux.HandleFunc("POST /v1/sessions/{id}/resume", s.handleResumeSession)
	s.mux.HandleFunc("POST /v1/sessions/{id}/conclude", s.handleConcludeSession)
	s.mux.HandleFunc("POST /v1/sessions/{id}/code", s.handleSubmitCode)
	s.mux.HandleFunc("GET /v1/leaderboard", s.handleLeaderboard)

	s.mux.Handle("GET /v1/sessions/{id}/live", live.Handler{
		Config:  s.cfg,
		Logger:  s.logger,
		Manager: s.manager,
		Hub:     s.hub,
		Tracker: s.tracker,
	})
}

// Handler wraps the mux in the middleware chain.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Auth(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
