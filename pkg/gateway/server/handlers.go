package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/voxtutor/voxtutor/pkg/core"
	"github.com/voxtutor/voxtutor/pkg/gateway/apierror"
)

type startSessionRequest struct {
	UserID string `json:"user_id"`
	Day    int    `json:"day"`
}

type submitCodeRequest struct {
	Format  string `json:"format"`
	Content string `json:"content"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"live_sessions": s.manager.Len(),
	})
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeJSON(r, s.cfg.MaxBodyBytes, &req); err != nil {
		apierror.Write(w, err)
		return
	}
	sess, err := s.manager.StartSession(r.Context(), req.UserID, req.Day)
	if err != nil {
		apierror.Write(w, err)
		return
	}
	s.metrics.SessionsStarted.Inc()
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sc, err := s.manager.Snapshot(r.Context(), r.PathValue("id"))
	if err != nil {
		apierror.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handlePauseSession(w http.ResponseWriter, r *http.Request) {
	cp, err := s.manager.PauseSession(r.Context(), r.PathValue("id"))
	if err != nil {
		apierror.Write(w, err)
		return
	}
	s.metrics.CheckpointSaves.Inc()
	writeJSON(w, http.StatusOK, cp)
}

func (s *Server) handleResumeSession(w http.ResponseWriter, r *http.Request) {
	sc, err := s.manager.ResumeSession(r.Context(), r.PathValue("id"))
	if err != nil {
		apierror.Write(w, err)
		return
	}
	s.metrics.SessionsResumed.Inc()
	writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleConcludeSession(w http.ResponseWriter, r *http.Request) {
	sessionScore, err := s.manager.ConcludeSession(r.Context(), r.PathValue("id"))
	if err != nil {
		apierror.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionScore)
}

func (s *Server) handleSubmitCode(w http.ResponseWriter, r *http.Request) {
	var req submitCodeRequest
	if err := decodeJSON(r, s.cfg.MaxBodyBytes, &req); err != nil {
		apierror.Write(w, err)
		return
	}
	if req.Content == "" {
		apierror.Write(w, core.NewValidationErrorWithParam("content is required", "content"))
		return
	}
	err := s.manager.SubmitCode(r.Context(), r.PathValue("id"), []byte(req.Content), req.Format)
	if err != nil {
		apierror.Write(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "review_pending"})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.LeaderboardTopN
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			apierror.Write(w, core.NewValidationErrorWithParam("limit must be a positive integer", "limit"))
			return
		}
		if n < limit {
			limit = n
		}
	}
	records, err := s.leaderboard.Top(r.Context(), limit)
	if err != nil {
		apierror.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func decodeJSON(r *http.Request, maxBytes int64, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return core.NewValidationError("invalid request body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
