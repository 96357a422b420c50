package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pario-ai/warden/pkg/governance"
	"github.com/pario-ai/warden/pkg/models"
	"github.com/pario-ai/warden/pkg/sweeper"
)

// chatResponse is the body of a successful /api/chat call.
type chatResponse struct {
	Message string   `json:"message"`
	Cached  bool     `json:"cached"`
	Warning *warning `json:"warning,omitempty"`
}

type warning struct {
	StrikeCount int    `json:"strike_count"`
	StrikeLimit int    `json:"strike_limit"`
	Penalized   bool   `json:"penalized"`
	Message     string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	identity := ClientIdentity(r, s.cfg.TrustProxyHeaders)
	d, err := s.gov.Evaluate(r.Context(), identity, req.Messages)
	switch {
	case errors.Is(err, governance.ErrInvalidInput):
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "messages must include a non-empty user message")
		return
	case err != nil:
		s.logger.Error("chat failed", zap.String("identity", identity), zap.Error(err))
		writeJSONError(w, http.StatusBadGateway, "upstream_error", "failed to get a response from the assistant")
		return
	}

	if d.Denied() {
		w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter))
		writeRetryError(w, http.StatusTooManyRequests, d.Reason.String(), denialMessage(d), d.RetryAfter)
		return
	}

	resp := chatResponse{Message: d.Text, Cached: d.Kind == governance.KindCacheHit}
	if d.Warning != nil {
		resp.Warning = &warning{
			StrikeCount: d.Warning.Count,
			StrikeLimit: d.Warning.Limit,
			Penalized:   d.Warning.Penalized || d.Warning.Absorbed,
			Message:     d.Warning.Message(),
		}
	}
	cache := "miss"
	if resp.Cached {
		cache = "hit"
	}
	w.Header().Set("X-Warden-Cache", cache)
	writeJSON(w, http.StatusOK, resp)
}

func denialMessage(d governance.Decision) string {
	if d.Reason == governance.ReasonPenalized {
		return fmt.Sprintf("Too many off-topic questions. Please try again in %d seconds.", d.RetryAfter)
	}
	return fmt.Sprintf("Too many requests. Please try again in %d seconds.", d.RetryAfter)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	type stats struct {
		governance.Snapshot
		LastSweep *sweeper.Report `json:"last_sweep,omitempty"`
	}
	out := stats{Snapshot: s.gov.Snapshot()}
	if s.sweeper != nil {
		if last := s.sweeper.Last(); !last.At.IsZero() {
			out.LastSweep = &last
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if s.sweeper == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "unavailable", "sweeper not configured")
		return
	}
	rep := s.sweeper.SweepOnce()
	s.logger.Info("manual sweep", zap.Int("removed", rep.Total))
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.gov.Status(chi.URLParam(r, "identity")))
}

func (s *Server) handlePardon(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	s.gov.Pardon(identity)
	s.logger.Info("identity pardoned", zap.String("identity", identity))
	w.WriteHeader(http.StatusNoContent)
}
