package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/unimatch/match-engine/internal/application/matches"
	"github.com/unimatch/match-engine/internal/domain/matching"
	"github.com/unimatch/match-engine/internal/domain/shared"
	"github.com/unimatch/match-engine/pkg/logger"
)

// MatchService is the part of the match service served over HTTP.
type MatchService interface {
	GetMatches(ctx context.Context, studentID string, mode matching.Mode) ([]matching.MatchResult, error)
	Invalidate(ctx context.Context, studentID string) error
	Precompute(ctx context.Context, studentID string, modes ...matching.Mode) error
	Stats() matches.Stats
}

var _ MatchService = (*matches.Service)(nil)

// MatchesResponse is the body of GET /v1/students/{id}/matches.
type MatchesResponse struct {
	StudentID string                 `json:"student_id"`
	Mode      matching.Mode          `json:"mode"`
	Total     int                    `json:"total"`
	Results   []matching.MatchResult `json:"results"`
}

// ══════════════════════════════════════════════════════════════════════════════
// MATCH HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetMatches serves GET /v1/students/{id}/matches?mode=&limit=.
func (s *Server) handleGetMatches(w http.ResponseWriter, r *http.Request) {
	studentID, ok := studentParam(w, r)
	if !ok {
		return
	}
	mode, err := matching.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_mode", "mode must be one of BALANCED, ACADEMIC, LOCATION, INTEREST")
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
		return
	}

	results, err := s.matches.GetMatches(r.Context(), studentID, mode)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, MatchesResponse{
		StudentID: studentID,
		Mode:      mode,
		Total:     len(results),
		Results:   results[:limit.Apply(len(results))],
	})
}

// handleInvalidate serves POST /v1/students/{id}/matches/invalidate.
func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	studentID, ok := studentParam(w, r)
	if !ok {
		return
	}
	if err := s.matches.Invalidate(r.Context(), studentID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type precomputeRequest struct {
	Modes []string `json:"modes"`
}

// handlePrecompute serves POST /v1/students/{id}/matches/precompute with an
// optional {"modes": [...]} body.
func (s *Server) handlePrecompute(w http.ResponseWriter, r *http.Request) {
	studentID, ok := studentParam(w, r)
	if !ok {
		return
	}

	var req precomputeRequest
	if r.ContentLength != 0 {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_body", err.Error())
			return
		}
	}
	modes := make([]matching.Mode, 0, len(req.Modes))
	for _, name := range req.Modes {
		m, err := matching.ParseMode(name)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_mode", "unknown mode "+strconv.Quote(name))
			return
		}
		modes = append(modes, m)
	}

	if err := s.matches.Precompute(r.Context(), studentID, modes...); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.health.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.matches.Stats())
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func studentParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	sid, err := shared.NewStudentID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_student_id", "student id is empty or malformed")
		return "", false
	}
	return sid.String(), true
}

func parseLimit(raw string) (shared.TopN, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	return shared.NewTopN(n)
}

// writeServiceError maps service errors to status codes.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, shared.ErrProfileNotFound):
		writeError(w, r, http.StatusNotFound, "profile_not_found", "student profile not found")
	case errors.Is(err, shared.ErrInvalidMode):
		writeError(w, r, http.StatusBadRequest, "invalid_mode", err.Error())
	case errors.Is(err, shared.ErrInvalidStudentID):
		writeError(w, r, http.StatusBadRequest, "invalid_student_id", err.Error())
	case errors.Is(err, shared.ErrServiceUnavailable):
		w.Header().Set("Retry-After", "1")
		writeError(w, r, http.StatusServiceUnavailable, "unavailable", "a backing store is unavailable, retry later")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, shared.ErrTimeout):
		writeError(w, r, http.StatusGatewayTimeout, "timeout", "request timed out")
	case errors.Is(err, context.Canceled):
		// client went away; nobody reads the reply
		w.WriteHeader(499)
	default:
		logger.FromContext(r.Context(), s.log).Error("request failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	resp := ErrorResponse{Error: code, Message: message}
	if id, ok := r.Context().Value(contextKeyRequestID).(string); ok {
		resp.RequestID = id
	}
	writeJSON(w, status, resp)
}
