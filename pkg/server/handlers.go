package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-dlp/internal/governance"
	"github.com/polisai/polis-dlp/pkg/domain"
	"github.com/polisai/polis-dlp/pkg/policy"
)

// SanitizeRequest is the body of POST /sanitize.
type SanitizeRequest struct {
	Text     *string        `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// WeightsRequest is the body of POST /config/weights.
type WeightsRequest struct {
	Weights map[string]any `json:"weights"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status        string                             `json:"status"`
	PolicyVersion uint64                             `json:"policy_version,omitempty"`
	Providers     map[string]governance.BreakerStats `json:"providers,omitempty"`
}

func (s *Server) handleSanitize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SanitizeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Text == nil {
		s.writeError(w, r, http.StatusBadRequest, &domain.DomainError{
			Err:     domain.ErrConfigInvalid,
			Code:    domain.CodeInvalidRequest,
			Message: "field 'text' is required",
		})
		return
	}

	result := s.sanitizer.Run(ctx, *req.Text, req.Metadata)
	s.metrics.RecordDecision(string(result.Verdict))

	s.logger.InfoContext(ctx, "sanitize request served",
		"request_id", middleware.GetReqID(ctx),
		"verdict", result.Verdict,
		"entity_count", len(result.Entities))
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.Snapshot()
	if err != nil {
		s.writeError(w, r, http.StatusServiceUnavailable, &domain.DomainError{
			Err:     err,
			Code:    domain.CodeInternal,
			Message: "no policy loaded",
		})
		return
	}
	writeJSON(w, http.StatusOK, snap.Summary())
}

func (s *Server) handleWeights(w http.ResponseWriter, r *http.Request) {
	var req WeightsRequest
	if !s.decode(w, r, &req) {
		return
	}

	weights, err := policy.ParseWeights(req.Weights)
	if err != nil {
		s.metrics.RecordPolicyUpdate("weights", 0, err)
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	snap, err := s.store.UpdateWeights(weights)
	if err != nil {
		s.metrics.RecordPolicyUpdate("weights", 0, err)
		status := http.StatusBadRequest
		if errors.Is(err, policy.ErrNotLoaded) {
			status = http.StatusServiceUnavailable
		}
		s.writeError(w, r, status, err)
		return
	}

	s.metrics.RecordPolicyUpdate("weights", snap.Version, nil)
	writeJSON(w, http.StatusOK, snap.Summary())
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.policyPath == "" {
		s.writeError(w, r, http.StatusConflict, &domain.DomainError{
			Err:     domain.ErrPolicyNotFound,
			Code:    domain.CodeReloadFailed,
			Message: "no policy file configured",
		})
		return
	}

	snap, err := s.store.LoadFile(s.policyPath)
	if err != nil {
		s.metrics.RecordPolicyUpdate("reload", 0, err)
		s.logger.Warn("policy reload rejected, keeping previous snapshot", "path", s.policyPath, "error", err)
		s.writeError(w, r, http.StatusUnprocessableEntity, &domain.DomainError{
			Err:     err,
			Code:    domain.CodeReloadFailed,
			Message: "policy reload failed; previous policy remains active",
			Details: map[string]any{"reason": err.Error()},
		})
		return
	}

	s.metrics.RecordPolicyUpdate("reload", snap.Version, nil)
	writeJSON(w, http.StatusOK, snap.Summary())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{Status: "ok"}
	status := http.StatusOK

	if snap, err := s.store.Snapshot(); err != nil {
		resp.Status = "no_policy"
		status = http.StatusServiceUnavailable
	} else {
		resp.PolicyVersion = snap.Version
	}
	if reporter, ok := s.sanitizer.(BreakerReporter); ok {
		resp.Providers = reporter.Breakers().Stats()
	}

	writeJSON(w, status, resp)
}

// decode reads a size-limited JSON body into dst. It writes the error
// response itself and reports whether decoding succeeded.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		status := http.StatusBadRequest
		message := "request body must be valid JSON"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
			message = "request body too large"
		}
		s.writeError(w, r, status, &domain.DomainError{
			Err:     err,
			Code:    domain.CodeInvalidRequest,
			Message: message,
		})
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	resp := domain.ErrorResponse{Code: domain.CodeInternal, Message: "internal error"}

	var de *domain.DomainError
	if errors.As(err, &de) {
		resp.Code = de.Code
		resp.Message = de.Error()
		resp.Details = de.Details
	}
	if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
		resp.TraceID = sc.TraceID().String()
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
