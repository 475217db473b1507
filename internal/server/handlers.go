package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dativo-io/veil/internal/engine"
	"github.com/dativo-io/veil/internal/evidence"
	"github.com/dativo-io/veil/internal/extract"
	"github.com/dativo-io/veil/internal/pii"
	"github.com/dativo-io/veil/internal/redact"
	"github.com/dativo-io/veil/internal/review"
	"github.com/dativo-io/veil/internal/rules"
)

const maxUploadBody = 64 << 20

// textRequest is the body of the detect, redact and highlight endpoints.
// Findings is nil when the client wants the server to detect first.
type textRequest struct {
	Text     string           `json:"text"`
	Rules    []pii.CustomRule `json:"rules,omitempty"`
	Findings *[]pii.Finding   `json:"findings,omitempty"`
	Strict   bool             `json:"strict,omitempty"`
}

type detectResponse struct {
	*engine.Detection
	Stats pii.Stats `json:"stats"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	}
	if r.URL.Query().Get("detail") == "true" {
		components := map[string]string{"detector": "ok"}
		components["rule_store"] = enabled(s.rules != nil)
		components["session_store"] = enabled(s.sessions != nil)
		components["evidence_store"] = enabled(s.evidence != nil)
		components["rate_limit"] = enabled(s.limiter != nil)
		resp["components"] = components
	}
	writeJSON(w, http.StatusOK, resp)
}

func enabled(ok bool) string {
	if ok {
		return "ok"
	}
	return "disabled"
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	det, err := s.detect(r.Context(), req.Text, req.Rules)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detectResponse{Detection: det, Stats: pii.ComputeStats(det.Findings)})
}

func (s *Server) handleRedact(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	findings, ok := s.findingsFor(w, r, req)
	if !ok {
		return
	}
	if req.Strict {
		if err := redact.Disjoint(findings); err != nil {
			writeDomainError(w, r, err)
			return
		}
	}
	redacted := redact.Redact(req.Text, findings)
	resp := map[string]any{
		"redacted": redacted,
		"stats":    pii.ComputeStats(findings),
	}
	if id := s.recordEvidence(r.Context(), evidence.GenerateParams{
		Operation: evidence.OpAPIRedact,
		Input:     req.Text,
		Output:    redacted,
		Findings:  findings,
	}); id != "" {
		resp["evidence_id"] = id
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHighlight(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	findings, ok := s.findingsFor(w, r, req)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"html":     redact.Highlight(req.Text, findings),
		"findings": findings,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Findings []pii.Finding `json:"findings"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, pii.ComputeStats(req.Findings))
}

// handleExtract accepts a multipart upload in field "file". With
// ?detect=true the extracted text is also run through detection.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	name, text, err := s.extractUpload(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	resp := map[string]any{
		"name":  name,
		"text":  text,
		"runes": pii.RuneLen(text),
	}
	if r.URL.Query().Get("detect") == "true" {
		det, err := s.detect(r.Context(), text, nil)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		resp["detection"] = detectResponse{Detection: det, Stats: pii.ComputeStats(det.Findings)}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) extractUpload(r *http.Request) (string, string, error) {
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", "", &badRequest{msg: "multipart field \"file\" is required: " + err.Error()}
	}
	defer file.Close()
	text, err := s.extractor.ExtractReader(r.Context(), header.Filename, file)
	return header.Filename, text, err
}

// detect runs detection with the enabled stored rules followed by the
// request's own rules.
func (s *Server) detect(ctx context.Context, text string, extra []pii.CustomRule) (*engine.Detection, error) {
	var all []pii.CustomRule
	if s.rules != nil {
		stored, err := s.rules.Enabled(ctx)
		if err != nil {
			return nil, err
		}
		all = append(all, stored...)
	}
	all = append(all, extra...)
	return s.detector.Detect(ctx, text, all)
}

// findingsFor returns the client's findings after checking they belong to
// the text, or detects when none were sent.
func (s *Server) findingsFor(w http.ResponseWriter, r *http.Request, req textRequest) ([]pii.Finding, bool) {
	if req.Findings == nil {
		det, err := s.detect(r.Context(), req.Text, req.Rules)
		if err != nil {
			writeDomainError(w, r, err)
			return nil, false
		}
		return det.Findings, true
	}
	if err := pii.Validate(req.Text, *req.Findings); err != nil {
		writeDomainError(w, r, err)
		return nil, false
	}
	return *req.Findings, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return false
	}
	return true
}

type badRequest struct{ msg string }

func (e *badRequest) Error() string { return e.msg }

// writeDomainError maps package errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		bad        *badRequest
		extractErr *extract.Error
		overlapErr *redact.OverlapError
		tooLarge   *http.MaxBytesError
	)
	switch {
	case errors.As(err, &bad):
		writeError(w, http.StatusBadRequest, "invalid_request", bad.msg)
	case errors.As(err, &tooLarge), errors.Is(err, extract.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "too_large", err.Error())
	case errors.Is(err, extract.ErrUnsupported):
		writeError(w, http.StatusUnsupportedMediaType, "unsupported_format", err.Error())
	case errors.As(err, &extractErr):
		writeError(w, http.StatusUnprocessableEntity, "extraction_failed", err.Error())
	case errors.Is(err, pii.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, pii.ErrUnknownCategory):
		writeError(w, http.StatusBadRequest, "invalid_finding", err.Error())
	case errors.Is(err, pii.ErrStaleFindings):
		writeError(w, http.StatusConflict, "stale_findings", err.Error())
	case errors.As(err, &overlapErr):
		writeError(w, http.StatusUnprocessableEntity, "overlapping_findings", err.Error())
	case errors.Is(err, rules.ErrInvalidRule):
		writeError(w, http.StatusBadRequest, "invalid_rule", err.Error())
	case errors.Is(err, rules.ErrDuplicateRule):
		writeError(w, http.StatusConflict, "duplicate_rule", err.Error())
	case errors.Is(err, rules.ErrRuleNotFound), errors.Is(err, review.ErrSessionNotFound),
		errors.Is(err, pii.ErrFindingNotFound), errors.Is(err, evidence.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusGatewayTimeout, "timeout", err.Error())
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request_failed")
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}
