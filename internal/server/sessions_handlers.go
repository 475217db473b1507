package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dativo-io/veil/internal/evidence"
	"github.com/dativo-io/veil/internal/pii"
	"github.com/dativo-io/veil/internal/redact"
	"github.com/dativo-io/veil/internal/review"
)

type sessionResponse struct {
	*review.Session
	Stats pii.Stats `json:"stats"`
}

func withStats(sess *review.Session) sessionResponse {
	return sessionResponse{Session: sess, Stats: pii.ComputeStats(sess.Findings)}
}

type redactToggle struct {
	Redact *bool `json:"redact"`
}

func (s *Server) handleSessionsList(w http.ResponseWriter, r *http.Request) {
	list, err := s.sessions.List(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list, "count": len(list)})
}

// handleSessionsCreate accepts either JSON {"name","text","rules"} or a
// multipart upload in field "file".
func (s *Server) handleSessionsCreate(w http.ResponseWriter, r *http.Request) {
	var (
		name, text string
		extra      []pii.CustomRule
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
		var err error
		if name, text, err = s.extractUpload(r); err != nil {
			writeDomainError(w, r, err)
			return
		}
	} else {
		var req struct {
			Name  string           `json:"name"`
			Text  string           `json:"text"`
			Rules []pii.CustomRule `json:"rules,omitempty"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		name, text, extra = req.Name, req.Text, req.Rules
	}

	det, err := s.detect(r.Context(), text, extra)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	sess, err := s.sessions.Create(r.Context(), name, text, det.Findings, det.Skipped)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, withStats(sess))
}

func (s *Server) handleSessionsGet(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, withStats(sess))
}

func (s *Server) handleSessionsDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionsToggle(w http.ResponseWriter, r *http.Request) {
	var req redactToggle
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Redact == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "redact is required")
		return
	}
	sess, err := s.sessions.SetRedact(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "finding"), *req.Redact)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, withStats(sess))
}

func (s *Server) handleSessionsToggleAll(w http.ResponseWriter, r *http.Request) {
	var req redactToggle
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Redact == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "redact is required")
		return
	}
	sess, err := s.sessions.SetAll(r.Context(), chi.URLParam(r, "id"), *req.Redact)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, withStats(sess))
}

// handleSessionsRedacted returns the redacted text. ?strict=true refuses
// overlapping active findings instead of merging them.
func (s *Server) handleSessionsRedacted(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if r.URL.Query().Get("strict") == "true" {
		if err := redact.Disjoint(sess.Findings); err != nil {
			writeDomainError(w, r, err)
			return
		}
	}
	redacted := redact.Redact(sess.Text, sess.Findings)
	resp := map[string]any{
		"id":       sess.ID,
		"name":     sess.Name,
		"redacted": redacted,
	}
	if id := s.recordEvidence(r.Context(), evidence.GenerateParams{
		Operation:    evidence.OpSessionRedact,
		Document:     sess.ID,
		Input:        sess.Text,
		Output:       redacted,
		Findings:     sess.Findings,
		SkippedRules: len(sess.Skipped),
	}); id != "" {
		resp["evidence_id"] = id
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSessionsHighlight returns the review markup as JSON, or as a bare
// HTML fragment when the client asks for text/html.
func (s *Server) handleSessionsHighlight(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	markup := redact.Highlight(sess.Text, sess.Findings)
	if strings.Contains(r.Header.Get("Accept"), "text/html") {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(markup))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": sess.ID, "html": markup})
}
