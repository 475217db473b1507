package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/dativo-io/veil/internal/evidence"
	veilotel "github.com/dativo-io/veil/internal/otel"
	"github.com/dativo-io/veil/internal/requestctx"
)

const (
	defaultEvidenceListLimit   = 50
	defaultEvidenceExportLimit = 1000
)

// recordEvidence stores an evidence record for a redacted output and returns
// its id. Without an evidence store, or when storing fails, it returns "" and
// the response goes out without an evidence id.
func (s *Server) recordEvidence(ctx context.Context, params evidence.GenerateParams) string {
	if s.generator == nil {
		return ""
	}
	if params.Caller == "" {
		params.Caller = requestctx.Caller(ctx)
	}
	if params.Caller == "" {
		params.Caller = "anonymous"
	}
	ev, err := s.generator.Generate(ctx, params)
	if err != nil {
		log.Warn().
			Err(err).
			Str("operation", params.Operation).
			Func(veilotel.LogTraceFields(ctx)).
			Msg("evidence_record_failed")
		return ""
	}
	return ev.ID
}

func (s *Server) handleEvidenceList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, ok := evidenceFilter(w, q.Get("caller"), q.Get("operation"), q.Get("from"), q.Get("to"))
	if !ok {
		return
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	if filter.Limit <= 0 {
		filter.Limit = defaultEvidenceListLimit
	}
	list, err := s.evidence.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"evidence": list, "count": len(list)})
}

func (s *Server) handleEvidenceGet(w http.ResponseWriter, r *http.Request) {
	ev, err := s.evidence.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleEvidenceVerify(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	valid, err := s.evidence.Verify(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "valid": valid})
}

type evidenceExportRequest struct {
	Caller    string `json:"caller"`
	Operation string `json:"operation"`
	From      string `json:"from"`
	To        string `json:"to"`
	Limit     int    `json:"limit"`
	Format    string `json:"format"` // csv | json
}

func (s *Server) handleEvidenceExport(w http.ResponseWriter, r *http.Request) {
	var req evidenceExportRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	format := req.Format
	if format == "" {
		format = "json"
	}
	if format != "csv" && format != "json" {
		writeError(w, http.StatusBadRequest, "invalid_request", "format must be csv or json")
		return
	}
	filter, ok := evidenceFilter(w, req.Caller, req.Operation, req.From, req.To)
	if !ok {
		return
	}
	filter.Limit = req.Limit
	if filter.Limit <= 0 {
		filter.Limit = defaultEvidenceExportLimit
	}

	list, err := s.evidence.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	records := make([]evidence.ExportRecord, len(list))
	for i := range list {
		records[i] = evidence.ToExportRecord(&list[i])
	}

	if format == "csv" {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="evidence.csv"`)
		w.WriteHeader(http.StatusOK)
		if err := evidence.WriteCSV(w, records); err != nil {
			log.Warn().Err(err).Func(veilotel.LogTraceFields(r.Context())).Msg("evidence_export_write_failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records, "count": len(records)})
}

// evidenceFilter builds a list filter. Timestamps must be RFC 3339; a bad
// one is answered with 400 and ok is false.
func evidenceFilter(w http.ResponseWriter, caller, operation, from, to string) (evidence.Filter, bool) {
	f := evidence.Filter{Caller: caller, Operation: operation}
	var err error
	if from != "" {
		if f.From, err = time.Parse(time.RFC3339, from); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "from must be an RFC 3339 timestamp")
			return f, false
		}
	}
	if to != "" {
		if f.To, err = time.Parse(time.RFC3339, to); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "to must be an RFC 3339 timestamp")
			return f, false
		}
	}
	return f, true
}
