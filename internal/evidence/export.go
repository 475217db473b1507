package evidence

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"
)

// ExportRecord is a flat evidence record for compliance exports
// ('veil audit export', /v1/evidence/export).
type ExportRecord struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Caller       string    `json:"caller"`
	Operation    string    `json:"operation"`
	Document     string    `json:"document"`
	Findings     int       `json:"findings"`
	Redacted     int       `json:"redacted"`
	Ignored      int       `json:"ignored"`
	Categories   []string  `json:"categories,omitempty"`
	SkippedRules int       `json:"skipped_rules"`
	InputHash    string    `json:"input_hash"`
	OutputHash   string    `json:"output_hash"`
	Signature    string    `json:"signature"`
}

// ToExportRecord flattens a full Evidence.
func ToExportRecord(e *Evidence) ExportRecord {
	return ExportRecord{
		ID:           e.ID,
		Timestamp:    e.Timestamp,
		Caller:       e.Caller,
		Operation:    e.Operation,
		Document:     e.Document,
		Findings:     e.Detection.Findings,
		Redacted:     e.Detection.Redacted,
		Ignored:      e.Detection.Ignored,
		Categories:   append([]string(nil), e.Detection.Categories...),
		SkippedRules: e.Detection.SkippedRules,
		InputHash:    e.AuditTrail.InputHash,
		OutputHash:   e.AuditTrail.OutputHash,
		Signature:    e.Signature,
	}
}

// CategoriesCSV returns the categories joined for a single CSV cell.
func (r *ExportRecord) CategoriesCSV() string {
	return strings.Join(r.Categories, ",")
}

var csvHeader = []string{
	"id", "timestamp", "caller", "operation", "document", "findings", "redacted",
	"ignored", "categories", "skipped_rules", "input_hash", "output_hash", "signature",
}

// WriteCSV writes records with a header row.
func WriteCSV(w io.Writer, records []ExportRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for i := range records {
		rec := &records[i]
		if err := cw.Write([]string{
			rec.ID, rec.Timestamp.Format(time.RFC3339), rec.Caller, rec.Operation, rec.Document,
			strconv.Itoa(rec.Findings), strconv.Itoa(rec.Redacted), strconv.Itoa(rec.Ignored),
			rec.CategoriesCSV(), strconv.Itoa(rec.SkippedRules),
			rec.InputHash, rec.OutputHash, rec.Signature,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
