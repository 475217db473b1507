package pii

// Stats aggregates a finding list.
type Stats struct {
	Total      int              `json:"total"`
	Active     int              `json:"active"`
	ByCategory map[Category]int `json:"by_category"`
}

// ComputeStats counts findings overall, findings marked for redaction and
// findings per category. Every known category is present in ByCategory,
// zero when absent.
func ComputeStats(findings []Finding) Stats {
	s := Stats{
		Total:      len(findings),
		ByCategory: make(map[Category]int, len(Categories)),
	}
	for _, c := range Categories {
		s.ByCategory[c] = 0
	}
	for _, f := range findings {
		if f.Redact {
			s.Active++
		}
		s.ByCategory[f.Category]++
	}
	return s
}
