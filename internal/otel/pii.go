package otel

import (
	"go.opentelemetry.io/otel/attribute"
)

// Span attribute keys shared by the detection pipeline. Values never carry
// detected text, only counts and labels.
const (
	PIITextRunes    = attribute.Key("pii.text.runes")
	PIIFindingCount = attribute.Key("pii.finding.count")
	PIIActiveCount  = attribute.Key("pii.finding.active")
	PIISkippedRules = attribute.Key("pii.rules.skipped")
	PIIOffloaded    = attribute.Key("pii.offloaded")
	PIIDocumentType = attribute.Key("pii.document.type")
	PIISessionID    = attribute.Key("pii.session.id")
)

// DetectionAttributes returns the attributes recorded on a detection span.
func DetectionAttributes(runes, findings, skipped int, offloaded bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		PIITextRunes.Int(runes),
		PIIFindingCount.Int(findings),
		PIISkippedRules.Int(skipped),
		PIIOffloaded.Bool(offloaded),
	}
}
