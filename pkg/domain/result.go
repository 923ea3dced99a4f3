package domain

import "time"

// SanitizeResult is produced once per pipeline run.
type SanitizeResult struct {
	SanitizedText string         `json:"sanitized_text"`
	Verdict       Verdict        `json:"verdict"`
	RiskScore     float64        `json:"risk_score"`
	Entities      []Entity       `json:"entities"`
	Metadata      map[string]any `json:"metadata"`
}

// AuditRecord is the privacy-preserving summary of one run. It never holds
// entity values, spans or the source text.
type AuditRecord struct {
	Timestamp    time.Time      `json:"timestamp"`
	Verdict      Verdict        `json:"verdict"`
	RiskScore    float64        `json:"risk_score"`
	EntityCount  int            `json:"entity_count"`
	CountsByType map[string]int `json:"counts_by_type"`
}
