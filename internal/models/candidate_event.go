package models

import "time"

const (
	OriginScan    = "scan"
	OriginWebhook = "webhook"
)

// CandidateEvent is a normalized proposal for a new source. It is transient:
// adapters produce it, the scorer and admission controller consume it, and
// only the resulting DiscoveryEvent / CollectionJob rows are persisted.
type CandidateEvent struct {
	SourceURL  string
	Origin     string
	Metadata   CandidateMetadata
	ObservedAt time.Time
	PatternID  *uint64
}

type CandidateMetadata struct {
	Language    string   `json:"language"`
	Stars       int      `json:"stars"`
	AgeDays     int      `json:"age_days"`
	Description string   `json:"description"`
	Topics      []string `json:"topics"`
}
