// Package knowledge persists canonical vulnerability/options entries and
// answers nearest-neighbor similarity queries over them. Entries live in
// SQLite (authoritative rows with provenance) with a chromem-go vector index
// alongside; when the embedding service is unavailable the store degrades to
// lexical full-scan similarity instead of failing.
package knowledge

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the requested entry does not exist.
	ErrNotFound = errors.New("entry not found")

	// ErrInvalidConfig indicates invalid store configuration.
	ErrInvalidConfig = errors.New("invalid store configuration")
)

// StoredEntry is the canonical, persisted form of a de-duplicated
// vulnerability/options record. The embedding is generated once at store
// time; growing the options list later does not change it.
type StoredEntry struct {
	ID            string    `json:"id"`
	Topic         string    `json:"topic"`
	Category      string    `json:"category"`
	Vulnerability string    `json:"vulnerability"`
	Options       []string  `json:"options_for_consideration"`
	Confidence    float64   `json:"confidence"`
	SourceID      string    `json:"source_id,omitempty"`
	SourceURL     string    `json:"source_url,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Match is one similarity query result.
type Match struct {
	Entry StoredEntry `json:"entry"`
	Score float64     `json:"score"`
}
