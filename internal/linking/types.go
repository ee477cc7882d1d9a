// Package linking decides what happens to each new candidate entry: merge
// it into an existing knowledge entry, queue it for human review, or store
// it as new. Decisions and the review queue persist in a SQLite ledger.
package linking

import (
	"time"

	"github.com/halcyonsec/ofckb/internal/pairing"
)

// Band classifies a decision against the threshold configuration.
type Band string

const (
	// BandAuto merges the candidate into its best match without review.
	BandAuto Band = "auto"

	// BandReview queues the candidate/match pair for a human call.
	BandReview Band = "review"

	// BandReject stores the candidate independently: not linked, new.
	BandReject Band = "reject"
)

// Status tracks a decision's lifecycle. Auto and reject decisions are
// applied immediately and terminal; review decisions resolve through an
// explicit approval or rejection.
type Status string

const (
	StatusApplied  Status = "applied"
	StatusPending  Status = "pending_review"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Candidate is one extracted entry submitted for a linking decision,
// carrying provenance from its source document.
type Candidate struct {
	ID        string                 `json:"candidate_id"`
	Entry     pairing.CandidateEntry `json:"entry"`
	SourceID  string                 `json:"source_id,omitempty"`
	SourceURL string                 `json:"source_url,omitempty"`
}

// Decision is the recorded outcome of evaluating one candidate. A decision
// is superseded, never mutated, if thresholds change and the candidate is
// re-evaluated.
type Decision struct {
	ID          string    `json:"id"`
	CandidateID string    `json:"candidate_id"`
	BestMatchID string    `json:"best_match_id,omitempty"`
	Score       float64   `json:"score"`
	Band        Band      `json:"band"`
	Status      Status    `json:"status"`
	EntryID     string    `json:"entry_id,omitempty"`
	DecidedAt   time.Time `json:"decided_at"`
}

// ReviewItem is one pending pair exposed on the review queue.
type ReviewItem struct {
	DecisionID string  `json:"decision_id"`
	SourceID   string  `json:"source_id"`
	TargetID   string  `json:"target_id"`
	Confidence float64 `json:"confidence"`
	LinkType   string  `json:"link_type"`
	Status     string  `json:"status"`
}

// linkTypeDuplicate is the only link type this engine produces.
const linkTypeDuplicate = "duplicate_of"
