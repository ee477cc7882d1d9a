package linking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/halcyonsec/ofckb/internal/feedback"
	"github.com/halcyonsec/ofckb/internal/knowledge"
)

var tracer = otel.Tracer("ofckb.linking")

// EntryStore is the knowledge-store surface the engine needs.
type EntryStore interface {
	Store(ctx context.Context, entry knowledge.StoredEntry) (string, error)
	AppendOptions(ctx context.Context, id string, options []string) (knowledge.StoredEntry, error)
	BestMatch(ctx context.Context, text string) (*knowledge.Match, error)
	CacheSimilarity(idA, idB string, score float64)
}

// Thresholds supplies the live threshold configuration. Every decision
// reads the configuration fresh; a concurrent update affects later
// decisions only.
type Thresholds interface {
	Current() feedback.ThresholdConfig
}

// Engine evaluates candidates against the knowledge store and routes them
// to auto-merge, the review queue, or creation as new entries.
type Engine struct {
	store      EntryStore
	ledger     *Ledger
	thresholds Thresholds
	logger     *zap.Logger
	decisions  metric.Int64Counter

	// targetLocks serializes merges per target entry so two candidates
	// matching the same entry cannot interleave their read-then-write.
	mu          sync.Mutex
	targetLocks map[string]*sync.Mutex
}

// NewEngine creates a linking engine.
func NewEngine(store EntryStore, ledger *Ledger, thresholds Thresholds, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	counter, _ := otel.Meter("github.com/halcyonsec/ofckb/internal/linking").Int64Counter(
		"ofckb.linking.decisions_total",
		metric.WithDescription("Link decisions by band"),
		metric.WithUnit("{decision}"),
	)
	return &Engine{
		store:       store,
		ledger:      ledger,
		thresholds:  thresholds,
		logger:      logger,
		decisions:   counter,
		targetLocks: make(map[string]*sync.Mutex),
	}
}

// Evaluate decides one candidate's fate and applies it. Auto and reject
// decisions take effect immediately; review decisions only record the pair
// and wait for Approve or Reject.
func (e *Engine) Evaluate(ctx context.Context, cand Candidate) (Decision, error) {
	ctx, span := tracer.Start(ctx, "linking.Evaluate")
	defer span.End()

	if cand.ID == "" {
		cand.ID = uuid.NewString()
	}

	match, err := e.store.BestMatch(ctx, cand.Entry.Vulnerability)
	if err != nil {
		return Decision{}, fmt.Errorf("querying best match: %w", err)
	}

	cfg := e.thresholds.Current()
	decision := Decision{
		ID:          uuid.NewString(),
		CandidateID: cand.ID,
		DecidedAt:   time.Now().UTC(),
	}

	switch {
	case match != nil && match.Score >= cfg.AutoLink:
		decision.Band, decision.Status = BandAuto, StatusApplied
		decision.BestMatchID = match.Entry.ID
		decision.Score = match.Score

		if err := e.mergeInto(ctx, match.Entry.ID, cand); err != nil {
			return Decision{}, err
		}
		decision.EntryID = match.Entry.ID
		e.store.CacheSimilarity(cand.ID, match.Entry.ID, match.Score)

	case match != nil && match.Score >= cfg.Review:
		decision.Band, decision.Status = BandReview, StatusPending
		decision.BestMatchID = match.Entry.ID
		decision.Score = match.Score
		e.store.CacheSimilarity(cand.ID, match.Entry.ID, match.Score)

	default:
		decision.Band, decision.Status = BandReject, StatusApplied
		if match != nil {
			decision.BestMatchID = match.Entry.ID
			decision.Score = match.Score
		}

		id, err := e.store.Store(ctx, toStoredEntry(cand))
		if err != nil {
			return Decision{}, fmt.Errorf("storing new entry: %w", err)
		}
		decision.EntryID = id
	}

	if err := e.ledger.RecordDecision(ctx, decision, cand); err != nil {
		return Decision{}, err
	}

	span.SetAttributes(
		attribute.String("band", string(decision.Band)),
		attribute.Float64("score", decision.Score),
	)
	if e.decisions != nil {
		e.decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("band", string(decision.Band))))
	}
	e.logger.Debug("link decision",
		zap.String("candidate_id", cand.ID),
		zap.String("band", string(decision.Band)),
		zap.Float64("score", decision.Score),
	)

	return decision, nil
}

// EvaluateAll runs Evaluate over a batch, isolating per-candidate failures.
func (e *Engine) EvaluateAll(ctx context.Context, cands []Candidate) ([]Decision, error) {
	decisions := make([]Decision, 0, len(cands))
	for _, cand := range cands {
		if ctx.Err() != nil {
			return decisions, ctx.Err()
		}
		d, err := e.Evaluate(ctx, cand)
		if err != nil {
			e.logger.Warn("candidate evaluation failed",
				zap.String("candidate_id", cand.ID),
				zap.Error(err),
			)
			continue
		}
		decisions = append(decisions, d)
	}
	return decisions, nil
}

// PendingReview exposes the review queue.
func (e *Engine) PendingReview(ctx context.Context) ([]ReviewItem, error) {
	return e.ledger.PendingReview(ctx)
}

// Approve merges a queued candidate into its matched entry. Approving an
// already-resolved decision is a no-op and returns the decision unchanged.
func (e *Engine) Approve(ctx context.Context, decisionID string) (Decision, error) {
	ctx, span := tracer.Start(ctx, "linking.Approve")
	defer span.End()

	d, cand, err := e.ledger.GetDecision(ctx, decisionID)
	if err != nil {
		return Decision{}, err
	}
	if d.Status != StatusPending {
		return d, nil
	}

	// Winning the status transition gates the merge, so concurrent
	// approvals apply it exactly once.
	won, err := e.ledger.Resolve(ctx, decisionID, StatusApproved, d.BestMatchID)
	if err != nil {
		return Decision{}, err
	}
	if !won {
		d, _, err = e.ledger.GetDecision(ctx, decisionID)
		return d, err
	}

	if err := e.mergeInto(ctx, d.BestMatchID, cand); err != nil {
		// The merge never landed; reopen the decision so a retry can
		// apply it instead of hitting the resolved no-op.
		if rerr := e.ledger.Reopen(ctx, decisionID, StatusApproved); rerr != nil {
			e.logger.Error("failed to reopen decision after merge failure",
				zap.String("decision_id", decisionID),
				zap.Error(rerr),
			)
		}
		return Decision{}, err
	}

	d.Status = StatusApproved
	d.EntryID = d.BestMatchID
	e.logger.Info("review approved",
		zap.String("decision_id", decisionID),
		zap.String("entry_id", d.BestMatchID),
	)
	return d, nil
}

// Reject stores a queued candidate as an independent new entry. Rejecting
// an already-resolved decision is a no-op.
func (e *Engine) Reject(ctx context.Context, decisionID string) (Decision, error) {
	ctx, span := tracer.Start(ctx, "linking.Reject")
	defer span.End()

	d, cand, err := e.ledger.GetDecision(ctx, decisionID)
	if err != nil {
		return Decision{}, err
	}
	if d.Status != StatusPending {
		return d, nil
	}

	won, err := e.ledger.Resolve(ctx, decisionID, StatusRejected, "")
	if err != nil {
		return Decision{}, err
	}
	if !won {
		d, _, err = e.ledger.GetDecision(ctx, decisionID)
		return d, err
	}

	id, err := e.store.Store(ctx, toStoredEntry(cand))
	if err != nil {
		// Nothing was stored; reopen so a retry does not silently drop
		// the candidate.
		if rerr := e.ledger.Reopen(ctx, decisionID, StatusRejected); rerr != nil {
			e.logger.Error("failed to reopen decision after store failure",
				zap.String("decision_id", decisionID),
				zap.Error(rerr),
			)
		}
		return Decision{}, fmt.Errorf("storing rejected candidate: %w", err)
	}
	if err := e.ledger.SetEntry(ctx, decisionID, id); err != nil {
		return Decision{}, err
	}

	d.Status = StatusRejected
	d.EntryID = id
	e.logger.Info("review rejected, candidate stored as new",
		zap.String("decision_id", decisionID),
		zap.String("entry_id", id),
	)
	return d, nil
}

// mergeInto unions the candidate's options into the target entry under the
// target's lock.
func (e *Engine) mergeInto(ctx context.Context, targetID string, cand Candidate) error {
	lock := e.lockFor(targetID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := e.store.AppendOptions(ctx, targetID, cand.Entry.Options); err != nil {
		return fmt.Errorf("merging into %s: %w", targetID, err)
	}
	return nil
}

func (e *Engine) lockFor(targetID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	if lock, ok := e.targetLocks[targetID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	e.targetLocks[targetID] = lock
	return lock
}

// toStoredEntry promotes a candidate into its canonical stored form.
func toStoredEntry(cand Candidate) knowledge.StoredEntry {
	return knowledge.StoredEntry{
		Topic:         cand.Entry.Topic,
		Category:      cand.Entry.Category,
		Vulnerability: cand.Entry.Vulnerability,
		Options:       cand.Entry.Options,
		Confidence:    cand.Entry.Confidence,
		SourceID:      cand.SourceID,
		SourceURL:     cand.SourceURL,
	}
}
