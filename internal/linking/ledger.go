package linking

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/halcyonsec/ofckb/internal/feedback"
)

// ErrDecisionNotFound indicates an unknown decision id.
var ErrDecisionNotFound = errors.New("decision not found")

// Ledger persists link decisions, the review queue, and the threshold
// configuration in SQLite.
type Ledger struct {
	db *sql.DB
}

// OpenLedger opens (creating if needed) the decision ledger at path.
func OpenLedger(ctx context.Context, path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening ledger db: %w", err)
	}
	// SQLite serializes writes anyway; a single connection avoids
	// SQLITE_BUSY errors under concurrent decision recording.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL: %w", err)
	}

	schema := `
CREATE TABLE IF NOT EXISTS decisions (
	id TEXT PRIMARY KEY,
	candidate_id TEXT NOT NULL,
	best_match_id TEXT NOT NULL DEFAULT '',
	score REAL NOT NULL,
	band TEXT NOT NULL,
	status TEXT NOT NULL,
	entry_id TEXT NOT NULL DEFAULT '',
	candidate TEXT NOT NULL,
	decided_at TEXT NOT NULL,
	resolved_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_decisions_status ON decisions(status);

CREATE TABLE IF NOT EXISTS thresholds (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	auto_link REAL NOT NULL,
	review REAL NOT NULL,
	updated_at TEXT NOT NULL
);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing ledger schema: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Close closes the ledger.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// RecordDecision persists one decision with its candidate snapshot.
func (l *Ledger) RecordDecision(ctx context.Context, d Decision, cand Candidate) error {
	snapshot, err := json.Marshal(cand)
	if err != nil {
		return fmt.Errorf("marshaling candidate: %w", err)
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO decisions (id, candidate_id, best_match_id, score, band, status, entry_id, candidate, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.CandidateID, d.BestMatchID, d.Score, string(d.Band), string(d.Status),
		d.EntryID, string(snapshot), d.DecidedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting decision: %w", err)
	}
	return nil
}

// GetDecision returns one decision and its candidate snapshot.
func (l *Ledger) GetDecision(ctx context.Context, id string) (Decision, Candidate, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, candidate_id, best_match_id, score, band, status, entry_id, candidate, decided_at
		FROM decisions WHERE id = ?`, id)

	var (
		d         Decision
		band      string
		status    string
		snapshot  string
		decidedAt string
	)
	err := row.Scan(&d.ID, &d.CandidateID, &d.BestMatchID, &d.Score, &band, &status, &d.EntryID, &snapshot, &decidedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Decision{}, Candidate{}, ErrDecisionNotFound
		}
		return Decision{}, Candidate{}, fmt.Errorf("scanning decision: %w", err)
	}
	d.Band, d.Status = Band(band), Status(status)
	if t, err := time.Parse(time.RFC3339Nano, decidedAt); err == nil {
		d.DecidedAt = t
	}

	var cand Candidate
	if err := json.Unmarshal([]byte(snapshot), &cand); err != nil {
		return Decision{}, Candidate{}, fmt.Errorf("unmarshaling candidate: %w", err)
	}
	return d, cand, nil
}

// PendingReview lists the review queue, oldest first.
func (l *Ledger) PendingReview(ctx context.Context) ([]ReviewItem, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, candidate_id, best_match_id, score
		FROM decisions WHERE status = ? ORDER BY decided_at`, string(StatusPending))
	if err != nil {
		return nil, fmt.Errorf("querying review queue: %w", err)
	}
	defer rows.Close()

	var items []ReviewItem
	for rows.Next() {
		var item ReviewItem
		if err := rows.Scan(&item.DecisionID, &item.SourceID, &item.TargetID, &item.Confidence); err != nil {
			return nil, fmt.Errorf("scanning review item: %w", err)
		}
		item.LinkType = linkTypeDuplicate
		item.Status = string(StatusPending)
		items = append(items, item)
	}
	return items, rows.Err()
}

// Resolve transitions a pending decision to status and records the entry it
// finally landed in. It reports whether this call performed the transition;
// false means the decision was already resolved (or unknown), making
// repeated approvals a no-op.
func (l *Ledger) Resolve(ctx context.Context, id string, status Status, entryID string) (bool, error) {
	res, err := l.db.ExecContext(ctx, `
		UPDATE decisions SET status = ?, entry_id = ?, resolved_at = ?
		WHERE id = ? AND status = ?`,
		string(status), entryID, time.Now().UTC().Format(time.RFC3339Nano), id, string(StatusPending))
	if err != nil {
		return false, fmt.Errorf("resolving decision: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Reopen reverts a resolution whose side effect failed, returning the
// decision to the review queue so a retry can apply it. The transition is
// conditional on the status the failed resolver set, so a concurrent
// successful resolution is never undone.
func (l *Ledger) Reopen(ctx context.Context, id string, from Status) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE decisions SET status = ?, entry_id = '', resolved_at = NULL
		WHERE id = ? AND status = ?`,
		string(StatusPending), id, string(from))
	if err != nil {
		return fmt.Errorf("reopening decision: %w", err)
	}
	return nil
}

// SetEntry backfills the entry a resolved decision landed in, for
// resolutions where the entry only exists after the status transition.
func (l *Ledger) SetEntry(ctx context.Context, id, entryID string) error {
	if _, err := l.db.ExecContext(ctx, `UPDATE decisions SET entry_id = ? WHERE id = ?`, entryID, id); err != nil {
		return fmt.Errorf("recording decision entry: %w", err)
	}
	return nil
}

// RecentOutcomes returns the most recently resolved review decisions as
// feedback outcomes, newest first.
func (l *Ledger) RecentOutcomes(ctx context.Context, limit int) ([]feedback.Outcome, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT score, status FROM decisions
		WHERE band = ? AND status IN (?, ?)
		ORDER BY resolved_at DESC LIMIT ?`,
		string(BandReview), string(StatusApproved), string(StatusRejected), limit)
	if err != nil {
		return nil, fmt.Errorf("querying outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []feedback.Outcome
	for rows.Next() {
		var (
			score  float64
			status string
		)
		if err := rows.Scan(&score, &status); err != nil {
			return nil, fmt.Errorf("scanning outcome: %w", err)
		}
		outcomes = append(outcomes, feedback.Outcome{
			Score:    score,
			Approved: Status(status) == StatusApproved,
		})
	}
	return outcomes, rows.Err()
}

// SaveThresholds persists the threshold configuration.
func (l *Ledger) SaveThresholds(ctx context.Context, cfg feedback.ThresholdConfig) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO thresholds (id, auto_link, review, updated_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET auto_link = excluded.auto_link, review = excluded.review, updated_at = excluded.updated_at`,
		cfg.AutoLink, cfg.Review, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("saving thresholds: %w", err)
	}
	return nil
}

// LoadThresholds returns the persisted threshold configuration, or ok=false
// when none has been saved yet.
func (l *Ledger) LoadThresholds(ctx context.Context) (feedback.ThresholdConfig, bool, error) {
	var cfg feedback.ThresholdConfig
	err := l.db.QueryRowContext(ctx, `SELECT auto_link, review FROM thresholds WHERE id = 1`).
		Scan(&cfg.AutoLink, &cfg.Review)
	if errors.Is(err, sql.ErrNoRows) {
		return feedback.ThresholdConfig{}, false, nil
	}
	if err != nil {
		return feedback.ThresholdConfig{}, false, fmt.Errorf("loading thresholds: %w", err)
	}
	return cfg, true, nil
}
