package linking

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonsec/ofckb/internal/feedback"
	"github.com/halcyonsec/ofckb/internal/knowledge"
	"github.com/halcyonsec/ofckb/internal/pairing"
)

var errTransient = errors.New("backend temporarily unavailable")

// fakeStore is an in-memory EntryStore with scripted match scores.
type fakeStore struct {
	mu      sync.Mutex
	entries map[string]knowledge.StoredEntry
	// bestScore maps query text to a score against bestID.
	bestID    string
	bestScore map[string]float64
	cached    map[string]float64
	// appendFailures and storeFailures make the next N calls fail, to
	// exercise recovery from transient backend errors.
	appendFailures int
	storeFailures  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entries:   make(map[string]knowledge.StoredEntry),
		bestScore: make(map[string]float64),
		cached:    make(map[string]float64),
	}
}

func (f *fakeStore) Store(_ context.Context, entry knowledge.StoredEntry) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.storeFailures > 0 {
		f.storeFailures--
		return "", errTransient
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	f.entries[entry.ID] = entry
	return entry.ID, nil
}

func (f *fakeStore) AppendOptions(_ context.Context, id string, options []string) (knowledge.StoredEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendFailures > 0 {
		f.appendFailures--
		return knowledge.StoredEntry{}, errTransient
	}
	entry, ok := f.entries[id]
	if !ok {
		return knowledge.StoredEntry{}, knowledge.ErrNotFound
	}
	for _, opt := range options {
		dup := false
		for _, existing := range entry.Options {
			if existing == opt {
				dup = true
				break
			}
		}
		if !dup {
			entry.Options = append(entry.Options, opt)
		}
	}
	f.entries[id] = entry
	return entry, nil
}

func (f *fakeStore) BestMatch(_ context.Context, text string) (*knowledge.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	score, ok := f.bestScore[text]
	if !ok {
		return nil, nil
	}
	return &knowledge.Match{Entry: f.entries[f.bestID], Score: score}, nil
}

func (f *fakeStore) CacheSimilarity(a, b string, score float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cached[a+"|"+b] = score
}

func newTestEngine(t *testing.T, store EntryStore) (*Engine, *Ledger) {
	t.Helper()
	ledger, err := OpenLedger(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	controller := feedback.NewController(feedback.ThresholdConfig{AutoLink: 0.9, Review: 0.75}, 0.02)
	return NewEngine(store, ledger, controller, nil), ledger
}

func candidateWith(vuln string, options ...string) Candidate {
	return Candidate{
		Entry: pairing.CandidateEntry{
			Topic:         "Visitor Management: " + vuln[:10],
			Category:      "Visitor Management",
			Vulnerability: vuln,
			Options:       options,
			Confidence:    0.8,
		},
		SourceID: "assessment.txt",
	}
}

func seedTarget(t *testing.T, store *fakeStore) string {
	t.Helper()
	id, err := store.Store(context.Background(), knowledge.StoredEntry{
		Vulnerability: "The facility lacks visitor access control.",
		Options:       []string{"Implement a visitor badge system."},
	})
	require.NoError(t, err)
	store.bestID = id
	return id
}

func TestEngine_AutoLinkMergesOptions(t *testing.T) {
	store := newFakeStore()
	targetID := seedTarget(t, store)
	engine, _ := newTestEngine(t, store)

	cand := candidateWith(
		"Site is missing visitor access controls.",
		"Implement a visitor badge system.", // already present
		"Post a guard at the main entrance.",
	)
	store.bestScore[cand.Entry.Vulnerability] = 0.95

	d, err := engine.Evaluate(context.Background(), cand)
	require.NoError(t, err)

	assert.Equal(t, BandAuto, d.Band)
	assert.Equal(t, StatusApplied, d.Status)
	assert.Equal(t, targetID, d.EntryID)

	// Target grew by exactly the net-new option.
	merged := store.entries[targetID]
	assert.Equal(t, []string{
		"Implement a visitor badge system.",
		"Post a guard at the main entrance.",
	}, merged.Options)
}

func TestEngine_ReviewBandQueuesWithoutStoring(t *testing.T) {
	store := newFakeStore()
	seedTarget(t, store)
	engine, _ := newTestEngine(t, store)

	cand := candidateWith("The visitor desk lacks sign-in controls.", "Add a sign-in sheet.")
	store.bestScore[cand.Entry.Vulnerability] = 0.80

	d, err := engine.Evaluate(context.Background(), cand)
	require.NoError(t, err)
	assert.Equal(t, BandReview, d.Band)
	assert.Equal(t, StatusPending, d.Status)

	// Not merged and not stored as new: only the seeded entry exists.
	assert.Len(t, store.entries, 1)
	for _, entry := range store.entries {
		assert.Len(t, entry.Options, 1)
	}

	queue, err := engine.PendingReview(context.Background())
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, d.ID, queue[0].DecisionID)
	assert.Equal(t, "pending_review", queue[0].Status)
	assert.Equal(t, "duplicate_of", queue[0].LinkType)
}

func TestEngine_NoMatchStoresAsNew(t *testing.T) {
	store := newFakeStore()
	seedTarget(t, store)
	engine, _ := newTestEngine(t, store)

	cand := candidateWith("The roof hatch is unsecured after hours.", "Lock the roof hatch.")
	// No scripted score: BestMatch returns nil.

	d, err := engine.Evaluate(context.Background(), cand)
	require.NoError(t, err)
	assert.Equal(t, BandReject, d.Band)
	require.NotEmpty(t, d.EntryID)

	stored, ok := store.entries[d.EntryID]
	require.True(t, ok)
	assert.Equal(t, cand.Entry.Vulnerability, stored.Vulnerability)

	// Fresh identifier, distinct from the seeded entry.
	assert.NotEqual(t, store.bestID, d.EntryID)
}

func TestEngine_LowScoreStoresAsNew(t *testing.T) {
	store := newFakeStore()
	seedTarget(t, store)
	engine, _ := newTestEngine(t, store)

	cand := candidateWith("The cafeteria fridge is unlabeled.", "Label the fridge shelves.")
	store.bestScore[cand.Entry.Vulnerability] = 0.30

	d, err := engine.Evaluate(context.Background(), cand)
	require.NoError(t, err)
	assert.Equal(t, BandReject, d.Band)
	assert.Len(t, store.entries, 2)
}

func TestEngine_ApproveMergesOnce(t *testing.T) {
	store := newFakeStore()
	targetID := seedTarget(t, store)
	engine, _ := newTestEngine(t, store)

	cand := candidateWith("The visitor desk lacks sign-in controls.", "Add a sign-in sheet.")
	store.bestScore[cand.Entry.Vulnerability] = 0.80

	d, err := engine.Evaluate(context.Background(), cand)
	require.NoError(t, err)

	approved, err := engine.Approve(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, approved.Status)
	assert.Equal(t, targetID, approved.EntryID)
	assert.Contains(t, store.entries[targetID].Options, "Add a sign-in sheet.")

	optionCount := len(store.entries[targetID].Options)

	// Approving again is a no-op: state unchanged, no duplicate merge.
	again, err := engine.Approve(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, again.Status)
	assert.Len(t, store.entries[targetID].Options, optionCount)
}

func TestEngine_ApproveRetriesAfterMergeFailure(t *testing.T) {
	store := newFakeStore()
	targetID := seedTarget(t, store)
	engine, _ := newTestEngine(t, store)

	cand := candidateWith("The visitor desk lacks sign-in controls.", "Add a sign-in sheet.")
	store.bestScore[cand.Entry.Vulnerability] = 0.80

	d, err := engine.Evaluate(context.Background(), cand)
	require.NoError(t, err)

	// First approval hits a transient backend error before the merge lands.
	store.appendFailures = 1
	_, err = engine.Approve(context.Background(), d.ID)
	require.ErrorIs(t, err, errTransient)
	assert.NotContains(t, store.entries[targetID].Options, "Add a sign-in sheet.")

	// The decision went back to the queue rather than resolving terminally.
	queue, err := engine.PendingReview(context.Background())
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, d.ID, queue[0].DecisionID)

	// Retrying once the backend recovers applies the merge.
	approved, err := engine.Approve(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, approved.Status)
	assert.Contains(t, store.entries[targetID].Options, "Add a sign-in sheet.")
}

func TestEngine_RejectStoresAsNew(t *testing.T) {
	store := newFakeStore()
	seedTarget(t, store)
	engine, _ := newTestEngine(t, store)

	cand := candidateWith("The visitor desk lacks sign-in controls.", "Add a sign-in sheet.")
	store.bestScore[cand.Entry.Vulnerability] = 0.80

	d, err := engine.Evaluate(context.Background(), cand)
	require.NoError(t, err)

	rejected, err := engine.Reject(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, rejected.Status)
	require.NotEmpty(t, rejected.EntryID)
	assert.Len(t, store.entries, 2)

	// Rejecting again changes nothing further.
	again, err := engine.Reject(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, again.Status)
	assert.Len(t, store.entries, 2)
}

func TestEngine_RejectRetriesAfterStoreFailure(t *testing.T) {
	store := newFakeStore()
	seedTarget(t, store)
	engine, _ := newTestEngine(t, store)

	cand := candidateWith("The visitor desk lacks sign-in controls.", "Add a sign-in sheet.")
	store.bestScore[cand.Entry.Vulnerability] = 0.80

	d, err := engine.Evaluate(context.Background(), cand)
	require.NoError(t, err)

	store.storeFailures = 1
	_, err = engine.Reject(context.Background(), d.ID)
	require.ErrorIs(t, err, errTransient)
	assert.Len(t, store.entries, 1)

	queue, err := engine.PendingReview(context.Background())
	require.NoError(t, err)
	require.Len(t, queue, 1)

	// The retry stores the candidate as a new entry.
	rejected, err := engine.Reject(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, rejected.Status)
	require.NotEmpty(t, rejected.EntryID)
	assert.Len(t, store.entries, 2)
}

func TestEngine_UnknownDecision(t *testing.T) {
	store := newFakeStore()
	engine, _ := newTestEngine(t, store)

	_, err := engine.Approve(context.Background(), "no-such-decision")
	assert.ErrorIs(t, err, ErrDecisionNotFound)
}

func TestLedger_RecentOutcomes(t *testing.T) {
	store := newFakeStore()
	seedTarget(t, store)
	engine, ledger := newTestEngine(t, store)

	approveCand := candidateWith("The visitor desk lacks sign-in controls.", "Add a sign-in sheet.")
	store.bestScore[approveCand.Entry.Vulnerability] = 0.85
	dA, err := engine.Evaluate(context.Background(), approveCand)
	require.NoError(t, err)
	_, err = engine.Approve(context.Background(), dA.ID)
	require.NoError(t, err)

	rejectCand := candidateWith("The mailroom lacks package screening.", "Screen incoming packages.")
	store.bestScore[rejectCand.Entry.Vulnerability] = 0.78
	dR, err := engine.Evaluate(context.Background(), rejectCand)
	require.NoError(t, err)
	_, err = engine.Reject(context.Background(), dR.ID)
	require.NoError(t, err)

	outcomes, err := ledger.RecentOutcomes(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	approvedSeen, rejectedSeen := false, false
	for _, o := range outcomes {
		if o.Approved {
			approvedSeen = true
			assert.InDelta(t, 0.85, o.Score, 1e-9)
		} else {
			rejectedSeen = true
			assert.InDelta(t, 0.78, o.Score, 1e-9)
		}
	}
	assert.True(t, approvedSeen)
	assert.True(t, rejectedSeen)
}

func TestLedger_Thresholds(t *testing.T) {
	ledger, err := OpenLedger(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer ledger.Close()

	_, ok, err := ledger.LoadThresholds(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	cfg := feedback.ThresholdConfig{AutoLink: 0.88, Review: 0.7}
	require.NoError(t, ledger.SaveThresholds(context.Background(), cfg))

	loaded, ok, err := ledger.LoadThresholds(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cfg, loaded)
}

func TestEngine_ConcurrentAutoLinksSerialize(t *testing.T) {
	store := newFakeStore()
	targetID := seedTarget(t, store)
	engine, _ := newTestEngine(t, store)

	cands := make([]Candidate, 8)
	for i := range cands {
		cands[i] = candidateWith(
			"Site is missing visitor access controls, observation "+string(rune('a'+i))+".",
			"Option from observation "+string(rune('a'+i))+".",
		)
		store.mu.Lock()
		store.bestScore[cands[i].Entry.Vulnerability] = 0.95
		store.mu.Unlock()
	}

	var wg sync.WaitGroup
	for _, cand := range cands {
		wg.Add(1)
		go func(c Candidate) {
			defer wg.Done()
			_, err := engine.Evaluate(context.Background(), c)
			assert.NoError(t, err)
		}(cand)
	}
	wg.Wait()

	// Every merge landed: the seed option plus one per candidate.
	assert.Len(t, store.entries[targetID].Options, 1+len(cands))
}
