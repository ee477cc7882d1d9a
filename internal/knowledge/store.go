package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/halcyonsec/ofckb/internal/similarity"
)

var tracer = otel.Tracer("ofckb.knowledge")

// Config holds configuration for the knowledge store.
type Config struct {
	// Path is the directory the store persists under.
	Path string

	// Collection is the vector collection name.
	Collection string

	// VectorSize is the expected embedding dimension.
	VectorSize int

	// CacheSize bounds the in-memory similarity cache.
	CacheSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "entries"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
	if c.CacheSize == 0 {
		c.CacheSize = 4096
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("%w: path is required", ErrInvalidConfig)
	}
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	return nil
}

// Store persists entries and serves similarity queries. SQLite is the
// authoritative record; the chromem collection is a derived index. Writes
// are serialized per store so readers see either the prior state or the
// fully written new entry, never an intermediate one.
type Store struct {
	config   Config
	db       *sql.DB
	vectors  *chromem.Collection
	embedder similarity.Embedder
	logger   *zap.Logger

	mu       sync.Mutex // serializes entry writes
	simCache *lru.Cache[string, float64]
}

// Open opens (creating if needed) a knowledge store under cfg.Path. The
// embedder may be nil, in which case the store is lexical-only from the
// start.
func Open(ctx context.Context, cfg Config, embedder similarity.Embedder, logger *zap.Logger) (*Store, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(cfg.Path, "knowledge.db"))
	if err != nil {
		return nil, fmt.Errorf("opening knowledge db: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL: %w", err)
	}
	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	s := &Store{
		config:   cfg,
		db:       db,
		embedder: embedder,
		logger:   logger,
	}

	s.simCache, err = lru.New[string, float64](cfg.CacheSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating similarity cache: %w", err)
	}

	vdb, err := chromem.NewPersistentDB(filepath.Join(cfg.Path, "vectors"), false)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating vector db: %w", err)
	}
	s.vectors, err = vdb.GetOrCreateCollection(cfg.Collection, nil, s.embeddingFunc())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating collection %s: %w", cfg.Collection, err)
	}

	logger.Info("knowledge store opened",
		zap.String("path", cfg.Path),
		zap.String("collection", cfg.Collection),
		zap.Bool("embeddings", embedder != nil),
	)

	return s, nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS entries (
	id TEXT PRIMARY KEY,
	topic TEXT NOT NULL,
	category TEXT NOT NULL,
	vulnerability TEXT NOT NULL,
	options TEXT NOT NULL,
	confidence REAL NOT NULL,
	source_id TEXT NOT NULL DEFAULT '',
	source_url TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	embedded INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS similarity_cache (
	pair_key TEXT PRIMARY KEY,
	score REAL NOT NULL,
	computed_at TEXT NOT NULL
);
`
	_, err := db.ExecContext(ctx, schema)
	return err
}

// embeddingFunc adapts the similarity.Embedder for chromem. Without an
// embedder every call fails, which callers translate into lexical fallback.
func (s *Store) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		if s.embedder == nil {
			return nil, fmt.Errorf("no embedder configured")
		}
		return s.embedder.EmbedQuery(ctx, text)
	}
}

// Store persists a new entry and indexes its embedding. An empty ID gets a
// freshly assigned identifier. Embedding failure is not fatal: the entry is
// persisted unindexed and remains reachable through the lexical fallback.
func (s *Store) Store(ctx context.Context, entry StoredEntry) (string, error) {
	ctx, span := tracer.Start(ctx, "knowledge.Store")
	defer span.End()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	span.SetAttributes(attribute.String("entry_id", entry.ID))

	opts, err := json.Marshal(entry.Options)
	if err != nil {
		return "", fmt.Errorf("marshaling options: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	embedded := s.indexVector(ctx, entry)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entries (id, topic, category, vulnerability, options, confidence, source_id, source_url, created_at, embedded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Topic, entry.Category, entry.Vulnerability, string(opts),
		entry.Confidence, entry.SourceID, entry.SourceURL,
		entry.CreatedAt.Format(time.RFC3339Nano), boolToInt(embedded),
	)
	if err != nil {
		return "", fmt.Errorf("inserting entry: %w", err)
	}

	return entry.ID, nil
}

// indexVector embeds and indexes one entry, reporting success. Failures are
// logged and swallowed: the lexical path still covers the entry.
func (s *Store) indexVector(ctx context.Context, entry StoredEntry) bool {
	if s.embedder == nil {
		return false
	}

	vec, err := s.embedder.EmbedQuery(ctx, entry.Vulnerability)
	if err != nil || len(vec) == 0 {
		s.logger.Warn("embedding unavailable, storing entry unindexed",
			zap.String("entry_id", entry.ID),
			zap.Error(err),
		)
		return false
	}

	doc := chromem.Document{
		ID:        entry.ID,
		Content:   entry.Vulnerability,
		Embedding: vec,
		Metadata:  map[string]string{"category": entry.Category},
	}
	if err := s.vectors.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
		s.logger.Warn("vector indexing failed",
			zap.String("entry_id", entry.ID),
			zap.Error(err),
		)
		return false
	}
	return true
}

// Get returns one entry by id.
func (s *Store) Get(ctx context.Context, id string) (StoredEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, topic, category, vulnerability, options, confidence, source_id, source_url, created_at
		FROM entries WHERE id = ?`, id)
	return scanEntry(row)
}

// AppendOptions unions net-new options into an existing entry, preserving
// order, and returns the updated entry. The embedding is not recomputed.
func (s *Store) AppendOptions(ctx context.Context, id string, options []string) (StoredEntry, error) {
	ctx, span := tracer.Start(ctx, "knowledge.AppendOptions")
	defer span.End()
	span.SetAttributes(attribute.String("entry_id", id))

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.Get(ctx, id)
	if err != nil {
		return StoredEntry{}, err
	}

	changed := false
	for _, opt := range options {
		if !containsString(entry.Options, opt) {
			entry.Options = append(entry.Options, opt)
			changed = true
		}
	}
	if !changed {
		return entry, nil
	}

	opts, err := json.Marshal(entry.Options)
	if err != nil {
		return StoredEntry{}, fmt.Errorf("marshaling options: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE entries SET options = ? WHERE id = ?`, string(opts), id); err != nil {
		return StoredEntry{}, fmt.Errorf("updating entry: %w", err)
	}
	return entry, nil
}

// FindSimilar returns up to k entries scoring at least threshold against the
// query text. The vector index is tried first; if the embedding path is
// unavailable the store falls back to a lexical full scan, which is
// acceptable at the entry counts this system targets.
func (s *Store) FindSimilar(ctx context.Context, text string, k int, threshold float64) ([]Match, error) {
	ctx, span := tracer.Start(ctx, "knowledge.FindSimilar")
	defer span.End()
	span.SetAttributes(attribute.Int("k", k))

	if k <= 0 || strings.TrimSpace(text) == "" {
		return nil, nil
	}

	matches, err := s.vectorSearch(ctx, text, k, threshold)
	if err != nil {
		s.logger.Warn("vector search unavailable, falling back to lexical scan", zap.Error(err))
		return s.lexicalScan(ctx, text, k, threshold, false)
	}

	// Entries persisted while the embedder was down never made it into
	// the index; scan them lexically so duplicates among them still
	// surface.
	extras, err := s.lexicalScan(ctx, text, k, threshold, true)
	if err != nil {
		s.logger.Warn("scan of unindexed entries failed", zap.Error(err))
		return matches, nil
	}
	if len(extras) > 0 {
		matches = append(matches, extras...)
		sort.SliceStable(matches, func(a, b int) bool { return matches[a].Score > matches[b].Score })
		if len(matches) > k {
			matches = matches[:k]
		}
	}
	return matches, nil
}

func (s *Store) vectorSearch(ctx context.Context, text string, k int, threshold float64) ([]Match, error) {
	count := s.vectors.Count()
	if count == 0 {
		// Nothing indexed; let the lexical path decide.
		if total, err := s.countEntries(ctx); err == nil && total > 0 {
			return nil, fmt.Errorf("no indexed vectors for %d entries", total)
		}
		return nil, nil
	}
	if k > count {
		k = count
	}

	results, err := s.vectors.Query(ctx, text, k, nil, nil)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		score := float64(r.Similarity)
		if score < threshold {
			continue
		}
		entry, err := s.Get(ctx, r.ID)
		if err != nil {
			// Index ahead of the table; skip the phantom row.
			continue
		}
		matches = append(matches, Match{Entry: entry, Score: score})
	}
	return matches, nil
}

func (s *Store) lexicalScan(ctx context.Context, text string, k int, threshold float64, onlyUnembedded bool) ([]Match, error) {
	query := `
		SELECT id, topic, category, vulnerability, options, confidence, source_id, source_url, created_at
		FROM entries`
	if onlyUnembedded {
		query += ` WHERE embedded = 0`
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("scanning entries: %w", err)
	}
	defer rows.Close()

	queryTokens := similarity.TokenSet(text)
	var matches []Match
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		score := similarity.JaccardSets(queryTokens, similarity.TokenSet(entry.Vulnerability))
		if score >= threshold && score > 0 {
			matches = append(matches, Match{Entry: entry, Score: score})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(a, b int) bool { return matches[a].Score > matches[b].Score })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// BestMatch returns the single highest-scoring entry for the text, or nil
// when the store has no match at all.
func (s *Store) BestMatch(ctx context.Context, text string) (*Match, error) {
	matches, err := s.FindSimilar(ctx, text, 1, 0)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return &matches[0], nil
}

// CacheSimilarity memoizes a computed pairwise score. It is a write-only
// hook with no correctness requirement: losing an entry just forces
// recomputation.
func (s *Store) CacheSimilarity(idA, idB string, score float64) {
	key := pairKey(idA, idB)
	s.simCache.Add(key, score)

	_, err := s.db.Exec(`
		INSERT INTO similarity_cache (pair_key, score, computed_at) VALUES (?, ?, ?)
		ON CONFLICT(pair_key) DO UPDATE SET score = excluded.score, computed_at = excluded.computed_at`,
		key, score, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		s.logger.Debug("similarity cache write failed", zap.Error(err))
	}
}

// CachedSimilarity returns a previously memoized score, if any.
func (s *Store) CachedSimilarity(idA, idB string) (float64, bool) {
	key := pairKey(idA, idB)
	if score, ok := s.simCache.Get(key); ok {
		return score, true
	}

	var score float64
	err := s.db.QueryRow(`SELECT score FROM similarity_cache WHERE pair_key = ?`, key).Scan(&score)
	if err != nil {
		return 0, false
	}
	s.simCache.Add(key, score)
	return score, true
}

// Count returns the number of stored entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	return s.countEntries(ctx)
}

func (s *Store) countEntries(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&n)
	return n, err
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// pairKey builds the unordered cache key for an id pair.
func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (StoredEntry, error) {
	var (
		entry     StoredEntry
		optsJSON  string
		createdAt string
	)
	err := row.Scan(&entry.ID, &entry.Topic, &entry.Category, &entry.Vulnerability,
		&optsJSON, &entry.Confidence, &entry.SourceID, &entry.SourceURL, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return StoredEntry{}, ErrNotFound
		}
		return StoredEntry{}, fmt.Errorf("scanning entry: %w", err)
	}

	if err := json.Unmarshal([]byte(optsJSON), &entry.Options); err != nil {
		return StoredEntry{}, fmt.Errorf("unmarshaling options: %w", err)
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		entry.CreatedAt = t
	}
	return entry, nil
}

func containsString(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
