// Package pairing associates vulnerability segments with nearby
// recommendation segments and collapses near-duplicate results. It is the
// heart of the extraction pipeline: classified segments go in, candidate
// vulnerability/options entries come out.
package pairing

import (
	"context"
	"sort"
	"strings"

	"github.com/halcyonsec/ofckb/internal/classify"
	"github.com/halcyonsec/ofckb/internal/similarity"
	"github.com/halcyonsec/ofckb/internal/textproc"
)

// Segment is a classified segment, the unit the engine iterates over.
type Segment struct {
	textproc.Segment
	Label    classify.Label
	Features classify.Features
}

// CandidateEntry is one extracted vulnerability with its associated options
// for consideration. Options preserve insertion order and carry no
// duplicates; an entry always has at least one option.
type CandidateEntry struct {
	Topic         string   `json:"topic"`
	Category      string   `json:"category"`
	Vulnerability string   `json:"vulnerability"`
	Options       []string `json:"options_for_consideration"`
	Confidence    float64  `json:"confidence"`
	SectionPath   []string `json:"section_path"`
}

// Config controls the pairing engine.
type Config struct {
	// MaxLookahead bounds the window of following segments examined for
	// each vulnerability.
	MaxLookahead int

	// MinConfidence is the attachment threshold for the blended pair
	// confidence.
	MinConfidence float64

	// LooseJaccard is the floor for the recall-boosting fallback rule:
	// a recommendation with at least this much lexical overlap and any
	// recommendation signal attaches even when the blended confidence
	// falls short. The right value is a calibration question; treat it
	// as tunable.
	LooseJaccard float64

	// CategoryHints is the fixed list of category labels headers are
	// matched against.
	CategoryHints []string
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.MaxLookahead == 0 {
		c.MaxLookahead = 7
	}
	if c.MinConfidence == 0 {
		c.MinConfidence = 0.5
	}
	if c.LooseJaccard == 0 {
		c.LooseJaccard = 0.12
	}
	if len(c.CategoryHints) == 0 {
		c.CategoryHints = DefaultCategoryHints()
	}
}

// DefaultCategoryHints returns the built-in category labels.
func DefaultCategoryHints() []string {
	return []string{
		"Access Control",
		"Physical Security",
		"Emergency Planning",
		"Surveillance and Monitoring",
		"Communications",
		"Training and Drills",
		"Cybersecurity",
		"Visitor Management",
		"Perimeter Security",
		"Policies and Procedures",
	}
}

// Engine performs greedy single-pass pairing. A recommendation is claimed by
// at most one vulnerability: the first open window that reaches it. This is
// an accepted approximation, not a global optimum.
type Engine struct {
	config Config
	scorer similarity.Scorer
}

// NewEngine creates a pairing Engine. A nil scorer falls back to pure
// lexical scoring.
func NewEngine(config Config, scorer similarity.Scorer) *Engine {
	config.ApplyDefaults()
	if scorer == nil {
		scorer = similarity.LexicalScorer{}
	}
	return &Engine{config: config, scorer: scorer}
}

// Pair walks the ordered segment sequence and emits candidate entries.
// Vulnerability segments with no attached recommendation are discarded.
func (e *Engine) Pair(ctx context.Context, segments []Segment) []CandidateEntry {
	var entries []CandidateEntry
	claimed := make(map[int]bool, len(segments))

	for i, seg := range segments {
		if seg.Label != classify.LabelVulnerability {
			continue
		}

		var (
			options []string
			confs   []float64
		)

		seen := 0
		for j := i + 1; j < len(segments) && seen < e.config.MaxLookahead; j++ {
			// Leaving the section closes the window.
			if !sectionsEqual(seg.Section, segments[j].Section) {
				break
			}
			seen++

			cand := segments[j]
			if cand.Label != classify.LabelRecommendation || claimed[j] {
				continue
			}

			conf, jac := e.pairConfidence(ctx, seg, cand)
			loose := jac >= e.config.LooseJaccard && cand.Features.RecScore >= 1
			if conf < e.config.MinConfidence && !loose {
				continue
			}

			claimed[j] = true
			options = appendOption(options, cand.Text)
			confs = append(confs, conf)
		}

		if len(options) == 0 {
			continue
		}

		entries = append(entries, CandidateEntry{
			Topic:         topicFor(seg),
			Category:      e.categoryFor(seg.Section),
			Vulnerability: seg.Text,
			Options:       options,
			Confidence:    clamp01(mean(confs) + 0.05),
			SectionPath:   seg.Section,
		})
	}

	return entries
}

// pairConfidence scores one vulnerability/recommendation pair. The returned
// jaccard is the raw lexical overlap used by the loose fallback rule.
func (e *Engine) pairConfidence(ctx context.Context, vuln, rec Segment) (conf, jac float64) {
	jac = similarity.Jaccard(vuln.Text, rec.Text)
	sim := e.scorer.Score(ctx, vuln.Text, rec.Text)

	conf = 0.3*rec.Features.RecScore + 0.7*sim
	if rec.Bulleted {
		conf += 0.1
	}
	return clamp01(conf), jac
}

// categoryFor matches the section path against the category hints and
// returns the best lexical match, falling back to "General".
func (e *Engine) categoryFor(section []string) string {
	header := strings.Join(section, " ")
	best, bestScore := "General", 0.0
	for _, hint := range e.config.CategoryHints {
		if score := similarity.Jaccard(header, hint); score > bestScore {
			best, bestScore = hint, score
		}
	}
	return best
}

// topicFor builds a topic label from the innermost header plus up to three
// of the longest distinctive tokens of the vulnerability text.
func topicFor(seg Segment) string {
	header := ""
	if len(seg.Section) > 0 {
		header = seg.Section[len(seg.Section)-1]
	}

	headerTokens := similarity.TokenSet(header)
	var distinct []string
	seen := make(map[string]bool)
	for _, tok := range similarity.Tokenize(seg.Text) {
		if seen[tok] {
			continue
		}
		if _, inHeader := headerTokens[tok]; inHeader {
			continue
		}
		seen[tok] = true
		distinct = append(distinct, tok)
	}

	// Longest tokens first; ties keep text order for determinism.
	sort.SliceStable(distinct, func(a, b int) bool {
		return len(distinct[a]) > len(distinct[b])
	})
	if len(distinct) > 3 {
		distinct = distinct[:3]
	}

	if header == "" {
		return strings.Join(distinct, " ")
	}
	if len(distinct) == 0 {
		return header
	}
	return header + ": " + strings.Join(distinct, " ")
}

func appendOption(options []string, opt string) []string {
	for _, existing := range options {
		if existing == opt {
			return options
		}
	}
	return append(options, opt)
}

func sectionsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
