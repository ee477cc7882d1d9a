// Package similarity provides the lexical and embedding-based scoring
// primitives shared by the pairing engine and the knowledge store.
package similarity

import (
	"context"
	"math"
	"strings"
	"unicode"
)

// Tokenize lowercases text and splits it into alphanumeric tokens. Tokens
// shorter than two runes are dropped.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) >= 2 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// TokenSet returns the distinct tokens of a text.
func TokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range Tokenize(text) {
		set[tok] = struct{}{}
	}
	return set
}

// Jaccard computes token-set Jaccard similarity between two texts:
// intersection size over union size. Two empty texts score zero.
func Jaccard(a, b string) float64 {
	return JaccardSets(TokenSet(a), TokenSet(b))
}

// JaccardSets computes Jaccard similarity over prebuilt token sets.
func JaccardSets(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Cosine computes cosine similarity between two vectors. Mismatched or empty
// vectors score zero.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Embedder generates embedding vectors for text. The zero result ("no
// vector, nil error") is reserved for callers that want hard failures
// surfaced; scorers below treat any failure as "embeddings unavailable".
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Scorer scores the similarity of two texts in [0,1]. Implementations are
// selected at startup so callers never branch on whether an embedding
// backend is installed.
type Scorer interface {
	Score(ctx context.Context, a, b string) float64
}

// LexicalScorer scores with Jaccard only.
type LexicalScorer struct{}

// Score implements Scorer.
func (LexicalScorer) Score(_ context.Context, a, b string) float64 {
	return Jaccard(a, b)
}

// BlendWeights controls the lexical/semantic mix of BlendedScorer.
type BlendWeights struct {
	Jaccard float64
	Cosine  float64
}

// DefaultBlendWeights returns the standard 60/40 lexical/semantic mix.
func DefaultBlendWeights() BlendWeights {
	return BlendWeights{Jaccard: 0.6, Cosine: 0.4}
}

// BlendedScorer combines Jaccard with embedding cosine similarity. When the
// embedder fails or is nil the cosine weight collapses onto Jaccard, so a
// degraded embedding service lowers fidelity rather than breaking scoring.
type BlendedScorer struct {
	embedder Embedder
	weights  BlendWeights
}

// NewBlendedScorer creates a BlendedScorer. A nil embedder yields pure
// Jaccard scoring.
func NewBlendedScorer(embedder Embedder, weights BlendWeights) *BlendedScorer {
	if weights.Jaccard == 0 && weights.Cosine == 0 {
		weights = DefaultBlendWeights()
	}
	return &BlendedScorer{embedder: embedder, weights: weights}
}

// Score implements Scorer.
func (s *BlendedScorer) Score(ctx context.Context, a, b string) float64 {
	jac := Jaccard(a, b)
	if s.embedder == nil {
		return jac
	}

	va, errA := s.embedder.EmbedQuery(ctx, a)
	vb, errB := s.embedder.EmbedQuery(ctx, b)
	if errA != nil || errB != nil || len(va) == 0 || len(vb) == 0 {
		return jac
	}

	return s.weights.Jaccard*jac + s.weights.Cosine*Cosine(va, vb)
}

var (
	_ Scorer = LexicalScorer{}
	_ Scorer = (*BlendedScorer)(nil)
)
