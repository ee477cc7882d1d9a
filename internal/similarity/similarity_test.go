package similarity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tokens := Tokenize("The facility lacks visitor access-control!")
	assert.Equal(t, []string{"the", "facility", "lacks", "visitor", "access", "control"}, tokens)
}

func TestJaccard(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "visitor badge system", "visitor badge system", 1.0},
		{"disjoint", "visitor badge system", "perimeter fence lighting", 0.0},
		{"empty left", "", "visitor badge", 0.0},
		{"half overlap", "visitor badge", "visitor fence badge gate", 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Jaccard(tt.a, tt.b), 1e-9)
		})
	}
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, Cosine(nil, []float32{1}))
	assert.Equal(t, 0.0, Cosine([]float32{1, 2}, []float32{1}))
}

type stubEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (s *stubEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.vectors[text], nil
}

func TestBlendedScorer_WithEmbeddings(t *testing.T) {
	emb := &stubEmbedder{vectors: map[string][]float32{
		"alpha": {1, 0},
		"beta":  {1, 0},
	}}
	s := NewBlendedScorer(emb, DefaultBlendWeights())

	// Jaccard("alpha","beta") = 0, cosine = 1 -> 0.6*0 + 0.4*1
	assert.InDelta(t, 0.4, s.Score(context.Background(), "alpha", "beta"), 1e-9)
}

func TestBlendedScorer_DegradesToJaccard(t *testing.T) {
	cases := map[string]*BlendedScorer{
		"nil embedder":  NewBlendedScorer(nil, DefaultBlendWeights()),
		"erroring":      NewBlendedScorer(&stubEmbedder{err: errors.New("down")}, DefaultBlendWeights()),
		"empty vectors": NewBlendedScorer(&stubEmbedder{}, DefaultBlendWeights()),
	}

	for name, s := range cases {
		t.Run(name, func(t *testing.T) {
			got := s.Score(context.Background(), "visitor badge", "visitor badge")
			assert.InDelta(t, 1.0, got, 1e-9)
		})
	}
}
