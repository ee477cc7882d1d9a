package pairing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonsec/ofckb/internal/classify"
	"github.com/halcyonsec/ofckb/internal/textproc"
)

func classifySegments(t *testing.T, raw []textproc.Segment) []Segment {
	t.Helper()
	c := classify.NewClassifier(classify.Lexicons{})
	out := make([]Segment, 0, len(raw))
	for _, s := range raw {
		label, features := c.Classify(s.Text, s.Bulleted)
		out = append(out, Segment{Segment: s, Label: label, Features: features})
	}
	return out
}

func seg(text string, bulleted bool, section ...string) textproc.Segment {
	return textproc.Segment{Raw: text, Text: text, Section: section, Bulleted: bulleted}
}

func TestEngine_PairsVulnerabilityWithNearbyRecommendations(t *testing.T) {
	segments := classifySegments(t, []textproc.Segment{
		seg("The facility lacks visitor access control.", false, "Visitor Management"),
		seg("Implement a visitor badge system.", true, "Visitor Management"),
		seg("Train front-desk staff on verification.", true, "Visitor Management"),
	})

	engine := NewEngine(Config{}, nil)
	entries := engine.Pair(context.Background(), segments)

	require.Len(t, entries, 1)
	entry := entries[0]
	assert.Contains(t, entry.Vulnerability, "lacks visitor access control")
	assert.Len(t, entry.Options, 2)
	assert.Equal(t, "Visitor Management", entry.Category)
	assert.GreaterOrEqual(t, entry.Confidence, 0.0)
	assert.LessOrEqual(t, entry.Confidence, 1.0)
}

func TestEngine_WindowClosesOnSectionChange(t *testing.T) {
	segments := classifySegments(t, []textproc.Segment{
		seg("The facility lacks visitor access control.", false, "Visitor Management"),
		seg("Install additional perimeter lighting at the gates.", true, "Perimeter Security"),
	})

	engine := NewEngine(Config{}, nil)
	entries := engine.Pair(context.Background(), segments)

	// The only recommendation sits in another section, so the window
	// closes before reaching it and no entry is emitted.
	assert.Empty(t, entries)
}

func TestEngine_RecommendationClaimedOnce(t *testing.T) {
	segments := classifySegments(t, []textproc.Segment{
		seg("The site lacks a formal visitor sign-in procedure.", false, "Visitor Management"),
		seg("The lobby lacks visitor escorts for contractors.", false, "Visitor Management"),
		seg("Establish a visitor sign-in and escort procedure.", true, "Visitor Management"),
	})

	engine := NewEngine(Config{}, nil)
	entries := engine.Pair(context.Background(), segments)

	// Greedy pass: the first vulnerability's window claims the
	// recommendation; the second emits nothing.
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Vulnerability, "sign-in procedure")
}

func TestEngine_LookaheadBound(t *testing.T) {
	raw := []textproc.Segment{
		seg("The warehouse lacks camera coverage at night.", false, "Surveillance"),
	}
	for i := 0; i < 7; i++ {
		raw = append(raw, seg("The inventory is counted quarterly by the owner.", false, "Surveillance"))
	}
	raw = append(raw, seg("Install camera coverage for the warehouse at night.", true, "Surveillance"))

	segments := classifySegments(t, raw)
	engine := NewEngine(Config{MaxLookahead: 7}, nil)
	entries := engine.Pair(context.Background(), segments)

	// The matching recommendation is the 8th following segment, one past
	// the window.
	assert.Empty(t, entries)
}

func TestEngine_LooseFallbackAttaches(t *testing.T) {
	segments := classifySegments(t, []textproc.Segment{
		seg("The facility lacks visitor access control at the entrance.", false, "Visitor Management"),
		seg("Consider visitor access escorts.", true, "Visitor Management"),
	})

	// Unreachable strict threshold forces the loose rule to do the work.
	engine := NewEngine(Config{MinConfidence: 0.99, LooseJaccard: 0.12}, nil)
	entries := engine.Pair(context.Background(), segments)

	require.Len(t, entries, 1)
	assert.Equal(t, []string{"Consider visitor access escorts."}, entries[0].Options)
}

func TestEngine_NoRecommendationsNoEntry(t *testing.T) {
	segments := classifySegments(t, []textproc.Segment{
		seg("The facility lacks visitor access control.", false, "Visitor Management"),
		seg("The building was constructed in 1987 and has two floors.", false, "Visitor Management"),
	})

	engine := NewEngine(Config{}, nil)
	assert.Empty(t, engine.Pair(context.Background(), segments))
}

func TestEngine_CategoryFallsBackToGeneral(t *testing.T) {
	segments := classifySegments(t, []textproc.Segment{
		seg("The kiln room lacks a posted operating placard.", false, "Ceramics Studio"),
		seg("Install a posted operating placard beside the kiln room door.", true, "Ceramics Studio"),
	})

	engine := NewEngine(Config{}, nil)
	entries := engine.Pair(context.Background(), segments)

	require.Len(t, entries, 1)
	assert.Equal(t, "General", entries[0].Category)
}

func TestEngine_TopicIncludesHeaderAndTokens(t *testing.T) {
	segments := classifySegments(t, []textproc.Segment{
		seg("The facility lacks visitor access control.", false, "Visitor Management"),
		seg("Implement a visitor badge system.", true, "Visitor Management"),
	})

	engine := NewEngine(Config{}, nil)
	entries := engine.Pair(context.Background(), segments)

	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Topic, "Visitor Management")
	assert.Contains(t, entries[0].Topic, "facility")
}

func TestEngine_Deterministic(t *testing.T) {
	segments := classifySegments(t, []textproc.Segment{
		seg("The loading dock is unmonitored overnight and on weekends.", false, "Surveillance and Monitoring"),
		seg("Install motion-activated cameras at the loading dock.", true, "Surveillance and Monitoring"),
		seg("Review camera footage retention weekly.", true, "Surveillance and Monitoring"),
	})

	engine := NewEngine(Config{}, nil)
	first := engine.Pair(context.Background(), segments)
	second := engine.Pair(context.Background(), segments)
	assert.Equal(t, first, second)
}

func TestMergeDuplicates(t *testing.T) {
	entries := []CandidateEntry{
		{
			Category:      "Visitor Management",
			Vulnerability: "The facility lacks visitor access control at the entrance",
			Options:       []string{"Implement a visitor badge system."},
			Confidence:    0.8,
		},
		{
			Category:      "Visitor Management",
			Vulnerability: "Facility lacks visitor access control at the main entrance",
			Options:       []string{"Implement a visitor badge system.", "Train front-desk staff."},
			Confidence:    0.6,
		},
		{
			Category:      "Perimeter Security",
			Vulnerability: "The fence line is degraded on the north side",
			Options:       []string{"Repair the north fence line."},
			Confidence:    0.9,
		},
	}

	merged := MergeDuplicates(entries)
	require.Len(t, merged, 2)

	dup := merged[0]
	assert.Equal(t, []string{"Implement a visitor badge system.", "Train front-desk staff."}, dup.Options)
	assert.InDelta(t, 0.7, dup.Confidence, 1e-9)

	assert.Equal(t, "Perimeter Security", merged[1].Category)
}

func TestMergeDuplicates_DifferentCategoriesUntouched(t *testing.T) {
	entries := []CandidateEntry{
		{Category: "Visitor Management", Vulnerability: "The lobby lacks visitor control", Options: []string{"a"}, Confidence: 0.5},
		{Category: "Access Control", Vulnerability: "The lobby lacks visitor control", Options: []string{"b"}, Confidence: 0.5},
	}
	assert.Len(t, MergeDuplicates(entries), 2)
}
