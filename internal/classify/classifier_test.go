package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifier_Classify(t *testing.T) {
	c := NewClassifier(Lexicons{})

	tests := []struct {
		name     string
		text     string
		bulleted bool
		want     Label
	}{
		{
			name: "absence phrasing is a vulnerability",
			text: "The facility lacks visitor access control.",
			want: LabelVulnerability,
		},
		{
			name: "does-not-have phrasing is a vulnerability",
			text: "The site does not have a documented evacuation route.",
			want: LabelVulnerability,
		},
		{
			name:     "short actionable bullet is a recommendation",
			text:     "Implement a visitor badge system.",
			bulleted: true,
			want:     LabelRecommendation,
		},
		{
			name: "modal verb tips toward recommendation",
			text: "Staff should verify credentials at the entrance.",
			want: LabelRecommendation,
		},
		{
			name: "plain description is neutral",
			text: "The building was constructed in 1987 and has two floors.",
			want: LabelNeutral,
		},
		{
			name: "policy nouns alone are not enough",
			text: "A written policy covers the cafeteria.",
			want: LabelNeutral,
		},
		{
			name: "policy nouns plus absence cue is a vulnerability",
			text: "There is no formal visitor policy or sign-in procedure.",
			want: LabelVulnerability,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := c.Classify(tt.text, tt.bulleted)
			assert.Equal(t, tt.want, got, "text: %s", tt.text)
		})
	}
}

func TestClassifier_ShortBulletTieBreak(t *testing.T) {
	c := NewClassifier(Lexicons{})

	// Contains both an absence cue ("insufficient") and an action verb
	// ("improve"); as a short bullet the recommendation rule wins first.
	label, f := c.Classify("Improve the insufficient lighting near exits.", true)
	assert.Equal(t, LabelRecommendation, label)
	assert.True(t, f.Bulleted)
	assert.GreaterOrEqual(t, f.RecScore, 1.0)
}

func TestClassifier_FeatureBreakdown(t *testing.T) {
	c := NewClassifier(Lexicons{})

	_, f := c.Classify("The yard should have cameras installed.", false)
	assert.True(t, f.HasModal)
	assert.InDelta(t, float64(f.RecHits)+1.2, f.RecScore, 1e-9)
}

func TestClassifier_Deterministic(t *testing.T) {
	c := NewClassifier(Lexicons{})

	text := "The loading dock is unmonitored and should have camera coverage."
	l1, f1 := c.Classify(text, false)
	l2, f2 := c.Classify(text, false)
	assert.Equal(t, l1, l2)
	assert.Equal(t, f1, f2)
}

func TestClassifier_CustomLexicons(t *testing.T) {
	c := NewClassifier(Lexicons{
		Recommendation: []string{"mitigate"},
		Vulnerability:  []string{"weakness"},
		Policy:         []string{"charter"},
		Modals:         []string{"ought"},
	})

	label, _ := c.Classify("A weakness exists in the perimeter fence.", false)
	assert.Equal(t, LabelVulnerability, label)

	label, _ = c.Classify("The team ought to mitigate this quickly.", false)
	assert.Equal(t, LabelRecommendation, label)
}
