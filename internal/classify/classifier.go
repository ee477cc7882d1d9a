// Package classify labels sentence segments as vulnerability statements,
// recommendations, or neutral text using cue-word lexicons.
package classify

import (
	"strings"
)

// Label is the classification assigned to a segment.
type Label string

const (
	// LabelVulnerability marks a statement describing an absence or
	// deficiency.
	LabelVulnerability Label = "vulnerability"

	// LabelRecommendation marks an actionable option for consideration.
	LabelRecommendation Label = "recommendation"

	// LabelNeutral marks everything else.
	LabelNeutral Label = "neutral"
)

const (
	modalBonus   = 1.2
	bulletBonus  = 0.6
	policyWeight = 0.3

	// shortBulletWords is the word cap under which a bulleted segment with
	// any recommendation signal is labeled a recommendation outright.
	shortBulletWords = 25
)

// Features is the score breakdown behind a classification.
type Features struct {
	RecHits    int     `json:"rec_hits"`
	VulnHits   int     `json:"vuln_hits"`
	PolicyHits int     `json:"policy_hits"`
	HasModal   bool    `json:"has_modal"`
	Bulleted   bool    `json:"bulleted"`
	RecScore   float64 `json:"rec_score"`
	VulnScore  float64 `json:"vuln_score"`
}

// Classifier scores segments against its cue lexicons. It is stateless and
// safe for concurrent use.
type Classifier struct {
	lex Lexicons
}

// NewClassifier creates a Classifier. Empty lexicon lists fall back to the
// built-in defaults.
func NewClassifier(lex Lexicons) *Classifier {
	def := DefaultLexicons()
	if len(lex.Recommendation) == 0 {
		lex.Recommendation = def.Recommendation
	}
	if len(lex.Vulnerability) == 0 {
		lex.Vulnerability = def.Vulnerability
	}
	if len(lex.Policy) == 0 {
		lex.Policy = def.Policy
	}
	if len(lex.Modals) == 0 {
		lex.Modals = def.Modals
	}
	return &Classifier{lex: lex}
}

// Classify labels one segment. It is a pure function of the segment text and
// bullet flag.
//
// The decision order deliberately favors recommendation detection for short
// actionable bullets: a bulleted segment of 25 words or fewer with any
// recommendation signal wins before the score comparison runs.
func (c *Classifier) Classify(text string, bulleted bool) (Label, Features) {
	lower := strings.ToLower(text)

	f := Features{
		RecHits:    countHits(lower, c.lex.Recommendation),
		VulnHits:   countHits(lower, c.lex.Vulnerability),
		PolicyHits: countHits(lower, c.lex.Policy),
		HasModal:   countHits(lower, c.lex.Modals) > 0,
		Bulleted:   bulleted,
	}

	f.RecScore = float64(f.RecHits)
	if f.HasModal {
		f.RecScore += modalBonus
	}
	if f.Bulleted {
		f.RecScore += bulletBonus
	}
	f.VulnScore = float64(f.VulnHits) + policyWeight*float64(f.PolicyHits)

	switch {
	case bulleted && wordCount(text) <= shortBulletWords && f.RecScore >= 1:
		return LabelRecommendation, f
	case f.RecScore > f.VulnScore && f.RecScore >= 1:
		return LabelRecommendation, f
	case f.VulnScore >= 1:
		return LabelVulnerability, f
	default:
		return LabelNeutral, f
	}
}

// countHits counts lexicon entries present in the lowercased text as
// substring matches.
func countHits(lower string, cues []string) int {
	hits := 0
	for _, cue := range cues {
		if strings.Contains(lower, cue) {
			hits++
		}
	}
	return hits
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
