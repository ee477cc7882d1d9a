package classify

// Lexicons holds the cue-word lists the classifier scans for. The lists are
// immutable configuration: construct a Classifier with the set you want
// instead of mutating package state, so differently tuned classifiers can
// run side by side.
type Lexicons struct {
	// Recommendation cues: modal/obligation verbs and action verbs that
	// signal an option for consideration.
	Recommendation []string `json:"recommendation"`

	// Vulnerability cues: absence and deficiency phrasing.
	Vulnerability []string `json:"vulnerability"`

	// Policy cues: governance nouns. These only contribute a fractional
	// weight to the vulnerability score.
	Policy []string `json:"policy"`

	// Modals is the subset of recommendation cues that trigger the modal
	// bonus.
	Modals []string `json:"modals"`
}

// DefaultLexicons returns the built-in cue lexicons.
func DefaultLexicons() Lexicons {
	return Lexicons{
		Recommendation: []string{
			"should", "shall", "must", "recommend", "recommended",
			"consider", "implement", "establish", "develop", "install",
			"ensure", "provide", "conduct", "train", "create", "adopt",
			"maintain", "update", "review", "designate", "coordinate",
			"restrict", "improve", "enhance", "upgrade",
		},
		Vulnerability: []string{
			"lacks", "lack of", "does not have", "do not have",
			"no formal", "absence of", "insufficient", "inadequate",
			"missing", "without a", "not in place", "fails to",
			"failure to", "unsecured", "unlocked", "unmonitored",
			"outdated", "expired", "deficien", "gap in", "limited",
			"vulnerab", "at risk", "exposed",
		},
		Policy: []string{
			"policy", "policies", "procedure", "protocol", "plan",
			"training", "drill", "assessment", "documentation",
		},
		Modals: []string{"should", "shall", "must", "recommend"},
	}
}
