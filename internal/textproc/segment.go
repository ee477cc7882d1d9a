package textproc

import (
	"strings"
	"unicode"
)

const (
	// maxHeaderDepth bounds the active header stack.
	maxHeaderDepth = 4

	// maxHeaderLen is the longest line still considered a header candidate.
	maxHeaderLen = 120
)

// Segment is one sentence-level unit of normalized text together with the
// header context it appeared under. Segments are immutable once produced.
type Segment struct {
	// Raw is the sentence as it appeared in the normalized line.
	Raw string

	// Text is the sentence with any leading bullet marker stripped.
	Text string

	// Section is the active header stack, most specific header last.
	Section []string

	// Bulleted marks sentences that carried an explicit bullet prefix.
	Bulleted bool
}

// Config controls segmentation.
type Config struct {
	// MinSentenceLen drops sentences shorter than this many characters.
	MinSentenceLen int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.MinSentenceLen == 0 {
		c.MinSentenceLen = 15
	}
}

// Segmenter splits normalized text into segments with section context.
type Segmenter struct {
	config Config
}

// NewSegmenter creates a Segmenter with the given configuration.
func NewSegmenter(config Config) *Segmenter {
	config.ApplyDefaults()
	return &Segmenter{config: config}
}

// Segment normalizes raw text and splits it into ordered segments. Empty or
// unparseable input yields an empty slice and is not an error: downstream
// stages simply produce zero candidates.
func (s *Segmenter) Segment(raw string) []Segment {
	text := Normalize(raw)
	if text == "" {
		return nil
	}

	var (
		segments []Segment
		headers  []string
	)

	for _, line := range strings.Split(text, "\n") {
		if line == "" {
			continue
		}

		if IsHeader(line) {
			headers = pushHeader(headers, strings.TrimSuffix(line, ":"))
			continue
		}

		section := append([]string(nil), headers...)
		for _, sent := range splitSentences(line) {
			if len(sent) < s.config.MinSentenceLen {
				continue
			}
			segments = append(segments, Segment{
				Raw:      sent,
				Text:     StripBullet(sent),
				Section:  section,
				Bulleted: IsBulleted(sent),
			})
		}
	}

	return segments
}

// IsHeader reports whether a normalized line acts as a section header: it
// ends with a colon, or it is short, has no terminal punctuation, and is
// majority upper-case/title-case across its words.
func IsHeader(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" || IsBulleted(line) {
		return false
	}
	if strings.HasSuffix(line, ":") {
		return true
	}
	if len(line) > maxHeaderLen || hasTerminalPunct(line) {
		return false
	}

	words := strings.Fields(line)
	if len(words) == 0 {
		return false
	}
	cased := 0
	for _, w := range words {
		if isTitleOrUpper(w) {
			cased++
		}
	}
	return cased*2 > len(words)
}

// pushHeader applies one header to the active stack. A header shorter than
// the current top replaces it (dedent); otherwise it is pushed as a child or
// sibling, bounded at maxHeaderDepth by replacing the top.
func pushHeader(stack []string, header string) []string {
	if n := len(stack); n > 0 && len(header) < len(stack[n-1]) {
		stack = stack[:n-1]
	}
	if len(stack) >= maxHeaderDepth {
		stack = stack[:maxHeaderDepth-1]
	}
	return append(stack, header)
}

// splitSentences splits one normalized line into sentences. Bullet markers
// act as boundaries in addition to terminal punctuation.
func splitSentences(line string) []string {
	var (
		sentences []string
		cur       strings.Builder
	)

	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			sentences = append(sentences, s)
		}
		cur.Reset()
	}

	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		// A bullet marker inside the line starts a new sentence.
		if string(r) == CanonicalBullet && cur.Len() > 0 {
			flush()
		}

		cur.WriteRune(r)

		if (r == '.' || r == '!' || r == '?') && (i+1 >= len(runes) || runes[i+1] == ' ') {
			// Avoid splitting decimal numbers and common abbreviations
			// like "e.g." by requiring a following space or end of line,
			// and a letter before the period.
			if i+2 < len(runes) && unicode.IsLower(runes[i+2]) && runes[i+1] == ' ' {
				continue
			}
			flush()
		}
	}
	flush()

	return sentences
}

func hasTerminalPunct(line string) bool {
	return strings.HasSuffix(line, ".") || strings.HasSuffix(line, "!") ||
		strings.HasSuffix(line, "?") || strings.HasSuffix(line, ";")
}

func isTitleOrUpper(word string) bool {
	for _, r := range word {
		if unicode.IsLetter(r) {
			return unicode.IsUpper(r)
		}
	}
	return false
}
