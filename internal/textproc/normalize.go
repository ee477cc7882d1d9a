// Package textproc turns raw document text into classified-ready segments.
// It normalizes bullet glyphs and whitespace, splits text into sentences,
// and tracks the header/section context each sentence appears under.
package textproc

import (
	"strings"
)

// CanonicalBullet is the single marker all bullet glyph variants collapse to.
const CanonicalBullet = "•"

// bulletGlyphs are the glyph variants recognized as list markers when they
// lead a line. The hyphen and dash family is only treated as a bullet in
// leading position, handled in normalizeLine.
var bulletGlyphs = []string{"●", "•", "▪", "○", "◦", "‣", "·", "∙"}

// leadingDashes are dash-like runes that act as bullets only at line start.
var leadingDashes = []string{"–", "—", "-", "*"}

// Normalize collapses bullet variants, whitespace runs, and line-break noise
// into a canonical form. The output preserves line structure; everything
// downstream (header detection, sentence splitting) operates on these lines.
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}

	// Unify line endings before any per-line work.
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		out = append(out, normalizeLine(line))
	}
	return strings.Join(out, "\n")
}

// normalizeLine canonicalizes one line: bullet glyphs anywhere in the line,
// dash-bullets only in leading position, then whitespace runs.
func normalizeLine(line string) string {
	for _, g := range bulletGlyphs {
		line = strings.ReplaceAll(line, g, CanonicalBullet+" ")
	}

	trimmed := strings.TrimSpace(line)
	for _, d := range leadingDashes {
		if strings.HasPrefix(trimmed, d+" ") {
			trimmed = CanonicalBullet + " " + strings.TrimSpace(strings.TrimPrefix(trimmed, d+" "))
			break
		}
	}

	return strings.Join(strings.Fields(trimmed), " ")
}

// IsBulleted reports whether a normalized line or sentence starts with the
// canonical bullet marker.
func IsBulleted(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), CanonicalBullet)
}

// StripBullet removes a leading canonical bullet marker, if present.
func StripBullet(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, CanonicalBullet)
	return strings.TrimSpace(s)
}
