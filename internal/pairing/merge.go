package pairing

import (
	"github.com/halcyonsec/ofckb/internal/similarity"
)

// mergeJaccard is the vulnerability-text overlap at which two same-category
// entries from one document are considered duplicates.
const mergeJaccard = 0.6

// MergeDuplicates collapses near-duplicate candidate entries produced within
// one document: entries with the same category whose vulnerability texts
// overlap by Jaccard >= 0.6 become one entry with the order-preserving,
// duplicate-free union of their options and the average of their
// confidences. Cross-document deduplication is the linking engine's job,
// not this pass's.
func MergeDuplicates(entries []CandidateEntry) []CandidateEntry {
	if len(entries) < 2 {
		return entries
	}

	type merged struct {
		entry   CandidateEntry
		confSum float64
		count   int
	}

	var out []*merged

	// O(n^2) over one document's entries; counts stay small.
	for _, entry := range entries {
		var target *merged
		for _, m := range out {
			if m.entry.Category != entry.Category {
				continue
			}
			if similarity.Jaccard(m.entry.Vulnerability, entry.Vulnerability) >= mergeJaccard {
				target = m
				break
			}
		}

		if target == nil {
			out = append(out, &merged{
				entry:   entry,
				confSum: entry.Confidence,
				count:   1,
			})
			continue
		}

		for _, opt := range entry.Options {
			target.entry.Options = appendOption(target.entry.Options, opt)
		}
		target.confSum += entry.Confidence
		target.count++
	}

	result := make([]CandidateEntry, 0, len(out))
	for _, m := range out {
		m.entry.Confidence = m.confSum / float64(m.count)
		result = append(result, m.entry)
	}
	return result
}
