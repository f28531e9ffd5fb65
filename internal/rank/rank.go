package rank

import (
	"cmp"
	"slices"
	"strings"

	"radar-engine/internal/domain"
)

// TopN orders by relevance score, newer post first on ties, and keeps at most n.
// n <= 0 keeps everything. The input slice is not reordered.
func TopN(cs []domain.Candidate, n int) []domain.Candidate {
	out := slices.Clone(cs)
	slices.SortStableFunc(out, func(a, b domain.Candidate) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := b.PostedAt().Compare(a.PostedAt()); c != 0 {
			return c
		}
		return strings.Compare(a.Fingerprint, b.Fingerprint)
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
