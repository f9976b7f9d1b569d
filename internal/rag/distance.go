package rag

import (
	"cmp"
	"math"
	"slices"
)

// CosineDistance returns 1 - cos(a, b) computed in float64. Identical
// directions yield 0 and opposite directions yield 2. When either vector has
// zero magnitude the distance is 1 (no similarity). a and b must have equal
// length; callers validate dimensions before ranking.
func CosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	// A single square root keeps identical vectors exact: dot == na == nb
	// and sqrt(x*x) == x, so the ratio is exactly 1.
	cos := dot / math.Sqrt(na*nb)
	if cos >= 1 {
		return 0
	}
	if cos <= -1 {
		return 2
	}
	return 1 - cos
}

// Candidate is an unranked search hit together with the insertion sequence
// numbers used to break distance ties.
type Candidate struct {
	// Result is the hit as it will be returned to the caller.
	Result SimilarityResult
	// DocSeq is the insertion order of the matched document.
	DocSeq int64
	// RecordSeq is the insertion order of the matched embedding record.
	RecordSeq int64
}

// TopK orders candidates by ascending distance, then by document insertion
// order, then by embedding insertion order, and returns at most k results.
// k <= 0 selects DefaultTopK. The input slice is reordered in place.
func TopK(cands []Candidate, k int) []SimilarityResult {
	if k <= 0 {
		k = DefaultTopK
	}
	slices.SortStableFunc(cands, func(a, b Candidate) int {
		if c := cmp.Compare(a.Result.Distance, b.Result.Distance); c != 0 {
			return c
		}
		if c := cmp.Compare(a.DocSeq, b.DocSeq); c != 0 {
			return c
		}
		return cmp.Compare(a.RecordSeq, b.RecordSeq)
	})
	if len(cands) > k {
		cands = cands[:k]
	}
	out := make([]SimilarityResult, 0, len(cands))
	for _, c := range cands {
		out = append(out, c.Result)
	}
	return out
}
