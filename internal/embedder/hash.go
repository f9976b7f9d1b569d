package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

// HashEmbedder is a deterministic, offline embedder. Each word is padded with
// spaces and split into character trigrams; every trigram is hashed into one
// of dims signed buckets and the resulting vector is L2-normalised. Texts that
// share words or word fragments land close together under cosine distance.
//
// It needs no network and no model download, which makes it suitable for
// air-gapped runs and tests. Quality is far below a learned model.
type HashEmbedder struct {
	// dims is the number of hash buckets.
	dims int
	// tokenPattern extracts words.
	tokenPattern *regexp.Regexp
	// stopwords are skipped before hashing.
	stopwords map[string]struct{}
}

// NewHashEmbedder constructs a HashEmbedder producing vectors of length dims.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = defaultHashDimensions
	}
	return &HashEmbedder{
		dims:         dims,
		tokenPattern: regexp.MustCompile(`[\p{L}\p{N}]+`),
		stopwords:    defaultStopwords(),
	}
}

// Embed converts a batch of texts into their corresponding embeddings.
func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.vector(t)
	}
	return out, nil
}

// vector hashes text into a normalised dims-length vector. Text without any
// word yields the zero vector.
func (e *HashEmbedder) vector(text string) []float32 {
	acc := make([]float64, e.dims)
	for _, word := range e.tokenPattern.FindAllString(strings.ToLower(text), -1) {
		if _, stop := e.stopwords[word]; stop {
			continue
		}
		runes := []rune(" " + word + " ")
		for i := 0; i+3 <= len(runes); i++ {
			h := fnv.New64a()
			_, _ = h.Write([]byte(string(runes[i : i+3])))
			sum := h.Sum64()
			idx := int(sum % uint64(e.dims)) //nolint:gosec // dims is positive
			if sum>>63 == 0 {
				acc[idx]++
			} else {
				acc[idx]--
			}
		}
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	vec := make([]float32, e.dims)
	if norm == 0 {
		return vec
	}
	for i, v := range acc {
		vec[i] = float32(v / norm)
	}
	return vec
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by",
		"with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those",
		"from", "so", "such", "into", "about", "do", "does", "can", "will", "should",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
