package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"
)

// =============================================================================
// DETERMINISTIC HASH EMBEDDING ENGINE
// =============================================================================

// defaultHashDimensions is the fallback vector width.
const defaultHashDimensions = 256

// HashEngine produces deterministic pseudo-embeddings from token hashes.
// It needs no model server and always returns the same vector for the same
// text, which makes it the offline fallback and the test backend. The
// vectors capture token overlap, not meaning; scores are only comparable
// against other hash vectors.
type HashEngine struct {
	dims int
}

// NewHashEngine creates a hash embedding engine with the given width.
func NewHashEngine(dims int) (*HashEngine, error) {
	if dims <= 0 {
		dims = defaultHashDimensions
	}
	return &HashEngine{dims: dims}, nil
}

// Embed generates a deterministic unit-norm vector for the text.
func (e *HashEngine) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)

	tokens := tokenize(text)
	for i, tok := range tokens {
		e.accumulate(vec, tok, 1.0)
		// Bigrams carry adjacency so word order shifts the vector a little
		if i+1 < len(tokens) {
			e.accumulate(vec, tok+" "+tokens[i+1], 0.5)
		}
	}

	Normalize(vec)
	return vec, nil
}

// accumulate folds one token into the vector at a hashed bucket.
func (e *HashEngine) accumulate(vec []float32, token string, weight float32) {
	h := fnv.New64a()
	h.Write([]byte(token))
	sum := h.Sum64()

	idx := int(sum % uint64(e.dims))
	sign := float32(1)
	if sum&(1<<63) != 0 {
		sign = -1
	}
	vec[idx] += sign * weight
}

// EmbedBatch generates embeddings for multiple texts.
func (e *HashEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = vec
	}
	return embeddings, nil
}

// Dimensions returns the configured vector width.
func (e *HashEngine) Dimensions() int {
	return e.dims
}

// Name returns the engine name.
func (e *HashEngine) Name() string {
	return fmt.Sprintf("hash:fnv64:%d", e.dims)
}

// tokenize lowercases and splits on anything that is not a letter or digit.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
