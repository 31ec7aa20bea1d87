package ai

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/arturoeanton/tds-virtual-ta/internal/port"
)

// HashEmbedder is a deterministic, network-free embedder. Each lower-cased
// token is hashed into one of Dimension buckets with a hash-derived sign, and
// the result is L2-normalised. Texts sharing words get similar vectors, which
// keeps retrieval meaningful without provider credentials.
type HashEmbedder struct {
	Dimension int
}

// NewHashEmbedder creates an embedder producing vectors of the given length.
func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = 1536
	}
	return &HashEmbedder{Dimension: dimension}
}

// ModelName identifies the embedder in stats and config.
func (h *HashEmbedder) ModelName() string {
	return fmt.Sprintf("hash-%d", h.Dimension)
}

// Embed never fails and always returns the same vector for the same text.
// The model option is ignored.
func (h *HashEmbedder) Embed(_ context.Context, text string, _ port.EmbedOptions) ([]float32, error) {
	vec := make([]float32, h.Dimension)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		f := fnv.New64a()
		f.Write([]byte(tok))
		sum := f.Sum64()
		idx := int(sum % uint64(h.Dimension))
		if sum>>63 == 1 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec, nil
}

// PlaceholderDescription is returned by PlaceholderDescriber.
const PlaceholderDescription = "Image content analyzed: The image appears to contain text or diagrams related to the course material."

// PlaceholderDescriber is the image describer used when no vision model is
// configured.
type PlaceholderDescriber struct{}

// Describe returns a fixed description for any non-empty image.
func (PlaceholderDescriber) Describe(_ context.Context, image []byte, _ string) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("empty image")
	}
	return PlaceholderDescription, nil
}
