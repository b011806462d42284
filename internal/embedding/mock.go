package embedding

import (
	"context"
	"hash/fnv"
	"math"
)

const mockDimension = 64

// MockClient produces deterministic pseudo-embeddings so tests and local
// runs work without an API key. Similar prefixes map to similar vectors.
type MockClient struct{}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (c *MockClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, mockDimension)
	for i := 0; i < len(text); i++ {
		h := fnv.New32a()
		_, _ = h.Write([]byte{text[i], byte(i % 7)})
		idx := int(h.Sum32()) % mockDimension
		if idx < 0 {
			idx += mockDimension
		}
		vec[idx] += 1
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}
