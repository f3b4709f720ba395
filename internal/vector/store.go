// Package vector defines the nearest-neighbour contract the retriever
// depends on.
package vector

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
)

// Match is one nearest-neighbour hit. Distance is a cosine distance in
// [0,2]; smaller is closer.
type Match struct {
	ID       string
	Distance float64
	Text     string
	Metadata map[string]any
}

// Chunk is a passage of the knowledge base with its embedding.
type Chunk struct {
	ID        string
	Embedding []float32
	Text      string
	Metadata  map[string]string
}

// Store answers nearest-neighbour queries. It may return fewer than k
// matches.
type Store interface {
	Query(ctx context.Context, vec []float32, k int) ([]Match, error)
}

// Indexer writes chunks into a store.
type Indexer interface {
	Upsert(ctx context.Context, chunks []Chunk) error
}

var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// MemoryStore is a brute-force cosine store for tests and small local
// knowledge bases.
type MemoryStore struct {
	mu     sync.RWMutex
	chunks map[string]Chunk
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chunks: make(map[string]Chunk)}
}

func (m *MemoryStore) Upsert(_ context.Context, chunks []Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		m.chunks[c.ID] = c
	}
	return nil
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks)
}

func (m *MemoryStore) Query(ctx context.Context, vec []float32, k int) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := make([]Match, 0, len(m.chunks))
	for _, c := range m.chunks {
		if len(c.Embedding) != len(vec) {
			return nil, ErrDimensionMismatch
		}
		meta := make(map[string]any, len(c.Metadata))
		for key, v := range c.Metadata {
			meta[key] = v
		}
		matches = append(matches, Match{
			ID:       c.ID,
			Distance: CosineDistance(vec, c.Embedding),
			Text:     c.Text,
			Metadata: meta,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance == matches[j].Distance {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].Distance < matches[j].Distance
	})
	if k >= 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// CosineDistance is 1 - cosine similarity. Zero vectors are treated as
// maximally distant.
func CosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
