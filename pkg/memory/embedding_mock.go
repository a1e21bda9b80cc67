package memory

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"sync"
)

// MockEmbeddingProvider generates deterministic unit-length embeddings from a
// text hash. It exists for tests and for running without a model backend;
// vectors carry no semantic meaning, but equal texts always map to equal
// vectors, so exact-match retrieval behaves like the real thing.
type MockEmbeddingProvider struct {
	dimension int

	mu        sync.RWMutex
	overrides map[string][]float32
	failWith  error
	calls     int
}

// NewMockEmbeddingProvider creates a mock provider with the given dimension
func NewMockEmbeddingProvider(dimension int) *MockEmbeddingProvider {
	return &MockEmbeddingProvider{
		dimension: dimension,
		overrides: make(map[string][]float32),
	}
}

func (p *MockEmbeddingProvider) Dimension() int {
	return p.dimension
}

// SetVector pins an exact vector for a text, overriding the hash scheme
func (p *MockEmbeddingProvider) SetVector(text string, vec []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.overrides[text] = vec
}

// FailWith makes every subsequent call return err (nil restores normal operation)
func (p *MockEmbeddingProvider) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failWith = err
}

// Calls returns how many provider invocations have happened
func (p *MockEmbeddingProvider) Calls() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.calls
}

func (p *MockEmbeddingProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (p *MockEmbeddingProvider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.calls++
	failWith := p.failWith
	p.mu.Unlock()

	if failWith != nil {
		return nil, failWith
	}
	if p.dimension <= 0 {
		return nil, errors.New("mock provider has no dimension")
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		p.mu.RLock()
		override, ok := p.overrides[text]
		p.mu.RUnlock()
		if ok {
			vectors[i] = override
			continue
		}
		vectors[i] = p.hashVector(text)
	}
	return vectors, nil
}

// hashVector derives a unit vector from an FNV-seeded linear congruential
// sequence so that distinct texts land in distinct directions.
func (p *MockEmbeddingProvider) hashVector(text string) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	state := h.Sum64()

	vec := make([]float32, p.dimension)
	var norm float64
	for i := range vec {
		state = state*6364136223846793005 + 1442695040888963407
		v := float64(int64(state>>11))/float64(1<<52) - 1.0
		vec[i] = float32(v)
		norm += v * v
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	scale := float32(1.0 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
