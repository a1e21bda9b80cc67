package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arvid/mnemo/internal/observability"
	"github.com/dgraph-io/ristretto"
	"github.com/rs/zerolog"
)

// EmbeddingProvider generates vector embeddings from text. Implementations
// must be deterministic for a fixed model version: same text, same vector.
type EmbeddingProvider interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Model is the process-wide embedding model. It wraps a single shared
// provider instance and a fixed pool of worker goroutines so that CPU-bound
// inference never runs on a request-serving goroutine. Create one Model at
// startup and share it; the provider is never re-instantiated per call.
type Model struct {
	provider EmbeddingProvider
	cache    *ristretto.Cache
	jobs     chan embedJob
	logger   zerolog.Logger

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// ModelConfig holds embedding model configuration
type ModelConfig struct {
	Provider EmbeddingProvider
	// Workers sizes the inference pool (default 2)
	Workers int
	// CacheEntries bounds the content-hash embedding cache (default 4096,
	// 0 keeps the default, negative disables caching)
	CacheEntries int64
	Logger       zerolog.Logger
}

type embedJob struct {
	ctx   context.Context
	texts []string
	reply chan embedReply
}

type embedReply struct {
	vectors [][]float32
	err     error
}

// NewModel creates the shared embedding model and starts its worker pool
func NewModel(cfg ModelConfig) (*Model, error) {
	observability.EnsureRegistered()

	if cfg.Provider == nil {
		return nil, errors.New("embedding provider is required")
	}
	if cfg.Provider.Dimension() <= 0 {
		return nil, fmt.Errorf("embedding provider reports invalid dimension %d", cfg.Provider.Dimension())
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 2
	}

	m := &Model{
		provider: cfg.Provider,
		jobs:     make(chan embedJob),
		logger:   cfg.Logger,
		done:     make(chan struct{}),
	}

	if cfg.CacheEntries >= 0 {
		entries := cfg.CacheEntries
		if entries == 0 {
			entries = 4096
		}
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: entries * 10,
			MaxCost:     entries,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create embedding cache: %w", err)
		}
		m.cache = cache
	}

	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}

	m.logger.Info().
		Int("workers", workers).
		Int("dimension", cfg.Provider.Dimension()).
		Msg("Embedding model initialized")

	return m, nil
}

// Dimension returns the provider's embedding vector length
func (m *Model) Dimension() int {
	return m.provider.Dimension()
}

// EmbedBatch embeds texts on the worker pool and awaits the result. Output
// order matches input order, one vector per input text.
func (m *Model) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	start := time.Now()
	defer func() { observability.RecordEmbedding(time.Since(start)) }()

	out := make([][]float32, len(texts))

	// Resolve cache hits on the caller's goroutine; only misses go to the pool.
	var missTexts []string
	var missIdx []int
	for i, text := range texts {
		if vec, ok := m.cacheGet(text); ok {
			out[i] = vec
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vectors, err := m.dispatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, vec := range vectors {
		out[missIdx[j]] = vec
		m.cacheSet(missTexts[j], vec)
	}

	return out, nil
}

// EmbedOne embeds a single text on the worker pool and awaits the result
func (m *Model) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedOneBlocking embeds inline on the caller's goroutine. Only call this
// from a context that is already off the request-serving path.
func (m *Model) EmbedOneBlocking(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := m.cacheGet(text); ok {
		return vec, nil
	}

	start := time.Now()
	defer func() { observability.RecordEmbedding(time.Since(start)) }()

	vec, err := m.provider.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, wrapEmbeddingErr(err)
	}
	m.cacheSet(text, vec)
	return vec, nil
}

// Close stops the worker pool. In-flight jobs finish; new calls block until
// ctx cancellation.
func (m *Model) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
		m.wg.Wait()
		if m.cache != nil {
			m.cache.Close()
		}
	})
}

func (m *Model) dispatch(ctx context.Context, texts []string) ([][]float32, error) {
	job := embedJob{ctx: ctx, texts: texts, reply: make(chan embedReply, 1)}

	select {
	case m.jobs <- job:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.done:
		return nil, errors.New("embedding model closed")
	}

	select {
	case rep := <-job.reply:
		return rep.vectors, rep.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Model) worker() {
	defer m.wg.Done()
	for {
		select {
		case job := <-m.jobs:
			vectors, err := m.provider.GenerateEmbeddings(job.ctx, job.texts)
			if err != nil {
				job.reply <- embedReply{err: wrapEmbeddingErr(err)}
				continue
			}
			if len(vectors) != len(job.texts) {
				job.reply <- embedReply{err: &EmbeddingError{
					Reason: fmt.Sprintf("provider returned %d vectors for %d texts", len(vectors), len(job.texts)),
				}}
				continue
			}
			job.reply <- embedReply{vectors: vectors}
		case <-m.done:
			return
		}
	}
}

func (m *Model) cacheGet(text string) ([]float32, bool) {
	if m.cache == nil {
		return nil, false
	}
	value, ok := m.cache.Get(contentHash(text))
	if !ok {
		observability.RecordEmbeddingCacheMiss()
		return nil, false
	}
	vec, ok := value.([]float32)
	if !ok {
		return nil, false
	}
	observability.RecordEmbeddingCacheHit()
	return vec, true
}

func (m *Model) cacheSet(text string, vec []float32) {
	if m.cache == nil {
		return
	}
	m.cache.Set(contentHash(text), vec, 1)
}

func wrapEmbeddingErr(err error) error {
	var embErr *EmbeddingError
	if errors.As(err, &embErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &EmbeddingError{Reason: "provider call failed", Err: err}
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
