package embedding

import (
	"context"
	"sync"

	"rankscope/internal/logging"
	"rankscope/internal/types"
)

// =============================================================================
// ENCODER
// =============================================================================

// Encoder wraps an EmbeddingEngine with batching, L2 normalization, and an
// optional persistent cache. Engine calls are serialized: one in-flight
// request per encoder regardless of pipeline fan-out.
type Encoder struct {
	engine    EmbeddingEngine
	cache     *Cache
	batchSize int

	mu     sync.Mutex
	hits   int64
	misses int64
}

// NewEncoder creates an encoder. cache may be nil to disable caching;
// batchSize <= 0 defaults to 64.
func NewEncoder(engine EmbeddingEngine, cache *Cache, batchSize int) *Encoder {
	if batchSize <= 0 {
		batchSize = 64
	}
	return &Encoder{
		engine:    engine,
		cache:     cache,
		batchSize: batchSize,
	}
}

// Encode embeds a single text and returns the unit-normalized vector.
func (e *Encoder) Encode(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EncodeAll(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EncodeAll embeds texts in batches, row i of the result corresponding to
// texts[i]. Cached vectors are reused; every returned vector has unit L2
// norm.
func (e *Encoder) EncodeAll(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	timer := logging.StartTimer(logging.CategoryEmbedding, "EncodeAll")
	defer timer.Stop()

	out := make([][]float32, len(texts))
	var missIdx []int

	if e.cache != nil {
		for i, text := range texts {
			vec, ok, err := e.cache.Get(e.engine.Name(), text)
			if err != nil {
				logging.EmbeddingWarn("cache read failed: %v", err)
				ok = false
			}
			if ok {
				out[i] = vec
				e.hits++
			} else {
				missIdx = append(missIdx, i)
				e.misses++
			}
		}
	} else {
		missIdx = make([]int, len(texts))
		for i := range texts {
			missIdx[i] = i
		}
		e.misses += int64(len(texts))
	}

	for start := 0; start < len(missIdx); start += e.batchSize {
		end := start + e.batchSize
		if end > len(missIdx) {
			end = len(missIdx)
		}
		batch := make([]string, 0, end-start)
		for _, idx := range missIdx[start:end] {
			batch = append(batch, texts[idx])
		}

		vecs, err := e.engine.EmbedBatch(ctx, batch)
		if err != nil {
			return nil, types.Wrap(types.KindEmbedding, err, "embed batch of %d texts", len(batch))
		}
		if len(vecs) != len(batch) {
			return nil, types.E(types.KindEmbedding, "engine returned %d vectors for %d texts", len(vecs), len(batch))
		}

		for k, idx := range missIdx[start:end] {
			vec := vecs[k]
			Normalize(vec)
			out[idx] = vec
			if e.cache != nil {
				if err := e.cache.Put(e.engine.Name(), texts[idx], vec); err != nil {
					logging.EmbeddingWarn("cache write failed: %v", err)
				}
			}
		}
	}

	logging.EmbeddingDebug("encoded %d texts (%d cache hits)", len(texts), len(texts)-len(missIdx))
	return out, nil
}

// HitRate returns the cache hit rate over the encoder's lifetime, 0 when
// nothing has been encoded yet.
func (e *Encoder) HitRate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	total := e.hits + e.misses
	if total == 0 {
		return 0
	}
	return float64(e.hits) / float64(total)
}

// Engine exposes the wrapped engine.
func (e *Encoder) Engine() EmbeddingEngine {
	return e.engine
}
