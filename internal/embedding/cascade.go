package embedding

import (
	"log"
	"math"
	"sync"

	"smartdocq/internal/domain"
)

// resettable is implemented by strategies with corpus-fitted state.
type resettable interface {
	Reset()
}

// Cascade tries a ladder of embedding strategies in order, falling through
// to the next rung when one fails for the whole batch, so dimensionality
// stays consistent within a batch. Once a rung succeeds it stays the active
// rung for the rest of the process lifetime (or until the index resets a
// generation); earlier rungs are not retried.
//
// The last resort embeds every text as a zero vector matching the index's
// current dimensionality. That preserves availability but not correctness,
// so the result is flagged degraded rather than being indistinguishable from
// genuine vectors.
type Cascade struct {
	strategies []domain.EmbeddingStrategy
	dimHint    func() int
	logger     *log.Logger

	mu         sync.Mutex
	active     int
	generation uint64
}

// NewCascade builds the ladder. dimHint reports the index's current
// dimensionality for the zero-vector fallback; it may return 0 when the
// index is empty.
func NewCascade(strategies []domain.EmbeddingStrategy, dimHint func() int, logger *log.Logger) *Cascade {
	if logger == nil {
		logger = log.New(log.Writer(), "[EMBED] ", log.LstdFlags)
	}
	if dimHint == nil {
		dimHint = func() int { return 0 }
	}
	return &Cascade{strategies: strategies, dimHint: dimHint, logger: logger}
}

// Embed returns one vector per input text. Only total exhaustion of the
// ladder, including the zero-vector rung when no dimensionality is known,
// is an error.
func (c *Cascade) Embed(texts []string) (domain.EmbedResult, error) {
	c.mu.Lock()
	start := c.active
	gen := c.generation
	c.mu.Unlock()

	if len(texts) == 0 {
		return domain.EmbedResult{Generation: gen}, nil
	}

	attempts := make(map[string]error)
	for i := start; i < len(c.strategies); i++ {
		s := c.strategies[i]
		vectors, err := s.EmbedBatch(texts)
		if err != nil {
			attempts[s.Name()] = err
			c.logger.Printf("strategy %q failed, falling back: %v", s.Name(), err)
			continue
		}
		for _, v := range vectors {
			normalize(v)
		}
		c.mu.Lock()
		if i > c.active {
			c.logger.Printf("strategy %q is now active for this process", s.Name())
			c.active = i
		}
		c.mu.Unlock()
		return domain.EmbedResult{Vectors: vectors, Strategy: s.Name(), Generation: gen}, nil
	}

	dim := c.dimHint()
	if dim <= 0 {
		return domain.EmbedResult{}, &domain.EmbeddingExhaustedError{Attempts: attempts}
	}
	c.logger.Printf("all strategies failed; emitting %d zero vectors of dimension %d (degraded)", len(texts), dim)
	vectors := make([][]float64, len(texts))
	for i := range vectors {
		vectors[i] = make([]float64, dim)
	}
	return domain.EmbedResult{Vectors: vectors, Strategy: "zero", Degraded: true, Generation: gen}, nil
}

// Reset is the index's reinitialization hook. It clears any corpus-fitted
// strategy state and re-arms the whole ladder under the new generation, so a
// fresh index never mixes with a stale vector space.
func (c *Cascade) Reset(generation uint64) {
	c.mu.Lock()
	c.generation = generation
	c.active = 0
	c.mu.Unlock()
	for _, s := range c.strategies {
		if r, ok := s.(resettable); ok {
			r.Reset()
		}
	}
	c.logger.Printf("embedder reset for index generation %d", generation)
}

func normalize(v []float64) {
	norm := 0.0
	for _, x := range v {
		norm += x * x
	}
	if norm == 0 {
		return
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] /= norm
	}
}
