// Package patterns ranks learned patterns by similarity to a visitor message.
package patterns

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"streamagency.io/mode-router/internal/store"
	"streamagency.io/mode-router/internal/utils"
)

// DefaultMinScore drops weak matches; below it the success ranking is a better guess.
const DefaultMinScore = 0.55

// Index is a similarity index over learned patterns.
type Index interface {
	Search(ctx context.Context, vector []float32, mode store.Mode, limit int) ([]store.LearnedPattern, error)
	Sync(ctx context.Context, patterns []store.LearnedPattern) error
	Close() error
}

// MemoryIndex keeps every embedded pattern in process and scans linearly.
// Fine for the few hundred patterns an agency accumulates.
type MemoryIndex struct {
	mu       sync.RWMutex
	patterns []store.LearnedPattern
	minScore float32
}

var _ Index = (*MemoryIndex)(nil)

func NewMemoryIndex(minScore float32) *MemoryIndex {
	return &MemoryIndex{minScore: minScore}
}

// Sync adds patterns that carry an embedding, replacing any with the same id.
func (m *MemoryIndex) Sync(ctx context.Context, patterns []store.LearnedPattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byID := make(map[string]int, len(m.patterns))
	for i, p := range m.patterns {
		byID[p.ID] = i
	}
	added := 0
	for _, p := range patterns {
		if len(p.Embedding) == 0 {
			continue
		}
		if i, ok := byID[p.ID]; ok {
			m.patterns[i] = p
			continue
		}
		byID[p.ID] = len(m.patterns)
		m.patterns = append(m.patterns, p)
		added++
	}
	log.Debug().Int("added", added).Int("total", len(m.patterns)).Msg("Memory pattern index synced")
	return nil
}

func (m *MemoryIndex) Search(ctx context.Context, vector []float32, mode store.Mode, limit int) ([]store.LearnedPattern, error) {
	type scored struct {
		pattern store.LearnedPattern
		score   float32
	}

	m.mu.RLock()
	var candidates []scored
	for _, p := range m.patterns {
		if p.Mode != mode {
			continue
		}
		score, err := utils.CosineSimilarity(vector, p.Embedding)
		if err != nil {
			// dimension mismatch, typically after an embedding model change
			continue
		}
		if score < m.minScore {
			continue
		}
		candidates = append(candidates, scored{pattern: p, score: score})
	}
	m.mu.RUnlock()

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].pattern.SuccessCount > candidates[j].pattern.SuccessCount
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]store.LearnedPattern, len(candidates))
	for i, c := range candidates {
		out[i] = c.pattern
	}
	return out, nil
}

func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.patterns)
}

func (m *MemoryIndex) Close() error { return nil }
