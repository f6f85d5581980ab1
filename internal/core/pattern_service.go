package core

import (
	"context"

	"github.com/rs/zerolog"

	"streamagency.io/mode-router/internal/store"
)

const NumRelevantPatterns = 3 // learned patterns added to the business context

// PatternSource lists the most successful learned patterns for a mode.
type PatternSource interface {
	ListLearnedPatterns(ctx context.Context, mode store.Mode, limit int) ([]store.LearnedPattern, error)
}

// PatternIndex finds learned patterns close to a query vector.
type PatternIndex interface {
	Search(ctx context.Context, vector []float32, mode store.Mode, limit int) ([]store.LearnedPattern, error)
}

// PatternService picks learned patterns to show the model. With an index and
// an embedder it ranks by similarity to the visitor's message, otherwise by
// success count.
type PatternService struct {
	source PatternSource
	index  PatternIndex
	embed  store.Embedder
	limit  int
}

func NewPatternService(source PatternSource, index PatternIndex, embed store.Embedder) *PatternService {
	return &PatternService{source: source, index: index, embed: embed, limit: NumRelevantPatterns}
}

// Relevant never fails; lookup errors degrade to fewer or no patterns.
func (s *PatternService) Relevant(ctx context.Context, mode store.Mode, query string) []store.LearnedPattern {
	logger := zerolog.Ctx(ctx)

	if s.index != nil && s.embed != nil && query != "" {
		vector, err := s.embed(ctx, query)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to embed query for pattern search, falling back to success ranking")
		} else {
			found, err := s.index.Search(ctx, vector, mode, s.limit)
			if err != nil {
				logger.Warn().Err(err).Msg("Pattern index search failed, falling back to success ranking")
			} else if len(found) > 0 {
				logger.Debug().Int("patterns", len(found)).Str("mode", string(mode)).Msg("Retrieved similar learned patterns")
				return found
			}
		}
	}

	if s.source == nil {
		return nil
	}
	top, err := s.source.ListLearnedPatterns(ctx, mode, s.limit)
	if err != nil {
		logger.Warn().Err(err).Str("mode", string(mode)).Msg("Failed to list learned patterns, proceeding without them")
		return nil
	}
	return top
}
