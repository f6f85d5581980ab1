package store

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Embedder turns text into a vector. It may be nil, in which case patterns are
// stored without embeddings.
type Embedder func(ctx context.Context, text string) ([]float32, error)

// ParsePatternTable reads a markdown table with the columns | mode | content |
// (an optional last column holds the success count). Header and separator
// rows are skipped, as are rows naming an unknown mode. Pipes inside the
// content are kept when the last cell is not a count.
func ParsePatternTable(content string) []LearnedPattern {
	var patterns []LearnedPattern
	for i, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || !strings.HasPrefix(trimmed, "|") || !strings.HasSuffix(trimmed, "|") {
			continue
		}
		if isSeparatorRow(trimmed) {
			continue
		}

		cells := strings.Split(strings.Trim(trimmed, "|"), "|")
		if len(cells) < 2 {
			log.Debug().Int("line", i+1).Msg("Skipping malformed pattern row")
			continue
		}
		mode := Mode(strings.ToLower(strings.TrimSpace(cells[0])))
		contentCells, successCount := cells[1:], 0
		if len(cells) >= 3 {
			last := strings.TrimSpace(cells[len(cells)-1])
			if n, err := strconv.Atoi(last); err == nil || last == "" {
				contentCells, successCount = cells[1:len(cells)-1], n
			} else {
				log.Debug().Int("line", i+1).Str("cell", last).Msg("Last cell is not a success count, keeping it as content")
			}
		}
		text := strings.TrimSpace(strings.Join(contentCells, "|"))
		if mode == "mode" {
			continue // header
		}
		if !mode.Valid() || text == "" {
			log.Warn().Int("line", i+1).Str("mode", string(mode)).Msg("Skipping pattern row with unknown mode or empty content")
			continue
		}

		patterns = append(patterns, LearnedPattern{Mode: mode, Content: text, SuccessCount: successCount})
	}
	return patterns
}

func isSeparatorRow(row string) bool {
	return strings.Trim(row, "|-: ") == "" && strings.Contains(row, "-")
}

// IngestPatternsFromFile loads learned patterns from a markdown table into s.
// Rows whose embedding fails are skipped.
func IngestPatternsFromFile(ctx context.Context, s Store, filePath string, embed Embedder) (int, error) {
	contentBytes, err := os.ReadFile(filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to read patterns file %s: %w", filePath, err)
	}

	patterns := ParsePatternTable(string(contentBytes))
	if len(patterns) == 0 {
		log.Warn().Str("file", filePath).Msg("No patterns found. Expected a markdown table with | mode | content | columns")
		return 0, nil
	}
	log.Info().Int("rows", len(patterns)).Bool("embedding", embed != nil).Msg("Parsed learned patterns, storing")

	// delay to stay under the embedding API rate limit (1500/min)
	ticker := time.NewTicker(40 * time.Millisecond)
	defer ticker.Stop()

	count := 0
	for i := range patterns {
		p := &patterns[i]
		if embed != nil {
			select {
			case <-ctx.Done():
				return count, ctx.Err()
			case <-ticker.C:
			}
			embedding, err := embed(ctx, p.Content)
			if err != nil {
				log.Warn().Err(err).Int("row", i+1).Msg("Failed to embed pattern, skipping")
				continue
			}
			p.Embedding = embedding
		}
		if err := s.CreateLearnedPattern(ctx, p); err != nil {
			log.Warn().Err(err).Int("row", i+1).Msg("Failed to store pattern, skipping")
			continue
		}
		count++
		if count%10 == 0 || count == len(patterns) {
			log.Info().Msgf("Ingested %d/%d patterns...", count, len(patterns))
		}
	}
	return count, nil
}
