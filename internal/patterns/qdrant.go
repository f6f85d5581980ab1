package patterns

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog/log"

	"streamagency.io/mode-router/internal/store"
)

const (
	payloadMode         = "mode"
	payloadContent      = "content"
	payloadSuccessCount = "success_count"
)

type QdrantConfig struct {
	// URL of the gRPC endpoint, e.g. "http://localhost:6334".
	URL        string
	Collection string
	APIKey     string
	MinScore   float32
}

// QdrantIndex stores pattern vectors in a Qdrant collection, one point per
// pattern, with the mode kept as a keyword payload for filtering.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	minScore   float32
}

var _ Index = (*QdrantIndex)(nil)

func NewQdrantIndex(cfg QdrantConfig) (*QdrantIndex, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("qdrant collection is required")
	}

	raw := cfg.URL
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse qdrant url: %w", err)
	}
	port := 6334
	if u.Port() != "" {
		if port, err = strconv.Atoi(u.Port()); err != nil {
			return nil, fmt.Errorf("invalid qdrant port: %w", err)
		}
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   u.Hostname(),
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: u.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	log.Info().Str("host", u.Hostname()).Int("port", port).Str("collection", cfg.Collection).Msg("Qdrant pattern index configured")
	return &QdrantIndex{client: client, collection: cfg.Collection, minScore: cfg.MinScore}, nil
}

func (q *QdrantIndex) Search(ctx context.Context, vector []float32, mode store.Mode, limit int) ([]store.LearnedPattern, error) {
	lim := uint64(limit)
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &lim,
		Filter:         modeFilter(mode),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search failed: %w", err)
	}

	out := make([]store.LearnedPattern, 0, len(points))
	for _, point := range points {
		if point.Score < q.minScore {
			continue
		}
		p := store.LearnedPattern{Mode: mode}
		if point.Id != nil {
			if id := point.Id.GetUuid(); id != "" {
				p.ID = id
			} else {
				p.ID = strconv.FormatUint(point.Id.GetNum(), 10)
			}
		}
		if v, ok := point.Payload[payloadContent]; ok {
			p.Content = v.GetStringValue()
		}
		if v, ok := point.Payload[payloadSuccessCount]; ok {
			p.SuccessCount = int(v.GetIntegerValue())
		}
		if p.Content == "" {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// Sync upserts every embedded pattern, creating the collection on first use.
func (q *QdrantIndex) Sync(ctx context.Context, patterns []store.LearnedPattern) error {
	points := make([]*qdrant.PointStruct, 0, len(patterns))
	dim := 0
	for _, p := range patterns {
		if len(p.Embedding) == 0 {
			continue
		}
		if dim == 0 {
			dim = len(p.Embedding)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ID),
			Vectors: qdrant.NewVectors(p.Embedding...),
			Payload: qdrant.NewValueMap(map[string]any{
				payloadMode:         string(p.Mode),
				payloadContent:      p.Content,
				payloadSuccessCount: int64(p.SuccessCount),
			}),
		})
	}
	if len(points) == 0 {
		return nil
	}
	if err := q.ensureCollection(ctx, dim); err != nil {
		return err
	}

	wait := true
	if _, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         points,
	}); err != nil {
		return fmt.Errorf("qdrant upsert failed: %w", err)
	}
	log.Info().Int("points", len(points)).Str("collection", q.collection).Msg("Learned patterns synced to Qdrant")
	return nil
}

func (q *QdrantIndex) ensureCollection(ctx context.Context, dim int) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("failed to check qdrant collection: %w", err)
	}
	if exists {
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create qdrant collection %s: %w", q.collection, err)
	}
	return nil
}

func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

func modeFilter(mode store.Mode) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   payloadMode,
					Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: string(mode)}},
				},
			},
		}},
	}
}
