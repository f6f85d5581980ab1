package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"
)

const (
	tableConversations   = "conversations"
	tableMessages        = "messages"
	tableAISettings      = "ai_settings"
	tableModeConfigs     = "mode_configs"
	tableLearnedPatterns = "learned_patterns"
	tableOperators       = "operators"

	aiSettingsRowID = "1"
)

// SupabaseConfig holds hosted-store connection settings.
type SupabaseConfig struct {
	URL    string
	APIKey string
	// CacheTTL bounds how stale settings and mode configs may be. Default: 5 seconds.
	CacheTTL time.Duration
}

// SupabaseStore implements Store on top of Supabase's PostgREST API.
type SupabaseStore struct {
	client *supabase.Client
	cache  *gocache.Cache
}

var _ Store = (*SupabaseStore)(nil)

type patternRow struct {
	ID           string    `json:"id"`
	Mode         Mode      `json:"mode"`
	Content      string    `json:"content"`
	SuccessCount int       `json:"success_count"`
	Embedding    []float32 `json:"embedding,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type operatorRow struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

func NewSupabaseStore(cfg SupabaseConfig) (*SupabaseStore, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 5 * time.Second
	}

	client, err := supabase.NewClient(cfg.URL, cfg.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	return &SupabaseStore{
		client: client,
		cache:  gocache.New(cfg.CacheTTL, time.Minute),
	}, nil
}

func (s *SupabaseStore) Close() error {
	s.cache.Flush()
	return nil
}

func (s *SupabaseStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.LastActivityAt.IsZero() {
		conv.LastActivityAt = now
	}
	if conv.Status == "" {
		conv.Status = StatusActive
	}

	if _, _, err := s.client.From(tableConversations).Insert(conv, false, "", "minimal", "").Execute(); err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	return nil
}

func (s *SupabaseStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var rows []Conversation
	_, err := s.client.From(tableConversations).
		Select("*", "", false).
		Eq("id", id).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (s *SupabaseStore) UpdateConversationMode(ctx context.Context, id string, mode Mode, confidence float64, at time.Time) error {
	return s.updateConversation(id, "conversation mode update", map[string]any{
		"current_mode":     mode,
		"mode_confidence":  confidence,
		"last_activity_at": at.UTC(),
	})
}

func (s *SupabaseStore) EscalateConversation(ctx context.Context, id, reason string, at time.Time) error {
	return s.updateConversation(id, "conversation escalation", map[string]any{
		"status":            StatusPendingHuman,
		"escalation_reason": reason,
		"last_activity_at":  at.UTC(),
	})
}

func (s *SupabaseStore) AssignOperator(ctx context.Context, id string, operatorID *string) error {
	values := map[string]any{"assigned_admin_id": operatorID}
	if operatorID == nil {
		values["status"] = StatusActive
	}
	return s.updateConversation(id, "operator assignment", values)
}

func (s *SupabaseStore) updateConversation(id, what string, values map[string]any) error {
	var updated []Conversation
	_, err := s.client.From(tableConversations).
		Update(values, "representation", "").
		Eq("id", id).
		ExecuteTo(&updated)
	if err != nil {
		return fmt.Errorf("failed to execute %s: %w", what, err)
	}
	if len(updated) == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func (s *SupabaseStore) CreateMessage(ctx context.Context, msg *Message) error {
	msg.ID = uuid.NewString()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if _, _, err := s.client.From(tableMessages).Insert(msg, false, "", "minimal", "").Execute(); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (s *SupabaseStore) GetRecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	var rows []Message
	_, err := s.client.From(tableMessages).
		Select("*", "", false).
		Eq("conversation_id", conversationID).
		Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		Limit(limit, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	// newest first from the API; callers want chronological order
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

func (s *SupabaseStore) GetAISettings(ctx context.Context) (*AISettings, error) {
	if cached, ok := s.cache.Get(tableAISettings); ok {
		return cached.(*AISettings), nil
	}

	var rows []AISettings
	_, err := s.client.From(tableAISettings).
		Select("enabled,updated_at", "", false).
		Eq("id", aiSettingsRowID).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to get ai settings: %w", err)
	}
	var settings *AISettings
	if len(rows) > 0 {
		settings = &rows[0]
	}
	s.cache.SetDefault(tableAISettings, settings)
	return settings, nil
}

func (s *SupabaseStore) SetAIEnabled(ctx context.Context, enabled bool) error {
	id, _ := strconv.Atoi(aiSettingsRowID)
	row := map[string]any{"id": id, "enabled": enabled, "updated_at": time.Now().UTC()}
	if _, _, err := s.client.From(tableAISettings).Upsert(row, "id", "minimal", "").Execute(); err != nil {
		return fmt.Errorf("failed to save ai settings: %w", err)
	}
	s.cache.Delete(tableAISettings)
	return nil
}

func (s *SupabaseStore) GetModeConfig(ctx context.Context, mode Mode) (*ModeConfig, error) {
	key := tableModeConfigs + ":" + string(mode)
	if cached, ok := s.cache.Get(key); ok {
		return cached.(*ModeConfig), nil
	}

	var rows []ModeConfig
	_, err := s.client.From(tableModeConfigs).
		Select("*", "", false).
		Eq("mode", string(mode)).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to get mode config: %w", err)
	}
	var cfg *ModeConfig
	if len(rows) > 0 {
		cfg = &rows[0]
	}
	s.cache.SetDefault(key, cfg)
	return cfg, nil
}

func (s *SupabaseStore) UpsertModeConfig(ctx context.Context, cfg *ModeConfig) error {
	cfg.UpdatedAt = time.Now().UTC()
	if _, _, err := s.client.From(tableModeConfigs).Upsert(cfg, "mode", "minimal", "").Execute(); err != nil {
		return fmt.Errorf("failed to save mode config: %w", err)
	}
	s.cache.Delete(tableModeConfigs + ":" + string(cfg.Mode))
	return nil
}

func (s *SupabaseStore) CreateLearnedPattern(ctx context.Context, p *LearnedPattern) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	row := patternRow{ID: p.ID, Mode: p.Mode, Content: p.Content, SuccessCount: p.SuccessCount, Embedding: p.Embedding, CreatedAt: p.CreatedAt}
	if _, _, err := s.client.From(tableLearnedPatterns).Insert(row, false, "", "minimal", "").Execute(); err != nil {
		return fmt.Errorf("failed to insert learned pattern: %w", err)
	}
	return nil
}

func (s *SupabaseStore) ListLearnedPatterns(ctx context.Context, mode Mode, limit int) ([]LearnedPattern, error) {
	var rows []patternRow
	_, err := s.client.From(tableLearnedPatterns).
		Select("*", "", false).
		Eq("mode", string(mode)).
		Order("success_count", &postgrest.OrderOpts{Ascending: false}).
		Limit(limit, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list learned patterns: %w", err)
	}
	return patternsFromRows(rows), nil
}

func (s *SupabaseStore) GetAllLearnedPatterns(ctx context.Context) ([]LearnedPattern, error) {
	var rows []patternRow
	if _, err := s.client.From(tableLearnedPatterns).Select("*", "", false).ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("failed to get learned patterns: %w", err)
	}
	return patternsFromRows(rows), nil
}

func patternsFromRows(rows []patternRow) []LearnedPattern {
	patterns := make([]LearnedPattern, 0, len(rows))
	for _, r := range rows {
		patterns = append(patterns, LearnedPattern{
			ID: r.ID, Mode: r.Mode, Content: r.Content, SuccessCount: r.SuccessCount,
			Embedding: r.Embedding, CreatedAt: r.CreatedAt,
		})
	}
	return patterns
}

func (s *SupabaseStore) CreateOperator(ctx context.Context, email, passwordHash string) (*Operator, error) {
	row := operatorRow{ID: uuid.NewString(), Email: email, PasswordHash: passwordHash, CreatedAt: time.Now().UTC()}
	if _, _, err := s.client.From(tableOperators).Insert(row, false, "", "minimal", "").Execute(); err != nil {
		return nil, fmt.Errorf("failed to insert operator: %w", err)
	}
	return &Operator{ID: row.ID, Email: row.Email, PasswordHash: row.PasswordHash, CreatedAt: row.CreatedAt}, nil
}

func (s *SupabaseStore) GetOperatorByEmail(ctx context.Context, email string) (*Operator, error) {
	return s.getOperator("email", email)
}

func (s *SupabaseStore) GetOperatorByID(ctx context.Context, id string) (*Operator, error) {
	return s.getOperator("id", id)
}

func (s *SupabaseStore) getOperator(column, value string) (*Operator, error) {
	var rows []operatorRow
	_, err := s.client.From(tableOperators).
		Select("*", "", false).
		Eq(column, value).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to get operator: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	r := rows[0]
	return &Operator{ID: r.ID, Email: r.Email, PasswordHash: r.PasswordHash, CreatedAt: r.CreatedAt}, nil
}
