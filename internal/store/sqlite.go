package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog/log"

	"streamagency.io/mode-router/internal/utils"
)

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	// SQLite serializes writers anyway; one connection avoids SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS operators (
        id TEXT PRIMARY KEY, -- UUID
        email TEXT UNIQUE NOT NULL,
        password_hash TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS conversations (
        id TEXT PRIMARY KEY, -- UUID
        visitor_id TEXT NOT NULL DEFAULT '',
        visitor_name TEXT,
        current_mode TEXT NOT NULL DEFAULT 'support',
        mode_confidence REAL NOT NULL DEFAULT 0.5,
        status TEXT NOT NULL DEFAULT 'active',
        assigned_admin_id TEXT,
        escalation_reason TEXT,
        last_activity_at DATETIME,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS messages (
        id TEXT PRIMARY KEY, -- UUID
        conversation_id TEXT NOT NULL,
        role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
        content TEXT NOT NULL,
        is_ai_generated BOOLEAN DEFAULT FALSE,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (conversation_id) REFERENCES conversations (id)
    );

    CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, created_at);

    CREATE TABLE IF NOT EXISTS ai_settings (
        id INTEGER PRIMARY KEY CHECK (id = 1),
        enabled BOOLEAN NOT NULL,
        updated_at DATETIME
    );

    CREATE TABLE IF NOT EXISTS mode_configs (
        mode TEXT PRIMARY KEY,
        enabled BOOLEAN NOT NULL DEFAULT TRUE,
        prompt_template TEXT NOT NULL DEFAULT '',
        updated_at DATETIME
    );

    CREATE TABLE IF NOT EXISTS learned_patterns (
        id TEXT PRIMARY KEY, -- UUID
        mode TEXT NOT NULL,
        content TEXT NOT NULL,
        success_count INTEGER NOT NULL DEFAULT 0,
        embedding_json TEXT, -- JSON array of float32
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// Conversation methods

const conversationColumns = `id, visitor_id, visitor_name, current_mode, mode_confidence, status,
    assigned_admin_id, escalation_reason, last_activity_at, created_at`

func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
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

	stmt, err := s.db.PrepareContext(ctx, `INSERT INTO conversations (`+conversationColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare conversation insert: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.ExecContext(ctx, conv.ID, conv.VisitorID, conv.VisitorName, string(conv.Mode), conv.ModeConfidence,
		conv.Status, conv.AssignedAdminID, conv.EscalationReason, conv.LastActivityAt, conv.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to execute conversation insert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	var mode string
	var visitorName, adminID, reason sql.NullString
	var lastActivity sql.NullTime
	err := s.db.QueryRowContext(ctx, "SELECT "+conversationColumns+" FROM conversations WHERE id = ?", id).
		Scan(&conv.ID, &conv.VisitorID, &visitorName, &mode, &conv.ModeConfidence, &conv.Status,
			&adminID, &reason, &lastActivity, &conv.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	conv.Mode = Mode(mode)
	conv.VisitorName = nullableString(visitorName)
	conv.AssignedAdminID = nullableString(adminID)
	conv.EscalationReason = nullableString(reason)
	if lastActivity.Valid {
		conv.LastActivityAt = lastActivity.Time
	}
	return &conv, nil
}

func (s *SQLiteStore) UpdateConversationMode(ctx context.Context, id string, mode Mode, confidence float64, at time.Time) error {
	return s.execAffecting(ctx, "conversation mode update",
		"UPDATE conversations SET current_mode = ?, mode_confidence = ?, last_activity_at = ? WHERE id = ?",
		string(mode), confidence, at.UTC(), id)
}

func (s *SQLiteStore) EscalateConversation(ctx context.Context, id, reason string, at time.Time) error {
	return s.execAffecting(ctx, "conversation escalation",
		"UPDATE conversations SET status = ?, escalation_reason = ?, last_activity_at = ? WHERE id = ?",
		StatusPendingHuman, reason, at.UTC(), id)
}

// AssignOperator sets or clears (nil) the operator in control. Clearing also
// returns the conversation to active.
func (s *SQLiteStore) AssignOperator(ctx context.Context, id string, operatorID *string) error {
	if operatorID == nil {
		return s.execAffecting(ctx, "operator release",
			"UPDATE conversations SET assigned_admin_id = NULL, status = ? WHERE id = ?", StatusActive, id)
	}
	return s.execAffecting(ctx, "operator assignment",
		"UPDATE conversations SET assigned_admin_id = ? WHERE id = ?", *operatorID, id)
}

// Message methods

func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *Message) error {
	msg.ID = uuid.NewString() // Ensure ID is set
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	stmt, err := s.db.PrepareContext(ctx, "INSERT INTO messages (id, conversation_id, role, content, is_ai_generated, created_at) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare message insert: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.ExecContext(ctx, msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.IsAIGenerated, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to execute message insert: %w", err)
	}
	return nil
}

// GetRecentMessages returns the last limit messages in chronological order.
func (s *SQLiteStore) GetRecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	query := `
        SELECT id, conversation_id, role, content, is_ai_generated, created_at FROM (
            SELECT * FROM messages WHERE conversation_id = ? ORDER BY created_at DESC LIMIT ?
        ) ORDER BY created_at ASC
    `
	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.IsAIGenerated, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Settings methods

func (s *SQLiteStore) GetAISettings(ctx context.Context) (*AISettings, error) {
	var settings AISettings
	var updatedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, "SELECT enabled, updated_at FROM ai_settings WHERE id = 1").Scan(&settings.Enabled, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get ai settings: %w", err)
	}
	if updatedAt.Valid {
		settings.UpdatedAt = updatedAt.Time
	}
	return &settings, nil
}

func (s *SQLiteStore) SetAIEnabled(ctx context.Context, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO ai_settings (id, enabled, updated_at) VALUES (1, ?, ?)
        ON CONFLICT(id) DO UPDATE SET enabled = excluded.enabled, updated_at = excluded.updated_at`,
		enabled, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save ai settings: %w", err)
	}
	return nil
}

// Mode configuration methods

func (s *SQLiteStore) GetModeConfig(ctx context.Context, mode Mode) (*ModeConfig, error) {
	var cfg ModeConfig
	var m string
	var updatedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, "SELECT mode, enabled, prompt_template, updated_at FROM mode_configs WHERE mode = ?", string(mode)).
		Scan(&m, &cfg.Enabled, &cfg.PromptTemplate, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get mode config: %w", err)
	}
	cfg.Mode = Mode(m)
	if updatedAt.Valid {
		cfg.UpdatedAt = updatedAt.Time
	}
	return &cfg, nil
}

func (s *SQLiteStore) UpsertModeConfig(ctx context.Context, cfg *ModeConfig) error {
	cfg.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO mode_configs (mode, enabled, prompt_template, updated_at) VALUES (?, ?, ?, ?)
        ON CONFLICT(mode) DO UPDATE SET enabled = excluded.enabled,
            prompt_template = excluded.prompt_template, updated_at = excluded.updated_at`,
		string(cfg.Mode), cfg.Enabled, cfg.PromptTemplate, cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save mode config: %w", err)
	}
	return nil
}

// Learned pattern methods

func (s *SQLiteStore) CreateLearnedPattern(ctx context.Context, p *LearnedPattern) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	var embeddingJSON sql.NullString
	if len(p.Embedding) > 0 {
		encoded, err := utils.EncodeEmbedding(p.Embedding)
		if err != nil {
			return err
		}
		embeddingJSON = sql.NullString{String: encoded, Valid: true}
	}

	stmt, err := s.db.PrepareContext(ctx, "INSERT INTO learned_patterns (id, mode, content, success_count, embedding_json, created_at) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare learned_pattern insert: %w", err)
	}
	defer stmt.Close()

	if _, err := stmt.ExecContext(ctx, p.ID, string(p.Mode), p.Content, p.SuccessCount, embeddingJSON, p.CreatedAt); err != nil {
		return fmt.Errorf("failed to execute learned_pattern insert: %w", err)
	}
	return nil
}

// ListLearnedPatterns returns the most successful patterns for a mode.
func (s *SQLiteStore) ListLearnedPatterns(ctx context.Context, mode Mode, limit int) ([]LearnedPattern, error) {
	return s.queryPatterns(ctx, `SELECT id, mode, content, success_count, embedding_json, created_at
        FROM learned_patterns WHERE mode = ? ORDER BY success_count DESC, created_at DESC LIMIT ?`, string(mode), limit)
}

func (s *SQLiteStore) GetAllLearnedPatterns(ctx context.Context) ([]LearnedPattern, error) {
	return s.queryPatterns(ctx, "SELECT id, mode, content, success_count, embedding_json, created_at FROM learned_patterns")
}

func (s *SQLiteStore) queryPatterns(ctx context.Context, query string, args ...any) ([]LearnedPattern, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query learned_patterns: %w", err)
	}
	defer rows.Close()

	var patterns []LearnedPattern
	for rows.Next() {
		var p LearnedPattern
		var mode string
		var embeddingJSON sql.NullString
		if err := rows.Scan(&p.ID, &mode, &p.Content, &p.SuccessCount, &embeddingJSON, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan learned_pattern row: %w", err)
		}
		p.Mode = Mode(mode)
		if embeddingJSON.Valid && embeddingJSON.String != "" {
			embedding, err := utils.DecodeEmbedding(embeddingJSON.String)
			if err != nil {
				log.Warn().Err(err).Str("patternID", p.ID).Msg("Failed to decode pattern embedding, leaving it empty")
			} else {
				p.Embedding = embedding
			}
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

// Operator methods

func (s *SQLiteStore) CreateOperator(ctx context.Context, email, passwordHash string) (*Operator, error) {
	op := &Operator{ID: uuid.NewString(), Email: email, PasswordHash: passwordHash, CreatedAt: time.Now().UTC()}
	_, err := s.db.ExecContext(ctx, "INSERT INTO operators (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)",
		op.ID, op.Email, op.PasswordHash, op.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert operator: %w", err)
	}
	return op, nil
}

func (s *SQLiteStore) GetOperatorByEmail(ctx context.Context, email string) (*Operator, error) {
	return s.getOperator(ctx, "email", email)
}

func (s *SQLiteStore) GetOperatorByID(ctx context.Context, id string) (*Operator, error) {
	return s.getOperator(ctx, "id", id)
}

func (s *SQLiteStore) getOperator(ctx context.Context, column, value string) (*Operator, error) {
	var op Operator
	err := s.db.QueryRowContext(ctx, "SELECT id, email, password_hash, created_at FROM operators WHERE "+column+" = ?", value).
		Scan(&op.ID, &op.Email, &op.PasswordHash, &op.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Operator not found
		}
		return nil, fmt.Errorf("failed to query operator: %w", err)
	}
	return &op, nil
}

func (s *SQLiteStore) execAffecting(ctx context.Context, what, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to execute %s: %w", what, err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
