package store

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// Mode is the behavioral persona governing a reply.
type Mode string

const (
	ModeSales          Mode = "sales"
	ModeSupport        Mode = "support"
	ModeMarketing      Mode = "marketing"
	ModeFinancialTutor Mode = "financial_tutor"
	ModeHandoffHuman   Mode = "handoff_human"
)

var Modes = []Mode{ModeSales, ModeSupport, ModeMarketing, ModeFinancialTutor, ModeHandoffHuman}

func (m Mode) Valid() bool {
	for _, known := range Modes {
		if m == known {
			return true
		}
	}
	return false
}

const (
	StatusActive       = "active"
	StatusPendingHuman = "pending_human"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

type Conversation struct {
	ID               string    `json:"id"`
	VisitorID        string    `json:"visitor_id"`
	VisitorName      *string   `json:"visitor_name"`
	Mode             Mode      `json:"current_mode"`
	ModeConfidence   float64   `json:"mode_confidence"`
	Status           string    `json:"status"`
	AssignedAdminID  *string   `json:"assigned_admin_id"`
	EscalationReason *string   `json:"escalation_reason"`
	LastActivityAt   time.Time `json:"last_activity_at"`
	CreatedAt        time.Time `json:"created_at"`
}

// TakenOver reports whether a human operator controls the conversation.
func (c *Conversation) TakenOver() bool {
	return c.AssignedAdminID != nil && *c.AssignedAdminID != ""
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	IsAIGenerated  bool      `json:"is_ai_generated"`
	CreatedAt      time.Time `json:"created_at"`
}

// AISettings is the global kill-switch record.
type AISettings struct {
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ModeConfig struct {
	Mode           Mode      `json:"mode"`
	Enabled        bool      `json:"enabled"`
	PromptTemplate string    `json:"prompt_template"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// LearnedPattern is a historically successful reply for a mode.
type LearnedPattern struct {
	ID           string    `json:"id"`
	Mode         Mode      `json:"mode"`
	Content      string    `json:"content"`
	SuccessCount int       `json:"success_count"`
	Embedding    []float32 `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

type Operator struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // Do not expose this in JSON responses
	CreatedAt    time.Time `json:"created_at"`
}
