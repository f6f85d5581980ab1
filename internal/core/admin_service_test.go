package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamagency.io/mode-router/internal/store"
)

func TestAdminService_Authenticate(t *testing.T) {
	ctx := context.Background()
	svc := NewAdminService(newFakeStore())

	created, err := svc.CreateOperator(ctx, "  Ops@Agencia.com ", "s3nha")
	require.NoError(t, err)
	assert.Equal(t, "ops@agencia.com", created.Email)
	assert.NotEqual(t, "s3nha", created.PasswordHash)

	op, err := svc.Authenticate(ctx, "ops@agencia.com", "s3nha")
	require.NoError(t, err)
	assert.Equal(t, created.ID, op.ID)

	_, err = svc.Authenticate(ctx, "ops@agencia.com", "errada")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, "ninguem@agencia.com", "s3nha")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.CreateOperator(ctx, "", "x")
	assert.Error(t, err)
}

func TestAdminService_TakeOverAndRelease(t *testing.T) {
	ctx := context.Background()
	f := newRouterFixture(t)
	svc := NewAdminService(f.store)

	d, err := f.router.Route(ctx, ChatRequest{Messages: userTurn("quero falar com um atendente humano"), VisitorID: "visitor-1"})
	require.NoError(t, err)
	require.Equal(t, OutcomeHandoff, d.Outcome)

	require.NoError(t, svc.TakeOver(ctx, d.ConversationID, "op-1"))
	details, err := svc.GetConversationDetails(ctx, d.ConversationID)
	require.NoError(t, err)
	assert.True(t, details.Conversation.TakenOver())
	require.Len(t, details.Messages, 1)
	assert.Equal(t, HandoffNotice, details.Messages[0].Content)

	skipped, err := f.router.Route(ctx, ChatRequest{Messages: userTurn("oi?"), ConversationID: d.ConversationID})
	require.NoError(t, err)
	assert.Equal(t, SkipAdminTakeover, skipped.Reason)

	require.NoError(t, svc.Release(ctx, d.ConversationID))
	resumed, err := f.router.Route(ctx, ChatRequest{Messages: userTurn("oi?"), ConversationID: d.ConversationID})
	require.NoError(t, err)
	require.Equal(t, OutcomeStream, resumed.Outcome)
	resumed.Stream.Close()
	assert.Equal(t, store.StatusActive, f.store.conversation(d.ConversationID).Status)

	assert.ErrorIs(t, svc.TakeOver(ctx, "missing", "op-1"), ErrConversationMissing)
	_, err = svc.GetConversationDetails(ctx, "missing")
	assert.ErrorIs(t, err, ErrConversationMissing)
}

func TestAdminService_KillSwitchAndModeConfig(t *testing.T) {
	ctx := context.Background()
	f := newRouterFixture(t)
	svc := NewAdminService(f.store)

	require.NoError(t, svc.SetAIEnabled(ctx, false))
	d, err := f.router.Route(ctx, ChatRequest{Messages: userTurn("oi")})
	require.NoError(t, err)
	assert.Equal(t, SkipAIDisabled, d.Reason)
	require.NoError(t, svc.SetAIEnabled(ctx, true))

	cfg, err := svc.UpdateModeConfig(ctx, store.ModeMarketing, true, "Fale como um social media.")
	require.NoError(t, err)
	assert.Equal(t, store.ModeMarketing, cfg.Mode)

	d, err = f.router.Route(ctx, ChatRequest{Messages: userTurn("campanha no tiktok")})
	require.NoError(t, err)
	require.Equal(t, OutcomeStream, d.Outcome)
	d.Stream.Close()
	assert.True(t, len(f.generator.requests) > 0)
	assert.Contains(t, f.generator.requests[len(f.generator.requests)-1].SystemPrompt, "Fale como um social media.")

	_, err = svc.UpdateModeConfig(ctx, store.Mode("astrology"), true, "x")
	assert.ErrorIs(t, err, ErrUnknownMode)
	_, err = svc.UpdateModeConfig(ctx, store.ModeHandoffHuman, true, "x")
	assert.ErrorIs(t, err, ErrUnknownMode)
}
