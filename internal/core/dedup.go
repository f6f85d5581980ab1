package core

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"streamagency.io/mode-router/internal/cache"
)

const (
	DefaultDedupWindow     = 30 * time.Second
	DefaultDedupMaxEntries = 10

	dedupPrefixLength = 100
)

// DuplicateSuppressor remembers recently emitted assistant messages per
// conversation and flags candidates whose opening matches one of them.
// Two different replies sharing the same first 100 characters count as
// duplicates.
type DuplicateSuppressor struct {
	store      cache.Store
	window     time.Duration
	maxEntries int
	now        func() time.Time
}

func NewDuplicateSuppressor(store cache.Store, window time.Duration, maxEntries int) *DuplicateSuppressor {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	if maxEntries <= 0 {
		maxEntries = DefaultDedupMaxEntries
	}
	return &DuplicateSuppressor{store: store, window: window, maxEntries: maxEntries, now: time.Now}
}

// IsDuplicate drops entries older than the window, writes the survivors back,
// and compares prefixes against them. An empty conversation id is never a
// duplicate.
func (d *DuplicateSuppressor) IsDuplicate(ctx context.Context, conversationID, candidate string) bool {
	if conversationID == "" {
		return false
	}
	entries, err := d.store.GetEntries(ctx, conversationID)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("conversationID", conversationID).Msg("Dedup read failed, treating as new")
		return false
	}

	now := d.now()
	recent := entries[:0]
	for _, e := range entries {
		if now.Sub(e.At) < d.window {
			recent = append(recent, e)
		}
	}
	if len(recent) != len(entries) {
		if err := d.store.SetEntries(ctx, conversationID, recent, d.window); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("conversationID", conversationID).Msg("Dedup prune failed")
		}
	}

	key := dedupKey(candidate)
	for _, e := range recent {
		if dedupKey(e.Content) == key {
			return true
		}
	}
	return false
}

// Record remembers text as emitted, keeping only the newest maxEntries.
func (d *DuplicateSuppressor) Record(ctx context.Context, conversationID, text string) {
	if conversationID == "" {
		return
	}
	entries, err := d.store.GetEntries(ctx, conversationID)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("conversationID", conversationID).Msg("Dedup read failed before record")
		entries = nil
	}

	entries = append(entries, cache.Entry{Content: text, At: d.now()})
	if over := len(entries) - d.maxEntries; over > 0 {
		entries = entries[over:]
	}
	if err := d.store.SetEntries(ctx, conversationID, entries, d.window); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("conversationID", conversationID).Msg("Dedup record failed")
	}
}

func dedupKey(text string) string {
	normalized := strings.ToLower(strings.TrimSpace(text))
	runes := []rune(normalized)
	if len(runes) > dedupPrefixLength {
		runes = runes[:dedupPrefixLength]
	}
	return string(runes)
}
