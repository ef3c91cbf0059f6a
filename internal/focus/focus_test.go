package focus

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/reflective-memory-kernel/internal/clock"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T, c clock.Clock) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Migrate(context.Background(), db))
	return NewStore(db, c, zaptest.NewLogger(t))
}

func TestAddFocusThenActiveFocusReturnsIt(t *testing.T) {
	now := clock.NewFixed(time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC))
	s := newTestStore(t, now)
	ctx := context.Background()

	require.NoError(t, s.AddFocus(ctx, "u-1", "job interview on Friday", nil))

	items, err := s.ActiveFocus(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "job interview on Friday", items[0].Content)
}

func TestAddFocusDuplicateContentUpdatesInPlace(t *testing.T) {
	now := clock.NewFixed(time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC))
	s := newTestStore(t, now)
	ctx := context.Background()

	require.NoError(t, s.AddFocus(ctx, "u-1", "moving apartments", nil))
	require.NoError(t, s.AddFocus(ctx, "u-1", "moving apartments", nil))

	items, err := s.ActiveFocus(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, items, 1, "duplicate active content should update rather than duplicate")
}

func TestActiveFocusExcludesExpiredByDefaultTTL(t *testing.T) {
	now := clock.NewFixed(time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC))
	s := newTestStore(t, now)
	ctx := context.Background()

	require.NoError(t, s.AddFocus(ctx, "u-1", "old concern", nil))
	now.Advance(DefaultTTL + time.Hour)

	items, err := s.ActiveFocus(ctx, "u-1")
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestActiveFocusExcludesExpiredByDeadline(t *testing.T) {
	now := clock.NewFixed(time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC))
	s := newTestStore(t, now)
	ctx := context.Background()

	deadline := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.AddFocus(ctx, "u-1", "rent due", &deadline))

	now.Advance(3 * 24 * time.Hour)
	items, err := s.ActiveFocus(ctx, "u-1")
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestActiveFocusDeadlinePlusOneDayStillActive(t *testing.T) {
	now := clock.NewFixed(time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC))
	s := newTestStore(t, now)
	ctx := context.Background()

	deadline := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.AddFocus(ctx, "u-1", "rent due", &deadline))

	now.Advance(24 * time.Hour) // now is 09:00 on deadline + 1 day
	items, err := s.ActiveFocus(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, items, 1, "deadline + 1 day must still be active")
}

func TestActiveFocusDeadlinePlusTwoDaysExpired(t *testing.T) {
	now := clock.NewFixed(time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC))
	s := newTestStore(t, now)
	ctx := context.Background()

	deadline := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.AddFocus(ctx, "u-1", "rent due", &deadline))

	now.Advance(48 * time.Hour) // now is 09:00 on deadline + 2 days
	items, err := s.ActiveFocus(ctx, "u-1")
	require.NoError(t, err)
	require.Empty(t, items, "deadline + 2 days must be expired")
}

func TestMarkInjectedStartsCooldown(t *testing.T) {
	now := clock.NewFixed(time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC))
	s := newTestStore(t, now)
	ctx := context.Background()

	require.NoError(t, s.AddFocus(ctx, "u-1", "upcoming trip", nil))
	items, err := s.ActiveFocus(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, items, 1)

	require.NoError(t, s.MarkInjected(ctx, items[0].ID))

	items, err = s.ActiveFocus(ctx, "u-1")
	require.NoError(t, err)
	require.Empty(t, items, "should be hidden during the injection cooldown")

	now.Advance(InjectionCooldown + time.Minute)
	items, err = s.ActiveFocus(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, items, 1, "should resurface once the cooldown elapses")
}

func TestArchiveHidesItemFromActiveFocus(t *testing.T) {
	now := clock.NewFixed(time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC))
	s := newTestStore(t, now)
	ctx := context.Background()

	require.NoError(t, s.AddFocus(ctx, "u-1", "dentist appointment", nil))
	require.NoError(t, s.Archive(ctx, "u-1", "dentist appointment"))

	items, err := s.ActiveFocus(ctx, "u-1")
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestPeekWhisperDoesNotConsume(t *testing.T) {
	now := clock.NewFixed(time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC))
	s := newTestStore(t, now)
	ctx := context.Background()

	require.NoError(t, s.SaveWhisper(ctx, "u-1", "mention the upcoming trip"))

	text, ok, err := s.PeekWhisper(ctx, "u-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "mention the upcoming trip", text)

	text, ok, err = s.PeekWhisper(ctx, "u-1")
	require.NoError(t, err)
	require.True(t, ok, "peek must not consume")
	require.Equal(t, "mention the upcoming trip", text)
}

func TestConsumeWhisperOnlyReturnsOnce(t *testing.T) {
	now := clock.NewFixed(time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC))
	s := newTestStore(t, now)
	ctx := context.Background()

	require.NoError(t, s.SaveWhisper(ctx, "u-1", "mention the upcoming trip"))

	text, ok, err := s.ConsumeWhisper(ctx, "u-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "mention the upcoming trip", text)

	_, ok, err = s.ConsumeWhisper(ctx, "u-1")
	require.NoError(t, err)
	require.False(t, ok, "a second consume must find nothing left")
}

func TestConsumeWhisperOnNoPendingReturnsFalse(t *testing.T) {
	now := clock.NewFixed(time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC))
	s := newTestStore(t, now)
	_, ok, err := s.ConsumeWhisper(context.Background(), "u-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestClearArchivesFocusAndConsumesWhispers(t *testing.T) {
	now := clock.NewFixed(time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC))
	s := newTestStore(t, now)
	ctx := context.Background()

	require.NoError(t, s.AddFocus(ctx, "u-1", "something", nil))
	require.NoError(t, s.SaveWhisper(ctx, "u-1", "a whisper"))

	require.NoError(t, s.Clear(ctx, "u-1"))

	items, err := s.ActiveFocus(ctx, "u-1")
	require.NoError(t, err)
	require.Empty(t, items)

	_, ok, err := s.PeekWhisper(ctx, "u-1")
	require.NoError(t, err)
	require.False(t, ok)
}
