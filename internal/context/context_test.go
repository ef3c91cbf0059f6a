package memcontext

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

// newTestStore builds a Store against an in-memory SQLite handle with
// no L1 cache and no LLM gateway. Every case here that calls Get keeps
// len(recent)/2 under compactThreshold, so compact (the only path
// that calls the gateway) never runs: the pack carries no fake chat
// backend, matching how decision_test.go and extraction_test.go stick
// to the gateway-free paths of their packages.
func newTestStore(t *testing.T, compactThreshold int, sessionTTL time.Duration, clk clock.Clock) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Migrate(context.Background(), db))
	return NewStore(db, nil, nil, clk, compactThreshold, sessionTTL, zaptest.NewLogger(t))
}

func TestGetOnUnknownUserReturnsZeroState(t *testing.T) {
	s := newTestStore(t, 50, 3*time.Hour, clock.Real)
	st, err := s.Get(context.Background(), "u-1")
	require.NoError(t, err)
	require.Equal(t, "", st.Summary)
	require.Empty(t, st.Recent)
}

func TestAppendPersistsMessagesInOrder(t *testing.T) {
	s := newTestStore(t, 50, 3*time.Hour, clock.Real)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "u-1", Message{Role: "user", Content: "hey"}))
	require.NoError(t, s.Append(ctx, "u-1", Message{Role: "assistant", Content: "hi there"}))

	st, err := s.Get(ctx, "u-1")
	require.NoError(t, err)
	if require.Len(t, st.Recent, 2) {
		require.Equal(t, "hey", st.Recent[0].Content)
		require.Equal(t, "hi there", st.Recent[1].Content)
	}
}

func TestAppendBelowCompactThresholdNeverTouchesSummary(t *testing.T) {
	s := newTestStore(t, 5, 3*time.Hour, clock.Real)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(ctx, "u-1", Message{Role: "user", Content: "msg"}))
	}

	st, err := s.Get(ctx, "u-1")
	require.NoError(t, err)
	require.Equal(t, "", st.Summary)
	require.Len(t, st.Recent, 5)
}

func TestAppendNeverCompactsEvenPastThreshold(t *testing.T) {
	// compactThreshold=1 means len(recent)/2 >= 1 triggers compaction
	// (from 2 messages on), but Append itself must never invoke it —
	// only Get does (spec.md §4.D). A nil gateway would panic if
	// Append tried to compact, so this also proves the ordering.
	s := newTestStore(t, 1, 3*time.Hour, clock.Real)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "u-1", Message{Role: "user", Content: "one"}))
	require.NoError(t, s.Append(ctx, "u-1", Message{Role: "assistant", Content: "two"}))
	require.NoError(t, s.Append(ctx, "u-1", Message{Role: "user", Content: "three"}))
}

func TestGetClearsSummaryAfterSessionTTLElapses(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC))
	s := newTestStore(t, 50, time.Hour, clk)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "u-1", Message{Role: "user", Content: "hey"}))
	_, err := s.db.ExecContext(ctx, `UPDATE context SET summary = ? WHERE user_id = ?`, "met at a conference", "u-1")
	require.NoError(t, err)

	clk.Advance(2 * time.Hour)
	st, err := s.Get(ctx, "u-1")
	require.NoError(t, err)
	require.Equal(t, "", st.Summary, "summary must be cleared once the session TTL elapses")
	require.Len(t, st.Recent, 1, "recent is unchanged by the session-expiry rule")
}

func TestGetKeepsSummaryWithinSessionTTL(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC))
	s := newTestStore(t, 50, time.Hour, clk)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "u-1", Message{Role: "user", Content: "hey"}))
	_, err := s.db.ExecContext(ctx, `UPDATE context SET summary = ? WHERE user_id = ?`, "met at a conference", "u-1")
	require.NoError(t, err)

	clk.Advance(30 * time.Minute)
	st, err := s.Get(ctx, "u-1")
	require.NoError(t, err)
	require.Equal(t, "met at a conference", st.Summary)
}

func TestClearWipesContext(t *testing.T) {
	s := newTestStore(t, 50, 3*time.Hour, clock.Real)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "u-1", Message{Role: "user", Content: "hey"}))
	require.NoError(t, s.Clear(ctx, "u-1"))

	st, err := s.Get(ctx, "u-1")
	require.NoError(t, err)
	require.Empty(t, st.Recent)
	require.Equal(t, "", st.Summary)
}

func TestStateRenderOmitsEmptySections(t *testing.T) {
	require.Equal(t, "", State{}.Render())

	withSummary := State{Summary: "met at a conference"}.Render()
	require.Contains(t, withSummary, "met at a conference")

	ts := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	withRecent := State{Recent: []Message{{Role: "user", Content: "hi", Timestamp: ts}}}.Render()
	require.Contains(t, withRecent, "user: hi")
}
