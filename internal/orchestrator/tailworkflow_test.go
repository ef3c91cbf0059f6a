package orchestrator

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/reflective-memory-kernel/internal/clock"
	memcontext "github.com/reflective-memory-kernel/internal/context"
	"github.com/reflective-memory-kernel/internal/focus"
	"github.com/reflective-memory-kernel/internal/profile"

	_ "modernc.org/sqlite"
)

// TestTailWorkflowFunctionConstructs mirrors teacher
// ingestion_workflow_test.go's TestIngestionWorkflowFunction: it only
// checks that the closure is built, since actually invoking it needs
// a live Inngest step executor the pack provides no fake for.
func TestTailWorkflowFunctionConstructs(t *testing.T) {
	o := &Orchestrator{logger: zaptest.NewLogger(t)}
	fn := tailWorkflow(o)
	assert.NotNil(t, fn)
}

func TestRenderProfileJSONFallsBackToEmptyObject(t *testing.T) {
	assert.Equal(t, "{}", renderProfileJSON(nil))
	assert.Equal(t, "{}", renderProfileJSON(map[string]interface{}{}))

	out := renderProfileJSON(map[string]interface{}{"name": "Alex"})
	assert.Contains(t, out, "Alex")
}

// TestPlanWhisperSkipsOnEmptyWorkload builds an Orchestrator whose
// profile, focus, and context stores are all genuinely empty for the
// user and whose whisper planner is left nil: if the empty-workload
// skip (spec.md §4.I) were missing, this would panic on a nil-pointer
// call to Plan instead of returning cleanly.
func TestPlanWhisperSkipsOnEmptyWorkload(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, profile.Migrate(context.Background(), db))
	require.NoError(t, focus.Migrate(context.Background(), db))
	require.NoError(t, memcontext.Migrate(context.Background(), db))

	clk := clock.NewFixed(time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC))
	o := &Orchestrator{
		clock:   clk,
		context: memcontext.NewStore(db, nil, nil, clk, 50, 3*time.Hour, zaptest.NewLogger(t)),
		profile: profile.NewStore(db, zaptest.NewLogger(t)),
		focus:   focus.NewStore(db, clk, zaptest.NewLogger(t)),
		whisper: nil,
		logger:  zaptest.NewLogger(t),
	}

	planned, err := o.planWhisper(context.Background(), "u-1", clk.Now(), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.False(t, planned)
}

func TestRenderWhisperHistoryCopiesRoleAndContent(t *testing.T) {
	assert.Empty(t, renderWhisperHistory(nil))

	out := renderWhisperHistory([]memcontext.Message{
		{Role: "user", Content: "I'm nervous about the interview"},
		{Role: "assistant", Content: "You'll do great"},
	})
	if assert.Len(t, out, 2) {
		assert.Equal(t, "user", out[0].Role)
		assert.Equal(t, "I'm nervous about the interview", out[0].Content)
		assert.Equal(t, "assistant", out[1].Role)
		assert.Equal(t, "You'll do great", out[1].Content)
	}
}
