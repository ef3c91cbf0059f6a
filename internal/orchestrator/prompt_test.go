package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memcontext "github.com/reflective-memory-kernel/internal/context"
	"github.com/reflective-memory-kernel/internal/memengine"
)

func TestComposePromptDropsEmptySections(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	out := composePrompt(memcontext.State{}, "", nil, "", false, now)

	assert.Contains(t, out, "<ROLE>")
	assert.Contains(t, out, "<OUTPUT FORMAT>")
	assert.Contains(t, out, "<ENVIRONMENT>")
	assert.NotContains(t, out, "<MEMORY>")
	assert.NotContains(t, out, "<PROFILE>")
	assert.NotContains(t, out, "<CONTEXT SUMMARY>")
	assert.NotContains(t, out, "<RECENT HISTORY>")
	assert.NotContains(t, out, "<GUIDANCE>")
}

func TestComposePromptIncludesAllPopulatedSections(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	ctxState := memcontext.State{
		Summary: "The user has been discussing a move to a new city.",
		Recent: []memcontext.Message{
			{Role: "user", Content: "I found an apartment", Timestamp: now},
			{Role: "assistant", Content: "That's great news!", Timestamp: now},
		},
	}
	profileSlots := map[string]interface{}{"name": "Alex"}

	out := composePrompt(ctxState, "Known facts about the user, most relevant first:\n- likes tea (current)", profileSlots, "Her lease renewal is due Friday.", true, now)

	for _, header := range []string{"ROLE", "MEMORY", "PROFILE", "CONTEXT SUMMARY", "RECENT HISTORY", "OUTPUT FORMAT", "GUIDANCE", "ENVIRONMENT"} {
		assert.Contains(t, out, "<"+header+">", "missing section %s", header)
	}
	assert.Contains(t, out, "likes tea")
	assert.Contains(t, out, "Her lease renewal is due Friday.")
	assert.Contains(t, out, "I found an apartment")
	assert.Contains(t, out, "2026-07-30 12:00:00 UTC")
}

func TestComposePromptOmitsGuidanceWhenNoWhisper(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	out := composePrompt(memcontext.State{}, "", nil, "this should be ignored", false, now)
	assert.NotContains(t, out, "<GUIDANCE>")
	assert.NotContains(t, out, "this should be ignored")
}

func TestRenderProfileEmptyMap(t *testing.T) {
	assert.Equal(t, "", renderProfile(nil))
	assert.Equal(t, "", renderProfile(map[string]interface{}{}))
}

func TestRenderProfileMarshalsSlots(t *testing.T) {
	s := renderProfile(map[string]interface{}{"name": "Alex"})
	require.NotEmpty(t, s)
	assert.Contains(t, s, "Alex")
}

func TestRenderRecentHistoryJoinsRoleAndContent(t *testing.T) {
	assert.Equal(t, "", renderRecentHistory(nil))
	out := renderRecentHistory([]memcontext.Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	})
	assert.Equal(t, "user: hi\nassistant: hello", out)
}

func TestRenderMemoryBlockEmptyResults(t *testing.T) {
	assert.Equal(t, "", renderMemoryBlock(nil, nil))
}

func TestRenderMemoryBlockMarksCurrentFacts(t *testing.T) {
	past := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := renderMemoryBlock(
		[]memengine.SearchResult{
			{Fact: "lives in Portland"},
			{Fact: "used to live in Seattle", InvalidAt: &past},
		},
		[]memengine.Episode{
			{Description: "moved apartments last spring"},
		},
	)
	assert.Contains(t, out, "- lives in Portland (current)")
	assert.Contains(t, out, "- used to live in Seattle")
	assert.NotContains(t, out, "used to live in Seattle (current)")
	assert.Contains(t, out, "Related past moments:")
	assert.Contains(t, out, "moved apartments last spring")
}
