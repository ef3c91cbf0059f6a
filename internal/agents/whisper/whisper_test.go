package whisper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/reflective-memory-kernel/internal/focus"
)

func TestRenderFocusNoneWhenEmpty(t *testing.T) {
	assert.Equal(t, "none", renderFocus(nil))
}

func TestRenderFocusIncludesIDContentAndDates(t *testing.T) {
	created := time.Date(2026, 7, 20, 0, 0, 0, 0, time.UTC)
	expected := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	out := renderFocus([]focus.Item{
		{ID: 7, Content: "job interview", CreatedAt: created, ExpectedDate: &expected},
	})
	assert.Contains(t, out, "[ID: 7] job interview")
	assert.Contains(t, out, "recorded_at: 2026-07-20")
	assert.Contains(t, out, "deadline: 2026-08-01")
}

func TestRenderFocusOmitsDeadlineWhenNoExpectedDate(t *testing.T) {
	created := time.Date(2026, 7, 20, 0, 0, 0, 0, time.UTC)
	out := renderFocus([]focus.Item{
		{ID: 3, Content: "settling into new apartment", CreatedAt: created},
	})
	assert.Contains(t, out, "recorded_at: 2026-07-20")
	assert.NotContains(t, out, "deadline")
}

func TestRenderHistoryEmptyIsEmptyString(t *testing.T) {
	assert.Equal(t, "", renderHistory(nil))
}

func TestRenderHistoryKeepsOnlyLastTenMessages(t *testing.T) {
	var history []HistoryMessage
	for i := 0; i < 14; i++ {
		history = append(history, HistoryMessage{Role: "user", Content: "msg"})
	}
	history[13] = HistoryMessage{Role: "assistant", Content: "last message"}
	history[3] = HistoryMessage{Role: "assistant", Content: "should be trimmed away"}

	out := renderHistory(history)
	lines := countLines(out)
	assert.Equal(t, 10, lines)
	assert.Contains(t, out, "last message")
	assert.NotContains(t, out, "should be trimmed away")
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := 1
	for _, r := range s {
		if r == '\n' {
			n++
		}
	}
	return n
}

func TestOrNone(t *testing.T) {
	assert.Equal(t, "none", orNone(""))
	assert.Equal(t, "a summary", orNone("a summary"))
}
