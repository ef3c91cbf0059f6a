package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/valyala/bytebufferpool"

	memcontext "github.com/reflective-memory-kernel/internal/context"
	"github.com/reflective-memory-kernel/internal/jsonx"
	"github.com/reflective-memory-kernel/internal/memengine"
)

const roleSection = `You are a conversational companion with a persistent memory of this
user across every prior conversation. Use what you know about them
naturally; never recite raw data back at them or mention that you
"looked something up."`

const outputFormatSection = `Reply in plain conversational text. Do not wrap your reply in JSON,
markdown code fences, or any structured format — write the way you
would actually speak to the user.`

type promptSection struct {
	header string
	body   string
}

// composePrompt assembles the system message as the ordered,
// empty-section-dropping concatenation named in spec.md §4.J step 2,
// generalized from teacher consultation.go's buildSystemPrompt (there,
// a single conditional "MEMORY CONTEXT" block; here, all eight
// sections follow the same drop-if-empty rule). The user's own turn
// ("task") is not a section here — it travels as llm.ChatRequest.User,
// per SPEC_FULL.md §4.J's note that the eight sections are the system
// message and "task" is the trailing user message.
func composePrompt(ctxState memcontext.State, memoryBlock string, profileSlots map[string]interface{}, whisperText string, hasWhisper bool, now time.Time) string {
	sections := []promptSection{
		{"ROLE", roleSection},
		{"MEMORY", memoryBlock},
		{"PROFILE", renderProfile(profileSlots)},
		{"CONTEXT SUMMARY", strings.TrimSpace(ctxState.Summary)},
		{"RECENT HISTORY", renderRecentHistory(ctxState.Recent)},
		{"OUTPUT FORMAT", outputFormatSection},
		{"GUIDANCE", ""},
		{"ENVIRONMENT", fmt.Sprintf("Current time: %s", now.Format("2006-01-02 15:04:05 MST"))},
	}
	if hasWhisper {
		sections[6].body = whisperText
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	first := true
	for _, s := range sections {
		if strings.TrimSpace(s.body) == "" {
			continue
		}
		if !first {
			buf.WriteString("\n\n")
		}
		first = false
		buf.WriteString("<")
		buf.WriteString(s.header)
		buf.WriteString(">\n")
		buf.WriteString(s.body)
		buf.WriteString("\n</")
		buf.WriteString(s.header)
		buf.WriteString(">")
	}
	return buf.String()
}

func renderProfile(slots map[string]interface{}) string {
	if len(slots) == 0 {
		return ""
	}
	s, err := jsonx.MarshalToString(slots)
	if err != nil {
		return ""
	}
	return s
}

func renderRecentHistory(recent []memcontext.Message) string {
	if len(recent) == 0 {
		return ""
	}
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	for i, m := range recent {
		if i > 0 {
			buf.WriteString("\n")
		}
		buf.WriteString(m.Role)
		buf.WriteString(": ")
		buf.WriteString(m.Content)
	}
	return buf.String()
}

// renderMemoryBlock formats hybrid-search hits and their backfilled
// source episodes into the MEMORY section body.
func renderMemoryBlock(results []memengine.SearchResult, episodes []memengine.Episode) string {
	if len(results) == 0 {
		return ""
	}
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	buf.WriteString("Known facts about the user, most relevant first:")
	for _, r := range results {
		buf.WriteString("\n- ")
		buf.WriteString(r.Fact)
		if r.InvalidAt == nil {
			buf.WriteString(" (current)")
		}
	}
	if len(episodes) > 0 {
		buf.WriteString("\n\nRelated past moments:")
		for _, ep := range episodes {
			buf.WriteString("\n- ")
			buf.WriteString(ep.Description)
		}
	}
	return buf.String()
}
