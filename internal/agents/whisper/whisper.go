// Package whisper is the whisper planner: after a turn completes, it
// decides whether the assistant's next reply needs a private strategy
// note injected ahead of it, and if so produces exactly one. Grounded
// verbatim on original_source/agents/whisperer_agent.py — the prompt's
// five input sections, its restraint rules, the focus wire format,
// and the JSON output shape all carry over unchanged.
package whisper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/reflective-memory-kernel/internal/errs"
	"github.com/reflective-memory-kernel/internal/focus"
	"github.com/reflective-memory-kernel/internal/llm"
)

const systemPrompt = `<role>
You are a Whisperer — an information filter.
Your job is to watch the current conversation and, drawing on the
user's recent focus items and profile, pick out what the character
should additionally know going into the next turn.
You do not write the reply and you do not direct how the character
speaks. You only decide: what extra thing should the character know
next turn?
</role>

<input_context>
1. current_time: the current date and time
2. user_profile: the user's basic info, interests, reply preferences, observed behavior
3. recent_focus: things the user is currently dealing with or that are coming up soon (format: [ID: x] content (time info))
4. chat_summary: a summary of the conversation before the recent window, for overall context
5. chat_history: the detailed turns since the summary, up to now
</input_context>

<rules>
1. Restraint: if the current turn needs no extra information, return empty.
   Do not force an injection. Most turns should return empty.
2. At most one injection per turn, to avoid overload.
3. Timing — inject only when:
   a) the latest turn is semantically related to a focus item or profile fact (emotion, topic, or scene), AND
   b) that information has not already been mentioned in chat_history,
   OR
   c) the current time is very close to that item's expected time.
   Both (a) and (b), or (c) alone, must hold before you inject.
   chat_summary is for background only — never a trigger by itself.
4. Urgency: if a focus item is about to expire (tomorrow, the day after), raise its priority.
</rules>

<output_format>
Respond with JSON:
{
    "inject": null or a string — the information to inject,
    "used_focus_id": null or an integer — the ID of the focus item used, if any
}
</output_format>`

// Suggestion is what the planner decided to inject next turn, paired
// with the focus item (if any) it drew on.
type Suggestion struct {
	Inject      string
	UsedFocusID *int64
}

// Planner generates whisper suggestions via a single LLM json() call.
type Planner struct {
	gateway *llm.Gateway
	model   string
}

func NewPlanner(gateway *llm.Gateway, model string) *Planner {
	return &Planner{gateway: gateway, model: model}
}

// Plan decides whether a suggestion should be queued for the user's
// next turn. It returns (nil, nil) when the planner chose not to
// inject — restraint is the expected common case, not a failure.
func (p *Planner) Plan(ctx context.Context, profileJSON string, activeFocus []focus.Item, chatSummary string, history []HistoryMessage, now time.Time) (*Suggestion, error) {
	userPrompt := fmt.Sprintf(
		"<current_time>\n%s\n</current_time>\n\n<user_profile>\n%s\n</user_profile>\n\n<recent_focus>\n%s\n</recent_focus>\n\n<chat_summary>\n%s\n</chat_summary>\n\n<chat_history>\n%s\n</chat_history>\n\nGive your strategy decision based on the above.",
		now.Format("2006-01-02 15:04:05"),
		profileJSON,
		renderFocus(activeFocus),
		orNone(chatSummary),
		renderHistory(history),
	)

	result, err := p.gateway.JSON(ctx, llm.JSONRequest{
		System: systemPrompt,
		User:   userPrompt,
		Model:  p.model,
		Schema: `{"inject": string|null, "used_focus_id": integer|null}`,
	})
	if err != nil {
		return nil, errs.LLMFailure("whisper.Plan", err)
	}

	inject, _ := result["inject"].(string)
	if strings.TrimSpace(inject) == "" {
		return nil, nil
	}

	var focusID *int64
	switch v := result["used_focus_id"].(type) {
	case float64:
		id := int64(v)
		focusID = &id
	case int64:
		focusID = &v
	}

	return &Suggestion{Inject: inject, UsedFocusID: focusID}, nil
}

// HistoryMessage is one turn of the tail window passed to the planner.
type HistoryMessage struct {
	Role    string
	Content string
}

// renderFocus produces the wire format named in spec.md §6:
// "[ID: x] content (recorded_at: ..., deadline: ...)".
func renderFocus(items []focus.Item) string {
	if len(items) == 0 {
		return "none"
	}
	var lines []string
	for _, it := range items {
		line := fmt.Sprintf("[ID: %d] %s", it.ID, it.Content)
		var meta []string
		meta = append(meta, fmt.Sprintf("recorded_at: %s", it.CreatedAt.Format("2006-01-02")))
		if it.ExpectedDate != nil {
			meta = append(meta, fmt.Sprintf("deadline: %s", it.ExpectedDate.Format("2006-01-02")))
		}
		line += " (" + strings.Join(meta, ", ") + ")"
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// renderHistory keeps only the last 10 messages (5 turns), matching
// the original's recent_msgs = chat_history[-10:] slice.
func renderHistory(history []HistoryMessage) string {
	if len(history) == 0 {
		return ""
	}
	if len(history) > 10 {
		history = history[len(history)-10:]
	}
	var lines []string
	for _, m := range history {
		lines = append(lines, fmt.Sprintf("%s: %s", m.Role, m.Content))
	}
	return strings.Join(lines, "\n")
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
