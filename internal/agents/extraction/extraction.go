// Package extraction is the extraction agent: one LLM json() call per
// turn that proposes profile slot updates, memory items, and focus
// candidates. Grounded on teacher internal/ai/services/extraction.go
// for the chitchat-skip optimization, sanitizePromptInput's
// prompt-injection defenses, and few-shot prompt style — generalized
// from entity-only extraction to the {slot_updates, memory_items,
// recent_focus} shape of spec.md §4.G.
package extraction

import (
	"context"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/reflective-memory-kernel/internal/jsonx"
	"github.com/reflective-memory-kernel/internal/llm"
	"github.com/reflective-memory-kernel/internal/profile"
)

// maxPromptInputLength bounds how much of a single turn is ever fed
// into the prompt, matching the teacher's MaxPromptInputLength.
const maxPromptInputLength = 5000

var chitchatPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(hi|hello|hey|yo|sup)[\s!.?]*$`),
	regexp.MustCompile(`(?i)^(bye|goodbye|see you|later|cya)[\s!.?]*$`),
	regexp.MustCompile(`(?i)^(thanks|thank you|thx|ty)[\s!.?]*$`),
	regexp.MustCompile(`(?i)^(ok|okay|sure|yes|no|yep|nope)[\s!.?]*$`),
	regexp.MustCompile(`(?i)^(good|great|nice|cool|awesome)[\s!.?]*$`),
	regexp.MustCompile(`(?i)^(lol|haha|hehe|xd)[\s!.?]*$`),
	regexp.MustCompile(`^[\s.!?]+$`),
}

var injectionPatterns = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`(?i)(ignore|forget|disregard)\s+(all|previous|the|above|all\s+previous)\s+(instructions?|commands?|directives?|orders?|rules?|constraints?)`), "[REDACTED INSTRUCTION OVERRIDE]"},
	{regexp.MustCompile(`(?i)(override|bypass|circumvent)\s+(instructions?|commands?|rules?|security|constraints?)`), "[REDACTED OVERRIDE ATTEMPT]"},
	{regexp.MustCompile(`(?i)(you are|act as|pretend to be|simulate|roleplay as|become)\s+(an?\s+)?(admin|administrator|root|god|superuser|developer|owner|system)`), "[REDACTED ROLE CHANGE]"},
	{regexp.MustCompile(`(?i)(system|assistant|ai|model):\s*`), "[REDACTED ROLE PREFIX]"},
	{regexp.MustCompile(`(?i)(show|tell|reveal|display|output|print|write|dump|export)\s+(your|the|system)\s+(prompt|instructions?|commands?|rules?|guidelines?|configuration|setup)`), "[REDACTED PROMPT LEAKAGE]"},
	{regexp.MustCompile(`(?i)(output|return|respond)\s+(only|just|nothing but|as)\s+(json|xml|yaml|html|code|script)`), "[REDACTED FORMAT OVERRIDE]"},
	{regexp.MustCompile(`(?i)([\x60]{3}[ \t]*(json|xml|python|javascript|bash|shell)|["]{3}[ \t]*(json|xml|python|javascript))`), "[REDACTED DELIMITER]"},
}

var consecutiveNewlines = regexp.MustCompile(`\n{3,}`)

// MemoryItem is one narrated fact/event/preference the orchestrator
// should hand to the memory engine as an episode.
type MemoryItem struct {
	Content string `json:"content"`
	Type    string `json:"type"`   // event | fact | preference | shared_memory | world_setting
	Source  string `json:"source"` // user | assistant
}

// FocusCandidate is one short-horizon concern eligible for the focus
// store.
type FocusCandidate struct {
	Content      string `json:"content"`
	Evidence     string `json:"evidence"`
	ExpectedDate string `json:"expected_date,omitempty"`
}

// Result is the extraction agent's output shape, exactly spec.md §4.G.
type Result struct {
	SlotUpdates []profile.Update `json:"slot_updates"`
	MemoryItems []MemoryItem     `json:"memory_items"`
	RecentFocus []FocusCandidate `json:"recent_focus"`
}

// Agent turns one turn's worth of conversation into slot updates,
// memory items, and focus candidates.
type Agent struct {
	gateway *llm.Gateway
	model   string
	logger  *zap.Logger
}

func New(gateway *llm.Gateway, model string, logger *zap.Logger) *Agent {
	return &Agent{gateway: gateway, model: model, logger: logger.Named("extraction")}
}

// Extract runs the extraction agent over one turn. now anchors the
// rewriting of relative time phrases ("this Friday") to absolute
// dates, per spec.md §4.G. On any failure it returns an empty Result
// rather than an error — extraction must never block the turn.
func (a *Agent) Extract(ctx context.Context, userMessage, assistantReply string, now time.Time) Result {
	// The chitchat-skip check only suppresses memory_items extraction:
	// unlike the teacher's all-or-nothing skip, slot/focus extraction
	// still runs, since short acknowledgements can follow a
	// substantive turn the decision agent already chose to extract.
	skipMemory := isChitchat(userMessage)

	safeUser := sanitizePromptInput(userMessage)
	safeReply := sanitizePromptInput(assistantReply)
	if len(safeUser) < len(userMessage)/2 {
		a.logger.Warn("user turn heavily sanitized, possible injection attempt",
			zap.Int("original_len", len(userMessage)), zap.Int("sanitized_len", len(safeUser)))
	}

	prompt := buildPrompt(safeUser, safeReply, now)
	raw, err := a.gateway.JSON(ctx, llm.JSONRequest{
		System: systemPrompt,
		User:   prompt,
		Model:  a.model,
		Schema: `{"slot_updates":[{"slot":string,"value":any}],"memory_items":[{"content":string,"type":string,"source":string}],"recent_focus":[{"content":string,"evidence":string,"expected_date":string|null}]}`,
	})
	if err != nil {
		a.logger.Warn("extraction failed, returning empty result", zap.Error(err))
		return Result{}
	}

	var result Result
	reencoded, err := jsonx.Marshal(raw)
	if err != nil {
		return Result{}
	}
	if err := jsonx.Unmarshal(reencoded, &result); err != nil {
		a.logger.Warn("extraction result did not match expected shape", zap.Error(err))
		return Result{}
	}

	result.SlotUpdates = filterValidSlots(result.SlotUpdates)
	if skipMemory {
		result.MemoryItems = nil
	}
	return result
}

func filterValidSlots(updates []profile.Update) []profile.Update {
	out := updates[:0]
	for _, u := range updates {
		if profile.IsValidSlot(u.Slot) {
			out = append(out, u)
		}
	}
	return out
}

const systemPrompt = `Extract structured memory from this conversation turn. Respond with a single JSON object:
{ "slot_updates": [{"slot": "...", "value": "..."}],
  "memory_items": [{"content": "...", "type": "event|fact|preference|shared_memory|world_setting", "source": "user|assistant"}],
  "recent_focus": [{"content": "...", "evidence": "...", "expected_date": "YYYY-MM-DD or null"}] }

Rules:
- slot must be one of the closed set of profile slots (identity, lifestyle, communication preference, trait, need, and deep-psychology keys); anything else is dropped downstream, so only propose slots you are confident about.
- memory_items content is always third-person narration; rewrite first-person pronouns ("I like hiking" -> "The user likes hiking").
- A recent_focus item needs both timeliness (happening now, imminent, or just-happened-and-ongoing) AND emotional salience (something the character could reasonably bring up that would make the user feel cared for). Do not promote a past, idle event to focus.
- Rewrite relative time phrases ("the day after tomorrow", "this Friday") to absolute dates in both content and expected_date, anchored on the current date given below.
- When the assistant's reply introduces world-setting or a shared memory, record it as a memory_item with source="assistant".
- Return empty arrays for anything not found. Never wrap the JSON in markdown fences.`

func buildPrompt(userMessage, assistantReply string, now time.Time) string {
	var b strings.Builder
	b.WriteString("current_date: ")
	b.WriteString(now.Format("2006-01-02 (Monday)"))
	b.WriteString("\n\nUser: \"")
	b.WriteString(userMessage)
	b.WriteString("\"\nAssistant: \"")
	b.WriteString(assistantReply)
	b.WriteString("\"\n")
	return b.String()
}

func isChitchat(text string) bool {
	text = strings.TrimSpace(text)
	if len(text) < 3 {
		return true
	}
	for _, p := range chitchatPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// sanitizePromptInput defends against prompt injection the way the
// teacher's extraction service does: truncate, strip control
// characters, neutralize known injection phrasings, escape prompt
// delimiters, and collapse runaway whitespace.
func sanitizePromptInput(text string) string {
	if text == "" {
		return ""
	}
	if len(text) > maxPromptInputLength {
		text = text[:maxPromptInputLength] + "..."
	}

	var sanitized strings.Builder
	for _, ch := range text {
		if ch == '\n' || ch == '\t' || (ch >= 32 && ch != 127) {
			sanitized.WriteRune(ch)
		}
	}
	text = sanitized.String()

	for _, p := range injectionPatterns {
		text = p.pattern.ReplaceAllString(text, p.replacement)
	}

	text = strings.ReplaceAll(text, `"""`, `\"\"\"`)
	text = strings.ReplaceAll(text, `'''`, `\'\'\'`)
	text = strings.ReplaceAll(text, "```", "\\`\\`\\`")

	text = consecutiveNewlines.ReplaceAllString(text, "\n\n")
	return text
}
