// Package decision is the decision agent: cheap regex-rule checks for
// the common case, falling back to an LLM json() call only when the
// rules are inconclusive. Grounded on
// internal/precortex/classifier.go's regex-family structure and
// internal/precortex/precortex.go's cheap-path-before-LLM pipeline
// shape, generalized from response shortcutting to decision
// shortcutting.
package decision

import (
	"context"
	"regexp"
	"strings"

	"github.com/reflective-memory-kernel/internal/errs"
	"github.com/reflective-memory-kernel/internal/llm"
)

func compilePatterns(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if re, err := regexp.Compile("(?i)" + p); err == nil {
			compiled = append(compiled, re)
		}
	}
	return compiled
}

var factRetrievalPatterns = compilePatterns([]string{
	`^what\s+(is|are|was|were)\s+(my|the)`,
	`^(tell|show)\s+me\s+(my|about)`,
	`^(list|get|fetch|find)\s+(my|all)`,
	`^who\s+(is|are|was)`,
	`^when\s+(did|was|is)`,
	`^where\s+(is|are|did)`,
	`^(do|did)\s+i\s+(have|know|like|say)`,
	`\?(my|email|name|phone|address|age|birthday)`,
})

var timeDeicticPatterns = compilePatterns([]string{
	`\b(yesterday|last\s+(week|month|year)|earlier|before|previously)\b`,
	`\b(remember|recall|mentioned|told\s+you|said\s+(before|earlier))\b`,
	`\b(again|still|anymore|used\s+to)\b`,
})

var chitchatPatterns = compilePatterns([]string{
	`^(hi|hello|hey|yo|sup|greetings)[\s!.?]*$`,
	`^good\s+(morning|afternoon|evening|day)[\s!.?]*$`,
	`^(thanks|thank\s+you|thx|ty|ok|okay|k|cool|nice|lol|haha)[\s!.?]*$`,
	`^(bye|goodbye|see\s+you|later|cya)[\s!.?]*$`,
})

var explicitRememberPatterns = compilePatterns([]string{
	`\bremember\s+(that|this)\b`,
	`\bdon'?t\s+forget\b`,
	`\bkeep\s+(this|that)\s+in\s+mind\b`,
	`\bmake\s+a\s+note\b`,
})

// Agent decides should_retrieve/should_store for a turn.
type Agent struct {
	gateway *llm.Gateway
	model   string
}

func New(gateway *llm.Gateway, model string) *Agent {
	return &Agent{gateway: gateway, model: model}
}

// ShouldRetrieve reports whether the turn orchestrator should run a
// memory search before composing the prompt. The cheap regex path
// handles the common explicit-recall case; everything else falls
// back to an LLM call.
func (a *Agent) ShouldRetrieve(ctx context.Context, message string) (bool, error) {
	msg := strings.ToLower(strings.TrimSpace(message))
	if len(msg) < 2 {
		return false, nil
	}
	for _, p := range factRetrievalPatterns {
		if p.MatchString(msg) {
			return true, nil
		}
	}
	for _, p := range timeDeicticPatterns {
		if p.MatchString(msg) {
			return true, nil
		}
	}
	for _, p := range chitchatPatterns {
		if p.MatchString(msg) {
			return false, nil
		}
	}

	result, err := a.gateway.JSON(ctx, llm.JSONRequest{
		System: "Decide whether answering this message requires recalling facts about the user from memory. Respond strictly with the requested shape.",
		User:   message,
		Model:  a.model,
		Schema: `{"should_retrieve": boolean}`,
	})
	if err != nil {
		return false, errs.LLMFailure("decision.ShouldRetrieve", err)
	}
	should, _ := result["should_retrieve"].(bool)
	return should, nil
}

// ShouldStore reports whether the turn is worth extracting memory
// from at all — chitchat is skipped outright, an explicit
// "remember this" always passes, everything else falls back to an
// LLM call.
func (a *Agent) ShouldStore(ctx context.Context, message string) (bool, error) {
	msg := strings.ToLower(strings.TrimSpace(message))
	if len(msg) < 2 {
		return false, nil
	}
	for _, p := range chitchatPatterns {
		if p.MatchString(msg) {
			return false, nil
		}
	}
	for _, p := range explicitRememberPatterns {
		if p.MatchString(msg) {
			return true, nil
		}
	}

	result, err := a.gateway.JSON(ctx, llm.JSONRequest{
		System: "Decide whether this message contains anything worth remembering about the user long-term. Respond strictly with the requested shape.",
		User:   message,
		Model:  a.model,
		Schema: `{"should_store": boolean}`,
	})
	if err != nil {
		return false, errs.LLMFailure("decision.ShouldStore", err)
	}
	should, _ := result["should_store"].(bool)
	return should, nil
}
