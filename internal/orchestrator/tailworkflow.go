package orchestrator

import (
	"context"
	"time"

	"github.com/inngest/inngestgo"
	"github.com/inngest/inngestgo/step"
	"go.uber.org/zap"

	"github.com/reflective-memory-kernel/internal/agents/extraction"
	"github.com/reflective-memory-kernel/internal/agents/whisper"
	memcontext "github.com/reflective-memory-kernel/internal/context"
)

// TailEventInput is the Inngest event payload for "turn.tail.ready",
// produced by TailDispatcher.Subscribe from a queued TailJob.
type TailEventInput struct {
	UserID         string `json:"user_id"`
	TraceID        string `json:"trace_id"`
	UserMessage    string `json:"user_message"`
	AssistantReply string `json:"assistant_reply"`
	Now            string `json:"now"`
}

// TailOutput summarizes what the background tail did, for Inngest's
// own run history.
type TailOutput struct {
	Success        bool `json:"success"`
	MemoryItems    int  `json:"memory_items"`
	FocusAdded     int  `json:"focus_added"`
	WhisperPlanned bool `json:"whisper_planned"`
}

// tailWorkflow implements spec.md §4.J's asynchronous path as an
// Inngest step function: extract, then apply slot updates and add
// focus items, then ingest memory items one at a time (the graph
// writer is single-writer per user, spec.md §5), then — seeing the
// now-updated profile and focus stores — run whisper planning and
// persist its output. Each stage is its own step.Run so a transient
// failure in one retries independently without redoing earlier
// stages, mirroring teacher ingestion_workflow.go's step boundaries.
//
// Per spec.md §7, the background tail never fails the turn and never
// retries inline: every stage catches its own errors internally and
// returns a zero-value result rather than propagating, so Inngest's
// own retry machinery is never invoked for business-logic failures —
// only for the step call itself panicking or timing out.
func tailWorkflow(o *Orchestrator) func(ctx context.Context, input inngestgo.Input[TailEventInput]) (any, error) {
	return func(ctx context.Context, input inngestgo.Input[TailEventInput]) (any, error) {
		data := input.Event.Data
		logger := o.logger.With(zap.String("user", data.UserID), zap.String("trace", data.TraceID))

		now, err := time.Parse(time.RFC3339, data.Now)
		if err != nil {
			now = o.clock.Now()
		}

		extractRes, stepErr := step.Run(ctx, "extract-and-apply", func(ctx context.Context) (extraction.Result, error) {
			res := o.extraction.Extract(ctx, data.UserMessage, data.AssistantReply, now)

			if len(res.SlotUpdates) > 0 {
				if err := o.profile.Apply(ctx, data.UserID, res.SlotUpdates, nil); err != nil {
					logger.Warn("profile apply failed in background tail", zap.Error(err))
				}
			}
			for _, fc := range res.RecentFocus {
				var expected *time.Time
				if fc.ExpectedDate != "" {
					if t, perr := time.Parse("2006-01-02", fc.ExpectedDate); perr == nil {
						expected = &t
					}
				}
				if err := o.focus.AddFocus(ctx, data.UserID, fc.Content, expected); err != nil {
					logger.Warn("add focus failed in background tail", zap.Error(err))
				}
			}
			return res, nil
		})
		if stepErr != nil {
			logger.Warn("extract-and-apply step errored, tail ends here", zap.Error(stepErr))
			return TailOutput{Success: false}, nil
		}

		added, stepErr := step.Run(ctx, "add-episodes", func(ctx context.Context) (int, error) {
			count := 0
			for _, mi := range extractRes.MemoryItems {
				if err := o.memory.AddEpisode(ctx, data.UserID, mi.Content, mi.Type, now, mi.Type+" from "+mi.Source); err != nil {
					logger.Warn("add_episode failed in background tail", zap.String("type", mi.Type), zap.Error(err))
					continue
				}
				count++
			}
			return count, nil
		})
		if stepErr != nil {
			logger.Warn("add-episodes step errored, skipping whisper planning this turn", zap.Error(stepErr))
			return TailOutput{Success: false, MemoryItems: added, FocusAdded: len(extractRes.RecentFocus)}, nil
		}

		planned, stepErr := step.Run(ctx, "whisper-plan", func(ctx context.Context) (bool, error) {
			return o.planWhisper(ctx, data.UserID, now, logger)
		})
		if stepErr != nil {
			logger.Warn("whisper-plan step errored", zap.Error(stepErr))
		}

		return TailOutput{
			Success:        true,
			MemoryItems:    added,
			FocusAdded:     len(extractRes.RecentFocus),
			WhisperPlanned: planned,
		}, nil
	}
}

// planWhisper gathers the now-updated profile, active focus, and
// context-summary/recent-history inputs, runs the whisper planner,
// and persists its output. It must run after extraction and episode
// ingestion have completed (spec.md §4.J asynchronous path step 3),
// never in parallel with them.
func (o *Orchestrator) planWhisper(ctx context.Context, userID string, now time.Time, logger *zap.Logger) (bool, error) {
	profileSlots, err := o.profile.Get(ctx, userID)
	if err != nil {
		logger.Warn("whisper: profile read failed", zap.Error(err))
		profileSlots = map[string]interface{}{}
	}
	profileJSON := renderProfileJSON(profileSlots)

	activeFocus, err := o.focus.ActiveFocus(ctx, userID)
	if err != nil {
		logger.Warn("whisper: active focus read failed", zap.Error(err))
		activeFocus = nil
	}

	ctxState, err := o.context.Get(ctx, userID)
	if err != nil {
		logger.Warn("whisper: context read failed", zap.Error(err))
	}
	history := renderWhisperHistory(ctxState.Recent)

	// Empty-workload skip (spec.md §4.I): with nothing to reason
	// about — no profile, no active focus, and fewer than two
	// messages of history — the planner would have no grounds to
	// inject anything, so it is never invoked.
	if len(profileSlots) == 0 && len(activeFocus) == 0 && len(history) < 2 {
		return false, nil
	}

	suggestion, err := o.whisper.Plan(ctx, profileJSON, activeFocus, ctxState.Summary, history, now)
	if err != nil {
		logger.Warn("whisper planning failed", zap.Error(err))
		return false, nil
	}
	if suggestion == nil {
		return false, nil
	}

	if err := o.focus.SaveWhisper(ctx, userID, suggestion.Inject); err != nil {
		logger.Warn("whisper save failed", zap.Error(err))
		// A saved-but-unmarked-injected focus, or vice versa, is a
		// tolerated inconsistency per spec.md §7: the next turn just
		// sees no whisper and the focus stays in cooldown.
		return false, nil
	}
	if suggestion.UsedFocusID != nil {
		if err := o.focus.MarkInjected(ctx, *suggestion.UsedFocusID); err != nil {
			logger.Warn("mark focus injected failed", zap.Error(err))
		}
	}
	return true, nil
}

func renderProfileJSON(slots map[string]interface{}) string {
	if s := renderProfile(slots); s != "" {
		return s
	}
	return "{}"
}

func renderWhisperHistory(recent []memcontext.Message) []whisper.HistoryMessage {
	out := make([]whisper.HistoryMessage, len(recent))
	for i, m := range recent {
		out[i] = whisper.HistoryMessage{Role: m.Role, Content: m.Content}
	}
	return out
}
