// Package orchestrator ties together the context, profile, focus, and
// memory-engine components around one synchronous chat call per turn,
// with an asynchronous extraction/ingestion tail dispatched for every
// turn after the reply is returned. Grounded on teacher
// internal/kernel/consultation.go (the synchronous retrieve-compose-
// respond handler shape) fused with internal/kernel/ingestion_lock.go
// (per-user lock pattern, here protecting the synchronous path rather
// than ingestion) and internal/kernel/ingestion_workflow.go (the
// Inngest step-durable pattern used for the background tail, see
// tailworkflow.go).
package orchestrator

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reflective-memory-kernel/internal/agents/decision"
	"github.com/reflective-memory-kernel/internal/agents/extraction"
	"github.com/reflective-memory-kernel/internal/agents/whisper"
	"github.com/reflective-memory-kernel/internal/clock"
	memcontext "github.com/reflective-memory-kernel/internal/context"
	"github.com/reflective-memory-kernel/internal/errs"
	"github.com/reflective-memory-kernel/internal/focus"
	"github.com/reflective-memory-kernel/internal/llm"
	"github.com/reflective-memory-kernel/internal/memengine"
	"github.com/reflective-memory-kernel/internal/profile"
	"github.com/reflective-memory-kernel/internal/store"
)

// Config holds orchestrator-level tuning not already owned by one of
// the component stores.
type Config struct {
	ChatModel     string
	RetrieveLimit int // k passed to memengine.Search
}

// Orchestrator composes one turn end to end.
type Orchestrator struct {
	cfg        Config
	clock      clock.Clock
	logger     *zap.Logger
	db         *sql.DB
	gateway    *llm.Gateway
	context    *memcontext.Store
	profile    *profile.Store
	focus      *focus.Store
	memory     *memengine.Engine
	decision   *decision.Agent
	extraction *extraction.Agent
	whisper    *whisper.Planner
	dispatcher *TailDispatcher

	userLocks sync.Map // userID -> *sync.Mutex
}

// New wires one Orchestrator. dispatcher may be nil in tests that only
// exercise the synchronous path; HandleTurn then skips the background
// dispatch without logging.
func New(
	cfg Config,
	c clock.Clock,
	db *sql.DB,
	gateway *llm.Gateway,
	contextStore *memcontext.Store,
	profileStore *profile.Store,
	focusStore *focus.Store,
	memory *memengine.Engine,
	decisionAgent *decision.Agent,
	extractionAgent *extraction.Agent,
	whisperPlanner *whisper.Planner,
	dispatcher *TailDispatcher,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.RetrieveLimit <= 0 {
		cfg.RetrieveLimit = 8
	}
	return &Orchestrator{
		cfg:        cfg,
		clock:      c,
		db:         db,
		gateway:    gateway,
		context:    contextStore,
		profile:    profileStore,
		focus:      focusStore,
		memory:     memory,
		decision:   decisionAgent,
		extraction: extractionAgent,
		whisper:    whisperPlanner,
		dispatcher: dispatcher,
		logger:     logger.Named("orchestrator"),
	}
}

// SetDispatcher wires the background-tail dispatcher after
// construction, since the dispatcher's Inngest client is created from
// the tail workflow that NewTailService registers against this same
// Orchestrator — the two have a circular construction order that a
// late setter breaks cleanly.
func (o *Orchestrator) SetDispatcher(d *TailDispatcher) {
	o.dispatcher = d
}

func (o *Orchestrator) userLock(userID string) *sync.Mutex {
	v, _ := o.userLocks.LoadOrStore(userID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// TurnResult is what HandleTurn returns to its caller.
type TurnResult struct {
	Reply   string
	TraceID string
}

// HandleTurn runs the synchronous path of spec.md §4.J: read context
// (may compact), gate retrieval on the decision agent, read profile,
// consume the whisper (there is no separate peek step earlier in the
// turn), compose the eight-section system prompt,
// call chat, append both messages to context and the audit sink, and
// record a trace. It then dispatches the background tail and returns
// — the tail's own failures never surface here.
//
// No code may hold the per-user mutex across an LLM call except this
// function's single chat call, which is the turn itself (spec.md §5).
func (o *Orchestrator) HandleTurn(ctx context.Context, userID, message string) (*TurnResult, error) {
	lock := o.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	traceID := uuid.NewString()
	now := o.clock.Now()
	steps := newStepTimer()

	ctxState, err := o.context.Get(ctx, userID)
	steps.mark("context")
	if err != nil {
		if recoveryFor(err) == actionSurface {
			return nil, err
		}
		o.logger.Warn("context read failed, composing without it", zap.String("user", userID), zap.Error(err))
		ctxState = memcontext.State{}
	}

	shouldRetrieve, drErr := o.decision.ShouldRetrieve(ctx, message)
	if drErr != nil {
		// Decision defaults on error: should_retrieve defaults true (spec.md §7).
		o.logger.Warn("should_retrieve failed, defaulting to true", zap.String("user", userID), zap.Error(drErr))
		shouldRetrieve = true
	}

	var memoryBlock string
	if shouldRetrieve {
		results, episodes, serr := o.memory.Search(ctx, userID, message, o.cfg.RetrieveLimit, true)
		steps.mark("retrieve")
		if serr != nil {
			o.logger.Warn("memory search failed, composing without memory section", zap.String("user", userID), zap.Error(serr))
		} else {
			memoryBlock = renderMemoryBlock(results, episodes)
		}
	} else {
		steps.mark("retrieve")
	}

	profileSlots, perr := o.profile.Get(ctx, userID)
	steps.mark("profile")
	if perr != nil {
		if recoveryFor(perr) == actionSurface {
			return nil, perr
		}
		o.logger.Warn("profile read failed, composing without profile section", zap.String("user", userID), zap.Error(perr))
		profileSlots = map[string]interface{}{}
	}

	// The whisper is read and marked consumed in one call, here, during
	// composition; no earlier step of the turn peeks at it.
	whisperText, hasWhisper, werr := o.focus.ConsumeWhisper(ctx, userID)
	steps.mark("whisper")
	if werr != nil {
		o.logger.Warn("whisper consume failed, composing without guidance section", zap.String("user", userID), zap.Error(werr))
		hasWhisper = false
	}

	systemPrompt := composePrompt(ctxState, memoryBlock, profileSlots, whisperText, hasWhisper, now)

	reply, cerr := o.gateway.Chat(ctx, llm.ChatRequest{System: systemPrompt, User: message, Model: o.cfg.ChatModel})
	steps.mark("chat")
	if cerr != nil {
		// LLMFailure on the chat call always surfaces; do not
		// partially persist (spec.md §4.J step 3).
		return nil, cerr
	}

	if aerr := o.context.Append(ctx, userID, memcontext.Message{Role: "user", Content: message, Timestamp: now}); aerr != nil {
		o.logger.Error("append user message failed", zap.String("user", userID), zap.Error(aerr))
	}
	if aerr := o.context.Append(ctx, userID, memcontext.Message{Role: "assistant", Content: reply, Timestamp: now}); aerr != nil {
		o.logger.Error("append assistant message failed", zap.String("user", userID), zap.Error(aerr))
	}
	steps.mark("append")

	o.recordAudit(ctx, userID, traceID, "user", message, now)
	o.recordAudit(ctx, userID, traceID, "assistant", reply, now)
	o.recordTrace(ctx, userID, traceID, steps, now)

	if o.dispatcher != nil {
		job := TailJob{UserID: userID, TraceID: traceID, UserMessage: message, AssistantReply: reply, Now: now}
		if derr := o.dispatcher.Dispatch(ctx, job); derr != nil {
			// A failed dispatch only delays the next turn's whisper;
			// it never fails the current turn (spec.md §4.J asynchronous
			// path is fire-and-forget).
			o.logger.Error("background tail dispatch failed", zap.String("user", userID), zap.Error(derr))
		}
	}

	return &TurnResult{Reply: reply, TraceID: traceID}, nil
}

func (o *Orchestrator) recordAudit(ctx context.Context, userID, traceID, role, content string, now time.Time) {
	entry := store.AuditEntry{UserID: userID, TraceID: traceID, Operation: "turn." + role, Status: "ok", Detail: errs.SanitizeString(content)}
	if err := store.RecordAudit(ctx, o.db, entry, now.UTC().Format(time.RFC3339)); err != nil {
		o.logger.Warn("audit write failed", zap.String("user", userID), zap.Error(err))
	}
}

func (o *Orchestrator) recordTrace(ctx context.Context, userID, traceID string, steps *stepTimer, now time.Time) {
	entry := store.AuditEntry{UserID: userID, TraceID: traceID, Operation: "turn.trace", Status: "ok", Detail: steps.render()}
	if err := store.RecordAudit(ctx, o.db, entry, now.UTC().Format(time.RFC3339)); err != nil {
		o.logger.Warn("trace write failed", zap.String("user", userID), zap.Error(err))
	}
}

// stepTimer accumulates per-step latencies for the Trace recorded at
// the end of the synchronous path (spec.md §4.J step 5).
type stepTimer struct {
	last    time.Time
	entries []string
}

func newStepTimer() *stepTimer {
	return &stepTimer{last: time.Now()}
}

func (t *stepTimer) mark(step string) {
	now := time.Now()
	t.entries = append(t.entries, fmt.Sprintf("%s=%s", step, now.Sub(t.last)))
	t.last = now
}

func (t *stepTimer) render() string {
	out := ""
	for i, e := range t.entries {
		if i > 0 {
			out += " "
		}
		out += e
	}
	return out
}
