// Package context is the short-term rolling context manager: a
// per-user sliding window of recent messages plus a running summary,
// compacted into the summary once the window overflows. Layout
// follows original_source/services/context_service.py (summary +
// recent-messages sections); persistence and the read-through cache
// reuse the teacher's SQLite-row-as-source-of-truth /
// ristretto-L1-cache pattern from internal/memory/hot_cache.go and
// internal/cache/ristretto.go.
package memcontext

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	rcache "github.com/reflective-memory-kernel/internal/cache"
	"github.com/reflective-memory-kernel/internal/clock"
	"github.com/reflective-memory-kernel/internal/errs"
	"github.com/reflective-memory-kernel/internal/jsonx"
	"github.com/reflective-memory-kernel/internal/llm"
)

// Message is one turn's worth of rolling context.
type Message struct {
	Role      string    `json:"role"` // "user" | "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// State is a user's full short-term context.
type State struct {
	Summary   string    `json:"summary"`
	Recent    []Message `json:"recent"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// retainedOnCompact is how many trailing messages of Recent survive a
// compaction, per spec.md §4.D: "the last two messages of recent are
// retained (to avoid a cold context), and the rest are dropped."
const retainedOnCompact = 2

// Store persists rolling context per user.
type Store struct {
	db               *sql.DB
	l1               *rcache.L1Cache
	gateway          *llm.Gateway
	clk              clock.Clock
	logger           *zap.Logger
	compactThreshold int           // R: compaction fires when len(recent)/2 >= R
	sessionTTL       time.Duration // T_session: summary is cleared once updated_at is older than this
}

func NewStore(db *sql.DB, l1 *rcache.L1Cache, gateway *llm.Gateway, clk clock.Clock, compactThreshold int, sessionTTL time.Duration, logger *zap.Logger) *Store {
	return &Store{
		db:               db,
		l1:               l1,
		gateway:          gateway,
		clk:              clk,
		compactThreshold: compactThreshold,
		sessionTTL:       sessionTTL,
		logger:           logger.Named("context"),
	}
}

// Migrate creates the context table.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS context (
			user_id TEXT PRIMARY KEY,
			summary TEXT NOT NULL DEFAULT '',
			recent_json TEXT NOT NULL DEFAULT '[]',
			updated_at TEXT NOT NULL
		)
	`)
	return err
}

func cacheKey(userID string) string { return "ctx:" + userID }

// Get returns the user's current rolling context. Per spec.md §4.D it
// applies, in order: (1) session expiry — if a summary exists and it
// has been more than sessionTTL since the last append, the summary is
// cleared and the clearing is persisted before anything else runs;
// (2) compaction, if the window has grown past compactThreshold.
// Neither step is triggered from Append; both are deferred to the
// next read.
func (s *Store) Get(ctx context.Context, userID string) (State, error) {
	st, err := s.fetch(ctx, userID)
	if err != nil {
		return State{}, err
	}

	dirty := false
	now := s.clk.Now()
	if st.Summary != "" && !st.UpdatedAt.IsZero() && now.Sub(st.UpdatedAt) > s.sessionTTL {
		st.Summary = ""
		dirty = true
	}

	if len(st.Recent)/2 >= s.compactThreshold {
		if err := s.compact(ctx, &st); err != nil {
			// Compaction failing is not fatal to reading the context:
			// the window just stays over-size until the next read.
			s.logger.Warn("context compaction failed", zap.String("user_id", userID), zap.Error(err))
		} else {
			dirty = true
		}
	}

	if dirty {
		if err := s.save(ctx, userID, st); err != nil {
			return State{}, err
		}
	}
	return st, nil
}

// fetch loads the raw, unexpired, uncompacted state from the L1 cache
// or, failing that, the database.
func (s *Store) fetch(ctx context.Context, userID string) (State, error) {
	if s.l1 != nil {
		if raw, ok := s.l1.Get(ctx, cacheKey(userID)); ok {
			var st State
			if err := jsonx.Unmarshal(raw, &st); err == nil {
				return st, nil
			}
		}
	}

	row := s.db.QueryRowContext(ctx, `SELECT summary, recent_json, updated_at FROM context WHERE user_id = ?`, userID)
	var summary, recentJSON, updatedAtStr string
	if err := row.Scan(&summary, &recentJSON, &updatedAtStr); err != nil {
		if err == sql.ErrNoRows {
			return State{}, nil
		}
		return State{}, errs.StoreUnavailable("context.Get", err)
	}

	var recent []Message
	if err := jsonx.UnmarshalFromString(recentJSON, &recent); err != nil {
		return State{}, errs.ValidationFailure("context.Get", err)
	}
	updatedAt, _ := time.Parse(time.RFC3339, updatedAtStr)
	st := State{Summary: summary, Recent: recent, UpdatedAt: updatedAt}
	s.cacheSet(ctx, userID, st)
	return st, nil
}

// Append adds msg to the user's window and bumps updated_at. No
// compaction is triggered here; compaction is deferred to the next
// read, per spec.md §4.D.
func (s *Store) Append(ctx context.Context, userID string, msg Message) error {
	st, err := s.fetch(ctx, userID)
	if err != nil {
		return err
	}
	st.Recent = append(st.Recent, msg)
	st.UpdatedAt = s.clk.Now().UTC()

	return s.save(ctx, userID, st)
}

// compact summarizes everything in Recent before the trailing
// retainedOnCompact messages into Summary, and trims Recent to that
// tail.
func (s *Store) compact(ctx context.Context, st *State) error {
	if len(st.Recent) <= retainedOnCompact {
		return nil
	}
	overflow := st.Recent[:len(st.Recent)-retainedOnCompact]

	var transcript string
	for _, m := range overflow {
		transcript += fmt.Sprintf("%s: %s\n", m.Role, m.Content)
	}

	prompt := fmt.Sprintf("Existing summary:\n%s\n\nNew messages to fold in:\n%s\n\nProduce an updated, concise running summary.", st.Summary, transcript)
	updated, err := s.gateway.Chat(ctx, llm.ChatRequest{
		System: "You maintain a compact running summary of an ongoing conversation. Be terse and factual.",
		User:   prompt,
	})
	if err != nil {
		return errs.LLMFailure("context.compact", err)
	}

	st.Summary = updated
	st.Recent = st.Recent[len(st.Recent)-retainedOnCompact:]
	return nil
}

func (s *Store) save(ctx context.Context, userID string, st State) error {
	recentJSON, err := jsonx.MarshalToString(st.Recent)
	if err != nil {
		return errs.ValidationFailure("context.save", err)
	}
	updatedAt := st.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = s.clk.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO context (user_id, summary, recent_json, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET summary = excluded.summary, recent_json = excluded.recent_json, updated_at = excluded.updated_at
	`, userID, st.Summary, recentJSON, updatedAt.Format(time.RFC3339))
	if err != nil {
		return errs.StoreUnavailable("context.save", err)
	}
	st.UpdatedAt = updatedAt
	s.cacheSet(ctx, userID, st)
	return nil
}

func (s *Store) cacheSet(ctx context.Context, userID string, st State) {
	if s.l1 == nil {
		return
	}
	raw, err := jsonx.Marshal(st)
	if err != nil {
		return
	}
	if err := s.l1.Set(ctx, cacheKey(userID), raw); err != nil {
		s.logger.Debug("context cache set failed", zap.Error(err))
	}
}

// Clear wipes a user's rolling context, part of a full account wipe.
func (s *Store) Clear(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM context WHERE user_id = ?`, userID)
	if err != nil {
		return errs.StoreUnavailable("context.Clear", err)
	}
	if s.l1 != nil {
		_ = s.l1.Delete(ctx, cacheKey(userID))
	}
	return nil
}

// Render produces the deterministic prompt layout
// original_source/services/context_service.py used: a summary header
// followed by the recent-turns transcript.
func (st State) Render() string {
	out := ""
	if st.Summary != "" {
		out += "前情提要:\n" + st.Summary + "\n\n"
	}
	if len(st.Recent) > 0 {
		out += "最近对话:\n"
		for _, m := range st.Recent {
			out += fmt.Sprintf("%s: %s\n", m.Role, m.Content)
		}
	}
	return out
}
