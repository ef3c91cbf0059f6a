// Package profile is the typed profile slot store: a per-user map of
// a closed set of slot keys, each with its own merge strategy, backed
// by SQLite the way original_source/services/profile_service.py kept
// one row per user with the slots serialized as a JSON blob.
package profile

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/reflective-memory-kernel/internal/errs"
	"github.com/reflective-memory-kernel/internal/jsonx"
)

// MergeStrategy controls how a new extracted value combines with an
// existing slot value.
type MergeStrategy string

const (
	MergeReplace    MergeStrategy = "replace"
	MergeAppend     MergeStrategy = "append"
	MergeAdjudicate MergeStrategy = "adjudicate"
)

// SlotStrategies is the closed slot enum from SPEC_FULL.md §3.1,
// grouped by family, mapped to its merge strategy.
var SlotStrategies = map[string]MergeStrategy{
	// identity
	"nickname":             MergeReplace,
	"age_range":             MergeReplace,
	"gender":                MergeReplace,
	"occupation":            MergeReplace,
	"location":              MergeReplace,
	"relationship_status":   MergeReplace,
	// lifestyle
	"hobbies":               MergeAppend,
	"daily_routine":         MergeAppend,
	"dietary_restrictions":  MergeAppend,
	"pets":                  MergeAppend,
	// communication preference
	"preferred_tone":            MergeReplace,
	"preferred_address":         MergeReplace,
	"reply_length_preference":   MergeReplace,
	"topics_to_avoid":           MergeAppend,
	// traits
	"personality_traits": MergeAppend,
	"values":              MergeAppend,
	"sense_of_humor":      MergeReplace,
	// needs
	"current_goals":       MergeAppend,
	"support_needs":       MergeAppend,
	"recurring_concerns":  MergeAppend,
	// deep psychology
	"attachment_style":     MergeAdjudicate,
	"core_fears":           MergeAdjudicate,
	"coping_patterns":      MergeAdjudicate,
	"self_image":           MergeAdjudicate,
	"relationship_patterns": MergeAdjudicate,
	"emotional_triggers":   MergeAdjudicate,
}

// IsValidSlot reports whether key is part of the closed slot enum.
func IsValidSlot(key string) bool {
	_, ok := SlotStrategies[key]
	return ok
}

// Update is a single slot's proposed new value, as produced by the
// extraction agent.
type Update struct {
	Slot  string      `json:"slot"`
	Value interface{} `json:"value"`
}

// Adjudicator synthesizes an old and new value for an "adjudicate"
// slot — normally a single LLM call, injected so the store itself has
// no LLM dependency.
type Adjudicator interface {
	Adjudicate(ctx context.Context, slot string, oldValue, newValue interface{}) (interface{}, error)
}

// Store persists one slot map per user.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewStore(db *sql.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger.Named("profile")}
}

// Migrate creates the profile table if it does not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS profile (
			user_id TEXT PRIMARY KEY,
			slots_json TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`)
	return err
}

// Get returns the user's slot map, or an empty map if none exists yet.
func (s *Store) Get(ctx context.Context, userID string) (map[string]interface{}, error) {
	row := s.db.QueryRowContext(ctx, `SELECT slots_json FROM profile WHERE user_id = ?`, userID)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return map[string]interface{}{}, nil
		}
		return nil, errs.StoreUnavailable("profile.Get", err)
	}
	var slots map[string]interface{}
	if err := jsonx.UnmarshalFromString(raw, &slots); err != nil {
		return nil, errs.ValidationFailure("profile.Get", err)
	}
	return slots, nil
}

// Apply merges updates into the user's slot map according to each
// slot's merge strategy, and persists the result.
func (s *Store) Apply(ctx context.Context, userID string, updates []Update, adjudicator Adjudicator) error {
	current, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}

	for _, u := range updates {
		strategy, ok := SlotStrategies[u.Slot]
		if !ok {
			s.logger.Warn("dropping update for unknown slot", zap.String("slot", u.Slot))
			continue
		}

		if isEmptyValue(u.Value) {
			// Empty strings and all-empty lists must never persist
			// (spec.md §3, §4.C) — the extraction agent sometimes
			// proposes a slot it found no real value for.
			continue
		}

		switch strategy {
		case MergeReplace:
			current[u.Slot] = u.Value

		case MergeAppend:
			existing, _ := current[u.Slot].([]interface{})
			current[u.Slot] = appendDedup(existing, u.Value)

		case MergeAdjudicate:
			old, hasOld := current[u.Slot]
			if !hasOld || adjudicator == nil {
				current[u.Slot] = u.Value
				continue
			}
			merged, err := adjudicator.Adjudicate(ctx, u.Slot, old, u.Value)
			if err != nil {
				return errs.LLMFailure("profile.Apply.adjudicate", err)
			}
			current[u.Slot] = merged
		}
	}

	return s.save(ctx, userID, current)
}

// isEmptyValue reports whether value is an empty string or a list
// whose elements are all empty strings — such a value carries no
// information and must never persist (spec.md §3).
func isEmptyValue(value interface{}) bool {
	switch v := value.(type) {
	case string:
		return v == ""
	case []interface{}:
		for _, e := range v {
			if s, ok := e.(string); !ok || s != "" {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// appendDedup unions value into existing. When value is itself a list
// (the extraction agent's common shape for a MergeAppend slot, e.g.
// hobbies: ["a","b"]), each element is unioned individually rather
// than the list being appended as one nested element.
func appendDedup(existing []interface{}, value interface{}) []interface{} {
	if items, ok := value.([]interface{}); ok {
		for _, item := range items {
			existing = appendOneDedup(existing, item)
		}
		return existing
	}
	return appendOneDedup(existing, value)
}

func appendOneDedup(existing []interface{}, value interface{}) []interface{} {
	for _, e := range existing {
		if e == value {
			return existing
		}
	}
	return append(existing, value)
}

func (s *Store) save(ctx context.Context, userID string, slots map[string]interface{}) error {
	raw, err := jsonx.MarshalToString(slots)
	if err != nil {
		return errs.ValidationFailure("profile.save", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profile (user_id, slots_json, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET slots_json = excluded.slots_json, updated_at = excluded.updated_at
	`, userID, raw, now, now)
	if err != nil {
		return errs.StoreUnavailable("profile.save", fmt.Errorf("upsert profile: %w", err))
	}
	return nil
}

// Clear removes all slots for userID, part of a full account wipe.
func (s *Store) Clear(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM profile WHERE user_id = ?`, userID)
	if err != nil {
		return errs.StoreUnavailable("profile.Clear", err)
	}
	return nil
}
