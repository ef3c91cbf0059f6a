// Package focus is the focus+whisper subsystem: a per-user list of
// short-term focus items with expiry/cooldown-aware reads, and a
// single-slot whisper queue the turn orchestrator peeks or consumes
// exactly once per turn. Grounded verbatim on
// original_source/services/focus_service.py's user_focus/
// whisper_suggestions tables and TTL/cooldown constants.
package focus

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/reflective-memory-kernel/internal/clock"
	"github.com/reflective-memory-kernel/internal/errs"
)

const (
	// DefaultTTL is how long a focus item with no explicit deadline
	// stays active before it is treated as expired.
	DefaultTTL = 14 * 24 * time.Hour
	// InjectionCooldown prevents the same focus item from being
	// surfaced into the prompt on back-to-back turns.
	InjectionCooldown = 12 * time.Hour
)

// Item is one focus entry.
type Item struct {
	ID             int64
	UserID         string
	Content        string
	Status         string // "active" | "archived"
	ExpectedDate   *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastInjectedAt *time.Time
}

// Store persists focus items and the whisper queue.
type Store struct {
	db     *sql.DB
	clock  clock.Clock
	logger *zap.Logger
}

func NewStore(db *sql.DB, c clock.Clock, logger *zap.Logger) *Store {
	return &Store{db: db, clock: c, logger: logger.Named("focus")}
}

// Migrate creates the focus and whisper tables.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS focus_item (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			expected_date TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			last_injected_at TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_focus_user ON focus_item(user_id, status);

		CREATE TABLE IF NOT EXISTS whisper_suggestion (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			suggestion TEXT NOT NULL,
			is_consumed INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_whisper_user ON whisper_suggestion(user_id, is_consumed);
	`)
	return err
}

// AddFocus inserts a new active focus item, or — if an identical
// active item already exists for the user — refreshes its
// updated_at/expected_date in place rather than duplicating it.
func (s *Store) AddFocus(ctx context.Context, userID, content string, expectedDate *time.Time) error {
	now := s.clock.Now().UTC()

	row := s.db.QueryRowContext(ctx, `
		SELECT id FROM focus_item WHERE user_id = ? AND content = ? AND status = 'active'
	`, userID, content)
	var existingID int64
	err := row.Scan(&existingID)
	switch err {
	case nil:
		if expectedDate != nil {
			_, err = s.db.ExecContext(ctx, `UPDATE focus_item SET updated_at = ?, expected_date = ? WHERE id = ?`,
				now.Format(time.RFC3339), expectedDate.Format("2006-01-02"), existingID)
		} else {
			_, err = s.db.ExecContext(ctx, `UPDATE focus_item SET updated_at = ? WHERE id = ?`, now.Format(time.RFC3339), existingID)
		}
		if err != nil {
			return errs.StoreUnavailable("focus.AddFocus", err)
		}
		return nil
	case sql.ErrNoRows:
		var expectedStr sql.NullString
		if expectedDate != nil {
			expectedStr = sql.NullString{String: expectedDate.Format("2006-01-02"), Valid: true}
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO focus_item (user_id, content, status, expected_date, created_at, updated_at)
			VALUES (?, ?, 'active', ?, ?, ?)
		`, userID, content, expectedStr, now.Format(time.RFC3339), now.Format(time.RFC3339))
		if err != nil {
			return errs.StoreUnavailable("focus.AddFocus", err)
		}
		return nil
	default:
		return errs.StoreUnavailable("focus.AddFocus", err)
	}
}

// ActiveFocus returns every focus item for userID that is neither
// expired nor in its injection cooldown window.
func (s *Store) ActiveFocus(ctx context.Context, userID string) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, expected_date, created_at, updated_at, last_injected_at
		FROM focus_item WHERE user_id = ? AND status = 'active' ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, errs.StoreUnavailable("focus.ActiveFocus", err)
	}
	defer rows.Close()

	now := s.clock.Now()
	var out []Item
	for rows.Next() {
		var it Item
		var expectedDate, lastInjected sql.NullString
		var createdAt, updatedAt string
		if err := rows.Scan(&it.ID, &it.Content, &expectedDate, &createdAt, &updatedAt, &lastInjected); err != nil {
			return nil, errs.StoreUnavailable("focus.ActiveFocus", err)
		}
		it.UserID = userID
		it.Status = "active"
		it.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		it.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		if expectedDate.Valid {
			if d, err := time.Parse("2006-01-02", expectedDate.String); err == nil {
				it.ExpectedDate = &d
			}
		}
		if lastInjected.Valid {
			if t, err := time.Parse(time.RFC3339, lastInjected.String); err == nil {
				it.LastInjectedAt = &t
			}
		}

		if isExpired(it, now) {
			continue
		}
		if it.LastInjectedAt != nil && now.Before(it.LastInjectedAt.Add(InjectionCooldown)) {
			continue
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// isExpired reports whether it has passed its deadline. A deadline is
// expired once now is on or past expected_date + 2 days: ExpectedDate
// is parsed at midnight, so "expired iff now > expected_date + 1 day"
// means the whole of day D+1 is still active, and expiry only takes
// hold once day D+2 begins.
func isExpired(it Item, now time.Time) bool {
	if it.ExpectedDate != nil {
		return !now.Before(it.ExpectedDate.AddDate(0, 0, 2))
	}
	return now.After(it.CreatedAt.Add(DefaultTTL))
}

// MarkInjected records that a focus item was surfaced into a prompt
// this turn, starting its cooldown window.
func (s *Store) MarkInjected(ctx context.Context, focusID int64) error {
	now := s.clock.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `UPDATE focus_item SET last_injected_at = ? WHERE id = ?`, now, focusID)
	if err != nil {
		return errs.StoreUnavailable("focus.MarkInjected", err)
	}
	return nil
}

// Archive marks an item done/dismissed so it no longer surfaces.
func (s *Store) Archive(ctx context.Context, userID, content string) error {
	now := s.clock.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		UPDATE focus_item SET status = 'archived', updated_at = ? WHERE user_id = ? AND content = ?
	`, now, userID, content)
	if err != nil {
		return errs.StoreUnavailable("focus.Archive", err)
	}
	return nil
}

// SaveWhisper enqueues a suggestion produced by the whisper planner
// for injection on the user's next turn.
func (s *Store) SaveWhisper(ctx context.Context, userID, suggestion string) error {
	now := s.clock.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO whisper_suggestion (user_id, suggestion, is_consumed, created_at) VALUES (?, ?, 0, ?)
	`, userID, suggestion, now)
	if err != nil {
		return errs.StoreUnavailable("focus.SaveWhisper", err)
	}
	return nil
}

// PeekWhisper returns the latest unconsumed suggestion without
// consuming it.
func (s *Store) PeekWhisper(ctx context.Context, userID string) (string, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT suggestion FROM whisper_suggestion
		WHERE user_id = ? AND is_consumed = 0 ORDER BY id DESC LIMIT 1
	`, userID)
	var suggestion string
	if err := row.Scan(&suggestion); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, errs.StoreUnavailable("focus.PeekWhisper", err)
	}
	return suggestion, true, nil
}

// ConsumeWhisper atomically returns and marks consumed the latest
// unconsumed suggestion, as a single statement executed under the
// caller's per-user lock so two concurrent turns can never both
// consume the same whisper.
func (s *Store) ConsumeWhisper(ctx context.Context, userID string) (string, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE whisper_suggestion SET is_consumed = 1
		WHERE id = (
			SELECT id FROM whisper_suggestion
			WHERE user_id = ? AND is_consumed = 0
			ORDER BY id DESC LIMIT 1
		)
		RETURNING suggestion
	`, userID)
	var suggestion string
	if err := row.Scan(&suggestion); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, errs.StoreUnavailable("focus.ConsumeWhisper", fmt.Errorf("consume whisper: %w", err))
	}
	return suggestion, true, nil
}

// Clear archives every active focus item and consumes every pending
// whisper for userID, part of a full account wipe.
func (s *Store) Clear(ctx context.Context, userID string) error {
	now := s.clock.Now().UTC().Format(time.RFC3339)
	if _, err := s.db.ExecContext(ctx, `UPDATE focus_item SET status = 'archived', updated_at = ? WHERE user_id = ? AND status = 'active'`, now, userID); err != nil {
		return errs.StoreUnavailable("focus.Clear", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE whisper_suggestion SET is_consumed = 1 WHERE user_id = ? AND is_consumed = 0`, userID); err != nil {
		return errs.StoreUnavailable("focus.Clear", err)
	}
	return nil
}
