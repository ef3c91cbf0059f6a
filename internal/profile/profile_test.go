package profile

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Migrate(context.Background(), db))
	return NewStore(db, zaptest.NewLogger(t))
}

func TestGetOnUnknownUserReturnsEmptyMap(t *testing.T) {
	s := newTestStore(t)
	slots, err := s.Get(context.Background(), "u-1")
	require.NoError(t, err)
	require.Empty(t, slots)
}

func TestApplyReplaceStrategyOverwritesValue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Apply(ctx, "u-1", []Update{{Slot: "location", Value: "Portland"}}, nil))
	require.NoError(t, s.Apply(ctx, "u-1", []Update{{Slot: "location", Value: "Seattle"}}, nil))

	slots, err := s.Get(ctx, "u-1")
	require.NoError(t, err)
	require.Equal(t, "Seattle", slots["location"])
}

func TestApplyAppendStrategyDedupsAndAccumulates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Apply(ctx, "u-1", []Update{{Slot: "hobbies", Value: "climbing"}}, nil))
	require.NoError(t, s.Apply(ctx, "u-1", []Update{{Slot: "hobbies", Value: "climbing"}}, nil))
	require.NoError(t, s.Apply(ctx, "u-1", []Update{{Slot: "hobbies", Value: "painting"}}, nil))

	slots, err := s.Get(ctx, "u-1")
	require.NoError(t, err)
	require.ElementsMatch(t, []interface{}{"climbing", "painting"}, slots["hobbies"])
}

func TestApplyAppendStrategyUnionsListValue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// spec.md §8 scenario 1: a single extracted update whose value is
	// itself a list, e.g. hobbies: ["打游戏","看日本动漫"].
	require.NoError(t, s.Apply(ctx, "u-1", []Update{
		{Slot: "hobbies", Value: []interface{}{"打游戏", "看日本动漫"}},
	}, nil))
	require.NoError(t, s.Apply(ctx, "u-1", []Update{
		{Slot: "hobbies", Value: []interface{}{"打游戏", "爬山"}},
	}, nil))

	slots, err := s.Get(ctx, "u-1")
	require.NoError(t, err)
	require.ElementsMatch(t, []interface{}{"打游戏", "看日本动漫", "爬山"}, slots["hobbies"])
}

func TestApplyDropsEmptyStringAndAllEmptyListUpdates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Apply(ctx, "u-1", []Update{
		{Slot: "location", Value: ""},
		{Slot: "hobbies", Value: []interface{}{"", ""}},
	}, nil))

	slots, err := s.Get(ctx, "u-1")
	require.NoError(t, err)
	require.NotContains(t, slots, "location")
	require.NotContains(t, slots, "hobbies")
}

func TestApplyUnknownSlotIsDropped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Apply(ctx, "u-1", []Update{{Slot: "favorite_color", Value: "blue"}}, nil))

	slots, err := s.Get(ctx, "u-1")
	require.NoError(t, err)
	require.NotContains(t, slots, "favorite_color")
}

func TestApplyAdjudicateWithoutAdjudicatorReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Apply(ctx, "u-1", []Update{{Slot: "core_fears", Value: "failure"}}, nil))
	require.NoError(t, s.Apply(ctx, "u-1", []Update{{Slot: "core_fears", Value: "abandonment"}}, nil))

	slots, err := s.Get(ctx, "u-1")
	require.NoError(t, err)
	require.Equal(t, "abandonment", slots["core_fears"])
}

type stubAdjudicator struct {
	merged interface{}
}

func (a stubAdjudicator) Adjudicate(ctx context.Context, slot string, oldValue, newValue interface{}) (interface{}, error) {
	return a.merged, nil
}

func TestApplyAdjudicateWithAdjudicatorUsesMergedResult(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Apply(ctx, "u-1", []Update{{Slot: "core_fears", Value: "failure"}}, nil))
	require.NoError(t, s.Apply(ctx, "u-1", []Update{{Slot: "core_fears", Value: "abandonment"}}, stubAdjudicator{merged: "failure and abandonment"}))

	slots, err := s.Get(ctx, "u-1")
	require.NoError(t, err)
	require.Equal(t, "failure and abandonment", slots["core_fears"])
}

func TestClearRemovesAllSlots(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Apply(ctx, "u-1", []Update{{Slot: "location", Value: "Portland"}}, nil))
	require.NoError(t, s.Clear(ctx, "u-1"))

	slots, err := s.Get(ctx, "u-1")
	require.NoError(t, err)
	require.Empty(t, slots)
}
