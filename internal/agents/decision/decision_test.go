package decision

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These exercise only the cheap regex paths of ShouldRetrieve/ShouldStore,
// which never touch the gateway: the pack carries no fake LLM backend to
// drive the fallback path, matching how the rest of the corpus keeps its
// regex-classifier tests free of any live model dependency.

func TestShouldRetrieveExplicitRecallPatterns(t *testing.T) {
	a := New(nil, "")
	cases := []string{
		"what is my favorite color",
		"tell me about my preferences",
		"do I have any allergies",
		"when did I mention that?",
	}
	for _, msg := range cases {
		should, err := a.ShouldRetrieve(context.Background(), msg)
		require.NoError(t, err)
		assert.True(t, should, "expected retrieval for %q", msg)
	}
}

func TestShouldRetrieveChitchatShortCircuitsFalse(t *testing.T) {
	a := New(nil, "")
	cases := []string{"hi", "hello!", "thanks", "bye"}
	for _, msg := range cases {
		should, err := a.ShouldRetrieve(context.Background(), msg)
		require.NoError(t, err)
		assert.False(t, should, "expected no retrieval for %q", msg)
	}
}

func TestShouldRetrieveTooShortIsFalse(t *testing.T) {
	a := New(nil, "")
	should, err := a.ShouldRetrieve(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, should)
}

func TestShouldStoreChitchatIsFalse(t *testing.T) {
	a := New(nil, "")
	should, err := a.ShouldStore(context.Background(), "good morning")
	require.NoError(t, err)
	assert.False(t, should)
}

func TestShouldStoreExplicitRememberIsTrue(t *testing.T) {
	a := New(nil, "")
	should, err := a.ShouldStore(context.Background(), "remember that I'm allergic to peanuts")
	require.NoError(t, err)
	assert.True(t, should)
}
