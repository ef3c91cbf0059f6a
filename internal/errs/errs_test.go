package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesWrappedKind(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := fmt.Errorf("context.Get: %w", StoreUnavailable("context.Get", cause))

	assert.True(t, Is(err, KindStoreUnavailable))
	assert.False(t, Is(err, KindLLMFailure))
}

func TestIsOnPlainErrorNeverMatches(t *testing.T) {
	assert.False(t, Is(errors.New("plain"), KindNotFound))
	assert.False(t, Is(nil, KindNotFound))
}

func TestErrorStringIncludesOpKindAndCause(t *testing.T) {
	err := LLMFailure("gateway.Chat", errors.New("timeout"))
	assert.Contains(t, err.Error(), "gateway.Chat")
	assert.Contains(t, err.Error(), string(KindLLMFailure))
	assert.Contains(t, err.Error(), "timeout")
}

func TestErrorStringWithoutCause(t *testing.T) {
	err := New(KindValidationFailure, "profile.Apply", nil)
	assert.Equal(t, "profile.Apply: validation_failure", err.Error())
}

func TestUnwrapReturnsCause(t *testing.T) {
	cause := errors.New("boom")
	err := GraphWriteFailure("memory.AddEpisode", cause)
	assert.Same(t, cause, errors.Unwrap(err))
}

func TestConstructorsAssignExpectedKind(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind Kind
	}{
		{"LLMFailure", LLMFailure("op", nil), KindLLMFailure},
		{"LLMShapeFailure", LLMShapeFailure("op", nil), KindLLMShapeFailure},
		{"StoreUnavailable", StoreUnavailable("op", nil), KindStoreUnavailable},
		{"StoreConflict", StoreConflict("op", nil), KindStoreConflict},
		{"GraphWriteFailure", GraphWriteFailure("op", nil), KindGraphWriteFailure},
		{"ValidationFailure", ValidationFailure("op", nil), KindValidationFailure},
		{"NotFound", NotFound("op", nil), KindNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, Is(tc.err, tc.kind))
		})
	}
}
