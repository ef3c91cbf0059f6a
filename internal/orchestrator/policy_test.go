package orchestrator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reflective-memory-kernel/internal/errs"
)

func TestRecoveryFor(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want recoveryAction
	}{
		{"llm failure surfaces", errs.LLMFailure("gateway.Chat", errors.New("timeout")), actionSurface},
		{"store unavailable surfaces", errs.StoreUnavailable("context.Get", errors.New("db down")), actionSurface},
		{"validation failure degrades", errs.ValidationFailure("profile.Get", errors.New("bad row")), actionDegrade},
		{"not found degrades", errs.NotFound("focus.ConsumeWhisper", errors.New("missing")), actionDegrade},
		{"graph write failure degrades", errs.GraphWriteFailure("memory.Search", errors.New("dgraph")), actionDegrade},
		{"unwrapped error degrades", errors.New("plain error"), actionDegrade},
		{"nil is never surfaced", nil, actionDegrade},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, recoveryFor(tc.err))
		})
	}
}
