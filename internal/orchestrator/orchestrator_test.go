package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestStepTimerRendersEachMarkOnce(t *testing.T) {
	timer := newStepTimer()
	timer.mark("context")
	timer.mark("retrieve")
	timer.mark("chat")

	rendered := timer.render()
	assert.Contains(t, rendered, "context=")
	assert.Contains(t, rendered, "retrieve=")
	assert.Contains(t, rendered, "chat=")
	assert.Equal(t, 3, len(splitFields(rendered)))
}

func splitFields(s string) []string {
	var out []string
	field := ""
	for _, r := range s {
		if r == ' ' {
			if field != "" {
				out = append(out, field)
				field = ""
			}
			continue
		}
		field += string(r)
	}
	if field != "" {
		out = append(out, field)
	}
	return out
}

func TestUserLockIsPerUserAndReentrantSafe(t *testing.T) {
	o := &Orchestrator{logger: zaptest.NewLogger(t)}

	lockA1 := o.userLock("user-a")
	lockA2 := o.userLock("user-a")
	lockB := o.userLock("user-b")

	assert.Same(t, lockA1, lockA2, "the same user must always get the same mutex")
	assert.NotSame(t, lockA1, lockB, "different users must never share a mutex")

	lockA1.Lock()
	lockA1.Unlock()
}

func TestSetDispatcherWiresInLateDispatcher(t *testing.T) {
	o := &Orchestrator{logger: zaptest.NewLogger(t)}
	assert.Nil(t, o.dispatcher)

	d := &TailDispatcher{}
	o.SetDispatcher(d)
	assert.Same(t, d, o.dispatcher)
}
