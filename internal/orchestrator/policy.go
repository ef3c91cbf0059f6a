package orchestrator

import "github.com/reflective-memory-kernel/internal/errs"

// recoveryAction is the orchestrator's fail-open/fail-closed policy
// table (Design Note "exceptions for control flow become tagged
// results"). HandleTurn consults it only for the context and profile
// reads; the decision, memory-search, whisper and chat errors are
// handled at their own call sites in HandleTurn and do not pass
// through recoveryFor.
type recoveryAction int

const (
	// actionSurface propagates the error to the caller of HandleTurn.
	actionSurface recoveryAction = iota
	// actionDegrade logs the error and continues the turn with an
	// empty input for whatever step failed.
	actionDegrade
)

// recoveryFor implements spec.md §7's synchronous-path propagation
// policy: LLMFailure and StoreUnavailable surface, everything else
// degrades to an empty input and the turn proceeds.
func recoveryFor(err error) recoveryAction {
	if errs.Is(err, errs.KindLLMFailure) || errs.Is(err, errs.KindStoreUnavailable) {
		return actionSurface
	}
	return actionDegrade
}
