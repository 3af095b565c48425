// Package fault classifies fabric errors and implements the
// idempotent revoke-and-signal-repair handoff the driver's re-entry
// point depends on. Classification is grounded on the teacher's
// detector.FailureDetector style of dispatching on an error/result
// kind; the idempotent one-shot trigger is grounded directly on
// emergency.Controller's triggerStop (mutex-guarded stopped flag plus
// close(stopCh), executed exactly once no matter how many callers
// race into it).
package fault

import (
	"errors"
	"sync"

	"github.com/lapesd/faultsolve/internal/fabric"
	"github.com/lapesd/faultsolve/pkg/errs"
	"github.com/lapesd/faultsolve/pkg/logging"
)

// Action is what the driver should do in response to a classified
// error.
type Action int

const (
	ActionContinue Action = iota
	ActionRepair
	ActionFatal
)

func (a Action) String() string {
	switch a {
	case ActionContinue:
		return "continue"
	case ActionRepair:
		return "repair"
	case ActionFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classify maps a fabric/checkpoint error onto the driver action the
// spec's error-handling design assigns it: process failure or
// revocation triggers repair, anything else is fatal.
func Classify(err error) Action {
	if err == nil {
		return ActionContinue
	}
	if errors.Is(err, errs.ErrProcessFailed) || errors.Is(err, errs.ErrRevoked) {
		return ActionRepair
	}
	return ActionFatal
}

// Handler is the error handler attached to a working world. It
// revokes the world and signals repair exactly once per world
// generation, no matter how many of that world's outstanding
// operations fail concurrently — the two-slot pattern from the design
// notes: Active is swapped by the repair protocol once it produces a
// restored world, and the handler re-arms against the new Active.
type Handler struct {
	mu      sync.Mutex
	active  fabric.World
	revoked bool
	log     *logging.Logger
}

// NewHandler attaches a Handler to world.
func NewHandler(world fabric.World, log *logging.Logger) *Handler {
	return &Handler{active: world, log: log}
}

// Handle classifies err against the world the handler is currently
// attached to and, for a repair-eligible error, revokes that world
// and reports whether *this* call is the one that triggered it.
// Concurrent callers observing the same already-revoked generation
// get triggered=false, matching spec §5's "repair is idempotent"
// cancellation semantics.
func (h *Handler) Handle(err error) (action Action, triggered bool) {
	action = Classify(err)
	if action != ActionRepair {
		return action, false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.revoked {
		return action, false
	}
	h.revoked = true
	if revErr := h.active.Revoke(); revErr != nil && h.log != nil {
		h.log.Warn("revoke failed", "error", revErr)
	}
	if h.log != nil {
		h.log.Warn("world revoked, entering repair", "cause", err)
	}
	return action, true
}

// Rearm swaps the handler onto a freshly restored world and clears
// the revoked flag, completing the two-slot swap: restored becomes
// the new Active, and the old (now fully drained) generation is
// dropped.
func (h *Handler) Rearm(restored fabric.World) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.active = restored
	h.revoked = false
}

// Active returns the world this handler currently protects.
func (h *Handler) Active() fabric.World {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}
