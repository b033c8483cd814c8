package statemachine

import (
    "fmt"

    "github.com/hamzaKhattat/contact-center-api/internal/models"
)

// validTransitions is the call lifecycle graph. DIALING -> ANSWERED is allowed
// directly because some carriers skip the ringing indication.
var validTransitions = map[models.CallStatus][]models.CallStatus{
    models.CallStatusPending: {
        models.CallStatusDialing,
        models.CallStatusFailed,
    },
    models.CallStatusDialing: {
        models.CallStatusRinging,
        models.CallStatusAnswered,
        models.CallStatusBusy,
        models.CallStatusNoAnswer,
        models.CallStatusFailed,
    },
    models.CallStatusRinging: {
        models.CallStatusAnswered,
        models.CallStatusNoAnswer,
        models.CallStatusBusy,
        models.CallStatusFailed,
    },
    models.CallStatusAnswered: {
        models.CallStatusCompleted,
        models.CallStatusFailed,
    },
    // Terminal states
    models.CallStatusCompleted: {},
    models.CallStatusBusy:      {},
    models.CallStatusNoAnswer:  {},
    models.CallStatusFailed:    {},
}

// CanTransition reports whether current -> next is a legal transition.
// Same-state is always valid (idempotent). Terminal states reject everything
// unless allowTerminalOverride is set (administrative corrections only).
func CanTransition(current, next models.CallStatus, allowTerminalOverride bool) (bool, string) {
    if current == next {
        return true, ""
    }

    if current.IsTerminal() {
        if allowTerminalOverride {
            // Administrative correction, bypasses the lifecycle graph
            return true, ""
        }
        return false, fmt.Sprintf("cannot transition from terminal state %s", current)
    }

    for _, s := range validTransitions[current] {
        if s == next {
            return true, ""
        }
    }

    return false, fmt.Sprintf("invalid transition: %s -> %s (valid: %v)", current, next, validTransitions[current])
}

// IsValidTransition is CanTransition without the override or the reason.
func IsValidTransition(current, next models.CallStatus) bool {
    ok, _ := CanTransition(current, next, false)
    return ok
}

// ValidNextStates returns a copy of the outgoing set for a status.
func ValidNextStates(current models.CallStatus) []models.CallStatus {
    states := validTransitions[current]
    out := make([]models.CallStatus, len(states))
    copy(out, states)
    return out
}
