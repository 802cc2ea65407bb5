package milestone

import (
	"errors"
	"fmt"

	"escrowflow/auth"
)

// ErrNotFound signals the job or milestone does not exist, or the milestone
// does not belong to the job.
var ErrNotFound = errors.New("milestone: not found")

// ValidationError reports malformed input along with the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("milestone: invalid %s: %s", e.Field, e.Reason)
}

// AuthorizationError reports an actor lacking the capability for a transition.
type AuthorizationError struct {
	Actor      auth.Actor
	Transition Transition
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("milestone: %s not permitted for role %s", e.Transition, e.Actor.Role)
}

// StateConflictError reports a transition that is not legal from the
// milestone's current status, including lost races under concurrent writes.
type StateConflictError struct {
	Current   Status
	Requested Status
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("milestone: cannot move from %s to %s", e.Current, e.Requested)
}
