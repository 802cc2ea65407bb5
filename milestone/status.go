package milestone

// Transition names a requested status change on a milestone.
type Transition string

const (
	TransitionStart          Transition = "start"
	TransitionSubmit         Transition = "submit"
	TransitionApprove        Transition = "approve"
	TransitionRequestRefund  Transition = "request_refund"
	TransitionResolveDispute Transition = "resolve_dispute"
)

// transitionSources lists the statuses each transition may be requested from.
var transitionSources = map[Transition][]Status{
	TransitionStart:          {StatusPending},
	TransitionSubmit:         {StatusInProgress},
	TransitionApprove:        {StatusSubmitted},
	TransitionRequestRefund:  {StatusSubmitted, StatusApproved},
	TransitionResolveDispute: {StatusDisputed},
}

// CanTransition reports whether the transition is legal from the status.
func CanTransition(from Status, t Transition) bool {
	for _, s := range transitionSources[t] {
		if s == from {
			return true
		}
	}
	return false
}

// Terminal reports whether no further dispute-track transitions are allowed.
// Approved milestones can still be disputed; refunded and partially_refunded
// cannot.
func Terminal(s Status) bool {
	return s == StatusRefunded || s == StatusPartiallyRefunded
}
