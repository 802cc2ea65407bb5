package milestone

import (
	"escrowflow/auth"
	"escrowflow/job"
)

// Authorize is the capability check for a requested transition. It is a pure
// decision function with no side effects and must be evaluated before any
// read-modify-write work; a denial leaves all state untouched.
//
//	start, submit      freelancer of the job
//	approve            client of the job
//	request_refund     client of the job
//	resolve_dispute    client or freelancer of the job, or any admin
func Authorize(actor auth.Actor, parties job.Parties, t Transition) error {
	deny := &AuthorizationError{Actor: actor, Transition: t}

	switch t {
	case TransitionStart, TransitionSubmit:
		if actor.Role == auth.RoleFreelancer && actor.ID == parties.FreelancerID {
			return nil
		}
	case TransitionApprove, TransitionRequestRefund:
		if actor.Role == auth.RoleClient && actor.ID == parties.ClientID {
			return nil
		}
	case TransitionResolveDispute:
		// Job parties can settle their own dispute; admin arbitration is
		// global.
		switch actor.Role {
		case auth.RoleAdmin:
			return nil
		case auth.RoleClient:
			if actor.ID == parties.ClientID {
				return nil
			}
		case auth.RoleFreelancer:
			if actor.ID == parties.FreelancerID {
				return nil
			}
		}
	}
	return deny
}

// CanView reports whether the actor may read milestone/refund state.
func CanView(actor auth.Actor, parties job.Parties) bool {
	if actor.Role == auth.RoleAdmin || actor.IsSystem() {
		return true
	}
	return actor.ID == parties.ClientID || actor.ID == parties.FreelancerID
}
