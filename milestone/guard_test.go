package milestone

import (
	"errors"
	"testing"

	"escrowflow/auth"
	"escrowflow/job"
)

func TestAuthorize_CapabilityTable(t *testing.T) {
	parties := job.Parties{ClientID: "client-1", FreelancerID: "freelancer-1"}

	client := auth.Actor{ID: "client-1", Role: auth.RoleClient}
	freelancer := auth.Actor{ID: "freelancer-1", Role: auth.RoleFreelancer}
	admin := auth.Actor{ID: "admin-1", Role: auth.RoleAdmin}
	otherClient := auth.Actor{ID: "client-2", Role: auth.RoleClient}
	otherFreelancer := auth.Actor{ID: "freelancer-2", Role: auth.RoleFreelancer}

	cases := []struct {
		name       string
		actor      auth.Actor
		transition Transition
		allowed    bool
	}{
		{"freelancer starts", freelancer, TransitionStart, true},
		{"freelancer submits", freelancer, TransitionSubmit, true},
		{"client cannot submit", client, TransitionSubmit, false},
		{"admin cannot submit", admin, TransitionSubmit, false},
		{"foreign freelancer cannot submit", otherFreelancer, TransitionSubmit, false},
		{"client approves", client, TransitionApprove, true},
		{"freelancer cannot approve", freelancer, TransitionApprove, false},
		{"admin cannot approve", admin, TransitionApprove, false},
		{"foreign client cannot approve", otherClient, TransitionApprove, false},
		{"client requests refund", client, TransitionRequestRefund, true},
		{"freelancer cannot request refund", freelancer, TransitionRequestRefund, false},
		{"client resolves own dispute", client, TransitionResolveDispute, true},
		{"freelancer resolves own dispute", freelancer, TransitionResolveDispute, true},
		{"admin resolves any dispute", admin, TransitionResolveDispute, true},
		{"foreign client cannot resolve", otherClient, TransitionResolveDispute, false},
		{"foreign freelancer cannot resolve", otherFreelancer, TransitionResolveDispute, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Authorize(tc.actor, parties, tc.transition)
			if tc.allowed && err != nil {
				t.Fatalf("expected allow, got %v", err)
			}
			if !tc.allowed {
				var ae *AuthorizationError
				if !errors.As(err, &ae) {
					t.Fatalf("expected AuthorizationError, got %v", err)
				}
			}
		})
	}
}

func TestCanView(t *testing.T) {
	parties := job.Parties{ClientID: "client-1", FreelancerID: "freelancer-1"}

	if !CanView(auth.Actor{ID: "client-1", Role: auth.RoleClient}, parties) {
		t.Error("client should view own job")
	}
	if !CanView(auth.Actor{ID: "freelancer-1", Role: auth.RoleFreelancer}, parties) {
		t.Error("freelancer should view own job")
	}
	if !CanView(auth.Actor{ID: "admin-1", Role: auth.RoleAdmin}, parties) {
		t.Error("admin should view any job")
	}
	if !CanView(auth.System(), parties) {
		t.Error("system should view any job")
	}
	if CanView(auth.Actor{ID: "stranger", Role: auth.RoleClient}, parties) {
		t.Error("stranger should not view the job")
	}
}
