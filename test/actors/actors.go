// Package actors drives the transition services concurrently against a live
// database. Every actor hammers the same set of milestones through the public
// service API, so authorization, validation, and conflict errors are expected
// outcomes under contention; anything outside the error taxonomy aborts the
// run.
package actors

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"escrowflow/auth"
	"escrowflow/dispute"
	"escrowflow/milestone"
)

// Env bundles the services and identities a run races over.
type Env struct {
	Milestones *milestone.Service
	Disputes   *dispute.Service

	JobID        string
	MilestoneIDs []string
	Client       auth.Actor
	Freelancer   auth.Actor
	Admin        auth.Actor
}

func (e Env) randomMilestone() string {
	return e.MilestoneIDs[rand.Intn(len(e.MilestoneIDs))]
}

// expected reports whether the error is a legal outcome of losing a race or
// picking a milestone in the wrong state.
func expected(err error) bool {
	var (
		ve    *milestone.ValidationError
		ae    *milestone.AuthorizationError
		sce   *milestone.StateConflictError
		pgErr *pgconn.PgError
	)
	switch {
	case err == nil:
		return true
	case errors.As(err, &ve), errors.As(err, &ae), errors.As(err, &sce):
		return true
	case errors.Is(err, milestone.ErrNotFound):
		return true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.As(err, &pgErr):
		// serialization or admin-killed-backend errors surface as pg errors;
		// the chaos goroutine makes them routine
		return true
	default:
		return false
	}
}

// Worker plays the freelancer: starts pending milestones and submits
// in-progress ones.
func Worker(ctx context.Context, env Env, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		id := env.randomMilestone()
		if _, err := env.Milestones.Start(ctx, env.JobID, id, env.Freelancer); !expected(err) {
			return err
		}
		if _, err := env.Milestones.Submit(ctx, env.JobID, id, env.Freelancer); !expected(err) {
			return err
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Approver plays the client releasing escrow on submitted milestones.
func Approver(ctx context.Context, env Env, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if _, err := env.Milestones.Approve(ctx, env.JobID, env.randomMilestone(), env.Client); !expected(err) {
			return err
		}
		time.Sleep(time.Duration(15+rand.Intn(30)) * time.Millisecond)
	}
}

// Disputer plays the client challenging submitted or approved milestones,
// sometimes for a partial amount.
func Disputer(ctx context.Context, env Env, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		req := milestone.RefundRequest{Reason: "stress dispute"}
		if rand.Intn(2) == 0 {
			amount := decimal.NewFromInt(int64(1 + rand.Intn(100)))
			req.Amount = &amount
		}
		if _, err := env.Milestones.RequestRefund(ctx, env.JobID, env.randomMilestone(), env.Client, req); !expected(err) {
			return err
		}
		time.Sleep(time.Duration(30+rand.Intn(50)) * time.Millisecond)
	}
}

// Resolver plays the admin closing disputes with a random action. Racing
// resolvers on the same dispute exercise the single-resolution guarantee.
func Resolver(ctx context.Context, env Env, stop <-chan struct{}) error {
	actions := []milestone.ResolutionAction{
		milestone.ActionApprove,
		milestone.ActionReject,
		milestone.ActionPartial,
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		params := dispute.ResolveParams{Action: actions[rand.Intn(len(actions))]}
		if params.Action == milestone.ActionPartial {
			amount := decimal.NewFromInt(int64(1 + rand.Intn(50)))
			params.Amount = &amount
		}
		if _, err := env.Disputes.Resolve(ctx, env.JobID, env.randomMilestone(), env.Admin, params); !expected(err) {
			return err
		}
		time.Sleep(time.Duration(40+rand.Intn(60)) * time.Millisecond)
	}
}

// Reader polls the refund status read model, which must never error for a
// job party regardless of concurrent writes.
func Reader(ctx context.Context, env Env, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if _, err := env.Milestones.RefundStatus(ctx, env.JobID, env.randomMilestone(), env.Freelancer); !expected(err) {
			return err
		}
		time.Sleep(time.Duration(20+rand.Intn(30)) * time.Millisecond)
	}
}
