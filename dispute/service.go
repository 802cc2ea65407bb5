package dispute

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"escrowflow/auth"
	"escrowflow/job"
	"escrowflow/metrics"
	"escrowflow/milestone"
)

// Service resolves disputed milestones. It is the disputed-branch
// specialization of the transition engine: same guard, same conditional-write
// discipline, plus the ledger effects of each resolution action.
type Service struct {
	pool    milestone.TxBeginner
	repo    milestone.Repository
	jobs    milestone.PartiesResolver
	ledger  milestone.Ledger
	emitter milestone.Emitter
	now     func() time.Time
}

// NewService wires the dispute resolver.
func NewService(pool milestone.TxBeginner, repo milestone.Repository, jobs milestone.PartiesResolver, ledger milestone.Ledger, emitter milestone.Emitter) *Service {
	return &Service{
		pool:    pool,
		repo:    repo,
		jobs:    jobs,
		ledger:  ledger,
		emitter: emitter,
		now:     time.Now,
	}
}

// WithClock overrides the service clock.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Resolve closes a dispute with one of three outcomes:
//
//	approve  full refund; milestone becomes refunded
//	partial  milestone becomes partially_refunded; earning reduced
//	reject   dispute dismissed; milestone returns to its pre-dispute state
//
// Only milestones currently disputed can be resolved; a second resolution
// fails with StateConflictError and the ledger is mutated exactly once.
func (s *Service) Resolve(ctx context.Context, jobID, milestoneID string, actor auth.Actor, params ResolveParams) (milestone.Milestone, error) {
	resolved, err := s.resolve(ctx, jobID, milestoneID, actor, params)
	metrics.Transitions.WithLabelValues(string(milestone.TransitionResolveDispute), outcomeLabel(err)).Inc()
	return resolved, err
}

func (s *Service) resolve(ctx context.Context, jobID, milestoneID string, actor auth.Actor, params ResolveParams) (milestone.Milestone, error) {
	if params.Action != milestone.ActionApprove && params.Action != milestone.ActionReject && params.Action != milestone.ActionPartial {
		return milestone.Milestone{}, &milestone.ValidationError{Field: "action", Reason: "must be approve, reject, or partial"}
	}
	if params.Action == milestone.ActionPartial && params.Amount == nil {
		return milestone.Milestone{}, &milestone.ValidationError{Field: "amount", Reason: "required for partial resolution"}
	}

	parties, err := s.jobs.Parties(ctx, jobID)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			return milestone.Milestone{}, milestone.ErrNotFound
		}
		return milestone.Milestone{}, err
	}
	if err := milestone.Authorize(actor, parties, milestone.TransitionResolveDispute); err != nil {
		return milestone.Milestone{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return milestone.Milestone{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	m, err := s.repo.Get(ctx, tx, jobID, milestoneID)
	if err != nil {
		return milestone.Milestone{}, err
	}
	if m.Status != milestone.StatusDisputed || m.Dispute == nil {
		return milestone.Milestone{}, &milestone.StateConflictError{Current: m.Status, Requested: milestone.StatusRefunded}
	}

	from := m.Status
	observedVersion := m.Version
	now := s.now().UTC()

	resolution := milestone.Resolution{
		Action:     params.Action,
		ResolvedBy: actor.ID,
		ResolvedAt: now,
		Note:       strings.TrimSpace(params.Note),
	}

	switch params.Action {
	case milestone.ActionApprove:
		resolution.ResolvedAmount = m.Dispute.RequestedAmount
		m.Status = milestone.StatusRefunded
		m.RefundedAt = &now
		if err := s.ledger.Refund(ctx, tx, m.ID); err != nil {
			return milestone.Milestone{}, err
		}

	case milestone.ActionPartial:
		amount := *params.Amount
		if err := validatePartialAmount(amount, m.Amount, m.Dispute.RequestedAmount); err != nil {
			return milestone.Milestone{}, err
		}
		resolution.ResolvedAmount = amount
		m.Status = milestone.StatusPartiallyRefunded
		m.RefundedAt = &now
		remaining := m.Amount.Sub(amount)
		if err := s.ledger.SetPartial(ctx, tx, m.ID, parties.FreelancerID, remaining, amount, actor.ID, resolution.Note); err != nil {
			return milestone.Milestone{}, err
		}

	case milestone.ActionReject:
		resolution.ResolvedAmount = decimal.Zero
		if m.Paid() {
			m.Status = milestone.StatusApproved
			if err := s.ledger.Revert(ctx, tx, m.ID); err != nil {
				return milestone.Milestone{}, err
			}
		} else {
			m.Status = milestone.StatusSubmitted
		}
	}

	m.Dispute.Resolution = &resolution

	updated, err := s.repo.Update(ctx, tx, m, observedVersion)
	if err != nil {
		return milestone.Milestone{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return milestone.Milestone{}, fmt.Errorf("dispute: commit resolution: %w", err)
	}

	if s.emitter != nil {
		s.emitter.Emit(milestone.Event{
			JobID:       jobID,
			MilestoneID: milestoneID,
			Transition:  milestone.TransitionResolveDispute,
			From:        from,
			To:          updated.Status,
			Actor:       actor,
			Parties:     parties,
			Payload: map[string]any{
				"action":          string(params.Action),
				"resolved_amount": resolution.ResolvedAmount.StringFixed(2),
				"note":            resolution.Note,
			},
		})
	}

	return updated, nil
}

func validatePartialAmount(amount, milestoneAmount, requestedAmount decimal.Decimal) error {
	if !amount.IsPositive() {
		return &milestone.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if amount.GreaterThanOrEqual(milestoneAmount) {
		return &milestone.ValidationError{Field: "amount", Reason: "must be below milestone amount; use approve for a full refund"}
	}
	if amount.GreaterThan(requestedAmount) {
		return &milestone.ValidationError{Field: "amount", Reason: "exceeds requested amount"}
	}
	return nil
}

func outcomeLabel(err error) string {
	var (
		ve  *milestone.ValidationError
		ae  *milestone.AuthorizationError
		sce *milestone.StateConflictError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &ae):
		return "authorization"
	case errors.As(err, &sce):
		return "conflict"
	case errors.Is(err, milestone.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
