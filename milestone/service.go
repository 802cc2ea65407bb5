package milestone

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"escrowflow/auth"
	"escrowflow/job"
	"escrowflow/metrics"
)

const maxReasonLength = 2000

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository defines the milestone store access required by the services.
type Repository interface {
	Get(ctx context.Context, tx pgx.Tx, jobID, milestoneID string) (Milestone, error)
	Update(ctx context.Context, tx pgx.Tx, m Milestone, expectedVersion int64) (Milestone, error)
}

// Ledger is the earning side of a transition. All methods run inside the
// caller's transaction so milestone and earning commit or roll back together.
type Ledger interface {
	Record(ctx context.Context, tx pgx.Tx, milestoneID, freelancerID string, amount decimal.Decimal) error
	MarkDisputed(ctx context.Context, tx pgx.Tx, milestoneID string) error
	Refund(ctx context.Context, tx pgx.Tx, milestoneID string) error
	SetPartial(ctx context.Context, tx pgx.Tx, milestoneID, freelancerID string, remaining, refunded decimal.Decimal, actorID, note string) error
	Revert(ctx context.Context, tx pgx.Tx, milestoneID string) error
}

// PartiesResolver looks up the client and freelancer bound to a job.
type PartiesResolver interface {
	Parties(ctx context.Context, jobID string) (job.Parties, error)
}

// Event describes a committed transition handed to the emitter.
type Event struct {
	JobID       string
	MilestoneID string
	Transition  Transition
	From        Status
	To          Status
	Actor       auth.Actor
	Parties     job.Parties
	Payload     map[string]any
}

// Emitter notifies external collaborators after a committed transition. It
// must not block and its failures never surface to the caller.
type Emitter interface {
	Emit(ev Event)
}

// Service is the state transition engine. Every operation is a
// read-validate-conditional-write over a single milestone, with any earning
// mutation applied in the same transaction.
type Service struct {
	pool          TxBeginner
	repo          Repository
	jobs          PartiesResolver
	ledger        Ledger
	emitter       Emitter
	now           func() time.Time
	disputeWindow time.Duration
}

// NewService wires the transition engine.
func NewService(pool TxBeginner, repo Repository, jobs PartiesResolver, ledger Ledger, emitter Emitter, disputeWindow time.Duration) *Service {
	return &Service{
		pool:          pool,
		repo:          repo,
		jobs:          jobs,
		ledger:        ledger,
		emitter:       emitter,
		now:           time.Now,
		disputeWindow: disputeWindow,
	}
}

// WithClock overrides the service clock.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Start moves a pending milestone into in_progress. Freelancer only.
func (s *Service) Start(ctx context.Context, jobID, milestoneID string, actor auth.Actor) (Milestone, error) {
	return s.transition(ctx, jobID, milestoneID, actor, TransitionStart, StatusInProgress,
		func(ctx context.Context, tx pgx.Tx, m *Milestone, parties job.Parties) (map[string]any, error) {
			m.Status = StatusInProgress
			return nil, nil
		})
}

// Submit marks in_progress work as delivered. Freelancer only; no ledger effect.
func (s *Service) Submit(ctx context.Context, jobID, milestoneID string, actor auth.Actor) (Milestone, error) {
	return s.transition(ctx, jobID, milestoneID, actor, TransitionSubmit, StatusSubmitted,
		func(ctx context.Context, tx pgx.Tx, m *Milestone, parties job.Parties) (map[string]any, error) {
			now := s.now().UTC()
			m.Status = StatusSubmitted
			m.SubmittedAt = &now
			return nil, nil
		})
}

// Approve releases the escrowed amount: the milestone becomes approved and
// the earning is recorded at the full milestone amount. Client only.
func (s *Service) Approve(ctx context.Context, jobID, milestoneID string, actor auth.Actor) (Milestone, error) {
	return s.transition(ctx, jobID, milestoneID, actor, TransitionApprove, StatusApproved,
		func(ctx context.Context, tx pgx.Tx, m *Milestone, parties job.Parties) (map[string]any, error) {
			now := s.now().UTC()
			m.Status = StatusApproved
			m.ApprovedAt = &now
			if err := s.ledger.Record(ctx, tx, m.ID, parties.FreelancerID, m.Amount); err != nil {
				return nil, err
			}
			return map[string]any{"amount": m.Amount.StringFixed(2)}, nil
		})
}

// RefundRequest carries a client's challenge to a submitted or approved
// milestone.
type RefundRequest struct {
	Reason   string
	Amount   *decimal.Decimal
	Evidence []Evidence
}

// RequestRefund opens a dispute. Client only; allowed from submitted or
// approved. When the milestone was already paid the earning is flagged
// disputed but its amount is untouched until resolution.
func (s *Service) RequestRefund(ctx context.Context, jobID, milestoneID string, actor auth.Actor, req RefundRequest) (Milestone, error) {
	if err := validateRefundRequest(req); err != nil {
		metrics.Transitions.WithLabelValues(string(TransitionRequestRefund), outcomeLabel(err)).Inc()
		return Milestone{}, err
	}

	return s.transition(ctx, jobID, milestoneID, actor, TransitionRequestRefund, StatusDisputed,
		func(ctx context.Context, tx pgx.Tx, m *Milestone, parties job.Parties) (map[string]any, error) {
			requested := m.Amount
			if req.Amount != nil {
				if req.Amount.GreaterThan(m.Amount) {
					return nil, &ValidationError{Field: "amount", Reason: "exceeds milestone amount"}
				}
				requested = *req.Amount
			}

			now := s.now().UTC()
			wasPaid := m.Paid()
			m.Status = StatusDisputed
			m.DisputedAt = &now
			m.Dispute = &DisputeRecord{
				RequestedBy:     actor.ID,
				RequestedAt:     now,
				Reason:          strings.TrimSpace(req.Reason),
				RequestedAmount: requested,
				Evidence:        req.Evidence,
				RespondBy:       now.Add(s.disputeWindow),
			}

			if wasPaid {
				if err := s.ledger.MarkDisputed(ctx, tx, m.ID); err != nil {
					return nil, err
				}
			}

			return map[string]any{
				"reason":           m.Dispute.Reason,
				"requested_amount": requested.StringFixed(2),
				"respond_by":       m.Dispute.RespondBy,
			}, nil
		})
}

// Get returns the milestone for a job party or an admin.
func (s *Service) Get(ctx context.Context, jobID, milestoneID string, actor auth.Actor) (Milestone, error) {
	parties, err := s.parties(ctx, jobID)
	if err != nil {
		return Milestone{}, err
	}
	if !CanView(actor, parties) {
		return Milestone{}, &AuthorizationError{Actor: actor, Transition: TransitionView}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Milestone{}, fmt.Errorf("milestone: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	return s.repo.Get(ctx, tx, jobID, milestoneID)
}

// RefundStatus builds the refund read model for a milestone.
func (s *Service) RefundStatus(ctx context.Context, jobID, milestoneID string, actor auth.Actor) (RefundStatus, error) {
	m, err := s.Get(ctx, jobID, milestoneID, actor)
	if err != nil {
		return RefundStatus{}, err
	}

	rs := RefundStatus{
		Status:     m.Status,
		IsDisputed: m.Status == StatusDisputed,
		DisputedAt: m.DisputedAt,
		RefundedAt: m.RefundedAt,
		Request:    m.Dispute,
	}
	if m.Dispute != nil {
		rs.Resolution = m.Dispute.Resolution
	}
	return rs, nil
}

// TransitionView is the pseudo-transition used for read authorization errors.
const TransitionView Transition = "view"

type applyFunc func(ctx context.Context, tx pgx.Tx, m *Milestone, parties job.Parties) (map[string]any, error)

func (s *Service) transition(ctx context.Context, jobID, milestoneID string, actor auth.Actor, t Transition, target Status, apply applyFunc) (Milestone, error) {
	updated, err := s.run(ctx, jobID, milestoneID, actor, t, target, apply)
	metrics.Transitions.WithLabelValues(string(t), outcomeLabel(err)).Inc()
	return updated, err
}

func (s *Service) run(ctx context.Context, jobID, milestoneID string, actor auth.Actor, t Transition, target Status, apply applyFunc) (Milestone, error) {
	parties, err := s.parties(ctx, jobID)
	if err != nil {
		return Milestone{}, err
	}
	// The guard runs before any state is read or touched; a denial must not
	// leak whether the transition would have been legal.
	if err := Authorize(actor, parties, t); err != nil {
		return Milestone{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Milestone{}, fmt.Errorf("milestone: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	m, err := s.repo.Get(ctx, tx, jobID, milestoneID)
	if err != nil {
		return Milestone{}, err
	}
	if !CanTransition(m.Status, t) {
		return Milestone{}, &StateConflictError{Current: m.Status, Requested: target}
	}

	from := m.Status
	observedVersion := m.Version

	payload, err := apply(ctx, tx, &m, parties)
	if err != nil {
		return Milestone{}, err
	}

	updated, err := s.repo.Update(ctx, tx, m, observedVersion)
	if err != nil {
		return Milestone{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Milestone{}, fmt.Errorf("milestone: commit %s: %w", t, err)
	}

	if s.emitter != nil {
		s.emitter.Emit(Event{
			JobID:       jobID,
			MilestoneID: milestoneID,
			Transition:  t,
			From:        from,
			To:          updated.Status,
			Actor:       actor,
			Parties:     parties,
			Payload:     payload,
		})
	}

	return updated, nil
}

func (s *Service) parties(ctx context.Context, jobID string) (job.Parties, error) {
	parties, err := s.jobs.Parties(ctx, jobID)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			return job.Parties{}, ErrNotFound
		}
		return job.Parties{}, err
	}
	return parties, nil
}

func validateRefundRequest(req RefundRequest) error {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return &ValidationError{Field: "reason", Reason: "required"}
	}
	if len(reason) > maxReasonLength {
		return &ValidationError{Field: "reason", Reason: fmt.Sprintf("exceeds %d characters", maxReasonLength)}
	}
	if req.Amount != nil && !req.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	for i, ev := range req.Evidence {
		if ev.Type == "" || ev.Locator == "" {
			return &ValidationError{Field: fmt.Sprintf("evidence[%d]", i), Reason: "type and locator required"}
		}
	}
	return nil
}

func outcomeLabel(err error) string {
	var (
		ve  *ValidationError
		ae  *AuthorizationError
		sce *StateConflictError
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
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
