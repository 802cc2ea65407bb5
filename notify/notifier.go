// Package notify delivers best-effort side effects after a committed
// transition: a system-authored entry in the job's collaboration log and a
// notification fan-out to the counter-party. Failures here are logged and
// counted, never propagated, and never roll back the transition.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"escrowflow/auth"
	"escrowflow/metrics"
	"escrowflow/milestone"
)

// LogWriter appends an immutable system-authored message to the collaboration
// log attached to a milestone.
type LogWriter interface {
	Append(ctx context.Context, milestoneID, messageType, message string) error
}

// Dispatcher fans a notification out to a user over the real-time and email
// channels. It must tolerate being unavailable.
type Dispatcher interface {
	Dispatch(ctx context.Context, targetUserID, eventType string, payload map[string]any) error
}

// Emitter implements milestone.Emitter over a log writer and a dispatcher.
type Emitter struct {
	log      LogWriter
	dispatch Dispatcher
	logger   *slog.Logger
	timeout  time.Duration
}

// NewEmitter wires the emitter. Either collaborator may be nil, in which case
// that channel is skipped.
func NewEmitter(log LogWriter, dispatch Dispatcher, logger *slog.Logger, timeout time.Duration) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Emitter{log: log, dispatch: dispatch, logger: logger, timeout: timeout}
}

// Emit delivers the event asynchronously. It returns immediately; the caller
// has already committed and must not observe delivery failures.
func (e *Emitter) Emit(ev milestone.Event) {
	go e.deliver(ev)
}

func (e *Emitter) deliver(ev milestone.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	if e.log != nil {
		g.Go(func() error {
			if err := e.log.Append(ctx, ev.MilestoneID, eventType(ev), renderMessage(ev)); err != nil {
				metrics.EmitterFailures.WithLabelValues("collab_log").Inc()
				e.logger.Warn("collaboration log append failed",
					"milestone_id", ev.MilestoneID,
					"transition", string(ev.Transition),
					"error", err)
			}
			return nil
		})
	}

	if e.dispatch != nil {
		for _, target := range targets(ev) {
			g.Go(func() error {
				payload := map[string]any{
					"job_id":       ev.JobID,
					"milestone_id": ev.MilestoneID,
					"from":         string(ev.From),
					"to":           string(ev.To),
				}
				for k, v := range ev.Payload {
					payload[k] = v
				}
				if err := e.dispatch.Dispatch(ctx, target, eventType(ev), payload); err != nil {
					metrics.EmitterFailures.WithLabelValues("dispatch").Inc()
					e.logger.Warn("notification dispatch failed",
						"milestone_id", ev.MilestoneID,
						"target", target,
						"transition", string(ev.Transition),
						"error", err)
				}
				return nil
			})
		}
	}

	_ = g.Wait()
}

// targets picks who hears about the transition: the counter-party of the
// actor, or both parties when an admin or the system acted.
func targets(ev milestone.Event) []string {
	switch {
	case ev.Actor.ID == ev.Parties.ClientID && ev.Actor.Role == auth.RoleClient:
		return []string{ev.Parties.FreelancerID}
	case ev.Actor.ID == ev.Parties.FreelancerID && ev.Actor.Role == auth.RoleFreelancer:
		return []string{ev.Parties.ClientID}
	default:
		return []string{ev.Parties.ClientID, ev.Parties.FreelancerID}
	}
}

func eventType(ev milestone.Event) string {
	return "milestone." + string(ev.Transition)
}

func renderMessage(ev milestone.Event) string {
	switch ev.Transition {
	case milestone.TransitionStart:
		return "Work on this milestone has started."
	case milestone.TransitionSubmit:
		return "The milestone was submitted for review."
	case milestone.TransitionApprove:
		return fmt.Sprintf("The milestone was approved and %v released from escrow.", ev.Payload["amount"])
	case milestone.TransitionRequestRefund:
		return fmt.Sprintf("A refund of %v was requested. Please respond by %v.",
			ev.Payload["requested_amount"], ev.Payload["respond_by"])
	case milestone.TransitionResolveDispute:
		return fmt.Sprintf("The dispute was resolved (%v).", ev.Payload["action"])
	default:
		return fmt.Sprintf("Milestone moved from %s to %s.", ev.From, ev.To)
	}
}
