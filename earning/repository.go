package earning

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrNotFound signals no ledger entry exists for the milestone.
var ErrNotFound = errors.New("earning: not found")

// Repository persists ledger entries. Mutating methods are tx-scoped so they
// commit or roll back together with the milestone status write.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed ledger repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Record creates the ledger entry for an approved milestone at the full
// amount. The insert is idempotent on milestone_id so a replayed approval
// cannot double-credit.
func (r *Repository) Record(ctx context.Context, tx pgx.Tx, milestoneID, freelancerID string, amount decimal.Decimal) error {
	const insertSQL = `
		INSERT INTO earnings (milestone_id, freelancer_id, amount, status)
		VALUES ($1, $2, $3, 'completed')
		ON CONFLICT (milestone_id) DO NOTHING
	`
	if _, err := tx.Exec(ctx, insertSQL, milestoneID, freelancerID, amount); err != nil {
		return fmt.Errorf("earning: record: %w", err)
	}
	return nil
}

// MarkDisputed flags the milestone's earning while a dispute is open. The
// amount stays untouched until resolution.
func (r *Repository) MarkDisputed(ctx context.Context, tx pgx.Tx, milestoneID string) error {
	return r.setStatus(ctx, tx, milestoneID, StatusDisputed)
}

// Refund records a full reversal: the entry keeps its amount for audit but is
// no longer payable. A milestone refunded before payment has no entry and
// nothing to reverse.
func (r *Repository) Refund(ctx context.Context, tx pgx.Tx, milestoneID string) error {
	return r.setStatus(ctx, tx, milestoneID, StatusRefunded)
}

// Revert returns a disputed entry to completed after a rejected dispute.
func (r *Repository) Revert(ctx context.Context, tx pgx.Tx, milestoneID string) error {
	return r.setStatus(ctx, tx, milestoneID, StatusCompleted)
}

func (r *Repository) setStatus(ctx context.Context, tx pgx.Tx, milestoneID string, status Status) error {
	const updateSQL = `
		UPDATE earnings
		SET status = $1, updated_at = now()
		WHERE milestone_id = $2
	`
	if _, err := tx.Exec(ctx, updateSQL, status, milestoneID); err != nil {
		return fmt.Errorf("earning: set status %s: %w", status, err)
	}
	return nil
}

// SetPartial settles a partial refund: the entry ends at remaining =
// milestone amount − refunded, status completed, with an adjustment row
// recording the delta. When the dispute arose before payment no entry exists
// yet; one is created directly at the reduced amount.
func (r *Repository) SetPartial(ctx context.Context, tx pgx.Tx, milestoneID, freelancerID string, remaining, refunded decimal.Decimal, actorID, note string) error {
	const upsertSQL = `
		INSERT INTO earnings (milestone_id, freelancer_id, amount, status)
		VALUES ($1, $2, $3, 'completed')
		ON CONFLICT (milestone_id) DO UPDATE
		SET amount = EXCLUDED.amount, status = 'completed', updated_at = now()
		RETURNING id
	`

	var earningID string
	if err := tx.QueryRow(ctx, upsertSQL, milestoneID, freelancerID, remaining).Scan(&earningID); err != nil {
		return fmt.Errorf("earning: apply partial: %w", err)
	}

	const adjustSQL = `
		INSERT INTO earning_adjustments (earning_id, delta, actor_id, note)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := tx.Exec(ctx, adjustSQL, earningID, refunded.Neg(), actorID, note); err != nil {
		return fmt.Errorf("earning: record adjustment: %w", err)
	}
	return nil
}

// GetByMilestone fetches the ledger entry for a milestone.
func (r *Repository) GetByMilestone(ctx context.Context, milestoneID string) (Earning, error) {
	const query = `
		SELECT id, milestone_id, freelancer_id, amount, status, created_at, updated_at
		FROM earnings
		WHERE milestone_id = $1
	`

	var e Earning
	err := r.pool.QueryRow(ctx, query, milestoneID).Scan(
		&e.ID,
		&e.MilestoneID,
		&e.FreelancerID,
		&e.Amount,
		&e.Status,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Earning{}, ErrNotFound
		}
		return Earning{}, fmt.Errorf("earning: get by milestone: %w", err)
	}
	return e, nil
}

// Adjustments lists the audit trail for a ledger entry, oldest first.
func (r *Repository) Adjustments(ctx context.Context, earningID string) ([]Adjustment, error) {
	const query = `
		SELECT id, earning_id, delta, actor_id, note, created_at
		FROM earning_adjustments
		WHERE earning_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.pool.Query(ctx, query, earningID)
	if err != nil {
		return nil, fmt.Errorf("earning: list adjustments: %w", err)
	}
	defer rows.Close()

	out := make([]Adjustment, 0, 4)
	for rows.Next() {
		var a Adjustment
		if err := rows.Scan(&a.ID, &a.EarningID, &a.Delta, &a.ActorID, &a.Note, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("earning: scan adjustment: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("earning: iterate adjustments: %w", err)
	}
	return out, nil
}
