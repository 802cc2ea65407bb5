package milestone

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const milestoneColumns = `id, job_id, title, description, amount, due_date, status, version,
	submitted_at, approved_at, disputed_at, refunded_at, dispute, created_at, updated_at`

// PGRepository is the PostgreSQL-backed milestone store.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed milestone store.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// CreateParams captures milestone terms fixed at creation.
type CreateParams struct {
	JobID       string
	Title       string
	Description string
	Amount      decimal.Decimal
	DueDate     *time.Time
}

// Create inserts a milestone in pending status. Terms are immutable after
// this point; status changes only flow through the transition services.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (Milestone, error) {
	if params.JobID == "" {
		return Milestone{}, &ValidationError{Field: "job_id", Reason: "required"}
	}
	if params.Title == "" {
		return Milestone{}, &ValidationError{Field: "title", Reason: "required"}
	}
	if !params.Amount.IsPositive() {
		return Milestone{}, &ValidationError{Field: "amount", Reason: "must be positive"}
	}

	const insertSQL = `
		INSERT INTO milestones (job_id, title, description, amount, due_date, status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
		RETURNING ` + milestoneColumns

	row := r.pool.QueryRow(ctx, insertSQL,
		params.JobID, params.Title, params.Description, params.Amount, params.DueDate)
	m, err := scanMilestone(row)
	if err != nil {
		return Milestone{}, fmt.Errorf("milestone: insert: %w", err)
	}
	return m, nil
}

// Get loads a milestone inside the caller's transaction, scoped to its job.
// A milestone that exists under a different job is reported as not found.
func (r *PGRepository) Get(ctx context.Context, tx pgx.Tx, jobID, milestoneID string) (Milestone, error) {
	const selectSQL = `
		SELECT ` + milestoneColumns + `
		FROM milestones
		WHERE id = $1 AND job_id = $2
	`

	m, err := scanMilestone(tx.QueryRow(ctx, selectSQL, milestoneID, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Milestone{}, ErrNotFound
		}
		return Milestone{}, fmt.Errorf("milestone: get: %w", err)
	}
	return m, nil
}

// Update commits the mutated milestone conditioned on the version observed at
// read time. A conflicting concurrent write yields StateConflictError and
// leaves the row untouched; the caller must not retry automatically.
func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, m Milestone, expectedVersion int64) (Milestone, error) {
	disputeJSON, err := marshalDispute(m.Dispute)
	if err != nil {
		return Milestone{}, err
	}

	const updateSQL = `
		UPDATE milestones
		SET status = $1,
		    version = version + 1,
		    submitted_at = $2,
		    approved_at = $3,
		    disputed_at = $4,
		    refunded_at = $5,
		    dispute = $6,
		    updated_at = now()
		WHERE id = $7 AND version = $8
		RETURNING ` + milestoneColumns

	row := tx.QueryRow(ctx, updateSQL,
		m.Status, m.SubmittedAt, m.ApprovedAt, m.DisputedAt, m.RefundedAt,
		disputeJSON, m.ID, expectedVersion)
	updated, err := scanMilestone(row)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Milestone{}, fmt.Errorf("milestone: update: %w", err)
	}

	// Zero rows: either the milestone vanished or the version moved under us.
	var current Status
	if err := tx.QueryRow(ctx, `SELECT status FROM milestones WHERE id = $1`, m.ID).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Milestone{}, ErrNotFound
		}
		return Milestone{}, fmt.Errorf("milestone: update recheck: %w", err)
	}
	return Milestone{}, &StateConflictError{Current: current, Requested: m.Status}
}

// ListByJob returns the milestones for a job ordered by creation.
func (r *PGRepository) ListByJob(ctx context.Context, jobID string) ([]Milestone, error) {
	const query = `
		SELECT ` + milestoneColumns + `
		FROM milestones
		WHERE job_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("milestone: list: %w", err)
	}
	defer rows.Close()

	out := make([]Milestone, 0, 8)
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, fmt.Errorf("milestone: scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("milestone: iterate: %w", err)
	}
	return out, nil
}

func marshalDispute(d *DisputeRecord) ([]byte, error) {
	if d == nil {
		return nil, nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("milestone: marshal dispute: %w", err)
	}
	return b, nil
}

func scanMilestone(row pgx.Row) (Milestone, error) {
	var (
		m           Milestone
		disputeJSON []byte
	)
	err := row.Scan(
		&m.ID,
		&m.JobID,
		&m.Title,
		&m.Description,
		&m.Amount,
		&m.DueDate,
		&m.Status,
		&m.Version,
		&m.SubmittedAt,
		&m.ApprovedAt,
		&m.DisputedAt,
		&m.RefundedAt,
		&disputeJSON,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return Milestone{}, err
	}
	if len(disputeJSON) > 0 {
		var d DisputeRecord
		if err := json.Unmarshal(disputeJSON, &d); err != nil {
			return Milestone{}, fmt.Errorf("milestone: unmarshal dispute: %w", err)
		}
		m.Dispute = &d
	}
	return m, nil
}
