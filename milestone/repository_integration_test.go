package milestone_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"escrowflow/auth"
	"escrowflow/dispute"
	"escrowflow/earning"
	"escrowflow/job"
	"escrowflow/milestone"
)

// TestMilestoneLifecycle_Integration connects to a real PostgreSQL via
// DATABASE_URL and drives a milestone through the full dispute lifecycle,
// verifying the conditional-write discipline and the ledger side of each
// transition against the live schema.
func TestMilestoneLifecycle_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	if !tableExists(ctx, t, pool, "milestones") || !tableExists(ctx, t, pool, "earnings") || !tableExists(ctx, t, pool, "jobs") {
		t.Skip("database schema missing; apply migrations/0001_init.sql first")
	}

	// Seed: client, freelancer, job. Milestones are append-only so they are
	// left in place; unique emails keep reruns from colliding.
	nonce := time.Now().UnixNano()
	var clientID, freelancerID, jobID string

	if err := pool.QueryRow(ctx,
		`INSERT INTO users (email, full_name, role) VALUES ($1, 'Casey Client', 'client') RETURNING id`,
		fmt.Sprintf("casey+%d@example.com", nonce)).Scan(&clientID); err != nil {
		t.Fatalf("seed client: %v", err)
	}
	if err := pool.QueryRow(ctx,
		`INSERT INTO users (email, full_name, role) VALUES ($1, 'Frankie Freelancer', 'freelancer') RETURNING id`,
		fmt.Sprintf("frankie+%d@example.com", nonce)).Scan(&freelancerID); err != nil {
		t.Fatalf("seed freelancer: %v", err)
	}
	if err := pool.QueryRow(ctx,
		`INSERT INTO jobs (title, client_id, freelancer_id) VALUES ('Landing page', $1, $2) RETURNING id`,
		clientID, freelancerID).Scan(&jobID); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	client := auth.Actor{ID: clientID, Role: auth.RoleClient}
	freelancer := auth.Actor{ID: freelancerID, Role: auth.RoleFreelancer}

	repo := milestone.NewRepository(pool)
	ledger := earning.NewRepository(pool)
	jobs := job.NewService(job.NewRepository(pool))
	svc := milestone.NewService(pool, repo, jobs, ledger, nil, 72*time.Hour)
	resolver := dispute.NewService(pool, repo, jobs, ledger, nil)

	m, err := repo.Create(ctx, milestone.CreateParams{
		JobID:  jobID,
		Title:  "Design mockups",
		Amount: decimal.RequireFromString("500.00"),
	})
	if err != nil {
		t.Fatalf("create milestone: %v", err)
	}
	if m.Status != milestone.StatusPending || m.Version != 1 {
		t.Fatalf("unexpected initial state: status=%s version=%d", m.Status, m.Version)
	}

	// pending -> in_progress -> submitted -> approved
	if _, err := svc.Start(ctx, jobID, m.ID, freelancer); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.Submit(ctx, jobID, m.ID, freelancer); err != nil {
		t.Fatalf("submit: %v", err)
	}
	approved, err := svc.Approve(ctx, jobID, m.ID, client)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Version != 4 {
		t.Fatalf("expected version 4 after three writes, got %d", approved.Version)
	}

	// Approval recorded the earning at the full amount.
	e, err := ledger.GetByMilestone(ctx, m.ID)
	if err != nil {
		t.Fatalf("get earning: %v", err)
	}
	if !e.Amount.Equal(decimal.RequireFromString("500.00")) || e.Status != earning.StatusCompleted {
		t.Fatalf("unexpected earning: amount=%s status=%s", e.Amount, e.Status)
	}

	// Dispute the paid milestone; the earning is flagged but not reduced.
	requested := decimal.RequireFromString("200.00")
	disputed, err := svc.RequestRefund(ctx, jobID, m.ID, client, milestone.RefundRequest{
		Reason: "two of five pages missing",
		Amount: &requested,
	})
	if err != nil {
		t.Fatalf("request refund: %v", err)
	}
	if disputed.Dispute == nil || !disputed.Dispute.RequestedAmount.Equal(requested) {
		t.Fatalf("unexpected dispute record: %+v", disputed.Dispute)
	}
	e, err = ledger.GetByMilestone(ctx, m.ID)
	if err != nil {
		t.Fatalf("get earning after dispute: %v", err)
	}
	if e.Status != earning.StatusDisputed || !e.Amount.Equal(decimal.RequireFromString("500.00")) {
		t.Fatalf("expected disputed earning at 500.00, got amount=%s status=%s", e.Amount, e.Status)
	}

	// Partial resolution: 200.00 back to the client, 300.00 stays earned.
	resolved, err := resolver.Resolve(ctx, jobID, m.ID, client, dispute.ResolveParams{
		Action: milestone.ActionPartial,
		Amount: &requested,
		Note:   "missing pages refunded",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != milestone.StatusPartiallyRefunded {
		t.Fatalf("expected partially_refunded, got %s", resolved.Status)
	}

	e, err = ledger.GetByMilestone(ctx, m.ID)
	if err != nil {
		t.Fatalf("get earning after resolution: %v", err)
	}
	if !e.Amount.Equal(decimal.RequireFromString("300.00")) || e.Status != earning.StatusCompleted {
		t.Fatalf("expected completed earning at 300.00, got amount=%s status=%s", e.Amount, e.Status)
	}
	adjustments, err := ledger.Adjustments(ctx, e.ID)
	if err != nil {
		t.Fatalf("list adjustments: %v", err)
	}
	if len(adjustments) != 1 || !adjustments[0].Delta.Equal(decimal.RequireFromString("-200.00")) {
		t.Fatalf("expected one -200.00 adjustment, got %+v", adjustments)
	}

	// Terminal state: no further transition and no second resolution.
	if _, err := svc.Submit(ctx, jobID, m.ID, freelancer); err == nil {
		t.Fatal("expected conflict submitting a partially refunded milestone")
	}
	if _, err := resolver.Resolve(ctx, jobID, m.ID, client, dispute.ResolveParams{Action: milestone.ActionApprove}); err == nil {
		t.Fatal("expected conflict resolving twice")
	}
}

// TestConditionalWrite_Integration verifies that a stale observed version
// loses the write and surfaces StateConflictError.
func TestConditionalWrite_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	if !tableExists(ctx, t, pool, "milestones") {
		t.Skip("database schema missing; apply migrations/0001_init.sql first")
	}

	nonce := time.Now().UnixNano()
	var clientID, jobID string
	if err := pool.QueryRow(ctx,
		`INSERT INTO users (email, full_name, role) VALUES ($1, 'Casey Client', 'client') RETURNING id`,
		fmt.Sprintf("cas+%d@example.com", nonce)).Scan(&clientID); err != nil {
		t.Fatalf("seed client: %v", err)
	}
	if err := pool.QueryRow(ctx,
		`INSERT INTO jobs (title, client_id) VALUES ('Solo job', $1) RETURNING id`,
		clientID).Scan(&jobID); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	repo := milestone.NewRepository(pool)
	m, err := repo.Create(ctx, milestone.CreateParams{
		JobID:  jobID,
		Title:  "Race target",
		Amount: decimal.RequireFromString("100.00"),
	})
	if err != nil {
		t.Fatalf("create milestone: %v", err)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback(ctx)

	// First write with the observed version wins and bumps it.
	m.Status = milestone.StatusInProgress
	updated, err := repo.Update(ctx, tx, m, m.Version)
	if err != nil {
		t.Fatalf("first update: %v", err)
	}
	if updated.Version != m.Version+1 {
		t.Fatalf("expected version bump to %d, got %d", m.Version+1, updated.Version)
	}

	// Second write with the now-stale version loses.
	m.Status = milestone.StatusSubmitted
	_, err = repo.Update(ctx, tx, m, m.Version)
	sce, ok := err.(*milestone.StateConflictError)
	if !ok {
		t.Fatalf("expected StateConflictError, got %v", err)
	}
	if sce.Current != milestone.StatusInProgress {
		t.Fatalf("expected current in_progress, got %s", sce.Current)
	}

	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`, name).Scan(&exists)
	if err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}
