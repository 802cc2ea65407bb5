package milestone

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"escrowflow/auth"
	"escrowflow/job"
)

var (
	testParties    = job.Parties{ClientID: "client-1", FreelancerID: "freelancer-1"}
	testClient     = auth.Actor{ID: "client-1", Role: auth.RoleClient}
	testFreelancer = auth.Actor{ID: "freelancer-1", Role: auth.RoleFreelancer}
)

func testMilestone(status Status) Milestone {
	return Milestone{
		ID:      "ms-1",
		JobID:   "job-1",
		Title:   "Design mockups",
		Amount:  decimal.RequireFromString("500.00"),
		Status:  status,
		Version: 3,
	}
}

func newTestService(repo *fakeRepo, ledger *fakeLedger, emitter *fakeEmitter) (*Service, *fakePool) {
	pool := &fakePool{}
	svc := NewService(pool, repo, &fakeParties{parties: testParties}, ledger, emitter, 72*time.Hour)
	svc.WithClock(func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	})
	return svc, pool
}

func TestSubmit_HappyPath(t *testing.T) {
	repo := &fakeRepo{m: testMilestone(StatusInProgress)}
	ledger := &fakeLedger{}
	emitter := &fakeEmitter{}
	svc, pool := newTestService(repo, ledger, emitter)

	updated, err := svc.Submit(context.Background(), "job-1", "ms-1", testFreelancer)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if updated.Status != StatusSubmitted {
		t.Fatalf("expected submitted, got %s", updated.Status)
	}
	if updated.SubmittedAt == nil {
		t.Fatal("expected submitted_at to be set")
	}
	if !pool.tx.committed {
		t.Error("expected commit")
	}
	if len(ledger.calls) != 0 {
		t.Errorf("submit must not touch the ledger, got %v", ledger.calls)
	}
	if len(emitter.events) != 1 || emitter.events[0].Transition != TransitionSubmit {
		t.Fatalf("expected one submit event, got %+v", emitter.events)
	}
}

func TestApprove_RecordsEarning(t *testing.T) {
	repo := &fakeRepo{m: testMilestone(StatusSubmitted)}
	ledger := &fakeLedger{}
	svc, pool := newTestService(repo, ledger, &fakeEmitter{})

	updated, err := svc.Approve(context.Background(), "job-1", "ms-1", testClient)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if updated.Status != StatusApproved {
		t.Fatalf("expected approved, got %s", updated.Status)
	}
	if updated.ApprovedAt == nil {
		t.Fatal("expected approved_at to be set")
	}
	if !pool.tx.committed {
		t.Error("expected commit")
	}
	if len(ledger.calls) != 1 || ledger.calls[0] != "record" {
		t.Fatalf("expected a single ledger record, got %v", ledger.calls)
	}
	if !ledger.recordedAmount.Equal(decimal.RequireFromString("500.00")) {
		t.Fatalf("expected earning at full amount, got %s", ledger.recordedAmount)
	}
	if ledger.recordedFreelancer != testParties.FreelancerID {
		t.Fatalf("expected earning for %s, got %s", testParties.FreelancerID, ledger.recordedFreelancer)
	}
}

func TestApprove_ByFreelancerDeniedBeforeStateCheck(t *testing.T) {
	// The milestone is disputed, so the state check would also fail; the
	// guard must reject first, before any load.
	repo := &fakeRepo{m: testMilestone(StatusDisputed)}
	svc, pool := newTestService(repo, &fakeLedger{}, &fakeEmitter{})

	_, err := svc.Approve(context.Background(), "job-1", "ms-1", testFreelancer)
	var ae *AuthorizationError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AuthorizationError, got %v", err)
	}
	if repo.getCalls != 0 {
		t.Error("guard denial must happen before the milestone is read")
	}
	if pool.tx != nil {
		t.Error("guard denial must not open a transaction")
	}
}

func TestRequestRefund_FromPendingConflicts(t *testing.T) {
	repo := &fakeRepo{m: testMilestone(StatusPending)}
	svc, pool := newTestService(repo, &fakeLedger{}, &fakeEmitter{})

	_, err := svc.RequestRefund(context.Background(), "job-1", "ms-1", testClient, RefundRequest{Reason: "never delivered"})
	var sce *StateConflictError
	if !errors.As(err, &sce) {
		t.Fatalf("expected StateConflictError, got %v", err)
	}
	if sce.Current != StatusPending {
		t.Fatalf("expected current pending, got %s", sce.Current)
	}
	if repo.updateCalls != 0 {
		t.Error("conflicting request must not write")
	}
	if pool.tx.committed {
		t.Error("conflicting request must not commit")
	}
}

func TestRequestRefund_DefaultsToFullAmount(t *testing.T) {
	repo := &fakeRepo{m: testMilestone(StatusSubmitted)}
	ledger := &fakeLedger{}
	emitter := &fakeEmitter{}
	svc, _ := newTestService(repo, ledger, emitter)

	updated, err := svc.RequestRefund(context.Background(), "job-1", "ms-1", testClient, RefundRequest{Reason: "incomplete work"})
	if err != nil {
		t.Fatalf("request refund: %v", err)
	}
	if updated.Status != StatusDisputed {
		t.Fatalf("expected disputed, got %s", updated.Status)
	}
	d := updated.Dispute
	if d == nil {
		t.Fatal("expected dispute record")
	}
	if !d.RequestedAmount.Equal(decimal.RequireFromString("500.00")) {
		t.Fatalf("expected requested amount 500.00, got %s", d.RequestedAmount)
	}
	if d.RequestedBy != testClient.ID {
		t.Fatalf("expected requested_by %s, got %s", testClient.ID, d.RequestedBy)
	}
	wantRespondBy := time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC)
	if !d.RespondBy.Equal(wantRespondBy) {
		t.Fatalf("expected respond_by %v, got %v", wantRespondBy, d.RespondBy)
	}
	// Not yet paid: the ledger has nothing to flag.
	if len(ledger.calls) != 0 {
		t.Errorf("unpaid dispute must not touch the ledger, got %v", ledger.calls)
	}
}

func TestRequestRefund_PaidMilestoneFlagsEarning(t *testing.T) {
	m := testMilestone(StatusApproved)
	approvedAt := time.Date(2025, 5, 20, 9, 0, 0, 0, time.UTC)
	m.ApprovedAt = &approvedAt
	repo := &fakeRepo{m: m}
	ledger := &fakeLedger{}
	svc, _ := newTestService(repo, ledger, &fakeEmitter{})

	amount := decimal.RequireFromString("200.00")
	updated, err := svc.RequestRefund(context.Background(), "job-1", "ms-1", testClient, RefundRequest{
		Reason: "only half delivered",
		Amount: &amount,
	})
	if err != nil {
		t.Fatalf("request refund: %v", err)
	}
	if !updated.Dispute.RequestedAmount.Equal(amount) {
		t.Fatalf("expected requested amount 200.00, got %s", updated.Dispute.RequestedAmount)
	}
	if len(ledger.calls) != 1 || ledger.calls[0] != "mark_disputed" {
		t.Fatalf("expected earning flagged disputed, got %v", ledger.calls)
	}
}

func TestRequestRefund_Validation(t *testing.T) {
	repo := &fakeRepo{m: testMilestone(StatusSubmitted)}
	svc, _ := newTestService(repo, &fakeLedger{}, &fakeEmitter{})

	cases := []struct {
		name      string
		req       RefundRequest
		wantField string
	}{
		{"empty reason", RefundRequest{Reason: "   "}, "reason"},
		{"oversized reason", RefundRequest{Reason: string(make([]byte, 2001))}, "reason"},
		{"non-positive amount", RefundRequest{Reason: "bad", Amount: decimalPtr("0")}, "amount"},
		{"amount above milestone", RefundRequest{Reason: "bad", Amount: decimalPtr("500.01")}, "amount"},
		{"evidence missing locator", RefundRequest{Reason: "bad", Evidence: []Evidence{{Type: "screenshot"}}}, "evidence[0]"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.RequestRefund(context.Background(), "job-1", "ms-1", testClient, tc.req)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tc.wantField {
				t.Fatalf("expected field %q, got %q", tc.wantField, ve.Field)
			}
		})
	}

	if repo.updateCalls != 0 {
		t.Error("validation failures must not write")
	}
}

func TestTransition_LostRaceSurfacesConflict(t *testing.T) {
	repo := &fakeRepo{
		m:         testMilestone(StatusSubmitted),
		updateErr: &StateConflictError{Current: StatusDisputed, Requested: StatusApproved},
	}
	emitter := &fakeEmitter{}
	svc, pool := newTestService(repo, &fakeLedger{}, emitter)

	_, err := svc.Approve(context.Background(), "job-1", "ms-1", testClient)
	var sce *StateConflictError
	if !errors.As(err, &sce) {
		t.Fatalf("expected StateConflictError, got %v", err)
	}
	if pool.tx.committed {
		t.Error("lost race must not commit")
	}
	if !pool.tx.rolled {
		t.Error("lost race must roll back")
	}
	if len(emitter.events) != 0 {
		t.Error("lost race must not emit")
	}
}

func TestTransition_UnknownJob(t *testing.T) {
	pool := &fakePool{}
	svc := NewService(pool, &fakeRepo{}, &fakeParties{err: job.ErrNotFound}, &fakeLedger{}, &fakeEmitter{}, time.Hour)

	_, err := svc.Submit(context.Background(), "job-x", "ms-1", testFreelancer)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRefundStatus(t *testing.T) {
	m := testMilestone(StatusDisputed)
	disputedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.DisputedAt = &disputedAt
	m.Dispute = &DisputeRecord{
		RequestedBy:     "client-1",
		RequestedAt:     disputedAt,
		Reason:          "incomplete work",
		RequestedAmount: decimal.RequireFromString("500.00"),
	}
	repo := &fakeRepo{m: m}
	svc, _ := newTestService(repo, &fakeLedger{}, &fakeEmitter{})

	rs, err := svc.RefundStatus(context.Background(), "job-1", "ms-1", testClient)
	if err != nil {
		t.Fatalf("refund status: %v", err)
	}
	if !rs.IsDisputed {
		t.Error("expected disputed flag")
	}
	if rs.Request == nil || rs.Request.Reason != "incomplete work" {
		t.Fatalf("expected dispute record, got %+v", rs.Request)
	}
	if rs.Resolution != nil {
		t.Error("expected no resolution yet")
	}

	stranger := auth.Actor{ID: "someone-else", Role: auth.RoleClient}
	if _, err := svc.RefundStatus(context.Background(), "job-1", "ms-1", stranger); err == nil {
		t.Fatal("expected authorization error for stranger")
	}
}

func decimalPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// --- fakes ---

type fakeParties struct {
	parties job.Parties
	err     error
}

func (f *fakeParties) Parties(context.Context, string) (job.Parties, error) {
	return f.parties, f.err
}

type fakeRepo struct {
	m           Milestone
	getErr      error
	updateErr   error
	getCalls    int
	updateCalls int
	lastUpdate  Milestone
}

func (f *fakeRepo) Get(context.Context, pgx.Tx, string, string) (Milestone, error) {
	f.getCalls++
	if f.getErr != nil {
		return Milestone{}, f.getErr
	}
	return f.m, nil
}

func (f *fakeRepo) Update(_ context.Context, _ pgx.Tx, m Milestone, expectedVersion int64) (Milestone, error) {
	f.updateCalls++
	if f.updateErr != nil {
		return Milestone{}, f.updateErr
	}
	if expectedVersion != f.m.Version {
		return Milestone{}, &StateConflictError{Current: f.m.Status, Requested: m.Status}
	}
	m.Version = expectedVersion + 1
	f.lastUpdate = m
	return m, nil
}

type fakeLedger struct {
	calls              []string
	recordedAmount     decimal.Decimal
	recordedFreelancer string
	partialRemaining   decimal.Decimal
	partialRefunded    decimal.Decimal
	err                error
}

func (f *fakeLedger) Record(_ context.Context, _ pgx.Tx, _ string, freelancerID string, amount decimal.Decimal) error {
	f.calls = append(f.calls, "record")
	f.recordedAmount = amount
	f.recordedFreelancer = freelancerID
	return f.err
}

func (f *fakeLedger) MarkDisputed(context.Context, pgx.Tx, string) error {
	f.calls = append(f.calls, "mark_disputed")
	return f.err
}

func (f *fakeLedger) Refund(context.Context, pgx.Tx, string) error {
	f.calls = append(f.calls, "refund")
	return f.err
}

func (f *fakeLedger) SetPartial(_ context.Context, _ pgx.Tx, _ string, _ string, remaining, refunded decimal.Decimal, _, _ string) error {
	f.calls = append(f.calls, "set_partial")
	f.partialRemaining = remaining
	f.partialRefunded = refunded
	return f.err
}

func (f *fakeLedger) Revert(context.Context, pgx.Tx, string) error {
	f.calls = append(f.calls, "revert")
	return f.err
}

type fakeEmitter struct {
	events []Event
}

func (f *fakeEmitter) Emit(ev Event) {
	f.events = append(f.events, ev)
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
