package milestone

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status represents the escrow lifecycle of a milestone.
type Status string

const (
	StatusPending           Status = "pending"
	StatusInProgress        Status = "in_progress"
	StatusSubmitted         Status = "submitted"
	StatusApproved          Status = "approved"
	StatusDisputed          Status = "disputed"
	StatusRefunded          Status = "refunded"
	StatusPartiallyRefunded Status = "partially_refunded"
)

// ResolutionAction enumerates how a dispute can be closed.
type ResolutionAction string

const (
	ActionApprove ResolutionAction = "approve"
	ActionReject  ResolutionAction = "reject"
	ActionPartial ResolutionAction = "partial"
)

// Evidence is a single supporting item attached to a refund request.
type Evidence struct {
	Type        string `json:"type"`
	Locator     string `json:"locator"`
	Description string `json:"description,omitempty"`
}

// Resolution records how a dispute was closed.
type Resolution struct {
	Action         ResolutionAction `json:"action"`
	ResolvedBy     string           `json:"resolved_by"`
	ResolvedAt     time.Time        `json:"resolved_at"`
	ResolvedAmount decimal.Decimal  `json:"resolved_amount"`
	Note           string           `json:"note,omitempty"`
}

// DisputeRecord is the structured dispute state embedded in a milestone.
// The field set is fixed; resolution is present only once the dispute closes.
type DisputeRecord struct {
	RequestedBy     string          `json:"requested_by"`
	RequestedAt     time.Time       `json:"requested_at"`
	Reason          string          `json:"reason"`
	RequestedAmount decimal.Decimal `json:"requested_amount"`
	Evidence        []Evidence      `json:"evidence,omitempty"`
	// RespondBy surfaces the response window to the disputed party. No
	// automatic transition enforces it.
	RespondBy  time.Time   `json:"respond_by"`
	Resolution *Resolution `json:"resolution,omitempty"`
}

// Milestone is a priced unit of contracted work holding escrowed funds.
// Amount is fixed at creation; only the earning ledger is reduced by a
// partial refund. Rows are never deleted; terminal states are kept for audit.
type Milestone struct {
	ID          string
	JobID       string
	Title       string
	Description string
	Amount      decimal.Decimal
	DueDate     *time.Time
	Status      Status
	// Version is the optimistic concurrency token. Every committed
	// transition increments it; writes are conditioned on the version
	// observed at read time.
	Version     int64
	SubmittedAt *time.Time
	ApprovedAt  *time.Time
	DisputedAt  *time.Time
	RefundedAt  *time.Time
	Dispute     *DisputeRecord
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Paid reports whether the milestone's funds were released before any
// dispute. Rejecting a dispute returns the milestone to approved when true,
// submitted otherwise.
func (m Milestone) Paid() bool {
	return m.ApprovedAt != nil
}

// RefundStatus is the read model served for refund inquiries.
type RefundStatus struct {
	Status     Status         `json:"status"`
	IsDisputed bool           `json:"is_disputed"`
	DisputedAt *time.Time     `json:"disputed_at,omitempty"`
	RefundedAt *time.Time     `json:"refunded_at,omitempty"`
	Request    *DisputeRecord `json:"refund_request,omitempty"`
	Resolution *Resolution    `json:"refund_resolution,omitempty"`
}
