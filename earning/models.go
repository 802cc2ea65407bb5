package earning

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status mirrors the subset of milestone states the ledger cares about.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusDisputed  Status = "disputed"
	StatusRefunded  Status = "refunded"
)

// Earning is the ledger entry for funds credited to a freelancer for one
// milestone. At most one row exists per milestone. Amount always equals the
// milestone amount minus approved partial refunds and never goes negative.
type Earning struct {
	ID           string
	MilestoneID  string
	FreelancerID string
	Amount       decimal.Decimal
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Adjustment is the audit record of a single ledger amount change.
type Adjustment struct {
	ID        string
	EarningID string
	Delta     decimal.Decimal
	ActorID   string
	Note      string
	CreatedAt time.Time
}
