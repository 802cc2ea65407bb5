package dispute

import (
	"github.com/shopspring/decimal"

	"escrowflow/milestone"
)

// ResolveParams carries a resolution request for a disputed milestone.
// Amount is required for partial resolutions and ignored otherwise.
type ResolveParams struct {
	Action milestone.ResolutionAction
	Amount *decimal.Decimal
	Note   string
}

// ParseAction validates a wire-level action string.
func ParseAction(raw string) (milestone.ResolutionAction, error) {
	switch milestone.ResolutionAction(raw) {
	case milestone.ActionApprove:
		return milestone.ActionApprove, nil
	case milestone.ActionReject:
		return milestone.ActionReject, nil
	case milestone.ActionPartial:
		return milestone.ActionPartial, nil
	default:
		return "", &milestone.ValidationError{Field: "action", Reason: "must be approve, reject, or partial"}
	}
}
