package models

import "time"

// Lifecycle states for an approval decision.
//
// State machine:
//
//	detected -> pending_commit -> committed
//	        \                  \
//	         -> cancelled       -> failed
//
// committed, cancelled and failed are terminal.
const (
	StateDetected      = "detected"
	StatePendingCommit = "pending_commit"
	StateCancelled     = "cancelled"
	StateCommitted     = "committed"
	StateFailed        = "failed"
)

// Decision outcomes
const (
	OutcomeAutoApprove   = "auto_approve"
	OutcomeManualApprove = "manual_approve"
	OutcomeReject        = "reject"
	OutcomeHold          = "hold"
)

// ActiveStates are the non-terminal lifecycle states. At most one decision
// per ERP requisition may be in an active state at a time.
var ActiveStates = []string{StateDetected, StatePendingCommit}

// IsTerminalState reports whether no further lifecycle transition is
// permitted from state.
func IsTerminalState(state string) bool {
	switch state {
	case StateCommitted, StateCancelled, StateFailed:
		return true
	}
	return false
}

// ApprovalDecision is this system's record of what should happen to a
// requisition and its progress toward being committed back to the ERP.
type ApprovalDecision struct {
	ID               string
	ERPRequisitionID string

	// Set once at creation, never mutated
	RiskScore       float64
	RiskExplanation string

	Outcome string
	State   string

	// Earliest time the commit worker may process this row. Always set,
	// even when auto-commit is disabled. Immutable after creation.
	CommitAt time.Time

	// Append-only audit trail
	Comment string

	// Requisition snapshot captured at staging time
	ProductName string
	Material    string
	Quantity    *float64
	Unit        string
	Price       *float64
	TotalAmount *float64
	Currency    string
	Plant       string

	CommittedAt  *time.Time
	ErrorMessage string

	CreatedAt time.Time
	UpdatedAt time.Time
}
