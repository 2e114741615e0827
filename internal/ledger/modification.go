package ledger

import "time"

// Status is a modification's position in the fixed lifecycle state machine.
type Status string

const (
	StatusProposed      Status = "PROPOSED"
	StatusValidating    Status = "VALIDATING"
	StatusApproved      Status = "APPROVED"
	StatusNeedsApproval Status = "NEEDS_APPROVAL"
	StatusBlocked       Status = "BLOCKED"
	StatusApplied       Status = "APPLIED"
	StatusRolledBack    Status = "ROLLED_BACK"
	StatusRejected      Status = "REJECTED"
)

// transitions is the fixed state machine. Blocked, Rejected, and RolledBack
// are terminal. Every status change is validated against this table; an
// illegal transition fails and leaves the record unchanged.
var transitions = map[Status][]Status{
	StatusProposed:      {StatusValidating},
	StatusValidating:    {StatusApproved, StatusNeedsApproval, StatusBlocked},
	StatusNeedsApproval: {StatusApproved, StatusRejected},
	StatusApproved:      {StatusApplied},
	StatusApplied:       {StatusRolledBack},
}

func transitionAllowed(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a status admits no further transitions.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Modification is the unit of work: one proposed, tracked change to one
// target unit. Original and proposed content are full snapshots, not diffs,
// so rollback never replays history. Once proposed, the record is owned by
// the ledger; validation and the policy gate only ever see read references.
type Modification struct {
	ID              string `json:"id"`
	TargetPath      string `json:"target_path"`
	OriginalContent string `json:"original_content"`
	ProposedContent string `json:"proposed_content"`
	TestSurface     string `json:"test_surface,omitempty"`
	Reason          string `json:"reason,omitempty"`
	Status          Status `json:"status"`

	DecisionOutcome   string `json:"decision_outcome,omitempty"`
	DecisionRationale string `json:"decision_rationale,omitempty"`
	Reviewer          string `json:"reviewer,omitempty"`
	ReviewerNote      string `json:"reviewer_note,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	DecidedAt time.Time `json:"decided_at,omitempty"`
	AppliedAt time.Time `json:"applied_at,omitempty"`
}

// ProposeInput carries a new proposal from the external proposer.
type ProposeInput struct {
	TargetPath      string
	ProposedContent string
	TestSurface     string
	Reason          string
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Status     Status
	TargetPath string
	Limit      int
}
