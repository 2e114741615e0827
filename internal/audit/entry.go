package audit

import "time"

// Entry is a single audit record: one committed lifecycle transition of one
// modification. The hash chain makes retroactive edits detectable.
type Entry struct {
	Seq            uint64    `json:"seq"`
	Time           time.Time `json:"ts"`
	PrevHash       string    `json:"prev_hash"`
	ModificationID string    `json:"modification_id"`
	TargetPath     string    `json:"target_path"`
	From           string    `json:"from,omitempty"` // empty on the initial proposal
	To             string    `json:"to"`
	Outcome        string    `json:"outcome,omitempty"`      // gate outcome, once decided
	SafetyLevel    string    `json:"safety_level,omitempty"` // classified level, once validated
	Rationale      string    `json:"rationale,omitempty"`
	Hash           string    `json:"hash"` // SHA-256 of this entry (with hash field empty)
}

// Record carries the transition details for one audit entry. Seq, Time,
// PrevHash, and Hash are owned by the logger.
type Record struct {
	ModificationID string
	TargetPath     string
	From           string
	To             string
	Outcome        string
	SafetyLevel    string
	Rationale      string
}

// Query narrows the entries returned by QueryLog. Zero fields match
// everything.
type Query struct {
	ModificationID string
	Since          time.Time
	Until          time.Time
	Limit          int
}
