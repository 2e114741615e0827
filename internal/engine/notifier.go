package engine

import (
	"context"
	"sync"

	"github.com/changegate/changegate/internal/audit"
	"github.com/changegate/changegate/internal/ledger"
)

// AuditNotifier bridges ledger transitions into the hash-chained audit log.
// Install it on the ledger with ledger.WithNotifier and on the engine with
// WithAuditNotes so decision entries carry the classified safety level.
type AuditNotifier struct {
	log *audit.Logger

	mu     sync.Mutex
	levels map[string]string
}

// NewAuditNotifier creates an AuditNotifier over the given logger.
func NewAuditNotifier(log *audit.Logger) *AuditNotifier {
	return &AuditNotifier{log: log, levels: make(map[string]string)}
}

// NoteLevel records the classified safety level for a modification so the
// next transition entries can carry it.
func (n *AuditNotifier) NoteLevel(id, level string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.levels[id] = level
}

// Transition implements ledger.Notifier. Audit write failures are swallowed
// deliberately: the transition has already committed, and the chain Verify
// will surface a gap if one matters.
func (n *AuditNotifier) Transition(_ context.Context, m ledger.Modification, from ledger.Status, rationale string) {
	n.mu.Lock()
	level := n.levels[m.ID]
	n.mu.Unlock()

	_ = n.log.Log(audit.Record{
		ModificationID: m.ID,
		TargetPath:     m.TargetPath,
		From:           string(from),
		To:             string(m.Status),
		Outcome:        m.DecisionOutcome,
		SafetyLevel:    level,
		Rationale:      rationale,
	})
}

// Failure implements ledger.Notifier. A refused or failed operation appends
// one entry whose From/To pair names the transition that was attempted and
// whose rationale carries the cause.
func (n *AuditNotifier) Failure(_ context.Context, m ledger.Modification, attempted ledger.Status, cause error) {
	n.mu.Lock()
	level := n.levels[m.ID]
	n.mu.Unlock()

	_ = n.log.Log(audit.Record{
		ModificationID: m.ID,
		TargetPath:     m.TargetPath,
		From:           string(m.Status),
		To:             string(attempted),
		Outcome:        "error",
		SafetyLevel:    level,
		Rationale:      "failed: " + cause.Error(),
	})
}
