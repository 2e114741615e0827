// Package ledger owns every modification record for its whole lifecycle:
// proposal, decision, atomic apply, and rollback. Records are append-friendly
// — status is the only field that changes after creation — and original
// content is retained for the lifetime of the record so rollback is always
// available.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Decision outcomes as recorded on a modification. These mirror the gate's
// outcome strings; the ledger itself never decides.
const (
	OutcomeAutoApply       = "auto-apply"
	OutcomeRequireApproval = "require-approval"
	OutcomeBlock           = "block"
)

// Notifier observes the ledger's lifecycle. Transition fires on every
// committed status change; Failure fires exactly once per refused or failed
// operation, with the status the operation attempted to reach and the cause.
// The audit log hangs off this; the ledger has no other coupling to it.
type Notifier interface {
	Transition(ctx context.Context, m Modification, from Status, rationale string)
	Failure(ctx context.Context, m Modification, attempted Status, cause error)
}

type noopNotifier struct{}

func (noopNotifier) Transition(context.Context, Modification, Status, string) {}
func (noopNotifier) Failure(context.Context, Modification, Status, error)     {}

// Service is the modification ledger. The per-target lock it holds during
// apply/rollback is the only shared mutable resource in the engine.
type Service struct {
	store    Store
	files    ContentStore
	notifier Notifier
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the service clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithNotifier sets the transition observer.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// NewService creates a ledger service over the given record and content
// stores.
func NewService(store Store, files ContentStore, opts ...Option) *Service {
	s := &Service{
		store:    store,
		files:    files,
		notifier: noopNotifier{},
		now:      func() time.Time { return time.Now().UTC() },
		locks:    make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Propose records a new modification. The original content is snapshotted
// immediately; a target that does not exist yet snapshots as empty.
func (s *Service) Propose(ctx context.Context, in ProposeInput) (Modification, error) {
	if in.TargetPath == "" {
		return Modification{}, errors.New("target path is required")
	}
	if in.ProposedContent == "" {
		return Modification{}, errors.New("proposed content is required")
	}

	original, err := s.files.Read(in.TargetPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Modification{}, s.fail(ctx, Modification{TargetPath: in.TargetPath}, StatusProposed,
			fmt.Errorf("snapshot original: %w", err))
	}

	m := Modification{
		ID:              uuid.NewString(),
		TargetPath:      in.TargetPath,
		OriginalContent: original,
		ProposedContent: in.ProposedContent,
		TestSurface:     in.TestSurface,
		Reason:          in.Reason,
		Status:          StatusProposed,
		CreatedAt:       s.now(),
	}
	if err := s.store.Create(ctx, m); err != nil {
		return Modification{}, s.fail(ctx, m, StatusProposed, fmt.Errorf("create record: %w", err))
	}
	s.notifier.Transition(ctx, m, "", "proposed: "+in.Reason)
	return m, nil
}

// MarkValidating moves a proposed modification into validation.
func (s *Service) MarkValidating(ctx context.Context, id string) (Modification, error) {
	return s.transitionByID(ctx, id, StatusValidating, "validation started", nil)
}

// RecordDecision applies the gate's verdict: auto-apply approves, block
// terminates, require-approval parks the record for an external reviewer.
func (s *Service) RecordDecision(ctx context.Context, id, outcome, rationale string) (Modification, error) {
	var to Status
	switch outcome {
	case OutcomeAutoApply:
		to = StatusApproved
	case OutcomeRequireApproval:
		to = StatusNeedsApproval
	case OutcomeBlock:
		to = StatusBlocked
	default:
		return Modification{}, fmt.Errorf("unknown decision outcome: %q", outcome)
	}
	return s.transitionByID(ctx, id, to, rationale, func(m *Modification) {
		m.DecisionOutcome = outcome
		m.DecisionRationale = rationale
		m.DecidedAt = s.now()
	})
}

// SubmitReview records an external reviewer's verdict on a pending
// modification. Only a reviewer converts NeedsApproval to a terminal-or-apply
// state; the gate never does this autonomously.
func (s *Service) SubmitReview(ctx context.Context, id string, approve bool, reviewer, note string) (Modification, error) {
	to := StatusRejected
	rationale := "rejected by " + reviewer
	if approve {
		to = StatusApproved
		rationale = "approved by " + reviewer
	}
	if note != "" {
		rationale += ": " + note
	}
	return s.transitionByID(ctx, id, to, rationale, func(m *Modification) {
		m.Reviewer = reviewer
		m.ReviewerNote = note
	})
}

// Apply atomically swaps the target's content to the proposed snapshot.
// Permitted only from Approved. Applies to the same target are strictly
// serialized by the per-target lock; a second apply onto an applied target
// fails with ConflictError rather than overwriting.
func (s *Service) Apply(ctx context.Context, id string) (Modification, error) {
	m, err := s.store.Get(ctx, id)
	if err != nil {
		return Modification{}, err
	}

	lock := s.targetLock(m.TargetPath)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock; a concurrent apply may have advanced it.
	m, err = s.store.Get(ctx, id)
	if err != nil {
		return Modification{}, err
	}
	if m.Status == StatusBlocked {
		return Modification{}, s.fail(ctx, m, StatusApplied,
			&PolicyViolationError{ID: id, Rationale: m.DecisionRationale})
	}
	if m.Status != StatusApproved {
		return Modification{}, s.fail(ctx, m, StatusApplied,
			&InvalidTransitionError{ID: id, From: m.Status, To: StatusApplied})
	}

	applied, err := s.store.List(ctx, Filter{TargetPath: m.TargetPath, Status: StatusApplied})
	if err != nil {
		return Modification{}, s.fail(ctx, m, StatusApplied, fmt.Errorf("check applied state: %w", err))
	}
	if len(applied) > 0 {
		return Modification{}, s.fail(ctx, m, StatusApplied, &ConflictError{
			TargetPath: m.TargetPath,
			Reason:     fmt.Sprintf("modification %s is already applied; roll it back first", applied[0].ID),
		})
	}

	if current, err := s.files.Read(m.TargetPath); err == nil && current != m.OriginalContent {
		return Modification{}, s.fail(ctx, m, StatusApplied, &ConflictError{
			TargetPath: m.TargetPath,
			Reason:     "target changed since the original snapshot",
		})
	}

	if err := s.files.WriteAtomic(m.TargetPath, m.ProposedContent); err != nil {
		return Modification{}, s.fail(ctx, m, StatusApplied, fmt.Errorf("apply content: %w", err))
	}

	m.AppliedAt = s.now()
	if err := s.transition(ctx, &m, StatusApplied, "applied"); err != nil {
		// Undo the content swap so a failed apply leaves no partial state.
		if restoreErr := s.files.WriteAtomic(m.TargetPath, m.OriginalContent); restoreErr != nil {
			err = fmt.Errorf("record apply: %w (restore also failed: %v)", err, restoreErr)
		} else {
			err = fmt.Errorf("record apply: %w", err)
		}
		return Modification{}, s.fail(ctx, m, StatusApplied, err)
	}
	return m, nil
}

// Rollback restores the original content verbatim. Permitted only from
// Applied, and always available: original content is never compacted away.
func (s *Service) Rollback(ctx context.Context, id string) (Modification, error) {
	m, err := s.store.Get(ctx, id)
	if err != nil {
		return Modification{}, err
	}

	lock := s.targetLock(m.TargetPath)
	lock.Lock()
	defer lock.Unlock()

	m, err = s.store.Get(ctx, id)
	if err != nil {
		return Modification{}, err
	}
	if m.Status != StatusApplied {
		return Modification{}, s.fail(ctx, m, StatusRolledBack,
			&InvalidTransitionError{ID: id, From: m.Status, To: StatusRolledBack})
	}

	if err := s.files.WriteAtomic(m.TargetPath, m.OriginalContent); err != nil {
		return Modification{}, s.fail(ctx, m, StatusRolledBack, fmt.Errorf("restore content: %w", err))
	}

	if err := s.transition(ctx, &m, StatusRolledBack, "rolled back"); err != nil {
		if restoreErr := s.files.WriteAtomic(m.TargetPath, m.ProposedContent); restoreErr != nil {
			err = fmt.Errorf("record rollback: %w (restore also failed: %v)", err, restoreErr)
		} else {
			err = fmt.Errorf("record rollback: %w", err)
		}
		return Modification{}, s.fail(ctx, m, StatusRolledBack, err)
	}
	return m, nil
}

// Get returns one modification by id.
func (s *Service) Get(ctx context.Context, id string) (Modification, error) {
	return s.store.Get(ctx, id)
}

// List returns modifications matching the filter.
func (s *Service) List(ctx context.Context, f Filter) ([]Modification, error) {
	return s.store.List(ctx, f)
}

// ListPending returns modifications awaiting external review.
func (s *Service) ListPending(ctx context.Context) ([]Modification, error) {
	return s.store.List(ctx, Filter{Status: StatusNeedsApproval})
}

// transitionByID loads, mutates, and transitions one record.
func (s *Service) transitionByID(ctx context.Context, id string, to Status, rationale string, mutate func(*Modification)) (Modification, error) {
	m, err := s.store.Get(ctx, id)
	if err != nil {
		return Modification{}, err
	}
	if mutate != nil {
		if !transitionAllowed(m.Status, to) {
			return Modification{}, s.fail(ctx, m, to, &InvalidTransitionError{ID: id, From: m.Status, To: to})
		}
		mutate(&m)
	}
	if err := s.transition(ctx, &m, to, rationale); err != nil {
		return Modification{}, s.fail(ctx, m, to, err)
	}
	return m, nil
}

// fail reports one refused or failed operation to the notifier and hands the
// cause back to the caller. Failed operations notify exactly once, at the
// operation level rather than inside transition, so retries by an outer layer
// cannot double-count a single refusal.
func (s *Service) fail(ctx context.Context, m Modification, attempted Status, cause error) error {
	s.notifier.Failure(ctx, m, attempted, cause)
	return cause
}

// transition validates against the state machine, persists, and notifies.
// On persistence failure the in-memory record keeps its prior status, so the
// caller never observes a half-transitioned record.
func (s *Service) transition(ctx context.Context, m *Modification, to Status, rationale string) error {
	if !transitionAllowed(m.Status, to) {
		return &InvalidTransitionError{ID: m.ID, From: m.Status, To: to}
	}
	from := m.Status
	m.Status = to
	if err := s.store.Update(ctx, *m); err != nil {
		m.Status = from
		return fmt.Errorf("persist transition: %w", err)
	}
	s.notifier.Transition(ctx, *m, from, rationale)
	return nil
}

func (s *Service) targetLock(target string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[target]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[target] = lock
	}
	return lock
}
