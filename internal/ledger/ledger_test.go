package ledger_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/changegate/changegate/internal/ledger"
	"github.com/changegate/changegate/internal/ledger/store/memory"
)

const (
	originalSrc = "def greet():\n    return \"hello\"\n"
	proposedSrc = "def greet():\n    return \"hello, world\"\n"
)

type transitionEvent struct {
	ID        string
	From      ledger.Status
	To        ledger.Status
	Rationale string
}

type failureEvent struct {
	ID        string
	Attempted ledger.Status
	Cause     error
}

// recordingNotifier captures committed transitions and failures in order.
type recordingNotifier struct {
	mu       sync.Mutex
	events   []transitionEvent
	failures []failureEvent
}

func (n *recordingNotifier) Transition(_ context.Context, m ledger.Modification, from ledger.Status, rationale string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, transitionEvent{ID: m.ID, From: from, To: m.Status, Rationale: rationale})
}

func (n *recordingNotifier) Failure(_ context.Context, m ledger.Modification, attempted ledger.Status, cause error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, failureEvent{ID: m.ID, Attempted: attempted, Cause: cause})
}

func newTestService(t *testing.T, opts ...ledger.Option) (*ledger.Service, *ledger.OSStore) {
	t.Helper()
	files := ledger.NewOSStore(t.TempDir())
	svc := ledger.NewService(memory.New(), files, opts...)
	return svc, files
}

func writeTarget(t *testing.T, files *ledger.OSStore, path, content string) {
	t.Helper()
	if err := files.WriteAtomic(path, content); err != nil {
		t.Fatalf("seed target: %v", err)
	}
}

func approve(t *testing.T, svc *ledger.Service, id string) {
	t.Helper()
	ctx := context.Background()
	if _, err := svc.MarkValidating(ctx, id); err != nil {
		t.Fatalf("mark validating: %v", err)
	}
	if _, err := svc.RecordDecision(ctx, id, ledger.OutcomeAutoApply, "low risk"); err != nil {
		t.Fatalf("record decision: %v", err)
	}
}

func TestProposeSnapshotsOriginal(t *testing.T) {
	svc, files := newTestService(t)
	writeTarget(t, files, "tools/greet.star", originalSrc)

	m, err := svc.Propose(context.Background(), ledger.ProposeInput{
		TargetPath:      "tools/greet.star",
		ProposedContent: proposedSrc,
		Reason:          "friendlier greeting",
	})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if m.Status != ledger.StatusProposed {
		t.Errorf("status = %s, want %s", m.Status, ledger.StatusProposed)
	}
	if m.OriginalContent != originalSrc {
		t.Errorf("original snapshot = %q, want %q", m.OriginalContent, originalSrc)
	}
	if m.ID == "" || m.CreatedAt.IsZero() {
		t.Errorf("missing id or created_at: %+v", m)
	}
}

func TestProposeMissingTargetSnapshotsEmpty(t *testing.T) {
	svc, _ := newTestService(t)

	m, err := svc.Propose(context.Background(), ledger.ProposeInput{
		TargetPath:      "tools/new.star",
		ProposedContent: proposedSrc,
	})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if m.OriginalContent != "" {
		t.Errorf("original snapshot = %q, want empty", m.OriginalContent)
	}
}

func TestApplyAndRollbackRestoresOriginal(t *testing.T) {
	svc, files := newTestService(t)
	writeTarget(t, files, "tools/greet.star", originalSrc)
	ctx := context.Background()

	m, err := svc.Propose(ctx, ledger.ProposeInput{
		TargetPath:      "tools/greet.star",
		ProposedContent: proposedSrc,
	})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	approve(t, svc, m.ID)

	applied, err := svc.Apply(ctx, m.ID)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if applied.Status != ledger.StatusApplied || applied.AppliedAt.IsZero() {
		t.Errorf("after apply: status=%s applied_at=%v", applied.Status, applied.AppliedAt)
	}
	if got, _ := files.Read("tools/greet.star"); got != proposedSrc {
		t.Errorf("target after apply = %q, want proposed content", got)
	}

	rolled, err := svc.Rollback(ctx, m.ID)
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if rolled.Status != ledger.StatusRolledBack {
		t.Errorf("after rollback: status=%s", rolled.Status)
	}
	if got, _ := files.Read("tools/greet.star"); got != originalSrc {
		t.Errorf("target after rollback = %q, want byte-identical original", got)
	}
}

func TestConcurrentApplySameTarget(t *testing.T) {
	svc, files := newTestService(t)
	writeTarget(t, files, "tools/greet.star", originalSrc)
	ctx := context.Background()

	var ids [2]string
	for i, content := range []string{proposedSrc, originalSrc + "# alt\n"} {
		m, err := svc.Propose(ctx, ledger.ProposeInput{
			TargetPath:      "tools/greet.star",
			ProposedContent: content,
		})
		if err != nil {
			t.Fatalf("propose %d: %v", i, err)
		}
		approve(t, svc, m.ID)
		ids[i] = m.ID
	}

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Apply(ctx, ids[i])
		}(i)
	}
	wg.Wait()

	var okCount, conflictCount int
	for _, err := range errs {
		var conflict *ledger.ConflictError
		switch {
		case err == nil:
			okCount++
		case errors.As(err, &conflict):
			conflictCount++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if okCount != 1 || conflictCount != 1 {
		t.Errorf("got %d applies and %d conflicts, want exactly one of each", okCount, conflictCount)
	}

	applied, err := svc.List(ctx, ledger.Filter{TargetPath: "tools/greet.star", Status: ledger.StatusApplied})
	if err != nil {
		t.Fatalf("list applied: %v", err)
	}
	if len(applied) != 1 {
		t.Errorf("applied records = %d, want 1", len(applied))
	}
}

func TestApplyBlockedIsPolicyViolation(t *testing.T) {
	svc, files := newTestService(t)
	writeTarget(t, files, "tools/greet.star", originalSrc)
	ctx := context.Background()

	m, err := svc.Propose(ctx, ledger.ProposeInput{
		TargetPath:      "tools/greet.star",
		ProposedContent: proposedSrc,
	})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if _, err := svc.MarkValidating(ctx, m.ID); err != nil {
		t.Fatalf("mark validating: %v", err)
	}
	if _, err := svc.RecordDecision(ctx, m.ID, ledger.OutcomeBlock, "severe finding"); err != nil {
		t.Fatalf("record decision: %v", err)
	}

	_, err = svc.Apply(ctx, m.ID)
	var violation *ledger.PolicyViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("apply blocked: got %v, want PolicyViolationError", err)
	}
	if got, _ := files.Read("tools/greet.star"); got != originalSrc {
		t.Errorf("target changed by blocked apply: %q", got)
	}
}

func TestInvalidTransitionsLeaveRecordUnchanged(t *testing.T) {
	svc, files := newTestService(t)
	writeTarget(t, files, "tools/greet.star", originalSrc)
	ctx := context.Background()

	m, err := svc.Propose(ctx, ledger.ProposeInput{
		TargetPath:      "tools/greet.star",
		ProposedContent: proposedSrc,
	})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}

	tests := []struct {
		name string
		op   func() error
	}{
		{"apply from proposed", func() error { _, err := svc.Apply(ctx, m.ID); return err }},
		{"rollback from proposed", func() error { _, err := svc.Rollback(ctx, m.ID); return err }},
		{"decide from proposed", func() error {
			_, err := svc.RecordDecision(ctx, m.ID, ledger.OutcomeAutoApply, "x")
			return err
		}},
		{"review from proposed", func() error {
			_, err := svc.SubmitReview(ctx, m.ID, true, "alice", "")
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op()
			var invalid *ledger.InvalidTransitionError
			if !errors.As(err, &invalid) {
				t.Fatalf("got %v, want InvalidTransitionError", err)
			}
			got, err := svc.Get(ctx, m.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.Status != ledger.StatusProposed {
				t.Errorf("status after failed transition = %s, want %s", got.Status, ledger.StatusProposed)
			}
		})
	}
}

func TestDriftBetweenSnapshotAndApplyConflicts(t *testing.T) {
	svc, files := newTestService(t)
	writeTarget(t, files, "tools/greet.star", originalSrc)
	ctx := context.Background()

	m, err := svc.Propose(ctx, ledger.ProposeInput{
		TargetPath:      "tools/greet.star",
		ProposedContent: proposedSrc,
	})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	approve(t, svc, m.ID)

	// Target drifts out from under the snapshot before apply.
	writeTarget(t, files, "tools/greet.star", originalSrc+"# edited elsewhere\n")

	_, err = svc.Apply(ctx, m.ID)
	var conflict *ledger.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("apply after drift: got %v, want ConflictError", err)
	}
	got, err := svc.Get(ctx, m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != ledger.StatusApproved {
		t.Errorf("status after conflicted apply = %s, want %s", got.Status, ledger.StatusApproved)
	}
}

func TestReviewFlow(t *testing.T) {
	svc, files := newTestService(t)
	writeTarget(t, files, "tools/greet.star", originalSrc)
	ctx := context.Background()

	m, err := svc.Propose(ctx, ledger.ProposeInput{
		TargetPath:      "tools/greet.star",
		ProposedContent: proposedSrc,
	})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if _, err := svc.MarkValidating(ctx, m.ID); err != nil {
		t.Fatalf("mark validating: %v", err)
	}
	if _, err := svc.RecordDecision(ctx, m.ID, ledger.OutcomeRequireApproval, "medium risk"); err != nil {
		t.Fatalf("record decision: %v", err)
	}

	pending, err := svc.ListPending(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != m.ID {
		t.Fatalf("pending = %+v, want the proposed modification", pending)
	}

	reviewed, err := svc.SubmitReview(ctx, m.ID, true, "alice", "looks fine")
	if err != nil {
		t.Fatalf("submit review: %v", err)
	}
	if reviewed.Status != ledger.StatusApproved || reviewed.Reviewer != "alice" {
		t.Errorf("after review: status=%s reviewer=%q", reviewed.Status, reviewed.Reviewer)
	}

	if _, err := svc.Apply(ctx, m.ID); err != nil {
		t.Fatalf("apply after review: %v", err)
	}
}

func TestReviewRejectIsTerminal(t *testing.T) {
	svc, files := newTestService(t)
	writeTarget(t, files, "tools/greet.star", originalSrc)
	ctx := context.Background()

	m, err := svc.Propose(ctx, ledger.ProposeInput{
		TargetPath:      "tools/greet.star",
		ProposedContent: proposedSrc,
	})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if _, err := svc.MarkValidating(ctx, m.ID); err != nil {
		t.Fatalf("mark validating: %v", err)
	}
	if _, err := svc.RecordDecision(ctx, m.ID, ledger.OutcomeRequireApproval, "medium risk"); err != nil {
		t.Fatalf("record decision: %v", err)
	}
	rejected, err := svc.SubmitReview(ctx, m.ID, false, "bob", "not today")
	if err != nil {
		t.Fatalf("submit review: %v", err)
	}
	if !rejected.Status.Terminal() {
		t.Errorf("rejected status %s should be terminal", rejected.Status)
	}
	if _, err := svc.Apply(ctx, m.ID); err == nil {
		t.Error("apply after rejection succeeded, want error")
	}
}

func TestNotifierSeesEveryTransition(t *testing.T) {
	notifier := &recordingNotifier{}
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, files := newTestService(t,
		ledger.WithNotifier(notifier),
		ledger.WithClock(func() time.Time { return fixed }),
	)
	writeTarget(t, files, "tools/greet.star", originalSrc)
	ctx := context.Background()

	m, err := svc.Propose(ctx, ledger.ProposeInput{
		TargetPath:      "tools/greet.star",
		ProposedContent: proposedSrc,
		Reason:          "tweak",
	})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	approve(t, svc, m.ID)
	if _, err := svc.Apply(ctx, m.ID); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := svc.Rollback(ctx, m.ID); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	want := []ledger.Status{
		ledger.StatusProposed,
		ledger.StatusValidating,
		ledger.StatusApproved,
		ledger.StatusApplied,
		ledger.StatusRolledBack,
	}
	if len(notifier.events) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(notifier.events), len(want), notifier.events)
	}
	for i, ev := range notifier.events {
		if ev.To != want[i] {
			t.Errorf("event %d: to=%s, want %s", i, ev.To, want[i])
		}
		if ev.ID != m.ID {
			t.Errorf("event %d: id=%s, want %s", i, ev.ID, m.ID)
		}
	}
}

func TestConflictingApplyNotifiesFailureOnce(t *testing.T) {
	notifier := &recordingNotifier{}
	svc, files := newTestService(t, ledger.WithNotifier(notifier))
	writeTarget(t, files, "tools/greet.star", originalSrc)
	ctx := context.Background()

	var ids [2]string
	for i, content := range []string{proposedSrc, originalSrc + "# alt\n"} {
		m, err := svc.Propose(ctx, ledger.ProposeInput{
			TargetPath:      "tools/greet.star",
			ProposedContent: content,
		})
		if err != nil {
			t.Fatalf("propose %d: %v", i, err)
		}
		approve(t, svc, m.ID)
		ids[i] = m.ID
	}

	if _, err := svc.Apply(ctx, ids[0]); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	_, err := svc.Apply(ctx, ids[1])
	var conflict *ledger.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("second apply: got %v, want ConflictError", err)
	}

	if len(notifier.failures) != 1 {
		t.Fatalf("got %d failure events, want exactly 1: %+v", len(notifier.failures), notifier.failures)
	}
	fe := notifier.failures[0]
	if fe.ID != ids[1] || fe.Attempted != ledger.StatusApplied {
		t.Errorf("failure event = %+v, want apply of %s", fe, ids[1])
	}
	if !errors.As(fe.Cause, &conflict) {
		t.Errorf("failure cause = %v, want the ConflictError", fe.Cause)
	}
}

func TestRefusedOperationsNotifyFailure(t *testing.T) {
	notifier := &recordingNotifier{}
	svc, files := newTestService(t, ledger.WithNotifier(notifier))
	writeTarget(t, files, "tools/greet.star", originalSrc)
	ctx := context.Background()

	m, err := svc.Propose(ctx, ledger.ProposeInput{
		TargetPath:      "tools/greet.star",
		ProposedContent: proposedSrc,
	})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}

	tests := []struct {
		name      string
		op        func() error
		attempted ledger.Status
	}{
		{"apply from proposed", func() error { _, err := svc.Apply(ctx, m.ID); return err }, ledger.StatusApplied},
		{"rollback from proposed", func() error { _, err := svc.Rollback(ctx, m.ID); return err }, ledger.StatusRolledBack},
		{"review from proposed", func() error {
			_, err := svc.SubmitReview(ctx, m.ID, false, "bob", "")
			return err
		}, ledger.StatusRejected},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.op(); err == nil {
				t.Fatal("operation succeeded, want refusal")
			}
			if len(notifier.failures) != i+1 {
				t.Fatalf("got %d failure events, want %d", len(notifier.failures), i+1)
			}
			fe := notifier.failures[i]
			if fe.ID != m.ID || fe.Attempted != tt.attempted {
				t.Errorf("failure event = %+v, want attempted %s", fe, tt.attempted)
			}
		})
	}
}

func TestOSStoreRejectsEscapingPaths(t *testing.T) {
	files := ledger.NewOSStore(t.TempDir())

	for _, path := range []string{"/etc/passwd", "../outside", "a/../../outside"} {
		if err := files.WriteAtomic(path, "x"); err == nil {
			t.Errorf("WriteAtomic(%q) succeeded, want escape error", path)
		}
		if _, err := files.Read(path); err == nil {
			t.Errorf("Read(%q) succeeded, want escape error", path)
		}
	}
}

func TestOSStoreWriteAtomicLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	files := ledger.NewOSStore(root)

	if err := files.WriteAtomic("a/b/unit.star", originalSrc); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got, err := files.Read("a/b/unit.star"); err != nil || got != originalSrc {
		t.Fatalf("read back: %q, %v", got, err)
	}

	entries, err := os.ReadDir(filepath.Join(root, "a", "b"))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want just the target", len(entries))
	}
}

func TestListOrdersNewestFirst(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	svc, _ := newTestService(t, ledger.WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.Propose(ctx, ledger.ProposeInput{
			TargetPath:      "tools/greet.star",
			ProposedContent: proposedSrc,
		}); err != nil {
			t.Fatalf("propose %d: %v", i, err)
		}
	}

	out, err := svc.List(ctx, ledger.Filter{Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("list returned %d, want 2", len(out))
	}
	if out[0].CreatedAt.Before(out[1].CreatedAt) {
		t.Errorf("list not newest-first: %v then %v", out[0].CreatedAt, out[1].CreatedAt)
	}
}
