package audit

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func transitionRecord(i int) Record {
	return Record{
		ModificationID: "mod-1",
		TargetPath:     "tools/greet.star",
		From:           "PROPOSED",
		To:             "VALIDATING",
		Rationale:      "validation started",
	}
}

func TestLogAndVerify(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")

	logger, err := NewLogger(path)
	if err != nil {
		t.Fatal(err)
	}

	// Write several entries.
	for i := 0; i < 5; i++ {
		if err := logger.Log(transitionRecord(i)); err != nil {
			t.Fatalf("log entry %d: %v", i, err)
		}
	}

	// Verify the chain.
	if err := Verify(path); err != nil {
		t.Fatalf("verify failed: %v", err)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")

	logger, err := NewLogger(path)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		_ = logger.Log(transitionRecord(i))
	}

	// Tamper with the file: modify a byte in the middle.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	mid := len(data) / 2
	if data[mid] == 'a' {
		data[mid] = 'b'
	} else {
		data[mid] = 'a'
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}

	if err := Verify(path); err == nil {
		t.Fatal("expected verify to detect tampering")
	}
}

func TestVerifyDetectsSequenceGap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")

	logger, err := NewLogger(path)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		_ = logger.Log(transitionRecord(i))
	}

	// Delete the middle line (line 3 of 5).
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := splitLines(data)
	remaining := append(lines[:2], lines[3:]...)
	var newData []byte
	for _, line := range remaining {
		newData = append(newData, line...)
		newData = append(newData, '\n')
	}
	if err := os.WriteFile(path, newData, 0600); err != nil {
		t.Fatal(err)
	}

	if err := Verify(path); err == nil {
		t.Fatal("expected verify to detect sequence gap")
	}
}

func TestVerifyEmptyLog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")

	if err := os.WriteFile(path, []byte{}, 0600); err != nil {
		t.Fatal(err)
	}

	if err := Verify(path); err != nil {
		t.Fatalf("empty log should be valid: %v", err)
	}
}

func TestLoggerResumesChain(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")

	// Write some entries.
	logger1, err := NewLogger(path)
	if err != nil {
		t.Fatal(err)
	}
	_ = logger1.Log(Record{ModificationID: "mod-1", To: "PROPOSED"})
	_ = logger1.Log(Record{ModificationID: "mod-1", From: "PROPOSED", To: "VALIDATING"})

	// Create a new logger (simulating process restart).
	logger2, err := NewLogger(path)
	if err != nil {
		t.Fatal(err)
	}
	_ = logger2.Log(Record{ModificationID: "mod-1", From: "VALIDATING", To: "APPROVED"})

	// The chain should still be valid.
	if err := Verify(path); err != nil {
		t.Fatalf("chain should be valid after restart: %v", err)
	}

	// Check sequence continuity.
	entries, err := Tail(path, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[2].Seq != 3 {
		t.Errorf("expected seq 3, got %d", entries[2].Seq)
	}
}

func TestQueryLog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")

	logger, err := NewLogger(path)
	if err != nil {
		t.Fatal(err)
	}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	logger.SetClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	})

	_ = logger.Log(Record{ModificationID: "mod-1", To: "PROPOSED"})
	_ = logger.Log(Record{ModificationID: "mod-2", To: "PROPOSED"})
	_ = logger.Log(Record{ModificationID: "mod-1", From: "PROPOSED", To: "VALIDATING"})
	_ = logger.Log(Record{ModificationID: "mod-1", From: "VALIDATING", To: "BLOCKED", Outcome: "block"})

	byID, err := QueryLog(path, Query{ModificationID: "mod-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byID) != 3 {
		t.Fatalf("by id: got %d entries, want 3", len(byID))
	}
	if byID[2].To != "BLOCKED" || byID[2].Outcome != "block" {
		t.Errorf("last entry = %+v, want blocked outcome", byID[2])
	}

	windowed, err := QueryLog(path, Query{Since: base.Add(2 * time.Minute), Until: base.Add(3 * time.Minute)})
	if err != nil {
		t.Fatal(err)
	}
	if len(windowed) != 2 {
		t.Fatalf("windowed: got %d entries, want 2", len(windowed))
	}

	limited, err := QueryLog(path, Query{ModificationID: "mod-1", Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].To != "PROPOSED" {
		t.Fatalf("limited = %+v, want just the first mod-1 entry", limited)
	}
}
