// Package ipc defines the framed unix-socket protocol between the changegate
// CLI and the review daemon.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/changegate/changegate/internal/ledger"
)

// Frame tags identify the type of each IPC message.
// Client-to-server tags are in the 0x01-0x0F range.
// Server-to-client tags are in the 0x10-0x1F range.
const (
	TagRequest  byte = 0x01 // C→S: JSON-encoded Request
	TagResponse byte = 0x10 // S→C: JSON-encoded Response
)

// MaxFrameBytes caps a frame payload. Content snapshots fit comfortably;
// anything larger is a malformed or hostile peer, not a bigger proposal.
const MaxFrameBytes = 16 << 20

// Request operations.
const (
	OpPending  = "pending"  // list modifications awaiting review
	OpGet      = "get"      // fetch one modification
	OpReview   = "review"   // submit a reviewer verdict
	OpRollback = "rollback" // roll back an applied modification
)

// Request is one review-queue command from the client to the daemon.
type Request struct {
	Op       string `json:"op"`
	ID       string `json:"id,omitempty"`
	Approve  bool   `json:"approve,omitempty"`
	Reviewer string `json:"reviewer,omitempty"`
	Note     string `json:"note,omitempty"`
}

// Response carries the daemon's reply. Mods holds one record for get/review/
// rollback and the full pending set for pending.
type Response struct {
	OK    bool                  `json:"ok"`
	Error string                `json:"error,omitempty"`
	Mods  []ledger.Modification `json:"mods,omitempty"`
}

// WriteFrame writes a tagged frame: [tag:1][len:4 big-endian][payload:len].
func WriteFrame(w io.Writer, tag byte, payload []byte) error {
	if len(payload) > MaxFrameBytes {
		return fmt.Errorf("frame payload %d bytes exceeds limit %d", len(payload), MaxFrameBytes)
	}
	var header [5]byte
	header[0] = tag
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("write frame payload: %w", err)
		}
	}
	return nil
}

// ReadFrame reads one tagged frame, returning the tag and payload.
func ReadFrame(r io.Reader) (byte, []byte, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	tag := header[0]
	length := binary.BigEndian.Uint32(header[1:])
	if length > MaxFrameBytes {
		return 0, nil, fmt.Errorf("frame payload %d bytes exceeds limit %d", length, MaxFrameBytes)
	}
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, fmt.Errorf("read frame payload: %w", err)
		}
	}
	return tag, payload, nil
}

// WriteJSON writes a tagged frame with a JSON-encoded payload.
func WriteJSON(w io.Writer, tag byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return WriteFrame(w, tag, data)
}
