package client

import (
	"context"
	"fmt"
	"net"

	"github.com/changegate/changegate/internal/ipc"
	"github.com/changegate/changegate/internal/ledger"
)

// Queue serves review-queue operations over a daemon connection. Each call
// opens a fresh connection; the protocol is one request per connection.
type Queue struct {
	// Dial opens a connection to the daemon. Defaults to Connect.
	Dial func() (net.Conn, error)
}

// NewQueue creates a daemon-backed queue on the given socket path. An empty
// path uses the standard runtime location.
func NewQueue(socketPath string) *Queue {
	return &Queue{Dial: func() (net.Conn, error) { return Connect(socketPath) }}
}

func (q *Queue) call(req ipc.Request) (ipc.Response, error) {
	conn, err := q.Dial()
	if err != nil {
		return ipc.Response{}, fmt.Errorf("connect daemon: %w", err)
	}
	defer conn.Close()
	return Call(conn, req)
}

func (q *Queue) one(req ipc.Request) (ledger.Modification, error) {
	res, err := q.call(req)
	if err != nil {
		return ledger.Modification{}, err
	}
	if len(res.Mods) != 1 {
		return ledger.Modification{}, fmt.Errorf("daemon returned %d records, want 1", len(res.Mods))
	}
	return res.Mods[0], nil
}

func (q *Queue) Get(_ context.Context, id string) (ledger.Modification, error) {
	return q.one(ipc.Request{Op: ipc.OpGet, ID: id})
}

func (q *Queue) ListPending(_ context.Context) ([]ledger.Modification, error) {
	res, err := q.call(ipc.Request{Op: ipc.OpPending})
	if err != nil {
		return nil, err
	}
	return res.Mods, nil
}

func (q *Queue) SubmitReview(_ context.Context, id string, approve bool, reviewer, note string) (ledger.Modification, error) {
	return q.one(ipc.Request{Op: ipc.OpReview, ID: id, Approve: approve, Reviewer: reviewer, Note: note})
}

func (q *Queue) Rollback(_ context.Context, id string) (ledger.Modification, error) {
	return q.one(ipc.Request{Op: ipc.OpRollback, ID: id})
}
