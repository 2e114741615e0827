// Package daemon runs the persistent review-queue server. It accepts framed
// requests over a unix socket, serves them against the engine, and exits on
// its own once it has been idle long enough.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/changegate/changegate/internal/engine"
	"github.com/changegate/changegate/internal/ipc"
	"github.com/changegate/changegate/internal/ledger"
)

// Server is the persistent daemon process that answers review-queue requests
// on behalf of CLI clients.
type Server struct {
	engine      *engine.Engine
	idleTimeout time.Duration
	socketPath  string

	mu        sync.Mutex
	idleTimer *time.Timer
	active    sync.WaitGroup
}

// New creates a daemon server. An empty socketPath uses the standard runtime
// location.
func New(eng *engine.Engine, idleTimeout time.Duration, socketPath string) *Server {
	return &Server{
		engine:      eng,
		idleTimeout: idleTimeout,
		socketPath:  socketPath,
	}
}

// Run creates a listener at the resolved socket path and calls Serve.
func (s *Server) Run(ctx context.Context) error {
	sockPath, err := ipc.SocketPath(s.socketPath)
	if err != nil {
		return err
	}

	dir := filepath.Dir(sockPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}

	if err := cleanStaleSocket(sockPath); err != nil {
		return err
	}

	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	if err := os.Chmod(sockPath, 0600); err != nil {
		ln.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}

	if err := writePidFile(sockPath); err != nil {
		ln.Close()
		return fmt.Errorf("write pid: %w", err)
	}

	defer func() {
		os.Remove(sockPath)
		os.Remove(ipc.PidPath(sockPath))
	}()

	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled or the idle timer
// fires. The listener is closed on return. This method is exported for
// testability — tests pass a listener on a temp socket.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()

	// Idle timer cancels idleCtx when no connections arrive for idleTimeout.
	idleCtx, idleCancel := context.WithCancel(ctx)
	defer idleCancel()

	s.mu.Lock()
	s.idleTimer = time.AfterFunc(s.idleTimeout, idleCancel)
	s.mu.Unlock()

	// Close the listener when the context is done (idle or parent cancel).
	go func() {
		<-idleCtx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			// Check if this is a clean shutdown.
			select {
			case <-idleCtx.Done():
				s.active.Wait()
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}
		s.resetIdle()

		s.active.Add(1)
		go func() {
			defer s.active.Done()
			defer conn.Close()
			defer s.resetIdle()
			s.handleConnection(idleCtx, conn)
		}()
	}
}

func (s *Server) resetIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idleTimer != nil {
		s.idleTimer.Reset(s.idleTimeout)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	tag, payload, err := ipc.ReadFrame(conn)
	if err != nil {
		writeError(conn, fmt.Sprintf("read request: %v", err))
		return
	}
	if tag != ipc.TagRequest {
		writeError(conn, fmt.Sprintf("expected request frame (0x%02x), got 0x%02x", ipc.TagRequest, tag))
		return
	}

	var req ipc.Request
	if err := json.Unmarshal(payload, &req); err != nil {
		writeError(conn, fmt.Sprintf("unmarshal request: %v", err))
		return
	}

	res := s.dispatch(ctx, req)
	ipc.WriteJSON(conn, ipc.TagResponse, res)
}

func (s *Server) dispatch(ctx context.Context, req ipc.Request) ipc.Response {
	switch req.Op {
	case ipc.OpPending:
		mods, err := s.engine.ListPending(ctx)
		if err != nil {
			return ipc.Response{Error: err.Error()}
		}
		return ipc.Response{OK: true, Mods: mods}

	case ipc.OpGet:
		m, err := s.engine.Get(ctx, req.ID)
		if err != nil {
			return ipc.Response{Error: err.Error()}
		}
		return ipc.Response{OK: true, Mods: []ledger.Modification{m}}

	case ipc.OpReview:
		if req.Reviewer == "" {
			return ipc.Response{Error: "reviewer is required"}
		}
		m, err := s.engine.SubmitReview(ctx, req.ID, req.Approve, req.Reviewer, req.Note)
		if err != nil {
			return ipc.Response{Error: err.Error()}
		}
		return ipc.Response{OK: true, Mods: []ledger.Modification{m}}

	case ipc.OpRollback:
		m, err := s.engine.Rollback(ctx, req.ID)
		if err != nil {
			return ipc.Response{Error: err.Error()}
		}
		return ipc.Response{OK: true, Mods: []ledger.Modification{m}}

	default:
		return ipc.Response{Error: fmt.Sprintf("unknown op: %q", req.Op)}
	}
}

func writeError(conn net.Conn, msg string) {
	ipc.WriteJSON(conn, ipc.TagResponse, ipc.Response{Error: msg})
}
