package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"duckycap/internal/varlink"
)

const (
	defaultMaxConcurrentConnections = 64
	connSlotAcquireTimeout          = 5 * time.Second
)

// Server accepts varlink connections and routes requests to the
// Service. One connection may carry a sequence of requests; each is
// handled to completion (including the fire-and-forget dispatch) before
// the next is read.
type Server struct {
	service *Service

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	listener  net.Listener
	started   bool
	conns     map[net.Conn]struct{}
	wg        sync.WaitGroup
	connSlots chan struct{}
}

// NewServer constructs a Server on an already-bound listener; the
// bind-or-adopt decision happens in Listen, not here.
func NewServer(listener net.Listener, service *Service) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		service:   service,
		ctx:       ctx,
		cancel:    cancel,
		listener:  listener,
		conns:     make(map[net.Conn]struct{}),
		connSlots: make(chan struct{}, defaultMaxConcurrentConnections),
	}
}

// Start begins accepting connections.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("relay server already started")
	}
	if s.service == nil {
		return errors.New("relay server requires a service")
	}
	if s.listener == nil {
		return errors.New("relay server requires a listener")
	}

	s.started = true
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()
	return nil
}

// Stop closes the listener, closes every live connection so handlers
// blocked in a read return, and waits for them. Background command
// dispatch is tracked by the supervisor, not here.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.cancel()
	listener := s.listener
	s.listener = nil
	conns := make([]net.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	if listener != nil {
		if err := listener.Close(); err != nil {
			slog.Warn("[relay] failed to close listener during shutdown", "error", err)
		}
	}
	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			slog.Debug("[relay] failed to close connection during shutdown", "error", err)
		}
	}
	s.wg.Wait()
	return nil
}

func (s *Server) acceptLoop() {
	consecutiveErrors := 0
	for {
		s.mu.Lock()
		listener := s.listener
		s.mu.Unlock()
		if listener == nil {
			return
		}

		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				consecutiveErrors++
				if consecutiveErrors > 10 {
					slog.Warn("[relay] accept loop: repeated failures, possible permanent error", "error", err, "count", consecutiveErrors)
					time.Sleep(500 * time.Millisecond)
				} else {
					slog.Debug("[relay] accept error", "error", err)
				}
				continue
			}
		}
		consecutiveErrors = 0

		if !s.acquireConnectionSlot() {
			if closeErr := conn.Close(); closeErr != nil {
				slog.Debug("[relay] failed to close rejected connection", "error", closeErr)
			}
			continue
		}

		if !s.trackConnection(conn) {
			// Stop won the race; the connection must not outlive it.
			conn.Close()
			s.releaseConnectionSlot()
			return
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.releaseConnectionSlot()
			defer s.forgetConnection(conn)
			s.handleConnection(conn)
		}()
	}
}

// handleConnection serves requests from one client until it disconnects
// or sends an unreadable frame. Protocol errors are answered with typed
// varlink errors and the connection stays usable.
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	connID := uuid.NewString()
	logPeerCredentials(conn, connID)

	reader := bufio.NewReaderSize(conn, varlink.MaxFrameBytes+1)
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		rawReq, err := varlink.ReadFrame(reader)
		if errors.Is(err, io.EOF) {
			slog.Debug("[relay] client disconnected", "conn", connID)
			return
		}
		if err != nil {
			slog.Debug("[relay] unreadable frame, dropping connection", "conn", connID, "error", err)
			return
		}

		req, err := varlink.DecodeRequest(rawReq)
		if err != nil {
			s.writeError(conn, connID, varlink.ErrInvalidParameter, fmt.Sprintf("malformed request: %v", err))
			continue
		}

		s.handleRequest(conn, connID, req)
	}
}

func (s *Server) handleRequest(conn net.Conn, connID string, req varlink.Request) {
	if req.Method != varlink.MethodSendKeys {
		s.writeError(conn, connID, varlink.ErrMethodNotFound, req.Method)
		return
	}

	var params varlink.SendKeysParams
	if len(req.Parameters) > 0 {
		if err := json.Unmarshal(req.Parameters, &params); err != nil {
			s.writeError(conn, connID, varlink.ErrInvalidParameter, fmt.Sprintf("malformed parameters: %v", err))
			return
		}
	}

	reply, err := s.service.SendKeys(params.Keys, params.Pressed)
	if err != nil {
		var callErr *varlink.CallError
		if errors.As(err, &callErr) {
			s.writeError(conn, connID, callErr.Name, callErr.Message)
			return
		}
		// The service only returns typed errors; anything else is a bug
		// worth surfacing loudly without killing the connection.
		slog.Error("[relay] unexpected service error", "conn", connID, "error", err)
		s.writeError(conn, connID, varlink.ErrInvalidParameter, "internal error")
		return
	}

	raw, err := varlink.EncodeResponse(reply)
	if err != nil {
		slog.Warn("[relay] failed to encode response", "conn", connID, "error", err)
		raw = []byte(`{"error":"` + varlink.ErrInvalidParameter + `","parameters":{"message":"internal encode error"}}`)
	}
	if err := varlink.WriteFrame(conn, raw); err != nil {
		slog.Debug("[relay] failed to write response", "conn", connID, "error", err)
	}
}

func (s *Server) writeError(conn net.Conn, connID, name, message string) {
	raw, err := varlink.EncodeErrorResponse(name, message)
	if err != nil {
		slog.Warn("[relay] failed to encode error response", "conn", connID, "error", err)
		return
	}
	if err := varlink.WriteFrame(conn, raw); err != nil {
		slog.Debug("[relay] failed to write error response", "conn", connID, "error", err)
	}
}

// trackConnection registers a live connection so Stop can close it out
// from under a blocked read. It refuses once the server is stopping.
func (s *Server) trackConnection(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) forgetConnection(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) acquireConnectionSlot() bool {
	timer := time.NewTimer(connSlotAcquireTimeout)
	defer timer.Stop()
	select {
	case s.connSlots <- struct{}{}:
		return true
	case <-timer.C:
		slog.Warn("[relay] connection slots exhausted, rejecting client")
		return false
	case <-s.ctx.Done():
		return false
	}
}

func (s *Server) releaseConnectionSlot() {
	select {
	case <-s.connSlots:
	default:
		slog.Warn("[relay] releaseConnectionSlot: no slot to release (possible double-release)")
	}
}

// logPeerCredentials records the connecting process's uid/gid/pid at
// debug level. Diagnostics only — access control is the socket file's
// permissions, not this.
func logPeerCredentials(conn net.Conn, connID string) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return
	}
	var cred *unix.Ucred
	ctrlErr := raw.Control(func(fd uintptr) {
		cred, err = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if ctrlErr != nil || err != nil || cred == nil {
		return
	}
	slog.Debug("[relay] connection accepted", "conn", connID, "peerPid", cred.Pid, "peerUid", cred.Uid, "peerGid", cred.Gid)
}
