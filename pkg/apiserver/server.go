package apiserver

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/btproxy/btproxyd/pkg/ble"
	"github.com/btproxy/btproxyd/pkg/logger"
)

// Server accepts ESPHome native API connections and drives each one
// through a Connection, grounded in tcp.Client's listener/deadline
// conventions generalized from an outbound client to an inbound
// listener.
type Server struct {
	log      *logger.Logger
	coord    *ble.Coordinator
	identity ble.Identity
	password string

	listener net.Listener

	mu      sync.Mutex
	conns   map[string]*Connection
	closing bool
}

// New constructs a Server, not yet listening; Serve takes the address.
func New(log *logger.Logger, coord *ble.Coordinator, identity ble.Identity, password string) *Server {
	return &Server{
		log:      log,
		coord:    coord,
		identity: identity,
		password: password,
		conns:    make(map[string]*Connection),
	}
}

// Serve listens on addr and accepts connections until ctx is cancelled or
// Shutdown is called.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.listener = ln

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()
		_ = ln.Close()
	}()

	if s.log != nil {
		s.log.Info("api server listening", "address", addr)
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		c := newConnection(conn, s.coord, s.identity, s.password, s.log)
		s.track(c)
		go func() {
			c.serve(ctx)
			s.untrack(c)
		}()
	}
}

func (s *Server) track(c *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c.id] = c
}

func (s *Server) untrack(c *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c.id)
}

// Shutdown stops accepting new connections, then asks every open
// connection to close and waits up to timeout for them to do so,
// matching spec.md §5's best-effort bounded shutdown.
func (s *Server) Shutdown(timeout time.Duration) {
	s.mu.Lock()
	s.closing = true
	if s.listener != nil {
		_ = s.listener.Close()
	}
	conns := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close()
	}

	deadline := time.After(timeout)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		s.mu.Lock()
		remaining := len(s.conns)
		s.mu.Unlock()
		if remaining == 0 {
			return
		}
		select {
		case <-deadline:
			if s.log != nil {
				s.log.Warn("shutdown timed out waiting for connections to close", "remaining", remaining)
			}
			return
		case <-ticker.C:
		}
	}
}
