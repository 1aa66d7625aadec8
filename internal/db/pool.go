package db

import (
	"context"
	"sync"

	"github.com/nucleus/datapipe/internal/core"
)

// Mode keys pooled sessions by pipe direction.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
)

func (m Mode) String() string {
	if m == ModeWrite {
		return "write"
	}
	return "read"
}

// Dialer opens a new session; injectable for tests.
type Dialer func(ctx context.Context) (Session, error)

// SessionPool keeps at most one live session per mode, replacing a pooled
// session found closed. The pool is owned by whoever holds the pipe
// factory; its lifecycle ends at Shutdown.
type SessionPool struct {
	mu       sync.Mutex
	dial     Dialer
	sessions map[Mode]Session
	shutdown bool
}

// NewSessionPool builds a pool around a dialer.
func NewSessionPool(dial Dialer) *SessionPool {
	return &SessionPool{dial: dial, sessions: make(map[Mode]Session)}
}

// NewConnectionPool builds a pool that dials a connection config.
func NewConnectionPool(cfg core.ConnectionConfig) *SessionPool {
	return NewSessionPool(func(ctx context.Context) (Session, error) {
		return Connect(ctx, cfg)
	})
}

// Get returns the live session for mode, dialing one when absent or closed.
func (p *SessionPool) Get(ctx context.Context, mode Mode) (Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shutdown {
		return nil, core.Errorf(core.CodeConnectionDown, false, "session pool is shut down")
	}
	if s, ok := p.sessions[mode]; ok && !s.IsClosed() {
		return s, nil
	}
	s, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}
	p.sessions[mode] = s
	return s, nil
}

// Shutdown closes every pooled session. The first close error is returned;
// all sessions are closed regardless.
func (p *SessionPool) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shutdown = true
	var first error
	for mode, s := range p.sessions {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
		delete(p.sessions, mode)
	}
	return first
}
