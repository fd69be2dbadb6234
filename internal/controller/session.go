package controller

import (
	"sync"
	"sync/atomic"

	"github.com/genricoloni/cadence/internal/domain"
	"github.com/google/uuid"
)

// Session is the live binding between a controller and one engine handle.
// Events carry no controller pointer; the dispatcher checks Live at delivery time.
type Session struct {
	id     uuid.UUID
	engine domain.Engine
	live   atomic.Bool

	releaseOnce sync.Once
	releaseErr  error

	// Guarded by the owning Controller's mutex
	state      domain.State
	gen        uint64
	keepAwake  bool
	looping    bool
	streamType domain.StreamType
	routingID  int
}

func newSession(engine domain.Engine) *Session {
	s := &Session{
		id:         uuid.New(),
		engine:     engine,
		state:      domain.StateIdle,
		streamType: domain.StreamDefault,
	}
	s.live.Store(true)
	return s
}

// ID returns the session token used in logs.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Live reports whether the session still owns its engine.
func (s *Session) Live() bool {
	return s.live.Load()
}

// release invalidates the session and releases the engine exactly once.
func (s *Session) release() error {
	s.releaseOnce.Do(func() {
		s.live.Store(false)
		s.releaseErr = s.engine.Release()
	})
	return s.releaseErr
}
