// Package compute provides a shared, reference-counted compute session that
// bounds how many model fits run at once.
package compute

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned when acquiring from a closed session.
var ErrClosed = errors.New("compute session closed")

// Session is a heavyweight compute context shared by strategy instances.
// Holders take a Lease and must Release it; Run bounds concurrent work.
type Session struct {
	name string
	sem  *semaphore.Weighted

	mu     sync.Mutex
	refs   int
	closed bool
}

// NewSession creates a session allowing at most slots concurrent Run calls.
func NewSession(name string, slots int) *Session {
	if slots < 1 {
		slots = 1
	}
	return &Session{name: name, sem: semaphore.NewWeighted(int64(slots))}
}

// Name returns the session name.
func (s *Session) Name() string {
	return s.name
}

// Lease is one holder's reference on a session.
type Lease struct {
	s    *Session
	once sync.Once
	err  error
}

// Acquire takes a reference on the session.
func (s *Session) Acquire() (*Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.refs++
	return &Lease{s: s}, nil
}

// Release drops the reference. Calling it more than once is a no-op that
// returns the first result.
func (l *Lease) Release() error {
	l.once.Do(func() {
		l.s.mu.Lock()
		defer l.s.mu.Unlock()
		if l.s.refs <= 0 {
			l.err = fmt.Errorf("session %s: release without matching acquire", l.s.name)
			return
		}
		l.s.refs--
	})
	return l.err
}

// Run executes fn while holding one concurrency slot.
func (l *Lease) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.s.sem.Release(1)
	return fn(ctx)
}

// Refs returns the number of outstanding leases.
func (s *Session) Refs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}

// Close shuts the session. Outstanding leases are reported as a leak.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.refs > 0 {
		return fmt.Errorf("session %s closed with %d outstanding leases", s.name, s.refs)
	}
	return nil
}
