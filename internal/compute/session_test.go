package compute

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLeaseLifecycle(t *testing.T) {
	s := NewSession("test", 2)
	l1, err := s.Acquire()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	l2, _ := s.Acquire()
	if s.Refs() != 2 {
		t.Errorf("expected 2 refs, got %d", s.Refs())
	}

	if err := l1.Release(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l1.Release(); err != nil {
		t.Fatalf("expected idempotent release, got %v", err)
	}
	if s.Refs() != 1 {
		t.Errorf("expected 1 ref, got %d", s.Refs())
	}

	if err := s.Close(); err == nil {
		t.Error("expected leak error when closing with outstanding lease")
	}
	if _, err := s.Acquire(); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	l2.Release()
	if s.Refs() != 0 {
		t.Errorf("expected 0 refs, got %d", s.Refs())
	}
}

func TestCloseClean(t *testing.T) {
	s := NewSession("clean", 1)
	l, _ := s.Acquire()
	l.Release()
	if err := s.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("expected second close to be a no-op, got %v", err)
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	s := NewSession("bounded", 2)
	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, err := s.Acquire()
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			defer l.Release()
			l.Run(context.Background(), func(context.Context) error {
				n := atomic.AddInt32(&active, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	if peak > 2 {
		t.Errorf("expected at most 2 concurrent runs, saw %d", peak)
	}
}

func TestRunCancelled(t *testing.T) {
	s := NewSession("cancel", 1)
	l, _ := s.Acquire()
	defer l.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Run(ctx, func(context.Context) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
