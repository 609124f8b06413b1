// Package sessions tracks live bridge sessions so shutdown can tear them
// down and wait for them to drain.
package sessions

import (
	"context"
	"sync"
)

// Handle is what a tracked session exposes to the tracker.
type Handle interface {
	// Close tears the session down. Must be idempotent.
	Close()
}

type tracked struct {
	handle Handle
	once   sync.Once
}

// Tracker is a registry of live sessions. The zero value is not usable;
// call New.
type Tracker struct {
	mu       sync.Mutex
	sessions map[*tracked]struct{}
	wg       sync.WaitGroup
}

func New() *Tracker {
	return &Tracker{sessions: make(map[*tracked]struct{})}
}

// Register adds a session and returns its unregister func. Unregister is
// safe to call more than once.
func (t *Tracker) Register(h Handle) func() {
	ts := &tracked{handle: h}

	t.mu.Lock()
	t.sessions[ts] = struct{}{}
	t.mu.Unlock()
	t.wg.Add(1)

	return func() {
		ts.once.Do(func() {
			t.mu.Lock()
			delete(t.sessions, ts)
			t.mu.Unlock()
			t.wg.Done()
		})
	}
}

// Len reports the number of live sessions.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// CloseAll tears down every live session. Handles are collected under the
// lock and closed outside it; a Close that triggers unregister must not
// deadlock.
func (t *Tracker) CloseAll() {
	t.mu.Lock()
	handles := make([]Handle, 0, len(t.sessions))
	for ts := range t.sessions {
		handles = append(handles, ts.handle)
	}
	t.mu.Unlock()

	for _, h := range handles {
		h.Close()
	}
}

// Wait blocks until all registered sessions have unregistered or ctx is
// done. Returns ctx.Err() on timeout.
func (t *Tracker) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
