package engine

import "context"

// Semaphore bounds the number of function invocations in flight across a
// whole run, whichever steps they belong to. A nil *Semaphore is unlimited.
type Semaphore struct {
	slots chan struct{}
}

// NewSemaphore creates a semaphore with n slots. It returns nil for n <= 0.
func NewSemaphore(n int) *Semaphore {
	if n <= 0 {
		return nil
	}
	return &Semaphore{slots: make(chan struct{}, n)}
}

// Acquire takes a slot, waiting until one frees up or ctx is done.
// It reports whether the slot was taken.
func (s *Semaphore) Acquire(ctx context.Context) bool {
	if s == nil {
		return ctx.Err() == nil
	}
	select {
	case s.slots <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

// Release gives back a slot taken by Acquire.
func (s *Semaphore) Release() {
	if s == nil {
		return
	}
	<-s.slots
}

// Capacity returns the number of slots, or 0 when unlimited.
func (s *Semaphore) Capacity() int {
	if s == nil {
		return 0
	}
	return cap(s.slots)
}

// InUse returns the number of slots currently taken.
func (s *Semaphore) InUse() int {
	if s == nil {
		return 0
	}
	return len(s.slots)
}
