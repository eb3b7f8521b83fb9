package scheduler

// Semaphore is a channel-based counting semaphore. The scheduler keeps one
// with capacity 1 per owner; holding it means the owner's drain loop runs.
type Semaphore struct {
	ch chan struct{}
}

// NewSemaphore creates a semaphore with the given capacity (minimum 1).
func NewSemaphore(capacity int) *Semaphore {
	if capacity <= 0 {
		capacity = 1
	}
	return &Semaphore{ch: make(chan struct{}, capacity)}
}

// TryAcquire takes a slot without blocking and reports whether it got one.
func (s *Semaphore) TryAcquire() bool {
	select {
	case s.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees a slot taken by TryAcquire.
func (s *Semaphore) Release() {
	<-s.ch
}

// Held reports whether any slot is taken.
func (s *Semaphore) Held() bool {
	return len(s.ch) > 0
}
