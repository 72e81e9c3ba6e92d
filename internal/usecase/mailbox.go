package usecase

import "sync"

// mailbox is an unbounded FIFO of closures drained by a single goroutine.
// Posting never blocks, so callbacks running on the draining goroutine may
// post follow-up work without deadlocking.
type mailbox struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) post(fn func()) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, fn)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return true
}

func (m *mailbox) drain() []func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch := m.queue
	m.queue = nil
	return batch
}

// close rejects further posts and returns what was still queued.
func (m *mailbox) close() []func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	batch := m.queue
	m.queue = nil
	return batch
}

// run executes posted closures in order until quit is closed.
func (m *mailbox) run(quit <-chan struct{}) {
	for {
		select {
		case <-quit:
			return
		case <-m.signal:
			for _, fn := range m.drain() {
				fn()
			}
		}
	}
}
