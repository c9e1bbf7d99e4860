package capture

import (
	"sync"
	"sync/atomic"
	"time"
)

// Mailbox is a single-slot frame source for backends that push samples
// from a callback. Put keeps only the most recent sample; while the slot is
// leased to the application new samples are dropped.
type Mailbox struct {
	mu     sync.Mutex
	slot   []byte
	filled bool
	held   bool
	closed bool
	ready  chan struct{}

	received    atomic.Uint64
	overwritten atomic.Uint64
	dropped     atomic.Uint64
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{ready: make(chan struct{}, 1)}
}

// Put copies data into the slot. It returns false when the sample was
// dropped because the slot is leased or the mailbox is closed.
func (m *Mailbox) Put(data []byte) bool {
	m.received.Add(1)

	m.mu.Lock()
	if m.closed || m.held {
		m.mu.Unlock()
		m.dropped.Add(1)
		return false
	}
	if m.filled {
		m.overwritten.Add(1)
	}
	m.slot = append(m.slot[:0], data...)
	m.filled = true
	m.mu.Unlock()

	m.signal()
	return true
}

func (m *Mailbox) signal() {
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

// AcquireFilled leases the current sample, waiting up to timeout for one.
func (m *Mailbox) AcquireFilled(timeout time.Duration) (*Lease, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrNoFrameAvailable
		}
		if m.filled && !m.held {
			m.held = true
			data := m.slot
			m.mu.Unlock()
			return &Lease{data: data, release: m.release}, nil
		}
		m.mu.Unlock()

		select {
		case <-m.ready:
		case <-timer.C:
			return nil, ErrNoFrameAvailable
		}
	}
}

func (m *Mailbox) release() error {
	m.mu.Lock()
	m.held = false
	m.filled = false
	m.mu.Unlock()
	return nil
}

// Counts reports the slot as driver-owned unless it is leased.
func (m *Mailbox) Counts() (driver, app int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held {
		return 0, 1
	}
	return 1, 0
}

// Close wakes any waiter and rejects further samples.
func (m *Mailbox) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.signal()
}

// MailboxStats holds mailbox counters.
type MailboxStats struct {
	Received    uint64 `json:"received"`
	Overwritten uint64 `json:"overwritten"`
	Dropped     uint64 `json:"dropped"`
}

// Stats returns a snapshot of the counters.
func (m *Mailbox) Stats() MailboxStats {
	return MailboxStats{
		Received:    m.received.Load(),
		Overwritten: m.overwritten.Load(),
		Dropped:     m.dropped.Load(),
	}
}

var _ frameSource = (*Mailbox)(nil)
