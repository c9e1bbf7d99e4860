package capture

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Driver is the device side of a buffer Pool. Indices run from 0 to the
// granted count minus one.
type Driver interface {
	// RequestBuffers asks for count buffers and returns how many were
	// granted. A count of 0 frees them.
	RequestBuffers(count int) (int, error)
	MapBuffer(index int) ([]byte, error)
	UnmapBuffer(index int, region []byte) error
	QueueBuffer(index int) error

	// WaitReady blocks until a filled buffer can be dequeued or timeout
	// passes. It returns false on timeout.
	WaitReady(timeout time.Duration) (bool, error)

	// DequeueBuffer returns a filled buffer and the number of valid bytes.
	// It returns ErrNoFrameAvailable when nothing is ready.
	DequeueBuffer() (index, bytesUsed int, err error)

	StreamOn() error
	StreamOff() error
}

// Pool owns a fixed ring of driver-mapped buffers. Every buffer is owned
// either by the driver (queued) or by the application (dequeued or idle);
// the two counts always sum to Len.
type Pool struct {
	driver Driver
	size   int

	mu        sync.Mutex
	regions   [][]byte
	appOwned  []bool
	streaming bool
	closed    bool
}

// AllocatePool requests count buffers of at least size bytes and maps them.
// On failure nothing stays mapped or requested.
func AllocatePool(d Driver, count, size int) (*Pool, error) {
	if count < 2 {
		return nil, fmt.Errorf("%w: need at least 2 buffers, asked for %d", ErrBufferAllocationFailed, count)
	}

	granted, err := d.RequestBuffers(count)
	if err != nil {
		return nil, fmt.Errorf("%w: request %d buffers: %v", ErrBufferAllocationFailed, count, err)
	}
	if granted < 2 {
		_, _ = d.RequestBuffers(0)
		return nil, fmt.Errorf("%w: driver granted %d buffers", ErrBufferAllocationFailed, granted)
	}

	p := &Pool{
		driver:   d,
		size:     size,
		regions:  make([][]byte, 0, granted),
		appOwned: make([]bool, 0, granted),
	}
	for i := 0; i < granted; i++ {
		region, err := d.MapBuffer(i)
		if err == nil && len(region) < size {
			_ = d.UnmapBuffer(i, region)
			err = fmt.Errorf("buffer %d is %d bytes, frame needs %d", i, len(region), size)
		}
		if err != nil {
			p.unmapAll()
			_, _ = d.RequestBuffers(0)
			return nil, fmt.Errorf("%w: map buffer %d: %v", ErrBufferAllocationFailed, i, err)
		}
		p.regions = append(p.regions, region)
		p.appOwned = append(p.appOwned, true)
	}
	return p, nil
}

// Len returns the number of buffers in the ring.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.regions)
}

// Counts returns how many buffers the driver and the application own.
func (p *Pool) Counts() (driver, app int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, owned := range p.appOwned {
		if owned {
			app++
		} else {
			driver++
		}
	}
	return driver, app
}

// Start queues every idle buffer and turns streaming on. If any step fails
// the stream is turned off and every buffer returns to the application
// before the error is reported.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("%w: pool closed", ErrStreamStartFailed)
	}
	if p.streaming {
		return nil
	}
	for i, owned := range p.appOwned {
		if !owned {
			continue
		}
		if err := p.driver.QueueBuffer(i); err != nil {
			p.reclaimLocked()
			return fmt.Errorf("%w: queue buffer %d: %v", ErrStreamStartFailed, i, err)
		}
		p.appOwned[i] = false
	}
	if err := p.driver.StreamOn(); err != nil {
		p.reclaimLocked()
		return fmt.Errorf("%w: stream on: %v", ErrStreamStartFailed, err)
	}
	p.streaming = true
	return nil
}

// Stop turns streaming off. The driver gives up all queued buffers.
func (p *Pool) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.streaming {
		return nil
	}
	p.streaming = false
	err := p.driver.StreamOff()
	for i := range p.appOwned {
		p.appOwned[i] = true
	}
	return err
}

func (p *Pool) reclaimLocked() {
	_ = p.driver.StreamOff()
	for i := range p.appOwned {
		p.appOwned[i] = true
	}
}

// AcquireFilled waits for the driver to fill a buffer and leases it to the
// caller. It returns ErrNoFrameAvailable on timeout or when not streaming.
// The lease must be released exactly once.
func (p *Pool) AcquireFilled(timeout time.Duration) (*Lease, error) {
	p.mu.Lock()
	streaming := p.streaming
	p.mu.Unlock()
	if !streaming {
		return nil, ErrNoFrameAvailable
	}

	ready, err := p.driver.WaitReady(timeout)
	if err != nil {
		return nil, fmt.Errorf("wait for buffer: %w", err)
	}
	if !ready {
		return nil, ErrNoFrameAvailable
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.streaming {
		return nil, ErrNoFrameAvailable
	}
	idx, used, err := p.driver.DequeueBuffer()
	if err != nil {
		if errors.Is(err, ErrNoFrameAvailable) {
			return nil, err
		}
		return nil, fmt.Errorf("dequeue buffer: %w", err)
	}
	if idx < 0 || idx >= len(p.regions) {
		return nil, fmt.Errorf("driver returned buffer %d outside pool of %d", idx, len(p.regions))
	}
	p.appOwned[idx] = true

	region := p.regions[idx]
	if used > 0 && used < len(region) {
		region = region[:used]
	}
	return &Lease{
		data:    region,
		index:   idx,
		release: func() error { return p.requeue(idx) },
	}, nil
}

func (p *Pool) requeue(idx int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.streaming || p.closed {
		// teardown already reclaimed the buffer
		return nil
	}
	if err := p.driver.QueueBuffer(idx); err != nil {
		return fmt.Errorf("requeue buffer %d: %w", idx, err)
	}
	p.appOwned[idx] = false
	return nil
}

// Close stops streaming, unmaps every buffer whoever owns it logically, and
// frees the driver allocation. Safe to call twice.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	var firstErr error
	if p.streaming {
		p.streaming = false
		if err := p.driver.StreamOff(); err != nil {
			firstErr = fmt.Errorf("stream off: %w", err)
		}
	}
	for i := range p.appOwned {
		p.appOwned[i] = true
	}
	if err := p.unmapAll(); err != nil && firstErr == nil {
		firstErr = err
	}
	if _, err := p.driver.RequestBuffers(0); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("free buffers: %w", err)
	}
	return firstErr
}

func (p *Pool) unmapAll() error {
	var firstErr error
	for i, region := range p.regions {
		if err := p.driver.UnmapBuffer(i, region); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("unmap buffer %d: %w", i, err)
		}
		p.regions[i] = nil
	}
	return firstErr
}

// Lease is the application's claim on one filled buffer. Release hands the
// buffer back to the driver; only the first call has any effect, and Bytes
// returns nil afterwards.
type Lease struct {
	data    []byte
	index   int
	release func() error
	done    atomic.Bool
}

// Bytes returns the filled region. It is only valid until Release.
func (l *Lease) Bytes() []byte {
	if l.done.Load() {
		return nil
	}
	return l.data
}

// Index returns the buffer slot this lease covers.
func (l *Lease) Index() int {
	return l.index
}

// Release returns the buffer to its owner. A second call returns
// ErrLeaseReleased.
func (l *Lease) Release() error {
	if !l.done.CompareAndSwap(false, true) {
		return ErrLeaseReleased
	}
	l.data = nil
	return l.release()
}

var _ frameSource = (*Pool)(nil)
