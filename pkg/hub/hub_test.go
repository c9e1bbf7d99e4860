package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeConn records writes and blocks reads until closed.
type fakeConn struct {
	mu     sync.Mutex
	writes [][]byte
	types  []int
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{closed: make(chan struct{})}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	<-f.closed
	return 0, nil, errors.New("closed")
}

func (f *fakeConn) WriteMessage(t int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.types = append(f.types, t)
	f.writes = append(f.writes, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) SetReadLimit(int64) {}
func (f *fakeConn) SetReadDeadline(time.Time) error { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (f *fakeConn) SetPongHandler(func(string) error) {}
func (f *fakeConn) Close() error { f.once.Do(func() { close(f.closed) }); return nil }

func (f *fakeConn) messages() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.writes...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_PublishReachesSubscribers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := New(nil)
	go h.Run(ctx)

	a, b := newFakeConn(), newFakeConn()
	go NewClient(h, a, "a").Run()
	go NewClient(h, b, "b").Run()
	waitFor(t, func() bool { return h.ClientCount() == 2 })

	if err := h.Publish(NewEvent(EventChange, map[string]int{"diff_pixels": 1200})); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	for _, c := range []*fakeConn{a, b} {
		waitFor(t, func() bool { return len(c.messages()) == 1 })
		var ev struct {
			Type string         `json:"type"`
			Data map[string]int `json:"data"`
		}
		if err := json.Unmarshal(c.messages()[0], &ev); err != nil {
			t.Fatalf("Bad JSON: %v", err)
		}
		if ev.Type != EventChange || ev.Data["diff_pixels"] != 1200 {
			t.Errorf("Unexpected event %+v", ev)
		}
	}
	if h.Stats().Published != 1 {
		t.Errorf("Expected 1 published, got %d", h.Stats().Published)
	}
}

func TestHub_DisconnectUnregisters(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := New(nil)
	go h.Run(ctx)

	conn := newFakeConn()
	go NewClient(h, conn, "a").Run()
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	conn.Close()
	waitFor(t, func() bool { return h.ClientCount() == 0 })
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := New(nil)
	go h.Run(ctx)

	conn := newFakeConn()
	done := make(chan struct{})
	go func() {
		NewClient(h, conn, "a").Run()
		close(done)
	}()
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("client did not exit after hub shutdown")
	}
	if h.IsRunning() {
		t.Error("Expected hub stopped")
	}
}
