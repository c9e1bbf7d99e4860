package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-camwatch/pkg/camera"
	"github.com/teslashibe/go-camwatch/pkg/capture"
	"github.com/teslashibe/go-camwatch/pkg/hub"
	"github.com/teslashibe/go-camwatch/pkg/motion"
	"github.com/teslashibe/go-camwatch/pkg/session"
)

type fakeCapture struct {
	stats session.Stats
	devs  []session.DeviceInfo
	err   error
}

func (f *fakeCapture) Stats() session.Stats { return f.stats }

func (f *fakeCapture) ListDevices() ([]session.DeviceInfo, error) { return f.devs, f.err }

func newTestServer(t *testing.T, capture *fakeCapture) (*Server, *camera.Manager) {
	t.Helper()
	mgr := camera.NewManager(camera.DefaultConfig())
	srv := NewServer(":0", Deps{Capture: capture, Config: mgr, Events: hub.New(nil)})
	return srv, mgr
}

func TestStatus(t *testing.T) {
	srv, _ := newTestServer(t, &fakeCapture{stats: session.Stats{ID: "abc", Active: true, Frames: 12}})

	resp, err := srv.App().Test(httptest.NewRequest("GET", "/api/status", nil))
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("Status = %d, want 200", resp.StatusCode)
	}

	var body StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Bad JSON: %v", err)
	}
	if body.Capture.ID != "abc" || !body.Capture.Active || body.Capture.Frames != 12 {
		t.Errorf("Unexpected capture status %+v", body.Capture)
	}
	if body.Config == nil || body.Config.DiffPixels != 1000 {
		t.Errorf("Expected config in status, got %+v", body.Config)
	}
}

func TestDevices(t *testing.T) {
	srv, _ := newTestServer(t, &fakeCapture{devs: []session.DeviceInfo{{Name: "Porch", Path: "/dev/video0"}}})

	resp, _ := srv.App().Test(httptest.NewRequest("GET", "/api/devices", nil))
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != 200 || !strings.Contains(string(body), `"path":"/dev/video0"`) {
		t.Errorf("Unexpected response %d %s", resp.StatusCode, body)
	}
}

func TestDevices_Error(t *testing.T) {
	srv, _ := newTestServer(t, &fakeCapture{err: errors.New("sysfs unreadable")})

	resp, _ := srv.App().Test(httptest.NewRequest("GET", "/api/devices", nil))
	if resp.StatusCode != 500 {
		t.Errorf("Status = %d, want 500", resp.StatusCode)
	}
}

func TestSetConfig(t *testing.T) {
	srv, mgr := newTestServer(t, &fakeCapture{})

	req := httptest.NewRequest("POST", "/api/config", strings.NewReader(`{"preset":"relaxed","fps":3}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.App().Test(req)
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("Status = %d, want 200: %s", resp.StatusCode, body)
	}
	cfg := mgr.GetConfig()
	if cfg.FPS != 3 || cfg.DiffPixels != 5000 {
		t.Errorf("Expected relaxed preset with fps 3, got %+v", cfg)
	}
}

func TestSetConfig_Invalid(t *testing.T) {
	srv, mgr := newTestServer(t, &fakeCapture{})
	before := mgr.GetConfig()

	for _, body := range []string{`{"diff_threshold":2}`, `{}`, `not json`} {
		req := httptest.NewRequest("POST", "/api/config", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := srv.App().Test(req)
		if resp.StatusCode != 400 {
			t.Errorf("%s: status = %d, want 400", body, resp.StatusCode)
		}
	}
	if mgr.GetConfig() != before {
		t.Error("Expected config unchanged")
	}
}

func TestPresets(t *testing.T) {
	srv, _ := newTestServer(t, &fakeCapture{})
	resp, _ := srv.App().Test(httptest.NewRequest("GET", "/api/config/presets", nil))
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), camera.PresetSensitive) {
		t.Errorf("Expected preset names, got %s", body)
	}
}

func TestEventsRequiresUpgrade(t *testing.T) {
	srv, _ := newTestServer(t, &fakeCapture{})
	resp, _ := srv.App().Test(httptest.NewRequest("GET", "/ws/events", nil))
	if resp.StatusCode != 426 {
		t.Errorf("Status = %d, want 426", resp.StatusCode)
	}
}

func TestEventsWebSocket(t *testing.T) {
	events := hub.New(nil)
	srv := NewServer("127.0.0.1:0", Deps{Capture: &fakeCapture{}, Events: events})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go events.Run(ctx)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go srv.Serve(ctx, ln)

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws/events", nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	defer ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for events.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	events.Publish(hub.NewEvent(hub.EventStall, map[string]string{"device": "Porch"}))

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	if !strings.Contains(string(msg), `"type":"stall"`) {
		t.Errorf("Unexpected message %s", msg)
	}
}

func newDetectorServer(t *testing.T) (*Server, *camera.Manager, *motion.Detector) {
	t.Helper()
	mgr := camera.NewManager(camera.DefaultConfig())
	det, err := motion.NewDetector(mgr.GetConfig().Motion())
	if err != nil {
		t.Fatalf("NewDetector failed: %v", err)
	}
	mgr.OnConfigChange = func(cfg camera.Config) error {
		return det.SetConfig(cfg.Motion())
	}
	srv := NewServer(":0", Deps{Capture: &fakeCapture{}, Detector: det, Config: mgr, Events: hub.New(nil)})
	return srv, mgr, det
}

func TestLastImage(t *testing.T) {
	srv, _, det := newDetectorServer(t)

	resp, _ := srv.App().Test(httptest.NewRequest("GET", "/api/last-image", nil))
	if resp.StatusCode != 404 {
		t.Errorf("Expected 404 before the first frame, got %d", resp.StatusCode)
	}

	data := make([]byte, 16*8*3)
	if _, err := det.Process(capture.FrameInfo{Width: 16, Height: 8, DataSize: uint32(len(data)), Data: data}); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	resp, err := srv.App().Test(httptest.NewRequest("GET", "/api/last-image", nil))
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("Status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Expected image/jpeg, got %q", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if len(body) < 4 || body[0] != 0xFF || body[1] != 0xD8 {
		t.Errorf("Expected a JPEG body, got %d bytes", len(body))
	}
}

func TestAdjustPixels(t *testing.T) {
	srv, mgr, det := newDetectorServer(t)

	tests := []struct {
		path string
		want int
	}{
		{"/api/config/pixels/increase", 2000},
		{"/api/config/pixels/increase", 4000},
		{"/api/config/pixels/decrease", 2000},
	}
	for _, tt := range tests {
		resp, err := srv.App().Test(httptest.NewRequest("POST", tt.path, nil))
		if err != nil {
			t.Fatalf("%s: request error: %v", tt.path, err)
		}
		if resp.StatusCode != 200 {
			t.Fatalf("%s: status = %d, want 200", tt.path, resp.StatusCode)
		}
		var body struct {
			DiffPixels int `json:"diff_pixels"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("Bad JSON: %v", err)
		}
		if body.DiffPixels != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.path, tt.want, body.DiffPixels)
		}
		if got := mgr.GetConfig().DiffPixels; got != tt.want {
			t.Errorf("%s: expected runtime config %d, got %d", tt.path, tt.want, got)
		}
		if got := det.Config().Pixels; got != tt.want {
			t.Errorf("%s: expected detector %d, got %d", tt.path, tt.want, got)
		}
	}
}

func TestAdjustPixels_NoDetector(t *testing.T) {
	srv, _ := newTestServer(t, &fakeCapture{})
	resp, _ := srv.App().Test(httptest.NewRequest("POST", "/api/config/pixels/increase", nil))
	if resp.StatusCode != 404 {
		t.Errorf("Status = %d, want 404", resp.StatusCode)
	}
}
