package api

import (
	"context"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/muurk/usbshare/internal/devicestate"
)

var testServerID = uuid.MustParse("6f1c2a4e-1b7d-4c0e-9d2f-3a5b7c9e1f20")

// fakeCollaborator serves a mutable device list and records operations.
type fakeCollaborator struct {
	mu      sync.Mutex
	devices []devicestate.UsbDevice
	listErr error
	opErr   error
	calls   []string
}

func (f *fakeCollaborator) ListDevices(context.Context) ([]devicestate.UsbDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]devicestate.UsbDevice(nil), f.devices...), nil
}

func (f *fakeCollaborator) op(name, busID string, apply func(*devicestate.UsbDevice)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name+":"+busID)
	if f.opErr != nil {
		return f.opErr
	}
	for i := range f.devices {
		if f.devices[i].BusID == busID {
			apply(&f.devices[i])
		}
	}
	return nil
}

func (f *fakeCollaborator) Bind(_ context.Context, busID string) error {
	return f.op("bind", busID, func(d *devicestate.UsbDevice) { d.IsShared = true })
}

func (f *fakeCollaborator) Unbind(_ context.Context, busID string) error {
	return f.op("unbind", busID, func(d *devicestate.UsbDevice) { d.IsShared = false })
}

func (f *fakeCollaborator) Attach(_ context.Context, busID, clientIP string) error {
	return f.op("attach", busID, func(d *devicestate.UsbDevice) {
		d.IsAttached = true
		d.AttachedClientIP = clientIP
	})
}

func (f *fakeCollaborator) Detach(_ context.Context, busID string) error {
	return f.op("detach", busID, func(d *devicestate.UsbDevice) {
		d.IsAttached = false
		d.AttachedClientIP = ""
	})
}

func (f *fakeCollaborator) set(fn func(f *fakeCollaborator)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

func (f *fakeCollaborator) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakeTool reports a fixed usbipd version and counts how often it is asked.
type fakeTool struct {
	version string
	err     error
	calls   atomic.Int32
}

func (t *fakeTool) Version(context.Context) (string, error) {
	t.calls.Add(1)
	return t.version, t.err
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func sampleDevices() []devicestate.UsbDevice {
	return []devicestate.UsbDevice{
		{BusID: "1-1", VendorID: "046D", ProductID: "C52B", Description: "Logitech USB Receiver"},
		{BusID: "1-2", VendorID: "0781", ProductID: "5583", Description: "SanDisk Ultra Fit", IsShared: true},
		{BusID: "2-1", VendorID: "1A86", ProductID: "7523", Description: "USB-SERIAL CH340", IsShared: true, IsAttached: true, AttachedClientIP: "10.0.0.9"},
	}
}

type testEnv struct {
	collab *fakeCollaborator
	clock  *fakeClock
	cache  *devicestate.Cache
	server *Server
}

func newTestEnv(t *testing.T, tool ToolStatus) *testEnv {
	t.Helper()

	collab := &fakeCollaborator{devices: sampleDevices()}
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	cache := devicestate.New(collab, devicestate.Config{Now: clock.Now}, zap.NewNop())

	server, err := New(Config{
		Port:      DefaultPort,
		ServerID:  testServerID,
		Hostname:  "HOST-A",
		Version:   "1.2.0",
		IPAddress: "10.0.0.5",
	}, cache, tool, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return &testEnv{collab: collab, clock: clock, cache: cache, server: server}
}

func (e *testEnv) httpServer(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(e.server.Handler())
	t.Cleanup(ts.Close)
	return ts
}
