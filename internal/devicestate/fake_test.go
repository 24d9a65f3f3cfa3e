package devicestate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// fakeCollaborator records calls and serves a configurable device list.
type fakeCollaborator struct {
	mu      sync.Mutex
	devices []UsbDevice
	listErr error
	opErr   error
	calls   []string
	delay   time.Duration

	listCalls   atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeCollaborator) setDevices(devices []UsbDevice) {
	f.mu.Lock()
	f.devices = devices
	f.mu.Unlock()
}

func (f *fakeCollaborator) setListErr(err error) {
	f.mu.Lock()
	f.listErr = err
	f.mu.Unlock()
}

func (f *fakeCollaborator) ListDevices(ctx context.Context) ([]UsbDevice, error) {
	f.listCalls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "list")
	if f.listErr != nil {
		return nil, f.listErr
	}
	result := make([]UsbDevice, len(f.devices))
	copy(result, f.devices)
	return result, nil
}

func (f *fakeCollaborator) op(name, busID string, apply func(*UsbDevice)) error {
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
	return f.op("bind", busID, func(d *UsbDevice) { d.IsShared = true })
}

func (f *fakeCollaborator) Unbind(_ context.Context, busID string) error {
	return f.op("unbind", busID, func(d *UsbDevice) { d.IsShared = false })
}

func (f *fakeCollaborator) Attach(_ context.Context, busID, clientIP string) error {
	return f.op("attach", busID, func(d *UsbDevice) {
		d.IsAttached = true
		d.AttachedClientIP = clientIP
	})
}

func (f *fakeCollaborator) Detach(_ context.Context, busID string) error {
	return f.op("detach", busID, func(d *UsbDevice) {
		d.IsAttached = false
		d.AttachedClientIP = ""
	})
}

func (f *fakeCollaborator) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
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
