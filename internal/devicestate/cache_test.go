package devicestate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func sampleDevices() []UsbDevice {
	return []UsbDevice{
		{BusID: "1-1", VendorID: "046D", ProductID: "C52B", Description: "Logitech USB Receiver"},
		{BusID: "1-2", VendorID: "0781", ProductID: "5583", Description: "SanDisk Ultra Fit", IsShared: true},
	}
}

func newTestCache(collab Collaborator, clock *fakeClock) *Cache {
	config := Config{}
	if clock != nil {
		config.Now = clock.Now
	}
	return New(collab, config, zap.NewNop())
}

func TestCache_StalenessWindow(t *testing.T) {
	collab := &fakeCollaborator{devices: sampleDevices()}
	clock := newFakeClock()
	cache := newTestCache(collab, clock)
	ctx := context.Background()

	if _, err := cache.Devices(ctx); err != nil {
		t.Fatalf("Devices() error = %v", err)
	}
	clock.Advance(2 * time.Second)
	if _, err := cache.Devices(ctx); err != nil {
		t.Fatalf("Devices() error = %v", err)
	}
	if n := collab.listCalls.Load(); n != 1 {
		t.Errorf("list calls within staleness window = %d, want 1", n)
	}

	clock.Advance(6 * time.Second)
	if _, err := cache.Devices(ctx); err != nil {
		t.Fatalf("Devices() error = %v", err)
	}
	if n := collab.listCalls.Load(); n != 2 {
		t.Errorf("list calls after staleness window = %d, want 2", n)
	}
}

func TestCache_ConcurrentRefreshesSerialized(t *testing.T) {
	collab := &fakeCollaborator{devices: sampleDevices(), delay: 20 * time.Millisecond}
	cache := newTestCache(collab, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- cache.Refresh(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Refresh() error = %v", err)
		}
	}
	if m := collab.maxInFlight.Load(); m != 1 {
		t.Errorf("max concurrent list calls = %d, want 1", m)
	}
	if n := collab.listCalls.Load(); n < 1 || n > 10 {
		t.Errorf("list calls = %d, want between 1 and 10", n)
	}

	devices, _ := cache.Snapshot()
	if len(devices) != 2 {
		t.Errorf("Snapshot() has %d devices, want 2", len(devices))
	}
}

func TestCache_WaitersCoalesce(t *testing.T) {
	collab := &fakeCollaborator{devices: sampleDevices(), delay: 50 * time.Millisecond}
	cache := newTestCache(collab, nil)

	// Hold the refresh lock with a first refresh, then queue several waiters
	// behind it. The waiters should share one follow-up call.
	first := make(chan error, 1)
	go func() { first <- cache.Refresh(context.Background()) }()
	for collab.inFlight.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cache.Refresh(context.Background())
		}()
	}
	wg.Wait()
	<-first

	if n := collab.listCalls.Load(); n != 2 {
		t.Errorf("list calls = %d, want 2 (in-flight plus one coalesced follow-up)", n)
	}
}

func TestCache_RefreshFailureRetainsSnapshot(t *testing.T) {
	collab := &fakeCollaborator{devices: sampleDevices()}
	clock := newFakeClock()
	cache := newTestCache(collab, clock)
	ctx := context.Background()

	if err := cache.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	_, refreshedAt := cache.Snapshot()

	cause := errors.New("usbipd crashed")
	collab.setListErr(cause)
	clock.Advance(10 * time.Second)

	err := cache.Refresh(ctx)
	var collabErr *CollaboratorError
	if !errors.As(err, &collabErr) || collabErr.Op != "list" {
		t.Fatalf("Refresh() error = %v, want *CollaboratorError{Op: list}", err)
	}
	if !errors.Is(err, cause) {
		t.Error("CollaboratorError should unwrap to the cause")
	}

	devices, at := cache.Snapshot()
	if len(devices) != 2 {
		t.Errorf("snapshot lost after failed refresh: %v", devices)
	}
	if !at.Equal(refreshedAt) {
		t.Errorf("LastRefreshed changed on failure: %v -> %v", refreshedAt, at)
	}

	devices, err = cache.Devices(ctx)
	if !IsStale(err) {
		t.Fatalf("Devices() error = %v, want *StaleError", err)
	}
	var staleErr *StaleError
	errors.As(err, &staleErr)
	if !staleErr.LastRefreshed.Equal(refreshedAt) {
		t.Errorf("StaleError.LastRefreshed = %v, want %v", staleErr.LastRefreshed, refreshedAt)
	}
	if len(devices) != 2 {
		t.Errorf("Devices() returned %d stale devices, want 2", len(devices))
	}
}

func TestCache_NoDataOnFirstFailure(t *testing.T) {
	collab := &fakeCollaborator{listErr: errors.New("not installed")}
	cache := newTestCache(collab, nil)

	devices, err := cache.Devices(context.Background())
	if devices != nil {
		t.Errorf("Devices() = %v, want nil", devices)
	}
	if err == nil || IsStale(err) {
		t.Errorf("Devices() error = %v, want a non-stale collaborator error", err)
	}
	if !IsCollaboratorError(err) {
		t.Errorf("Devices() error = %T, want *CollaboratorError", err)
	}
}

func TestCache_EmptyListIsData(t *testing.T) {
	collab := &fakeCollaborator{}
	cache := newTestCache(collab, nil)

	devices, err := cache.Devices(context.Background())
	if err != nil {
		t.Fatalf("Devices() error = %v", err)
	}
	if devices == nil || len(devices) != 0 {
		t.Errorf("Devices() = %#v, want empty non-nil list", devices)
	}
}

func TestCache_ShareScenario(t *testing.T) {
	collab := &fakeCollaborator{devices: sampleDevices()}
	cache := newTestCache(collab, nil)
	ctx := context.Background()

	if err := cache.Share(ctx, "1-1"); err != nil {
		t.Fatalf("Share() error = %v", err)
	}

	calls := collab.callLog()
	if len(calls) != 2 || calls[0] != "bind:1-1" || calls[1] != "list" {
		t.Errorf("collaborator calls = %v, want [bind:1-1 list]", calls)
	}

	d, err := cache.Device(ctx, "1-1")
	if err != nil {
		t.Fatalf("Device() error = %v", err)
	}
	if !d.IsShared {
		t.Error("device should be shared after Share()")
	}
}

func TestCache_AttachDetach(t *testing.T) {
	collab := &fakeCollaborator{devices: sampleDevices()}
	cache := newTestCache(collab, nil)
	ctx := context.Background()

	if err := cache.Attach(ctx, "1-2", "10.0.0.9"); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	d, _ := cache.Device(ctx, "1-2")
	if !d.IsAttached || d.AttachedClientIP != "10.0.0.9" {
		t.Errorf("after Attach() device = %+v", d)
	}

	if err := cache.Detach(ctx, "1-2"); err != nil {
		t.Fatalf("Detach() error = %v", err)
	}
	d, _ = cache.Device(ctx, "1-2")
	if d.IsAttached || d.AttachedClientIP != "" {
		t.Errorf("after Detach() device = %+v", d)
	}

	if err := cache.Unshare(ctx, "1-2"); err != nil {
		t.Fatalf("Unshare() error = %v", err)
	}
	d, _ = cache.Device(ctx, "1-2")
	if d.IsShared {
		t.Error("device should not be shared after Unshare()")
	}
}

// cancellingCollaborator cancels the caller's context once a bind has gone
// through, like an HTTP client hanging up mid-request.
type cancellingCollaborator struct {
	*fakeCollaborator
	cancel context.CancelFunc
}

func (c *cancellingCollaborator) Bind(ctx context.Context, busID string) error {
	err := c.fakeCollaborator.Bind(ctx, busID)
	c.cancel()
	return err
}

func (c *cancellingCollaborator) ListDevices(ctx context.Context) ([]UsbDevice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.fakeCollaborator.ListDevices(ctx)
}

func TestCache_ShareSurvivesCallerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	collab := &cancellingCollaborator{fakeCollaborator: &fakeCollaborator{devices: sampleDevices()}, cancel: cancel}
	clock := newFakeClock()
	cache := newTestCache(collab, clock)

	if _, err := cache.Devices(context.Background()); err != nil {
		t.Fatalf("Devices() error = %v", err)
	}

	if err := cache.Share(ctx, "1-1"); err != nil {
		t.Fatalf("Share() error = %v", err)
	}
	if ctx.Err() == nil {
		t.Fatal("caller context should have been cancelled by Bind")
	}

	devices, _ := cache.Snapshot()
	for _, d := range devices {
		if d.BusID == "1-1" && !d.IsShared {
			t.Error("snapshot still shows 1-1 unshared after a successful Share()")
		}
	}
}

func TestCache_FailedRefreshAfterOperationForcesNextRead(t *testing.T) {
	collab := &fakeCollaborator{devices: sampleDevices()}
	clock := newFakeClock()
	cache := newTestCache(collab, clock)
	ctx := context.Background()

	if _, err := cache.Devices(ctx); err != nil {
		t.Fatalf("Devices() error = %v", err)
	}

	collab.setListErr(errors.New("usbipd busy"))
	if err := cache.Share(ctx, "1-1"); err != nil {
		t.Fatalf("Share() error = %v, want nil since the bind succeeded", err)
	}
	collab.setListErr(nil)

	before := collab.listCalls.Load()
	d, err := cache.Device(ctx, "1-1")
	if err != nil {
		t.Fatalf("Device() error = %v", err)
	}
	if collab.listCalls.Load() != before+1 {
		t.Errorf("list calls = %d, want a refresh inside the staleness window", collab.listCalls.Load()-before)
	}
	if !d.IsShared {
		t.Error("device should be shared after the forced refresh")
	}

	if _, err := cache.Devices(ctx); err != nil {
		t.Fatalf("Devices() error = %v", err)
	}
	if collab.listCalls.Load() != before+1 {
		t.Error("a successful refresh should clear the forced refresh")
	}
}

func TestCache_OperationFailureDoesNotRefresh(t *testing.T) {
	cause := errors.New("access denied")
	collab := &fakeCollaborator{devices: sampleDevices(), opErr: cause}
	cache := newTestCache(collab, nil)

	err := cache.Share(context.Background(), "1-1")
	var collabErr *CollaboratorError
	if !errors.As(err, &collabErr) {
		t.Fatalf("Share() error = %v, want *CollaboratorError", err)
	}
	if collabErr.Op != "bind" || collabErr.BusID != "1-1" {
		t.Errorf("CollaboratorError = %+v", collabErr)
	}
	if !errors.Is(err, cause) {
		t.Error("error should unwrap to the cause")
	}
	if n := collab.listCalls.Load(); n != 0 {
		t.Errorf("list calls after failed bind = %d, want 0", n)
	}
}

func TestCache_DeviceNotFound(t *testing.T) {
	cache := newTestCache(&fakeCollaborator{devices: sampleDevices()}, nil)

	_, err := cache.Device(context.Background(), "9-9")
	if !IsNotFound(err) {
		t.Errorf("Device() error = %v, want ErrNotFound", err)
	}
}

func TestCache_ReadCopiesAreIndependent(t *testing.T) {
	cache := newTestCache(&fakeCollaborator{devices: sampleDevices()}, nil)
	ctx := context.Background()

	devices, err := cache.Devices(ctx)
	if err != nil {
		t.Fatalf("Devices() error = %v", err)
	}
	devices[0].Description = "mutated"

	again, _ := cache.Devices(ctx)
	if again[0].Description == "mutated" {
		t.Error("mutating a returned list changed the cache")
	}
}

func TestCache_Normalization(t *testing.T) {
	collab := &fakeCollaborator{devices: []UsbDevice{
		{BusID: "1-1", Description: "first"},
		{BusID: "1-1", Description: "duplicate"},
		{BusID: "", Description: "no bus id"},
		{BusID: "2-1", IsAttached: true},
		{BusID: "3-1", AttachedClientIP: "10.0.0.1"},
	}}
	cache := newTestCache(collab, nil)

	devices, err := cache.Devices(context.Background())
	if err != nil {
		t.Fatalf("Devices() error = %v", err)
	}
	if len(devices) != 3 {
		t.Fatalf("Devices() = %+v, want 3 entries", devices)
	}
	if devices[0].Description != "first" {
		t.Errorf("duplicate bus id should keep the first entry, got %q", devices[0].Description)
	}
	if devices[1].IsAttached {
		t.Error("attached device without client IP should be reported not attached")
	}
	if devices[2].AttachedClientIP != "" {
		t.Error("detached device should not carry a client IP")
	}
}

func TestCache_Subscribe(t *testing.T) {
	collab := &fakeCollaborator{devices: sampleDevices()}
	cache := newTestCache(collab, nil)
	updates, cancel := cache.Subscribe(4)
	defer cancel()
	ctx := context.Background()

	if err := cache.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	select {
	case u := <-updates:
		if len(u.Devices) != 2 {
			t.Errorf("update has %d devices, want 2", len(u.Devices))
		}
	default:
		t.Fatal("expected an update after the first refresh")
	}

	if err := cache.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	select {
	case u := <-updates:
		t.Errorf("unexpected update for an unchanged list: %+v", u)
	default:
	}

	if err := cache.Share(ctx, "1-1"); err != nil {
		t.Fatalf("Share() error = %v", err)
	}
	select {
	case u := <-updates:
		if !u.Devices[0].IsShared {
			t.Error("update should reflect the shared device")
		}
	default:
		t.Fatal("expected an update after Share()")
	}
}

func TestCache_RefreshHonorsContext(t *testing.T) {
	collab := &fakeCollaborator{devices: sampleDevices(), delay: 200 * time.Millisecond}
	cache := newTestCache(collab, nil)

	go func() { _ = cache.Refresh(context.Background()) }()
	for collab.inFlight.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := cache.Refresh(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Refresh() error = %v, want deadline exceeded while waiting", err)
	}
}

func TestCounts(t *testing.T) {
	shared, attached := Counts([]UsbDevice{
		{BusID: "1", IsShared: true},
		{BusID: "2", IsShared: true, IsAttached: true, AttachedClientIP: "10.0.0.1"},
		{BusID: "3"},
	})
	if shared != 2 || attached != 1 {
		t.Errorf("Counts() = %d, %d, want 2, 1", shared, attached)
	}
}
