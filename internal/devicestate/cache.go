package devicestate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/usbshare/internal/logging"
)

// DefaultStaleness is how old a snapshot may get before a read refreshes it.
const DefaultStaleness = 5 * time.Second

const defaultSubscriberBuffer = 4

// controlRefreshTimeout bounds the refresh that follows a device operation.
// That refresh outlives the caller's context.
const controlRefreshTimeout = 10 * time.Second

// Config holds the cache configuration
type Config struct {
	// Staleness is the maximum snapshot age served without refreshing
	Staleness time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Update is delivered to subscribers when a refresh changes the device list.
type Update struct {
	Devices     []UsbDevice `json:"devices"`
	RefreshedAt time.Time   `json:"refreshedAt"`
}

// Cache holds the latest device snapshot and serializes refreshes.
type Cache struct {
	collab Collaborator
	config Config
	logger *zap.Logger

	// sem is the refresh lock. A buffered channel so waiters can give up
	// when their context is cancelled.
	sem chan struct{}

	mu            sync.RWMutex
	devices       []UsbDevice
	lastRefreshed time.Time
	hasData       bool
	// started counts refreshes begun; doneSeq is the sequence number of
	// the last one to finish and doneErr its result.
	started uint64
	doneSeq uint64
	doneErr error
	// dirty forces the next read to refresh. Only a refresh started after
	// dirtySeq clears it.
	dirty    bool
	dirtySeq uint64

	subMu       sync.Mutex
	subscribers map[int]chan Update
	nextSubID   int
}

// New creates a cache over collab. The cache starts empty; the first read or
// Refresh populates it. A nil logger uses the global logger.
func New(collab Collaborator, config Config, logger *zap.Logger) *Cache {
	if config.Staleness <= 0 {
		config.Staleness = DefaultStaleness
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if logger == nil {
		logger = logging.Named("devicestate")
	}

	return &Cache{
		collab:      collab,
		config:      config,
		logger:      logger,
		sem:         make(chan struct{}, 1),
		subscribers: make(map[int]chan Update),
	}
}

// Devices returns a copy of the device list, refreshing first if the
// snapshot is older than the staleness window.
//
// If that refresh fails and an earlier snapshot exists, the earlier snapshot
// is returned together with a *StaleError. Without any snapshot the
// collaborator error is returned and the list is nil.
func (c *Cache) Devices(ctx context.Context) ([]UsbDevice, error) {
	if c.needsRefresh() {
		if err := c.Refresh(ctx); err != nil {
			c.mu.RLock()
			defer c.mu.RUnlock()
			if !c.hasData {
				return nil, err
			}
			return copyDevices(c.devices), &StaleError{LastRefreshed: c.lastRefreshed, Err: err}
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyDevices(c.devices), nil
}

func (c *Cache) needsRefresh() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.hasData || c.dirty || c.config.Now().Sub(c.lastRefreshed) > c.config.Staleness
}

// Refresh reloads the device list from the collaborator.
//
// At most one collaborator call is in flight. A caller that waits behind a
// running refresh does not start another one if a refresh that began after
// it started waiting has already completed; it returns that refresh's result.
func (c *Cache) Refresh(ctx context.Context) error {
	c.mu.RLock()
	seen := c.started
	c.mu.RUnlock()

	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-c.sem }()

	c.mu.Lock()
	if c.doneSeq > seen {
		err := c.doneErr
		c.mu.Unlock()
		return err
	}
	c.started++
	seq := c.started
	c.mu.Unlock()

	start := time.Now()
	devices, err := c.collab.ListDevices(ctx)
	if err != nil {
		collabErr := &CollaboratorError{Op: "list", Err: err}
		c.mu.Lock()
		c.doneSeq = seq
		c.doneErr = collabErr
		c.mu.Unlock()

		c.logger.Warn("Device refresh failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return collabErr
	}

	devices = normalize(devices)
	now := c.config.Now()

	c.mu.Lock()
	changed := !c.hasData || !equalDevices(c.devices, devices)
	c.devices = devices
	c.lastRefreshed = now
	c.hasData = true
	c.doneSeq = seq
	c.doneErr = nil
	if seq > c.dirtySeq {
		c.dirty = false
	}
	c.mu.Unlock()

	c.logger.Debug("Device list refreshed",
		zap.Int("devices", len(devices)),
		zap.Bool("changed", changed),
		zap.Duration("duration", time.Since(start)),
	)

	if changed {
		c.publish(Update{Devices: copyDevices(devices), RefreshedAt: now})
	}
	return nil
}

// Device returns the device with busID. A stale snapshot is still searched;
// the *StaleError is returned alongside a match.
func (c *Cache) Device(ctx context.Context, busID string) (UsbDevice, error) {
	devices, err := c.Devices(ctx)
	if err != nil && !IsStale(err) {
		return UsbDevice{}, err
	}

	for _, d := range devices {
		if d.BusID == busID {
			return d, err
		}
	}
	return UsbDevice{}, fmt.Errorf("%w: %s", ErrNotFound, busID)
}

// Share binds the device for sharing, then refreshes.
func (c *Cache) Share(ctx context.Context, busID string) error {
	return c.control(ctx, "bind", busID, func() error {
		return c.collab.Bind(ctx, busID)
	})
}

// Unshare unbinds the device, then refreshes.
func (c *Cache) Unshare(ctx context.Context, busID string) error {
	return c.control(ctx, "unbind", busID, func() error {
		return c.collab.Unbind(ctx, busID)
	})
}

// Attach attaches the device to clientIP, then refreshes.
func (c *Cache) Attach(ctx context.Context, busID, clientIP string) error {
	return c.control(ctx, "attach", busID, func() error {
		return c.collab.Attach(ctx, busID, clientIP)
	})
}

// Detach detaches the device from its client, then refreshes.
func (c *Cache) Detach(ctx context.Context, busID string) error {
	return c.control(ctx, "detach", busID, func() error {
		return c.collab.Detach(ctx, busID)
	})
}

// control runs one collaborator operation. On success the cache is
// refreshed so readers see the new state, even if ctx is cancelled once the
// operation has gone through. If that refresh fails the snapshot is marked
// dirty and the next read refreshes.
func (c *Cache) control(ctx context.Context, op, busID string, fn func() error) error {
	if err := fn(); err != nil {
		c.logger.Warn("Device operation failed",
			zap.String("op", op),
			zap.String("bus_id", busID),
			zap.Error(err),
		)
		return &CollaboratorError{Op: op, BusID: busID, Err: err}
	}

	c.logger.Info("Device operation succeeded", zap.String("op", op), zap.String("bus_id", busID))

	c.markDirty()

	refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), controlRefreshTimeout)
	defer cancel()
	if err := c.Refresh(refreshCtx); err != nil {
		c.logger.Warn("Refresh after device operation failed",
			zap.String("op", op),
			zap.String("bus_id", busID),
			zap.Error(err),
		)
	}
	return nil
}

// markDirty invalidates the snapshot for every refresh already started.
func (c *Cache) markDirty() {
	c.mu.Lock()
	c.dirty = true
	c.dirtySeq = c.started
	c.mu.Unlock()
}

// Snapshot returns the cached list and when it was taken without
// refreshing. The time is zero when no refresh has succeeded yet.
func (c *Cache) Snapshot() ([]UsbDevice, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyDevices(c.devices), c.lastRefreshed
}

// Subscribe returns a channel receiving an Update whenever a refresh changes
// the device list, and a cancel function that closes it. Updates for a
// subscriber whose channel is full are dropped.
func (c *Cache) Subscribe(buffer int) (<-chan Update, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan Update, buffer)

	c.subMu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = ch
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subscribers, id)
			c.subMu.Unlock()
			close(ch)
		})
	}
}

func (c *Cache) publish(update Update) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	for id, ch := range c.subscribers {
		select {
		case ch <- update:
		default:
			c.logger.Warn("Subscriber channel full, dropping device update", zap.Int("subscriber", id))
		}
	}
}

func copyDevices(devices []UsbDevice) []UsbDevice {
	if devices == nil {
		return nil
	}
	result := make([]UsbDevice, len(devices))
	copy(result, devices)
	return result
}
