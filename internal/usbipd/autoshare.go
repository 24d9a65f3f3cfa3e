package usbipd

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/muurk/usbshare/internal/devicestate"
	"github.com/muurk/usbshare/internal/logging"
)

// Rule selects devices to share automatically. BusID matches one port
// exactly; VIDPID is a "VVVV:PPPP" pattern where either side may use "*"
// wildcards (e.g., "046D:*"). A rule with both set matches either.
type Rule struct {
	BusID  string
	VIDPID string
}

// Matches reports whether the rule selects d.
func (r Rule) Matches(d devicestate.UsbDevice) bool {
	if r.BusID != "" && r.BusID == d.BusID {
		return true
	}
	if r.VIDPID == "" {
		return false
	}

	vendorPattern, productPattern, ok := strings.Cut(strings.ToUpper(strings.TrimSpace(r.VIDPID)), ":")
	if !ok {
		return false
	}
	return matchID(vendorPattern, d.VendorID) && matchID(productPattern, d.ProductID)
}

func matchID(pattern, id string) bool {
	matched, err := path.Match(pattern, strings.ToUpper(id))
	return err == nil && matched
}

// Sharer is the part of devicestate.Cache AutoShare needs.
type Sharer interface {
	Devices(ctx context.Context) ([]devicestate.UsbDevice, error)
	Share(ctx context.Context, busID string) error
}

// AutoShare shares every unshared device matched by a rule. It returns the
// bus IDs it shared; failures for individual devices are joined into the
// returned error and do not stop the others.
func AutoShare(ctx context.Context, cache Sharer, rules []Rule, logger *zap.Logger) ([]string, error) {
	if len(rules) == 0 {
		return nil, nil
	}
	if logger == nil {
		logger = logging.Named("autoshare")
	}

	devices, err := cache.Devices(ctx)
	if err != nil && !devicestate.IsStale(err) {
		return nil, fmt.Errorf("failed to list devices for auto-share: %w", err)
	}

	var shared []string
	var errs []error
	for _, d := range devices {
		if d.IsShared || !matchesAny(rules, d) {
			continue
		}
		if err := cache.Share(ctx, d.BusID); err != nil {
			logger.Warn("Auto-share failed", zap.String("bus_id", d.BusID), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		logger.Info("Auto-shared device",
			zap.String("bus_id", d.BusID),
			zap.String("vid_pid", d.VIDPID()),
			zap.String("description", d.Description),
		)
		shared = append(shared, d.BusID)
	}
	return shared, errors.Join(errs...)
}

func matchesAny(rules []Rule, d devicestate.UsbDevice) bool {
	for _, r := range rules {
		if r.Matches(d) {
			return true
		}
	}
	return false
}
