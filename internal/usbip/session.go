package usbip

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/muurk/usbshare/internal/api"
	"github.com/muurk/usbshare/internal/logging"
)

// Server is the server half of an attach. *api.Client implements it.
type Server interface {
	Attach(ctx context.Context, busID string) (*api.AttachResponse, error)
	Detach(ctx context.Context, busID string) (*api.AttachResponse, error)
}

// Importer is the local half. *Client implements it.
type Importer interface {
	Attach(ctx context.Context, host, busID string) error
	Detach(ctx context.Context, host, busID string) error
}

var _ Importer = (*Client)(nil)

// AttachDevice asks server to attach busID to this machine, then imports it
// from host with local. If the import fails the server attach is undone so
// the device does not stay reserved for a client that never connected. A
// nil local only updates the server.
func AttachDevice(ctx context.Context, server Server, local Importer, host, busID string) (*api.AttachResponse, error) {
	resp, err := server.Attach(ctx, busID)
	if err != nil {
		return nil, err
	}
	if local == nil {
		return resp, nil
	}

	if err := local.Attach(ctx, host, busID); err != nil {
		if _, undoErr := server.Detach(context.WithoutCancel(ctx), busID); undoErr != nil {
			logging.Warn("Could not undo server attach after local import failed",
				zap.String("bus_id", busID),
				zap.Error(undoErr),
			)
		}
		return nil, fmt.Errorf("server attached %s but importing it on this machine failed: %w", busID, err)
	}
	return resp, nil
}

// DetachDevice releases the local port holding busID, then detaches it on
// the server. A device that was never imported here is still detached on
// the server. A nil local only updates the server.
func DetachDevice(ctx context.Context, server Server, local Importer, host, busID string) (*api.AttachResponse, error) {
	if local != nil {
		err := local.Detach(ctx, host, busID)
		switch {
		case errors.Is(err, ErrNotAttached):
			logging.Debug("Device not imported on this machine, detaching on the server only", zap.String("bus_id", busID))
		case err != nil:
			return nil, fmt.Errorf("releasing %s on this machine failed: %w", busID, err)
		}
	}
	return server.Detach(ctx, busID)
}
