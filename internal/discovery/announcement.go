package discovery

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

const (
	// AnnouncementType is the discriminator every announcement must carry
	AnnouncementType = "UsbServerAnnouncement"

	// MaxAnnouncementSize is the maximum UDP payload size (stay under MTU)
	MaxAnnouncementSize = 1024
)

// ServerAnnouncement is the UDP broadcast payload (JSON encoded).
//
// Keys use the casing of the original wire format so existing clients keep
// working; decoding is case-insensitive.
type ServerAnnouncement struct {
	Type    string    `json:"Type"`
	ID      uuid.UUID `json:"Id"`
	Name    string    `json:"Name"`
	APIPort uint16    `json:"ApiPort"`
	Version string    `json:"Version"`
}

// NewAnnouncement builds an announcement with the expected discriminator.
func NewAnnouncement(id uuid.UUID, name string, apiPort uint16, version string) ServerAnnouncement {
	return ServerAnnouncement{
		Type:    AnnouncementType,
		ID:      id,
		Name:    name,
		APIPort: apiPort,
		Version: version,
	}
}

// wireAnnouncement uses pointers so missing fields can be told apart from
// zero values.
type wireAnnouncement struct {
	Type    *string `json:"Type"`
	ID      *string `json:"Id"`
	Name    *string `json:"Name"`
	APIPort *int64  `json:"ApiPort"`
	Version *string `json:"Version"`
}

// EncodeAnnouncement serializes an announcement. The output is deterministic
// and decodes back to an equal value.
func EncodeAnnouncement(a ServerAnnouncement) ([]byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal announcement: %w", err)
	}
	if len(data) > MaxAnnouncementSize {
		return nil, fmt.Errorf("announcement is %d bytes, limit is %d", len(data), MaxAnnouncementSize)
	}
	return data, nil
}

// DecodeAnnouncement parses a datagram payload. It never panics; every
// rejection is returned as a *DecodeError.
func DecodeAnnouncement(data []byte) (ServerAnnouncement, error) {
	if len(data) == 0 {
		return ServerAnnouncement{}, malformed("empty payload", nil)
	}
	if len(data) > MaxAnnouncementSize {
		return ServerAnnouncement{}, malformed(fmt.Sprintf("payload is %d bytes, limit is %d", len(data), MaxAnnouncementSize), nil)
	}

	var wire wireAnnouncement
	if err := json.Unmarshal(data, &wire); err != nil {
		return ServerAnnouncement{}, malformed("invalid JSON", err)
	}

	if wire.Type == nil {
		return ServerAnnouncement{}, malformed("missing Type", nil)
	}
	if *wire.Type != AnnouncementType {
		return ServerAnnouncement{}, &DecodeError{Kind: UnexpectedDiscriminator, Type: *wire.Type}
	}

	switch {
	case wire.ID == nil:
		return ServerAnnouncement{}, malformed("missing Id", nil)
	case wire.Name == nil:
		return ServerAnnouncement{}, malformed("missing Name", nil)
	case wire.APIPort == nil:
		return ServerAnnouncement{}, malformed("missing ApiPort", nil)
	case wire.Version == nil:
		return ServerAnnouncement{}, malformed("missing Version", nil)
	}

	id, err := uuid.Parse(*wire.ID)
	if err != nil {
		return ServerAnnouncement{}, malformed("invalid Id", err)
	}
	if *wire.APIPort < 1 || *wire.APIPort > 65535 {
		return ServerAnnouncement{}, malformed(fmt.Sprintf("ApiPort %d out of range", *wire.APIPort), nil)
	}

	return ServerAnnouncement{
		Type:    *wire.Type,
		ID:      id,
		Name:    *wire.Name,
		APIPort: uint16(*wire.APIPort),
		Version: *wire.Version,
	}, nil
}
