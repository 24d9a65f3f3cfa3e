package discovery

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is checks against *DecodeError.
var (
	ErrMalformedPayload        = errors.New("malformed announcement payload")
	ErrUnexpectedDiscriminator = errors.New("unexpected announcement type")
)

// DecodeErrorKind classifies why an announcement payload was rejected.
type DecodeErrorKind int

const (
	// MalformedPayload means the bytes are not a valid encoding of an announcement.
	MalformedPayload DecodeErrorKind = iota
	// UnexpectedDiscriminator means the payload parsed but carries a foreign type.
	UnexpectedDiscriminator
)

// String returns a human-readable name for the kind
func (k DecodeErrorKind) String() string {
	switch k {
	case MalformedPayload:
		return "MalformedPayload"
	case UnexpectedDiscriminator:
		return "UnexpectedDiscriminator"
	default:
		return fmt.Sprintf("DecodeErrorKind(%d)", k)
	}
}

// DecodeError reports a rejected discovery datagram. It is always recovered
// locally by the receiver; the datagram is dropped.
type DecodeError struct {
	Kind DecodeErrorKind
	// Detail describes what was wrong with the payload
	Detail string
	// Type is the discriminator found in the payload (UnexpectedDiscriminator only)
	Type string
	// Underlying parse error if any
	Err error
}

func (e *DecodeError) Error() string {
	switch {
	case e.Kind == UnexpectedDiscriminator:
		return fmt.Sprintf("%s: got %q, want %q", e.Kind, e.Type, AnnouncementType)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is matches the package sentinels so callers can use errors.Is.
func (e *DecodeError) Is(target error) bool {
	switch target {
	case ErrMalformedPayload:
		return e.Kind == MalformedPayload
	case ErrUnexpectedDiscriminator:
		return e.Kind == UnexpectedDiscriminator
	}
	return false
}

func malformed(detail string, err error) *DecodeError {
	return &DecodeError{Kind: MalformedPayload, Detail: detail, Err: err}
}

// BindError represents a failure to open or bind a discovery socket.
// It is fatal to the component that returned it.
type BindError struct {
	// Addr is the local address that could not be bound
	Addr string
	// Underlying error
	Err error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("failed to bind discovery socket %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// IsBindError reports whether err is (or wraps) a *BindError.
func IsBindError(err error) bool {
	var bindErr *BindError
	return errors.As(err, &bindErr)
}
