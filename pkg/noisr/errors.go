package noisr

import (
	"errors"
	"fmt"

	"github.com/itohio/noisr/pkg/protocol"
	"github.com/itohio/noisr/pkg/transport"
)

// Failure outcomes. Every error returned by this package matches exactly one
// of them with errors.Is, except context cancellation which is returned as is.
var (
	ErrUnsupportedPlatform  = transport.ErrUnsupportedPlatform
	ErrPortUnavailable      = errors.New("noisr: port unavailable")
	ErrHandshakeTimeout     = errors.New("noisr: handshake timeout")
	ErrStreamStartTimeout   = errors.New("noisr: stream start timeout")
	ErrTransport            = errors.New("noisr: transport error")
	ErrFrameDecode          = protocol.ErrFrameDecode
	ErrInvalidRate          = errors.New("noisr: invalid rate")
	ErrSessionAlreadyActive = errors.New("noisr: session already active")
	ErrTooManyDecodeErrors  = errors.New("noisr: too many consecutive malformed frames")
)

// errDeadline is the internal signal that a poll loop ran out of time.
var errDeadline = errors.New("deadline elapsed")

func portUnavailable(port string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPortUnavailable, port, err)
}

func transportError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransport, err)
}

// IsTimeout reports whether err is a handshake or stream start timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrHandshakeTimeout) || errors.Is(err, ErrStreamStartTimeout)
}
