// Package transport provides the byte stream between the host and a NOISR
// device: the serial implementation, an in-process simulated device and the
// port enumerator.
package transport

import (
	"errors"
	"io"
	"time"
)

var (
	// ErrClosed is returned by operations on a closed transport.
	ErrClosed = errors.New("transport: closed")
	// ErrReadTimeout is returned when a complete frame did not arrive in time.
	ErrReadTimeout = errors.New("transport: read timeout")
	// ErrPortBusy is returned when a port is already held by another owner.
	ErrPortBusy = errors.New("transport: port busy")
)

// Transport is an exclusively owned duplex byte stream to a device.
// Implementations are not safe for concurrent readers.
type Transport interface {
	io.Writer

	// ReadN reads up to n bytes, waiting at most timeout. Fewer bytes (possibly
	// none) are returned without error when the timeout expires.
	ReadN(n int, timeout time.Duration) ([]byte, error)

	// ReadLine reads one newline-terminated frame and returns it without the
	// delimiter. ErrReadTimeout is returned if the frame is not complete in time.
	ReadLine(timeout time.Duration) (string, error)

	// Available reports whether input is pending. It never blocks for longer
	// than the implementation's poll timeout.
	Available() (bool, error)

	// ResetInput discards any buffered input.
	ResetInput() error

	Close() error
}

// Opener opens a transport to the named port.
type Opener func(port string, baudRate int) (Transport, error)

// Ensure Serial implements Transport.
var _ Transport = (*Serial)(nil)

// Ensure Mock implements Transport.
var _ Transport = (*Mock)(nil)

// Ensure the default opener matches Opener.
var _ Opener = OpenSerial
