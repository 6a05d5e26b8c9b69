package transport

import (
	"bytes"
	"fmt"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is the baud rate the NOISR firmware listens at.
	DefaultBaudRate = 9600
	// DefaultPollTimeout bounds how long Available waits for the first byte.
	DefaultPollTimeout = 5 * time.Millisecond

	readChunk = 256
)

// port is the subset of serial.Port the transport relies on.
type port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	Close() error
}

// SerialConfig holds configuration for opening a serial port.
type SerialConfig struct {
	Port        string
	BaudRate    int
	PollTimeout time.Duration
}

// Serial is a Transport over a hardware serial port.
type Serial struct {
	name        string
	baudRate    int
	pollTimeout time.Duration

	conn    port
	timeout time.Duration // Read timeout currently applied to conn
	pending []byte
	scratch []byte
	closed  atomic.Bool
}

// OpenSerial opens the named port with default settings. It is the default
// Opener.
func OpenSerial(name string, baudRate int) (Transport, error) {
	s, err := Open(SerialConfig{Port: name, BaudRate: baudRate})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Open opens a serial port with the given configuration (8N1).
func Open(cfg SerialConfig) (*Serial, error) {
	if cfg.Port == "" {
		return nil, fmt.Errorf("serial port path is required")
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	conn, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Port, err)
	}

	return newSerial(conn, cfg), nil
}

func newSerial(conn port, cfg SerialConfig) *Serial {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	return &Serial{
		name:        cfg.Port,
		baudRate:    cfg.BaudRate,
		pollTimeout: cfg.PollTimeout,
		conn:        conn,
		timeout:     -1,
		scratch:     make([]byte, readChunk),
	}
}

// Name returns the serial port name.
func (s *Serial) Name() string {
	return s.name
}

// Write writes p to the port.
func (s *Serial) Write(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	n, err := s.conn.Write(p)
	if err != nil {
		return n, fmt.Errorf("failed to write to %s: %w", s.name, err)
	}
	return n, nil
}

// ReadN reads up to n bytes within timeout.
func (s *Serial) ReadN(n int, timeout time.Duration) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	deadline := time.Now().Add(timeout)
	for len(s.pending) < n {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		got, err := s.fill(remaining)
		if err != nil {
			return nil, err
		}
		if got == 0 {
			break
		}
	}

	if n > len(s.pending) {
		n = len(s.pending)
	}
	out := make([]byte, n)
	copy(out, s.pending)
	s.pending = s.pending[n:]
	return out, nil
}

// ReadLine reads one frame terminated by '\n'. A partial frame stays buffered
// when the timeout expires.
func (s *Serial) ReadLine(timeout time.Duration) (string, error) {
	if s.closed.Load() {
		return "", ErrClosed
	}

	deadline := time.Now().Add(timeout)
	for {
		if i := bytes.IndexByte(s.pending, '\n'); i >= 0 {
			line := string(s.pending[:i])
			s.pending = s.pending[i+1:]
			return line, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", fmt.Errorf("%w on %s after %v", ErrReadTimeout, s.name, timeout)
		}
		if _, err := s.fill(remaining); err != nil {
			return "", err
		}
	}
}

// Available reports whether input is pending, waiting at most the poll timeout.
func (s *Serial) Available() (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}
	if len(s.pending) > 0 {
		return true, nil
	}
	if _, err := s.fill(s.pollTimeout); err != nil {
		return false, err
	}
	return len(s.pending) > 0, nil
}

// ResetInput discards bytes buffered by the driver and by the transport.
func (s *Serial) ResetInput() error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.pending = s.pending[:0]
	if err := s.conn.ResetInputBuffer(); err != nil {
		return fmt.Errorf("failed to reset input of %s: %w", s.name, err)
	}
	return nil
}

// Close closes the port. Closing twice is a no-op.
func (s *Serial) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", s.name, err)
	}
	return nil
}

// fill performs one read bounded by timeout and appends the result to the
// pending buffer. The driver returns zero bytes without error on timeout.
func (s *Serial) fill(timeout time.Duration) (int, error) {
	if timeout != s.timeout {
		if err := s.conn.SetReadTimeout(timeout); err != nil {
			return 0, fmt.Errorf("failed to set read timeout on %s: %w", s.name, err)
		}
		s.timeout = timeout
	}

	n, err := s.conn.Read(s.scratch)
	if n > 0 {
		s.pending = append(s.pending, s.scratch[:n]...)
	}
	if err != nil {
		return n, fmt.Errorf("failed to read from %s: %w", s.name, err)
	}
	return n, nil
}
