package transport

import (
	"bytes"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/itohio/noisr/pkg/config"
	"github.com/itohio/noisr/pkg/protocol"
)

// maxBacklog caps how many generated frames may queue up unread.
const maxBacklog = 1000

type deviceState int

const (
	deviceIdle deviceState = iota
	deviceAwaitHandshakeChannel
	deviceAwaitStreamChannel
	deviceStreaming
	devicePaused
)

// MockEventKind identifies an entry in the mock transcript.
type MockEventKind int

const (
	MockOpen MockEventKind = iota
	MockWrite
	MockClose
)

// MockEvent is one host-side interaction recorded by Mock.
type MockEvent struct {
	Kind MockEventKind
	Data []byte
}

// Mock simulates a NOISR device behind an exclusively owned port. It answers
// ENQUIRE and START with OK, consumes the channel selector and either replies
// with a token (handshake) or starts emitting sample frames (stream).
type Mock struct {
	cfg *config.MockConfig

	mu         sync.Mutex
	open       bool
	port       string
	transcript []MockEvent
	rx         []byte
	readErr    error

	// Simulation state
	state       deviceState
	channel     uint8
	streamStart time.Time
	emitted     int
	script      []string
}

// NewMock creates a new simulated device.
func NewMock(cfg *config.MockConfig) *Mock {
	if cfg == nil {
		def := config.Default().Mock
		cfg = &def
	}
	return &Mock{cfg: cfg}
}

// Open opens the simulated port. It satisfies Opener and fails with
// ErrPortBusy while a previous owner still holds the port. Opening resets the
// device, like the auto-reset of a USB-attached board.
func (m *Mock) Open(port string, baudRate int) (Transport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.open {
		return nil, fmt.Errorf("%w: %s", ErrPortBusy, port)
	}

	m.open = true
	m.port = port
	m.rx = nil
	m.readErr = nil
	m.state = deviceIdle
	m.transcript = append(m.transcript, MockEvent{Kind: MockOpen})

	return m, nil
}

// Script replaces generated samples with the given frames, emitted in order
// once streaming starts. Frames must not contain the delimiter.
func (m *Mock) Script(frames ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append([]string(nil), frames...)
}

// FailReads makes every subsequent read-side operation return err.
func (m *Mock) FailReads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

// Write feeds host bytes into the device state machine.
func (m *Mock) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return 0, ErrClosed
	}

	m.transcript = append(m.transcript, MockEvent{Kind: MockWrite, Data: append([]byte(nil), p...)})
	if m.cfg.Silent {
		return len(p), nil
	}

	for _, b := range p {
		m.receive(b)
	}
	return len(p), nil
}

// ReadN reads up to n bytes, waiting at most timeout.
func (m *Mock) ReadN(n int, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		m.mu.Lock()
		if err := m.readable(); err != nil {
			m.mu.Unlock()
			return nil, err
		}
		m.pump(time.Now())
		if len(m.rx) >= n || !time.Now().Before(deadline) {
			if n > len(m.rx) {
				n = len(m.rx)
			}
			out := append([]byte(nil), m.rx[:n]...)
			m.rx = m.rx[n:]
			m.mu.Unlock()
			return out, nil
		}
		m.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
}

// ReadLine reads one frame without its delimiter.
func (m *Mock) ReadLine(timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		m.mu.Lock()
		if err := m.readable(); err != nil {
			m.mu.Unlock()
			return "", err
		}
		m.pump(time.Now())
		if i := bytes.IndexByte(m.rx, protocol.FrameDelimiter); i >= 0 {
			line := string(m.rx[:i])
			m.rx = m.rx[i+1:]
			m.mu.Unlock()
			return line, nil
		}
		m.mu.Unlock()

		if !time.Now().Before(deadline) {
			return "", fmt.Errorf("%w on %s after %v", ErrReadTimeout, m.port, timeout)
		}
		time.Sleep(time.Millisecond)
	}
}

// Available reports whether the device has sent anything unread.
func (m *Mock) Available() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.readable(); err != nil {
		return false, err
	}
	m.pump(time.Now())
	return len(m.rx) > 0, nil
}

// ResetInput discards unread device output.
func (m *Mock) ResetInput() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return ErrClosed
	}
	m.pump(time.Now())
	m.rx = nil
	return nil
}

// Close releases the simulated port.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return nil
	}
	m.open = false
	m.transcript = append(m.transcript, MockEvent{Kind: MockClose})
	return nil
}

// IsOpen returns whether a host currently holds the port.
func (m *Mock) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

// Channel returns the last channel selector received.
func (m *Mock) Channel() uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channel
}

// Streaming returns whether the device is emitting frames.
func (m *Mock) Streaming() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == deviceStreaming
}

// Written returns every byte the host has written, across all opens.
func (m *Mock) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []byte
	for _, ev := range m.transcript {
		if ev.Kind == MockWrite {
			out = append(out, ev.Data...)
		}
	}
	return out
}

// Transcript returns a copy of the recorded open/write/close events.
func (m *Mock) Transcript() []MockEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockEvent(nil), m.transcript...)
}

// Count returns how many events of the given kind were recorded.
func (m *Mock) Count(kind MockEventKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, ev := range m.transcript {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (m *Mock) readable() error {
	if !m.open {
		return ErrClosed
	}
	return m.readErr
}

// receive advances the device state machine by one host byte.
func (m *Mock) receive(b byte) {
	switch m.state {
	case deviceIdle:
		switch protocol.Control(b) {
		case protocol.Enquire:
			m.reply(protocol.OK)
			m.state = deviceAwaitHandshakeChannel
		case protocol.Start:
			m.reply(protocol.OK)
			m.state = deviceAwaitStreamChannel
		}

	case deviceAwaitHandshakeChannel:
		m.channel = b
		m.rx = append(m.rx, m.token())
		m.state = deviceIdle

	case deviceAwaitStreamChannel:
		m.channel = b
		m.state = deviceStreaming
		m.streamStart = time.Now()
		m.emitted = 0

	case deviceStreaming:
		switch protocol.Control(b) {
		case protocol.Stop:
			m.pump(time.Now())
			m.state = deviceIdle
		case protocol.Pause:
			m.pump(time.Now())
			m.state = devicePaused
		}

	case devicePaused:
		switch protocol.Control(b) {
		case protocol.Stop:
			m.state = deviceIdle
		case protocol.Start:
			m.reply(protocol.OK)
			m.state = deviceStreaming
			m.streamStart = time.Now()
			m.emitted = 0
		}
	}
}

func (m *Mock) reply(c protocol.Control) {
	m.rx = append(m.rx, byte(c))
}

func (m *Mock) token() byte {
	if m.cfg.Token < 0 {
		return m.channel
	}
	return byte(m.cfg.Token)
}

// pump appends the frames that became due since streaming started.
func (m *Mock) pump(now time.Time) {
	if m.state != deviceStreaming {
		return
	}

	due := maxBacklog
	if m.cfg.SampleInterval > 0 {
		due = int(now.Sub(m.streamStart)/m.cfg.SampleInterval) + 1
	}

	queued := bytes.Count(m.rx, []byte{protocol.FrameDelimiter})
	for ; m.emitted < due && queued < maxBacklog; queued++ {
		if m.script != nil {
			if len(m.script) == 0 {
				return
			}
			m.rx = append(m.rx, m.script[0]...)
			m.rx = append(m.rx, protocol.FrameDelimiter)
			m.script = m.script[1:]
		} else {
			at := m.streamStart.Add(time.Duration(m.emitted) * m.cfg.SampleInterval)
			m.rx = append(m.rx, protocol.EncodeSample(m.generateSample(at))...)
		}
		m.emitted++
	}
}

// generateSample generates a simulated analog reading.
func (m *Mock) generateSample(at time.Time) float64 {
	elapsed := at.Sub(m.streamStart)

	value := m.cfg.Offset
	if m.cfg.Period > 0 {
		phase := 2 * math.Pi * elapsed.Seconds() / m.cfg.Period.Seconds()
		value += m.cfg.Amplitude * math.Sin(phase)
	}

	// Deterministic noise
	noise := (math.Sin(float64(elapsed.Nanoseconds())*0.001) +
		math.Cos(float64(elapsed.Nanoseconds())*0.0013)) *
		m.cfg.NoiseLevel * 0.5
	value += noise

	// Channel shifts the waveform so different pins are distinguishable.
	value += float64(m.channel)

	return math.Round(value*1000) / 1000
}
