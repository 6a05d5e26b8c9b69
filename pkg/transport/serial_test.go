package transport

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePort replays scripted read chunks and records writes.
type fakePort struct {
	mu       sync.Mutex
	chunks   [][]byte
	written  []byte
	timeouts []time.Duration
	readErr  error
	resets   int
	closed   int
}

func (f *fakePort) Read(p []byte) (int, error) {
	f.mu.Lock()
	if f.readErr != nil {
		err := f.readErr
		f.mu.Unlock()
		return 0, err
	}
	if len(f.chunks) == 0 {
		timeout := time.Millisecond
		if n := len(f.timeouts); n > 0 && f.timeouts[n-1] < timeout {
			timeout = f.timeouts[n-1]
		}
		f.mu.Unlock()
		time.Sleep(timeout)
		return 0, nil
	}
	chunk := f.chunks[0]
	n := copy(p, chunk)
	if n < len(chunk) {
		f.chunks[0] = chunk[n:]
	} else {
		f.chunks = f.chunks[1:]
	}
	f.mu.Unlock()
	return n, nil
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, p...)
	return len(p), nil
}

func (f *fakePort) SetReadTimeout(t time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeouts = append(f.timeouts, t)
	return nil
}

func (f *fakePort) ResetInputBuffer() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = nil
	f.resets++
	return nil
}

func (f *fakePort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func newTestSerial(chunks ...string) (*Serial, *fakePort) {
	fp := &fakePort{}
	for _, c := range chunks {
		fp.chunks = append(fp.chunks, []byte(c))
	}
	return newSerial(fp, SerialConfig{Port: "/dev/ttyACM0", BaudRate: 9600}), fp
}

func TestOpen_RequiresPort(t *testing.T) {
	_, err := Open(SerialConfig{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "required")
}

func TestNewSerial_Defaults(t *testing.T) {
	s, _ := newTestSerial()
	assert.Equal(t, "/dev/ttyACM0", s.Name())
	assert.Equal(t, 9600, s.baudRate)
	assert.Equal(t, DefaultPollTimeout, s.pollTimeout)
}

func TestSerial_ReadN(t *testing.T) {
	s, _ := newTestSerial("\x06", "ab")

	got, err := s.ReadN(1, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x06}, got)

	got, err = s.ReadN(4, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []byte("ab"), got, "short read on timeout")

	got, err = s.ReadN(1, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSerial_ReadLine(t *testing.T) {
	s, _ := newTestSerial("12", "3.5\n4", "56\r\n")

	line, err := s.ReadLine(100 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "123.5", line)

	line, err = s.ReadLine(100 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "456\r", line)
}

func TestSerial_ReadLine_TimeoutKeepsPartial(t *testing.T) {
	s, fp := newTestSerial("99")

	_, err := s.ReadLine(10 * time.Millisecond)
	assert.ErrorIs(t, err, ErrReadTimeout)

	fp.mu.Lock()
	fp.chunks = append(fp.chunks, []byte("7\n"))
	fp.mu.Unlock()

	line, err := s.ReadLine(50 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "997", line)
}

func TestSerial_Available(t *testing.T) {
	s, fp := newTestSerial()

	ok, err := s.Available()
	require.NoError(t, err)
	assert.False(t, ok)

	fp.mu.Lock()
	fp.chunks = append(fp.chunks, []byte("1\n"))
	fp.mu.Unlock()

	ok, err = s.Available()
	require.NoError(t, err)
	assert.True(t, ok)

	// Pending data is reported without touching the port again.
	ok, err = s.Available()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSerial_ResetInput(t *testing.T) {
	s, fp := newTestSerial("stale")

	ok, err := s.Available()
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.ResetInput())
	assert.Empty(t, s.pending)
	assert.Equal(t, 1, fp.resets)
}

func TestSerial_ReadError(t *testing.T) {
	s, fp := newTestSerial()
	fp.readErr = errors.New("device unplugged")

	_, err := s.Available()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "device unplugged")

	_, err = s.ReadLine(10 * time.Millisecond)
	assert.Error(t, err)
}

func TestSerial_Write(t *testing.T) {
	s, fp := newTestSerial()

	n, err := s.Write([]byte{0x05})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []byte{0x05}, fp.written)
}

func TestSerial_Close(t *testing.T) {
	s, fp := newTestSerial()

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, fp.closed)

	_, err := s.Write([]byte{0x04})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.ReadN(1, time.Millisecond)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.ReadLine(time.Millisecond)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Available()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.ResetInput(), ErrClosed)
}
