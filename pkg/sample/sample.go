package sample

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DefaultBufferSize is the default size of a Stream's channel buffer.
const DefaultBufferSize = 100

// Sample is one decoded measurement. Seq is its arrival position within the
// session, starting at 1.
type Sample struct {
	Seq   uint64
	Time  time.Time
	Value float64
}

// String renders the sample as "seq,unix_micros,value".
func (s Sample) String() string {
	return fmt.Sprintf("%d,%d,%s", s.Seq, s.Time.UnixMicro(), strconv.FormatFloat(s.Value, 'f', -1, 64))
}

// Stream turns per-sample callbacks into a buffered channel. Push never
// blocks: when the buffer is full the sample is dropped and counted.
type Stream struct {
	log zerolog.Logger

	mu      sync.RWMutex
	out     chan Sample
	closed  bool
	dropped atomic.Uint64
}

// NewStream creates a stream with the given buffer size.
func NewStream(bufSize int, log zerolog.Logger) *Stream {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Stream{
		log: log,
		out: make(chan Sample, bufSize),
	}
}

// Push delivers s to the channel. It is meant to be used as a session's
// sample callback.
func (st *Stream) Push(s Sample) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	if st.closed {
		return
	}

	select {
	case st.out <- s:
	default:
		n := st.dropped.Add(1)
		st.log.Debug().Uint64("seq", s.Seq).Uint64("dropped", n).Msg("sample stream full, dropping sample")
	}
}

// Samples returns the receiving side of the stream.
func (st *Stream) Samples() <-chan Sample {
	return st.out
}

// Dropped returns how many samples were discarded because the buffer was full.
func (st *Stream) Dropped() uint64 {
	return st.dropped.Load()
}

// Close closes the channel. Buffered samples remain readable; later pushes
// are ignored.
func (st *Stream) Close() {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return
	}
	st.closed = true
	close(st.out)
}
