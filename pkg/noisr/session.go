package noisr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itohio/noisr/pkg/metrics"
	"github.com/itohio/noisr/pkg/protocol"
	"github.com/itohio/noisr/pkg/sample"
	"github.com/itohio/noisr/pkg/transport"
	"github.com/rs/zerolog"
)

// State is the lifecycle position of a Session.
type State int32

const (
	Idle State = iota
	Handshaking
	Streaming
	Stopping
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Handshaking:
		return "handshaking"
	case Streaming:
		return "streaming"
	case Stopping:
		return "stopping"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// StreamConfig describes one streaming run.
type StreamConfig struct {
	Channel uint8
	// Rate is the polling rate in Hz. The loop sleeps 1000/Rate milliseconds
	// between polls.
	Rate int
	// OnSample receives samples in arrival order on the session goroutine.
	OnSample func(sample.Sample)
	// OnError receives malformed frames and the error that ended the session.
	OnError func(error)
	// StartTimeout bounds the wait for the start acknowledgement. Zero means
	// DefaultStartTimeout.
	StartTimeout time.Duration
}

// Session streams samples from one device port. Start and Stop may be called
// repeatedly; each Start opens the port and each run closes it again.
//
// Callbacks run on the session goroutine and must not call Stop, which waits
// for that goroutine. Use Cancel instead.
type Session struct {
	port     string
	baudRate int
	opts     options
	rate     atomic.Int64

	mu       sync.Mutex
	state    State
	cancel   context.CancelFunc
	starting chan struct{} // closed when the current Start returns
	done     chan struct{}
	err      error
}

var closedDone = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// NewSession creates an idle session for port.
func NewSession(port string, baudRate int, opts ...Option) *Session {
	return &Session{
		port:     port,
		baudRate: baudRate,
		opts:     newOptions(opts),
	}
}

// Start opens the port, performs the stream start exchange and launches the
// read loop. ctx bounds the start exchange only; the loop runs until Stop or
// Cancel is called or it fails. Stop and Cancel also abort a start in
// progress.
func (s *Session) Start(ctx context.Context, cfg StreamConfig) error {
	if cfg.Rate <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidRate, cfg.Rate)
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = DefaultStartTimeout
	}
	if cfg.OnSample == nil {
		cfg.OnSample = func(sample.Sample) {}
	}

	s.mu.Lock()
	switch s.state {
	case Handshaking, Streaming, Stopping:
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: session is %s", ErrSessionAlreadyActive, state)
	}
	if s.cancel != nil {
		s.cancel()
	}
	prev := s.done
	startCtx, cancelStart := context.WithCancel(ctx)
	defer cancelStart()
	starting := make(chan struct{})
	defer close(starting)
	s.state = Handshaking
	s.err = nil
	s.done = nil
	s.cancel = cancelStart
	s.starting = starting
	s.mu.Unlock()

	// A failed run may still be finishing its callbacks.
	if prev != nil {
		<-prev
	}

	logger := s.opts.log.With().
		Str("port", s.port).
		Uint8("channel", cfg.Channel).
		Int("rate", cfg.Rate).
		Logger()

	t, err := s.handshake(startCtx, cfg, logger)
	if err != nil {
		return s.startFailed(ctx, err, logger)
	}

	s.rate.Store(int64(cfg.Rate))
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	if err := startCtx.Err(); err != nil {
		// Stopped after the device acknowledged but before the loop took over.
		s.mu.Unlock()
		cancel()
		sendStop(t, logger)
		closeTransport(t, logger)
		return s.startFailed(ctx, fmt.Errorf("stream: start: %w", err), logger)
	}
	s.state = Streaming
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	s.opts.metrics.SessionStarted(cfg.Rate)
	logger.Info().Msg("stream started")

	go s.run(loopCtx, t, cfg, done, logger)
	return nil
}

// startFailed records a failed start. A start aborted by Stop or Cancel leaves
// the session idle; any other failure is stored until Stop.
func (s *Session) startFailed(ctx context.Context, err error, logger zerolog.Logger) error {
	s.opts.metrics.SessionStartFailed()

	s.mu.Lock()
	if ctx.Err() == nil && errors.Is(err, context.Canceled) {
		s.state = Idle
	} else {
		s.state = Failed
		s.err = err
	}
	s.mu.Unlock()

	logger.Warn().Err(err).Msg("failed to start stream")
	return err
}

// handshake performs the START/OK/selector exchange and returns the open
// transport on success. On failure the transport is already closed.
func (s *Session) handshake(ctx context.Context, cfg StreamConfig, logger zerolog.Logger) (transport.Transport, error) {
	t, err := s.opts.open(s.port, s.baudRate)
	if err != nil {
		return nil, portUnavailable(s.port, err)
	}

	fail := func(err error) (transport.Transport, error) {
		closeTransport(t, logger)
		return nil, err
	}

	if err := t.ResetInput(); err != nil {
		return fail(transportError("stream: reset input", err))
	}
	if _, err := t.Write(protocol.Start.Bytes()); err != nil {
		return fail(transportError("stream: write START", err))
	}
	if err := awaitAck(ctx, t, time.Now().Add(cfg.StartTimeout), s.opts.pollInterval); err != nil {
		return fail(abort(t, logger, "stream: waiting for OK", ErrStreamStartTimeout, cfg.StartTimeout, err))
	}
	if _, err := t.Write(protocol.EncodeChannel(cfg.Channel)); err != nil {
		sendStop(t, logger)
		return fail(transportError("stream: write channel", err))
	}
	return t, nil
}

func (s *Session) run(ctx context.Context, t transport.Transport, cfg StreamConfig, done chan struct{}, logger zerolog.Logger) {
	var err error
	defer func() {
		s.finish(t, cfg, done, err, logger)
	}()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("noisr: sample callback panicked: %v", r)
		}
	}()

	err = s.loop(ctx, t, cfg, logger)
}

func (s *Session) loop(ctx context.Context, t transport.Transport, cfg StreamConfig, logger zerolog.Logger) error {
	var seq uint64
	consecutive := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		ok, err := t.Available()
		if err != nil {
			return transportError("stream: poll", err)
		}
		if ok {
			line, err := t.ReadLine(s.opts.readTimeout)
			if err != nil {
				return transportError("stream: read", err)
			}

			if strings.TrimSpace(line) != "" {
				v, err := protocol.DecodeSample(line)
				if err != nil {
					consecutive++
					s.opts.metrics.DecodeError()
					logger.Warn().Err(err).Int("consecutive", consecutive).Msg("malformed frame")
					report(cfg.OnError, err, logger)
					if limit := s.opts.maxDecodeErrors; limit > 0 && consecutive >= limit {
						return fmt.Errorf("%w: %d in a row: %w", ErrTooManyDecodeErrors, consecutive, err)
					}
				} else {
					consecutive = 0
					seq++
					cfg.OnSample(sample.Sample{Seq: seq, Time: time.Now(), Value: v})
					s.opts.metrics.SampleDelivered()
				}
			}
		}

		if !sleep(ctx, interval(s.Rate())) {
			return nil
		}
	}
}

// finish releases the port and publishes the outcome of a run.
func (s *Session) finish(t transport.Transport, cfg StreamConfig, done chan struct{}, err error, logger zerolog.Logger) {
	sendStop(t, logger)
	closeTransport(t, logger)

	outcome := metrics.OutcomeStopped
	s.mu.Lock()
	if err != nil {
		s.state = Failed
		s.err = err
		outcome = metrics.OutcomeFailed
	} else {
		s.state = Idle
	}
	s.mu.Unlock()

	s.opts.metrics.SessionFinished(outcome)
	if err != nil {
		logger.Error().Err(err).Msg("stream failed")
		report(cfg.OnError, err, logger)
	} else {
		logger.Info().Msg("stream stopped")
	}
	close(done)
}

// Cancel asks the read loop to stop without waiting for it. It is safe to
// call from callbacks.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	if s.state == Streaming {
		s.state = Stopping
	}
}

// Stop cancels the read loop and waits until the port is closed. It returns
// the error that ended the run, or nil after a clean stop. A stored failure is
// returned once, after which the session is idle again.
func (s *Session) Stop() error {
	s.Cancel()

	s.mu.Lock()
	starting := s.starting
	s.mu.Unlock()

	if starting != nil {
		<-starting
	}

	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done != nil {
		<-done
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Handshaking {
		// A new Start began after this Stop was issued.
		return nil
	}
	err := s.err
	s.err = nil
	s.state = Idle
	s.cancel = nil
	return err
}

// SetRate changes the polling rate. The new rate applies from the next sleep.
func (s *Session) SetRate(rate int) error {
	if rate <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidRate, rate)
	}
	s.rate.Store(int64(rate))
	s.opts.metrics.RateChanged(rate)
	s.opts.log.Debug().Str("port", s.port).Int("rate", rate).Msg("rate changed")
	return nil
}

// Rate returns the current polling rate in Hz.
func (s *Session) Rate() int {
	return int(s.rate.Load())
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done returns a channel closed when the current run has finished. It is
// already closed when no run was started.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done == nil {
		return closedDone
	}
	return s.done
}

// Err returns the failure stored by the last run, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// interval converts a rate in Hz to the loop sleep, using integer
// milliseconds. Rates above 1000 Hz are clamped to 1ms.
func interval(rate int) time.Duration {
	if rate <= 0 || rate > 1000 {
		return time.Millisecond
	}
	return time.Duration(1000/rate) * time.Millisecond
}

func report(onError func(error), err error, logger zerolog.Logger) {
	if onError == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("error callback panicked")
		}
	}()
	onError(err)
}
