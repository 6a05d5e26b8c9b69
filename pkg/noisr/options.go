package noisr

import (
	"time"

	"github.com/itohio/noisr/pkg/metrics"
	"github.com/itohio/noisr/pkg/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultHandshakeTimeout bounds each wait of the handshake.
	DefaultHandshakeTimeout = 3 * time.Second
	// DefaultStartTimeout bounds the wait for the stream start acknowledgement.
	DefaultStartTimeout = 5 * time.Second
	// DefaultPollInterval is the per-read timeout of the acknowledgement polls.
	DefaultPollInterval = 10 * time.Millisecond
	// DefaultReadTimeout bounds reading the rest of a frame once data is available.
	DefaultReadTimeout = time.Second
)

type options struct {
	open            transport.Opener
	log             zerolog.Logger
	metrics         *metrics.Collector
	pollInterval    time.Duration
	readTimeout     time.Duration
	maxDecodeErrors int
}

// Option configures Handshake and Session.
type Option func(*options)

// WithOpener sets how transports are opened. The default opens a serial port.
func WithOpener(open transport.Opener) Option {
	return func(o *options) {
		if open != nil {
			o.open = open
		}
	}
}

// WithLogger sets the logger. The default is the global zerolog logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics records handshakes and sessions in c.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) { o.metrics = c }
}

// WithPollInterval sets the per-read timeout used while waiting for
// acknowledgements and data.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithReadTimeout sets how long the session waits for the rest of a frame.
func WithReadTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.readTimeout = d
		}
	}
}

// WithMaxDecodeErrors fails the session after n consecutive malformed frames.
// Zero tolerates malformed frames indefinitely.
func WithMaxDecodeErrors(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxDecodeErrors = n
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		open:         transport.OpenSerial,
		log:          log.Logger,
		pollInterval: DefaultPollInterval,
		readTimeout:  DefaultReadTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
