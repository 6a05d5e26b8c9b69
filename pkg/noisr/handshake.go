package noisr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/itohio/noisr/pkg/metrics"
	"github.com/itohio/noisr/pkg/protocol"
	"github.com/itohio/noisr/pkg/transport"
	"github.com/rs/zerolog"
)

// Handshake confirms that a device is listening on port and returns the token
// it answers for channel. The whole exchange is bounded by timeout, or
// DefaultHandshakeTimeout when timeout is zero. The port is closed before
// Handshake returns.
func Handshake(ctx context.Context, port string, baudRate int, channel uint8, timeout time.Duration, opts ...Option) (token uint8, err error) {
	o := newOptions(opts)
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	logger := o.log.With().Str("port", port).Uint8("channel", channel).Logger()

	started := time.Now()
	defer func() {
		o.metrics.ObserveHandshake(handshakeResult(err), time.Since(started))
	}()

	t, err := o.open(port, baudRate)
	if err != nil {
		return 0, portUnavailable(port, err)
	}
	defer closeTransport(t, logger)

	if err := t.ResetInput(); err != nil {
		return 0, transportError("handshake: reset input", err)
	}
	if _, err := t.Write(protocol.Enquire.Bytes()); err != nil {
		return 0, transportError("handshake: write ENQUIRE", err)
	}

	deadline := time.Now().Add(timeout)
	if err := awaitAck(ctx, t, deadline, o.pollInterval); err != nil {
		return 0, abort(t, logger, "handshake: waiting for OK", ErrHandshakeTimeout, timeout, err)
	}

	if _, err := t.Write(protocol.EncodeChannel(channel)); err != nil {
		return 0, transportError("handshake: write channel", err)
	}

	if err := awaitData(ctx, t, deadline, o.pollInterval); err != nil {
		return 0, abort(t, logger, "handshake: waiting for token", ErrHandshakeTimeout, timeout, err)
	}

	b, err := t.ReadN(1, o.pollInterval)
	if err != nil {
		return 0, transportError("handshake: read token", err)
	}
	if len(b) == 0 {
		return 0, abort(t, logger, "handshake: reading token", ErrHandshakeTimeout, timeout, errDeadline)
	}

	logger.Debug().Uint8("token", b[0]).Dur("took", time.Since(started)).Msg("handshake complete")
	return b[0], nil
}

// awaitAck reads single bytes until OK arrives. Anything else is discarded.
func awaitAck(ctx context.Context, t transport.Transport, deadline time.Time, poll time.Duration) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		b, err := t.ReadN(1, poll)
		if err != nil {
			return err
		}
		if len(b) == 1 && protocol.Control(b[0]) == protocol.OK {
			return nil
		}
		if !time.Now().Before(deadline) {
			return errDeadline
		}
	}
}

// awaitData polls until the device has sent something.
func awaitData(ctx context.Context, t transport.Transport, deadline time.Time, poll time.Duration) error {
	for {
		ok, err := t.Available()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return errDeadline
		}
		if !sleep(ctx, poll) {
			return ctx.Err()
		}
	}
}

// abort tells the device to stop and classifies the failure of a wait.
func abort(t transport.Transport, logger zerolog.Logger, op string, timeoutErr error, timeout time.Duration, cause error) error {
	sendStop(t, logger)
	switch {
	case errors.Is(cause, errDeadline):
		return fmt.Errorf("%s: %w after %v", op, timeoutErr, timeout)
	case errors.Is(cause, context.Canceled), errors.Is(cause, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, cause)
	default:
		return transportError(op, cause)
	}
}

func sendStop(t transport.Transport, logger zerolog.Logger) {
	if _, err := t.Write(protocol.Stop.Bytes()); err != nil {
		logger.Debug().Err(err).Msg("failed to send STOP")
	}
}

func closeTransport(t transport.Transport, logger zerolog.Logger) {
	if err := t.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to close port")
	}
}

// sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func handshakeResult(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, ErrHandshakeTimeout):
		return metrics.ResultTimeout
	case errors.Is(err, ErrPortUnavailable):
		return metrics.ResultUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.ResultCanceled
	default:
		return metrics.ResultTransport
	}
}
