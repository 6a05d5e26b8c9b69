package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/itohio/noisr/pkg/metrics"
	"github.com/itohio/noisr/pkg/noisr"
	"github.com/itohio/noisr/pkg/protocol"
	"github.com/itohio/noisr/pkg/sample"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var streamFlags struct {
	Channel     int
	Rate        int
	Duration    time.Duration
	MetricsAddr string
}

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Stream samples from a channel as seq,unix_micros,value lines",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		channel := cfg.Stream.Channel
		if cmd.Flags().Changed("channel") {
			c, err := parseChannel(streamFlags.Channel)
			if err != nil {
				return err
			}
			channel = c
		}
		rate := cfg.Stream.Rate
		if cmd.Flags().Changed("rate") {
			rate = streamFlags.Rate
		}
		if cmd.Flags().Changed("metrics-addr") {
			cfg.Metrics.Enabled = true
			cfg.Metrics.Addr = streamFlags.MetricsAddr
		}

		ctx := cmd.Context()
		if streamFlags.Duration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, streamFlags.Duration)
			defer cancel()
		}

		var mc *metrics.Collector
		if cfg.Metrics.Enabled {
			var shutdown func()
			mc, shutdown = serveMetrics(cfg.Metrics.Addr)
			defer shutdown()
		}

		session := noisr.NewSession(cfg.Serial.Port, cfg.Serial.BaudRate, protocolOptions(
			noisr.WithMetrics(mc),
			noisr.WithReadTimeout(cfg.Stream.ReadTimeout),
			noisr.WithMaxDecodeErrors(cfg.Stream.MaxDecodeErrors),
		)...)
		stream := sample.NewStream(cfg.Stream.BufferSize, logger)

		err := session.Start(ctx, noisr.StreamConfig{
			Channel:      channel,
			Rate:         rate,
			OnSample:     stream.Push,
			OnError:      frameErrorPrinter(cmd.ErrOrStderr()),
			StartTimeout: cfg.Stream.StartTimeout,
		})
		if err != nil {
			return err
		}

		out := bufio.NewWriter(cmd.OutOrStdout())
		defer out.Flush()

	loop:
		for {
			select {
			case s := <-stream.Samples():
				fmt.Fprintln(out, s.String())
			case <-session.Done():
				break loop
			case <-ctx.Done():
				break loop
			}
		}

		err = session.Stop()
		stream.Close()
		for s := range stream.Samples() {
			fmt.Fprintln(out, s.String())
		}

		if n := stream.Dropped(); n > 0 {
			logger.Warn().Uint64("dropped", n).Msg("output could not keep up, samples were dropped")
		}
		return err
	},
}

func init() {
	streamCmd.Flags().IntVarP(&streamFlags.Channel, "channel", "c", 0, "Channel selector (0-255)")
	streamCmd.Flags().IntVarP(&streamFlags.Rate, "rate", "r", 0, "Polling rate in Hz")
	streamCmd.Flags().DurationVarP(&streamFlags.Duration, "duration", "d", 0, "Stop after this long (0 = until interrupted)")
	streamCmd.Flags().StringVar(&streamFlags.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
}

// frameErrorPrinter reports malformed frames on w. The error that ends the
// session is returned by Stop instead.
func frameErrorPrinter(w io.Writer) func(error) {
	return func(err error) {
		var fde *protocol.FrameDecodeError
		if errors.Is(err, noisr.ErrTooManyDecodeErrors) || !errors.As(err, &fde) {
			return
		}
		fmt.Fprintf(w, "malformed frame %q skipped\n", fde.Frame)
	}
}

// serveMetrics exposes a fresh registry on addr/metrics. The returned function
// shuts the server down.
func serveMetrics(addr string) (*metrics.Collector, func()) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mc := metrics.New(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("serving metrics")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	return mc, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Warn().Err(err).Msg("failed to shut down metrics server")
		}
	}
}
