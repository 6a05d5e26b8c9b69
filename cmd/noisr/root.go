package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/itohio/noisr/pkg/config"
	"github.com/itohio/noisr/pkg/logging"
	"github.com/itohio/noisr/pkg/noisr"
	"github.com/itohio/noisr/pkg/transport"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// globalFlags are shared by every command.
type globalFlags struct {
	ConfigPath string
	Port       string
	LogLevel   string
	Mock       bool
}

var (
	flags  globalFlags
	cfg    *config.Config
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "noisr",
	Short: "Talk to NOISR sampling devices over a serial port",
	Long: `noisr finds NOISR devices, checks that they answer the handshake and
streams analog samples from a selected channel.

Use --mock to run every command against a simulated device.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(flags.ConfigPath)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}

		if flags.Port != "" {
			cfg.Serial.Port = flags.Port
		}
		if flags.LogLevel != "" {
			cfg.Log.Level = flags.LogLevel
		}

		logger, err = logging.New(cfg.Log)
		if err != nil {
			return fmt.Errorf("init logging: %w", err)
		}
		return nil
	},
}

// Execute runs the root command. Interrupts cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flags.ConfigPath, "config", "config.yaml", "Configuration file path")
	rootCmd.PersistentFlags().StringVarP(&flags.Port, "port", "p", "", "Serial port override (e.g., COM3 or /dev/ttyACM0)")
	rootCmd.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "Log level override (trace, debug, info, warn, error, disabled)")
	rootCmd.PersistentFlags().BoolVar(&flags.Mock, "mock", false, "Use a simulated device instead of the serial port")

	rootCmd.AddCommand(portsCmd)
	rootCmd.AddCommand(handshakeCmd)
	rootCmd.AddCommand(streamCmd)
	rootCmd.AddCommand(configCmd)
}

// opener returns the transport opener selected by the flags and configuration.
func opener() transport.Opener {
	if flags.Mock {
		mock := cfg.Mock
		return transport.NewMock(&mock).Open
	}
	poll := cfg.Serial.PollTimeout
	return func(port string, baudRate int) (transport.Transport, error) {
		return transport.Open(transport.SerialConfig{
			Port:        port,
			BaudRate:    baudRate,
			PollTimeout: poll,
		})
	}
}

// protocolOptions builds the options shared by handshake and stream.
func protocolOptions(extra ...noisr.Option) []noisr.Option {
	return append([]noisr.Option{
		noisr.WithOpener(opener()),
		noisr.WithLogger(logger),
		noisr.WithPollInterval(cfg.Handshake.PollInterval),
	}, extra...)
}
