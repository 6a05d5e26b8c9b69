package main

import (
	"fmt"
	"time"

	"github.com/itohio/noisr/pkg/noisr"
	"github.com/spf13/cobra"
)

var handshakeFlags struct {
	Channel int
	Timeout time.Duration
}

var handshakeCmd = &cobra.Command{
	Use:   "handshake",
	Short: "Check that a device answers and print its token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		channel := cfg.Handshake.Channel
		if cmd.Flags().Changed("channel") {
			c, err := parseChannel(handshakeFlags.Channel)
			if err != nil {
				return err
			}
			channel = c
		}
		timeout := cfg.Handshake.Timeout
		if cmd.Flags().Changed("timeout") {
			timeout = handshakeFlags.Timeout
		}

		token, err := noisr.Handshake(cmd.Context(), cfg.Serial.Port, cfg.Serial.BaudRate, channel, timeout, protocolOptions()...)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s: channel %d token %d (0x%02x)\n", cfg.Serial.Port, channel, token, token)
		return nil
	},
}

func init() {
	handshakeCmd.Flags().IntVarP(&handshakeFlags.Channel, "channel", "c", 0, "Channel selector (0-255)")
	handshakeCmd.Flags().DurationVar(&handshakeFlags.Timeout, "timeout", 0, "Timeout for each handshake step")
}

func parseChannel(c int) (uint8, error) {
	if c < 0 || c > 255 {
		return 0, fmt.Errorf("channel %d out of range 0-255", c)
	}
	return uint8(c), nil
}
