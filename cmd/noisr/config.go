package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configFlags struct {
	Save string
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if configFlags.Save != "" {
			if err := cfg.Save(configFlags.Save); err != nil {
				return err
			}
			logger.Info().Str("path", configFlags.Save).Msg("configuration saved")
			return nil
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	configCmd.Flags().StringVar(&configFlags.Save, "save", "", "Write the effective configuration to this file")
}
