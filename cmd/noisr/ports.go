package main

import (
	"fmt"

	"github.com/itohio/noisr/pkg/transport"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List candidate device ports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := transport.Ports()
		if err != nil {
			return fmt.Errorf("enumerate ports: %w", err)
		}
		logger.Debug().Int("count", len(ports)).Msg("enumerated ports")

		if len(ports) == 0 {
			pterm.Info.Println("No devices found")
			return nil
		}
		return pterm.DefaultTable.WithHasHeader(true).WithData(portsTable(ports)).Render()
	},
}

func portsTable(ports []transport.Port) pterm.TableData {
	data := pterm.TableData{{"Port", "Description"}}
	for _, p := range ports {
		desc := p.Description
		if desc == "" {
			desc = "-"
		}
		data = append(data, []string{p.Name, desc})
	}
	return data
}
