package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joulia/joulia-live/internal/config"
)

// serverStatusJSON is the JSON schema for joulia-live status --json.
type serverStatusJSON struct {
	PID           int       `json:"pid"`
	Address       string    `json:"address"`
	Store         string    `json:"store,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	UptimeSeconds int       `json:"uptime_seconds"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show running live servers",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	registry, err := config.OpenInstances()
	if err != nil {
		return err
	}
	instances, err := registry.Live()
	if err != nil {
		return fmt.Errorf("list instances: %w", err)
	}
	out := cmd.OutOrStdout()

	if outputJSON {
		status := make([]serverStatusJSON, 0, len(instances))
		for _, inst := range instances {
			status = append(status, serverStatusJSON{
				PID:           inst.PID,
				Address:       inst.Addr(),
				Store:         inst.Store,
				StartedAt:     inst.StartedAt,
				UptimeSeconds: int(inst.Uptime().Seconds()),
			})
		}
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	if len(instances) == 0 {
		fmt.Fprintln(out, "● joulia-live - Brewing Telemetry")
		fmt.Fprintln(out, "   Status: Not running")
		return nil
	}
	for _, inst := range instances {
		fmt.Fprintln(out, "● joulia-live - Brewing Telemetry")
		fmt.Fprintf(out, "   Status: Running (PID: %d)\n", inst.PID)
		fmt.Fprintf(out, "   Address: %s\n", inst.Addr())
		if inst.Store != "" {
			fmt.Fprintf(out, "   Store: %s\n", inst.Store)
		}
		fmt.Fprintf(out, "   Uptime: %s\n", inst.Uptime())
	}
	return nil
}
