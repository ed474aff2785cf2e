package commands

import (
	"github.com/spf13/cobra"

	"github.com/tonewire/tonewire/internal/printer"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon health and session state",
	Long: `Query the daemon's health endpoint and aggregated session state:
bridge connectivity, loaded plugin and connection counts, the current
pedalboard, and the engine's own audio state when it is reachable.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	health, err := callOrExplain("health", nil)
	if err != nil {
		return err
	}
	state, err := callOrExplain("get_session_state", nil)
	if err != nil {
		return err
	}

	if statusJSON {
		return printJSON(map[string]interface{}{"health": health, "session": state})
	}

	printer.Success("daemon %v is up\n", health["service"])
	if connected, _ := health["bridge_connected"].(bool); connected {
		printer.Field("bridge", "connected")
	} else {
		printer.Warning("bridge disconnected, engine operations will fail\n")
	}
	printer.Field("plugins", state["plugins"])
	printer.Field("connections", state["connections"])
	if pb, ok := state["pedalboard"].(map[string]interface{}); ok {
		printer.Field("pedalboard", pb["name"])
	} else {
		printer.Field("pedalboard", "none")
	}
	if system, ok := state["system"].(map[string]interface{}); ok && len(system) > 0 {
		printer.Heading("engine")
		for key, value := range system {
			printer.Field(key, value)
		}
	}
	return nil
}
