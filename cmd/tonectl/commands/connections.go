package commands

import (
	"github.com/spf13/cobra"

	"github.com/tonewire/tonewire/internal/printer"
)

var connectionsListJSON bool

var connectionsCmd = &cobra.Command{
	Use:   "connections",
	Short: "Manage routing between plugin ports",
}

var connectionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the current connections",
	RunE:  runConnectionsList,
}

var connectionsAddCmd = &cobra.Command{
	Use:   "add <source-instance> <source-port> <target-instance> <target-port>",
	Short: "Connect a source port to a target port",
	Args:  cobra.ExactArgs(4),
	RunE:  runConnectionsAdd,
}

var connectionsRemoveCmd = &cobra.Command{
	Use:   "remove <connection-id>",
	Short: "Remove a connection",
	Args:  cobra.ExactArgs(1),
	RunE:  runConnectionsRemove,
}

func init() {
	connectionsListCmd.Flags().BoolVar(&connectionsListJSON, "json", false, "Output in JSON format")
	connectionsCmd.AddCommand(connectionsListCmd, connectionsAddCmd, connectionsRemoveCmd)
	rootCmd.AddCommand(connectionsCmd)
}

func runConnectionsList(cmd *cobra.Command, args []string) error {
	result, err := callOrExplain("get_connections", nil)
	if err != nil {
		return err
	}
	conns, _ := result["connections"].([]interface{})

	if connectionsListJSON {
		return printJSON(conns)
	}

	if len(conns) == 0 {
		printer.Info("no connections\n")
		return nil
	}
	printer.Heading("%d connections", len(conns))
	for _, raw := range conns {
		conn, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		printer.Printf("  %v  %v:%v -> %v:%v\n",
			conn["id"],
			conn["source_instance"], conn["source_port"],
			conn["target_instance"], conn["target_port"])
	}
	return nil
}

func runConnectionsAdd(cmd *cobra.Command, args []string) error {
	result, err := callOrExplain("create_connection", map[string]interface{}{
		"source_instance": args[0],
		"source_port":     args[1],
		"target_instance": args[2],
		"target_port":     args[3],
	})
	if err != nil {
		return err
	}
	printer.Success("connected %s:%s -> %s:%s (id %v)\n", args[0], args[1], args[2], args[3], result["id"])
	return nil
}

func runConnectionsRemove(cmd *cobra.Command, args []string) error {
	if _, err := callOrExplain("remove_connection", map[string]interface{}{"connection_id": args[0]}); err != nil {
		return err
	}
	printer.Success("removed connection %s\n", args[0])
	return nil
}
