package commands

import (
	"github.com/spf13/cobra"

	"github.com/tonewire/tonewire/internal/printer"
)

var (
	boardListJSON    bool
	boardDescription string
)

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Manage pedalboards",
}

var boardNewCmd = &cobra.Command{
	Use:   "new <name>",
	Short: "Create a new pedalboard, replacing the current one",
	Args:  cobra.ExactArgs(1),
	RunE:  runBoardNew,
}

var boardSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save the current pedalboard to disk",
	RunE:  runBoardSave,
}

var boardLoadCmd = &cobra.Command{
	Use:   "load <pedalboard-id>",
	Short: "Load a saved pedalboard, replacing the session",
	RunE:  runBoardLoad,
	Args:  cobra.ExactArgs(1),
}

var boardListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved pedalboards",
	RunE:  runBoardList,
}

var boardShowCmd = &cobra.Command{
	Use:   "show [pedalboard-id]",
	Short: "Show the current pedalboard, or a saved one by id",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBoardShow,
}

var boardDeleteCmd = &cobra.Command{
	Use:   "delete <pedalboard-id>",
	Short: "Delete a saved pedalboard",
	Args:  cobra.ExactArgs(1),
	RunE:  runBoardDelete,
}

var boardExportCmd = &cobra.Command{
	Use:   "export <pedalboard-id> <path>",
	Short: "Export a saved pedalboard to a file",
	Args:  cobra.ExactArgs(2),
	RunE:  runBoardExport,
}

var boardImportCmd = &cobra.Command{
	Use:   "import <path>",
	Short: "Import a pedalboard file into the store",
	Args:  cobra.ExactArgs(1),
	RunE:  runBoardImport,
}

var boardWireCmd = &cobra.Command{
	Use:   "wire",
	Short: "Wire system I/O to the ends of the current chain",
	RunE:  runBoardWire,
}

func init() {
	boardNewCmd.Flags().StringVar(&boardDescription, "description", "", "pedalboard description")
	boardListCmd.Flags().BoolVar(&boardListJSON, "json", false, "Output in JSON format")

	boardCmd.AddCommand(boardNewCmd, boardSaveCmd, boardLoadCmd, boardListCmd,
		boardShowCmd, boardDeleteCmd, boardExportCmd, boardImportCmd, boardWireCmd)
	rootCmd.AddCommand(boardCmd)
}

func runBoardNew(cmd *cobra.Command, args []string) error {
	result, err := callOrExplain("create_pedalboard", map[string]interface{}{
		"name": args[0], "description": boardDescription,
	})
	if err != nil {
		return err
	}
	printer.Success("created pedalboard %q (id %v)\n", args[0], result["id"])
	return nil
}

func runBoardSave(cmd *cobra.Command, args []string) error {
	result, err := callOrExplain("save_pedalboard", nil)
	if err != nil {
		return err
	}
	printer.Success("saved pedalboard %v (id %v)\n", result["name"], result["id"])
	return nil
}

func runBoardLoad(cmd *cobra.Command, args []string) error {
	result, err := callOrExplain("load_pedalboard", map[string]interface{}{"pedalboard_id": args[0]})
	if err != nil {
		return err
	}
	printer.Success("loaded pedalboard %v\n", result["name"])
	printer.Field("io strategy", result["strategy"])
	if failures, ok := result["plugin_failures"].([]interface{}); ok && len(failures) > 0 {
		printer.Warning("%d plugins failed to load\n", len(failures))
		for _, failure := range failures {
			printer.Printf("    %v\n", failure)
		}
	}
	if failures, ok := result["connection_failures"].([]interface{}); ok && len(failures) > 0 {
		printer.Warning("%d connections were not recreated\n", len(failures))
	}
	return nil
}

func runBoardList(cmd *cobra.Command, args []string) error {
	result, err := callOrExplain("list_pedalboards", nil)
	if err != nil {
		return err
	}
	boards, _ := result["pedalboards"].([]interface{})

	if boardListJSON {
		return printJSON(boards)
	}

	if len(boards) == 0 {
		printer.Info("no saved pedalboards\n")
		return nil
	}
	printer.Heading("%d saved pedalboards", len(boards))
	for _, raw := range boards {
		board, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		printer.Printf("  %v  %v\n", board["id"], board["name"])
	}
	return nil
}

func runBoardShow(cmd *cobra.Command, args []string) error {
	params := map[string]interface{}{}
	if len(args) == 1 {
		params["pedalboard_id"] = args[0]
	}
	result, err := callOrExplain("get_pedalboard", params)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func runBoardDelete(cmd *cobra.Command, args []string) error {
	if _, err := callOrExplain("delete_pedalboard", map[string]interface{}{"pedalboard_id": args[0]}); err != nil {
		return err
	}
	printer.Success("deleted pedalboard %s\n", args[0])
	return nil
}

func runBoardExport(cmd *cobra.Command, args []string) error {
	if _, err := callOrExplain("export_pedalboard", map[string]interface{}{
		"pedalboard_id": args[0], "path": args[1],
	}); err != nil {
		return err
	}
	printer.Success("exported %s to %s\n", args[0], args[1])
	return nil
}

func runBoardImport(cmd *cobra.Command, args []string) error {
	result, err := callOrExplain("import_pedalboard", map[string]interface{}{"path": args[0]})
	if err != nil {
		return err
	}
	printer.Success("imported pedalboard %v (id %v)\n", result["name"], result["id"])
	return nil
}

func runBoardWire(cmd *cobra.Command, args []string) error {
	result, err := callOrExplain("setup_system_io_connections", nil)
	if err != nil {
		return err
	}
	printer.Success("system I/O wired (%v attempts)\n", result["attempts"])
	if failures, ok := result["failures"].([]interface{}); ok && len(failures) > 0 {
		printer.Warning("%d wires failed\n", len(failures))
		for _, failure := range failures {
			printer.Printf("    %v\n", failure)
		}
	}
	return nil
}
