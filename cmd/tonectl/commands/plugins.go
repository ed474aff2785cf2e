package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonewire/tonewire/internal/printer"
)

var (
	pluginsListJSON  bool
	pluginLoadX      float64
	pluginLoadY      float64
	pluginLoadParams []string
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "Inspect and manage plugin instances",
}

var pluginsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the plugins the engine can load",
	RunE:  runPluginsList,
}

var pluginsLoadCmd = &cobra.Command{
	Use:   "load <uri>",
	Short: "Load a plugin instance",
	Long: `Load a plugin by catalog URI. Initial parameter values may be given
with repeated --param symbol=value flags; unknown symbols are skipped by
the daemon, not fatal.`,
	Args: cobra.ExactArgs(1),
	RunE: runPluginsLoad,
}

var pluginsUnloadCmd = &cobra.Command{
	Use:   "unload <instance-id>",
	Short: "Unload a plugin instance",
	Args:  cobra.ExactArgs(1),
	RunE:  runPluginsUnload,
}

var pluginsEnableCmd = &cobra.Command{
	Use:   "enable <instance-id> <on|off>",
	Short: "Toggle a plugin instance's bypass state",
	Args:  cobra.ExactArgs(2),
	RunE:  runPluginsEnable,
}

var pluginsParamCmd = &cobra.Command{
	Use:   "param <instance-id> <symbol> [value]",
	Short: "Get or set a parameter value",
	Long: `With two arguments, read the parameter's current value. With a third,
set it. The symbol must be one of the instance's addressable parameters.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runPluginsParam,
}

func init() {
	pluginsListCmd.Flags().BoolVar(&pluginsListJSON, "json", false, "Output in JSON format")
	pluginsLoadCmd.Flags().Float64Var(&pluginLoadX, "x", 0, "UI x position")
	pluginsLoadCmd.Flags().Float64Var(&pluginLoadY, "y", 0, "UI y position")
	pluginsLoadCmd.Flags().StringArrayVar(&pluginLoadParams, "param", nil, "initial parameter as symbol=value, repeatable")

	pluginsCmd.AddCommand(pluginsListCmd, pluginsLoadCmd, pluginsUnloadCmd, pluginsEnableCmd, pluginsParamCmd)
	rootCmd.AddCommand(pluginsCmd)
}

func runPluginsList(cmd *cobra.Command, args []string) error {
	result, err := callOrExplain("get_available_plugins", nil)
	if err != nil {
		return err
	}
	entries, _ := result["plugins"].([]interface{})

	if pluginsListJSON {
		return printJSON(entries)
	}

	if len(entries) == 0 {
		printer.Info("no plugins in the catalog (engine offline at startup?)\n")
		return nil
	}
	printer.Heading("%d plugins available", len(entries))
	for _, raw := range entries {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		printer.Printf("  %v", entry["uri"])
		if name, _ := entry["name"].(string); name != "" {
			printer.Printf("  (%s)", name)
		}
		printer.Println()
	}
	return nil
}

func runPluginsLoad(cmd *cobra.Command, args []string) error {
	params := map[string]interface{}{
		"uri": args[0],
		"x":   pluginLoadX,
		"y":   pluginLoadY,
	}
	if len(pluginLoadParams) > 0 {
		initial := map[string]interface{}{}
		for _, pair := range pluginLoadParams {
			symbol, raw, found := strings.Cut(pair, "=")
			if !found {
				return printer.Error("Invalid --param value",
					fmt.Sprintf("%q is not of the form symbol=value", pair), nil)
			}
			value, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return printer.Error("Invalid --param value",
					fmt.Sprintf("%q is not a number", raw), nil)
			}
			initial[symbol] = value
		}
		params["parameters"] = initial
	}

	result, err := callOrExplain("load_plugin", params)
	if err != nil {
		return err
	}
	printer.Success("loaded %v as instance %v\n", args[0], result["instance_id"])
	return nil
}

func runPluginsUnload(cmd *cobra.Command, args []string) error {
	if _, err := callOrExplain("unload_plugin", map[string]interface{}{"instance_id": args[0]}); err != nil {
		return err
	}
	printer.Success("unloaded instance %s\n", args[0])
	return nil
}

func runPluginsEnable(cmd *cobra.Command, args []string) error {
	var enabled bool
	switch args[1] {
	case "on":
		enabled = true
	case "off":
		enabled = false
	default:
		return printer.Error("Invalid argument",
			fmt.Sprintf("expected 'on' or 'off', got %q", args[1]), nil)
	}

	if _, err := callOrExplain("enable_plugin", map[string]interface{}{
		"instance_id": args[0], "enabled": enabled,
	}); err != nil {
		return err
	}
	if enabled {
		printer.Success("instance %s enabled\n", args[0])
	} else {
		printer.Success("instance %s bypassed\n", args[0])
	}
	return nil
}

func runPluginsParam(cmd *cobra.Command, args []string) error {
	if len(args) == 2 {
		result, err := callOrExplain("get_parameter", map[string]interface{}{
			"instance_id": args[0], "symbol": args[1],
		})
		if err != nil {
			return err
		}
		printer.Printf("%v\n", result["value"])
		return nil
	}

	value, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return printer.Error("Invalid value", fmt.Sprintf("%q is not a number", args[2]), nil)
	}
	if _, err := callOrExplain("set_parameter", map[string]interface{}{
		"instance_id": args[0], "symbol": args[1], "value": value,
	}); err != nil {
		return err
	}
	printer.Success("%s.%s = %g\n", args[0], args[1], value)
	return nil
}
