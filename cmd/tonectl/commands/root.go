package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tonewire/tonewire/internal/bus"
	"github.com/tonewire/tonewire/internal/printer"
)

var (
	version string
	commit  string
	date    string
)

var (
	targetService string
	busHost       string
	basePort      int
	portSpan      int
	callTimeout   time.Duration
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tonectl",
	Short: "Tonewire - pedalboard control CLI",
	Long: `Tonectl talks to a running tonewired daemon over the service bus:
inspect and load plugins, route connections, manage pedalboards, and
control the audio session.

Connection defaults come from TONEWIRE_* environment variables (a local
.env file is honored) and can be overridden per invocation with flags.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	// A .env file supplies TONEWIRE_* defaults; absence is not an error.
	godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&targetService, "service",
		envOr("TONEWIRE_SERVICE", "pedal_host"), "bus name of the daemon to address")
	rootCmd.PersistentFlags().StringVar(&busHost, "host",
		envOr("TONEWIRE_HOST", "127.0.0.1"), "host the daemon's ports live on")
	rootCmd.PersistentFlags().IntVar(&basePort, "base-port",
		envIntOr("TONEWIRE_BASE_PORT", 5555), "bottom of the bus port range")
	rootCmd.PersistentFlags().IntVar(&portSpan, "port-span",
		envIntOr("TONEWIRE_PORT_SPAN", 1000), "width of the bus port range")
	rootCmd.PersistentFlags().DurationVar(&callTimeout, "timeout",
		10*time.Second, "per-call timeout")
}

func envOr(key, def string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return def
}

func envIntOr(key string, def int) int {
	value := os.Getenv(key)
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

// call issues one RPC to the target daemon.
func call(method string, params map[string]interface{}) (map[string]interface{}, error) {
	client := bus.NewClient("tonectl", busHost, basePort, portSpan, callTimeout)
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	return client.Call(ctx, targetService, method, params)
}

// callOrExplain wraps call with an operator-facing error when the daemon
// cannot be reached or rejects the request.
func callOrExplain(method string, params map[string]interface{}) (map[string]interface{}, error) {
	result, err := call(method, params)
	if err != nil {
		return nil, printer.Error(fmt.Sprintf("Request %q failed", method), err.Error(), []string{
			"Check that tonewired is running",
			fmt.Sprintf("Check --service (%s) and --host (%s) match the daemon's config", targetService, busHost),
		})
	}
	return result, nil
}

// printJSON renders a result for --json output.
func printJSON(v interface{}) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	printer.Println(string(raw))
	return nil
}
