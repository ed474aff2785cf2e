package commands

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findCommand(t *testing.T, parent *cobra.Command, name string) *cobra.Command {
	t.Helper()
	for _, sub := range parent.Commands() {
		if sub.Name() == name {
			return sub
		}
	}
	t.Fatalf("command %q not registered under %q", name, parent.Name())
	return nil
}

// TestCommandTree pins the CLI surface: every verb an operator relies on
// must be registered.
func TestCommandTree(t *testing.T) {
	findCommand(t, rootCmd, "status")

	plugins := findCommand(t, rootCmd, "plugins")
	for _, name := range []string{"list", "load", "unload", "enable", "param"} {
		findCommand(t, plugins, name)
	}

	connections := findCommand(t, rootCmd, "connections")
	for _, name := range []string{"list", "add", "remove"} {
		findCommand(t, connections, name)
	}

	board := findCommand(t, rootCmd, "board")
	for _, name := range []string{"new", "save", "load", "list", "show", "delete", "export", "import", "wire"} {
		findCommand(t, board, name)
	}

	session := findCommand(t, rootCmd, "session")
	for _, name := range []string{"reset", "init", "mute", "unmute"} {
		findCommand(t, session, name)
	}

	snapshot := findCommand(t, rootCmd, "snapshot")
	for _, name := range []string{"create", "apply"} {
		findCommand(t, snapshot, name)
	}
}

func TestConnectionFlagDefaults(t *testing.T) {
	flag := rootCmd.PersistentFlags().Lookup("service")
	require.NotNil(t, flag)
	assert.Equal(t, "pedal_host", flag.DefValue)

	flag = rootCmd.PersistentFlags().Lookup("base-port")
	require.NotNil(t, flag)
	assert.Equal(t, "5555", flag.DefValue)
}

func TestPluginsEnableRejectsBadToggle(t *testing.T) {
	err := runPluginsEnable(pluginsEnableCmd, []string{"inst-1", "maybe"})
	require.Error(t, err)
	assert.Equal(t, "Invalid argument", err.Error())
}
