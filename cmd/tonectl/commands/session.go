package commands

import (
	"github.com/spf13/cobra"

	"github.com/tonewire/tonewire/internal/printer"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Control the whole audio session",
}

var sessionResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear all plugins and connections and reset the engine",
	RunE:  runSessionReset,
}

var sessionInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Reset and re-initialize the engine's audio subsystem",
	RunE:  runSessionInit,
}

var sessionMuteCmd = &cobra.Command{
	Use:   "mute",
	Short: "Mute audio output",
	RunE:  runSessionMute,
}

var sessionUnmuteCmd = &cobra.Command{
	Use:   "unmute",
	Short: "Unmute audio output",
	RunE:  runSessionUnmute,
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Capture and recall parameter snapshots",
}

var snapshotCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Capture every loaded plugin's parameter values",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotCreate,
}

var snapshotApplyCmd = &cobra.Command{
	Use:   "apply <name>",
	Short: "Replay a captured snapshot's parameter values",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotApply,
}

func init() {
	sessionCmd.AddCommand(sessionResetCmd, sessionInitCmd, sessionMuteCmd, sessionUnmuteCmd)
	snapshotCmd.AddCommand(snapshotCreateCmd, snapshotApplyCmd)
	rootCmd.AddCommand(sessionCmd, snapshotCmd)
}

func runSessionReset(cmd *cobra.Command, args []string) error {
	if _, err := callOrExplain("reset_session", nil); err != nil {
		return err
	}
	printer.Success("session reset\n")
	return nil
}

func runSessionInit(cmd *cobra.Command, args []string) error {
	if _, err := callOrExplain("initialize_session", nil); err != nil {
		return err
	}
	printer.Success("session initialized\n")
	return nil
}

func runSessionMute(cmd *cobra.Command, args []string) error {
	if _, err := callOrExplain("mute_session", nil); err != nil {
		return err
	}
	printer.Success("audio muted\n")
	return nil
}

func runSessionUnmute(cmd *cobra.Command, args []string) error {
	if _, err := callOrExplain("unmute_session", nil); err != nil {
		return err
	}
	printer.Success("audio unmuted\n")
	return nil
}

func runSnapshotCreate(cmd *cobra.Command, args []string) error {
	result, err := callOrExplain("create_snapshot", map[string]interface{}{"name": args[0]})
	if err != nil {
		return err
	}
	printer.Success("snapshot %q captured (%v instances)\n", args[0], result["instances"])
	return nil
}

func runSnapshotApply(cmd *cobra.Command, args []string) error {
	result, err := callOrExplain("apply_snapshot", map[string]interface{}{"name": args[0]})
	if err != nil {
		return err
	}
	printer.Success("snapshot %q applied (%v parameters, %v failed)\n",
		args[0], result["applied"], result["failed"])
	return nil
}
