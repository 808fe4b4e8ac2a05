package cmd

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/huntplane/huntplane/internal/database"
	"github.com/huntplane/huntplane/internal/safety"
)

var killswitchCmd = &cobra.Command{
	Use:   "killswitch",
	Short: "Control the global emergency stop",
}

var killswitchStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show kill switch state",
	RunE:  runKillswitchStatus,
}

var killswitchActivateCmd = &cobra.Command{
	Use:   "activate <reason>",
	Short: "Engage the kill switch and stop all running jobs",
	Long: `Engage the global kill switch. All running and queued test jobs are
force-stopped and no new jobs can be submitted until the switch is
released.

Example:
  huntplane killswitch activate "program owner asked us to stop"`,
	Args: cobra.ExactArgs(1),
	RunE: runKillswitchActivate,
}

var killswitchDeactivateCmd = &cobra.Command{
	Use:   "deactivate",
	Short: "Release the kill switch",
	RunE:  runKillswitchDeactivate,
}

func init() {
	rootCmd.AddCommand(killswitchCmd)
	killswitchCmd.AddCommand(killswitchStatusCmd)
	killswitchCmd.AddCommand(killswitchActivateCmd)
	killswitchCmd.AddCommand(killswitchDeactivateCmd)
}

func runKillswitchStatus(cmd *cobra.Command, args []string) error {
	store, err := database.NewStore(cfg.Database)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer store.Close()

	state, err := store.GetKillSwitch(context.Background())
	if err != nil {
		return err
	}

	if state.Active {
		color.Red("KILL SWITCH ACTIVE")
		fmt.Printf("  Reason: %s\n", state.Reason)
		if state.ActivatedAt != nil {
			fmt.Printf("  Since:  %s\n", state.ActivatedAt.Format("2006-01-02 15:04:05 MST"))
		}
	} else {
		color.Green("Kill switch inactive")
		if state.DeactivatedAt != nil {
			fmt.Printf("  Last released: %s\n", state.DeactivatedAt.Format("2006-01-02 15:04:05 MST"))
		}
	}
	return nil
}

func runKillswitchActivate(cmd *cobra.Command, args []string) error {
	store, err := database.NewStore(cfg.Database)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer store.Close()

	stopped, err := safety.Activate(context.Background(), store, log, args[0])
	if err != nil {
		return err
	}

	color.Red("Kill switch activated")
	fmt.Printf("  Jobs stopped: %d\n", stopped)
	return nil
}

func runKillswitchDeactivate(cmd *cobra.Command, args []string) error {
	store, err := database.NewStore(cfg.Database)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer store.Close()

	if err := safety.Deactivate(context.Background(), store, log); err != nil {
		return err
	}

	color.Green("Kill switch released")
	return nil
}
