package commands

import (
	"context"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/warden/function"
	"github.com/teranos/warden/manager"
)

type lifecycleOp func(*manager.Manager, context.Context, string) (function.Transition, error)

// lifecycleCmd builds a command applying op to each function id given.
func lifecycleCmd(use, short string, op lifecycleOp) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <function-id>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(s *session) error {
				return applyAll(cmd, s, op, args)
			})
		},
	}
}

func applyAll(cmd *cobra.Command, s *session, op lifecycleOp, ids []string) error {
	var results []function.Transition
	for _, id := range ids {
		tr, err := op(s.m, cmd.Context(), id)
		if err != nil {
			return err
		}
		results = append(results, tr)
	}

	if jsonOutput(cmd) {
		return printJSON(results)
	}
	for _, tr := range results {
		if tr.Changed {
			pterm.Success.Printf("%s: %s -> %s\n", tr.FunctionID, tr.From, tr.To)
		} else {
			pterm.Info.Printf("%s: already %s, nothing to do\n", tr.FunctionID, tr.From)
		}
	}
	return nil
}

var (
	// EnableCmd enables functions; enabling a function in error also resets its error window
	EnableCmd = lifecycleCmd("enable", "Enable functions (recovers functions in error)", (*manager.Manager).Enable)
	// DisableCmd disables functions
	DisableCmd = lifecycleCmd("disable", "Disable functions", (*manager.Manager).Disable)
	// SleepCmd puts functions to sleep; critical functions refuse
	SleepCmd = lifecycleCmd("sleep", "Put functions to sleep (critical functions refuse)", (*manager.Manager).Sleep)
	// ForceSleepCmd puts functions to sleep regardless of criticality
	ForceSleepCmd = lifecycleCmd("force-sleep", "Put functions to sleep, overriding the critical exemption", (*manager.Manager).ForceSleep)
	// WakeCmd wakes sleeping functions
	WakeCmd = lifecycleCmd("wake", "Wake sleeping functions", (*manager.Manager).Wake)
)

// MaintenanceCmd groups the maintenance window commands
var MaintenanceCmd = &cobra.Command{
	Use:   "maintenance",
	Short: "Quiesce functions during external upgrades",
	Long: `Quiesce functions during external upgrades.

While in maintenance a function refuses executions and lifecycle commands other
than disable. Ending maintenance restores the status it had before.

Examples:
  warden maintenance start scanner
  warden maintenance end scanner`,
}

func init() {
	MaintenanceCmd.AddCommand(
		lifecycleCmd("start", "Begin maintenance", (*manager.Manager).BeginMaintenance),
		lifecycleCmd("end", "End maintenance and restore the prior status", (*manager.Manager).EndMaintenance),
	)
}
