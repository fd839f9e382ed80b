package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/warden/am"
	"github.com/teranos/warden/cmd/warden/commands"
	"github.com/teranos/warden/errors"
	"github.com/teranos/warden/logger"
)

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "warden - function lifecycle manager",
	Long: `warden - control plane for managed functions.

Every capability (bot, analyzer, integration) is a managed function with a
lifecycle: registered, enabled, disabled, put to sleep, woken, tested,
quiesced for maintenance. warden keeps the registry consistent across
restarts and dispatches executions under a global concurrency ceiling.

Available commands:
  register / unregister     - Add or remove functions
  enable / disable / sleep  - Drive the lifecycle
  execute / test            - Invoke a function's handler
  ls / status / stats       - Inspect the registry
  audit                     - Read the audit trail
  daemon                    - Run the sleep scheduler and config watcher
  am                        - Manage warden configuration ("I am")

Examples:
  warden register scanner --type analyzer --handler builtin.echo --auto-enable
  warden execute scanner --param msg=hello
  warden ls --status sleeping
  warden daemon`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		cfg, err := am.Load()
		if err != nil {
			return errors.Wrap(err, "failed to load config")
		}

		lvl := logger.VerbosityToLevel(verbosity)
		if verbosity == 0 && cfg.Log.JSON {
			// Machine-readable runs honor the configured level
			if parsed, err := logger.ParseLevel(cfg.GetLogLevel()); err == nil {
				lvl = parsed
			}
		}
		if err := logger.InitializeAtLevel(cfg.Log.JSON, lvl); err != nil {
			return errors.Wrap(err, "failed to initialize logger")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().String("registry", "", "Registry file (overrides registry.path)")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output as JSON")

	commands.AddCommands(rootCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", errors.Reason(err))
		os.Exit(1)
	}
}
