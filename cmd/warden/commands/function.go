package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/warden/errors"
	"github.com/teranos/warden/function"
	"github.com/teranos/warden/manager"
)

// RegisterCmd registers a function
var RegisterCmd = &cobra.Command{
	Use:   "register <function-id>",
	Short: "Register a managed function",
	Long: `Register a function in the registry.

The function starts enabled with --auto-enable, otherwise disabled. Registering
an existing function_id fails unless --overwrite is given, which replaces the
metadata but keeps status and counters.

Examples:
  warden register scanner --type analyzer --handler builtin.echo --auto-enable
  warden register core --critical --sleep-after-hours 6 --depends scanner
  warden register plugin-x --version 1.2.0 --requires ">= 2.0.0"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := specFromFlags(cmd, args[0])
		if err != nil {
			return err
		}
		var opts []manager.RegisterOption
		if overwrite, _ := cmd.Flags().GetBool("overwrite"); overwrite {
			opts = append(opts, manager.WithOverwrite())
		}

		return withSession(cmd, func(s *session) error {
			created, err := s.m.Register(cmd.Context(), spec, opts...)
			if err != nil {
				return err
			}
			rec, _ := s.m.Get(spec.FunctionID)
			if jsonOutput(cmd) {
				return printJSON(rec)
			}
			if created {
				pterm.Success.Printf("Registered %s (%s)\n", rec.FunctionID, rec.Status)
			} else {
				pterm.Success.Printf("Updated metadata of %s (status %s kept)\n", rec.FunctionID, rec.Status)
			}
			return nil
		})
	},
}

// UnregisterCmd removes a function
var UnregisterCmd = &cobra.Command{
	Use:   "unregister <function-id>",
	Short: "Remove a function from the registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(s *session) error {
			if !s.m.Unregister(cmd.Context(), args[0]) {
				return errors.NewNotFoundError("function not found: %s", args[0])
			}
			pterm.Success.Printf("Unregistered %s\n", args[0])
			return nil
		})
	},
}

func specFromFlags(cmd *cobra.Command, id string) (function.Spec, error) {
	flags := cmd.Flags()
	name, _ := flags.GetString("name")
	description, _ := flags.GetString("description")
	functionType, _ := flags.GetString("type")
	security, _ := flags.GetString("security")
	critical, _ := flags.GetBool("critical")
	autoEnable, _ := flags.GetBool("auto-enable")
	depends, _ := flags.GetStringSlice("depends")
	sleepAfter, _ := flags.GetFloat64("sleep-after-hours")
	noAutoSleep, _ := flags.GetBool("no-auto-sleep")
	handlerRef, _ := flags.GetString("handler")
	ver, _ := flags.GetString("version")
	requires, _ := flags.GetString("requires")

	level, err := function.ParseSecurityLevel(security)
	if err != nil {
		return function.Spec{}, err
	}

	return function.Spec{
		FunctionID:    id,
		Name:          name,
		Description:   description,
		FunctionType:  functionType,
		SecurityLevel: level,
		IsCritical:    critical,
		AutoEnable:    autoEnable,
		Dependencies:  depends,
		SleepPolicy:   function.SleepPolicy{AutoSleep: !noAutoSleep, SleepAfterHours: sleepAfter},
		HandlerRef:    handlerRef,
		Version:       ver,
		Requires:      requires,
	}, nil
}

func init() {
	addSpecFlags(RegisterCmd)
	RegisterCmd.Flags().Bool("overwrite", false, "Replace the metadata of an existing function")
}

// addSpecFlags declares the flags read by specFromFlags.
func addSpecFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("name", "", "Display name (defaults to the function id)")
	f.String("description", "", "Description")
	f.String("type", "", "Function type, for example ai_agent, bot, microservice")
	f.String("security", "medium", "Security level: low, medium, high, critical")
	f.Bool("critical", false, "Exempt from automatic sleep")
	f.Bool("auto-enable", false, "Enable immediately")
	f.StringSlice("depends", nil, "Functions that must be available before this one runs")
	f.Float64("sleep-after-hours", function.DefaultSleepPolicy().SleepAfterHours, "Idle hours before automatic sleep")
	f.Bool("no-auto-sleep", false, "Never put this function to sleep automatically")
	f.String("handler", "", "Handler reference, for example builtin.echo")
	f.String("version", "", "Function version (semver)")
	f.String("requires", "", "Manager version constraint, for example \">= 2.0.0\"")
}
