package commands

import (
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// ExecuteCmd invokes a function's handler
var ExecuteCmd = &cobra.Command{
	Use:   "execute <function-id>",
	Short: "Execute a function",
	Long: `Execute a function's handler and record the outcome.

A sleeping function is woken first. Disabled, maintenance, error and testing
functions refuse the call. Parameters come from --params (a JSON object) and
repeated --param key=value flags.

Examples:
  warden execute scanner --param msg=hello
  warden execute slow --params '{"ms": 250}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := parseParams(cmd)
		if err != nil {
			return err
		}
		return withSession(cmd, func(s *session) error {
			res, err := s.m.Execute(cmd.Context(), args[0], params)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(res)
			}
			if res.Woke {
				pterm.Info.Printf("%s was sleeping and has been woken\n", res.FunctionID)
			}
			pterm.Success.Printf("%s completed in %s (execution %s)\n",
				res.FunctionID, res.Duration.Round(time.Microsecond), res.ExecutionID)
			pterm.Printf("Output: %v\n", res.Output)
			return nil
		})
	},
}

// TestCmd runs a function's handler once while holding it in testing
var TestCmd = &cobra.Command{
	Use:   "test <function-id>",
	Short: "Test a function without counting an execution",
	Long: `Invoke a function's handler once while the function is held in testing.

Only enabled and disabled functions can be tested; the prior status is restored
afterwards and the outcome is stored as last_test.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := parseParams(cmd)
		if err != nil {
			return err
		}
		return withSession(cmd, func(s *session) error {
			report, err := s.m.Test(cmd.Context(), args[0], params)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(report)
			}
			if report.OK {
				pterm.Success.Printf("%s passed in %s\n", report.FunctionID, report.Duration.Round(time.Microsecond))
				pterm.Printf("Output: %v\n", report.Output)
			} else {
				pterm.Error.Printf("%s failed (%s): %s\n", report.FunctionID, report.ErrorKind, report.Error)
			}
			return nil
		})
	},
}

func init() {
	addParamFlags(ExecuteCmd)
	addParamFlags(TestCmd)
}

// addParamFlags declares the flags read by parseParams.
func addParamFlags(cmd *cobra.Command) {
	cmd.Flags().String("params", "", "Parameters as a JSON object")
	cmd.Flags().StringArray("param", nil, "Parameter as key=value (repeatable)")
}
