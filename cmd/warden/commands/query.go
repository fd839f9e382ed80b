package commands

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/warden/function"
	"github.com/teranos/warden/query"
	"github.com/teranos/warden/sym"
)

// LsCmd lists registered functions
var LsCmd = &cobra.Command{
	Use:   "ls",
	Short: sym.Ls + " List registered functions",
	Long: `List registered functions with filters, search and pagination.

Examples:
  warden ls
  warden ls --status enabled --type scanner
  warden ls --search backup --sort last_activity --order desc
  warden ls --min-security high --critical`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := filterFromFlags(cmd)
		if err != nil {
			return err
		}
		page, _ := cmd.Flags().GetInt("page")
		size, _ := cmd.Flags().GetInt("page-size")
		sortBy, _ := cmd.Flags().GetString("sort")
		order, _ := cmd.Flags().GetString("order")

		return withSession(cmd, func(s *session) error {
			res, err := s.m.Search(filter, query.PageRequest{
				Page:     page,
				PageSize: size,
				SortBy:   sortBy,
				Order:    query.Order(order),
			})
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(res)
			}
			printPage(res)
			return nil
		})
	},
}

func filterFromFlags(cmd *cobra.Command) (query.Filter, error) {
	var filter query.Filter
	filter.FunctionType, _ = cmd.Flags().GetString("type")
	filter.Text, _ = cmd.Flags().GetString("search")

	if raw, _ := cmd.Flags().GetString("status"); raw != "" {
		st, err := function.ParseStatus(raw)
		if err != nil {
			return filter, err
		}
		filter.Status = st
	}
	if raw, _ := cmd.Flags().GetString("security"); raw != "" {
		lvl, err := function.ParseSecurityLevel(raw)
		if err != nil {
			return filter, err
		}
		filter.SecurityLevel = lvl
	}
	if raw, _ := cmd.Flags().GetString("min-security"); raw != "" {
		lvl, err := function.ParseSecurityLevel(raw)
		if err != nil {
			return filter, err
		}
		filter.MinSecurityLevel = lvl
	}
	if cmd.Flags().Changed("critical") {
		critical, _ := cmd.Flags().GetBool("critical")
		filter.Critical = query.Bool(critical)
	}
	return filter, nil
}

func printPage(p query.Page) {
	if p.Total == 0 {
		pterm.Info.Println("No functions match")
		return
	}

	rows := pterm.TableData{{"ID", "NAME", "TYPE", "SECURITY", "STATUS", "EXECUTIONS", "ERRORS", "LAST ACTIVITY"}}
	for _, r := range p.Items {
		id := r.FunctionID
		if r.IsCritical {
			id += " " + sym.Critical
		}
		rows = append(rows, []string{
			id, r.Name, r.FunctionType, string(r.SecurityLevel), colorStatus(r.Status),
			fmt.Sprintf("%d", r.ExecutionCount), fmt.Sprintf("%d", r.ErrorCount),
			r.LastActivity.Local().Format(time.DateTime),
		})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
		pterm.Error.Printf("Failed to render table: %v\n", err)
	}

	pterm.Println(pterm.Gray(strings.Join(sym.Legend(), "  ") + "  " + sym.Critical + " critical"))
	pterm.Printf("Page %d of %d (%d functions, sorted by %s %s)\n",
		p.Page, p.TotalPages, p.Total, p.SortBy, p.Order)
	if p.HasNext() {
		pterm.Println(pterm.Gray(fmt.Sprintf("Next page: --page %d", p.Page+1)))
	}
}

func colorStatus(s function.Status) string {
	label := sym.Glyph(s) + " " + string(s)
	switch s {
	case function.StatusEnabled:
		return pterm.Green(label)
	case function.StatusSleeping:
		return pterm.LightCyan(label)
	case function.StatusError:
		return pterm.Red(label)
	case function.StatusMaintenance, function.StatusTesting:
		return pterm.Yellow(label)
	default:
		return pterm.Gray(label)
	}
}

// StatusCmd shows the detailed status of one function
var StatusCmd = &cobra.Command{
	Use:   "status <function-id>",
	Short: "Show the status of a function",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(s *session) error {
			report, err := s.m.GetStatus(args[0])
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(report)
			}

			pterm.Printf("%s (%s)\n", pterm.LightCyan(report.FunctionID), report.Name)
			pterm.Printf("  Status:        %s\n", colorStatus(report.Status))
			pterm.Printf("  Type:          %s\n", report.FunctionType)
			pterm.Printf("  Security:      %s\n", report.SecurityLevel)
			pterm.Printf("  Critical:      %t\n", report.IsCritical)
			if len(report.Dependencies) > 0 {
				pterm.Printf("  Depends on:    %s\n", strings.Join(report.Dependencies, ", "))
			}
			pterm.Printf("  Handler bound: %t\n", report.HandlerBound)
			pterm.Printf("  Last activity: %s (idle %s)\n",
				report.LastActivity.Local().Format(time.DateTime), report.IdleFor.Round(time.Second))
			if report.SleepPolicy.AutoSleep {
				pterm.Printf("  Auto-sleep:    after %gh idle (due: %t)\n", report.SleepPolicy.SleepAfterHours, report.AutoSleepDue)
			} else {
				pterm.Printf("  Auto-sleep:    off\n")
			}
			c := report.Counters
			pterm.Printf("  Executions:    %d (%d ok, %d failed)\n", c.Executions, c.Successes, c.Errors)
			pterm.Printf("  Transitions:   %d sleep, %d wake\n", report.SleepTransitions, report.WakeTransitions)
			pterm.Printf("  Error window:  %.0f%%\n", report.WindowErrorRate*100)
			if t := report.LastTest; t != nil {
				outcome := pterm.Green("passed")
				if !t.OK {
					outcome = pterm.Red("failed: " + t.Error)
				}
				pterm.Printf("  Last test:     %s at %s\n", outcome, t.At.Local().Format(time.DateTime))
			}
			return nil
		})
	},
}

// StatsCmd shows registry-wide statistics
var StatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show registry statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(s *session) error {
			stats := s.m.GetStatistics()
			if jsonOutput(cmd) {
				return printJSON(struct {
					query.Statistics
					Runtime any `json:"runtime"`
				}{stats, s.m.Stats()})
			}

			pterm.Printf("Functions: %d (%d critical)\n", stats.TotalFunctions, stats.CriticalFunctions)
			printCounts("By status", stats.ByStatus)
			printCounts("By type", stats.ByType)
			printCounts("By security level", stats.BySecurityLevel)
			pterm.Printf("Executions: %d (%d ok, %d failed, %.1f%% success)\n",
				stats.TotalExecutions, stats.TotalSuccesses, stats.TotalErrors, stats.SuccessRate*100)
			pterm.Printf("Transitions: %d sleep, %d wake\n", stats.SleepTransitions, stats.WakeTransitions)

			sys := s.m.Stats().System
			if sys.MemoryTotalGB > 0 {
				pterm.Printf("Memory: %.1f / %.1f GB (%.0f%%)\n", sys.MemoryUsedGB, sys.MemoryTotalGB, sys.MemoryPercent)
			}
			return nil
		})
	},
}

func printCounts(title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pterm.Printf("%s:\n", title)
	for _, k := range keys {
		pterm.Printf("  %-12s %d\n", k, counts[k])
	}
}

func init() {
	addFilterFlags(LsCmd)
	LsCmd.Flags().Int("page", 1, "Page number (1-based)")
	LsCmd.Flags().Int("page-size", query.DefaultPageSize, "Functions per page")
	LsCmd.Flags().String("sort", "function_id", "Sort field: "+strings.Join(query.SortFields(), ", "))
	LsCmd.Flags().String("order", "asc", "Sort order: asc or desc")
}

// addFilterFlags declares the flags read by filterFromFlags.
func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().String("type", "", "Only functions of this type")
	cmd.Flags().String("status", "", "Only functions in this status")
	cmd.Flags().String("security", "", "Only functions at exactly this security level")
	cmd.Flags().String("min-security", "", "Only functions at or above this security level")
	cmd.Flags().Bool("critical", false, "Only critical (--critical) or non-critical (--critical=false) functions")
	cmd.Flags().String("search", "", "Case-insensitive substring over id, name and description")
}
