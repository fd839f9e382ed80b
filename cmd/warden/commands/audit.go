package commands

import (
	"database/sql"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/warden/am"
	"github.com/teranos/warden/db"
	"github.com/teranos/warden/errors"
	"github.com/teranos/warden/logger"
	"github.com/teranos/warden/sym"
	"github.com/teranos/warden/telemetry"
)

// AuditCmd shows the persisted audit trail of a function
var AuditCmd = &cobra.Command{
	Use:   "audit <function-id>",
	Short: sym.Audit + " Show the audit trail of a function",
	Long: `Show recent events recorded for a function, newest first.

Requires telemetry.audit_db_path to be configured.

Examples:
  warden audit scanner
  warden audit scanner --limit 200 --json
  warden audit prune --older-than 720h`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withAuditDB(func(conn *sql.DB) error {
			sink := telemetry.NewAuditSink(conn, logger.Logger)
			events, err := sink.Recent(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(events)
			}
			if len(events) == 0 {
				pterm.Info.Printf("No audit events for %s\n", args[0])
				return nil
			}
			for _, e := range events {
				line := pterm.Sprintf("%s  %-18s %s", e.Timestamp.Local().Format(time.DateTime), e.EventType, e.Status)
				if e.PrevStatus != "" && e.PrevStatus != e.Status {
					line = pterm.Sprintf("%s  %-18s %s -> %s", e.Timestamp.Local().Format(time.DateTime), e.EventType, e.PrevStatus, e.Status)
				}
				if e.Trigger != "" {
					line += pterm.Gray(" (" + e.Trigger + ")")
				}
				if e.Duration > 0 {
					line += pterm.Sprintf(" %s", e.Duration)
				}
				if e.Failed() {
					line += " " + pterm.Red(e.ErrorKind+": "+e.Error)
				}
				pterm.Println(line)
			}
			return nil
		})
	},
}

var auditPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete audit events older than a cutoff",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		if olderThan <= 0 {
			return errors.NewInvalidRequestError("--older-than must be positive, got %s", olderThan)
		}
		return withAuditDB(func(conn *sql.DB) error {
			sink := telemetry.NewAuditSink(conn, logger.Logger)
			n, err := sink.Prune(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			pterm.Success.Printf("Pruned %d audit events older than %s\n", n, olderThan)
			return nil
		})
	},
}

func withAuditDB(fn func(*sql.DB) error) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	path := cfg.Telemetry.AuditDBPath
	if path == "" {
		return errors.WithHint(
			errors.New("audit trail is disabled"),
			"set telemetry.audit_db_path, for example: warden am set telemetry.audit_db_path warden_audit.db",
		)
	}
	conn, err := db.OpenWithMigrations(path, logger.Logger)
	if err != nil {
		return errors.Wrapf(err, "failed to open audit database %s", path)
	}
	defer conn.Close()
	return fn(conn)
}

func init() {
	AuditCmd.Flags().Int("limit", 50, "Maximum events to show")
	auditPruneCmd.Flags().Duration("older-than", 30*24*time.Hour, "Delete events older than this")
	AuditCmd.AddCommand(auditPruneCmd)
}
