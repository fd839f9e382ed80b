// Package commands implements the warden CLI.
package commands

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teranos/warden/am"
	"github.com/teranos/warden/db"
	"github.com/teranos/warden/errors"
	"github.com/teranos/warden/handlers"
	"github.com/teranos/warden/logger"
	"github.com/teranos/warden/manager"
	"github.com/teranos/warden/pulse/dispatch"
	"github.com/teranos/warden/telemetry"
	"github.com/teranos/warden/version"
)

// AddCommands attaches every warden command to root.
func AddCommands(root *cobra.Command) {
	root.AddCommand(
		RegisterCmd, UnregisterCmd,
		EnableCmd, DisableCmd, SleepCmd, ForceSleepCmd, WakeCmd, MaintenanceCmd,
		ExecuteCmd, TestCmd,
		LsCmd, StatusCmd, StatsCmd,
		AuditCmd, DaemonCmd,
		AmCmd, VersionCmd,
	)
}

// session is an opened manager plus the resources it was built on.
type session struct {
	cfg   *am.Config
	m     *manager.Manager
	audit *sql.DB
}

// openSession builds a manager from the loaded configuration. The scheduler only runs when
// background is set; one-shot commands apply their change and flush on Close.
func openSession(cmd *cobra.Command, background bool, extra ...telemetry.Emitter) (*session, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	opts := manager.OptionsFromConfig(cfg)
	if path, _ := cmd.Flags().GetString("registry"); path != "" {
		opts.RegistryPath = path
	}
	opts.ManagerVersion = version.Get().ManagerVersion(cfg.Manager.Version)
	opts.SchedulerEnabled = background && cfg.Scheduler.Enabled
	opts.Logger = logger.Logger

	s := &session{cfg: cfg}
	emitters := telemetry.Multi(extra)
	if cfg.Telemetry.AuditDBPath != "" {
		conn, err := db.OpenWithMigrations(cfg.Telemetry.AuditDBPath, logger.Logger)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open audit database %s", cfg.Telemetry.AuditDBPath)
		}
		s.audit = conn
		emitters = append(emitters, telemetry.NewAuditSink(conn, logger.Logger))
	}
	if len(emitters) > 0 {
		opts.Emitter = emitters
	}

	m, err := manager.New(opts)
	if err != nil {
		s.closeAudit()
		return nil, err
	}
	handlers.ProvideAll(m.ProvideHandler)
	s.m = m
	return s, nil
}

// Close flushes the registry and releases the audit database.
func (s *session) Close() error {
	err := s.m.Close()
	s.closeAudit()
	return err
}

func (s *session) closeAudit() {
	if s.audit != nil {
		s.audit.Close()
	}
}

// withSession runs fn against a one-shot session and closes it afterwards.
func withSession(cmd *cobra.Command, fn func(*session) error) error {
	s, err := openSession(cmd, false)
	if err != nil {
		return err
	}
	runErr := fn(s)
	if closeErr := s.Close(); closeErr != nil && runErr == nil {
		return closeErr
	}
	return runErr
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to format JSON")
	}
	fmt.Println(string(data))
	return nil
}

// parseParams merges --params JSON with repeated --param key=value flags.
// Values that parse as JSON (numbers, booleans, objects) keep their type.
func parseParams(cmd *cobra.Command) (dispatch.Params, error) {
	params := dispatch.Params{}

	if raw, _ := cmd.Flags().GetString("params"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			return nil, errors.WithHint(
				errors.Wrap(err, "invalid --params"),
				`pass a JSON object, for example --params '{"ms": 100}'`,
			)
		}
	}

	pairs, _ := cmd.Flags().GetStringArray("param")
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, errors.NewInvalidRequestError("invalid --param %q (want key=value)", pair)
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			params[key] = decoded
		} else {
			params[key] = value
		}
	}
	return params, nil
}
