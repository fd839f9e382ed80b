package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/warden/am"
	"github.com/teranos/warden/errors"
	"github.com/teranos/warden/logger"
	"github.com/teranos/warden/sym"
	"github.com/teranos/warden/telemetry"
	"github.com/teranos/warden/version"
)

// DaemonCmd runs the manager in the foreground with the sleep scheduler
var DaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: sym.Daemon + " Run the lifecycle manager in the foreground",
	Long: `Run the lifecycle manager in the foreground.

The daemon:
- Runs the automatic sleep pass every scheduler.sleep_check_interval_seconds
- Exports OpenTelemetry metrics when telemetry.otlp_endpoint is set
- Records the audit trail when telemetry.audit_db_path is set
- Reloads am.toml on change (sleep interval, timeouts and error policy)
- Flushes the registry and exits cleanly on Ctrl+C or SIGTERM`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	info := version.Get()

	var extra []telemetry.Emitter
	shutdownMetrics := telemetry.Shutdown(func(context.Context) error { return nil })
	var registerGauges func(telemetry.GaugeSource) error
	if cfg.Telemetry.MetricsEnabled {
		mp, shutdown, err := telemetry.InitMetrics(ctx, cfg.Telemetry.OTLPEndpoint, info.Version, cfg.Telemetry.OTLPInsecure)
		if err != nil {
			return errors.Wrap(err, "failed to initialize metrics")
		}
		shutdownMetrics = shutdown
		meter := mp.Meter(telemetry.MeterName)
		emitter, err := telemetry.NewMetricsEmitter(meter)
		if err != nil {
			return errors.Wrap(err, "failed to create metric instruments")
		}
		extra = append(extra, emitter)
		registerGauges = func(src telemetry.GaugeSource) error {
			return telemetry.RegisterGauges(meter, src)
		}
	}
	defer func() {
		flushCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := shutdownMetrics(flushCtx); err != nil {
			logger.Warnw("Metrics shutdown failed", logger.FieldError, err.Error())
		}
	}()

	s, err := openSession(cmd, true, extra...)
	if err != nil {
		return err
	}
	defer s.Close()

	if registerGauges != nil {
		if err := registerGauges(s.m); err != nil {
			return errors.Wrap(err, "failed to register gauges")
		}
	}
	if err := s.m.LoadError(); err != nil {
		pterm.Warning.Printf("Registry was unreadable and has been quarantined: %s\n", errors.Reason(err))
	}

	if path := am.ActiveConfigFile(); path != "" {
		watcher, err := am.NewConfigWatcher(path)
		if err != nil {
			logger.Warnw("Config hot reload disabled", logger.FieldPath, path, logger.FieldError, err.Error())
		} else {
			watcher.OnReload(s.m.ApplyConfig)
			am.SetGlobalWatcher(watcher)
			watcher.Start()
			defer watcher.Stop()
		}
	}

	if err := s.m.Start(); err != nil {
		return err
	}

	stats := s.m.Stats()
	pterm.Success.Printf("%s warden %s managing %d functions\n", sym.Daemon, info.Version, stats.Functions)
	pterm.Printf("  Registry:       %s %s\n", sym.DB, stats.RegistryPath)
	if s.cfg.Scheduler.Enabled {
		pterm.Printf("  Sleep pass:     every %s\n", s.cfg.SleepCheckInterval())
	} else {
		pterm.Printf("  Sleep pass:     disabled\n")
	}
	pterm.Printf("  Max concurrent: %d (%s)\n", s.cfg.Dispatcher.MaxConcurrent, s.cfg.Dispatcher.Overflow)
	if s.cfg.Telemetry.OTLPEndpoint != "" {
		pterm.Printf("  Metrics:        %s\n", s.cfg.Telemetry.OTLPEndpoint)
	}
	if s.audit != nil {
		pterm.Printf("  Audit trail:    %s\n", s.cfg.Telemetry.AuditDBPath)
	}
	pterm.Printf("\nPress Ctrl+C to stop\n\n")

	<-ctx.Done()

	pterm.Info.Println("Shutting down, flushing registry...")
	return nil
}
