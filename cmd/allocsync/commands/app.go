package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hpcops/allocsync/pkg/config"
	"github.com/hpcops/allocsync/pkg/driver"
	"github.com/hpcops/allocsync/pkg/policy"
	"github.com/hpcops/allocsync/pkg/stores"
	"github.com/hpcops/allocsync/pkg/telemetry"
)

// app holds the collaborators of one command invocation.
type app struct {
	config    *config.Config
	telemetry *telemetry.Telemetry
	records   *stores.ColdFrontStore
	history   *stores.HistoryStore
	policy    *policy.Engine
	driver    *driver.Driver
	logger    zerolog.Logger
}

// loadConfig reads the file named by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// newTelemetry sets up logging, tracing and metrics. An explicit --verbosity
// overrides the configured log level.
func newTelemetry(cmd *cobra.Command, cfg *config.Config, version string) (*telemetry.Telemetry, error) {
	tel, err := telemetry.New(cfg.TelemetryConfig(version))
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	if cmd.Flags().Changed("verbosity") {
		tel.Logger.SetLevel(telemetry.LevelForVerbosity(verbosity))
	}
	return tel, nil
}

// openHistory opens and migrates the run history store. It returns nil when
// history is disabled.
func openHistory(ctx context.Context, cfg *config.Config) (*stores.HistoryStore, error) {
	hcfg, ok := cfg.HistoryConfig()
	if !ok {
		return nil, nil
	}
	history, err := stores.NewHistoryStore(hcfg)
	if err != nil {
		return nil, err
	}
	if err := history.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	if err := history.Migrate(ctx); err != nil {
		_ = history.Close()
		return nil, err
	}
	return history, nil
}

// newPolicyEngine compiles the built-in and site policies and applies the
// disabled list.
func newPolicyEngine(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*policy.Engine, error) {
	eng, err := policy.NewEngine(cfg.PolicySettings(), logger)
	if err != nil {
		return nil, err
	}
	if len(cfg.Policy.Paths) > 0 {
		if err := eng.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
			return nil, err
		}
	}
	for _, name := range cfg.Policy.Disabled {
		if err := eng.DisablePolicy(name); err != nil {
			return nil, fmt.Errorf("policy.disabled: %w", err)
		}
	}
	return eng, nil
}

// newApp wires the driver from the configuration.
func newApp(cmd *cobra.Command, version string) (_ *app, err error) {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	tel, err := newTelemetry(cmd, cfg, version)
	if err != nil {
		return nil, err
	}

	a := &app{
		config:    cfg,
		telemetry: tel,
		logger:    tel.Logger.Component("cli"),
	}
	defer func() {
		if err != nil {
			a.close(ctx)
		}
	}()

	a.records, err = stores.NewColdFrontStore(cfg.ColdFrontConfig(), tel.Logger.Component("coldfront"))
	if err != nil {
		return nil, err
	}
	if err := a.records.Init(ctx); err != nil {
		return nil, err
	}

	if a.history, err = openHistory(ctx, cfg); err != nil {
		return nil, err
	}

	opts := []driver.Option{driver.WithHistory(a.history)}

	if cfg.Policy.Enabled {
		if a.policy, err = newPolicyEngine(ctx, cfg, tel.Logger.Component("policy")); err != nil {
			return nil, err
		}
		opts = append(opts, driver.WithGuard(a.policy))
	}

	if cfg.Filter.Script != "" {
		filter, err := config.LoadScriptFilter(cfg.Filter.Script, cfg.Filter.Vars)
		if err != nil {
			return nil, err
		}
		opts = append(opts, driver.WithFilter(filter))
	}

	a.driver = driver.New(cfg, a.records, tel, opts...)
	return a, nil
}

// healthCheck pings the portal database and the history database.
func (a *app) healthCheck(ctx context.Context) error {
	if err := a.records.HealthCheck(ctx); err != nil {
		return fmt.Errorf("portal database: %w", err)
	}
	if a.history != nil {
		if err := a.history.HealthCheck(ctx); err != nil {
			return fmt.Errorf("history database: %w", err)
		}
	}
	return nil
}

// close releases every open store and flushes telemetry.
func (a *app) close(ctx context.Context) {
	var errs []error
	if a.records != nil {
		errs = append(errs, a.records.Close())
	}
	if a.history != nil {
		errs = append(errs, a.history.Close())
	}
	errs = append(errs, a.telemetry.Shutdown(context.WithoutCancel(ctx)))
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn().Err(err).Msg("shutdown failed")
	}
}
