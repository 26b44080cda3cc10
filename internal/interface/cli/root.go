package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/mdtxn/internal/app/config"
	infraConfig "github.com/YoshitsuguKoike/mdtxn/internal/infra/config"
	"github.com/YoshitsuguKoike/mdtxn/internal/infrastructure/di"
	"github.com/YoshitsuguKoike/mdtxn/internal/interface/cli/version"
)

// globalConfig holds the loaded configuration for all commands
var globalConfig config.Config

// NewRoot builds the mdtxn command tree
func NewRoot() *cobra.Command {
	var home, logLevel string

	cmd := &cobra.Command{
		Use:           "mdtxn",
		Short:         "Distributed metadata update transactions",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Priority: --home > MDTXN_HOME > .mdtxn
			baseDir := infraConfig.ResolveHome(home)

			cfg, err := infraConfig.LoadSettings(baseDir)
			if err != nil {
				return err
			}
			globalConfig = cfg

			level := cfg.LogLevel()
			if logLevel != "" {
				level = logLevel
			}
			configureLogging(level, cmd.ErrOrStderr())

			Debug("Configuration loaded source=%s home=%s devices=%d", cfg.ConfigSource(), cfg.Home(), len(cfg.Devices()))
			return nil
		},
		RunE: func(c *cobra.Command, _ []string) error { return c.Help() },
	}
	cmd.PersistentFlags().StringVar(&home, "home", "", "home directory holding setting.yaml (env: MDTXN_HOME)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "stderr log level: debug, info, warn, error")

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newApplyCmd())
	cmd.AddCommand(newRenameCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newInspectCmd())
	cmd.AddCommand(newJournalCmd())
	cmd.AddCommand(newRecoverCmd())
	cmd.AddCommand(newMetricsCmd())
	cmd.AddCommand(version.NewCommand())
	return cmd
}

// withContainer opens the configured devices, runs fn and closes them again.
// When flush is set the counters of this run are added to the metrics snapshot.
func withContainer(ctx context.Context, flush bool, fn func(c *di.Container) error) error {
	if globalConfig == nil {
		return fmt.Errorf("configuration not loaded")
	}
	c, err := di.NewContainer(ctx, di.Config{App: globalConfig})
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			Warn("Failed to close devices: %v", err)
		}
	}()

	runErr := fn(c)
	if flush {
		if _, err := c.FlushMetrics(); err != nil {
			Warn("Failed to save metrics path=%s error=%v", globalConfig.MetricsPath(), err)
		}
	}
	return runErr
}
