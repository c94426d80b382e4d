package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ryhazerus/throttle/internal/config"
)

var (
	cfgFile string
	verbose bool

	// Loaded by the root command before any subcommand runs.
	cfg    *config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "throttle",
	Short: "Inspect and exercise adaptive client-side rate limits",
	Long: `throttle manages the persisted bucket state of the throttle library and
simulates adaptive pacing against a rate-limited upstream.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

// SetVersion is called by the main package.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./throttle.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")

	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(limitsCmd)
}

func initConfig() error {
	c, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	l, err := newLogger(c.Logging, verbose)
	if err != nil {
		return err
	}
	cfg, logger = c, l
	return nil
}

func newLogger(lc config.LoggingConfig, verbose bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if lc.Development {
		zc = zap.NewDevelopmentConfig()
	}

	level := lc.Level
	if verbose {
		level = "debug"
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zc.Level = lvl
	return zc.Build()
}
