package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"verdict/internal/config"
	"verdict/internal/observability"
)

var cfgFile string

// NewRootCommand builds the root command and its subcommands. Callers get a
// fresh instance per invocation so flag state never leaks between runs.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "verdict",
		Short: "Classifies CI test failures as product, automation, or infrastructure problems",
		Long: `verdict turns a CI build's failed tests into an evidence package: each
failure is parsed, categorized, weighed against environment health, selector
git history, console logs, and past outcomes, then classified as
PRODUCT_BUG, AUTOMATION_BUG, or INFRASTRUCTURE with a confidence the
evidence can actually support.`,
		// Version is set at build time via ldflags. See cmd/version.go.
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Runs before any command, setting up config and logging.
			if err := initializeConfig(); err != nil {
				return err
			}

			var cfg config.Config
			if err := viper.Unmarshal(&cfg); err != nil {
				// Fall back to a sane logger so the error itself gets reported.
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console"})
				return fmt.Errorf("failed to unmarshal config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger)
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./verdict.yaml)")
	root.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "", "log format override (console or json)")
	cobra.CheckErr(viper.BindPFlag("logger.level", root.PersistentFlags().Lookup("log-level")))
	cobra.CheckErr(viper.BindPFlag("logger.format", root.PersistentFlags().Lookup("log-format")))

	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(newAnalyzeCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// Execute runs the root command under the given signal-aware context.
func Execute(ctx context.Context) error {
	root := NewRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			observability.GetLogger().Warn("Run aborted", zap.Error(err))
		} else {
			observability.GetLogger().Error("Command execution failed", zap.Error(err))
		}
		return err
	}
	return nil
}

// initializeConfig loads defaults, then the config file if one exists, then
// environment variables with the VERDICT_ prefix.
func initializeConfig() error {
	v := viper.GetViper()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("verdict")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("VERDICT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults, env vars, and flags carry the run.
	}
	return nil
}
