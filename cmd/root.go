// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tms-executor/internal/config"
	"github.com/xkilldash9x/tms-executor/internal/observability"
)

// Execute builds the command tree and runs it with ctx, which main makes
// signal aware.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command execution failed", zap.Error(err))
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// NewRootCommand returns a fresh command tree wired to the real browser,
// recognizer and session store.
func NewRootCommand() *cobra.Command {
	return newRootCommand(defaultWorkflowProvider{})
}

func newRootCommand(provider workflowProvider) *cobra.Command {
	var cfgFile string
	var cfg *config.Config

	rootCmd := &cobra.Command{
		Use:           "tms-executor",
		Short:         "Places orders on a TMS brokerage terminal through a real browser.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := loadConfig(cmd, cfgFile)
			if err != nil {
				// Initialize a fallback logger so the failure is still visible.
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "tms-executor"})
				return err
			}
			cfg = loaded

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Info("Starting tms-executor", zap.String("version", Version))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().Bool("headless", false, "Run Chrome without a window. (Overrides config/env)")
	rootCmd.PersistentFlags().String("output-dir", "", "Directory for the run report. (Overrides config/env)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	current := func() *config.Config { return cfg }
	rootCmd.AddCommand(
		newTradeCmd(provider, current),
		newOrdersCmd(provider, current),
		newDashboardCmd(provider, current),
		newVersionCmd(),
	)
	return rootCmd
}

// loadConfig reads the config file, TMS_ environment variables, the secrets
// file and any flags the user set, in increasing order of precedence.
func loadConfig(cmd *cobra.Command, cfgFile string) (*config.Config, error) {
	v := viper.New()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("TMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars
	}

	flags := map[string]string{
		"browser.headless": "headless",
		"output.dir":       "output-dir",
	}
	for key, name := range flags {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}

	return config.NewConfigFromViper(v)
}
