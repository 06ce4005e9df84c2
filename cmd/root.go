// Package cmd implements the freeform command line.
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

	"github.com/xkilldash9x/freeform/internal/config"
	"github.com/xkilldash9x/freeform/internal/observability"
)

type contextKey string

const configKey contextKey = "config"

// envPrefix prefixes every environment override, e.g. FREEFORM_EDITOR_GRID_SIZE.
const envPrefix = "FREEFORM"

var osExit = os.Exit

// newRootCmd builds the command tree. Each call returns an independent tree
// with its own flag state.
func newRootCmd() *cobra.Command {
	var cfgFile string
	root := &cobra.Command{
		Use:           "freeform",
		Short:         "Freeform moves, resizes and restores elements of rendered HTML documents.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			v := viper.New()
			config.SetDefaults(v)
			if err := initializeConfig(v, cfgFile); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				return fmt.Errorf("failed to load or validate config: %w", err)
			}
			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting freeform", zap.String("version", Version))

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(context.WithValue(ctx, configKey, cfg))
			return nil
		},
	}
	root.SetVersionTemplate("{{.Name}} version {{.Version}}\n")
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	root.PersistentFlags().StringP("output", "o", "text", "output format: text, json or yaml")

	root.AddCommand(
		newVersionCmd(),
		newClassifyCmd(),
		newSelectorCmd(),
		newSnapCmd(),
		newDragCmd(),
		newRestoreCmd(),
		newHistoryCmd(),
		newStatesCmd(),
		newServeCmd(),
		newLiveCmd(),
	)
	return root
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	defer observability.Sync()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		observability.Sync()
		osExit(1)
	}
}

// initializeConfig reads the config file and binds FREEFORM_* variables.
// A missing default config file is not an error.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// configFrom returns the configuration loaded by the root command.
func configFrom(cmd *cobra.Command) (*config.Config, error) {
	if ctx := cmd.Context(); ctx != nil {
		if cfg, ok := ctx.Value(configKey).(*config.Config); ok {
			return cfg, nil
		}
	}
	return nil, errors.New("configuration not loaded")
}
