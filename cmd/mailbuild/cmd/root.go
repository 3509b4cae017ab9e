package cmd

import (
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zostay/go-mailbuild/internal/config"
)

var (
	rootCmd = &cobra.Command{
		Use:               "mailbuild",
		Short:             "Build MIME messages, optionally signed or encrypted with OpenPGP",
		PersistentPreRunE: setup,
		SilenceUsage:      true,
	}

	configPath string
	logLevel   string

	cfg *config.Config
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(downgradeCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(versionCmd)
}

// setup loads the configuration and installs the default logger.
func setup(cmd *cobra.Command, _ []string) error {
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	if logLevel != "" {
		cfg.Log.Level = strings.ToLower(logLevel)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	slog.SetDefault(cfg.Log.Logger(cmd.ErrOrStderr()))
	return nil
}

func Execute() error {
	return rootCmd.Execute()
}
