// Package cli provides the command-line interface for the arena.
package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/nidhogg/nuka-arena/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	cfgPath  string
	logLevel string

	cfg    *config.Config
	logger *zap.Logger
)

const defaultConfigPath = "configs/arena.json"

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "arena",
	Short: "Multi-agent simulation arena with reflective memory",
	Long: `Arena runs turn-based simulations in which every agent is driven by a
language model and remembers what it sees in a reflective long-term memory.

Scenarios are YAML files naming the environment (combat or hunting), the
agents, their roles, prompt templates and day plans.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}
		_ = godotenv.Load()

		var err error
		cfg, err = loadConfig(cfgPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") || cfg.Server.LogLevel == "" {
			cfg.Server.LogLevel = logLevel
		}
		logger, err = newLogger(cfg.Server.LogLevel)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	defaultPath := os.Getenv("CONFIG_PATH")
	if defaultPath == "" {
		defaultPath = defaultConfigPath
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultPath, "path to the JSON config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads path. A missing default config falls back to the
// built-in offline configuration.
func loadConfig(path string) (*config.Config, error) {
	c, err := config.Load(path)
	if err == nil {
		return c, nil
	}
	if path == defaultConfigPath && errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return nil, err
}

// newLogger builds a development logger for debug and a production
// logger at the given level otherwise.
func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = lvl
	return zc.Build()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the arena version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "arena", Version)
	},
}
