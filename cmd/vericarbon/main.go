package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"carbon-scribe/vericarbon-engine/internal/config"
)

var (
	configPath string
	verbose    bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "vericarbon",
		Short: "VeriCarbon certification and market engine",
		Long: `vericarbon certifies carbon projects through verifier quorum, keeps the
credit and stable ledgers, and runs the constant-product pools credits
trade in.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the JSON or YAML config file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newServeCmd(), newQuoteCmd(), newTokenCmd())
	return root
}

// newLogger builds a zap logger from the logging section. --verbose forces
// debug level.
func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}

	level := cfg.Level
	if verbose {
		level = "debug"
	}
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		zc.Level = lvl
	}

	return zc.Build()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
