package cmd

import (
	"fmt"
	"os"

	"deepsearch-be/internal/bootstrap"
	"deepsearch-be/internal/config"
	"deepsearch-be/internal/pkg/logger"
	"deepsearch-be/pkg/database"
	"deepsearch-be/pkg/vectorstore"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"
)

var (
	// configPath overrides DEEPSEARCH_CONFIG
	configPath string
	// verbose turns on debug logs on stderr
	verbose bool
	// outputFormat is the output format (text, json)
	outputFormat string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "deepsearch",
	Short: "Iterative deep search over vector collections",
	Long: `deepsearch answers a question by repeatedly planning sub-queries,
searching vector collections, judging the evidence and finally writing a cited
answer.

Examples:
  # Ask a question over every collection
  deepsearch query "How did the 2023 pricing change affect churn?"

  # Restrict the search and the budget
  deepsearch query "What is our refund policy?" --collection policies --max-rounds 2

  # List searchable collections
  deepsearch collections

  # Follow session events published by running servers
  deepsearch watch`,
	SilenceUsage: true,
	Version:      "0.1.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file (defaults to $DEEPSEARCH_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "Output format: text, json")
}

// runtime is what every search command needs.
type runtime struct {
	cfg      *config.Config
	log      logger.ILogger
	gateways *bootstrap.Gateways
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		if err := os.Setenv("DEEPSEARCH_CONFIG", configPath); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger() logger.ILogger {
	level := zapcore.WarnLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	return logger.NewConsoleLogger(level)
}

func loadRuntime() (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log := newLogger()

	var db *gorm.DB
	if cfg.VectorStore.Provider == string(vectorstore.KindPgvector) {
		db, err = database.NewGormDBFromDSN(cfg.Database.Connection, verbose)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
	}

	gw, err := bootstrap.NewGateways(cfg, db)
	if err != nil {
		return nil, err
	}
	return &runtime{cfg: cfg, log: log, gateways: gw}, nil
}
