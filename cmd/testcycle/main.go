package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/testcycle/pkg/config"
)

// Set at build time through -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	cfgFiles  []string
	logLevel  string
	logFormat string

	log = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:   "testcycle",
	Short: "Test execution lifecycle service",
	Long: `Testcycle records test case executions per build and cycle and moves
them through review and approval.`,
	Version:           fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
	SilenceUsage:      true,
	PersistentPreRunE: setupLogger,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringSliceVar(&cfgFiles, "config", nil,
		"config file path (repeatable, later files override earlier ones)")
	flags.StringVar(&logLevel, "log-level", config.DefaultLogLevel,
		"log level: "+strings.Join(levelNames(), "|"))
	flags.StringVar(&logFormat, "log-format", "text", "log output format: text|json")

	rootCmd.SetVersionTemplate("testcycle {{.Version}}\n")
}

func main() {
	log.SetOutput(os.Stdout)

	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Fatal("Command failed")
	}
}

// setupLogger applies --log-format and --log-level before any command runs.
func setupLogger(_ *cobra.Command, _ []string) error {
	switch logFormat {
	case "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q", logFormat)
	}

	return setLevel(logLevel)
}

func setLevel(name string) error {
	level, err := logrus.ParseLevel(name)
	if err != nil {
		return fmt.Errorf("log level %q: %w", name, err)
	}

	log.SetLevel(level)

	return nil
}

// loadConfig reads the --config files. global.log_level from the files
// wins unless --log-level was passed.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFiles...)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if cmd.Flags().Changed("log-level") {
		return cfg, nil
	}

	if err := setLevel(cfg.Global.LogLevel); err != nil {
		return nil, fmt.Errorf("global.log_level: %w", err)
	}

	return cfg, nil
}

func levelNames() []string {
	names := make([]string, len(logrus.AllLevels))
	for i, level := range logrus.AllLevels {
		names[i] = level.String()
	}

	return names
}
