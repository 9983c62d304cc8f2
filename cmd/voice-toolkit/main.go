// main package for the voice-toolkit command.
package main

import (
	"fmt"
	"os"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-toolkit/internal/config"
	"github.com/spf13/cobra"
)

const (
	bootstrapLogName = "voice-toolkit-bootstrap.log"
	finalLogName     = "voice-toolkit.log"

	flagConfig = "config"
)

func setupLogger(dir, name string) (*logger.Logger, error) {
	log, err := logger.New(dir, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger in %s: %w", dir, err)
	}

	return log, nil
}

func closeLogger(log *logger.Logger) {
	closeErr := log.Close()
	if closeErr != nil {
		fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
	}
}

// loadConfig reads the configuration from path when given, otherwise through
// the central configurator, and opens the final logger it names. The
// bootstrap logger only lives for the duration of the load.
func loadConfig(path string) (*config.Config, *logger.Logger, error) {
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogName)
	if err != nil {
		return nil, nil, err
	}
	defer closeLogger(bootstrapLog)

	var cfg *config.Config

	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load(bootstrapLog)
	}

	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, finalLogName)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return nil, nil, err
	}

	return cfg, finalLog, nil
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "voice-toolkit",
		Short:         "Drive a local voice tool inference server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String(flagConfig, "", "Path to a TOML config file (defaults to the configurator)")

	root.AddCommand(
		newServeCommand(),
		newRunCommand(),
		newOperationsCommand(),
		newResultsCommand(),
	)

	return root
}

func main() {
	err := newRootCommand().Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "voice-toolkit exited with error: %v\n", err)
		os.Exit(1)
	}
}
