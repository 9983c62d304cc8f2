package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/book-expert/voice-toolkit/internal/observability"
	"github.com/book-expert/voice-toolkit/internal/session"
	"github.com/book-expert/voice-toolkit/internal/tools"
	"github.com/spf13/cobra"
)

const flagParams = "params"

// readParams loads an operation's parameter file and picks the decoder from
// its extension. An empty path yields no parameters.
func readParams(path string) ([]byte, tools.Decoder, error) {
	if path == "" {
		return nil, tools.JSONDecoder, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read parameters: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return data, tools.TOMLDecoder, nil
	}

	return data, tools.JSONDecoder, nil
}

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <operation>",
		Short: "Start the server, run one operation and shut the server down",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			operation := args[0]

			_, err := tools.Lookup(operation)
			if err != nil {
				return err
			}

			paramsPath, err := cmd.Flags().GetString(flagParams)
			if err != nil {
				return err
			}

			params, decode, err := readParams(paramsPath)
			if err != nil {
				return err
			}

			configPath, err := cmd.Flags().GetString(flagConfig)
			if err != nil {
				return err
			}

			cfg, log, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			defer closeLogger(log)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Starting server...")

			sess, err := session.Start(ctx, cfg, log, observability.NewMetrics(cfg.Metrics.Namespace), nil)
			if err != nil {
				return fmt.Errorf("failed to start server session: %w", err)
			}
			defer closeSession(sess, cfg.Server.ShutdownTimeout(), log)

			fmt.Fprintf(out, "Server ready on %s, running %s\n", sess.Endpoint().BaseURL(), operation)

			err = sess.Run(ctx, operation, params, decode)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "%s completed\n", operation)

			return nil
		},
	}

	cmd.Flags().String(flagParams, "", "JSON or TOML file with operation parameters")

	return cmd
}

func newOperationsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "operations",
		Short: "List the operations the toolkit can run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()

			for _, op := range tools.Operations() {
				fmt.Fprintf(out, "%-24s %-26s %s\n", op.Name, op.Path, op.Description)
			}

			return nil
		},
	}
}
