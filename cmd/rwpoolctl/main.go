package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	rwpool "github.com/vango-go/vango-rwpool"
)

var version = "0.1.0"

// errUnavailable makes the process exit non-zero without printing a second
// message after the health JSON.
var errUnavailable = errors.New("one or more pools are unavailable")

func main() {
	var configFile, logLevel string
	var timeout time.Duration

	root := &cobra.Command{
		Use:           "rwpoolctl",
		Short:         "Inspect and query a primary/replica database pair",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "rwpool.yaml", "Path to the rwpool configuration file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level (error, warn, info, verbose, debug, silly)")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall command timeout")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "rwpoolctl v%s\n", version)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check both pools and print the result as JSON",
		Long: `Check the primary and replica pools and print the health result as JSON.
Exits with status 1 when either pool is unavailable.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			m, err := connect(ctx, configFile, logLevel)
			if err != nil {
				return err
			}
			defer shutdown(m)

			h := m.Healthcheck(ctx)
			if err := writeJSON(cmd.OutOrStdout(), h); err != nil {
				return err
			}
			if !h.OK() {
				return errUnavailable
			}
			return nil
		},
	})

	var write bool
	queryCmd := &cobra.Command{
		Use:   "query <sql> [args...]",
		Short: "Run one statement through the pool manager",
		Long: `Run one statement and print the result as JSON.
Statements run on the replica unless --write is given.

Example:
  rwpoolctl query --config rwpool.yaml "select id, name from users where id = $1" 42`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			m, err := connect(ctx, configFile, logLevel)
			if err != nil {
				return err
			}
			defer shutdown(m)

			q := rwpool.Select(args[0])
			if write {
				q = rwpool.Write(args[0])
			}
			var params []any
			for _, a := range args[1:] {
				params = append(params, a)
			}

			res, err := m.Execute(ctx, q, params)
			if err != nil {
				return fmt.Errorf("query failed (code %s): %w", rwpool.ErrorCode(err), err)
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	queryCmd.Flags().BoolVarP(&write, "write", "w", false, "Route the statement to the primary")
	root.AddCommand(queryCmd)

	if err := root.Execute(); err != nil {
		if !errors.Is(err, errUnavailable) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func connect(ctx context.Context, configFile, logLevel string) (*rwpool.Manager, error) {
	cfg, err := rwpool.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	applyLogLevel(&cfg, logLevel)
	return rwpool.Connect(ctx, cfg)
}

// applyLogLevel overrides the configured level and keeps logs off stdout,
// which carries command output.
func applyLogLevel(cfg *rwpool.Config, logLevel string) {
	if logLevel != "" && cfg.Logging == nil {
		cfg.Logging = &rwpool.LoggingConfig{}
	}
	if cfg.Logging == nil {
		return
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if cfg.Logging.OutputPath == "" || cfg.Logging.OutputPath == "stdout" {
		cfg.Logging.OutputPath = "stderr"
	}
}

func shutdown(m *rwpool.Manager) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
