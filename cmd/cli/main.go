package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/iho/goledger-velocity/internal/adapter/http/dto"
	"github.com/iho/goledger-velocity/internal/adapter/http/middleware"
	"github.com/iho/goledger-velocity/internal/infrastructure/config"
	"github.com/iho/goledger-velocity/internal/infrastructure/logger"
	"github.com/iho/goledger-velocity/internal/infrastructure/postgres"
)

var errOperationRejected = errors.New("operation rejected by velocity limits")

type migrationRunner interface {
	Up() error
	Down() error
}

var newMigrator = func(cfg *config.Config, log zerolog.Logger) migrationRunner {
	return postgres.NewMigrator(cfg.DatabaseURL, cfg.MigrationsPath, log)
}

type cliOptions struct {
	baseURL string
	timeout time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	rootCmd := &cobra.Command{
		Use:           "goledger-velocity",
		Short:         "GoLedger velocity CLI tool",
		Long:          `A command line interface for the velocity schema and the velocity operations API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.baseURL, "url", "http://localhost:8080", "Base URL of the velocity API")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Request timeout")

	rootCmd.AddCommand(newMigrateCmd(), newOperationCmd(opts))
	return rootCmd
}

func newMigrateCmd() *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Velocity schema migrations",
	}

	run := func(apply func(migrationRunner) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			log := logger.New(logger.Config{Level: cfg.LogLevel, Format: "console", Service: "goledger-velocity-cli"})
			if err := apply(newMigrator(cfg, log)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		}
	}

	migrateCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE:  run(func(m migrationRunner) error { return m.Up() }),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back all migrations",
			RunE:  run(func(m migrationRunner) error { return m.Down() }),
		},
	)
	return migrateCmd
}

func newOperationCmd(opts *cliOptions) *cobra.Command {
	operationCmd := &cobra.Command{
		Use:   "operation",
		Short: "Velocity operations",
	}

	var file, idempotencyKey string

	submitCmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit an operation for velocity enforcement",
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := readOperation(file)
			if err != nil {
				return err
			}
			return submitOperation(cmd.OutOrStdout(), opts, body, idempotencyKey)
		},
	}
	submitCmd.Flags().StringVarP(&file, "file", "f", "", "Operation JSON file (- for stdin)")
	submitCmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "Idempotency-Key header value")
	_ = submitCmd.MarkFlagRequired("file")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Compile an operation's controls without submitting it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := readOperation(file)
			if err != nil {
				return err
			}
			var req dto.SubmitOperationRequest
			if err := json.Unmarshal(body, &req); err != nil {
				return fmt.Errorf("decode operation: %w", err)
			}
			input, err := req.ToUseCaseInput()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "operation %s is valid: %d entries, %d controlled accounts\n",
				input.Transaction.ID, len(input.Entries), len(input.Controls))
			return nil
		},
	}
	validateCmd.Flags().StringVarP(&file, "file", "f", "", "Operation JSON file (- for stdin)")
	_ = validateCmd.MarkFlagRequired("file")

	operationCmd.AddCommand(submitCmd, validateCmd)
	return operationCmd
}

func readOperation(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read operation file: %w", err)
	}
	return body, nil
}

func submitOperation(out io.Writer, opts *cliOptions, body []byte, idempotencyKey string) error {
	req, err := http.NewRequest(http.MethodPost, opts.baseURL+"/api/v1/velocity/operations", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set(middleware.IdempotencyKeyHeader, idempotencyKey)
	}

	client := &http.Client{Timeout: opts.timeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	rejected := false
	switch {
	case resp.StatusCode == http.StatusOK:
		fmt.Fprintln(out, "Operation ACCEPTED")
	case resp.StatusCode == http.StatusUnprocessableEntity:
		fmt.Fprintln(out, "Operation REJECTED")
		rejected = true
	default:
		return fmt.Errorf("request failed (status: %d): %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}

	if resp.Header.Get("X-Idempotency-Replay") == "true" {
		fmt.Fprintln(out, "(replayed)")
	}
	printJSON(out, respBody)

	if rejected {
		return errOperationRejected
	}
	return nil
}

func printJSON(out io.Writer, raw []byte) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		fmt.Fprintln(out, string(raw))
		return
	}
	fmt.Fprintln(out, pretty.String())
}
