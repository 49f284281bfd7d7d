// Package cmd wires the cobra command tree exposed as the local-logger
// binary, per SPEC_FULL.md §4.9.
//
// Grounded on osapi-io-osapi/cmd/root.go for the overall shape: a package
// -level rootCmd, a signal-driven context passed to ExecuteContext, and a
// tint-backed slog.Logger built during cobra.OnInitialize. Exit codes
// follow spec.md §6/§7 rather than osapi's single os.Exit(1) convention.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/datawizz/local-logger/internal/procenv"
)

var (
	logger *slog.Logger

	debugFlag bool
	jsonFlag  bool
)

// rootCmd is the base command when local-logger is invoked with no
// subcommand: it behaves like `local-logger serve`, mirroring
// original_source/src/main.rs's default Commands::Serve.
var rootCmd = &cobra.Command{
	Use:   "local-logger",
	Short: "MCP tool server, hook event logger, and HTTPS MITM proxy",
	Long: `local-logger records everything a coding agent does — tool calls, hook
events, and outbound HTTPS traffic — into one append-only NDJSON log.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

// exitError carries a specific process exit code alongside the error
// message, per spec.md §6's "0/1/2/3/130" contract.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func newExitError(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

// Execute runs the command tree and returns the process exit code.
func Execute() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	interrupted := make(chan struct{})
	go func() {
		<-sigChan
		close(interrupted)
		cancel()
	}()

	err := rootCmd.ExecuteContext(ctx)
	select {
	case <-interrupted:
		return 130
	default:
	}
	if err == nil {
		return 0
	}

	var ee *exitError
	if errors.As(err, &ee) {
		fmt.Fprintf(os.Stderr, "local-logger: %v\n", ee.err)
		return ee.code
	}
	fmt.Fprintf(os.Stderr, "local-logger: %v\n", err)
	return 1
}

func init() {
	cobra.OnInitialize(func() {
		logger = procenv.New(procenv.Options{Debug: debugFlag, JSON: jsonFlag})
	})

	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "emit process logs as JSON instead of tinted text")

	rootCmd.AddCommand(proxyCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(hookCmd)
	rootCmd.AddCommand(serveCmd)
}
