package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/datawizz/local-logger/internal/config"
	"github.com/datawizz/local-logger/internal/hookfilter"
	"github.com/datawizz/local-logger/internal/logsink"
)

// hookCmd processes Claude Code hook JSON from stdin, per SPEC_FULL.md
// §4.11, matching original_source/src/main.rs's `local-logger hook`
// invocation used from a PreToolUse/PostToolUse hook command.
var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Process a Claude Code hook event from stdin",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := config.Load("")
		if err != nil {
			return newExitError(1, err)
		}

		sink, err := logsink.New(cfg.Recording.OutputDir)
		if err != nil {
			return newExitError(1, err)
		}

		if err := hookfilter.Filter(os.Stdin, sink, logger); err != nil {
			return newExitError(1, err)
		}
		return nil
	},
}
