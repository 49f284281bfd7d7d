package cmd

import (
	"github.com/spf13/cobra"

	"github.com/datawizz/local-logger/internal/config"
	"github.com/datawizz/local-logger/internal/logsink"
	"github.com/datawizz/local-logger/internal/mcpserver"
)

// serveCmd runs the MCP tool server over stdio (SPEC_FULL.md §4.10),
// mirroring original_source/src/main.rs's default Commands::Serve.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP tool server over stdio",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := config.Load("")
		if err != nil {
			return newExitError(1, err)
		}

		sink, err := logsink.New(cfg.Recording.OutputDir)
		if err != nil {
			return newExitError(1, err)
		}

		srv := mcpserver.New(sink)
		if err := mcpserver.Serve(srv); err != nil {
			return newExitError(1, err)
		}
		return nil
	},
}
