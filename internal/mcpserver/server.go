// Package mcpserver exposes local-logger's logging substrate as an
// in-process JSON-RPC tool over stdio, per SPEC_FULL.md §4.10.
//
// Grounded on marcelocantos-doit's go.mod for adopting
// github.com/mark3labs/mcp-go as the MCP server library, and on
// other_examples/mzhaom-claude-cli-protocol__session_log.go for the shape
// of a JSONL session entry (timestamp, direction, raw message) that the
// resulting Mcp records mirror.
package mcpserver

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/datawizz/local-logger/internal/logsink"
	"github.com/datawizz/local-logger/internal/record"
)

const (
	serverName    = "local-logger"
	serverVersion = "1.0.0"
)

// New builds an MCPServer exposing the log_event tool described in
// SPEC_FULL.md §4.10/§6: arguments {level, message, session_id}, no
// return payload of consequence beyond success or failure.
func New(sink *logsink.Sink) *server.MCPServer {
	s := server.NewMCPServer(serverName, serverVersion)

	tool := mcp.NewTool("log_event",
		mcp.WithDescription("Append a log record to the local-logger unified log."),
		mcp.WithString("level",
			mcp.Description("Severity: INFO, WARN, or ERROR."),
		),
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("Human-readable message to record."),
		),
		mcp.WithString("session_id",
			mcp.Description("Session identifier correlating this call to a conversation."),
		),
	)

	s.AddTool(tool, handleLogEvent(sink))
	return s
}

// Serve runs s over stdio until the client disconnects or the process
// receives a termination signal, per SPEC_FULL.md §6's "stdio JSON-RPC
// 2.0" transport.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func handleLogEvent(sink *logsink.Sink) server.ToolHandlerFunc {
	return func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, ok := req.Params.Arguments.(map[string]any)
		if !ok {
			return mcp.NewToolResultError("log_event: arguments must be an object"), nil
		}

		message, _ := args["message"].(string)
		if message == "" {
			return mcp.NewToolResultError("log_event: message is required"), nil
		}

		level := record.LevelInfo
		if raw, _ := args["level"].(string); raw != "" {
			level = record.Level(raw)
		}

		sessionID, _ := args["session_id"].(string)

		rec := record.NewMCP(time.Now(), sessionID, level, message)
		sink.Append(rec)

		return mcp.NewToolResultText(fmt.Sprintf("logged %s event", level)), nil
	}
}
