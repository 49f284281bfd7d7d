// Package hookfilter reads Claude Code hook event payloads from stdin and
// appends each as a Hook-sourced unified record, per SPEC_FULL.md §4.11.
//
// Grounded on original_source/src/main.rs's run_hook_mode_sync for field
// extraction (hook_event_name, tool_name, session_id, defaulting a missing
// session_id to a fresh UUID) and on
// other_examples/adamavenir-mini-msg__jsonl_records_permissions.go for the
// JSONL record framing style. Unlike the original, which reads stdin to
// EOF as a single JSON document, this filter scans stdin line by line so
// one invocation can also drain a batch of NDJSON hook payloads; a single
// undelimited JSON document (the original's own shape) is just the
// one-line case.
package hookfilter

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/datawizz/local-logger/internal/logsink"
	"github.com/datawizz/local-logger/internal/record"
)

// rawHookEvent captures the fields SPEC_FULL.md's Hook record cares about;
// anything else in the payload rides along verbatim in HookEvent.
type rawHookEvent struct {
	HookEventName string `json:"hook_event_name"`
	ToolName      string `json:"tool_name"`
	SessionID     string `json:"session_id"`
}

// Filter drains NDJSON hook payloads from r and appends one Hook record
// per line to sink. Malformed lines are logged to logger and skipped; a
// bad line never aborts the filter (spec.md §4.1's "logging never kills
// the request path" posture, extended here to the hook surface).
func Filter(r io.Reader, sink *logsink.Sink, logger *slog.Logger) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if err := processLine(line, sink); err != nil {
			logger.Warn("skipping malformed hook payload", "error", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("hookfilter: read stdin: %w", err)
	}
	return nil
}

func processLine(line []byte, sink *logsink.Sink) error {
	var event rawHookEvent
	if err := json.Unmarshal(line, &event); err != nil {
		return fmt.Errorf("parse hook payload: %w", err)
	}

	eventType := event.HookEventName
	if eventType == "" {
		eventType = "Unknown"
	}
	sessionID := event.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	rec := record.NewHook(time.Now(), sessionID, eventType, event.ToolName, json.RawMessage(line))
	sink.Append(rec)
	return nil
}
