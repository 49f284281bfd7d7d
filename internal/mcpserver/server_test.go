package mcpserver

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datawizz/local-logger/internal/logsink"
	"github.com/datawizz/local-logger/internal/record"
)

func testSink(t *testing.T) (*logsink.Sink, string) {
	t.Helper()
	dir := t.TempDir()
	sink, err := logsink.New(dir)
	require.NoError(t, err)
	return sink, dir
}

func callToolRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      "log_event",
			Arguments: args,
		},
	}
}

func readOneRecord(t *testing.T, dir string) record.Record {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)

	var r record.Record
	require.NoError(t, json.Unmarshal(data[:len(data)-1], &r))
	return r
}

func TestHandleLogEvent_AppendsRecordWithGivenFields(t *testing.T) {
	sink, dir := testSink(t)
	handler := handleLogEvent(sink)

	result, err := handler(context.Background(), callToolRequest(map[string]any{
		"level":      "WARN",
		"message":    "disk usage high",
		"session_id": "sess-1",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	rec := readOneRecord(t, dir)
	assert.Equal(t, record.LevelWarn, rec.Level)
	assert.Equal(t, "disk usage high", *rec.Message)
	assert.Equal(t, "sess-1", *rec.SessionID)
	assert.Equal(t, record.SourceMcp, rec.Source.Type)
}

func TestHandleLogEvent_DefaultsLevelToInfo(t *testing.T) {
	sink, dir := testSink(t)
	handler := handleLogEvent(sink)

	_, err := handler(context.Background(), callToolRequest(map[string]any{
		"message": "hello",
	}))
	require.NoError(t, err)

	rec := readOneRecord(t, dir)
	assert.Equal(t, record.LevelInfo, rec.Level)
}

func TestHandleLogEvent_MissingMessageErrors(t *testing.T) {
	sink, dir := testSink(t)
	handler := handleLogEvent(sink)

	result, err := handler(context.Background(), callToolRequest(map[string]any{
		"level": "INFO",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestHandleLogEvent_NonObjectArgumentsErrors(t *testing.T) {
	sink, _ := testSink(t)
	handler := handleLogEvent(sink)

	req := mcp.CallToolRequest{Params: mcp.CallToolParams{Name: "log_event", Arguments: "not an object"}}
	result, err := handler(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
