package hookfilter

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

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

func readRecords(t *testing.T, dir string) []record.Record {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var recs []record.Record
	for _, entry := range entries {
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		require.NoError(t, err)
		scanner := bufio.NewScanner(bytes.NewReader(data))
		for scanner.Scan() {
			var r record.Record
			require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
			recs = append(recs, r)
		}
	}
	return recs
}

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFilter_PreservesRawPayloadVerbatim(t *testing.T) {
	sink, dir := testSink(t)
	input := `{"hook_event_name":"PreToolUse","tool_name":"Bash","session_id":"sess-1","extra":42}` + "\n"

	require.NoError(t, Filter(strings.NewReader(input), sink, silentLogger()))

	recs := readRecords(t, dir)
	require.Len(t, recs, 1)
	assert.Equal(t, "PreToolUse", recs[0].Source.EventType)
	assert.Equal(t, "sess-1", *recs[0].SessionID)
	assert.Equal(t, "Bash", *recs[0].ToolName)
	assert.JSONEq(t, strings.TrimSpace(input), string(recs[0].HookEvent))
}

func TestFilter_MissingSessionIDGetsUUIDDefault(t *testing.T) {
	sink, dir := testSink(t)
	input := `{"hook_event_name":"Notification"}` + "\n"

	require.NoError(t, Filter(strings.NewReader(input), sink, silentLogger()))

	recs := readRecords(t, dir)
	require.Len(t, recs, 1)
	require.NotNil(t, recs[0].SessionID)
	assert.Len(t, *recs[0].SessionID, 36)
}

func TestFilter_MissingEventNameDefaultsToUnknown(t *testing.T) {
	sink, dir := testSink(t)
	input := `{"session_id":"sess-2"}` + "\n"

	require.NoError(t, Filter(strings.NewReader(input), sink, silentLogger()))

	recs := readRecords(t, dir)
	require.Len(t, recs, 1)
	assert.Equal(t, "Unknown", recs[0].Source.EventType)
}

func TestFilter_SkipsMalformedLinesButProcessesRest(t *testing.T) {
	sink, dir := testSink(t)
	input := "not json at all\n" +
		`{"hook_event_name":"PreToolUse","session_id":"sess-3"}` + "\n" +
		"\n" +
		`{"hook_event_name":"PostToolUse","session_id":"sess-4"}` + "\n"

	require.NoError(t, Filter(strings.NewReader(input), sink, silentLogger()))

	recs := readRecords(t, dir)
	require.Len(t, recs, 2)
	assert.Equal(t, "PreToolUse", recs[0].Source.EventType)
	assert.Equal(t, "PostToolUse", recs[1].Source.EventType)
}

func TestFilter_DrainsMultiLineNDJSONBatch(t *testing.T) {
	sink, dir := testSink(t)
	var sb strings.Builder
	for i := 0; i < 5; i++ {
		sb.WriteString(`{"hook_event_name":"PreToolUse","session_id":"sess-`)
		sb.WriteString(string(rune('a' + i)))
		sb.WriteString(`"}` + "\n")
	}

	require.NoError(t, Filter(strings.NewReader(sb.String()), sink, silentLogger()))

	recs := readRecords(t, dir)
	assert.Len(t, recs, 5)
}
