package logsink

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datawizz/local-logger/internal/record"
)

func TestAppend_WritesToDateDerivedPath(t *testing.T) {
	dir := t.TempDir()
	sink, err := New(dir)
	require.NoError(t, err)

	now := time.Date(2026, 8, 6, 10, 0, 0, 0, time.UTC)

	rec := record.NewMCP(now, "sess-1", record.LevelInfo, "hello")
	sink.Append(rec)

	path := filepath.Join(dir, "2026-08-06.jsonl")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"hello"`)
	assert.Equal(t, byte('\n'), data[len(data)-1])
}

func TestAppend_DateFieldMatchesFilePath(t *testing.T) {
	dir := t.TempDir()
	sink, err := New(dir)
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := record.NewMCP(now, "sess-1", record.LevelInfo, "boundary")
	sink.Append(rec)

	path := sink.PathForDate(rec.Date)
	assert.Equal(t, filepath.Join(dir, "2026-01-01.jsonl"), path)
	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestAppend_EveryLineIsValidJSON(t *testing.T) {
	dir := t.TempDir()
	sink, err := New(dir)
	require.NoError(t, err)

	now := time.Now()
	for i := 0; i < 5; i++ {
		sink.Append(record.NewMCP(now, "sess-1", record.LevelInfo, "line"))
	}

	f, err := os.Open(sink.PathForDate(now.UTC().Format("2006-01-02")))
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	count := 0
	for scanner.Scan() {
		var v map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &v))
		count++
	}
	assert.Equal(t, 5, count)
}

func TestAppend_ConcurrentWritesAreSerialized(t *testing.T) {
	dir := t.TempDir()
	sink, err := New(dir)
	require.NoError(t, err)

	now := time.Now()
	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			sink.Append(record.NewMCP(now, "sess-1", record.LevelInfo, "concurrent"))
		}()
	}
	wg.Wait()

	f, err := os.Open(sink.PathForDate(now.UTC().Format("2006-01-02")))
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	count := 0
	for scanner.Scan() {
		require.True(t, json.Valid(scanner.Bytes()))
		count++
	}
	assert.Equal(t, n, count)
}
