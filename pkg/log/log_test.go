package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roshanshah11/vertexladder/pkg/book"
)

func TestEnabledRespectsLevel(t *testing.T) {
	l, err := New(Config{Level: "warn"})
	require.NoError(t, err)

	assert.False(t, l.Enabled(book.LevelDebug))
	assert.False(t, l.Enabled(book.LevelInfo))
	assert.True(t, l.Enabled(book.LevelWarn))
	assert.True(t, l.Enabled(book.LevelError))
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ladderd.log")
	l, err := New(Config{Level: "info", File: path})
	require.NoError(t, err)

	l.Info("engine started", "symbol", "AAPL")
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "engine started")
	assert.Contains(t, string(data), "AAPL")
}

func TestPerformanceOnlyAtDebug(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ladderd.log")
	l, err := New(Config{Level: "info", File: path})
	require.NoError(t, err)

	// The file sink creates the file on first write, so log one info line.
	l.Info("engine started")
	l.Performance("book.addOrder", 420, "qty", 10)
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "book.addOrder", "perf events are debug-level")

	dbg, err := New(Config{Level: "debug", File: path})
	require.NoError(t, err)
	dbg.Performance("book.addOrder", 420)
	require.NoError(t, dbg.Sync())

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "book.addOrder")
}

func TestNopLoggerIsSilent(t *testing.T) {
	l := NewNop()
	assert.False(t, l.Enabled(book.LevelError))
	l.Info("ignored")
	l.Error("ignored")
}
