package auditlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordAndReadAllRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "audit.ndjson")
	logger, err := New(path)
	require.NoError(t, err)

	require.NoError(t, logger.Record(Entry{SessionID: 1, Operation: "session-start", Status: "SUCCESS"}))
	require.NoError(t, logger.Record(Entry{SessionID: 1, Operation: "proof-submitted", Status: "SUCCESS", CorrelationID: "abc", CheckpointIndex: 2}))

	entries, err := logger.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "session-start", entries[0].Operation)
	require.Equal(t, "proof-submitted", entries[1].Operation)
	require.Equal(t, int64(2), entries[1].CheckpointIndex)
	require.Equal(t, "abc", entries[1].CorrelationID)
}

func TestReadAllOnMissingFileReturnsEmpty(t *testing.T) {
	logger, err := New(filepath.Join(t.TempDir(), "audit.ndjson"))
	require.NoError(t, err)

	entries, err := logger.ReadAll()
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestReadAllSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.ndjson")
	logger, err := New(path)
	require.NoError(t, err)
	require.NoError(t, logger.Record(Entry{SessionID: 9, Operation: "session-end", Status: "SUCCESS"}))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString("not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries, err := logger.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "session-end", entries[0].Operation)
}
