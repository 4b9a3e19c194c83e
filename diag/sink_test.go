package diag

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSink_WritesTimestampedFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	sink := NewFileSink(dir, nil)
	sink.now = func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) }

	sink.Record(KindResponse, []byte("raw model text"))
	sink.Record(KindResponse, []byte("second response"))
	sink.Record(KindResponseObject, []byte(`{"id":"msg_1"}`))

	first, err := os.ReadFile(filepath.Join(dir, "response_20260301_093000.txt"))
	require.NoError(t, err)
	assert.Equal(t, "raw model text", string(first))

	second, err := os.ReadFile(filepath.Join(dir, "response_20260301_093000_1.txt"))
	require.NoError(t, err)
	assert.Equal(t, "second response", string(second))

	_, err = os.Stat(filepath.Join(dir, "response_object_20260301_093000.json"))
	assert.NoError(t, err)
}

func TestFileSink_UnwritableDirIsSwallowed(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	sink := NewFileSink(filepath.Join(blocker, "logs"), nil)
	assert.NotPanics(t, func() { sink.Record(KindPrompt, []byte("p")) })
}

func TestMemory(t *testing.T) {
	var m Memory
	payload := []byte("abc")
	m.Record(KindPrompt, payload)
	m.Record(KindResponse, []byte("xyz"))
	payload[0] = 'Z'

	require.Len(t, m.Entries(), 2)
	assert.Equal(t, [][]byte{[]byte("abc")}, m.OfKind(KindPrompt), "payload is copied on record")
	assert.Empty(t, m.OfKind(KindImportRequest))
}
