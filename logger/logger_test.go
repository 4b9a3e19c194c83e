package logger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{name: "console output", opts: Options{}},
		{name: "JSON output", opts: Options{JSON: true, Verbosity: VerbosityDebug}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, Initialize(tt.opts))
			assert.NotNil(t, Logger)
			assert.Equal(t, tt.opts.JSON, JSONOutput)
			Logger = zap.NewNop().Sugar()
		})
	}
}

func TestInitialize_WritesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")

	require.NoError(t, Initialize(Options{File: path}))
	Logger.Infow("import finished", FieldJobID, "job-42")
	Cleanup()
	Logger = zap.NewNop().Sugar()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"job_id":"job-42"`), "log file should hold JSON entries: %s", data)
}

func TestVerbosityToLevel(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, VerbosityToLevel(0))
	assert.Equal(t, zapcore.InfoLevel, VerbosityToLevel(1))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(2))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(7))
	assert.Equal(t, "Info (-v)", LevelName(1))
}

func TestFieldsFromContext(t *testing.T) {
	ctx := WithStoryKey(WithRunID(context.Background(), "run-1"), "PROJ-7")

	fields := FieldsFromContext(ctx)
	assert.Equal(t, []interface{}{FieldRunID, "run-1", FieldStoryKey, "PROJ-7"}, fields)

	assert.Empty(t, FieldsFromContext(context.Background()))
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))

	l := zap.NewNop().Sugar()
	assert.Same(t, l, OrNop(l))
}
