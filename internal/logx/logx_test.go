package logx

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		input  string
		expect slog.Level
		hasErr bool
	}{
		{input: "", expect: slog.LevelInfo},
		{input: "debug", expect: slog.LevelDebug},
		{input: "WARN", expect: slog.LevelWarn},
		{input: "error", expect: slog.LevelError},
		{input: "loud", expect: slog.LevelInfo, hasErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			actual, err := ParseLevel(tc.input)
			if tc.hasErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expect, actual)
		})
	}
}

func TestNew_NoColor(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(buf, slog.LevelInfo, false)
	logger.Debug("hidden")
	logger.Info("submission graded", "score", 10)
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "submission graded")
	assert.Contains(t, out, "score=10")
	assert.NotContains(t, out, "\x1b[")
}

func TestOpenResults_Appends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "results.log")
	for _, msg := range []string{"first", "second"} {
		logger, closer, err := OpenResults(path)
		require.NoError(t, err)
		logger.Info(msg)
		require.NoError(t, closer.Close())
	}
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "first")
	assert.Contains(t, string(data), "second")
}
