package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]logrus.Level{
		"debug":   logrus.DebugLevel,
		"WARN":    logrus.WarnLevel,
		"warning": logrus.WarnLevel,
		"error":   logrus.ErrorLevel,
		"":        logrus.InfoLevel,
		"bogus":   logrus.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), "level %q", in)
	}
}

func TestConfigureWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.log")

	closer := Configure(Options{Level: "info", Format: "json", File: path})
	WithField("component", "test").Info("hello file")
	require.NoError(t, closer.Close())

	// restore stdout-only logging for the rest of the package tests
	Configure(Options{Level: "info"})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello file")
	assert.Contains(t, string(data), `"component":"test"`)
}

func TestConfigureTextFormat(t *testing.T) {
	Configure(Options{Level: "debug", Format: "text"})
	defer Configure(Options{Level: "info"})

	_, ok := Logger.Formatter.(*logrus.TextFormatter)
	assert.True(t, ok)
	assert.Equal(t, logrus.DebugLevel, Logger.GetLevel())
}
