package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilLoggerDiscards(t *testing.T) {
	var l Logger = &NilLogger{}
	l.Err("err %d", 1)
	l.Warn("warn")
	l.Info("info")
	l.Debug("debug")
}

func TestNilLoggerFatalPanics(t *testing.T) {
	l := &NilLogger{}
	assert.PanicsWithValue(t, "boom 42", func() { l.Fatal("boom %d", 42) })
}

func TestZapLoggerLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		zl, err := NewZapLogger(level)
		require.NoError(t, err, "level %q", level)
		zl.Info("hello from %s", level)
		zl.Debug("debug from %s", level)
	}
}
