package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger adapts a zap.SugaredLogger to the Logger interface. Used by
// the example binary when structured JSON logs are requested.
type ZapLogger struct {
	s *zap.SugaredLogger
}

// NewZapLogger builds a JSON-encoded production logger at the given
// level ("debug", "info", "warn" or "error"; anything else means info).
func NewZapLogger(level string) (*ZapLogger, error) {
	cfg := zap.NewProductionConfig()
	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &ZapLogger{s: l.Sugar()}, nil
}

// WrapZap adapts an existing zap logger.
func WrapZap(l *zap.Logger) *ZapLogger {
	return &ZapLogger{s: l.Sugar()}
}

func (z *ZapLogger) Fatal(format string, a ...any) { z.s.Fatalf(format, a...) }
func (z *ZapLogger) Err(format string, a ...any)   { z.s.Errorf(format, a...) }
func (z *ZapLogger) Warn(format string, a ...any)  { z.s.Warnf(format, a...) }
func (z *ZapLogger) Info(format string, a ...any)  { z.s.Infof(format, a...) }
func (z *ZapLogger) Debug(format string, a ...any) { z.s.Debugf(format, a...) }

// Sync flushes buffered log entries. Call before process exit.
func (z *ZapLogger) Sync() error { return z.s.Sync() }
