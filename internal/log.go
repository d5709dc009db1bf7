package internal

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"strings"

	"github.com/ferretmq/ferret-mq/logger"
)

// ANSI color codes for terminal output
const (
	colorReset  = "\033[0m"
	colorYellow = "\033[33m"
	colorPurple = "\033[35m"
	colorCyan   = "\033[36m"
	colorGreen  = "\033[32m"

	colorBoldRed = "\033[1;31m"
)

// IsTerminal is true when stdout is a terminal, enabling colorized logs.
var IsTerminal bool

func init() {
	fileInfo, _ := os.Stdout.Stat()
	IsTerminal = (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// Get caller function name for logging
func getCallerName() string {
	pc, _, _, _ := runtime.Caller(3) // Use depth 3 to skip printf and the logging method and get the actual caller
	caller := runtime.FuncForPC(pc).Name()
	parts := strings.Split(caller, ".")
	return parts[len(parts)-1]
}

// stdLogger is the default logger.Logger: every line is prefixed with its
// level tag and the caller function name, colored when on a terminal and
// plain otherwise.
type stdLogger struct {
	l *log.Logger
}

func newStdLogger() *stdLogger {
	return &stdLogger{l: log.New(os.Stdout, "", log.LstdFlags)}
}

func (s *stdLogger) printf(tag, color, format string, args []any) {
	funcName := getCallerName()
	if IsTerminal {
		prefix := fmt.Sprintf("%s[%s]%s %s%s%s: ", color, tag, colorReset, colorCyan, funcName, colorReset)
		s.l.Printf(prefix+format, args...)
	} else {
		s.l.Printf("["+tag+"] %s: "+format, append([]any{funcName}, args...)...)
	}
}

// Fatal logs a message with Fatal level and exits with code 1
func (s *stdLogger) Fatal(format string, a ...any) {
	s.printf("FATAL", colorBoldRed, format, a)
	os.Exit(1)
}

func (s *stdLogger) Err(format string, a ...any) {
	s.printf("ERROR", colorBoldRed, format, a)
}

func (s *stdLogger) Warn(format string, a ...any) {
	s.printf("WARN", colorYellow, format, a)
}

func (s *stdLogger) Info(format string, a ...any) {
	s.printf("INFO", colorGreen, format, a)
}

// Debug logs only when the FERRETMQ_DEBUG environment variable is set to 1.
func (s *stdLogger) Debug(format string, a ...any) {
	if os.Getenv("FERRETMQ_DEBUG") != "1" {
		return
	}
	s.printf("DEBUG", colorPurple, format, a)
}

var _ logger.Logger = (*stdLogger)(nil)
