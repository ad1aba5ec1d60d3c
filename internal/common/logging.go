package common

import (
	"os"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"
)

// Logger wraps arbor.ILogger to give the rest of the service a single,
// consistent logging interface. Every line it writes to stdout is a JSON
// object, per spec §6 ("Logging output").
type Logger struct {
	arbor.ILogger
}

// NewLogger creates a logger at the given level writing JSON lines to
// stdout plus arbor's in-memory writer. No endpoint reads the in-memory
// writer; /v1/diagnostics does not return log lines.
func NewLogger(level string) *Logger {
	arborLogger := arbor.NewLogger().
		WithConsoleWriter(models.WriterConfiguration{
			Type:       models.LogWriterTypeConsole,
			Writer:     os.Stdout,
			TimeFormat: "2006-01-02T15:04:05Z07:00",
		}).
		WithMemoryWriter(models.WriterConfiguration{
			Type: models.LogWriterTypeMemory,
		}).
		WithLevelFromString(level)

	return &Logger{ILogger: arborLogger}
}

// NewDefaultLogger creates a logger at "info" level.
func NewDefaultLogger() *Logger {
	return NewLogger("info")
}

// WithCorrelationId returns a new Logger tagged with a trace id so every
// subsequent line it emits carries that id in its fields.
func (l *Logger) WithCorrelationId(id string) *Logger {
	return &Logger{ILogger: l.ILogger.WithCorrelationId(id)}
}
