// Package observability carries the ambient concerns of the service:
// structured request logs, panic recovery, and error reporting.
package observability

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// Logger emits one JSON object per line to stdout. Per-call fields override
// the standard ones on key collision.
type Logger struct {
	out     *log.Logger
	service string
}

func NewLogger() *Logger {
	return &Logger{out: log.New(os.Stdout, "", 0), service: "finlink"}
}

func (l *Logger) Info(message string, fields map[string]any) {
	l.write("info", message, fields)
}

// Warn marks recoverable failures: a skipped account batch, a disabled
// integration. Errors that abort the request go through Error.
func (l *Logger) Warn(message string, fields map[string]any) {
	l.write("warn", message, fields)
}

func (l *Logger) Error(message string, fields map[string]any) {
	l.write("error", message, fields)
}

func (l *Logger) write(level, message string, fields map[string]any) {
	payload := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"level":     level,
		"service":   l.service,
		"message":   message,
	}
	for k, v := range fields {
		payload[k] = v
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		l.out.Println(`{"level":"error","message":"failed to encode log"}`)
		return
	}

	l.out.Println(string(encoded))
}
