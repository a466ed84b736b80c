package safety

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrNilWriter is returned by AuditLogger.Log when the logger was constructed
// with a nil writer.
var ErrNilWriter = errors.New("audit logger: writer is nil")

// AuditEntry captures a single tool invocation or outlet command.
type AuditEntry struct {
	Timestamp time.Time
	Tool      string
	Params    map[string]any
	Result    string
	Duration  time.Duration
}

// AuditLogger writes AuditEntry records as newline-delimited JSON. It is safe
// for concurrent use.
type AuditLogger struct {
	mu  sync.Mutex
	log zerolog.Logger
}

// NewAuditLogger returns an AuditLogger that writes to w. If w is nil the
// returned logger is also nil; every method is a no-op on a nil logger except
// Log, which reports ErrNilWriter.
func NewAuditLogger(w io.Writer) *AuditLogger {
	if w == nil {
		return nil
	}
	return &AuditLogger{log: zerolog.New(w)}
}

// Log writes entry as one JSON line with the fields timestamp, tool, params,
// result and duration_ns.
func (l *AuditLogger) Log(entry AuditEntry) error {
	if l == nil {
		return ErrNilWriter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Log() carries no level, so the global log level never drops audit lines.
	l.log.Log().
		Time("timestamp", entry.Timestamp).
		Str("tool", entry.Tool).
		Interface("params", entry.Params).
		Str("result", entry.Result).
		Int64("duration_ns", int64(entry.Duration)).
		Send()
	return nil
}
