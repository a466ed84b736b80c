package safety

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
)

// auditLine is the decoded form of one audit record.
type auditLine struct {
	Timestamp  time.Time      `json:"timestamp"`
	Tool       string         `json:"tool"`
	Params     map[string]any `json:"params"`
	Result     string         `json:"result"`
	DurationNS int64          `json:"duration_ns"`
}

func Test_AuditLogger_Log_Cases(t *testing.T) {
	tests := []struct {
		name     string
		entry    AuditEntry
		validate func(t *testing.T, line auditLine)
	}{
		{
			name: "outlet command entry",
			entry: AuditEntry{
				Timestamp: time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC),
				Tool:      "netio_outlet_set",
				Params:    map[string]any{"outlet": "2", "action": "toggle"},
				Result:    "ok",
				Duration:  150 * time.Millisecond,
			},
			validate: func(t *testing.T, line auditLine) {
				t.Helper()
				if line.Tool != "netio_outlet_set" {
					t.Errorf("tool = %q, want netio_outlet_set", line.Tool)
				}
				if line.Params["action"] != "toggle" {
					t.Errorf("params.action = %v, want toggle", line.Params["action"])
				}
				if line.DurationNS != int64(150*time.Millisecond) {
					t.Errorf("duration_ns = %d, want %d", line.DurationNS, int64(150*time.Millisecond))
				}
				if !line.Timestamp.Equal(time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)) {
					t.Errorf("timestamp = %v", line.Timestamp)
				}
			},
		},
		{
			name: "nil params",
			entry: AuditEntry{
				Timestamp: time.Now(),
				Tool:      "netio_status",
				Result:    "ok",
			},
			validate: func(t *testing.T, line auditLine) {
				t.Helper()
				if line.Params != nil {
					t.Errorf("params = %v, want null", line.Params)
				}
			},
		},
		{
			name: "error result",
			entry: AuditEntry{
				Timestamp: time.Now(),
				Tool:      "netio_outlet",
				Params:    map[string]any{},
				Result:    "error: netio: connect failed",
			},
			validate: func(t *testing.T, line auditLine) {
				t.Helper()
				if !strings.HasPrefix(line.Result, "error:") {
					t.Errorf("result = %q, want error prefix", line.Result)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewAuditLogger(&buf)
			if err := logger.Log(tt.entry); err != nil {
				t.Fatalf("Log() error = %v", err)
			}

			out := buf.String()
			if !strings.HasSuffix(out, "\n") || strings.Count(out, "\n") != 1 {
				t.Fatalf("output = %q, want exactly one newline-terminated line", out)
			}
			var line auditLine
			if err := json.Unmarshal([]byte(out), &line); err != nil {
				t.Fatalf("output is not JSON: %v (%s)", err, out)
			}
			tt.validate(t, line)
		})
	}
}

func Test_AuditLogger_Nil(t *testing.T) {
	if NewAuditLogger(nil) != nil {
		t.Fatal("NewAuditLogger(nil) should return nil")
	}
	var l *AuditLogger
	if err := l.Log(AuditEntry{Tool: "x"}); err != ErrNilWriter {
		t.Errorf("Log() on nil logger error = %v, want ErrNilWriter", err)
	}
}

// syncBuffer is a bytes.Buffer safe for concurrent writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func Test_AuditLogger_ConcurrentLinesIntact(t *testing.T) {
	var sb syncBuffer
	logger := NewAuditLogger(&sb)

	const goroutines = 40
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(i int) {
			defer wg.Done()
			_ = logger.Log(AuditEntry{Timestamp: time.Now(), Tool: "netio_status", Params: map[string]any{"i": i}, Result: "ok"})
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(sb.buf.String()), "\n")
	if len(lines) != goroutines {
		t.Fatalf("got %d lines, want %d", len(lines), goroutines)
	}
	for i, l := range lines {
		var line auditLine
		if err := json.Unmarshal([]byte(l), &line); err != nil {
			t.Errorf("line %d is not valid JSON: %v", i, err)
		}
	}
}
