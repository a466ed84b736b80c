package logging

import (
	"bytes"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

func Test_NewWithWriter_Levels(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{level: "debug", want: zerolog.DebugLevel},
		{level: "warn", want: zerolog.WarnLevel},
		{level: "", want: zerolog.InfoLevel},
		{level: "loud", want: zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			_ = NewWithWriter(&bytes.Buffer{}, tt.level, "json")
			if got := zerolog.GlobalLevel(); got != tt.want {
				t.Errorf("GlobalLevel() = %v, want %v", got, tt.want)
			}
		})
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func Test_WithComponent_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := WithComponent(NewWithWriter(&buf, "info", "json"), "poller")
	logger.Info().Int("outlet", 2).Msg("switched")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}
	if entry["component"] != "poller" {
		t.Errorf("component = %v, want poller", entry["component"])
	}
	if entry["message"] != "switched" {
		t.Errorf("message = %v, want switched", entry["message"])
	}
	if _, ok := entry["time"]; !ok {
		t.Error("log line has no timestamp")
	}
}

func Test_NewWithWriter_Console(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "console")
	logger.Info().Msg("hello")
	if strings.HasPrefix(buf.String(), "{") {
		t.Errorf("console format wrote JSON: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("console output = %q, want it to contain the message", buf.String())
	}
}
