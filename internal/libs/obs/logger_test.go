package obs

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		expected zerolog.Level
	}{
		{"info level", "info", zerolog.InfoLevel},
		{"debug level", "debug", zerolog.DebugLevel},
		{"warn level", "warn", zerolog.WarnLevel},
		{"empty defaults to info", "", zerolog.InfoLevel},
		{"invalid level defaults to info", "invalid", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			InitLogger(tt.level)
			if zerolog.GlobalLevel() != tt.expected {
				t.Errorf("expected level %v, got %v", tt.expected, zerolog.GlobalLevel())
			}
		})
	}
}

func TestLoggerToFields(t *testing.T) {
	InitLogger("debug")
	var buf bytes.Buffer
	logger := LoggerTo(&buf, "search")

	logger.Info().Str("query", "cats").Int("results", 3).Msg("search")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}
	for key, want := range map[string]any{
		"component": "search",
		"service":   ServiceName,
		"query":     "cats",
		"results":   float64(3),
		"message":   "search",
	} {
		if line[key] != want {
			t.Errorf("expected %s=%v, got %v", key, want, line[key])
		}
	}
	if _, ok := line["time"]; !ok {
		t.Error("expected a timestamp")
	}
}

func TestLoggerRespectsGlobalLevel(t *testing.T) {
	InitLogger("warn")
	defer InitLogger("info")

	var buf bytes.Buffer
	LoggerTo(&buf, "test").Info().Msg("hidden")
	if buf.Len() != 0 {
		t.Errorf("info line should be filtered at warn level, got %q", buf.String())
	}
}
