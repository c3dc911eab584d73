package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestZerologAdapterFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewZerolog(&buf, zerolog.InfoLevel)

	log.Info("trainer", "subsample clustered", map[string]interface{}{"index": 3})
	log.Debug("trainer", "hidden", nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected 1 line at info level, got %d: %q", len(lines), buf.String())
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("Failed to decode log line: %v", err)
	}
	if entry["component"] != "trainer" || entry["message"] != "subsample clustered" {
		t.Errorf("Unexpected entry %v", entry)
	}
	if entry["index"] != float64(3) {
		t.Errorf("Expected index field 3, got %v", entry["index"])
	}
}

func TestZerologAdapterError(t *testing.T) {
	var buf bytes.Buffer
	log := NewZerolog(&buf, zerolog.DebugLevel)
	log.Error("classifier", errors.New("boom"), nil)
	if !strings.Contains(buf.String(), `"error":"boom"`) {
		t.Errorf("Expected error field in %q", buf.String())
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) must not be nil")
	}
	OrNop(nil).Info("x", "y", nil)
}
