package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:   "JSON format to stdout",
			config: Config{Level: "info", Format: "json", Output: "stdout"},
		},
		{
			name:   "Console format to stderr",
			config: Config{Level: "debug", Format: "console", Output: "stderr"},
		},
		{
			name:   "Invalid log level defaults to info",
			config: Config{Level: "invalid", Format: "json", Output: "stdout"},
		},
		{
			name:    "Unwritable file path",
			config:  Config{Level: "info", Format: "json", Output: "/nonexistent-dir/x/app.log"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewLogger() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && logger == nil {
				t.Error("Expected non-nil logger")
			}
		})
	}
}

func TestLoggerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")

	logger, err := NewLogger(Config{Level: "info", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	logger.WithTaskID("task-1").WithVideoID("video-1").WithUserID("user-1").Info("claimed")
	logger.Debug("filtered out")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	if len(lines) != 1 {
		t.Fatalf("Expected 1 log line, got %d", len(lines))
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(lines[0], &entry); err != nil {
		t.Fatalf("Log line is not JSON: %v", err)
	}
	if entry["task_id"] != "task-1" || entry["video_id"] != "video-1" || entry["user_id"] != "user-1" {
		t.Errorf("Missing context fields: %v", entry)
	}
	if entry["message"] != "claimed" {
		t.Errorf("Unexpected message: %v", entry["message"])
	}
}

func TestLogTaskEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(zerolog.New(&buf))

	logger.LogTaskEvent("task-123", "completed", "completed", map[string]interface{}{
		"resolution": "1080p",
	})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Log line is not JSON: %v", err)
	}
	if entry["event"] != "completed" || entry["resolution"] != "1080p" {
		t.Errorf("Unexpected entry: %v", entry)
	}
}

func TestLogStorageOperationError(t *testing.T) {
	var buf bytes.Buffer
	logger := New(zerolog.New(&buf).Level(zerolog.InfoLevel))

	logger.LogStorageOperation("put", "local", "a/b", 10, time.Millisecond, nil)
	if buf.Len() != 0 {
		t.Errorf("Successful storage ops should log at debug, got %s", buf.String())
	}

	logger.LogStorageOperation("put", "object", "a/b", 10, time.Millisecond, errors.New("boom"))
	if !bytes.Contains(buf.Bytes(), []byte(`"error":"boom"`)) {
		t.Errorf("Expected error field, got %s", buf.String())
	}
}

func TestNop(t *testing.T) {
	Nop().WithWorkerID("w").Info("discarded")
}
