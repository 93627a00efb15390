package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func newTestLogger(buf *bytes.Buffer, level LogLevel) *Logger {
	return NewLogger(&Config{
		Level:   level,
		Format:  "text",
		Output:  buf,
		Sync:    true,
		NoColor: true,
	})
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{
			name:   "default config",
			config: nil,
		},
		{
			name: "json format",
			config: &Config{
				Level:  LevelInfo,
				Format: "json",
				Output: &bytes.Buffer{},
			},
		},
		{
			name: "text format",
			config: &Config{
				Level:  LevelDebug,
				Format: "text",
				Output: &bytes.Buffer{},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Fatal("NewLogger() returned nil")
			}
			if err := logger.Close(); err != nil {
				t.Errorf("Close() = %v", err)
			}
		})
	}
}

func TestLoggerWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, LevelDebug)

	devLogger := logger.WithDevice("/dev/infiniband/uverbs0")
	devLogger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "device=/dev/infiniband/uverbs0") {
		t.Errorf("Expected device path in output, got: %s", output)
	}

	buf.Reset()
	qpLogger := devLogger.WithQP(7).WithQueue("sq")
	qpLogger.Info("ring mapped")

	output = buf.String()
	for _, want := range []string{"device=/dev/infiniband/uverbs0", "qp=7", "queue=sq"} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected %s in output, got: %s", want, output)
		}
	}

	buf.Reset()
	devLogger.WithCQ(3).Debug("cq created")
	if output = buf.String(); !strings.Contains(output, "cq=3") {
		t.Errorf("Expected cq=3 in output, got: %s", output)
	}
}

func TestLoggerWithRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, LevelDebug)

	logger.WithRequest(123, "SEND").Debug("posting request")

	output := buf.String()
	if !strings.Contains(output, "wr_id=123") {
		t.Errorf("Expected wr_id=123 in output, got: %s", output)
	}
	if !strings.Contains(output, "op=SEND") {
		t.Errorf("Expected op=SEND in output, got: %s", output)
	}
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, LevelDebug)

	logger.WithError(errors.New("test error")).Error("operation failed")

	output := buf.String()
	if !strings.Contains(output, "test error") {
		t.Errorf("Expected 'test error' in output, got: %s", output)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, LevelWarn)

	logger.Debugf("ring %d mapped", 1)
	logger.Info("created")
	if buf.Len() != 0 {
		t.Errorf("Expected nothing below warn, got: %s", buf.String())
	}
	if logger.Enabled(LevelDebug) {
		t.Error("Enabled(LevelDebug) = true at warn level")
	}
	if !logger.Enabled(LevelError) {
		t.Error("Enabled(LevelError) = false at warn level")
	}

	logger.Warn("doorbell missing", "qp", 3)
	if !strings.Contains(buf.String(), "doorbell missing") {
		t.Errorf("Expected warning, got: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{" error ", LevelError, false},
		{"trace", LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestAsyncWriterFlushesOnClose(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelInfo, Format: "json", Output: &buf})

	logger.Info("queued", "n", 1)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if !strings.Contains(buf.String(), `"message":"queued"`) {
		t.Errorf("Expected flushed line, got: %s", buf.String())
	}
}

func TestDefaultLogger(t *testing.T) {
	var buf bytes.Buffer
	prev := Default()
	logger := newTestLogger(&buf, LevelDebug)
	SetDefault(logger)
	defer SetDefault(prev)

	if Default() != logger {
		t.Fatal("Default() did not return the logger passed to SetDefault")
	}
	Default().WithQueue("cq").Debug("debug message", "key", "value")
	output := buf.String()
	if !strings.Contains(output, "debug message") {
		t.Errorf("Expected debug message, got: %s", output)
	}
	if !strings.Contains(output, "key=value") || !strings.Contains(output, "queue=cq") {
		t.Errorf("Expected key=value and queue=cq, got: %s", output)
	}
}
