package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ehrlich-b/go-vrdma/internal/logging"
)

func testFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("log-level", "info", "")
	fs.String("log-format", "text", "")
	addFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func testLogger() *logging.Logger {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LevelError
	cfg.Sync = true
	return logging.NewLogger(cfg)
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := loadConfig("", testFlags(t))
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, 5*time.Second, cfg.Duration)
	assert.Equal(t, 4096, cfg.payload)
	assert.Equal(t, "send", cfg.Opcode)
	assert.True(t, cfg.Doorbell)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfigLayers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vrdma-bench.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
workers: 3
size: 1K
opcode: write
batch: 8
log:
  level: debug
`), 0o644))

	t.Setenv("VRDMA_BATCH", "4")
	cfg, err := loadConfig(path, testFlags(t, "--opcode", "read"))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Workers, "from file")
	assert.Equal(t, 1024, cfg.payload, "from file")
	assert.Equal(t, 4, cfg.Batch, "environment overrides file")
	assert.Equal(t, "read", cfg.Opcode, "flag overrides file")
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfigSearchPath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vrdma-bench.yaml"), []byte("workers: 2\n"), 0o644))
	t.Chdir(dir)

	cfg, err := loadConfig("", testFlags(t))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Workers)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"), testFlags(t))
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad size", []string{"--size", "lots"}},
		{"zero size", []string{"--size", "0"}},
		{"no workers", []string{"--workers", "0"}},
		{"batch over depth", []string{"--batch", "64", "--depth", "32"}},
		{"depth too large", []string{"--depth", "20000"}},
		{"unknown opcode", []string{"--opcode", "atomic"}},
		{"inline read", []string{"--opcode", "read", "--inline"}},
		{"unknown output", []string{"--output", "xml"}},
		{"negative duration", []string{"--duration", "-1s"}},
	}
	t.Chdir(t.TempDir())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig("", testFlags(t, tt.args...))
			assert.Error(t, err)
		})
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"64", 64},
		{"4K", 4096},
		{"4k", 4096},
		{"1M", 1 << 20},
		{"2G", 2 << 30},
	}
	for _, tt := range tests {
		got, err := parseSize(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
	_, err := parseSize("K")
	assert.Error(t, err)
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", formatSize(512))
	assert.Equal(t, "4.0 KB", formatSize(4096))
	assert.Equal(t, "1.5 MB", formatSize(3<<19))
}

func TestRunBench(t *testing.T) {
	for _, opcode := range []string{"send", "write", "read"} {
		t.Run(opcode, func(t *testing.T) {
			cfg := &Config{
				Workers:  2,
				Duration: 50 * time.Millisecond,
				Size:     "256",
				Batch:    4,
				Depth:    8,
				Opcode:   opcode,
				Doorbell: true,
				Output:   "text",
			}
			require.NoError(t, cfg.validate())

			report, err := runBench(context.Background(), cfg, testLogger())
			require.NoError(t, err)

			assert.Positive(t, report.Operations)
			assert.Equal(t, report.Operations*256, report.Bytes)
			assert.Equal(t, report.Operations/4, uint64(report.BatchLatency.Samples))
			assert.NotEmpty(t, report.Device)

			var buf bytes.Buffer
			require.NoError(t, report.write(&buf, "text"))
			assert.Contains(t, buf.String(), opcode+" x2")
		})
	}
}

func TestRunBenchInlinePolling(t *testing.T) {
	cfg := &Config{
		Workers:  1,
		Duration: 30 * time.Millisecond,
		Size:     "64",
		Batch:    2,
		Depth:    4,
		Opcode:   "send",
		Inline:   true,
		Polling:  true,
		Output:   "yaml",
	}
	require.NoError(t, cfg.validate())

	report, err := runBench(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	assert.Positive(t, report.Operations)
	// The device polls, so nothing is ever kicked
	assert.Zero(t, report.Client.KicksPerPost)

	var buf bytes.Buffer
	require.NoError(t, report.write(&buf, "yaml"))
	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "send", decoded["opcode"])
	assert.Equal(t, 64, decoded["payload_bytes"])
	assert.Contains(t, decoded, "batch_latency")
}

func TestRunBenchCancelled(t *testing.T) {
	cfg := &Config{Workers: 1, Duration: time.Hour, Size: "64", Batch: 1, Depth: 2, Opcode: "send", Doorbell: true, Output: "text"}
	require.NoError(t, cfg.validate())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := runBench(ctx, cfg, testLogger())
	assert.NoError(t, err)
}
