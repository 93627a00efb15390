package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ehrlich-b/go-vrdma"
)

// Config is the benchmark configuration. Values come from, in increasing
// priority, defaults, vrdma-bench.yaml, VRDMA_* environment variables and
// flags.
type Config struct {
	Workers  int           `mapstructure:"workers"`
	Duration time.Duration `mapstructure:"duration"`
	Size     string        `mapstructure:"size"`
	Batch    int           `mapstructure:"batch"`
	Depth    int           `mapstructure:"depth"`
	Opcode   string        `mapstructure:"opcode"`
	Inline   bool          `mapstructure:"inline"`

	Doorbell bool `mapstructure:"doorbell"`
	Polling  bool `mapstructure:"polling"`

	Output      string `mapstructure:"output"`
	MetricsAddr string `mapstructure:"metrics_addr"`

	Log LogConfig `mapstructure:"log"`

	payload int
}

// maxDepth keeps the shared CQ, which holds two completions per request,
// within ring limits.
const maxDepth = 16384

// LogConfig selects the log level and format.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("workers", 1)
	v.SetDefault("duration", 5*time.Second)
	v.SetDefault("size", "4K")
	v.SetDefault("batch", 16)
	v.SetDefault("depth", vrdma.DefaultQueueDepth)
	v.SetDefault("opcode", "send")
	v.SetDefault("doorbell", true)
	v.SetDefault("output", "text")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"workers":      "workers",
	"duration":     "duration",
	"size":         "size",
	"batch":        "batch",
	"depth":        "depth",
	"opcode":       "opcode",
	"inline":       "inline",
	"doorbell":     "doorbell",
	"polling":      "polling",
	"output":       "output",
	"metrics-addr": "metrics_addr",
	"log-level":    "log.level",
	"log-format":   "log.format",
}

func addFlags(fs *pflag.FlagSet) {
	fs.Int("workers", 1, "Number of queue pair pairs driven concurrently")
	fs.Duration("duration", 5*time.Second, "How long to run")
	fs.String("size", "4K", "Payload size per work request (e.g., 64, 4K, 1M)")
	fs.Int("batch", 16, "Work requests per post call")
	fs.Int("depth", vrdma.DefaultQueueDepth, "Send and receive queue depth")
	fs.String("opcode", "send", "Operation: send, write or read")
	fs.Bool("inline", false, "Carry the payload inline in the send record")
	fs.Bool("doorbell", true, "Export doorbell words instead of using the command channel")
	fs.Bool("polling", false, "Let the device poll its rings so posts skip notifications")
	fs.String("output", "text", "Report format: text or yaml")
	fs.String("metrics-addr", "", "Serve Prometheus metrics on this address while running")
}

// loadConfig reads the configuration file (an explicit path, or
// vrdma-bench.yaml in the usual places) and overlays environment and flags.
func loadConfig(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("vrdma-bench")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/vrdma")
		v.AddConfigPath("$HOME/.vrdma")

		// A missing file is fine
		_ = v.ReadInConfig()
	}

	v.SetEnvPrefix("VRDMA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for name, key := range flagKeys {
		if f := flags.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	size, err := parseSize(c.Size)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", c.Size, err)
	}
	if size <= 0 || size > 1<<30 {
		return fmt.Errorf("size %d out of range", size)
	}
	c.payload = int(size)

	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.Duration <= 0 {
		return fmt.Errorf("duration must be positive, got %s", c.Duration)
	}
	if c.Depth < 1 || c.Depth > maxDepth {
		return fmt.Errorf("depth must be in [1, %d], got %d", maxDepth, c.Depth)
	}
	if c.Batch < 1 || c.Batch > c.Depth {
		return fmt.Errorf("batch must be in [1, %d], got %d", c.Depth, c.Batch)
	}
	switch c.Opcode {
	case "send", "write", "read":
	default:
		return fmt.Errorf("unknown opcode %q", c.Opcode)
	}
	if c.Inline && c.Opcode == "read" {
		return fmt.Errorf("inline does not apply to reads")
	}
	switch c.Output {
	case "text", "yaml":
	default:
		return fmt.Errorf("unknown output format %q", c.Output)
	}
	return nil
}

func (c *Config) opcode() vrdma.WROpcode {
	switch c.Opcode {
	case "write":
		return vrdma.WRRDMAWrite
	case "read":
		return vrdma.WRRDMARead
	default:
		return vrdma.WRSend
	}
}
