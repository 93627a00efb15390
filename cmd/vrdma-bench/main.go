package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/go-vrdma"
	"github.com/ehrlich-b/go-vrdma/internal/logging"
)

var (
	// Version is set at build time
	Version = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "vrdma-bench",
		Short: "Exercise the virtio-rdma data path",
		Long: `vrdma-bench drives queue pairs through the userspace data path.

The run command benchmarks posting and polling against an in-process
loopback device. The probe command opens a real uverbs device and creates
and destroys one completion queue and one queue pair.

Configuration is read from vrdma-bench.yaml (current directory,
/etc/vrdma or ~/.vrdma), VRDMA_* environment variables and flags.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Configuration file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format: text or json")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newProbeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Benchmark the data path over a loopback device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := loadConfig(configPath, cmd.Flags())
			if err != nil {
				return err
			}
			logger, err := setupLogging(cfg.Log)
			if err != nil {
				return err
			}
			defer logger.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			dumpStacksOnSignal(logger)

			report, err := runBench(ctx, cfg, logger)
			if err != nil {
				return err
			}
			return report.write(os.Stdout, cfg.Output)
		},
	}
	addFlags(cmd.Flags())
	return cmd
}

func newProbeCmd() *cobra.Command {
	var useURing bool
	cmd := &cobra.Command{
		Use:   "probe [uverbs-device]",
		Short: "Create and destroy a CQ and a queue pair on a uverbs device",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := loadConfig(configPath, cmd.Flags())
			if err != nil {
				return err
			}
			logger, err := setupLogging(cfg.Log)
			if err != nil {
				return err
			}
			defer logger.Close()

			path := vrdma.DefaultUverbsPath
			if len(args) == 1 {
				path = args[0]
			}
			return probe(path, useURing, logger)
		},
	}
	cmd.Flags().BoolVar(&useURing, "uring", false, "Send commands through io_uring")
	return cmd
}

func probe(path string, useURing bool, logger *logging.Logger) error {
	ctx, err := vrdma.Open(path, &vrdma.Options{Logger: logger, URing: useURing})
	if err != nil {
		return err
	}
	defer ctx.Close()

	cq, err := ctx.CreateCQ(vrdma.DefaultCQParams())
	if err != nil {
		return err
	}
	qp, err := ctx.CreateQP(vrdma.DefaultQPParams(cq))
	if err != nil {
		return err
	}
	caps := qp.Caps()

	fmt.Printf("Device: %s\n", path)
	fmt.Printf("CQ: handle %d, %d slots\n", cq.Handle(), cq.Depth())
	fmt.Printf("QP: handle %d, qpn %#x, %s\n", qp.Handle(), qp.QPN(), qp.Type())
	fmt.Printf("  send: %d requests, %d SGEs, %d inline bytes\n", caps.MaxSendWR, caps.MaxSendSGE, caps.MaxInlineData)
	fmt.Printf("  recv: %d requests, %d SGEs\n", caps.MaxRecvWR, caps.MaxRecvSGE)

	if err := qp.Destroy(); err != nil {
		return err
	}
	if err := cq.Destroy(); err != nil {
		return err
	}
	for k, v := range ctx.DeviceStats() {
		fmt.Printf("  %s: %d\n", k, v)
	}
	return nil
}

func setupLogging(cfg LogConfig) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	logConfig := logging.DefaultConfig()
	logConfig.Level = level
	logConfig.Format = cfg.Format
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)
	return logger, nil
}

// dumpStacksOnSignal writes all goroutine stacks to stderr and a file on
// SIGUSR1.
func dumpStacksOnSignal(logger *logging.Logger) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	go func() {
		for range ch {
			buf := make([]byte, 1024*1024)
			n := runtime.Stack(buf, true)
			fmt.Fprintf(os.Stderr, "\n=== FULL GOROUTINE STACK DUMP ===\n%s\n=== END STACK DUMP ===\n\n", buf[:n])

			filename := fmt.Sprintf("vrdma-bench-stacks-%d.txt", time.Now().Unix())
			if f, err := os.Create(filename); err == nil {
				fmt.Fprintf(f, "Goroutine stack dump at %s\n", time.Now().Format(time.RFC3339))
				fmt.Fprintf(f, "Process ID: %d\n\n", os.Getpid())
				f.Write(buf[:n])
				fmt.Fprintf(f, "\n\n=== GOROUTINE PROFILE ===\n")
				pprof.Lookup("goroutine").WriteTo(f, 2)
				f.Close()
				logger.Info("stack trace written to file", "file", filename)
			}
		}
	}()
}

// parseSize parses a size string like "64", "4K", "1M"
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))

	var multiplier int64 = 1
	numStr := s
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "G")
	}

	num, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, err
	}
	return num * multiplier, nil
}

// formatSize formats a byte count as a human-readable string
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	units := []string{"K", "M", "G", "T"}
	return fmt.Sprintf("%.1f %sB", float64(bytes)/float64(div), units[exp])
}
