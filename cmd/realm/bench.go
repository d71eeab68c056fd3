package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	realmerrors "github.com/vango-dev/realm/internal/errors"
	"github.com/vango-dev/realm/pkg/client"
)

type benchConfig struct {
	Addr     string
	WS       string
	Clients  int
	Duration time.Duration
	Rate     float64
	Timeout  time.Duration
	JSONOut  string
}

type benchCounters struct {
	connected         atomic.Uint64
	handshakeFailed   atomic.Uint64
	dialFailed        atomic.Uint64
	pingsOK           atomic.Uint64
	pingsFailed       atomic.Uint64
	disconnectedEarly atomic.Uint64
}

func benchCmd() *cobra.Command {
	var cfg benchConfig

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Load a server with concurrent clients",
		Long: `Open many concurrent clients against a realm server. Each one
completes the handshake, then pings at a fixed rate until the run
ends. Prints round-trip latency percentiles and throughput.

Examples:
  realm bench --clients=200 --duration=30s --rate=5
  realm bench --ws=ws://localhost:9171/ws --json=report.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Clients < 1 || cfg.Duration <= 0 || cfg.Rate <= 0 {
				return realmerrors.New("R301").WithDetail("--clients, --duration and --rate must be positive.")
			}
			report := runBench(cmd.Context(), cfg)
			writeSummary(cmd.OutOrStdout(), report)
			if cfg.JSONOut != "" {
				return writeJSON(cfg.JSONOut, report)
			}
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&cfg.Addr, "addr", "a", "127.0.0.1:7171", "Server TCP address")
	fl.StringVar(&cfg.WS, "ws", "", "Connect over WebSocket to this URL instead of TCP")
	fl.IntVarP(&cfg.Clients, "clients", "n", 50, "Number of concurrent clients")
	fl.DurationVarP(&cfg.Duration, "duration", "d", 10*time.Second, "Length of the measured run")
	fl.Float64Var(&cfg.Rate, "rate", 2, "Pings per second per client")
	fl.DurationVar(&cfg.Timeout, "timeout", 5*time.Second, "Per-operation timeout")
	fl.StringVar(&cfg.JSONOut, "json", "", `Write a JSON report to this path ("-" for stdout)`)

	return cmd
}

// runBench runs every client to completion and builds the report.
func runBench(ctx context.Context, cfg benchConfig) benchReport {
	var (
		counters benchCounters
		mu       sync.Mutex
		samples  []time.Duration
	)

	deadline := time.Now().Add(cfg.Duration)
	start := time.Now()

	var g errgroup.Group
	for i := 0; i < cfg.Clients; i++ {
		g.Go(func() error {
			local := runClient(ctx, cfg, i, deadline, &counters)
			mu.Lock()
			samples = append(samples, local...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return buildReport(cfg, time.Since(start), samples, &counters)
}

// runClient drives one client until deadline and returns its RTT samples.
func runClient(ctx context.Context, cfg benchConfig, id int, deadline time.Time, counters *benchCounters) []time.Duration {
	opCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	c, err := dialClient(opCtx, cfg.Addr, cfg.WS, &client.Config{ClientName: fmt.Sprintf("bench-%d", id)})
	cancel()
	if err != nil {
		counters.dialFailed.Add(1)
		return nil
	}
	defer c.Close()

	opCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
	_, err = c.Handshake(opCtx)
	cancel()
	if err != nil {
		counters.handshakeFailed.Add(1)
		return nil
	}
	counters.connected.Add(1)

	interval := time.Duration(float64(time.Second) / cfg.Rate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var samples []time.Duration
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return samples
		case <-ticker.C:
		}

		opCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		rtt, err := c.Ping(opCtx)
		cancel()
		if err != nil {
			counters.pingsFailed.Add(1)
			if !isTimeout(err) {
				counters.disconnectedEarly.Add(1)
				return samples
			}
			continue
		}
		counters.pingsOK.Add(1)
		samples = append(samples, rtt)
	}
	return samples
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := int(math.Ceil(float64(len(sorted))*p)) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

type benchReport struct {
	Version    string         `json:"version"`
	Run        runInfo        `json:"run"`
	Workload   workloadInfo   `json:"workload"`
	LatencyMS  latencyInfo    `json:"latency_ms"`
	Throughput throughputInfo `json:"throughput"`
	Errors     errorInfo      `json:"errors"`
}

type runInfo struct {
	Timestamp string `json:"timestamp"`
	Go        string `json:"go"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	CPUCount  int    `json:"cpu_count"`
	Realm     string `json:"realm"`
}

type workloadInfo struct {
	Target        string  `json:"target"`
	Transport     string  `json:"transport"`
	Clients       int     `json:"clients"`
	DurationMS    int64   `json:"duration_ms"`
	RatePerClient float64 `json:"rate_per_client"`
}

type latencyInfo struct {
	Samples int     `json:"samples"`
	Min     float64 `json:"min"`
	P50     float64 `json:"p50"`
	P95     float64 `json:"p95"`
	P99     float64 `json:"p99"`
	Max     float64 `json:"max"`
}

type throughputInfo struct {
	Connected   uint64  `json:"connected"`
	PingsTotal  uint64  `json:"pings_total"`
	PingsPerSec float64 `json:"pings_per_sec"`
}

type errorInfo struct {
	TotalErrors       uint64 `json:"total_errors"`
	DialFailures      uint64 `json:"dial_failures"`
	HandshakeFailures uint64 `json:"handshake_failures"`
	PingFailures      uint64 `json:"ping_failures"`
	DisconnectedEarly uint64 `json:"disconnected_early"`
}

func buildReport(cfg benchConfig, elapsed time.Duration, samples []time.Duration, c *benchCounters) benchReport {
	slices.Sort(samples)

	target, transport := cfg.Addr, "tcp"
	if cfg.WS != "" {
		target, transport = cfg.WS, "websocket"
	}

	report := benchReport{
		Version: "1",
		Run: runInfo{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Go:        runtime.Version(),
			OS:        runtime.GOOS,
			Arch:      runtime.GOARCH,
			CPUCount:  runtime.NumCPU(),
			Realm:     version,
		},
		Workload: workloadInfo{
			Target:        target,
			Transport:     transport,
			Clients:       cfg.Clients,
			DurationMS:    cfg.Duration.Milliseconds(),
			RatePerClient: cfg.Rate,
		},
		Throughput: throughputInfo{
			Connected:  c.connected.Load(),
			PingsTotal: c.pingsOK.Load(),
		},
		Errors: errorInfo{
			DialFailures:      c.dialFailed.Load(),
			HandshakeFailures: c.handshakeFailed.Load(),
			PingFailures:      c.pingsFailed.Load(),
			DisconnectedEarly: c.disconnectedEarly.Load(),
		},
	}
	report.Errors.TotalErrors = report.Errors.DialFailures + report.Errors.HandshakeFailures + report.Errors.PingFailures
	if secs := elapsed.Seconds(); secs > 0 {
		report.Throughput.PingsPerSec = float64(report.Throughput.PingsTotal) / secs
	}
	if len(samples) > 0 {
		report.LatencyMS = latencyInfo{
			Samples: len(samples),
			Min:     ms(samples[0]),
			P50:     ms(percentile(samples, 0.50)),
			P95:     ms(percentile(samples, 0.95)),
			P99:     ms(percentile(samples, 0.99)),
			Max:     ms(samples[len(samples)-1]),
		}
	}
	return report
}

func writeSummary(w io.Writer, report benchReport) {
	fmt.Fprintln(w, "=== Realm Benchmark ===")
	fmt.Fprintf(w, "Target: %s (%s)\n", report.Workload.Target, report.Workload.Transport)
	fmt.Fprintf(w, "Clients: %d (%d connected)\n", report.Workload.Clients, report.Throughput.Connected)
	fmt.Fprintf(w, "Duration: %s\n", time.Duration(report.Workload.DurationMS)*time.Millisecond)
	fmt.Fprintf(w, "Target per-client rate: %.2f pings/s\n", report.Workload.RatePerClient)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Total pings: %d\n", report.Throughput.PingsTotal)
	fmt.Fprintf(w, "Throughput: %.1f pings/s\n", report.Throughput.PingsPerSec)
	fmt.Fprintf(w, "Errors: %d (dial %d, handshake %d, ping %d)\n",
		report.Errors.TotalErrors, report.Errors.DialFailures, report.Errors.HandshakeFailures, report.Errors.PingFailures)
	fmt.Fprintln(w)

	if report.LatencyMS.Samples == 0 {
		fmt.Fprintln(w, "No latency samples recorded.")
		return
	}
	fmt.Fprintln(w, "RTT (client send -> server -> client receive+decode):")
	fmt.Fprintf(w, "  min: %.2f ms\n", report.LatencyMS.Min)
	fmt.Fprintf(w, "  p50: %.2f ms\n", report.LatencyMS.P50)
	fmt.Fprintf(w, "  p95: %.2f ms\n", report.LatencyMS.P95)
	fmt.Fprintf(w, "  p99: %.2f ms\n", report.LatencyMS.P99)
	fmt.Fprintf(w, "  max: %.2f ms\n", report.LatencyMS.Max)
}

func writeJSON(path string, report benchReport) error {
	var out io.Writer
	if path == "-" {
		out = os.Stdout
	} else {
		file, err := os.Create(path)
		if err != nil {
			return err
		}
		defer file.Close()
		out = file
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
