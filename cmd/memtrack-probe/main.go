package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"

	"github.com/kvisser/memtrack"
)

type options struct {
	output     string
	interval   time.Duration
	budget     string
	duration   time.Duration
	phases     string
	allocMB    int
	jsonOutput bool
}

func parseFlags() options {
	defaultOutput := envOrDefault("MEMTRACK_OUTPUT", "memtrack.csv")

	var opts options
	flag.StringVar(&opts.output, "output", defaultOutput, "Path to the CSV output file")
	flag.DurationVar(&opts.interval, "interval", memtrack.DefaultGranularity, "Sampling interval")
	flag.StringVar(&opts.budget, "budget", "", "Buffer memory budget (e.g. 4MB), default 32MB")
	flag.DurationVar(&opts.duration, "duration", 2*time.Second, "How long to record per phase")
	flag.StringVar(&opts.phases, "phases", "", "Comma separated phase names to tag while recording")
	flag.IntVar(&opts.allocMB, "alloc", 0, "Megabytes to allocate per phase to exercise the counters")
	flag.BoolVar(&opts.jsonOutput, "json", false, "Emit the final summary as JSON")
	flag.Parse()
	return opts
}

func main() {
	opts := parseFlags()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg := memtrack.Config{
		Granularity: opts.interval,
		Logger:      logger.With("component", "monitor"),
	}

	if opts.budget != "" {
		budget, err := datasize.ParseString(opts.budget)
		if err != nil {
			logger.Error("invalid budget", "value", opts.budget, "err", err)
			os.Exit(1)
		}
		cfg.MemoryBudget = int64(budget.Bytes())
	}

	monitor, err := memtrack.New(opts.output, cfg)
	if err != nil {
		logger.Error("monitor init failed", "err", err)
		os.Exit(1)
	}

	fmt.Printf("Recording memory usage of pid %d to %s every %s\n",
		monitor.PID(), monitor.Path(), monitor.Granularity())

	// Balloon keeps per-phase allocations reachable so RSS actually moves.
	var balloon [][]byte

	phases := splitPhases(opts.phases)
	if len(phases) == 0 {
		time.Sleep(opts.duration)
	}
	for _, phase := range phases {
		monitor.Event(phase)
		if opts.allocMB > 0 {
			chunk := make([]byte, opts.allocMB<<20)
			for i := range chunk {
				chunk[i] = byte(i)
			}
			balloon = append(balloon, chunk)
		}
		time.Sleep(opts.duration)
	}
	_ = balloon

	if err := monitor.Close(); err != nil {
		logger.Error("monitor close failed", "err", err)
		os.Exit(1)
	}

	stats := monitor.Stats()

	if opts.jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(stats); err != nil {
			logger.Error("encode summary", "err", err)
			os.Exit(1)
		}
		return
	}

	fmt.Println()
	fmt.Println("Recording summary:")
	fmt.Println(strings.Repeat("-", 40))
	fmt.Printf("samples:        %d\n", stats.SamplesTotal)
	fmt.Printf("skipped cycles: %d\n", stats.CyclesSkipped)
	fmt.Printf("events:         %d\n", stats.Events)
	fmt.Printf("flushes:        %d\n", stats.Flushes)
	fmt.Printf("flush errors:   %d\n", stats.FlushErrors)
	fmt.Printf("bytes written:  %d\n", stats.BytesWritten)
}

func splitPhases(value string) []string {
	if value == "" {
		return nil
	}
	raw := strings.Split(value, ",")
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
