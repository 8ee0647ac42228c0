package memtrack

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// stubSource returns synthetic, strictly growing counters. failEvery
// makes every n-th cycle fail at the peak query.
type stubSource struct {
	mu        sync.Mutex
	peak      uint64
	rss       uint64
	cycles    int
	failEvery int
}

func (s *stubSource) PeakBytes() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles++
	if s.failEvery > 0 && s.cycles%s.failEvery == 0 {
		return 0, errors.New("stat source unavailable")
	}
	s.peak += 4096
	return s.peak, nil
}

func (s *stubSource) ResidentBytes() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rss += 1024
	return s.rss, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

type outputLine struct {
	timeMS int64
	pid    int
	peak   uint64
	rss    uint64
	event  string
}

func readOutput(t *testing.T, path string) (headers int, lines []outputLine) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output file: %v", err)
	}
	for _, raw := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if raw == "" {
			continue
		}
		if raw == strings.TrimSuffix(header, "\n") {
			headers++
			continue
		}
		fields := strings.Split(raw, ";")
		if len(fields) != 5 {
			t.Fatalf("malformed line %q", raw)
		}
		timeMS, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			t.Fatalf("parse time_ms in %q: %v", raw, err)
		}
		pid, err := strconv.Atoi(fields[1])
		if err != nil {
			t.Fatalf("parse pid in %q: %v", raw, err)
		}
		peak, err := strconv.ParseUint(fields[2], 10, 64)
		if err != nil {
			t.Fatalf("parse VmPeak in %q: %v", raw, err)
		}
		rss, err := strconv.ParseUint(fields[3], 10, 64)
		if err != nil {
			t.Fatalf("parse VmRSS in %q: %v", raw, err)
		}
		event, err := strconv.Unquote(fields[4])
		if err != nil {
			t.Fatalf("parse event in %q: %v", raw, err)
		}
		lines = append(lines, outputLine{timeMS: timeMS, pid: pid, peak: peak, rss: rss, event: event})
	}
	return headers, lines
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	if _, err := New(filepath.Join(t.TempDir(), "out.csv"), Config{Granularity: -time.Second, Source: &stubSource{}}); err == nil {
		t.Fatal("expected error for negative granularity")
	}

	if _, err := New(filepath.Join(t.TempDir(), "out.csv"), Config{MemoryBudget: -1, Source: &stubSource{}}); err == nil {
		t.Fatal("expected error for negative memory budget")
	}

	missing := filepath.Join(t.TempDir(), "no", "such", "dir", "out.csv")
	if _, err := New(missing, Config{Source: &stubSource{}}); err == nil {
		t.Fatal("expected error for unopenable output path")
	}
}

func TestMonitorLifecycleWithEvent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.csv")
	mon, err := New(path, Config{
		Granularity: 10 * time.Millisecond,
		Source:      &stubSource{},
		Logger:      testLogger(),
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	time.Sleep(55 * time.Millisecond)
	mon.Event("phase-a")
	time.Sleep(20 * time.Millisecond)

	if err := mon.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	headers, lines := readOutput(t, path)
	if headers != 1 {
		t.Fatalf("expected exactly one header line, got %d", headers)
	}
	if len(lines) < 3 {
		t.Fatalf("expected several data lines, got %d", len(lines))
	}

	stats := mon.Stats()
	if uint64(len(lines)) != stats.SamplesTotal {
		t.Fatalf("output has %d lines but %d samples were captured", len(lines), stats.SamplesTotal)
	}
	if stats.Buffered != 0 {
		t.Fatalf("expected empty buffer after Close, got %d", stats.Buffered)
	}
	if stats.Events != 1 {
		t.Fatalf("expected 1 declared event, got %d", stats.Events)
	}

	var (
		prevMS  int64
		sawBare bool
		sawTag  bool
	)
	for i, line := range lines {
		if line.timeMS <= 0 {
			t.Fatalf("line %d has non-positive time_ms %d", i, line.timeMS)
		}
		if line.timeMS < prevMS {
			t.Fatalf("time_ms decreased at line %d: %d after %d", i, line.timeMS, prevMS)
		}
		prevMS = line.timeMS

		if line.pid != mon.PID() {
			t.Fatalf("line %d has pid %d, want %d", i, line.pid, mon.PID())
		}

		switch line.event {
		case "":
			if sawTag {
				t.Fatalf("empty event after phase-a at line %d", i)
			}
			sawBare = true
		case "phase-a":
			sawTag = true
		default:
			t.Fatalf("unexpected event %q at line %d", line.event, i)
		}
	}
	if !sawBare {
		t.Fatal("expected samples before the event declaration")
	}
	if !sawTag {
		t.Fatal("expected samples stamped with phase-a")
	}
}

func TestMonitorTinyBudgetFlushesIncrementally(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.csv")
	mon, err := New(path, Config{
		Granularity:  5 * time.Millisecond,
		MemoryBudget: 2 * sampleFootprint,
		Source:       &stubSource{},
		Logger:       testLogger(),
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	// The budget fits two samples, so the file must start growing well
	// before teardown.
	waitFor(t, time.Second, func() bool {
		info, err := os.Stat(path)
		return err == nil && info.Size() > 0
	})

	time.Sleep(50 * time.Millisecond)

	if err := mon.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	stats := mon.Stats()
	if stats.Flushes < 2 {
		t.Fatalf("expected multiple flushes with a tiny budget, got %d", stats.Flushes)
	}

	headers, lines := readOutput(t, path)
	if headers != 1 {
		t.Fatalf("expected exactly one header line across flushes, got %d", headers)
	}
	if uint64(len(lines)) != stats.SamplesTotal {
		t.Fatalf("output has %d lines but %d samples were captured", len(lines), stats.SamplesTotal)
	}
}

func TestMonitorSurvivesSourceFailures(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.csv")
	src := &stubSource{failEvery: 3}
	mon, err := New(path, Config{
		Granularity: 5 * time.Millisecond,
		Source:      src,
		Logger:      testLogger(),
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		return mon.Stats().CyclesSkipped >= 2
	})

	if err := mon.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	stats := mon.Stats()
	if stats.SamplesTotal == 0 {
		t.Fatal("expected samples despite intermittent failures")
	}
	if stats.CyclesSkipped < 2 {
		t.Fatalf("expected skipped cycles, got %d", stats.CyclesSkipped)
	}

	_, lines := readOutput(t, path)
	if uint64(len(lines)) != stats.SamplesTotal {
		t.Fatalf("output has %d lines but %d samples were captured", len(lines), stats.SamplesTotal)
	}
}

func TestMonitorManualFlush(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.csv")
	mon, err := New(path, Config{
		Granularity: 5 * time.Millisecond,
		Source:      &stubSource{},
		Logger:      testLogger(),
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	defer mon.Close()

	waitFor(t, time.Second, func() bool {
		return mon.Stats().SamplesTotal >= 1
	})

	if err := mon.Flush(); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}

	headers, lines := readOutput(t, path)
	if headers != 1 {
		t.Fatalf("expected one header after manual flush, got %d", headers)
	}
	if len(lines) == 0 {
		t.Fatal("expected flushed samples in output")
	}

	// Flushing an empty buffer writes nothing and never repeats the
	// header.
	before, _ := os.Stat(path)
	mon.mu.Lock()
	empty := mon.buf.len() == 0
	mon.mu.Unlock()
	if empty {
		if err := mon.Flush(); err != nil {
			t.Fatalf("empty Flush returned error: %v", err)
		}
		after, _ := os.Stat(path)
		if after.Size() != before.Size() {
			t.Fatalf("empty flush changed file size from %d to %d", before.Size(), after.Size())
		}
	}
}

func TestMonitorCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.csv")
	mon, err := New(path, Config{
		Granularity: 5 * time.Millisecond,
		Source:      &stubSource{},
		Logger:      testLogger(),
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	if err := mon.Close(); err != nil {
		t.Fatalf("first Close returned error: %v", err)
	}
	if err := mon.Close(); err != nil {
		t.Fatalf("second Close returned error: %v", err)
	}
}

func TestMonitorSubscribe(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.csv")
	mon, err := New(path, Config{
		Granularity: 5 * time.Millisecond,
		Source:      &stubSource{},
		Logger:      testLogger(),
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	defer mon.Close()

	ch, unsubscribe := mon.Subscribe()
	defer unsubscribe()

	select {
	case sample, ok := <-ch:
		if !ok {
			t.Fatal("subscription channel closed unexpectedly")
		}
		if sample.PID != mon.PID() {
			t.Fatalf("sample pid %d, want %d", sample.PID, mon.PID())
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sample")
	}

	if _, ok := mon.Latest(); !ok {
		t.Fatal("expected Latest to return a sample")
	}
}

func TestMonitorSubscribeAfterClose(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.csv")
	mon, err := New(path, Config{
		Granularity: 5 * time.Millisecond,
		Source:      &stubSource{},
		Logger:      testLogger(),
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := mon.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	ch, unsubscribe := mon.Subscribe()
	defer unsubscribe()

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel from Subscribe after Close")
	}
}

func TestMonitorFlushFailureRetainsBuffer(t *testing.T) {
	t.Parallel()

	// /dev/full accepts the open but fails every write with ENOSPC.
	if _, err := os.Stat("/dev/full"); err != nil {
		t.Skipf("/dev/full unavailable: %v", err)
	}

	mon, err := New("/dev/full", Config{
		Granularity: 5 * time.Millisecond,
		Source:      &stubSource{},
		Logger:      testLogger(),
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return mon.Stats().Buffered > 0
	})

	if err := mon.Flush(); err == nil {
		t.Fatal("expected Flush to report the write failure")
	}

	stats := mon.Stats()
	if stats.FlushErrors == 0 {
		t.Fatal("expected flush error counter to advance")
	}
	if stats.Buffered == 0 {
		t.Fatal("expected samples to remain buffered after a failed flush")
	}
	if stats.Flushes != 0 {
		t.Fatalf("expected no completed flushes, got %d", stats.Flushes)
	}
	if stats.BytesWritten != 0 {
		t.Fatalf("expected no bytes written, got %d", stats.BytesWritten)
	}

	// The final flush failing is the last chance to report data loss,
	// so Close must surface it.
	if err := mon.Close(); err == nil {
		t.Fatal("expected Close to report the failed final flush")
	}
}
