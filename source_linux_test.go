//go:build linux

package memtrack

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func writeProcStatus(t *testing.T, root string, pid int, content string) {
	t.Helper()
	dir := filepath.Join(root, strconv.Itoa(pid))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatalf("create proc entry: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "status"), []byte(content), 0o600); err != nil {
		t.Fatalf("write status file: %v", err)
	}
}

func TestProcStatSourceReadsCounters(t *testing.T) {
	t.Parallel()

	procRoot := t.TempDir()
	writeProcStatus(t, procRoot, 1234, ""+
		"Name:\tmemtrack-test\n"+
		"Pid:\t1234\n"+
		"VmPeak:\t  204800 kB\n"+
		"VmSize:\t  102400 kB\n"+
		"VmHWM:\t   51200 kB\n"+
		"VmRSS:\t   25600 kB\n")

	source, err := NewProcStatSource(procRoot, 1234)
	if err != nil {
		t.Fatalf("NewProcStatSource returned error: %v", err)
	}

	peak, err := source.PeakBytes()
	if err != nil {
		t.Fatalf("PeakBytes returned error: %v", err)
	}
	if want := uint64(204800) * 1024; peak != want {
		t.Fatalf("PeakBytes = %d, want %d", peak, want)
	}

	rss, err := source.ResidentBytes()
	if err != nil {
		t.Fatalf("ResidentBytes returned error: %v", err)
	}
	if want := uint64(25600) * 1024; rss != want {
		t.Fatalf("ResidentBytes = %d, want %d", rss, want)
	}
}

func TestProcStatSourceUnknownPID(t *testing.T) {
	t.Parallel()

	procRoot := t.TempDir()
	if _, err := NewProcStatSource(procRoot, 999); err == nil {
		t.Fatal("expected error for missing proc entry")
	}
}

func TestProcStatSourceMissingStatusFile(t *testing.T) {
	t.Parallel()

	procRoot := t.TempDir()
	if err := os.MkdirAll(filepath.Join(procRoot, "55"), 0o750); err != nil {
		t.Fatalf("create proc entry: %v", err)
	}

	source, err := NewProcStatSource(procRoot, 55)
	if err != nil {
		t.Fatalf("NewProcStatSource returned error: %v", err)
	}

	if _, err := source.PeakBytes(); err == nil {
		t.Fatal("expected error when status file is missing")
	}
}
