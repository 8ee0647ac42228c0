//go:build linux

package memtrack

import (
	"fmt"
	"os"

	"github.com/prometheus/procfs"
)

// ProcStatSource reads VmPeak and VmRSS from /proc/<pid>/status.
type ProcStatSource struct {
	proc procfs.Proc
}

// NewProcStatSource builds a stat source over the given proc filesystem
// root. An empty root defaults to /proc; pid <= 0 selects the current
// process.
func NewProcStatSource(procRoot string, pid int) (*ProcStatSource, error) {
	if procRoot == "" {
		procRoot = procfs.DefaultMountPoint
	}
	if pid <= 0 {
		pid = os.Getpid()
	}

	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		return nil, fmt.Errorf("open proc filesystem: %w", err)
	}
	proc, err := fs.Proc(pid)
	if err != nil {
		return nil, fmt.Errorf("open proc entry for pid %d: %w", pid, err)
	}

	return &ProcStatSource{proc: proc}, nil
}

func (s *ProcStatSource) PeakBytes() (uint64, error) {
	status, err := s.proc.NewStatus()
	if err != nil {
		return 0, fmt.Errorf("read proc status: %w", err)
	}
	return status.VmPeak, nil
}

func (s *ProcStatSource) ResidentBytes() (uint64, error) {
	status, err := s.proc.NewStatus()
	if err != nil {
		return 0, fmt.Errorf("read proc status: %w", err)
	}
	return status.VmRSS, nil
}

func newDefaultStatSource(procRoot string) (StatSource, error) {
	return NewProcStatSource(procRoot, 0)
}
