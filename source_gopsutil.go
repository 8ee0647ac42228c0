package memtrack

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessSource reads memory counters through gopsutil. It works on any
// platform gopsutil supports. Not every platform maintains a kernel-side
// peak counter, so the peak reported here is the highest virtual size
// observed through this source.
type ProcessSource struct {
	proc *process.Process
	peak atomic.Uint64
}

// NewProcessSource builds a gopsutil-backed stat source. pid <= 0
// selects the current process.
func NewProcessSource(pid int) (*ProcessSource, error) {
	if pid <= 0 {
		pid = os.Getpid()
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, fmt.Errorf("open process %d: %w", pid, err)
	}
	return &ProcessSource{proc: proc}, nil
}

func (s *ProcessSource) PeakBytes() (uint64, error) {
	info, err := s.proc.MemoryInfo()
	if err != nil {
		return 0, fmt.Errorf("read memory info: %w", err)
	}
	for {
		peak := s.peak.Load()
		if info.VMS <= peak {
			return peak, nil
		}
		if s.peak.CompareAndSwap(peak, info.VMS) {
			return info.VMS, nil
		}
	}
}

func (s *ProcessSource) ResidentBytes() (uint64, error) {
	info, err := s.proc.MemoryInfo()
	if err != nil {
		return 0, fmt.Errorf("read memory info: %w", err)
	}
	return info.RSS, nil
}
