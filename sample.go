package memtrack

import "time"

// Sample is a single memory observation. Samples are immutable once
// captured.
type Sample struct {
	Elapsed time.Duration `json:"elapsed"`
	PID     int           `json:"pid"`
	VMPeak  uint64        `json:"vm_peak_bytes"`
	VMRSS   uint64        `json:"vm_rss_bytes"`
	EventID uint64        `json:"event_id"`
	Event   string        `json:"event"`
}

// TimeMS returns the value written to the time_ms column: the elapsed
// time truncated to milliseconds plus one, so the first sample never
// reads zero.
func (s Sample) TimeMS() int64 {
	return s.Elapsed.Milliseconds() + 1
}

// sampleFootprint approximates the in-memory cost of one buffered
// sample for the budget check. Event name storage is shared through the
// registry and not counted, so the memory budget is a best-effort
// ceiling rather than a hard guarantee.
const sampleFootprint = 64
