package memtrack

// StatSource reads the current process's memory counters. A failing
// read only skips the current sampling cycle; it never stops the
// monitor.
type StatSource interface {
	// PeakBytes returns the peak virtual memory size in bytes.
	PeakBytes() (uint64, error)
	// ResidentBytes returns the current resident set size in bytes.
	ResidentBytes() (uint64, error)
}
