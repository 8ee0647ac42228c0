//go:build !linux

package memtrack

// Proc filesystem roots only apply on Linux; elsewhere gopsutil is the
// default source.
func newDefaultStatSource(_ string) (StatSource, error) {
	return NewProcessSource(0)
}
