package memtrack

import (
	"fmt"
	"io"
)

// header is written once across the monitor's lifetime, before the
// first data line.
const header = "time_ms;pid;VmPeak;VmRSS;event\n"

// sampleBuffer holds captured samples awaiting persistence. It performs
// no synchronization of its own; the Monitor serializes access to it.
type sampleBuffer struct {
	samples []Sample
}

func (b *sampleBuffer) append(s Sample) {
	b.samples = append(b.samples, s)
}

func (b *sampleBuffer) len() int {
	return len(b.samples)
}

// estimatedBytes approximates the buffer's memory footprint as
// count x fixed per-sample size.
func (b *sampleBuffer) estimatedBytes() uint64 {
	return uint64(len(b.samples)) * sampleFootprint
}

// encode writes every buffered sample, in append order, as one
// semicolon-delimited line each. The buffer is not cleared here.
func (b *sampleBuffer) encode(w io.Writer) error {
	for _, s := range b.samples {
		if _, err := fmt.Fprintf(w, "%d;%d;%d;%d;%q\n", s.TimeMS(), s.PID, s.VMPeak, s.VMRSS, s.Event); err != nil {
			return err
		}
	}
	return nil
}

func (b *sampleBuffer) clear() {
	b.samples = b.samples[:0]
}
