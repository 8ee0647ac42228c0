// Package memtrack records the current process's peak virtual memory
// and resident set size at a fixed cadence and persists the series to a
// delimited text file for later analysis.
//
// It is meant to be dropped into a long-running computation with
// minimal code changes:
//
//	mon, err := memtrack.New("mem.csv", memtrack.Config{})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer mon.Close()
//
//	mon.Event("load")
//	loadData()
//	mon.Event("index")
//	buildIndex()
//
// A single background goroutine polls a StatSource on every cycle,
// stamps the reading with the most recently declared event, and buffers
// it in memory. The buffer is written out when its estimated footprint
// exceeds the configured budget, when the host calls Flush, and once
// more during Close. Close blocks until the sampling goroutine has
// exited and the final flush completed, so the output file always holds
// the complete series.
package memtrack
