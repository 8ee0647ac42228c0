package memtrack

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultGranularity is the interval between sampling cycles.
	DefaultGranularity = 50 * time.Millisecond
	// DefaultMemoryBudget bounds the buffer's estimated footprint
	// before a flush is forced.
	DefaultMemoryBudget = 32 << 20
)

// Config tunes a Monitor. The zero value selects defaults.
type Config struct {
	// Granularity is the sampling interval. Zero selects
	// DefaultGranularity; negative values are rejected.
	Granularity time.Duration
	// MemoryBudget is the estimated buffer footprint, in bytes, above
	// which a flush is triggered. Zero selects DefaultMemoryBudget;
	// negative values are rejected.
	MemoryBudget int64
	// Source supplies memory readings. Nil selects the platform
	// default.
	Source StatSource
	// ProcRoot overrides the proc filesystem root used by the default
	// Linux source. Ignored when Source is set.
	ProcRoot string
	// Logger receives diagnostics. Nil selects slog.Default.
	Logger *slog.Logger
}

// Stats describes a Monitor's activity counters.
type Stats struct {
	SamplesTotal  uint64 `json:"samples_total"`
	CyclesSkipped uint64 `json:"cycles_skipped"`
	Flushes       uint64 `json:"flushes"`
	FlushErrors   uint64 `json:"flush_errors"`
	BytesWritten  uint64 `json:"bytes_written"`
	Buffered      int    `json:"buffered"`
	Events        int    `json:"events"`
}

// Monitor samples the current process's memory usage from a background
// goroutine and persists the series as delimited text. A stopped
// Monitor cannot be restarted; create a fresh one instead.
type Monitor struct {
	granularity time.Duration
	budget      int64
	source      StatSource
	logger      *slog.Logger

	start  time.Time
	pid    int
	path   string
	out    *os.File
	events *eventRegistry

	mu            sync.Mutex // guards buf, headerWritten and output writes
	buf           sampleBuffer
	headerWritten bool

	subMu       sync.Mutex
	subscribers map[*subscriber]struct{}
	latest      atomic.Pointer[Sample]

	samplesTotal  atomic.Uint64
	cyclesSkipped atomic.Uint64
	flushes       atomic.Uint64
	flushErrors   atomic.Uint64
	bytesWritten  atomic.Uint64

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// New opens path for writing, truncating any previous contents, and
// starts the sampling goroutine. The caller must Close the returned
// Monitor to stop sampling and drain buffered samples.
func New(path string, cfg Config) (*Monitor, error) {
	if cfg.Granularity < 0 {
		return nil, fmt.Errorf("granularity must be >= 0, got %s", cfg.Granularity)
	}
	if cfg.Granularity == 0 {
		cfg.Granularity = DefaultGranularity
	}
	if cfg.MemoryBudget < 0 {
		return nil, fmt.Errorf("memory budget must be >= 0, got %d", cfg.MemoryBudget)
	}
	if cfg.MemoryBudget == 0 {
		cfg.MemoryBudget = DefaultMemoryBudget
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	source := cfg.Source
	if source == nil {
		var err error
		source, err = newDefaultStatSource(cfg.ProcRoot)
		if err != nil {
			return nil, fmt.Errorf("init stat source: %w", err)
		}
	}

	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}

	m := &Monitor{
		granularity: cfg.Granularity,
		budget:      cfg.MemoryBudget,
		source:      source,
		logger:      logger.With("component", "memtrack"),
		start:       time.Now(),
		pid:         os.Getpid(),
		path:        path,
		out:         out,
		events:      newEventRegistry(),
		subscribers: make(map[*subscriber]struct{}),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}

	go m.run()
	return m, nil
}

// run is the sampling loop. It captures one reading per cycle and waits
// for either the granularity to elapse or the stop signal, whichever
// comes first.
func (m *Monitor) run() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.granularity)
	defer ticker.Stop()

	for {
		m.cycle()

		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) cycle() {
	sample, err := m.capture()
	if err != nil {
		// A transient stat query failure must not kill monitoring.
		m.cyclesSkipped.Add(1)
		m.logger.Warn("memory stat query failed, skipping cycle", "err", err)
		return
	}

	m.mu.Lock()
	m.buf.append(sample)
	over := m.buf.estimatedBytes() > uint64(m.budget)
	m.mu.Unlock()

	m.samplesTotal.Add(1)
	m.publish(sample)

	if over {
		if err := m.Flush(); err != nil {
			m.logger.Warn("cycle flush failed, retaining buffer", "err", err)
		}
	}
}

func (m *Monitor) capture() (Sample, error) {
	peak, err := m.source.PeakBytes()
	if err != nil {
		return Sample{}, err
	}
	rss, err := m.source.ResidentBytes()
	if err != nil {
		return Sample{}, err
	}

	id := m.events.currentID()
	return Sample{
		Elapsed: time.Since(m.start),
		PID:     m.pid,
		VMPeak:  peak,
		VMRSS:   rss,
		EventID: id,
		Event:   m.events.name(id),
	}, nil
}

// Event declares a named phase of the host's execution; samples
// captured from now on are stamped with it. Event never blocks beyond
// the registry's internal locking.
func (m *Monitor) Event(name string) {
	id := m.events.declare(name)
	m.logger.Debug("event declared", "event", name, "id", id)
}

// Flush writes every buffered sample, in capture order, to the output
// file and clears the buffer. A flush of an empty buffer writes nothing.
// Safe to call concurrently with the sampling loop.
func (m *Monitor) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushLocked()
}

func (m *Monitor) flushLocked() error {
	if m.buf.len() == 0 {
		return nil
	}

	// Serialize into one buffer and issue a single write, so a failed
	// flush leaves the samples in place for a later retry.
	var out bytes.Buffer
	if !m.headerWritten {
		out.WriteString(header)
	}
	if err := m.buf.encode(&out); err != nil {
		m.flushErrors.Add(1)
		return fmt.Errorf("encode samples: %w", err)
	}

	n, err := m.out.Write(out.Bytes())
	if err != nil {
		m.flushErrors.Add(1)
		return fmt.Errorf("write samples: %w", err)
	}

	m.headerWritten = true
	m.bytesWritten.Add(uint64(n))
	m.flushes.Add(1)
	m.buf.clear()
	return nil
}

// Close stops the sampling loop, waits for it to exit, performs one
// final flush and closes the output file. The final flush error
// propagates: it is the last chance to report data loss. Safe for
// repeated use; later calls return the first result.
func (m *Monitor) Close() error {
	m.closeOnce.Do(func() {
		close(m.stopCh)
		<-m.doneCh

		m.closeSubscribers()

		var errs []error
		if err := m.Flush(); err != nil {
			errs = append(errs, err)
		}
		if err := m.out.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("sync output file: %w", err))
		}
		if err := m.out.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close output file: %w", err))
		}
		m.closeErr = errors.Join(errs...)
	})
	return m.closeErr
}

// Latest returns the most recently captured sample.
func (m *Monitor) Latest() (Sample, bool) {
	if latest := m.latest.Load(); latest != nil {
		return *latest, true
	}
	return Sample{}, false
}

// Stats returns a snapshot of the monitor's activity counters.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	buffered := m.buf.len()
	m.mu.Unlock()

	return Stats{
		SamplesTotal:  m.samplesTotal.Load(),
		CyclesSkipped: m.cyclesSkipped.Load(),
		Flushes:       m.flushes.Load(),
		FlushErrors:   m.flushErrors.Load(),
		BytesWritten:  m.bytesWritten.Load(),
		Buffered:      buffered,
		Events:        m.events.declared(),
	}
}

// PID returns the monitored process id.
func (m *Monitor) PID() int { return m.pid }

// Granularity returns the configured sampling interval.
func (m *Monitor) Granularity() time.Duration { return m.granularity }

// Path returns the output file path.
func (m *Monitor) Path() string { return m.path }

// Subscribe registers a listener for newly captured samples. The
// returned function unsubscribes. Slow listeners lose the oldest
// undelivered sample rather than stalling the loop.
func (m *Monitor) Subscribe() (<-chan Sample, func()) {
	sub := newSubscriber()

	m.subMu.Lock()
	if m.subscribers == nil {
		m.subMu.Unlock()
		sub.close()
		return sub.channel(), func() {}
	}
	m.subscribers[sub] = struct{}{}
	m.subMu.Unlock()

	if latest := m.latest.Load(); latest != nil {
		sub.send(*latest)
	}

	return sub.channel(), func() { m.removeSubscriber(sub) }
}

func (m *Monitor) publish(sample Sample) {
	m.latest.Store(&sample)

	m.subMu.Lock()
	targets := make([]*subscriber, 0, len(m.subscribers))
	for sub := range m.subscribers {
		targets = append(targets, sub)
	}
	m.subMu.Unlock()

	for _, sub := range targets {
		sub.send(sample)
	}
}

func (m *Monitor) removeSubscriber(sub *subscriber) {
	m.subMu.Lock()
	if m.subscribers != nil {
		delete(m.subscribers, sub)
	}
	m.subMu.Unlock()
	sub.close()
}

func (m *Monitor) closeSubscribers() {
	m.subMu.Lock()
	subs := m.subscribers
	m.subscribers = nil
	m.subMu.Unlock()

	for sub := range subs {
		sub.close()
	}
}

type subscriber struct {
	ch     chan Sample
	mu     sync.Mutex
	closed bool
}

func newSubscriber() *subscriber {
	return &subscriber{
		ch: make(chan Sample, 1),
	}
}

func (s *subscriber) channel() <-chan Sample {
	return s.ch
}

func (s *subscriber) send(sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- sample:
		return
	default:
	}
	// Drop oldest to make room for the new sample.
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- sample:
	default:
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	close(s.ch)
	s.closed = true
}
