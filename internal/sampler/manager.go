// Package sampler periodically snapshots watched processes and fans the
// results out to subscribers.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ErrClosed is returned by Subscribe once the manager has been closed.
var ErrClosed = errors.New("sampler closed")

// Manager runs one sampling loop per watched pid. A loop starts with the first
// subscriber of a pid and stops when its last subscriber leaves.
type Manager struct {
	interval time.Duration
	source   Snapshotter
	logger   *slog.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu        sync.Mutex
	streams   map[int]*stream
	closed    bool
	closeOnce sync.Once
}

type stream struct {
	pid         int
	cancel      context.CancelFunc
	done        chan struct{}
	subscribers map[*subscriber]struct{}
	latest      *Sample
}

// NewManager builds a Manager sampling source every interval.
func NewManager(interval time.Duration, source Snapshotter, logger *slog.Logger) (*Manager, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be > 0")
	}
	if source == nil {
		return nil, fmt.Errorf("snapshot source is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		interval:   interval,
		source:     source,
		logger:     logger.With("component", "sampler_manager"),
		baseCtx:    ctx,
		baseCancel: cancel,
		streams:    make(map[int]*stream),
	}, nil
}

// Run blocks until ctx is cancelled, then stops every sampling loop.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("sampler started", "interval", m.interval)
	<-ctx.Done()
	m.logger.Info("sampler stopping", "reason", ctx.Err())
	return m.Close()
}

// Subscribe registers for snapshots of pid. The returned channel holds at most
// one pending sample; slow readers only ever see the newest one.
func (m *Manager) Subscribe(pid int) (<-chan Sample, func(), error) {
	if pid <= 0 {
		return nil, nil, fmt.Errorf("invalid pid %d", pid)
	}

	sub := newSubscriber()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, nil, ErrClosed
	}
	st, ok := m.streams[pid]
	if !ok {
		ctx, cancel := context.WithCancel(m.baseCtx)
		st = &stream{
			pid:         pid,
			cancel:      cancel,
			done:        make(chan struct{}),
			subscribers: make(map[*subscriber]struct{}),
		}
		m.streams[pid] = st
		go m.runStream(ctx, st)
	}
	st.subscribers[sub] = struct{}{}
	if st.latest != nil {
		sub.send(*st.latest)
	}
	m.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() { m.removeSubscriber(st, sub) })
	}
	return sub.channel(), unsubscribe, nil
}

// Latest returns the most recent sample of pid, if it is being watched.
func (m *Manager) Latest(pid int) (Sample, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.streams[pid]
	if !ok || st.latest == nil {
		return Sample{}, false
	}
	return *st.latest, true
}

// Watched returns the pids that currently have a sampling loop, ascending.
func (m *Manager) Watched() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	pids := make([]int, 0, len(m.streams))
	for pid := range m.streams {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids
}

// Interval returns the sampling period.
func (m *Manager) Interval() time.Duration {
	return m.interval
}

func (m *Manager) runStream(ctx context.Context, st *stream) {
	defer close(st.done)

	logger := m.logger.With("pid", st.pid)
	logger.Debug("stream started")

	m.captureAndStore(ctx, st)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("stream stopped", "reason", ctx.Err())
			return
		case <-ticker.C:
			m.captureAndStore(ctx, st)
		}
	}
}

// captureAndStore drops a sample whose capture was cut short by cancellation;
// its threads would all read as vanished.
func (m *Manager) captureAndStore(ctx context.Context, st *stream) {
	sample := m.capture(ctx, st.pid)
	if ctx.Err() != nil {
		return
	}
	m.storeSample(st, sample)
}

func (m *Manager) capture(ctx context.Context, pid int) Sample {
	return Sample{
		PID:             pid,
		ProcessSnapshot: m.source.Snapshot(ctx, pid),
	}
}

func (m *Manager) storeSample(st *stream, sample Sample) {
	m.mu.Lock()
	st.latest = &sample
	targets := make([]*subscriber, 0, len(st.subscribers))
	for sub := range st.subscribers {
		targets = append(targets, sub)
	}
	m.mu.Unlock()

	for _, sub := range targets {
		sub.send(sample)
	}
}

func (m *Manager) removeSubscriber(st *stream, sub *subscriber) {
	m.mu.Lock()
	delete(st.subscribers, sub)
	if len(st.subscribers) == 0 && m.streams[st.pid] == st {
		delete(m.streams, st.pid)
		st.cancel()
	}
	m.mu.Unlock()
	sub.close()
}

// Close stops all sampling loops and closes every subscriber channel. Safe for
// repeated use.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		streams := make([]*stream, 0, len(m.streams))
		for _, st := range m.streams {
			streams = append(streams, st)
		}
		m.streams = make(map[int]*stream)
		m.mu.Unlock()

		m.baseCancel()
		for _, st := range streams {
			<-st.done
			m.mu.Lock()
			subs := make([]*subscriber, 0, len(st.subscribers))
			for sub := range st.subscribers {
				subs = append(subs, sub)
			}
			m.mu.Unlock()
			for _, sub := range subs {
				sub.close()
			}
		}
	})
	return nil
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
		// Drop oldest to make room for new sample.
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- sample:
		default:
		}
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
