// Package procscan reads per-thread CPU accounting from the Linux process table.
//
// Everything under /proc may vanish between two reads. Listing failures of a
// single process or thread directory degrade to empty results, and per-thread
// read failures degrade to sentinel records, so a batch never fails because
// one member disappeared.
package procscan

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/prometheus/procfs"

	"github.com/skobkin/threadtop-web/internal/clock"
)

// DefaultConcurrency caps in-flight reads within one batch when none is configured.
const DefaultConcurrency = 64

// Scanner locates processes and captures per-thread snapshots.
type Scanner struct {
	procRoot    string
	root        *os.Root
	procfs      procfs.FS
	concurrency int
	now         clock.Source
	logger      *slog.Logger
}

// NewScanner opens procRoot (normally /proc) for reading.
func NewScanner(procRoot string, concurrency int, logger *slog.Logger) (*Scanner, error) {
	if procRoot == "" {
		procRoot = "/proc"
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	pfs, err := procfs.NewFS(procRoot)
	if err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}
	root, err := os.OpenRoot(procRoot)
	if err != nil {
		return nil, fmt.Errorf("open proc root: %w", err)
	}

	return &Scanner{
		procRoot:    procRoot,
		root:        root,
		procfs:      pfs,
		concurrency: concurrency,
		now:         clock.Now,
		logger:      logger,
	}, nil
}

// ProcRoot returns the process table root the scanner reads from.
func (s *Scanner) ProcRoot() string {
	return s.procRoot
}

// Check verifies that the process table root can still be listed.
func (s *Scanner) Check() error {
	if _, err := fs.ReadDir(s.root.FS(), "."); err != nil {
		return fmt.Errorf("list proc root: %w", err)
	}
	return nil
}

// FindByName returns the ids of processes whose comm contains substring,
// sorted ascending. An empty substring matches every readable process.
// Processes that exit or deny access mid-scan are skipped. Errors are reported
// only when the root cannot be listed or ctx ends before the scan completes.
func (s *Scanner) FindByName(ctx context.Context, substring string) ([]int, error) {
	procs, err := s.procfs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	matched := make([]bool, len(procs))
	s.fanOut(ctx, len(procs), func(i int) {
		if procs[i].PID <= 0 {
			return
		}
		comm, err := procs[i].Comm()
		if err != nil {
			s.logger.Debug("skipping unreadable process", "pid", procs[i].PID, "err", err)
			return
		}
		matched[i] = strings.Contains(comm, substring)
	})
	// A cut-short scan must not pass for a complete one.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	pids := make([]int, 0, len(procs))
	for i, proc := range procs {
		if matched[i] {
			pids = append(pids, proc.PID)
		}
	}
	slices.Sort(pids)
	return slices.Compact(pids), nil
}

// ReadThreadStat reads and parses the stat record of one thread. Any failure
// yields a record with Valid=false.
func (s *Scanner) ReadThreadStat(pid, tid int) ThreadStat {
	name := filepath.Join(strconv.Itoa(pid), "task", strconv.Itoa(tid), "stat")
	data, err := s.root.ReadFile(name)
	if err != nil {
		s.logger.Debug("thread stat unreadable", "pid", pid, "tid", tid, "err", err)
		return invalidThreadStat(tid)
	}
	stat, err := ParseThreadStat(tid, data)
	if err != nil {
		s.logger.Debug("thread stat malformed", "pid", pid, "tid", tid, "err", err)
		return invalidThreadStat(tid)
	}
	return stat
}

// Snapshot captures the CPU counters of every thread of pid. A process that
// does not exist yields an empty thread list. Threads that vanish after being
// listed stay in the result as sentinel records, in listing order.
func (s *Scanner) Snapshot(ctx context.Context, pid int) ProcessSnapshot {
	threads, err := s.procfs.AllThreads(pid)
	if err != nil {
		s.logger.Debug("thread listing failed", "pid", pid, "err", err)
		return ProcessSnapshot{
			TicksClockNow: s.now(),
			ThreadStats:   []ThreadStat{},
		}
	}

	now := s.now()
	tids := make([]int, 0, len(threads))
	for _, thread := range threads {
		if thread.PID > 0 {
			tids = append(tids, thread.PID)
		}
	}

	stats := make([]ThreadStat, len(tids))
	for i, tid := range tids {
		stats[i] = invalidThreadStat(tid)
	}
	s.fanOut(ctx, len(tids), func(i int) {
		stats[i] = s.ReadThreadStat(pid, tids[i])
	})

	return ProcessSnapshot{
		TicksClockNow: now,
		ThreadStats:   stats,
	}
}

// Close releases the proc root handle.
func (s *Scanner) Close() error {
	if s.root == nil {
		return nil
	}
	return s.root.Close()
}

// fanOut runs fn for every index in [0, n) with at most s.concurrency calls in
// flight and returns once all started calls have finished. Each call must only
// write to its own index. Cancelling ctx stops new calls from starting.
func (s *Scanner) fanOut(ctx context.Context, n int, fn func(i int)) {
	if n == 0 {
		return
	}
	limit := s.concurrency
	if limit > n {
		limit = n
	}

	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

dispatch:
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break dispatch
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(idx)
		}(i)
	}

	wg.Wait()
}
