// Package clock provides the tick timestamp used to stamp process snapshots.
//
// A tick is 1/100 of a second, the same unit the kernel uses for the utime and
// stime counters in /proc/<pid>/task/<tid>/stat (USER_HZ). Clients divide the
// CPU tick delta of a thread by the clock tick delta of two snapshots to get a
// utilisation ratio without any unit conversion.
package clock

import (
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// TicksPerSecond is the fixed USER_HZ rate shared by counters and timestamps.
const TicksPerSecond = 100

// Source returns the current tick reading.
type Source func() float64

// last holds the most recent successful reading in nanoseconds.
var last atomic.Int64

// Now returns CLOCK_MONOTONIC converted to ticks. The value only has meaning
// relative to another reading. CLOCK_MONOTONIC cannot fail on Linux; should the
// call ever error, the previous reading is repeated so the sequence never
// goes backwards.
func Now() float64 {
	return read(unix.ClockGettime)
}

func read(gettime func(clockid int32, ts *unix.Timespec) error) float64 {
	var ts unix.Timespec
	if err := gettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return fromNanos(last.Load())
	}
	ns := ts.Nano()
	for {
		prev := last.Load()
		if ns <= prev || last.CompareAndSwap(prev, ns) {
			break
		}
	}
	return fromNanos(ns)
}

func fromNanos(ns int64) float64 {
	return float64(ns) / float64(time.Second) * TicksPerSecond
}
