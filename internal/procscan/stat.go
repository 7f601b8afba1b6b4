package procscan

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Field positions in /proc/<pid>/task/<tid>/stat, 0-indexed, as laid out in
// proc(5). Only the pid, comm, utime and stime fields are consumed; the rest
// are listed so the offsets cannot drift silently.
//
//	 0 pid                     13 utime                   26 endcode                 39 rt_priority
//	 1 comm                    14 stime                   27 startstack              40 policy
//	 2 state                   15 cutime                  28 kstkesp                 41 delayacct_blkio_ticks
//	 3 ppid                    16 cstime                  29 kstkeip                 42 guest_time
//	 4 pgrp                    17 priority                30 signal                  43 cguest_time
//	 5 session                 18 nice                    31 blocked                 44 start_data
//	 6 tty_nr                  19 num_threads             32 sigignore               45 end_data
//	 7 tpgid                   20 itrealvalue             33 sigcatch                46 start_brk
//	 8 flags                   21 starttime               34 wchan                   47 arg_start
//	 9 minflt                  22 vsize                   35 nswap                   48 arg_end
//	10 cminflt                 23 rss                     36 cnswap                  49 env_start
//	11 majflt                  24 rsslim                  37 exit_signal             50 env_end
//	12 cmajflt                 25 startcode               38 processor               51 exit_code
//
// comm is wrapped in parentheses and may itself contain spaces or ')', so the
// record is split at the last ')' and fields after it are indexed from
// statFieldState.
const (
	statFieldPID   = 0
	statFieldComm  = 1
	statFieldState = 2
	statFieldUTime = 13
	statFieldSTime = 14
)

var errMalformedStat = errors.New("malformed stat record")

// ParseThreadStat extracts the thread name and CPU tick counters from a raw
// stat record. The returned name keeps the kernel's parentheses, e.g. "(bash)".
func ParseThreadStat(tid int, data []byte) (ThreadStat, error) {
	line := strings.TrimSpace(string(data))

	open := strings.IndexByte(line, '(')
	end := strings.LastIndexByte(line, ')')
	if open <= 0 || end < open {
		return invalidThreadStat(tid), fmt.Errorf("%w: comm not delimited", errMalformedStat)
	}

	head := strings.Fields(line[:open])
	if len(head) != statFieldComm-statFieldPID {
		return invalidThreadStat(tid), fmt.Errorf("%w: unexpected pid field %q", errMalformedStat, line[:open])
	}
	recordID, err := strconv.Atoi(head[statFieldPID])
	if err != nil {
		return invalidThreadStat(tid), fmt.Errorf("%w: parse pid: %v", errMalformedStat, err)
	}
	if recordID != tid {
		return invalidThreadStat(tid), fmt.Errorf("%w: record belongs to %d, want %d", errMalformedStat, recordID, tid)
	}

	tail := strings.Fields(line[end+1:])
	if len(tail) <= statFieldSTime-statFieldState {
		return invalidThreadStat(tid), fmt.Errorf("%w: %d fields after comm", errMalformedStat, len(tail))
	}

	utime, err := strconv.ParseUint(tail[statFieldUTime-statFieldState], 10, 64)
	if err != nil {
		return invalidThreadStat(tid), fmt.Errorf("%w: parse utime: %v", errMalformedStat, err)
	}
	stime, err := strconv.ParseUint(tail[statFieldSTime-statFieldState], 10, 64)
	if err != nil {
		return invalidThreadStat(tid), fmt.Errorf("%w: parse stime: %v", errMalformedStat, err)
	}

	return ThreadStat{
		TID:   tid,
		Name:  line[open : end+1],
		UTime: utime,
		STime: stime,
		Valid: true,
	}, nil
}
