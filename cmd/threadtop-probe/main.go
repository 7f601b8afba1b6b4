package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/skobkin/threadtop-web/internal/procscan"
)

type options struct {
	procRoot    string
	query       string
	searchSet   bool
	pid         int
	concurrency int
	jsonOutput  bool
}

type report struct {
	Query    *string                   `json:"query,omitempty"`
	PIDs     []int                     `json:"pids,omitempty"`
	PID      int                       `json:"pid,omitempty"`
	Snapshot *procscan.ProcessSnapshot `json:"snapshot,omitempty"`
}

func parseFlags() options {
	defaultProc := envOrDefault("APP_PROC_ROOT", "/proc")

	var opts options
	flag.StringVar(&opts.procRoot, "proc", defaultProc, "Path to the proc filesystem root")
	flag.StringVar(&opts.query, "q", "", "Search for processes whose command name contains this substring")
	flag.IntVar(&opts.pid, "pid", 0, "Snapshot per-thread CPU ticks of this process")
	flag.IntVar(&opts.concurrency, "concurrency", procscan.DefaultConcurrency, "Maximum concurrent proc file reads")
	flag.BoolVar(&opts.jsonOutput, "json", false, "Emit the result as JSON")
	flag.Parse()

	flag.Visit(func(f *flag.Flag) {
		if f.Name == "q" {
			opts.searchSet = true
		}
	})
	return opts
}

func main() {
	opts := parseFlags()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if !opts.searchSet && opts.pid <= 0 {
		fmt.Fprintln(os.Stderr, "nothing to do: pass -q <substring> and/or -pid <pid>")
		flag.Usage()
		os.Exit(2)
	}

	scanner, err := procscan.NewScanner(opts.procRoot, opts.concurrency, logger.With("component", "procscan"))
	if err != nil {
		logger.Error("proc scanner init failed", "err", err)
		os.Exit(1)
	}
	defer scanner.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var out report
	if opts.searchSet {
		pids, err := scanner.FindByName(ctx, opts.query)
		if err != nil {
			logger.Error("process search failed", "err", err)
			os.Exit(1)
		}
		out.Query = &opts.query
		out.PIDs = pids
	}
	if opts.pid > 0 {
		snapshot := scanner.Snapshot(ctx, opts.pid)
		out.PID = opts.pid
		out.Snapshot = &snapshot
	}

	if opts.jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			logger.Error("encode probe output", "err", err)
			os.Exit(1)
		}
		return
	}

	printReport(out)
}

func printReport(out report) {
	if out.Query != nil {
		if len(out.PIDs) == 0 {
			fmt.Printf("No processes match %q\n", *out.Query)
		} else {
			fmt.Printf("Processes matching %q:\n", *out.Query)
		}
		for _, pid := range out.PIDs {
			fmt.Printf("- %d\n", pid)
		}
	}

	if out.Snapshot == nil {
		return
	}

	snap := out.Snapshot
	fmt.Println()
	fmt.Printf("Snapshot of pid %d at %s (clock %.2f ticks)\n", out.PID, time.Now().UTC().Format(time.RFC3339), snap.TicksClockNow)
	fmt.Println(strings.Repeat("-", 60))
	if len(snap.ThreadStats) == 0 {
		fmt.Println("No threads listed; the process may not exist")
		return
	}

	fmt.Printf("%-10s %-24s %12s %12s\n", "TID", "NAME", "UTIME", "STIME")
	var utime, stime uint64
	for _, stat := range snap.ThreadStats {
		if !stat.Valid {
			fmt.Printf("%-10d %-24s %12s %12s\n", stat.TID, "<unreadable>", "-", "-")
			continue
		}
		utime += stat.UTime
		stime += stat.STime
		fmt.Printf("%-10d %-24s %12d %12d\n", stat.TID, stat.Name, stat.UTime, stat.STime)
	}
	fmt.Println(strings.Repeat("-", 60))
	fmt.Printf("%-10s %-24s %12d %12d\n", "TOTAL", fmt.Sprintf("%d threads, %d unreadable", len(snap.ThreadStats), snap.Invalid()), utime, stime)
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
