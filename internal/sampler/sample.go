package sampler

import (
	"context"

	"github.com/skobkin/threadtop-web/internal/procscan"
)

// Sample is one periodic snapshot of a watched process.
type Sample struct {
	PID int `json:"pid"`
	procscan.ProcessSnapshot
}

// Snapshotter captures a process snapshot. *procscan.Scanner implements it.
type Snapshotter interface {
	Snapshot(ctx context.Context, pid int) procscan.ProcessSnapshot
}
