package httpserver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shirou/gopsutil/v4/common"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/skobkin/threadtop-web/internal/api"
)

var errProcessNotFound = errors.New("process not found")

// lookupProcessInfo collects descriptive details of pid from procRoot. Only
// existence is mandatory; every other field is filled when readable.
func lookupProcessInfo(ctx context.Context, procRoot string, pid int) (api.ProcessInfo, error) {
	if procRoot != "" {
		ctx = context.WithValue(ctx, common.EnvKey, common.EnvMap{common.HostProcEnvKey: procRoot})
	}

	if pid <= 0 || pid > math.MaxInt32 {
		return api.ProcessInfo{}, fmt.Errorf("pid %d out of range", pid)
	}
	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return api.ProcessInfo{}, errProcessNotFound
		}
		return api.ProcessInfo{}, fmt.Errorf("open process %d: %w", pid, err)
	}

	info := api.ProcessInfo{PID: pid}
	if name, err := proc.NameWithContext(ctx); err == nil {
		info.Name = name
	}
	if cmdline, err := proc.CmdlineWithContext(ctx); err == nil {
		info.Cmdline = cmdline
	}
	if ppid, err := proc.PpidWithContext(ctx); err == nil {
		v := int(ppid)
		info.PPID = &v
	}
	if threads, err := proc.NumThreadsWithContext(ctx); err == nil {
		v := int(threads)
		info.NumThreads = &v
	}
	if username, err := proc.UsernameWithContext(ctx); err == nil {
		info.Username = username
	}
	if created, err := proc.CreateTimeWithContext(ctx); err == nil {
		info.CreateTimeMS = &created
	}
	if status, err := proc.StatusWithContext(ctx); err == nil && len(status) > 0 {
		v := strings.Join(status, ",")
		info.Status = &v
	}

	return info, nil
}
