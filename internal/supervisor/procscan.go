package supervisor

import (
	"context"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessInfo describes a process found by a command-line scan.
type ProcessInfo struct {
	PID     int32  `json:"pid"`
	Cmdline string `json:"cmdline"`
}

// FindByCommandSubstring scans all system processes and returns those whose
// command line contains substr. The cleanup step uses this to detect writers
// still holding a capture file before the original is deleted.
//
// Processes that vanish mid-scan or refuse inspection are skipped; a partial
// result is still a valid answer to "is anything writing this file".
func (s *Supervisor) FindByCommandSubstring(ctx context.Context, substr string) ([]ProcessInfo, error) {
	if substr == "" {
		return nil, nil
	}
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	var out []ProcessInfo
	for _, p := range procs {
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil || cmdline == "" {
			continue
		}
		if strings.Contains(cmdline, substr) {
			out = append(out, ProcessInfo{PID: p.Pid, Cmdline: cmdline})
		}
	}
	return out, nil
}

// Usage is a point-in-time resource snapshot of a supervised process.
type Usage struct {
	CPUPercent float64       `json:"cpu_percent"`
	RSSBytes   uint64        `json:"rss_bytes"`
	Threads    int32         `json:"threads"`
	Uptime     time.Duration `json:"uptime"`
}

// Usage samples CPU and memory for a running handle. Returns an error for
// unknown handles; for a handle that exited between lookup and sampling the
// zero snapshot is returned rather than an error.
func (s *Supervisor) Usage(ctx context.Context, id string) (*Usage, error) {
	h, ok := s.Get(id)
	if !ok {
		return nil, ErrUnknownHandle
	}
	u := &Usage{Uptime: h.Uptime()}
	if !h.Running() {
		return u, nil
	}

	p, err := process.NewProcessWithContext(ctx, int32(h.PID()))
	if err != nil {
		return u, nil
	}
	if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
		u.CPUPercent = cpu
	}
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		u.RSSBytes = mem.RSS
	}
	if threads, err := p.NumThreadsWithContext(ctx); err == nil {
		u.Threads = threads
	}
	return u, nil
}
