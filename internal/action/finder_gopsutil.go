package action

import (
	"context"
	"errors"
	"fmt"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/loykin/taskmon/internal/sampler"
)

// gopsutilFinder is the production Finder backed by gopsutil process handles.
type gopsutilFinder struct{}

func (gopsutilFinder) Find(ctx context.Context, pid int32) (Proc, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return nil, fmt.Errorf("pid %d: %w", pid, ErrNotRunning)
		}
		return nil, err
	}
	return gopsutilProc{p: p}, nil
}

type gopsutilProc struct {
	p *process.Process
}

func (g gopsutilProc) StartUnix(ctx context.Context) int64 {
	return sampler.ProcStartTime(ctx, g.p)
}

func (g gopsutilProc) Kill(ctx context.Context) error { return g.p.KillWithContext(ctx) }

// Suspend and Resume map to SIGSTOP/SIGCONT on POSIX. Where the platform has
// no pause primitive gopsutil returns an error, which surfaces as
// Failed(unsupported) rather than a silent no-op.
func (g gopsutilProc) Suspend(ctx context.Context) error { return g.p.SuspendWithContext(ctx) }
func (g gopsutilProc) Resume(ctx context.Context) error  { return g.p.ResumeWithContext(ctx) }
