//go:build windows

package sampler

import (
	"context"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcStartTime returns the process start time as Unix seconds, or 0 when it
// cannot be determined.
func ProcStartTime(ctx context.Context, p *process.Process) int64 {
	if p.Pid <= 0 {
		return 0
	}
	ms, err := p.CreateTimeWithContext(ctx)
	if err != nil || ms <= 0 {
		return 0
	}
	return ms / 1000
}
