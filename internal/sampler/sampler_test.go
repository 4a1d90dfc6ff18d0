package sampler

import (
	"context"
	"os"
	"testing"

	"github.com/shirou/gopsutil/v4/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessesIncludesSelf(t *testing.T) {
	ctx := context.Background()
	procs, err := New().Processes(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, procs)

	self := int32(os.Getpid())
	var found *ProcSample
	for i := range procs {
		if procs[i].PID == self {
			found = &procs[i]
			break
		}
	}
	require.NotNil(t, found, "own pid missing from the process sample")

	assert.NotEmpty(t, found.Name)
	assert.Greater(t, found.StartUnix, int64(0))
	assert.Greater(t, found.MemoryRSS, uint64(0))
	assert.GreaterOrEqual(t, found.CPUTime, 0.0)
	assert.Greater(t, found.NumThreads, int32(0))
}

func TestSystemCounters(t *testing.T) {
	ctx := context.Background()
	sys, err := New().System(ctx)
	require.NoError(t, err)

	assert.Greater(t, sys.CPU.Total, 0.0)
	assert.GreaterOrEqual(t, sys.CPU.Total, sys.CPU.Busy)
	assert.NotEmpty(t, sys.Cores)
	assert.Greater(t, sys.MemoryTotal, uint64(0))
	assert.LessOrEqual(t, sys.MemoryUsed, sys.MemoryTotal)
	for _, d := range sys.Disks {
		assert.NotEmpty(t, d.Mount)
		assert.Greater(t, d.Total, uint64(0))
	}
}

func TestProcStartTimeSelf(t *testing.T) {
	ctx := context.Background()
	p, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	require.NoError(t, err)

	start := ProcStartTime(ctx, p)
	require.Greater(t, start, int64(0))

	// Stable across reads; it is the identity anchor.
	assert.Equal(t, start, ProcStartTime(ctx, p))
}

func TestCoreCount(t *testing.T) {
	assert.Greater(t, CoreCount(context.Background()), 0)
}
