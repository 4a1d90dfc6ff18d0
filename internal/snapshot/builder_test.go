package snapshot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/taskmon/internal/sampler"
)

func TestStatusFromRaw(t *testing.T) {
	cases := map[string]Status{
		"running":  StatusRunning,
		"sleep":    StatusSleeping,
		"sleeping": StatusSleeping,
		"idle":     StatusSleeping,
		"wait":     StatusSleeping,
		"blocked":  StatusSleeping,
		"lock":     StatusSleeping,
		"stop":     StatusStopped,
		"stopped":  StatusStopped,
		"zombie":   StatusZombie,
		"":         StatusUnknown,
		"martian":  StatusUnknown,
	}
	for raw, want := range cases {
		assert.Equal(t, want, statusFromRaw(raw), "raw %q", raw)
	}
}

func TestBuildNormalizesProcesses(t *testing.T) {
	ts := time.Now()
	procs := []sampler.ProcSample{
		{
			PID: 42, StartUnix: 1000, Name: "worker", Status: "running",
			PPID: 1, CPUTime: 3.5, MemoryRSS: 2048, IORead: 10, IOWrite: 20,
			NumThreads: 4, Executable: "/usr/bin/worker",
		},
	}

	snap := Build(procs, sampler.SysSample{}, ts)

	require.Len(t, snap.Procs, 1)
	assert.Equal(t, ts, snap.Taken)

	id := Identity{PID: 42, StartUnix: 1000}
	v, ok := snap.Procs[id]
	require.True(t, ok)
	assert.Equal(t, id, v.Identity)
	assert.Equal(t, "worker", v.Name)
	assert.Equal(t, StatusRunning, v.Status)
	assert.Equal(t, int32(1), v.PPID)
	assert.Equal(t, 3.5, v.CPUTime)
	assert.Equal(t, uint64(2048), v.MemoryRSS)
	assert.Equal(t, uint64(10), v.IORead)
	assert.Equal(t, uint64(20), v.IOWrite)
	assert.Equal(t, int32(4), v.NumThreads)
	assert.Equal(t, "/usr/bin/worker", v.Executable)
}

func TestBuildDuplicateIdentityFirstWins(t *testing.T) {
	procs := []sampler.ProcSample{
		{PID: 7, StartUnix: 50, Name: "first"},
		{PID: 7, StartUnix: 50, Name: "second"},
		{PID: 7, StartUnix: 60, Name: "recycled"}, // different start, distinct identity
	}

	snap := Build(procs, sampler.SysSample{}, time.Now())

	require.Len(t, snap.Procs, 2)
	assert.Equal(t, "first", snap.Procs[Identity{PID: 7, StartUnix: 50}].Name)
	assert.Equal(t, "recycled", snap.Procs[Identity{PID: 7, StartUnix: 60}].Name)
}

func TestBuildSystemView(t *testing.T) {
	sys := sampler.SysSample{
		CPU:         sampler.CPUSample{Busy: 12, Total: 100},
		Cores:       []sampler.CPUSample{{Busy: 6, Total: 50}, {Busy: 6, Total: 50}},
		MemoryUsed:  512,
		MemoryTotal: 1024,
		Disks:       []sampler.DiskSample{{Mount: "/", Used: 30, Total: 100}},
	}

	snap := Build(nil, sys, time.Now())

	assert.Empty(t, snap.Procs)
	assert.Equal(t, CoreTimes{Busy: 12, Total: 100}, snap.Sys.CPU)
	require.Len(t, snap.Sys.Cores, 2)
	assert.Equal(t, CoreTimes{Busy: 6, Total: 50}, snap.Sys.Cores[1])
	assert.Equal(t, MemoryStat{Used: 512, Total: 1024}, snap.Sys.Memory)
	require.Len(t, snap.Sys.Disks, 1)
	assert.Equal(t, DiskStat{Mount: "/", Used: 30, Total: 100}, snap.Sys.Disks[0])
}

func TestIdentities(t *testing.T) {
	snap := Build([]sampler.ProcSample{
		{PID: 1, StartUnix: 10, Name: "a"},
		{PID: 2, StartUnix: 20, Name: "b"},
	}, sampler.SysSample{}, time.Now())

	ids := snap.Identities()
	assert.ElementsMatch(t, []Identity{{PID: 1, StartUnix: 10}, {PID: 2, StartUnix: 20}}, ids)
}
