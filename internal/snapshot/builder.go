package snapshot

import (
	"log/slog"
	"time"

	"github.com/loykin/taskmon/internal/sampler"
)

// statusFromRaw maps a gopsutil status string onto the view enum.
func statusFromRaw(raw string) Status {
	switch raw {
	case "running":
		return StatusRunning
	case "sleep", "sleeping", "idle", "wait", "blocked", "lock":
		return StatusSleeping
	case "stop", "stopped":
		return StatusStopped
	case "zombie":
		return StatusZombie
	default:
		return StatusUnknown
	}
}

// Build normalizes one pair of raw reads into an immutable Snapshot. It does
// no rate computation and O(1) work per process. Duplicate identities cannot
// come out of a healthy process table; if one shows up the first entry wins
// and the duplicate is dropped.
func Build(procs []sampler.ProcSample, sys sampler.SysSample, ts time.Time) *Snapshot {
	snap := &Snapshot{
		Taken: ts,
		Procs: make(map[Identity]ProcessView, len(procs)),
		Sys:   buildSystem(sys),
	}

	for _, ps := range procs {
		id := Identity{PID: ps.PID, StartUnix: ps.StartUnix}
		if _, dup := snap.Procs[id]; dup {
			slog.Debug("duplicate process identity in sample", "pid", id.PID, "start_unix", id.StartUnix)
			continue
		}
		snap.Procs[id] = ProcessView{
			Identity:   id,
			Name:       ps.Name,
			Status:     statusFromRaw(ps.Status),
			PPID:       ps.PPID,
			CPUTime:    ps.CPUTime,
			MemoryRSS:  ps.MemoryRSS,
			IORead:     ps.IORead,
			IOWrite:    ps.IOWrite,
			NumThreads: ps.NumThreads,
			Executable: ps.Executable,
		}
	}
	return snap
}

func buildSystem(sys sampler.SysSample) SystemView {
	sv := SystemView{
		CPU:    CoreTimes{Busy: sys.CPU.Busy, Total: sys.CPU.Total},
		Memory: MemoryStat{Used: sys.MemoryUsed, Total: sys.MemoryTotal},
	}
	if len(sys.Cores) > 0 {
		sv.Cores = make([]CoreTimes, len(sys.Cores))
		for i, c := range sys.Cores {
			sv.Cores[i] = CoreTimes{Busy: c.Busy, Total: c.Total}
		}
	}
	if len(sys.Disks) > 0 {
		sv.Disks = make([]DiskStat, len(sys.Disks))
		for i, d := range sys.Disks {
			sv.Disks[i] = DiskStat{Mount: d.Mount, Used: d.Used, Total: d.Total}
		}
	}
	return sv
}
