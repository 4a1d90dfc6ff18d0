package snapshot

import (
	"time"
)

// Identity uniquely identifies one process instance. PIDs are recycled by the
// OS, so the pid alone is never used as a long-lived key; pairing it with the
// process start time (Unix seconds) distinguishes a process from any later
// one reusing the same pid.
type Identity struct {
	PID       int32 `json:"pid"`
	StartUnix int64 `json:"start_unix"`
}

// Status is the coarse scheduling state of a process.
type Status string

const (
	StatusRunning  Status = "running"
	StatusSleeping Status = "sleeping"
	StatusStopped  Status = "stopped"
	StatusZombie   Status = "zombie"
	StatusUnknown  Status = "unknown"
)

// ProcessView is the normalized, point-in-time view of one process.
// CPU time and IO counters are cumulative raw values; rates are derived later
// by comparing two snapshots.
type ProcessView struct {
	Identity   Identity `json:"identity"`
	Name       string   `json:"name"`
	Status     Status   `json:"status"`
	PPID       int32    `json:"ppid"`
	CPUTime    float64  `json:"cpu_time"` // user+system seconds since start
	MemoryRSS  uint64   `json:"memory_rss"`
	IORead     uint64   `json:"io_read_bytes"`
	IOWrite    uint64   `json:"io_write_bytes"`
	NumThreads int32    `json:"num_threads"`
	Executable string   `json:"executable,omitempty"`
}

// CoreTimes holds cumulative CPU time counters for one core (or the
// aggregate), in seconds. Busy excludes idle and iowait.
type CoreTimes struct {
	Busy  float64 `json:"busy"`
	Total float64 `json:"total"`
}

// MemoryStat is point-in-time system memory usage.
type MemoryStat struct {
	Used  uint64 `json:"used"`
	Total uint64 `json:"total"`
}

// DiskStat is point-in-time usage of one mounted filesystem.
type DiskStat struct {
	Mount string `json:"mount"`
	Used  uint64 `json:"used"`
	Total uint64 `json:"total"`
}

// SystemView holds system-wide counters. CPU values are cumulative; usage
// percentages come from the delta between two views.
type SystemView struct {
	CPU    CoreTimes   `json:"cpu"`
	Cores  []CoreTimes `json:"cores"`
	Memory MemoryStat  `json:"memory"`
	Disks  []DiskStat  `json:"disks"`
}

// Snapshot is one consistent capture of the process table and system
// counters. It is immutable after Build: each refresh produces a brand-new
// value and consumers must treat it as read-only.
type Snapshot struct {
	Taken time.Time                `json:"taken"`
	Procs map[Identity]ProcessView `json:"procs"`
	Sys   SystemView               `json:"sys"`
}

// Identities returns the identities present in the snapshot, in no
// particular order.
func (s *Snapshot) Identities() []Identity {
	out := make([]Identity, 0, len(s.Procs))
	for id := range s.Procs {
		out = append(out, id)
	}
	return out
}
