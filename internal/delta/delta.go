package delta

import (
	"runtime"
	"time"

	"github.com/loykin/taskmon/internal/snapshot"
)

// Rates holds per-process metrics derived from two consecutive snapshots.
// Known is false when no rate can be computed for the tick (new process,
// first tick, clock anomaly, counter reset); consumers must report that as
// unknown rather than zero to avoid fake spikes.
type Rates struct {
	Known            bool    `json:"known"`
	CPUPercent       float64 `json:"cpu_percent"`
	ReadBytesPerSec  float64 `json:"read_bytes_per_sec"`
	WriteBytesPerSec float64 `json:"write_bytes_per_sec"`
}

// SystemRates holds system-wide CPU usage derived from two snapshots.
type SystemRates struct {
	Known      bool      `json:"known"`
	CPUPercent float64   `json:"cpu_percent"`
	PerCore    []float64 `json:"per_core"`
}

// Result classifies the current snapshot against the previous one.
type Result struct {
	Rates    map[snapshot.Identity]Rates `json:"rates"`
	New      []snapshot.Identity         `json:"new"`
	Vanished []snapshot.Identity         `json:"vanished"`
	System   SystemRates                 `json:"system"`
	Wall     time.Duration               `json:"wall"`
}

// Engine compares consecutive snapshots. Cores bounds the per-process CPU
// percentage at 100 x cores.
type Engine struct {
	Cores int
}

func NewEngine(cores int) *Engine {
	if cores <= 0 {
		cores = runtime.NumCPU()
	}
	return &Engine{Cores: cores}
}

// Compute derives rate metrics for every identity present in both snapshots
// and classifies the rest as new or vanished. prev may be nil (first tick):
// every process is new and all rates, including system CPU, are unknown.
// A non-positive wall delta degrades every rate to unknown as well; it must
// never produce a division by zero or a negative or infinite value.
func (e *Engine) Compute(prev, cur *snapshot.Snapshot) Result {
	res := Result{Rates: make(map[snapshot.Identity]Rates, len(cur.Procs))}

	if prev == nil {
		res.New = cur.Identities()
		for _, id := range res.New {
			res.Rates[id] = Rates{}
		}
		return res
	}

	res.Wall = cur.Taken.Sub(prev.Taken)
	wallSec := res.Wall.Seconds()
	usable := wallSec > 0

	for id, curView := range cur.Procs {
		prevView, ok := prev.Procs[id]
		if !ok {
			res.New = append(res.New, id)
			res.Rates[id] = Rates{}
			continue
		}
		if !usable {
			res.Rates[id] = Rates{}
			continue
		}
		res.Rates[id] = procRates(prevView, curView, wallSec, e.Cores)
	}

	for id := range prev.Procs {
		if _, ok := cur.Procs[id]; !ok {
			res.Vanished = append(res.Vanished, id)
		}
	}

	if usable {
		res.System = systemRates(prev.Sys, cur.Sys)
	}
	return res
}

func procRates(prev, cur snapshot.ProcessView, wallSec float64, cores int) Rates {
	cpuDelta := cur.CPUTime - prev.CPUTime
	if cpuDelta < 0 {
		// Counter went backwards; identity matching should rule this out,
		// so treat it as unusable rather than guessing.
		return Rates{}
	}

	maxPercent := 100 * float64(cores)
	cpuPercent := cpuDelta / wallSec * 100
	if cpuPercent > maxPercent {
		cpuPercent = maxPercent
	}

	readRate, readOK := byteRate(prev.IORead, cur.IORead, wallSec)
	writeRate, writeOK := byteRate(prev.IOWrite, cur.IOWrite, wallSec)
	if !readOK || !writeOK {
		return Rates{}
	}

	return Rates{
		Known:            true,
		CPUPercent:       cpuPercent,
		ReadBytesPerSec:  readRate,
		WriteBytesPerSec: writeRate,
	}
}

func byteRate(prev, cur uint64, wallSec float64) (float64, bool) {
	if cur < prev {
		return 0, false
	}
	return float64(cur-prev) / wallSec, true
}

func systemRates(prev, cur snapshot.SystemView) SystemRates {
	total, ok := busyPercent(prev.CPU, cur.CPU)
	if !ok {
		return SystemRates{}
	}
	sr := SystemRates{Known: true, CPUPercent: total}
	if len(cur.Cores) == len(prev.Cores) {
		sr.PerCore = make([]float64, len(cur.Cores))
		for i := range cur.Cores {
			if p, ok := busyPercent(prev.Cores[i], cur.Cores[i]); ok {
				sr.PerCore[i] = p
			}
		}
	}
	return sr
}

// busyPercent derives usage from cumulative busy/total counters, clamped to
// [0, 100].
func busyPercent(prev, cur snapshot.CoreTimes) (float64, bool) {
	totalDelta := cur.Total - prev.Total
	busyDelta := cur.Busy - prev.Busy
	if totalDelta <= 0 || busyDelta < 0 {
		return 0, false
	}
	p := busyDelta / totalDelta * 100
	if p > 100 {
		p = 100
	}
	return p, true
}
