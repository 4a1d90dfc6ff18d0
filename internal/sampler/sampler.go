package sampler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// ProcSample holds the raw counters read for one live process. CPUTime and
// the IO counters are cumulative over the process lifetime.
type ProcSample struct {
	PID        int32
	StartUnix  int64 // Unix seconds; part of the process identity
	Name       string
	Status     string // gopsutil status string ("running", "sleep", ...)
	PPID       int32
	CPUTime    float64 // user+system seconds
	MemoryRSS  uint64
	IORead     uint64
	IOWrite    uint64
	NumThreads int32
	Executable string
}

// CPUSample holds cumulative CPU time counters in seconds.
type CPUSample struct {
	Busy  float64
	Total float64
}

// DiskSample is the usage of one mounted filesystem.
type DiskSample struct {
	Mount string
	Used  uint64
	Total uint64
}

// SysSample holds raw system-wide counters from one read.
type SysSample struct {
	CPU         CPUSample
	Cores       []CPUSample
	MemoryUsed  uint64
	MemoryTotal uint64
	Disks       []DiskSample
}

// Sampler reads raw OS counters on demand. It keeps no state between reads;
// rate computation belongs to the delta engine.
type Sampler struct{}

func New() *Sampler { return &Sampler{} }

// Processes reads the raw counters of every visible process. A process that
// vanishes mid-read or denies access is omitted from the result; the process
// table is inherently racy and a partial read is still a valid sample.
func (s *Sampler) Processes(ctx context.Context) ([]ProcSample, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	out := make([]ProcSample, 0, len(procs))
	for _, p := range procs {
		ps, err := readProcess(ctx, p)
		if err != nil {
			slog.Debug("skipping unreadable process", "pid", p.Pid, "error", err)
			continue
		}
		out = append(out, ps)
	}
	return out, nil
}

// readProcess reads one process. Name, CPU time and memory are required;
// failures there omit the whole entry. Everything else degrades to a zero
// value so a partially restricted process still shows up.
func readProcess(ctx context.Context, p *process.Process) (ProcSample, error) {
	ps := ProcSample{PID: p.Pid}

	ps.StartUnix = ProcStartTime(ctx, p)
	if ps.StartUnix <= 0 {
		return ps, fmt.Errorf("pid %d: start time unavailable", p.Pid)
	}

	name, err := p.NameWithContext(ctx)
	if err != nil {
		return ps, fmt.Errorf("pid %d: name: %w", p.Pid, err)
	}
	ps.Name = name

	times, err := p.TimesWithContext(ctx)
	if err != nil {
		return ps, fmt.Errorf("pid %d: cpu times: %w", p.Pid, err)
	}
	ps.CPUTime = times.User + times.System

	memInfo, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return ps, fmt.Errorf("pid %d: memory: %w", p.Pid, err)
	}
	ps.MemoryRSS = memInfo.RSS

	if st, err := p.StatusWithContext(ctx); err == nil && len(st) > 0 {
		ps.Status = st[0]
	}
	if ppid, err := p.PpidWithContext(ctx); err == nil {
		ps.PPID = ppid
	}
	if io, err := p.IOCountersWithContext(ctx); err == nil {
		ps.IORead = io.ReadBytes
		ps.IOWrite = io.WriteBytes
	}
	if nt, err := p.NumThreadsWithContext(ctx); err == nil {
		ps.NumThreads = nt
	}
	if exe, err := p.ExeWithContext(ctx); err == nil {
		ps.Executable = exe
	}

	return ps, nil
}

// System reads system-wide CPU, memory and disk counters. CPU and memory
// failures abort the read; per-mount disk failures only omit that mount.
func (s *Sampler) System(ctx context.Context) (SysSample, error) {
	var out SysSample

	agg, err := cpu.TimesWithContext(ctx, false)
	if err != nil || len(agg) == 0 {
		return out, fmt.Errorf("cpu times: %w", err)
	}
	out.CPU = toCPUSample(agg[0])

	perCore, err := cpu.TimesWithContext(ctx, true)
	if err != nil {
		return out, fmt.Errorf("per-core cpu times: %w", err)
	}
	out.Cores = make([]CPUSample, len(perCore))
	for i, t := range perCore {
		out.Cores[i] = toCPUSample(t)
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return out, fmt.Errorf("virtual memory: %w", err)
	}
	out.MemoryUsed = vm.Used
	out.MemoryTotal = vm.Total

	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		slog.Debug("disk partitions unavailable", "error", err)
		return out, nil
	}
	for _, part := range parts {
		usage, err := disk.UsageWithContext(ctx, part.Mountpoint)
		if err != nil || usage.Total == 0 {
			continue
		}
		out.Disks = append(out.Disks, DiskSample{
			Mount: part.Mountpoint,
			Used:  usage.Used,
			Total: usage.Total,
		})
	}

	return out, nil
}

func toCPUSample(t cpu.TimesStat) CPUSample {
	total := t.User + t.System + t.Idle + t.Nice + t.Iowait + t.Irq +
		t.Softirq + t.Steal + t.Guest + t.GuestNice
	return CPUSample{
		Busy:  total - t.Idle - t.Iowait,
		Total: total,
	}
}

// CoreCount returns the number of logical CPUs used for clamping per-process
// CPU percentages.
func CoreCount(ctx context.Context) int {
	n, err := cpu.CountsWithContext(ctx, true)
	if err != nil || n <= 0 {
		return 1
	}
	return n
}
