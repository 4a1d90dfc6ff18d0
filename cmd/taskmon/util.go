package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/loykin/taskmon"
)

// printProcesses renders the busiest processes of one published cycle as a
// plain table. Rates unknown for this tick (new processes, first cycle)
// render as "-" rather than 0 so they are not mistaken for idle.
func printProcesses(w io.Writer, mon *taskmon.Monitor, u cycleUpdate, key taskmon.SortKey, n int) {
	views := mon.Processes(taskmon.Predicate{}, key)
	if len(views) > n {
		views = views[:n]
	}

	fmt.Fprintf(w, "\n%s  %d processes", u.snap.Taken.Format("15:04:05"), len(u.snap.Procs))
	if u.res.System.Known {
		fmt.Fprintf(w, "  cpu %.1f%%", u.res.System.CPUPercent)
	}
	if u.snap.Sys.Memory.Total > 0 {
		fmt.Fprintf(w, "  mem %.1f%%",
			float64(u.snap.Sys.Memory.Used)/float64(u.snap.Sys.Memory.Total)*100)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PID\tNAME\tSTATUS\tCPU%\tMEM\tREAD/s\tWRITE/s")
	for _, v := range views {
		cpu, read, write := "-", "-", "-"
		if r, ok := mon.Rate(v.Identity); ok && r.Known {
			cpu = fmt.Sprintf("%.1f", r.CPUPercent)
			read = formatBytes(uint64(r.ReadBytesPerSec))
			write = formatBytes(uint64(r.WriteBytesPerSec))
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			v.Identity.PID, trimName(v.Name, 30), v.Status, cpu,
			formatBytes(v.MemoryRSS), read, write)
	}
	_ = tw.Flush()
}

func trimName(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func formatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%c", float64(b)/float64(div), "KMGTPE"[exp])
}
