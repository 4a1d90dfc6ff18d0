//go:build !windows

package sampler

import (
	"bufio"
	"context"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
	"github.com/tklauser/go-sysconf"
)

// ProcStartTime returns the process start time as Unix seconds, or 0 when it
// cannot be determined. On Linux it reads /proc directly; the portable
// gopsutil path is used elsewhere.
func ProcStartTime(ctx context.Context, p *process.Process) int64 {
	if p.Pid <= 0 {
		return 0
	}
	if runtime.GOOS == "linux" {
		if ts := procStartUnixLinux(int(p.Pid)); ts > 0 {
			return ts
		}
	}
	ms, err := p.CreateTimeWithContext(ctx)
	if err != nil || ms <= 0 {
		return 0
	}
	return ms / 1000
}

// procStartUnixLinux extracts starttime (field 22 of /proc/[pid]/stat, clock
// ticks since boot) and converts it using btime and SC_CLK_TCK.
func procStartUnixLinux(pid int) int64 {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return 0
	}
	line := string(b)
	// Field 2 (comm) may contain spaces; skip past its closing paren.
	end := strings.LastIndex(line, ") ")
	if end == -1 {
		return 0
	}
	fields := strings.Fields(strings.TrimSpace(line[end+2:]))
	if len(fields) < 20 {
		return 0
	}
	startTicks, err := strconv.ParseInt(fields[19], 10, 64)
	if err != nil || startTicks <= 0 {
		return 0
	}

	btime := bootTimeUnix()
	if btime == 0 {
		return 0
	}

	clk, err := sysconf.Sysconf(sysconf.SC_CLK_TCK)
	if err != nil || clk <= 0 {
		clk = 100
	}
	return btime + startTicks/clk
}

func bootTimeUnix() int64 {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0
	}
	defer func() { _ = f.Close() }()
	s := bufio.NewScanner(f)
	for s.Scan() {
		text := s.Text()
		if strings.HasPrefix(text, "btime ") {
			v := strings.TrimSpace(strings.TrimPrefix(text, "btime "))
			if bt, err := strconv.ParseInt(v, 10, 64); err == nil {
				return bt
			}
		}
	}
	return 0
}
