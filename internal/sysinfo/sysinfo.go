// Package sysinfo supplies the INFO command's "# Memory" section with
// process-level stats pulled straight from the OS (memory, threads, CPU),
// next to the dispatcher's own uptime/pid/goroutine "# Server" section.
package sysinfo

import (
	"fmt"
	"os"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// Sample renders a RESP-bulk-ready block of process stats. It degrades to
// an empty string if the process handle can't be opened; none of these
// fields are mandatory for INFO beyond role/replid/offset.
func Sample() string {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return ""
	}

	var b strings.Builder
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		fmt.Fprintf(&b, "used_memory:%d\r\n", mem.RSS)
	}
	if threads, err := p.NumThreads(); err == nil {
		fmt.Fprintf(&b, "num_threads:%d\r\n", threads)
	}
	if pct, err := p.CPUPercent(); err == nil {
		fmt.Fprintf(&b, "cpu_percent:%.2f\r\n", pct)
	}
	return b.String()
}
