// Package sysinfo collects static facts about the host process once and
// serves the cached snapshot afterwards.
package sysinfo

import (
	"os"
	"runtime"
	"sync"

	"github.com/vk-rv/crashlog/internal/crashlog"
)

// Collector memoizes the system information of the process.
type Collector struct {
	gather func() crashlog.SystemInformation
	info   crashlog.SystemInformation
	once   sync.Once
}

var _ crashlog.SystemCollector = (*Collector)(nil)

// NewCollector returns a collector that gathers facts with gather.
// A nil gather uses Gather.
func NewCollector(gather func() crashlog.SystemInformation) *Collector {
	if gather == nil {
		gather = Gather
	}
	return &Collector{gather: gather}
}

var defaultCollector = NewCollector(nil)

// Default returns the process-wide collector.
func Default() *Collector { return defaultCollector }

// Collect returns the snapshot, gathering it on the first call.
func (c *Collector) Collect() crashlog.SystemInformation {
	c.once.Do(func() {
		c.info = c.gather()
	})
	return c.info
}

// Gather reads the facts from the runtime and the operating system.
// A fact that cannot be determined is left empty.
func Gather() crashlog.SystemInformation {
	info := crashlog.SystemInformation{
		OS:             runtime.GOOS,
		Arch:           runtime.GOARCH,
		RuntimeName:    "go",
		RuntimeVersion: runtime.Version(),
		NumCPU:         runtime.NumCPU(),
		GoMaxProcs:     runtime.GOMAXPROCS(0),
		PID:            os.Getpid(),
	}
	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}
	if exe, err := os.Executable(); err == nil {
		info.Executable = exe
	}
	return info
}
