package system

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Snapshot is the memory picture used by the perf report.
type Snapshot struct {
	RSS       uint64
	Available uint64
	Total     uint64
}

func TakeSnapshot() (Snapshot, error) {
	var s Snapshot
	vm, err := mem.VirtualMemory()
	if err != nil {
		return s, fmt.Errorf("virtual memory: %w", err)
	}
	s.Available, s.Total = vm.Available, vm.Total

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return s, fmt.Errorf("process: %w", err)
	}
	info, err := proc.MemoryInfo()
	if err != nil {
		return s, fmt.Errorf("memory info: %w", err)
	}
	s.RSS = info.RSS
	return s, nil
}

// FrameBytes is the size of n uncompressed RGBA frames.
func FrameBytes(n, w, h int) uint64 {
	return uint64(n) * uint64(w) * uint64(h) * 4
}

// CheckMemoryBudget returns a warning when required exceeds 80% of the
// available system memory. An unreadable memory state is not an error.
func CheckMemoryBudget(required uint64) string {
	vm, err := mem.VirtualMemory()
	if err != nil || vm.Available == 0 {
		return ""
	}
	if required > vm.Available/10*8 {
		return fmt.Sprintf("composite needs ~%s but only %s of memory is available", HumanBytes(required), HumanBytes(vm.Available))
	}
	return ""
}

func HumanBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
