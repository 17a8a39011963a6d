// Package resource probes device memory to size the engine's
// in-memory structures (reassembly buffer cap, outbox capacity, sync
// page size) to what the device can actually afford, the mobile
// analogue of the teacher's container-aware connection-capacity
// calculation.
//
// Philosophy (carried over from the teacher's DynamicCapacityManager):
//   - measure actual resource availability, don't assume a fixed value
//   - prefer a conservative default when measurement fails
//   - never recalculate mid-session in a way that could shrink a
//     buffer a caller is actively relying on; sizing happens once at
//     session start
package resource

import (
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/mem"
)

// Budget is the set of size recommendations derived from probed
// device memory.
type Budget struct {
	TotalMemoryBytes int64

	// MaxBufferSize recommends reassemble.Buffer's growth ceiling.
	MaxBufferSize int

	// OutboxCapacityHint recommends how many pending-send entries the
	// outbound queue should be willing to hold in memory before it
	// starts relying purely on the store for overflow.
	OutboxCapacityHint int

	// ReplayCacheEntries recommends the per-conversation range-sync
	// hint cache size used to avoid redundant range_sync calls.
	ReplayCacheEntries int
}

// conservativeDefault is used whenever memory cannot be measured at
// all (sandboxed test runner, unsupported platform).
const conservativeDefault = 256 * 1024 * 1024 // 256MB

// Probe reads available memory and derives a Budget. cgroupMemoryLimit
// is checked first (covers Android's per-app cgroup under some
// runtimes and any containerized CI environment); gopsutil's
// mem.VirtualMemory is the portable fallback.
func Probe() (Budget, error) {
	total, err := cgroupMemoryLimit()
	if err != nil || total == 0 {
		vm, vmErr := mem.VirtualMemory()
		if vmErr != nil {
			return budgetFor(conservativeDefault), vmErr
		}
		total = int64(vm.Total)
	}
	if total <= 0 {
		total = conservativeDefault
	}
	return budgetFor(total), nil
}

// budgetFor derives size recommendations from a total memory figure.
// The ratios below are deliberately small: a chat SDK's buffers are a
// rounding error next to a phone's total RAM, so the goal is just to
// avoid an unbounded buffer on an extremely memory-constrained device,
// not to maximize usage.
func budgetFor(totalBytes int64) Budget {
	b := Budget{TotalMemoryBytes: totalBytes}

	switch {
	case totalBytes <= 512*1024*1024: // <=512MB: very constrained device
		b.MaxBufferSize = 512 * 1024
		b.OutboxCapacityHint = 256
		b.ReplayCacheEntries = 64
	case totalBytes <= 2*1024*1024*1024: // <=2GB
		b.MaxBufferSize = 2 * 1024 * 1024
		b.OutboxCapacityHint = 1024
		b.ReplayCacheEntries = 256
	default: // comfortable
		b.MaxBufferSize = 4 * 1024 * 1024
		b.OutboxCapacityHint = 4096
		b.ReplayCacheEntries = 1024
	}
	return b
}

// cgroupMemoryLimit reads a cgroup v2 or v1 memory limit file, if
// present. Returns (0, nil) when neither file exists, which the
// caller treats as "fall back to gopsutil".
func cgroupMemoryLimit() (int64, error) {
	if data, err := os.ReadFile("/sys/fs/cgroup/memory.max"); err == nil {
		s := strings.TrimSpace(string(data))
		if s == "max" {
			return 0, nil
		}
		return strconv.ParseInt(s, 10, 64)
	}
	if data, err := os.ReadFile("/sys/fs/cgroup/memory/memory.limit_in_bytes"); err == nil {
		return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	}
	return 0, nil
}

// GOMAXPROCSHint returns the usable core count, respecting any
// container/cgroup CPU quota automaxprocs already applied to
// runtime.GOMAXPROCS at process start.
func GOMAXPROCSHint() int {
	return runtime.GOMAXPROCS(0)
}
