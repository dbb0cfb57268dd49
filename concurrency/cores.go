// Package concurrency implements the bounded, observable concurrency
// primitives described in spec §4.1: CPU-core detection, labeled
// semaphores, retry-with-backoff, and step timing. Grounded on patterns
// scattered through the teacher's clients/object_store_client.go (backoff
// executor), video/probe.go (backoff.Retry usage) and pipeline/coordinator.go
// (panic-safe goroutine wrapping), generalized into one reusable kernel.
package concurrency

import (
	"os"
	"runtime"
	"strconv"

	"github.com/openpodcast/episode-ingest-worker/log"
)

// cgroup v2 cpu.max lives here; v1 exposes cfs_quota_us/cfs_period_us.
const (
	cgroupV2CPUMax       = "/sys/fs/cgroup/cpu.max"
	cgroupV1CFSQuotaPath = "/sys/fs/cgroup/cpu/cpu.cfs_quota_us"
	cgroupV1CFSPeriod    = "/sys/fs/cgroup/cpu/cpu.cfs_period_us"
)

// DetectEffectiveCores returns max(1, quota) where quota is read from the
// container CPU limit if present, else the explicit override (EFFECTIVE_CPU_CORES),
// else the OS-reported logical core count.
func DetectEffectiveCores(override int) int {
	if n, ok := quotaFromCgroupV2(); ok {
		return max(1, n)
	}
	if n, ok := quotaFromCgroupV1(); ok {
		return max(1, n)
	}
	if override > 0 {
		return override
	}
	return max(1, runtime.NumCPU())
}

func quotaFromCgroupV2() (int, bool) {
	data, err := os.ReadFile(cgroupV2CPUMax)
	if err != nil {
		return 0, false
	}
	fields := splitFields(string(data))
	if len(fields) != 2 || fields[0] == "max" {
		return 0, false
	}
	quota, err1 := strconv.ParseFloat(fields[0], 64)
	period, err2 := strconv.ParseFloat(fields[1], 64)
	if err1 != nil || err2 != nil || period == 0 {
		return 0, false
	}
	cores := int(quota / period)
	return cores, true
}

func quotaFromCgroupV1() (int, bool) {
	quotaData, err := os.ReadFile(cgroupV1CFSQuotaPath)
	if err != nil {
		return 0, false
	}
	periodData, err := os.ReadFile(cgroupV1CFSPeriod)
	if err != nil {
		return 0, false
	}
	quota, err1 := strconv.ParseInt(trimNewline(string(quotaData)), 10, 64)
	period, err2 := strconv.ParseInt(trimNewline(string(periodData)), 10, 64)
	if err1 != nil || err2 != nil || quota <= 0 || period <= 0 {
		return 0, false
	}
	return int(quota / period), true
}

func splitFields(s string) []string {
	var fields []string
	cur := ""
	for _, r := range trimNewline(s) {
		if r == ' ' || r == '\t' {
			if cur != "" {
				fields = append(fields, cur)
				cur = ""
			}
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		fields = append(fields, cur)
	}
	return fields
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r' || s[len(s)-1] == ' ') {
		s = s[:len(s)-1]
	}
	return s
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// DefaultConcurrency returns the default limit for a named resource class
// given the effective core count. `cpu` mirrors the core count exactly;
// `io` is at least 4 and scales with cores to keep network-bound work from
// starving on small instances.
func DefaultConcurrency(class string, cores int) int {
	switch class {
	case "cpu":
		return cores
	case "io":
		return max(4, cores*2)
	default:
		log.LogNoRequestID("unknown concurrency class, defaulting to cores", "class", class)
		return cores
	}
}
