// Package linux wraps the scheduling syscalls behind the hub's process
// priority and CPU affinity RPCs. Priority levels map experiment-facing
// names onto nice values so scripts do not deal in raw scheduler numbers.
package linux

import (
	"fmt"
	"os"
	"runtime"
	"sort"

	"golang.org/x/sys/unix"
)

// Priority levels accepted by SetPriority.
const (
	PriorityNormal   = "normal"
	PriorityHigh     = "high"
	PriorityRealtime = "realtime"
)

var priorityNice = map[string]int{
	PriorityNormal:   0,
	PriorityHigh:     -10,
	PriorityRealtime: -20,
}

// SetPriority adjusts the calling process's nice value. Raising priority
// needs CAP_SYS_NICE; the error is returned to the caller, not fatal.
func SetPriority(level string) error {
	nice, ok := priorityNice[level]
	if !ok {
		return fmt.Errorf("unknown priority level %q", level)
	}
	if err := unix.Setpriority(unix.PRIO_PROCESS, 0, nice); err != nil {
		return fmt.Errorf("failed to set priority %s: %w", level, err)
	}
	return nil
}

// GetPriority reports the current level, naming the closest defined level
// at or above the current nice value.
func GetPriority() (string, error) {
	nice, err := unix.Getpriority(unix.PRIO_PROCESS, 0)
	if err != nil {
		return "", fmt.Errorf("failed to get priority: %w", err)
	}
	// Getpriority returns 20-nice to avoid the -1 ambiguity.
	nice = 20 - nice
	switch {
	case nice <= priorityNice[PriorityRealtime]:
		return PriorityRealtime, nil
	case nice <= priorityNice[PriorityHigh]:
		return PriorityHigh, nil
	default:
		return PriorityNormal, nil
	}
}

// SetAffinity pins the process to the given CPU indices. An empty list
// restores the full online CPU set.
func SetAffinity(cpus []int) error {
	var set unix.CPUSet
	if len(cpus) == 0 {
		for i := 0; i < runtime.NumCPU(); i++ {
			set.Set(i)
		}
	}
	for _, cpu := range cpus {
		if cpu < 0 || cpu >= runtime.NumCPU() {
			return fmt.Errorf("cpu index %d out of range", cpu)
		}
		set.Set(cpu)
	}
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("failed to set affinity: %w", err)
	}
	return nil
}

// GetAffinity reports the CPU indices the process may run on.
func GetAffinity() ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, fmt.Errorf("failed to get affinity: %w", err)
	}
	var cpus []int
	for i := 0; i < runtime.NumCPU(); i++ {
		if set.IsSet(i) {
			cpus = append(cpus, i)
		}
	}
	sort.Ints(cpus)
	return cpus, nil
}

// ProcessInfo is the getProcessInfo RPC result.
type ProcessInfo struct {
	PID      int    `json:"pid"`
	Priority string `json:"priority"`
	Affinity []int  `json:"affinity"`
}

func GetProcessInfo() (ProcessInfo, error) {
	priority, err := GetPriority()
	if err != nil {
		return ProcessInfo{}, err
	}
	affinity, err := GetAffinity()
	if err != nil {
		return ProcessInfo{}, err
	}
	return ProcessInfo{
		PID:      os.Getpid(),
		Priority: priority,
		Affinity: affinity,
	}, nil
}
