package linux

import (
	"os"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetAffinityCoversRunningCPU(t *testing.T) {
	cpus, err := GetAffinity()
	require.NoError(t, err)
	assert.NotEmpty(t, cpus)
	for _, cpu := range cpus {
		assert.Less(t, cpu, runtime.NumCPU())
	}
}

func TestSetAffinityRejectsOutOfRange(t *testing.T) {
	assert.Error(t, SetAffinity([]int{runtime.NumCPU() + 1}))
	assert.Error(t, SetAffinity([]int{-1}))
}

func TestSetPriorityRejectsUnknownLevel(t *testing.T) {
	assert.Error(t, SetPriority("turbo"))
}

func TestGetProcessInfo(t *testing.T) {
	info, err := GetProcessInfo()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), info.PID)
	assert.NotEmpty(t, info.Priority)
	assert.NotEmpty(t, info.Affinity)
}
