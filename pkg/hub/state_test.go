package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/evtlab/iohub/hubapi"
)

func TestLifecyclePhases(t *testing.T) {
	state := NewHubState(zap.NewNop())
	assert.Equal(t, hubapi.PhaseStarting, state.Phase())

	require.NoError(t, state.To(hubapi.PhaseReady))
	require.NoError(t, state.To(hubapi.PhaseRunning))
	require.NoError(t, state.To(hubapi.PhaseShuttingDown))
	require.NoError(t, state.To(hubapi.PhaseTerminated))
	assert.Equal(t, hubapi.PhaseTerminated, state.Phase())
}

func TestInvalidTransitionsRejected(t *testing.T) {
	state := NewHubState(zap.NewNop())
	assert.Error(t, state.To(hubapi.PhaseRunning), "cannot run before ready")

	require.NoError(t, state.To(hubapi.PhaseReady))
	assert.Error(t, state.To(hubapi.PhaseReady))
	assert.Error(t, state.To(hubapi.PhaseStarting), "lifecycle never rewinds")

	require.NoError(t, state.To(hubapi.PhaseRunning))
	assert.Error(t, state.To(hubapi.PhaseReady))
}

func TestFailedStartupCannotReachReady(t *testing.T) {
	state := NewHubState(zap.NewNop())
	require.NoError(t, state.To(hubapi.PhaseTerminated))
	assert.Error(t, state.To(hubapi.PhaseReady))
}
