package hub

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/evtlab/iohub/hubapi"
	"github.com/evtlab/iohub/internal/datastore"
)

// lockedBuffer captures the stdout sentinel lines of a hub running on
// another goroutine.
type lockedBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func writeHubConfig(t *testing.T, dir, deviceType, deviceName string) string {
	t.Helper()
	path := filepath.Join(dir, "hub.yml")
	yml := fmt.Sprintf(`listen: 127.0.0.1:0
data_store:
  enable: true
  path: %s
devices:
  - type: %s
    name: %s
`, filepath.Join(dir, "events"), deviceType, deviceName)
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))
	return path
}

// reopenStore proves the badger lock was released, which only happens when
// the sink was closed.
func reopenStore(t *testing.T, dir string) {
	t.Helper()
	store, err := datastore.Open(zap.NewNop(), datastore.Config{
		Enable: true,
		Path:   filepath.Join(dir, "events"),
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())
}

func TestRunServesUntilStopRequest(t *testing.T) {
	dir := t.TempDir()
	configPath := writeHubConfig(t, dir, "experiment", "experiment")

	h, err := New(Config{ConfigPath: configPath, DataDir: dir, LogLevel: "error"})
	require.NoError(t, err)
	stdout := &lockedBuffer{}
	h.stdout = stdout

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- h.Run(ctx) }()

	require.Eventually(t, func() bool {
		return strings.Contains(stdout.String(), hubapi.ReadySentinel)
	}, 5*time.Second, 10*time.Millisecond, "hub never reported readiness")

	conn, err := net.DialUDP("udp", nil, h.server.Addr().(*net.UDPAddr))
	require.NoError(t, err)
	defer conn.Close()

	pkt, err := hubapi.Encode(hubapi.TagStopServer, nil)
	require.NoError(t, err)
	_, err = conn.Write(pkt)
	require.NoError(t, err)

	buf := make([]byte, hubapi.MaxPacketSize)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	reply, err := hubapi.Decode(buf[:n])
	require.NoError(t, err)
	require.Equal(t, hubapi.TagStopServerResult, reply.Tag)

	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("run did not return after the stop request was served")
	}
	assert.Equal(t, hubapi.PhaseTerminated, h.state.Phase())
	reopenStore(t, dir)
}

func TestRunStopsWhenContextCancelled(t *testing.T) {
	dir := t.TempDir()
	configPath := writeHubConfig(t, dir, "experiment", "experiment")

	h, err := New(Config{ConfigPath: configPath, DataDir: dir, LogLevel: "error"})
	require.NoError(t, err)
	stdout := &lockedBuffer{}
	h.stdout = stdout

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- h.Run(ctx) }()

	require.Eventually(t, func() bool {
		return strings.Contains(stdout.String(), hubapi.ReadySentinel)
	}, 5*time.Second, 10*time.Millisecond, "hub never reported readiness")

	cancel()
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
	assert.Equal(t, hubapi.PhaseTerminated, h.state.Phase())
}

func TestFailedStartupReleasesDatastore(t *testing.T) {
	dir := t.TempDir()
	configPath := writeHubConfig(t, dir, "warp_drive", "warp")

	h, err := New(Config{ConfigPath: configPath, DataDir: dir, LogLevel: "error"})
	require.NoError(t, err)
	stdout := &lockedBuffer{}
	h.stdout = stdout

	err = h.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no usable devices")
	assert.Contains(t, stdout.String(), hubapi.FailedSentinel)
	reopenStore(t, dir)
}
