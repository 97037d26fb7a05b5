package netsvc

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/evtlab/iohub/eventapi"
	"github.com/evtlab/iohub/hubapi"
	"github.com/evtlab/iohub/internal/datastore"
	"github.com/evtlab/iohub/internal/devsvc"
	"github.com/evtlab/iohub/internal/pipeline"
	"github.com/evtlab/iohub/pkg/clock"
)

type idleImpl struct{}

func (idleImpl) Close() error { return nil }

func newTestServer(t *testing.T) (*Server, *net.UDPConn, context.CancelFunc) {
	return newTestServerWith(t, Options{
		Listen:       "127.0.0.1:0",
		TickInterval: 0.005,
	})
}

func newTestServerWith(t *testing.T, opts Options) (*Server, *net.UDPConn, context.CancelFunc) {
	t.Helper()
	log := zap.NewNop()
	clk := clock.New()
	reg := devsvc.NewRegistry(log, clk)
	reg.Register("experiment", func(config json.RawMessage, p devsvc.Provider) (devsvc.Class, error) {
		return devsvc.Class{Impl: idleImpl{}, TypeTag: eventapi.DeviceExperiment}, nil
	})
	svc := devsvc.New(log, clk, reg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = svc.Start(ctx) }()

	_, err := svc.AddDevice(ctx, devsvc.DeviceConfig{Type: "experiment", Name: "experiment"})
	require.NoError(t, err)

	global := pipeline.NewGlobalBuffer(64)
	proc := pipeline.New(log, svc, global)
	store, err := datastore.Open(log, datastore.Config{})
	require.NoError(t, err)
	proc.SetStore(store)

	srv := New(log, clk, svc, proc, global, store, opts)
	require.NoError(t, srv.Listen())
	go func() { _ = srv.Serve(ctx) }()

	conn, err := net.DialUDP("udp", nil, srv.Addr().(*net.UDPAddr))
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
		cancel()
	})
	return srv, conn, cancel
}

func roundTrip(t *testing.T, conn *net.UDPConn, tag string, body any) hubapi.Message {
	t.Helper()
	pkt, err := hubapi.Encode(tag, body)
	require.NoError(t, err)
	_, err = conn.Write(pkt)
	require.NoError(t, err)

	buf := make([]byte, hubapi.MaxPacketSize)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	m, err := hubapi.Decode(buf[:n])
	require.NoError(t, err)
	return m
}

func TestPingAndSync(t *testing.T) {
	_, conn, _ := newTestServer(t)

	reply := roundTrip(t, conn, hubapi.TagPing, nil)
	assert.Equal(t, hubapi.TagPingBack, reply.Tag)

	reply = roundTrip(t, conn, hubapi.TagSyncReq, hubapi.SyncRequest{ClientTime: 12.5})
	require.Equal(t, hubapi.TagSyncReply, reply.Tag)
	sync, err := hubapi.DecodeBody[hubapi.SyncReply](reply)
	require.NoError(t, err)
	assert.Equal(t, 12.5, sync.ClientTime)
	assert.Greater(t, sync.HubRecvTime, 0.0)
	assert.GreaterOrEqual(t, sync.HubSendTime, sync.HubRecvTime)
}

func TestHubRPCDispatch(t *testing.T) {
	_, conn, _ := newTestServer(t)

	reply := roundTrip(t, conn, hubapi.TagRPC, hubapi.RPCRequest{Method: "getTime"})
	require.Equal(t, hubapi.TagRPCResult, reply.Tag)
	result, err := hubapi.DecodeBody[hubapi.RPCResult](reply)
	require.NoError(t, err)
	hubTime, err := hubapi.DecodeValue[float64](result.Value)
	require.NoError(t, err)
	assert.Greater(t, hubTime, 0.0)

	reply = roundTrip(t, conn, hubapi.TagRPC, hubapi.RPCRequest{Method: "levitate"})
	assert.Equal(t, hubapi.ErrTagRPCAttribute, reply.Tag)
	rpcErr := hubapi.AsRPCError(reply)
	require.NotNil(t, rpcErr)
	assert.Contains(t, rpcErr.Message, "levitate")
}

func TestDeviceListAndDevRPC(t *testing.T) {
	_, conn, _ := newTestServer(t)

	reply := roundTrip(t, conn, hubapi.TagExpDevice, hubapi.ExpDeviceRequest{SubTag: hubapi.SubGetDeviceList})
	require.Equal(t, hubapi.TagDeviceListResult, reply.Tag)
	list, err := hubapi.DecodeBody[hubapi.DeviceListResult](reply)
	require.NoError(t, err)
	require.Len(t, list.Devices, 1)
	assert.Equal(t, "experiment", list.Devices[0].Name)
	assert.True(t, list.Devices[0].Reporting)

	reply = roundTrip(t, conn, hubapi.TagExpDevice, hubapi.ExpDeviceRequest{
		SubTag:     hubapi.SubDevRPC,
		DeviceName: "experiment",
		Method:     "isReportingEvents",
	})
	require.Equal(t, hubapi.TagDevRPCResult, reply.Tag)
	devResult, err := hubapi.DecodeBody[hubapi.DevRPCResult](reply)
	require.NoError(t, err)
	reporting, err := hubapi.DecodeValue[bool](devResult.Value)
	require.NoError(t, err)
	assert.True(t, reporting)

	reply = roundTrip(t, conn, hubapi.TagExpDevice, hubapi.ExpDeviceRequest{
		SubTag:     hubapi.SubDevRPC,
		DeviceName: "phantom",
		Method:     "isReportingEvents",
	})
	assert.Equal(t, hubapi.ErrTagDeviceNotFound, reply.Tag)

	reply = roundTrip(t, conn, hubapi.TagExpDevice, hubapi.ExpDeviceRequest{
		SubTag:     hubapi.SubDevRPC,
		DeviceName: "experiment",
		Method:     "selfDestruct",
	})
	assert.Equal(t, hubapi.ErrTagDeviceMethod, reply.Tag)
}

func TestDevInterfaceListsClosedMethodSet(t *testing.T) {
	_, conn, _ := newTestServer(t)

	reply := roundTrip(t, conn, hubapi.TagExpDevice, hubapi.ExpDeviceRequest{
		SubTag:      hubapi.SubGetDevInterface,
		DeviceClass: "experiment",
	})
	require.Equal(t, hubapi.TagDevInterfaceResult, reply.Tag)
	iface, err := hubapi.DecodeBody[hubapi.DevInterfaceResult](reply)
	require.NoError(t, err)
	assert.Contains(t, iface.Methods, "getEvents")
	assert.Contains(t, iface.Methods, "enableEventReporting")

	reply = roundTrip(t, conn, hubapi.TagExpDevice, hubapi.ExpDeviceRequest{
		SubTag:      hubapi.SubGetDevInterface,
		DeviceClass: "warp_drive",
	})
	assert.Equal(t, hubapi.ErrTagDevInterface, reply.Tag)
}

func TestEventTxFlowsIntoGlobalBuffer(t *testing.T) {
	_, conn, _ := newTestServer(t)

	reply := roundTrip(t, conn, hubapi.TagExpDevice, hubapi.ExpDeviceRequest{
		SubTag: hubapi.SubEventTx,
		Events: []eventapi.Event{{
			Type:    eventapi.TypeMessage,
			Payload: eventapi.MessagePayload{Text: "trial start"},
		}},
	})
	require.Equal(t, hubapi.TagEventTxResult, reply.Tag)
	tx, err := hubapi.DecodeBody[hubapi.EventTxResult](reply)
	require.NoError(t, err)
	assert.Equal(t, 1, tx.Accepted)

	reply = roundTrip(t, conn, hubapi.TagGetEvents, nil)
	require.Equal(t, hubapi.TagGetEventsResult, reply.Tag)
	events, err := hubapi.DecodeBody[hubapi.GetEventsResult](reply)
	require.NoError(t, err)
	require.Len(t, events.Events, 1)
	assert.Equal(t, eventapi.TypeMessage, events.Events[0].Type)
	payload, ok := events.Events[0].Payload.(eventapi.MessagePayload)
	require.True(t, ok)
	assert.Equal(t, "trial start", payload.Text)
}

func TestStatusAndStop(t *testing.T) {
	srv, conn, _ := newTestServer(t)

	reply := roundTrip(t, conn, hubapi.TagGetStatus, nil)
	require.Equal(t, hubapi.TagStatusResult, reply.Tag)
	status, err := hubapi.DecodeBody[hubapi.StatusResult](reply)
	require.NoError(t, err)
	assert.Equal(t, hubapi.PhaseRunning, status.Phase)
	assert.Equal(t, 1, status.DeviceCount)

	reply = roundTrip(t, conn, hubapi.TagStopServer, nil)
	assert.Equal(t, hubapi.TagStopServerResult, reply.Tag)
	assert.Eventually(t, func() bool { return srv.stopping.Load() }, time.Second, 10*time.Millisecond)
}

func TestMultipacketRequestReassembly(t *testing.T) {
	_, conn, _ := newTestServer(t)

	// Build an oversized EVENT_TX request and push it through the
	// multipacket path by hand.
	events := make([]eventapi.Event, 2000)
	for i := range events {
		events[i] = eventapi.Event{
			Type:    eventapi.TypeMessage,
			Payload: eventapi.MessagePayload{Text: "padding padding padding padding"},
		}
	}
	pkt, err := hubapi.Encode(hubapi.TagExpDevice, hubapi.ExpDeviceRequest{
		SubTag: hubapi.SubEventTx,
		Events: events,
	})
	require.NoError(t, err)
	require.True(t, hubapi.NeedsFragmentation(pkt))

	frags, err := hubapi.Fragment(hubapi.TagMultipacketRequest, pkt)
	require.NoError(t, err)
	for _, frag := range frags {
		_, err = conn.Write(frag)
		require.NoError(t, err)
	}

	buf := make([]byte, hubapi.MaxPacketSize)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	m, err := hubapi.Decode(buf[:n])
	require.NoError(t, err)
	require.Equal(t, hubapi.TagEventTxResult, m.Tag)
	tx, err := hubapi.DecodeBody[hubapi.EventTxResult](m)
	require.NoError(t, err)
	assert.Equal(t, 2000, tx.Accepted)
}

func TestStalledMultipacketStateEvicted(t *testing.T) {
	_, conn, _ := newTestServerWith(t, Options{
		Listen:            "127.0.0.1:0",
		TickInterval:      0.005,
		ReassemblyTimeout: 50 * time.Millisecond,
	})

	// Announce a two fragment request, then go silent.
	header, err := hubapi.Encode(hubapi.TagMultipacketRequest, hubapi.MultipacketHeader{Count: 2, Size: 100})
	require.NoError(t, err)
	_, err = conn.Write(header)
	require.NoError(t, err)

	time.Sleep(150 * time.Millisecond)

	// Once the stalled state is evicted a plain request is handled again
	// instead of being swallowed as a fragment.
	reply := roundTrip(t, conn, hubapi.TagPing, nil)
	assert.Equal(t, hubapi.TagPingBack, reply.Tag)
}
