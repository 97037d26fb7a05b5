// Package hubapi defines the datagram protocol spoken between the hub
// process and the client connection: message tags, body types, the CBOR
// envelope codec, and large-payload fragmentation.
package hubapi

// Request tags.
const (
	TagSyncReq            = "SYNC_REQ"
	TagPing               = "PING"
	TagGetEvents          = "GET_EVENTS"
	TagRPC                = "RPC"
	TagExpDevice          = "EXP_DEVICE"
	TagGetStatus          = "GET_IOHUB_STATUS"
	TagStopServer         = "STOP_IOHUB_SERVER"
	TagMultipacketRequest = "IOHUB_MULTIPACKET_REQUEST"
)

// EXP_DEVICE sub-tags.
const (
	SubDevRPC          = "DEV_RPC"
	SubGetDevInterface = "GET_DEV_INTERFACE"
	SubGetDeviceList   = "GET_DEVICE_LIST"
	SubAddDevice       = "ADD_DEVICE"
	SubEventTx         = "EVENT_TX"
)

// Response tags.
const (
	TagSyncReply           = "SYNC_REPLY"
	TagPingBack            = "PING_BACK"
	TagGetEventsResult     = "GET_EVENTS_RESULT"
	TagRPCResult           = "RPC_RESULT"
	TagDevRPCResult        = "DEV_RPC_RESULT"
	TagDevInterfaceResult  = "GET_DEV_INTERFACE_RESULT"
	TagDeviceListResult    = "GET_DEV_LIST_RESULT"
	TagAddDeviceResult     = "ADD_DEVICE_RESULT"
	TagEventTxResult       = "EVENT_TX_RESULT"
	TagStatusResult        = "GET_IOHUB_STATUS_RESULT"
	TagStopServerResult    = "STOP_IOHUB_SERVER_RESULT"
	TagMultipacketResponse = "IOHUB_MULTIPACKET_RESPONSE"
)

// Error reply tags. Every error tag ends in _ERROR; clients detect failures
// by that suffix rather than by enumerating tags.
const (
	ErrTagRPCAttribute   = "RPC_ATTRIBUTE_ERROR"
	ErrTagRPCRuntime     = "RPC_RUNTIME_ERROR"
	ErrTagRPCNotCallable = "RPC_NOT_CALLABLE_ERROR"
	ErrTagDeviceNotFound = "IOHUB_DEVICE_ERROR"
	ErrTagDeviceMethod   = "IOHUB_DEVICE_METHOD_ERROR"
	ErrTagDeviceRuntime  = "RPC_DEVICE_RUNTIME_ERROR"
	ErrTagGetEvents      = "IOHUB_GET_EVENTS_ERROR"
	ErrTagDevInterface   = "GET_DEV_INTERFACE_ERROR"
	ErrTagAddDevice      = "ADD_DEVICE_ERROR"
	ErrTagServer         = "IOHUB_SERVER_ERROR"
)

// Readiness sentinels written to the hub's stdout, the only startup
// synchronization channel between the processes.
const (
	ReadySentinel  = "IOHUB_READY"
	FailedSentinel = "IOHUB_FAILED"
)

// Hub lifecycle phase names reported by GET_IOHUB_STATUS.
const (
	PhaseStarting     = "STARTING"
	PhaseReady        = "READY"
	PhaseRunning      = "RUNNING"
	PhaseShuttingDown = "SHUTTING_DOWN"
	PhaseTerminated   = "TERMINATED"
)
