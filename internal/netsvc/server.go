// Package netsvc is the hub's UDP endpoint. One serve goroutine owns the
// socket, the pipeline tick and every request handler, so all request
// handling is serialized against event processing by construction.
package netsvc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/evtlab/iohub/hubapi"
	"github.com/evtlab/iohub/internal/datastore"
	"github.com/evtlab/iohub/internal/devsvc"
	"github.com/evtlab/iohub/internal/pipeline"
)

// Options wires the server to the rest of the hub.
type Options struct {
	Listen       string
	TickInterval float64

	// Phase reports the hub lifecycle phase for GET_IOHUB_STATUS.
	Phase func() string
	// OnStop is invoked after a STOP_IOHUB_SERVER reply is sent.
	OnStop func()
	// ExperimentDevice is the class EVENT_TX events are routed into.
	ExperimentDevice string
	// ReassemblyTimeout bounds how long multipacket state is kept for a
	// peer that stops sending fragments mid sequence.
	ReassemblyTimeout time.Duration
}

type handlerFunc func(m hubapi.Message, recvTime float64) []byte

// Server reads datagrams, dispatches them through an explicit tag table
// and unicasts the reply to the sender. Read deadlines double as the
// pipeline tick.
type Server struct {
	log    *zap.Logger
	clk    devsvc.Clock
	svc    *devsvc.Service
	proc   *pipeline.Processor
	global *pipeline.GlobalBuffer
	store  *datastore.Sink
	opts   Options

	conn     *net.UDPConn
	handlers map[string]handlerFunc
	rpc      map[string]rpcHandler
	reasm    map[string]*pendingReassembly
	tasks    chan func()
	stopping *atomic.Bool
}

// pendingReassembly is an in-flight multipacket request. The deadline is
// refreshed on every fragment; an entry past it is evicted so a stalled
// peer cannot pin reassembly state forever.
type pendingReassembly struct {
	r        *hubapi.Reassembler
	deadline time.Time
}

func New(log *zap.Logger, clk devsvc.Clock, svc *devsvc.Service, proc *pipeline.Processor, global *pipeline.GlobalBuffer, store *datastore.Sink, opts Options) *Server {
	if opts.TickInterval <= 0 {
		opts.TickInterval = 0.01
	}
	if opts.ExperimentDevice == "" {
		opts.ExperimentDevice = "experiment"
	}
	if opts.ReassemblyTimeout <= 0 {
		opts.ReassemblyTimeout = 5 * time.Second
	}
	s := &Server{
		log:      log,
		clk:      clk,
		svc:      svc,
		proc:     proc,
		global:   global,
		store:    store,
		opts:     opts,
		reasm:    make(map[string]*pendingReassembly),
		tasks:    make(chan func(), 16),
		stopping: atomic.NewBool(false),
	}
	s.handlers = map[string]handlerFunc{
		hubapi.TagSyncReq:    s.handleSync,
		hubapi.TagPing:       s.handlePing,
		hubapi.TagGetEvents:  s.handleGetEvents,
		hubapi.TagRPC:        s.handleRPC,
		hubapi.TagExpDevice:  s.handleExpDevice,
		hubapi.TagGetStatus:  s.handleStatus,
		hubapi.TagStopServer: s.handleStop,
	}
	s.rpc = s.buildRPCTable()
	return s
}

// Listen binds the UDP socket. A bind failure is fatal to hub startup, so
// it is separated from Serve.
func (s *Server) Listen() error {
	addr, err := net.ResolveUDPAddr("udp", s.opts.Listen)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", s.opts.Listen, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.opts.Listen, err)
	}
	s.conn = conn
	return nil
}

// Addr reports the bound address, valid after Listen.
func (s *Server) Addr() net.Addr {
	return s.conn.LocalAddr()
}

// Serve runs the read loop until the context is cancelled or a stop
// request was served. Each read deadline expiry runs one pipeline tick,
// so event processing keeps its cadence while the socket is idle.
func (s *Server) Serve(ctx context.Context) error {
	defer s.conn.Close()
	tick := time.Duration(s.opts.TickInterval * float64(time.Second))
	buf := make([]byte, hubapi.MaxPacketSize)
	for {
		if ctx.Err() != nil || s.stopping.Load() {
			return nil
		}
		s.runTasks()
		if err := s.conn.SetReadDeadline(time.Now().Add(tick)); err != nil {
			return fmt.Errorf("failed to arm read deadline: %w", err)
		}
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				s.proc.Tick()
				s.evictStaleReassembly(time.Now())
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("udp read failed: %w", err)
		}
		recvTime := s.clk.Now()
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		s.handlePacket(pkt, addr, recvTime)
		s.proc.Tick()
	}
}

// Do schedules fn onto the serve goroutine, which owns the device table
// and the pipeline. Used by the config watcher for live device additions.
func (s *Server) Do(fn func()) {
	select {
	case s.tasks <- fn:
	default:
		s.log.Warn("Dropping scheduled task, queue full")
	}
}

func (s *Server) runTasks() {
	for {
		select {
		case fn := <-s.tasks:
			fn()
		default:
			return
		}
	}
}

func (s *Server) handlePacket(pkt []byte, addr *net.UDPAddr, recvTime float64) {
	key := addr.String()
	if p, ok := s.reasm[key]; ok {
		if time.Now().After(p.deadline) {
			// The peer stalled mid sequence; treat this datagram as the
			// start of something new.
			s.log.Warn("Evicting stalled multipacket request", zap.String("peer", key))
			delete(s.reasm, key)
		} else {
			done, err := p.r.Add(pkt)
			if err != nil {
				s.log.Warn("Dropping multipacket request", zap.String("peer", key), zap.Error(err))
				delete(s.reasm, key)
				return
			}
			if !done {
				p.deadline = time.Now().Add(s.opts.ReassemblyTimeout)
				return
			}
			delete(s.reasm, key)
			pkt = p.r.Bytes()
		}
	}

	m, err := hubapi.Decode(pkt)
	if err != nil {
		// Malformed datagrams are dropped, never fatal.
		s.log.Warn("Dropping malformed packet", zap.String("peer", key), zap.Error(err))
		return
	}
	if m.Tag == hubapi.TagMultipacketRequest {
		header, err := hubapi.DecodeBody[hubapi.MultipacketHeader](m)
		if err != nil {
			s.log.Warn("Dropping bad multipacket header", zap.String("peer", key), zap.Error(err))
			return
		}
		r, err := hubapi.NewReassembler(header)
		if err != nil {
			s.log.Warn("Rejecting multipacket request", zap.String("peer", key), zap.Error(err))
			return
		}
		s.reasm[key] = &pendingReassembly{r: r, deadline: time.Now().Add(s.opts.ReassemblyTimeout)}
		return
	}

	handler, ok := s.handlers[m.Tag]
	if !ok {
		s.send(addr, hubapi.ErrorMessage(hubapi.ErrTagServer, fmt.Sprintf("unknown request tag %q", m.Tag), ""))
		return
	}
	if reply := handler(m, recvTime); reply != nil {
		s.send(addr, reply)
	}
	if s.stopping.Load() && s.opts.OnStop != nil {
		s.opts.OnStop()
	}
}

func (s *Server) evictStaleReassembly(now time.Time) {
	for key, p := range s.reasm {
		if now.After(p.deadline) {
			s.log.Warn("Evicting stalled multipacket request", zap.String("peer", key))
			delete(s.reasm, key)
		}
	}
}

func (s *Server) send(addr *net.UDPAddr, pkt []byte) {
	if !hubapi.NeedsFragmentation(pkt) {
		if _, err := s.conn.WriteToUDP(pkt, addr); err != nil {
			s.log.Warn("Failed to send reply", zap.Error(err))
		}
		return
	}
	frags, err := hubapi.Fragment(hubapi.TagMultipacketResponse, pkt)
	if err != nil {
		s.log.Error("Failed to fragment reply", zap.Error(err))
		return
	}
	for _, frag := range frags {
		if _, err := s.conn.WriteToUDP(frag, addr); err != nil {
			s.log.Warn("Failed to send fragment", zap.Error(err))
			return
		}
	}
}

// encode builds a reply packet, degrading to a server error on failure.
func (s *Server) encode(tag string, body any) []byte {
	pkt, err := hubapi.Encode(tag, body)
	if err != nil {
		s.log.Error("Failed to encode reply", zap.String("tag", tag), zap.Error(err))
		return hubapi.ErrorMessage(hubapi.ErrTagServer, "failed to encode reply", err.Error())
	}
	return pkt
}

func (s *Server) handleSync(m hubapi.Message, recvTime float64) []byte {
	req, err := hubapi.DecodeBody[hubapi.SyncRequest](m)
	if err != nil {
		return hubapi.ErrorMessage(hubapi.ErrTagServer, "bad sync request", err.Error())
	}
	return s.encode(hubapi.TagSyncReply, hubapi.SyncReply{
		ClientTime:  req.ClientTime,
		HubRecvTime: recvTime,
		HubSendTime: s.clk.Now(),
	})
}

func (s *Server) handlePing(m hubapi.Message, recvTime float64) []byte {
	return s.encode(hubapi.TagPingBack, nil)
}

func (s *Server) handleGetEvents(m hubapi.Message, recvTime float64) []byte {
	var req hubapi.GetEventsRequest
	if len(m.Body) > 0 {
		var err error
		req, err = hubapi.DecodeBody[hubapi.GetEventsRequest](m)
		if err != nil {
			return hubapi.ErrorMessage(hubapi.ErrTagGetEvents, "bad get events request", err.Error())
		}
	}
	// Flush pending ingress first so the reply carries everything the
	// devices produced up to this request.
	s.proc.Tick()
	if req.DeviceName == "" {
		return s.encode(hubapi.TagGetEventsResult, hubapi.GetEventsResult{Events: s.global.Drain()})
	}
	dev, err := s.svc.Get(req.DeviceName)
	if err != nil {
		return hubapi.ErrorMessage(hubapi.ErrTagGetEvents, fmt.Sprintf("unknown device %q", req.DeviceName), "")
	}
	return s.encode(hubapi.TagGetEventsResult, hubapi.GetEventsResult{Events: dev.GetEvents(0)})
}

func (s *Server) handleStatus(m hubapi.Message, recvTime float64) []byte {
	phase := hubapi.PhaseRunning
	if s.opts.Phase != nil {
		phase = s.opts.Phase()
	}
	return s.encode(hubapi.TagStatusResult, hubapi.StatusResult{
		Phase:       phase,
		HubTime:     s.clk.Now(),
		DeviceCount: len(s.svc.List()),
		EventCount:  s.proc.EventCount(),
	})
}

func (s *Server) handleStop(m hubapi.Message, recvTime float64) []byte {
	s.stopping.Store(true)
	return s.encode(hubapi.TagStopServerResult, nil)
}
