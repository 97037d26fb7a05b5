package netsvc

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/evtlab/iohub/hubapi"
	"github.com/evtlab/iohub/internal/datastore"
	"github.com/evtlab/iohub/internal/linux"
)

type rpcHandler func(args []cbor.RawMessage) (any, error)

// buildRPCTable declares every hub-level method. The table is the whole
// callable surface; a name missing here is an attribute error no matter
// what the server could otherwise do.
func (s *Server) buildRPCTable() map[string]rpcHandler {
	return map[string]rpcHandler{
		"getTime": func(args []cbor.RawMessage) (any, error) {
			return s.clk.Now(), nil
		},
		"clearEventBuffer": func(args []cbor.RawMessage) (any, error) {
			includeDevices := false
			if len(args) > 0 {
				var err error
				includeDevices, err = hubapi.Arg[bool](args, 0)
				if err != nil {
					return nil, err
				}
			}
			s.proc.ClearAll(includeDevices)
			return true, nil
		},
		"getProcessInfo": func(args []cbor.RawMessage) (any, error) {
			return linux.GetProcessInfo()
		},
		"setPriority": func(args []cbor.RawMessage) (any, error) {
			level, err := hubapi.Arg[string](args, 0)
			if err != nil {
				return nil, err
			}
			if err := linux.SetPriority(level); err != nil {
				return nil, err
			}
			return level, nil
		},
		"getPriority": func(args []cbor.RawMessage) (any, error) {
			return linux.GetPriority()
		},
		"setProcessAffinity": func(args []cbor.RawMessage) (any, error) {
			cpus, err := hubapi.Arg[[]int](args, 0)
			if err != nil {
				return nil, err
			}
			if err := linux.SetAffinity(cpus); err != nil {
				return nil, err
			}
			return true, nil
		},
		"getProcessAffinity": func(args []cbor.RawMessage) (any, error) {
			return linux.GetAffinity()
		},
		"registerExperiment": s.registerExperiment,
		"registerSession":    s.registerSession,
		"initConditionVariableTable": func(args []cbor.RawMessage) (any, error) {
			names, err := hubapi.Arg[[]string](args, 0)
			if err != nil {
				return nil, err
			}
			_, session := s.proc.Session()
			if err := s.store.InitConditionVariables(session, names); err != nil {
				return nil, err
			}
			return true, nil
		},
		"extendConditionVariableTable": func(args []cbor.RawMessage) (any, error) {
			rows, err := hubapi.Arg[[][]any](args, 0)
			if err != nil {
				return nil, err
			}
			_, session := s.proc.Session()
			if err := s.store.ExtendConditionVariables(session, rows); err != nil {
				return nil, err
			}
			return true, nil
		},
		"flushDataStore": func(args []cbor.RawMessage) (any, error) {
			if err := s.store.Flush(); err != nil {
				return nil, err
			}
			return true, nil
		},
	}
}

func (s *Server) registerExperiment(args []cbor.RawMessage) (any, error) {
	meta, err := hubapi.Arg[datastore.ExperimentMeta](args, 0)
	if err != nil {
		return nil, err
	}
	id, err := s.store.WriteExperiment(meta)
	if err != nil {
		return nil, err
	}
	return id, nil
}

// SessionResult is the registerSession return value: the assigned id plus
// the session uuid, which names the stored record.
type SessionResult struct {
	ID   uint32 `cbor:"1,keyasint"`
	UUID string `cbor:"2,keyasint"`
}

func (s *Server) registerSession(args []cbor.RawMessage) (any, error) {
	meta, err := hubapi.Arg[datastore.SessionMeta](args, 0)
	if err != nil {
		return nil, err
	}
	if meta.UUID == "" {
		meta.UUID = uuid.NewString()
	}
	id, err := s.store.WriteSession(meta)
	if err != nil {
		return nil, err
	}
	// Events produced from here on belong to this session.
	s.proc.SetSession(meta.ExperimentID, id)
	return SessionResult{ID: id, UUID: meta.UUID}, nil
}

func (s *Server) handleRPC(m hubapi.Message, recvTime float64) []byte {
	req, err := hubapi.DecodeBody[hubapi.RPCRequest](m)
	if err != nil {
		return hubapi.ErrorMessage(hubapi.ErrTagRPCRuntime, "bad rpc request", err.Error())
	}
	handler, ok := s.rpc[req.Method]
	if !ok {
		return hubapi.ErrorMessage(hubapi.ErrTagRPCAttribute, fmt.Sprintf("unknown method %q", req.Method), "")
	}
	result, err := handler(req.Args)
	if err != nil {
		return hubapi.ErrorMessage(hubapi.ErrTagRPCRuntime, fmt.Sprintf("%s failed", req.Method), err.Error())
	}
	value, err := hubapi.EncodeValue(result)
	if err != nil {
		return hubapi.ErrorMessage(hubapi.ErrTagRPCRuntime, fmt.Sprintf("%s result not encodable", req.Method), err.Error())
	}
	return s.encode(hubapi.TagRPCResult, hubapi.RPCResult{Method: req.Method, Value: value})
}
