package netsvc

import (
	"context"
	"errors"
	"fmt"

	"github.com/evtlab/iohub/hubapi"
	"github.com/evtlab/iohub/internal/devsvc"
)

func (s *Server) handleExpDevice(m hubapi.Message, recvTime float64) []byte {
	req, err := hubapi.DecodeBody[hubapi.ExpDeviceRequest](m)
	if err != nil {
		return hubapi.ErrorMessage(hubapi.ErrTagServer, "bad device request", err.Error())
	}
	switch req.SubTag {
	case hubapi.SubDevRPC:
		return s.handleDevRPC(req)
	case hubapi.SubGetDevInterface:
		return s.handleDevInterface(req)
	case hubapi.SubGetDeviceList:
		return s.handleDeviceList()
	case hubapi.SubAddDevice:
		return s.handleAddDevice(req)
	case hubapi.SubEventTx:
		return s.handleEventTx(req, recvTime)
	default:
		return hubapi.ErrorMessage(hubapi.ErrTagServer, fmt.Sprintf("unknown device sub-tag %q", req.SubTag), "")
	}
}

func (s *Server) handleDevRPC(req hubapi.ExpDeviceRequest) []byte {
	dev, err := s.svc.Get(req.DeviceName)
	if err != nil {
		return hubapi.ErrorMessage(hubapi.ErrTagDeviceNotFound, fmt.Sprintf("unknown device %q", req.DeviceName), "")
	}
	result, err := dev.Dispatch(req.Method, req.Args)
	if err != nil {
		if errors.Is(err, devsvc.ErrUnknownMethod) {
			return hubapi.ErrorMessage(hubapi.ErrTagDeviceMethod,
				fmt.Sprintf("device %q has no method %q", req.DeviceName, req.Method), "")
		}
		return hubapi.ErrorMessage(hubapi.ErrTagDeviceRuntime,
			fmt.Sprintf("%s.%s failed", req.DeviceName, req.Method), err.Error())
	}
	value, err := hubapi.EncodeValue(result)
	if err != nil {
		return hubapi.ErrorMessage(hubapi.ErrTagDeviceRuntime,
			fmt.Sprintf("%s.%s result not encodable", req.DeviceName, req.Method), err.Error())
	}
	return s.encode(hubapi.TagDevRPCResult, hubapi.DevRPCResult{
		DeviceName: req.DeviceName,
		Method:     req.Method,
		Value:      value,
	})
}

func (s *Server) handleDevInterface(req hubapi.ExpDeviceRequest) []byte {
	methods, err := s.svc.Interface(req.DeviceClass)
	if err != nil {
		return hubapi.ErrorMessage(hubapi.ErrTagDevInterface, fmt.Sprintf("unknown device class %q", req.DeviceClass), "")
	}
	return s.encode(hubapi.TagDevInterfaceResult, hubapi.DevInterfaceResult{
		DeviceClass: req.DeviceClass,
		Methods:     methods,
	})
}

func (s *Server) handleDeviceList() []byte {
	devices := s.svc.List()
	infos := make([]hubapi.DeviceInfo, 0, len(devices))
	for _, dev := range devices {
		infos = append(infos, deviceInfo(dev))
	}
	return s.encode(hubapi.TagDeviceListResult, hubapi.DeviceListResult{Devices: infos})
}

func (s *Server) handleAddDevice(req hubapi.ExpDeviceRequest) []byte {
	cfg, err := hubapi.DecodeValue[devsvc.DeviceConfig](req.DeviceConfig)
	if err != nil {
		return hubapi.ErrorMessage(hubapi.ErrTagAddDevice, "bad device config", err.Error())
	}
	dev, err := s.svc.AddDevice(context.Background(), cfg)
	if err != nil {
		return hubapi.ErrorMessage(hubapi.ErrTagAddDevice, fmt.Sprintf("failed to add device %q", cfg.Name), err.Error())
	}
	if err := s.svc.Activate(context.Background(), dev); err != nil {
		return hubapi.ErrorMessage(hubapi.ErrTagAddDevice, fmt.Sprintf("failed to activate device %q", cfg.Name), err.Error())
	}
	return s.encode(hubapi.TagAddDeviceResult, hubapi.AddDeviceResult{Device: deviceInfo(dev)})
}

// handleEventTx routes experiment-script events (MESSAGE, LOG) into the
// pipeline through the virtual experiment device, so they get hub ids and
// flow to the datastore like any other event.
func (s *Server) handleEventTx(req hubapi.ExpDeviceRequest, recvTime float64) []byte {
	dev := s.experimentDevice(req.DeviceName)
	if dev == nil {
		return hubapi.ErrorMessage(hubapi.ErrTagDeviceNotFound, "no experiment device registered", "")
	}
	accepted := 0
	for _, ev := range req.Events {
		native := devsvc.NativeEvent{
			Type:       ev.Type,
			DeviceTime: ev.DeviceTime,
			LoggedTime: recvTime,
			Payload:    ev.Payload,
		}
		// Client-side timestamps ride through as capture time.
		if ev.Time > 0 {
			native.DeviceTime = ev.Time
			native.Delay = recvTime - ev.Time
			if native.Delay < 0 {
				native.Delay = 0
			}
		}
		if dev.EnqueueNative(native) {
			accepted++
		}
	}
	return s.encode(hubapi.TagEventTxResult, hubapi.EventTxResult{Accepted: accepted})
}

func (s *Server) experimentDevice(name string) *devsvc.Device {
	if name != "" {
		dev, err := s.svc.Get(name)
		if err != nil {
			return nil
		}
		return dev
	}
	for _, dev := range s.svc.List() {
		if dev.Class() == s.opts.ExperimentDevice {
			return dev
		}
	}
	return nil
}

func deviceInfo(dev *devsvc.Device) hubapi.DeviceInfo {
	return hubapi.DeviceInfo{
		Name:      dev.Name(),
		Class:     dev.Class(),
		DeviceID:  dev.ID(),
		Connected: dev.Connected(),
		Reporting: dev.IsReportingEvents(),
	}
}
