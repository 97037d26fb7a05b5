package devices

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"

	"github.com/evtlab/iohub/eventapi"
	"github.com/evtlab/iohub/internal/devsvc"
)

type mouseSettings struct {
	Source string `json:"source,omitempty"`
	// Clicks within this many seconds and pixels of the previous one on
	// the same button count as a multi-click.
	MultiClickWindow float64 `json:"multi_click_window,omitempty"`
	MultiClickRadius int32   `json:"multi_click_radius,omitempty"`
}

// Mouse converts raw pointer transitions from a hook source into move,
// drag, press, release, multi-click and scroll events. Motion with any
// button held is a drag; repeated clicks inside the multi-click window
// additionally produce a MOUSE_MULTI_CLICK event with the click count.
type Mouse struct {
	log         *zap.Logger
	clock       devsvc.Clock
	source      MouseSource
	clickWindow float64
	clickRadius int32

	mu      sync.Mutex
	emit    devsvc.EmitFunc
	x, y    int32
	buttons uint16

	lastClickButton uint8
	lastClickTime   float64
	lastClickX      int32
	lastClickY      int32
	clickCount      uint8
}

func newMouse(config json.RawMessage, p devsvc.Provider) (devsvc.Class, error) {
	settings, err := decode("mouse", config, mouseSettings{
		Source:           "synthetic",
		MultiClickWindow: 0.25,
		MultiClickRadius: 5,
	})
	if err != nil {
		return devsvc.Class{}, err
	}
	var source MouseSource
	switch settings.Source {
	case "synthetic":
		source = NewSyntheticMouse()
	default:
		return devsvc.Class{}, &devsvc.ConfigError{
			Path:   "devices.mouse.settings.source",
			Reason: fmt.Sprintf("unknown mouse source %q", settings.Source),
		}
	}
	return devsvc.Class{
		Impl: &Mouse{
			log:         p.Log,
			clock:       p.Clock,
			source:      source,
			clickWindow: settings.MultiClickWindow,
			clickRadius: settings.MultiClickRadius,
		},
		TypeTag: eventapi.DeviceMouse,
	}, nil
}

func (m *Mouse) Source() MouseSource {
	return m.source
}

func (m *Mouse) StartHook(emit devsvc.EmitFunc) error {
	m.mu.Lock()
	m.emit = emit
	m.mu.Unlock()
	return m.source.Attach(m.handle)
}

func (m *Mouse) StopHook() error {
	return m.source.Detach()
}

func (m *Mouse) Close() error {
	return nil
}

func (m *Mouse) handle(in MouseInput) {
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.emit == nil {
		return
	}
	switch in.Kind {
	case MouseInputMove:
		m.handleMove(in, now)
	case MouseInputButton:
		m.handleButton(in, now)
	case MouseInputScroll:
		m.emit(devsvc.NativeEvent{
			Type:       eventapi.TypeMouseScroll,
			DeviceTime: in.DeviceTime,
			LoggedTime: now,
			Payload: eventapi.MouseScrollPayload{
				ScrollX:  in.ScrollX,
				ScrollY:  in.ScrollY,
				X:        m.x,
				Y:        m.y,
				WindowID: in.WindowID,
			},
		})
	}
}

func (m *Mouse) handleMove(in MouseInput, now float64) {
	dx, dy := in.X-m.x, in.Y-m.y
	m.x, m.y = in.X, in.Y
	t := eventapi.TypeMouseMove
	if m.buttons != 0 {
		t = eventapi.TypeMouseDrag
	}
	m.emit(devsvc.NativeEvent{
		Type:       t,
		DeviceTime: in.DeviceTime,
		LoggedTime: now,
		Payload: eventapi.MouseMotionPayload{
			X:        in.X,
			Y:        in.Y,
			DX:       dx,
			DY:       dy,
			Buttons:  m.buttons,
			WindowID: in.WindowID,
		},
	})
}

func (m *Mouse) handleButton(in MouseInput, now float64) {
	m.x, m.y = in.X, in.Y
	if !in.Down {
		m.buttons &^= uint16(in.Button)
		m.emit(devsvc.NativeEvent{
			Type:       eventapi.TypeMouseButtonRelease,
			DeviceTime: in.DeviceTime,
			LoggedTime: now,
			Payload: eventapi.MouseButtonPayload{
				Button:     in.Button,
				Buttons:    m.buttons,
				ClickCount: m.clickCount,
				X:          in.X,
				Y:          in.Y,
				WindowID:   in.WindowID,
			},
		})
		return
	}
	m.buttons |= uint16(in.Button)
	withinWindow := in.Button == m.lastClickButton &&
		now-m.lastClickTime <= m.clickWindow &&
		abs32(in.X-m.lastClickX) <= m.clickRadius &&
		abs32(in.Y-m.lastClickY) <= m.clickRadius
	if withinWindow {
		m.clickCount++
	} else {
		m.clickCount = 1
	}
	m.lastClickButton = in.Button
	m.lastClickTime = now
	m.lastClickX, m.lastClickY = in.X, in.Y

	payload := eventapi.MouseButtonPayload{
		Button:     in.Button,
		Buttons:    m.buttons,
		ClickCount: m.clickCount,
		X:          in.X,
		Y:          in.Y,
		WindowID:   in.WindowID,
	}
	m.emit(devsvc.NativeEvent{
		Type:       eventapi.TypeMouseButtonPress,
		DeviceTime: in.DeviceTime,
		LoggedTime: now,
		Payload:    payload,
	})
	if m.clickCount > 1 {
		m.emit(devsvc.NativeEvent{
			Type:       eventapi.TypeMouseMultiClick,
			DeviceTime: in.DeviceTime,
			LoggedTime: now,
			Payload:    payload,
		})
	}
}

func (m *Mouse) Commands() map[string]devsvc.Handler {
	return map[string]devsvc.Handler{
		"GetPosition": func(args []cbor.RawMessage) (any, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			return []int32{m.x, m.y}, nil
		},
		"GetPressedButtons": func(args []cbor.RawMessage) (any, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			return m.buttons, nil
		},
	}
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
