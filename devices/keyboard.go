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

type keyboardSettings struct {
	Source     string `json:"source,omitempty"`
	CharEvents *bool  `json:"char_events,omitempty"`
}

var modifierKeys = map[string]uint32{
	"lshift": eventapi.ModShift,
	"rshift": eventapi.ModShift,
	"lctrl":  eventapi.ModCtrl,
	"rctrl":  eventapi.ModCtrl,
	"lalt":   eventapi.ModAlt,
	"ralt":   eventapi.ModAlt,
	"lmeta":  eventapi.ModMeta,
	"rmeta":  eventapi.ModMeta,
}

// Keyboard converts raw key transitions from a hook source into press,
// release and char events, tracking held modifiers, release durations and
// auto-repeat. Hook events carry a zero confidence interval and delay: the
// callback fires at capture time.
type Keyboard struct {
	log        *zap.Logger
	clock      devsvc.Clock
	source     KeyboardSource
	charEvents bool

	mu        sync.Mutex
	emit      devsvc.EmitFunc
	pressed   map[uint32]float64
	modifiers uint32
}

func newKeyboard(config json.RawMessage, p devsvc.Provider) (devsvc.Class, error) {
	settings, err := decode("keyboard", config, keyboardSettings{Source: "synthetic"})
	if err != nil {
		return devsvc.Class{}, err
	}
	var source KeyboardSource
	switch settings.Source {
	case "synthetic":
		source = NewSyntheticKeyboard()
	default:
		return devsvc.Class{}, &devsvc.ConfigError{
			Path:   "devices.keyboard.settings.source",
			Reason: fmt.Sprintf("unknown keyboard source %q", settings.Source),
		}
	}
	charEvents := true
	if settings.CharEvents != nil {
		charEvents = *settings.CharEvents
	}
	return devsvc.Class{
		Impl: &Keyboard{
			log:        p.Log,
			clock:      p.Clock,
			source:     source,
			charEvents: charEvents,
			pressed:    make(map[uint32]float64),
		},
		TypeTag: eventapi.DeviceKeyboard,
	}, nil
}

// Source exposes the attached hook source, letting demos and tests inject
// input through the synthetic implementation.
func (k *Keyboard) Source() KeyboardSource {
	return k.source
}

func (k *Keyboard) StartHook(emit devsvc.EmitFunc) error {
	k.mu.Lock()
	k.emit = emit
	k.mu.Unlock()
	return k.source.Attach(k.handle)
}

func (k *Keyboard) StopHook() error {
	return k.source.Detach()
}

func (k *Keyboard) Close() error {
	return nil
}

func (k *Keyboard) handle(in KeyInput) {
	now := k.clock.Now()
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.emit == nil {
		return
	}
	if in.Down {
		k.handleDown(in, now)
		return
	}
	k.handleUp(in, now)
}

func (k *Keyboard) handleDown(in KeyInput, now float64) {
	_, autoRepeat := k.pressed[in.Code]
	if !autoRepeat {
		k.pressed[in.Code] = now
	}
	if mod, ok := modifierKeys[in.Key]; ok {
		k.modifiers |= mod
	}
	if in.Key == "capslock" && !autoRepeat {
		k.modifiers ^= eventapi.ModCapsLock
	}
	payload := eventapi.KeyboardPayload{
		Key:        in.Key,
		Char:       in.Char,
		Code:       in.Code,
		Modifiers:  k.modifiers,
		AutoRepeat: autoRepeat,
	}
	k.emit(devsvc.NativeEvent{
		Type:       eventapi.TypeKeyboardPress,
		DeviceTime: in.DeviceTime,
		LoggedTime: now,
		Payload:    payload,
	})
	if k.charEvents && in.Char != "" {
		k.emit(devsvc.NativeEvent{
			Type:       eventapi.TypeKeyboardChar,
			DeviceTime: in.DeviceTime,
			LoggedTime: now,
			Payload:    payload,
		})
	}
}

func (k *Keyboard) handleUp(in KeyInput, now float64) {
	var duration float64
	if pressTime, ok := k.pressed[in.Code]; ok {
		duration = now - pressTime
		delete(k.pressed, in.Code)
	}
	if mod, ok := modifierKeys[in.Key]; ok {
		k.modifiers &^= mod
	}
	k.emit(devsvc.NativeEvent{
		Type:       eventapi.TypeKeyboardRelease,
		DeviceTime: in.DeviceTime,
		LoggedTime: now,
		Payload: eventapi.KeyboardPayload{
			Key:       in.Key,
			Char:      in.Char,
			Code:      in.Code,
			Modifiers: k.modifiers,
			Duration:  duration,
		},
	})
}

func (k *Keyboard) Commands() map[string]devsvc.Handler {
	return map[string]devsvc.Handler{
		"GetModifierState": func(args []cbor.RawMessage) (any, error) {
			k.mu.Lock()
			defer k.mu.Unlock()
			return k.modifiers, nil
		},
		"GetPressedKeys": func(args []cbor.RawMessage) (any, error) {
			k.mu.Lock()
			defer k.mu.Unlock()
			codes := make([]uint32, 0, len(k.pressed))
			for code := range k.pressed {
				codes = append(codes, code)
			}
			return codes, nil
		},
	}
}
