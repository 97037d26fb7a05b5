package devsvc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DecodeSettings unmarshals a device's settings block into the typed
// settings struct of its class. Unknown keys are a ConfigError: a typo in a
// setting name should fail the device at startup, not silently fall back to
// a default.
func DecodeSettings[T any](name string, raw json.RawMessage, def T) (T, error) {
	if len(raw) == 0 {
		return def, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&def); err != nil {
		return def, &ConfigError{
			Path:   fmt.Sprintf("devices.%s.settings", name),
			Reason: err.Error(),
		}
	}
	return def, nil
}
