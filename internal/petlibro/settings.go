package petlibro

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

const pathSettingPrefix = "/device/setting/"

// Setting endpoints. Each is posted to /device/setting/<endpoint>.
const (
	SettingLidCloseTime            = "setLidCloseTime"
	SettingLidSpeed                = "setLidSpeed"
	SettingLidMode                 = "setLidMode"
	SettingManualLidOpen           = "setManualLidOpen"
	SettingWaterInterval           = "setWaterInterval"
	SettingWaterDispensingDuration = "setWaterDispensingDuration"
	SettingWaterDispensingMode     = "setWaterDispensingMode"
	SettingDisplayIcon             = "setDisplayIcon"
	SettingDisplayText             = "setDisplayText"
	SettingDisplayOn               = "setDisplayOn"
	SettingDisplayOff              = "setDisplayOff"
	SettingSoundOn                 = "setSoundOn"
	SettingSoundOff                = "setSoundOff"
	SettingRepositionSchedule      = "setRepositionSchedule"
)

// settingSpecs lists the known endpoints and whether each takes a value.
var settingSpecs = map[string]bool{
	SettingLidCloseTime:            true,
	SettingLidSpeed:                true,
	SettingLidMode:                 true,
	SettingManualLidOpen:           false,
	SettingWaterInterval:           true,
	SettingWaterDispensingDuration: true,
	SettingWaterDispensingMode:     true,
	SettingDisplayIcon:             true,
	SettingDisplayText:             true,
	SettingDisplayOn:               false,
	SettingDisplayOff:              false,
	SettingSoundOn:                 false,
	SettingSoundOff:                false,
	SettingRepositionSchedule:      false,
}

// Setting is one device setting change. Value is sent as "value" when the
// endpoint takes one; Extra fields are merged into the payload.
type Setting struct {
	Endpoint string         `json:"endpoint"`
	Value    any            `json:"value,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// SettingEndpoints returns the known setting endpoints, sorted.
func SettingEndpoints() []string {
	names := make([]string, 0, len(settingSpecs))
	for name := range settingSpecs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ApplySetting posts a setting change. Every setting shares the
// {deviceSn, value, ...} envelope, so this is the only request builder
// for the family.
func (c *Client) ApplySetting(ctx context.Context, deviceID string, s Setting) (json.RawMessage, error) {
	takesValue, known := settingSpecs[s.Endpoint]
	if !known {
		return nil, fmt.Errorf("%w: unknown setting %q", ErrState, s.Endpoint)
	}
	if takesValue && s.Value == nil {
		return nil, fmt.Errorf("%w: setting %s requires a value", ErrState, s.Endpoint)
	}

	body := make(map[string]any, len(s.Extra)+1)
	for k, v := range s.Extra {
		body[k] = v
	}
	if takesValue {
		body["value"] = s.Value
	}
	return c.deviceCall(ctx, pathSettingPrefix+s.Endpoint, deviceID, body, 0)
}

// SoundSetting turns the device sounds on or off. The vendor uses one
// endpoint per state.
func SoundSetting(on bool) Setting {
	if on {
		return Setting{Endpoint: SettingSoundOn}
	}
	return Setting{Endpoint: SettingSoundOff}
}

// DisplaySetting turns the display on or off.
func DisplaySetting(on bool) Setting {
	if on {
		return Setting{Endpoint: SettingDisplayOn}
	}
	return Setting{Endpoint: SettingDisplayOff}
}

// OpenLidSetting opens the lid manually.
func OpenLidSetting() Setting {
	return Setting{Endpoint: SettingManualLidOpen}
}
