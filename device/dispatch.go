package device

import "strings"

// Capability identifiers exposed to the host.
const (
	CapabilityTemperature  = "measure_temperature"
	CapabilityHumidity     = "measure_humidity"
	CapabilityLuminance    = "measure_luminance"
	CapabilityMotionPIR    = "alarm_motion.pir"
	CapabilityMotionMMWave = "alarm_motion.mmwave"
	CapabilityMotion       = "alarm_motion"
)

// Setting keys exposed to the host. The first six mirror device-side
// parameter entities by ObjectID; the last three are diagnostics refreshed
// from discovery records.
const (
	SettingStatusLED      = "esp32_status_led"
	SettingMMWaveLED      = "mmwave_led"
	SettingOnLatency      = "mmwave_on_latency"
	SettingOffLatency     = "mmwave_off_latency"
	SettingSensitivity    = "mmwave_sensitivity"
	SettingDistance       = "mmwave_distance"
	SettingIP             = "ip"
	SettingVersion        = "esp_home_version"
	SettingProjectVersion = "project_version"
)

type valueKind int

const (
	kindNumber valueKind = iota
	kindBool
)

func (k valueKind) String() string {
	if k == kindBool {
		return "boolean"
	}
	return "number"
}

// settingKinds maps device-mirrored setting keys to the value type each one
// expects, on both the ingest and the write-back path.
var settingKinds = map[string]valueKind{
	SettingStatusLED:   kindBool,
	SettingMMWaveLED:   kindBool,
	SettingOnLatency:   kindNumber,
	SettingOffLatency:  kindNumber,
	SettingSensitivity: kindNumber,
	SettingDistance:    kindNumber,
}

// capabilityFor maps an entity's device class to the capability it feeds and
// the value type it must carry. The occupancy class is ambiguous and is
// disambiguated by UniqueID substrings. Some firmware builds drop the
// underscore between "sensor" and the kind, so both spellings must match.
func capabilityFor(ent *Entity) (string, valueKind, bool) {
	switch ent.DeviceClass {
	case ClassTemperature:
		return CapabilityTemperature, kindNumber, true
	case ClassHumidity:
		return CapabilityHumidity, kindNumber, true
	case ClassIlluminance:
		return CapabilityLuminance, kindNumber, true
	case ClassMotion:
		return CapabilityMotionPIR, kindBool, true
	case ClassOccupancy:
		switch {
		case strings.Contains(ent.UniqueID, "binary_sensor_mmwave"),
			strings.Contains(ent.UniqueID, "binary_sensormmwave"):
			return CapabilityMotionMMWave, kindBool, true
		case strings.Contains(ent.UniqueID, "binary_sensor_occupancy"),
			strings.Contains(ent.UniqueID, "binary_sensoroccupancy"):
			return CapabilityMotion, kindBool, true
		}
	}
	return "", 0, false
}

func matchesKind(v any, k valueKind) bool {
	switch v.(type) {
	case float64:
		return k == kindNumber
	case bool:
		return k == kindBool
	}
	return false
}

// dispatchState routes one state event to its capability and/or setting.
// Everything on this path is isolated per event: failures are logged and the
// stream continues.
func (d *Device) dispatchState(objectID string, raw map[string]any) {
	ev, err := DecodeState(raw)
	if err != nil {
		d.log.Warnf("[%s] dropping malformed state for %s: %s", d.id, objectID, err)
		return
	}
	entry, err := d.registry.Lookup(objectID)
	if err != nil {
		d.log.Errorf("[%s] state event for unknown entity %s", d.id, objectID)
		return
	}
	if ev.Missing {
		d.log.Debugf("[%s] %s has no valid reading yet", d.id, objectID)
		return
	}
	if capability, kind, ok := capabilityFor(entry.Entity); ok {
		// a value of the wrong type is skipped, not errored
		if matchesKind(ev.Value, kind) {
			if err := d.host.SetCapability(capability, ev.Value); err != nil {
				d.log.Warnf("[%s] could not update %s: %s", d.id, capability, err)
			}
		}
	} else {
		d.log.Debugf("[%s] no capability for %s (class %q, unique id %q)",
			d.id, objectID, entry.Entity.DeviceClass, entry.Entity.UniqueID)
	}
	if kind, ok := settingKinds[objectID]; ok && matchesKind(ev.Value, kind) {
		if err := d.host.SetSetting(objectID, ev.Value); err != nil {
			d.log.Warnf("[%s] could not persist setting %s: %s", d.id, objectID, err)
		}
	}
}
