package device

// DeviceClass is the semantic category an entity announces for itself.
type DeviceClass string

const (
	ClassTemperature DeviceClass = "temperature"
	ClassHumidity    DeviceClass = "humidity"
	ClassIlluminance DeviceClass = "illuminance"
	ClassMotion      DeviceClass = "motion"
	ClassOccupancy   DeviceClass = "occupancy"
)

// Entity is a single measurable or configurable point exposed by the device.
// ObjectID is stable across reconnects and unique within a session; UniqueID
// varies in format between firmware versions.
type Entity struct {
	ObjectID    string
	UniqueID    string
	DeviceClass DeviceClass
	Name        string
	Unit        string
	Key         int64
}

// StateEvent is a decoded per-entity state update. Value is either float64 or
// bool. Missing means the device has no valid reading for the entity yet.
type StateEvent struct {
	Key     int64
	Value   any
	Missing bool
}

// DecodeEntity validates a raw entity announcement and produces a typed
// Entity. The wire feed is noisy, so failure is an ordinary *ValidationError,
// never a panic.
func DecodeEntity(raw map[string]any) (*Entity, error) {
	if raw == nil {
		return nil, &ValidationError{Field: "entity", Reason: "announcement is empty"}
	}
	key, ok := numberField(raw, "key")
	if !ok {
		return nil, &ValidationError{Field: "key", Reason: "missing or not a number"}
	}
	cfgRaw, ok := raw["config"]
	if !ok {
		return nil, &ValidationError{Field: "config", Reason: "missing"}
	}
	cfg, ok := cfgRaw.(map[string]any)
	if !ok {
		return nil, &ValidationError{Field: "config", Reason: "not an object"}
	}
	objectID, ok := stringField(cfg, "object_id")
	if !ok || objectID == "" {
		return nil, &ValidationError{Field: "config.object_id", Reason: "missing or empty"}
	}
	uniqueID, ok := stringField(cfg, "unique_id")
	if !ok {
		return nil, &ValidationError{Field: "config.unique_id", Reason: "missing"}
	}
	name, ok := stringField(cfg, "name")
	if !ok {
		return nil, &ValidationError{Field: "config.name", Reason: "missing"}
	}
	class, ok := stringField(cfg, "device_class")
	if !ok {
		return nil, &ValidationError{Field: "config.device_class", Reason: "missing"}
	}
	// unit is optional but must be a string when present
	unit := ""
	if u, present := cfg["unit_of_measurement"]; present {
		unit, ok = u.(string)
		if !ok {
			return nil, &ValidationError{Field: "config.unit_of_measurement", Reason: "not a string"}
		}
	}
	return &Entity{
		ObjectID:    objectID,
		UniqueID:    uniqueID,
		DeviceClass: DeviceClass(class),
		Name:        name,
		Unit:        unit,
		Key:         int64(key),
	}, nil
}

// DecodeState does a cheap type-level check of a state event. State updates
// arrive far more often than announcements, so this deliberately reads three
// fields and nothing else instead of walking a schema.
func DecodeState(raw map[string]any) (StateEvent, error) {
	key, ok := numberField(raw, "key")
	if !ok {
		return StateEvent{}, &ValidationError{Field: "key", Reason: "missing or not a number"}
	}
	ev := StateEvent{Key: int64(key)}
	value, present := raw["value"]
	if !present {
		return StateEvent{}, &ValidationError{Field: "value", Reason: "missing"}
	}
	ev.Value = normalizeValue(value)
	switch ev.Value.(type) {
	case float64, bool:
	default:
		return StateEvent{}, &ValidationError{Field: "value", Reason: "not a number or boolean"}
	}
	if m, present := raw["missing"]; present {
		missing, ok := m.(bool)
		if !ok {
			return StateEvent{}, &ValidationError{Field: "missing", Reason: "not a boolean"}
		}
		ev.Missing = missing
	}
	return ev, nil
}

// normalizeValue folds the integer types a non-JSON transport may hand us
// into float64 so the dispatcher only ever sees float64 or bool.
func normalizeValue(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	default:
		return v
	}
}

func stringField(m map[string]any, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func numberField(m map[string]any, key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := normalizeValue(v).(type) {
	case float64:
		return n, true
	default:
		return 0, false
	}
}
