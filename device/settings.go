package device

import "fmt"

// ApplySetting pushes a user-originated settings change onto the live entity
// that mirrors it. Unlike the state ingest path, failures here surface to the
// caller: a missing entity means the settings UI has lost sync with the
// device.
func (d *Device) ApplySetting(key string, value any) error {
	kind, ok := settingKinds[key]
	if !ok {
		return fmt.Errorf("unknown setting %q", key)
	}
	entry, err := d.registry.Lookup(key)
	if err != nil {
		return fmt.Errorf("applying setting %q: %w", key, err)
	}
	value = normalizeValue(value)
	if !matchesKind(value, kind) {
		return &ValidationError{Field: key, Reason: fmt.Sprintf("expected %s, got %T", kind, value)}
	}
	if err := entry.Handle.SetState(value); err != nil {
		return fmt.Errorf("commanding %q: %w", key, err)
	}
	d.log.Debugf("[%s] applied setting %s=%v", d.id, key, value)
	return nil
}
