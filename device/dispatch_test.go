package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registerEntity(t *testing.T, d *Device, objectID, uniqueID, class string, key float64) *fakeHandle {
	t.Helper()
	h := &fakeHandle{}
	d.handleNewEntity(entityRaw(objectID, uniqueID, class, key), h)
	_, err := d.registry.Lookup(objectID)
	require.NoError(t, err)
	return h
}

func TestDispatchTemperature(t *testing.T) {
	host := newFakeHost()
	d := newTestDevice(&fakeTransport{autoInit: true}, host)
	h := registerEntity(t, d, "temp", "u_temp", "temperature", 1)

	h.emit(stateRaw(1, 21.5))
	assert.Equal(t, []any{21.5}, host.capabilityWrites(CapabilityTemperature))

	// a boolean on a numeric capability is skipped, not errored
	h.emit(stateRaw(1, true))
	assert.Equal(t, []any{21.5}, host.capabilityWrites(CapabilityTemperature))
}

func TestDispatchNumericClasses(t *testing.T) {
	host := newFakeHost()
	d := newTestDevice(&fakeTransport{autoInit: true}, host)
	registerEntity(t, d, "hum", "u_hum", "humidity", 2).emit(stateRaw(2, 55.0))
	registerEntity(t, d, "lux", "u_lux", "illuminance", 3).emit(stateRaw(3, 120.0))

	assert.Equal(t, []any{55.0}, host.capabilityWrites(CapabilityHumidity))
	assert.Equal(t, []any{120.0}, host.capabilityWrites(CapabilityLuminance))
}

func TestDispatchMotion(t *testing.T) {
	host := newFakeHost()
	d := newTestDevice(&fakeTransport{autoInit: true}, host)
	h := registerEntity(t, d, "pir", "u_pir", "motion", 4)

	h.emit(stateRaw(4, true))
	assert.Equal(t, []any{true}, host.capabilityWrites(CapabilityMotionPIR))

	// numeric payload on a boolean capability is skipped
	h.emit(stateRaw(4, 1.0))
	assert.Equal(t, []any{true}, host.capabilityWrites(CapabilityMotionPIR))
}

func TestDispatchOccupancyRouting(t *testing.T) {
	cases := []struct {
		uniqueID   string
		capability string
	}{
		{"espsensor_binary_sensor_mmwave", CapabilityMotionMMWave},
		{"espsensorbinary_sensormmwave", CapabilityMotionMMWave},
		{"espsensor_binary_sensor_occupancy", CapabilityMotion},
		{"espsensorbinary_sensoroccupancy", CapabilityMotion},
	}
	for _, tc := range cases {
		t.Run(tc.uniqueID, func(t *testing.T) {
			host := newFakeHost()
			d := newTestDevice(&fakeTransport{autoInit: true}, host)
			h := registerEntity(t, d, "occ", tc.uniqueID, "occupancy", 5)
			h.emit(stateRaw(5, true))
			assert.Equal(t, []any{true}, host.capabilityWrites(tc.capability))
		})
	}
}

func TestDispatchOccupancyUnrecognizedUniqueID(t *testing.T) {
	host := newFakeHost()
	d := newTestDevice(&fakeTransport{autoInit: true}, host)
	h := registerEntity(t, d, "occ", "espsensor_radar", "occupancy", 5)
	h.emit(stateRaw(5, true))
	assert.Empty(t, host.capabilityWrites(CapabilityMotion))
	assert.Empty(t, host.capabilityWrites(CapabilityMotionMMWave))
}

func TestDispatchSettings(t *testing.T) {
	host := newFakeHost()
	d := newTestDevice(&fakeTransport{autoInit: true}, host)

	registerEntity(t, d, SettingSensitivity, "u_sens", "", 6).emit(stateRaw(6, 7.0))
	assert.Equal(t, []any{7.0}, host.settingWrites(SettingSensitivity))

	registerEntity(t, d, SettingStatusLED, "u_led", "", 7).emit(stateRaw(7, true))
	assert.Equal(t, []any{true}, host.settingWrites(SettingStatusLED))

	// wrong value type never reaches the settings model
	registerEntity(t, d, SettingDistance, "u_dist", "", 8).emit(stateRaw(8, false))
	assert.Empty(t, host.settingWrites(SettingDistance))
}

func TestDispatchMissingFlagSkipsWrites(t *testing.T) {
	host := newFakeHost()
	d := newTestDevice(&fakeTransport{autoInit: true}, host)
	h := registerEntity(t, d, "temp", "u_temp", "temperature", 1)
	h.emit(map[string]any{"key": float64(1), "value": 21.5, "missing": true})
	assert.Empty(t, host.capabilityWrites(CapabilityTemperature))
}

func TestDispatchUnknownEntityIsIsolated(t *testing.T) {
	host := newFakeHost()
	d := newTestDevice(&fakeTransport{autoInit: true}, host)
	// dispatch for an object that never registered must not panic or write
	d.dispatchState("ghost", stateRaw(9, 1.0))
	assert.Empty(t, host.capabilityWrites(CapabilityTemperature))
}

func TestDispatchMalformedStateIsIsolated(t *testing.T) {
	host := newFakeHost()
	d := newTestDevice(&fakeTransport{autoInit: true}, host)
	h := registerEntity(t, d, "temp", "u_temp", "temperature", 1)
	h.emit(map[string]any{"key": float64(1), "value": "21.5"})
	assert.Empty(t, host.capabilityWrites(CapabilityTemperature))
}

func TestDispatchCapabilityWriteFailureIsLoggedNotFatal(t *testing.T) {
	host := newFakeHost()
	host.capErr = assert.AnError
	d := newTestDevice(&fakeTransport{autoInit: true}, host)
	h := registerEntity(t, d, "temp", "u_temp", "temperature", 1)
	h.emit(stateRaw(1, 21.5)) // must not panic
	host.capErr = nil
	h.emit(stateRaw(1, 22.0))
	assert.Equal(t, []any{22.0}, host.capabilityWrites(CapabilityTemperature))
}

func TestMalformedAnnouncementLeavesRegistryUnchanged(t *testing.T) {
	host := newFakeHost()
	d := newTestDevice(&fakeTransport{autoInit: true}, host)
	d.handleNewEntity(map[string]any{"config": "garbage"}, &fakeHandle{})
	assert.Equal(t, 0, d.registry.Len())
}
