package device

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplySettingNumber(t *testing.T) {
	d := newTestDevice(&fakeTransport{autoInit: true}, newFakeHost())
	h := registerEntity(t, d, SettingSensitivity, "u_sens", "", 6)

	require.NoError(t, d.ApplySetting(SettingSensitivity, 7.5))
	assert.Equal(t, []any{7.5}, h.commands)
}

func TestApplySettingBool(t *testing.T) {
	d := newTestDevice(&fakeTransport{autoInit: true}, newFakeHost())
	h := registerEntity(t, d, SettingMMWaveLED, "u_led", "", 7)

	require.NoError(t, d.ApplySetting(SettingMMWaveLED, false))
	assert.Equal(t, []any{false}, h.commands)
}

func TestApplySettingCoercesIntegers(t *testing.T) {
	d := newTestDevice(&fakeTransport{autoInit: true}, newFakeHost())
	h := registerEntity(t, d, SettingDistance, "u_dist", "", 8)

	require.NoError(t, d.ApplySetting(SettingDistance, 3))
	assert.Equal(t, []any{float64(3)}, h.commands)
}

func TestApplySettingTypeMismatch(t *testing.T) {
	d := newTestDevice(&fakeTransport{autoInit: true}, newFakeHost())
	h := registerEntity(t, d, SettingSensitivity, "u_sens", "", 6)

	err := d.ApplySetting(SettingSensitivity, true)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, h.commands)
}

func TestApplySettingMissingEntity(t *testing.T) {
	d := newTestDevice(&fakeTransport{autoInit: true}, newFakeHost())
	err := d.ApplySetting(SettingSensitivity, 7.5)
	require.ErrorIs(t, err, ErrMissingEntity)
}

func TestApplySettingUnknownKey(t *testing.T) {
	d := newTestDevice(&fakeTransport{autoInit: true}, newFakeHost())
	err := d.ApplySetting("brightness", 1.0)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMissingEntity)
}

func TestApplySettingCommandFailureSurfaces(t *testing.T) {
	d := newTestDevice(&fakeTransport{autoInit: true}, newFakeHost())
	h := registerEntity(t, d, SettingOnLatency, "u_lat", "", 9)
	h.setErr = errors.New("publish failed")

	err := d.ApplySetting(SettingOnLatency, 2.0)
	require.Error(t, err)
}
