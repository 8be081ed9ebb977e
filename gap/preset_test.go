package gap

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvTable(t *testing.T) {
	cases := []struct {
		p        Preset
		min, max uint16
		typ      AdvType
		data     []byte
	}{
		{PresetDefault, 0x0800, 0x0800, AdvInd, []byte{0x02, 0x01, 0x06}},
		{PresetFast, 0x0020, 0x0030, AdvInd, []byte{0x02, 0x01, 0x06}},
		{PresetLowPower, 0x0640, 0x0780, AdvInd, []byte{0x02, 0x01, 0x06}},
		{PresetBeacon, 0x00A0, 0x00A0, AdvNonconnInd, []byte{0x02, 0x01, 0x04}},
	}
	for _, tt := range cases {
		a, err := Adv(tt.p)
		require.NoError(t, err, tt.p.String())
		assert.Equal(t, tt.min, a.IntervalMin, "%s interval min", tt.p)
		assert.Equal(t, tt.max, a.IntervalMax, "%s interval max", tt.p)
		assert.Equal(t, tt.typ, a.Type, "%s type", tt.p)
		assert.Equal(t, uint8(0x07), a.ChannelMap, "%s channel map", tt.p)
		assert.Equal(t, tt.data, a.Data, "%s data", tt.p)
		assert.Nil(t, a.ScanResp, "%s scan response", tt.p)
	}
}

func TestScanTable(t *testing.T) {
	cases := []struct {
		p              Preset
		typ            ScanType
		interval, wind uint16
	}{
		{PresetDefault, ScanActive, 0x0010, 0x0010},
		{PresetFast, ScanActive, 0x0060, 0x0030},
		{PresetLowPower, ScanPassive, 0x0800, 0x0012},
		{PresetBeacon, ScanPassive, 0x0010, 0x0010},
	}
	for _, tt := range cases {
		s, err := Scan(tt.p)
		require.NoError(t, err)
		assert.Equal(t, tt.typ, s.Type, "%s type", tt.p)
		assert.Equal(t, tt.interval, s.Interval, "%s interval", tt.p)
		assert.Equal(t, tt.wind, s.Window, "%s window", tt.p)
	}
}

func TestConnTable(t *testing.T) {
	cases := []struct {
		p                 Preset
		min, max, latency uint16
		timeout           uint16
	}{
		{PresetDefault, 0x0018, 0x0028, 0, 0x01F4},
		{PresetFast, 0x0006, 0x000C, 0, 0x0064},
		{PresetLowPower, 0x0050, 0x00A0, 4, 0x0258},
		{PresetBeacon, 0x0018, 0x0028, 0, 0x01F4},
	}
	for _, tt := range cases {
		c, err := Conn(tt.p)
		require.NoError(t, err)
		assert.Equal(t, ConnParams{
			IntervalMin:        tt.min,
			IntervalMax:        tt.max,
			Latency:            tt.latency,
			SupervisionTimeout: tt.timeout,
		}, c, tt.p.String())
	}
}

func TestPresetsValidate(t *testing.T) {
	for _, p := range Presets() {
		a, _ := Adv(p)
		s, _ := Scan(p)
		c, _ := Conn(p)
		assert.NoError(t, a.Validate(), "%s adv", p)
		assert.NoError(t, s.Validate(), "%s scan", p)
		assert.NoError(t, c.Validate(), "%s conn", p)
	}
}

func TestAdvReturnsCopy(t *testing.T) {
	a, err := Adv(PresetDefault)
	require.NoError(t, err)
	a.Data[2] = 0xFF

	b, err := Adv(PresetDefault)
	require.NoError(t, err)
	assert.Equal(t, byte(0x06), b.Data[2])
}

func TestUnknownPreset(t *testing.T) {
	_, err := Adv(Preset(42))
	assert.Equal(t, ErrUnknownPreset, err)
	_, err = Scan(Preset(-1))
	assert.Equal(t, ErrUnknownPreset, err)
	_, err = Conn(numPresets)
	assert.Equal(t, ErrUnknownPreset, err)
	assert.Equal(t, "unknown", Preset(42).String())
}

func TestParsePreset(t *testing.T) {
	for _, p := range Presets() {
		got, err := ParsePreset(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	got, err := ParsePreset("Low-Power")
	require.NoError(t, err)
	assert.Equal(t, PresetLowPower, got)

	_, err = ParsePreset("turbo")
	assert.Equal(t, ErrUnknownPreset, errors.Cause(err))
}
