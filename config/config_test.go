package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XC-/applgatt/att"
	"github.com/XC-/applgatt/gap"
)

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())

	ap, sp, cp, err := c.Resolve()
	require.NoError(t, err)
	wantAP, _ := gap.Adv(gap.PresetDefault)
	wantSP, _ := gap.Scan(gap.PresetDefault)
	wantCP, _ := gap.Conn(gap.PresetDefault)
	assert.Equal(t, wantAP, ap)
	assert.Equal(t, wantSP, sp)
	assert.Equal(t, wantCP, cp)
}

const sample = `
device:
  hci: 1
  name: kitchen
gap:
  preset: Low-Power
  advertising:
    interval_min: 100ms
    interval_max: 150ms
    type: adv_scan_ind
  scan:
    active: true
  connection:
    latency: 2
    supervision_timeout: 4s
att:
  mtu: 247
log:
  level: debug
  format: json
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "applgatt.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Device.HCI)
	assert.Equal(t, "kitchen", c.Device.Name)
	assert.Equal(t, 247, c.ATT.MTU)

	ap, sp, cp, err := c.Resolve()
	require.NoError(t, err)
	assert.Equal(t, uint16(160), ap.IntervalMin)
	assert.Equal(t, uint16(240), ap.IntervalMax)
	assert.Equal(t, gap.AdvScanInd, ap.Type)
	assert.Equal(t, gap.ScanActive, sp.Type)
	assert.Equal(t, uint16(2), cp.Latency)
	assert.Equal(t, uint16(400), cp.SupervisionTimeout)

	low, _ := gap.Conn(gap.PresetLowPower)
	assert.Equal(t, low.IntervalMin, cp.IntervalMin, "fields without override keep the preset")

	l, err := c.NewLogger()
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, l.Level)
	assert.IsType(t, &logrus.JSONFormatter{}, l.Formatter)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	assert.True(t, os.IsNotExist(errors.Cause(err)))
}

func TestMTUBounds(t *testing.T) {
	assert.Equal(t, att.MaxMTU, Default().ATT.MTU)
	for _, mtu := range []int{att.DefaultMTU, att.MaxMTU} {
		c := Default()
		c.ATT.MTU = mtu
		assert.NoError(t, c.Validate(), "mtu %d", mtu)
	}
	for _, mtu := range []int{att.DefaultMTU - 1, att.MaxMTU + 1} {
		c := Default()
		c.ATT.MTU = mtu
		assert.Error(t, c.Validate(), "mtu %d", mtu)
	}
}

func TestParseErrors(t *testing.T) {
	for _, tt := range []struct {
		name string
		yaml string
	}{
		{"syntax", "device: [hci"},
		{"mtu too small", "att: {mtu: 20}"},
		{"mtu too large", "att: {mtu: 600}"},
		{"level", "log: {level: loud}"},
		{"format", "log: {format: xml}"},
		{"preset", "gap: {preset: turbo}"},
		{"hci", "device: {hci: -1}"},
		{"duration", "gap: {advertising: {interval_min: soon}}"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestResolveInvalid(t *testing.T) {
	for _, tt := range []struct {
		name string
		yaml string
	}{
		{"adv interval", "gap: {advertising: {interval_min: 10ms}}"},
		{"adv min above max", "gap: {advertising: {interval_min: 2s}}"},
		{"adv type", "gap: {advertising: {type: adv_loud}}"},
		{"scan window", "gap: {scan: {window: 2s}}"},
		{"conn timeout", "gap: {connection: {supervision_timeout: 50ms}}"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Parse([]byte(tt.yaml))
			require.NoError(t, err)
			_, _, _, err = c.Resolve()
			assert.Error(t, err)
		})
	}
	c, err := Parse([]byte("gap: {connection: {latency: 600}}"))
	require.NoError(t, err)
	_, _, _, err = c.Resolve()
	assert.Equal(t, gap.ErrInvalidParams, errors.Cause(err))
}
