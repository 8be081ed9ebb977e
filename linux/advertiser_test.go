package linux

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gatt "github.com/XC-/applgatt"
	"github.com/XC-/applgatt/gap"
)

func TestAdvertiserStart(t *testing.T) {
	h, f := newTestHCI(t)
	p, err := gap.Adv(gap.PresetDefault)
	require.NoError(t, err)

	a := NewAdvertiser(h, p, AdvertisedName("applgatt"))
	assert.False(t, a.Serving())
	require.NoError(t, a.Start())
	assert.True(t, a.Serving())

	assert.Equal(t, []opcode{
		opLESetAdvertisingParameters,
		opLESetAdvertisingData,
		opLESetScanResponseData,
		opLESetAdvertiseEnable,
	}, f.opcodes())

	cmds := f.sent()
	sr := gatt.NameScanResponsePacket("applgatt")
	assert.Equal(t, byte(len(sr)), cmds[2][4])
	assert.Equal(t, sr, cmds[2][5:5+len(sr)])
	assert.Equal(t, byte(0x01), cmds[3][4])

	require.NoError(t, a.Stop())
	assert.False(t, a.Serving())
	cmds = f.sent()
	assert.Equal(t, byte(0x00), cmds[len(cmds)-1][4])
}

func TestAdvertiserOptionRestarts(t *testing.T) {
	h, f := newTestHCI(t)
	p, _ := gap.Adv(gap.PresetDefault)
	a := NewAdvertiser(h, p)

	// Not serving: nothing is sent.
	prev, err := a.Option(ManufacturerData([]byte{0x03, 0xFF, 0x34, 0x12}))
	require.NoError(t, err)
	assert.Empty(t, f.sent())

	require.NoError(t, a.Start())
	n := len(f.sent())

	fast, _ := gap.Adv(gap.PresetFast)
	require.NoError(t, a.Configure(fast))
	assert.True(t, a.Serving())
	assert.Equal(t, fast.IntervalMin, a.Params().IntervalMin)
	assert.Equal(t, []opcode{
		opLESetAdvertiseEnable,
		opLESetAdvertisingParameters,
		opLESetAdvertisingData,
		opLESetAdvertiseEnable,
	}, f.opcodes()[n:])

	// The advertising data carries the flags and the manufacturer data.
	cmds := f.sent()
	data := cmds[n+2]
	assert.Equal(t, byte(7), data[4])
	assert.Equal(t, []byte{0x02, 0x01, 0x06, 0x03, 0xFF, 0x34, 0x12}, data[5:12])

	_, err = a.Option(prev)
	require.NoError(t, err)
}

func TestAdvertiserDataTooLong(t *testing.T) {
	h, f := newTestHCI(t)
	p, _ := gap.Adv(gap.PresetDefault)
	a := NewAdvertiser(h, p, ManufacturerData(make([]byte, 29)))
	err := a.Start()
	assert.Equal(t, gatt.ErrEIRPacketTooLong, errors.Cause(err))
	assert.False(t, a.Serving())
	assert.Empty(t, f.sent())
}

func TestAdvertiserInvalidParams(t *testing.T) {
	h, _ := newTestHCI(t)
	p, _ := gap.Adv(gap.PresetDefault)
	a := NewAdvertiser(h, p)
	p.ChannelMap = 0
	assert.Equal(t, gap.ErrInvalidParams, errors.Cause(a.Configure(p)))
}
