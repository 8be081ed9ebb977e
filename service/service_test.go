package service

import (
	"context"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gatt "github.com/XC-/applgatt"
)

func init() {
	pollInterval = 5 * time.Millisecond
}

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.Out = io.Discard
	return l
}

// connect serves svcs over a pipe and returns a client of the other end.
func connect(t *testing.T, svcs ...*gatt.Service) (context.Context, *gatt.Client) {
	s := gatt.NewServer(gatt.Name("test"), gatt.Logger(testLogger()))
	for _, svc := range svcs {
		require.NoError(t, s.AddService(svc))
	}
	require.NoError(t, s.Init())
	cb, sb := net.Pipe()
	go s.ServeBearer(sb)
	c := gatt.NewClient(cb, gatt.ClientLogger(testLogger()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(func() {
		cancel()
		c.Close()
		s.Close()
	})
	return ctx, c
}

// characteristic discovers the characteristic u of service su, with its
// descriptors.
func characteristic(t *testing.T, ctx context.Context, c *gatt.Client, su, u gatt.UUID) *gatt.Characteristic {
	svc, err := c.DiscoverService(ctx, su)
	require.NoError(t, err)
	cc, err := c.DiscoverCharacteristics(ctx, svc, []gatt.UUID{u})
	require.NoError(t, err)
	require.Len(t, cc, 1)
	_, err = c.DiscoverDescriptors(ctx, cc[0], nil)
	require.NoError(t, err)
	return cc[0]
}

func TestBattery(t *testing.T) {
	var lv int32 = 80
	level := func() byte { return byte(atomic.LoadInt32(&lv)) }
	ctx, c := connect(t, Battery(level))

	ch := characteristic(t, ctx, c, BatteryUUID, BatteryLevelUUID)
	assert.Equal(t, gatt.CharRead|gatt.CharNotify, ch.Properties())

	v, err := c.ReadReq(ctx, ch.ValueHandle())
	require.NoError(t, err)
	assert.Equal(t, []byte{80}, v)

	levels := make(chan byte, 8)
	require.NoError(t, c.Subscribe(ctx, ch, false, func(b []byte) { levels <- b[0] }))
	select {
	case l := <-levels:
		assert.Equal(t, byte(80), l)
	case <-time.After(time.Second):
		t.Fatal("no initial level")
	}

	atomic.StoreInt32(&lv, 79)
	select {
	case l := <-levels:
		assert.Equal(t, byte(79), l)
	case <-time.After(time.Second):
		t.Fatal("level change not notified")
	}
	require.NoError(t, c.Unsubscribe(ctx, ch))
}

func TestBatteryDescriptors(t *testing.T) {
	ctx, c := connect(t, Battery(func() byte { return 100 }))
	ch := characteristic(t, ctx, c, BatteryUUID, BatteryLevelUUID)

	var desc []byte
	for _, d := range ch.Descriptors() {
		if d.UUID().Equal(userDescriptionUUID) {
			v, err := c.ReadReq(ctx, d.Handle())
			require.NoError(t, err)
			desc = v
		}
	}
	assert.Equal(t, "Battery level between 0 and 100 percent", string(desc))
}

func TestDeviceInformation(t *testing.T) {
	ctx, c := connect(t, DeviceInformation("XC", "", "1.2.0"))
	svc, err := c.DiscoverService(ctx, DeviceInformationUUID)
	require.NoError(t, err)
	cc, err := c.DiscoverCharacteristics(ctx, svc, nil)
	require.NoError(t, err)
	require.Len(t, cc, 2, "empty model number left out")

	got := map[string]string{}
	for _, ch := range cc {
		v, err := c.ReadReq(ctx, ch.ValueHandle())
		require.NoError(t, err)
		got[ch.UUID().String()] = string(v)
	}
	assert.Equal(t, map[string]string{"2a29": "XC", "2a26": "1.2.0"}, got)
}

func TestEcho(t *testing.T) {
	ctx, c := connect(t, Echo(testLogger()))
	ch := characteristic(t, ctx, c, EchoUUID, EchoValueUUID)

	v, err := c.ReadReq(ctx, ch.ValueHandle())
	require.NoError(t, err)
	assert.Empty(t, v)

	echoes := make(chan []byte, 4)
	require.NoError(t, c.Subscribe(ctx, ch, false, func(b []byte) { echoes <- append([]byte(nil), b...) }))
	// Give the notify handler time to register.
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, c.WriteReq(ctx, ch.ValueHandle(), []byte("hello")))
	select {
	case b := <-echoes:
		assert.Equal(t, "hello", string(b))
	case <-time.After(time.Second):
		t.Fatal("write not echoed")
	}

	v, err = c.ReadReq(ctx, ch.ValueHandle())
	require.NoError(t, err)
	assert.Equal(t, "hello", string(v))
}

func TestEchoLong(t *testing.T) {
	ctx, c := connect(t, Echo(testLogger()))
	ch := characteristic(t, ctx, c, EchoUUID, EchoValueUUID)

	long := make([]byte, 120)
	for i := range long {
		long[i] = byte(i)
	}
	require.NoError(t, c.WriteLong(ctx, ch.ValueHandle(), long))
	v, err := c.ReadLong(ctx, ch.ValueHandle())
	require.NoError(t, err)
	assert.Equal(t, long, v)

	err = c.WriteReq(ctx, ch.ValueHandle(), make([]byte, 19))
	require.NoError(t, err)
	v, err = c.ReadLong(ctx, ch.ValueHandle())
	require.NoError(t, err)
	assert.Len(t, v, 19)
}

func TestEchoLogsToGivenLogger(t *testing.T) {
	l, hook := test.NewNullLogger()
	l.SetLevel(logrus.DebugLevel)
	ctx, c := connect(t, Echo(l))
	ch := characteristic(t, ctx, c, EchoUUID, EchoValueUUID)

	require.NoError(t, c.WriteReq(ctx, ch.ValueHandle(), []byte("hi")))
	e := hook.LastEntry()
	require.NotNil(t, e)
	assert.Equal(t, logrus.DebugLevel, e.Level)
	assert.Equal(t, "echo", e.Data["service"])
	assert.Equal(t, `echo: "hi"`, e.Message)
}
