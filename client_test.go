package gatt

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XC-/applgatt/att"
)

var testIndicateUUID = UUID16(0xFFF4)

// Handles of the indicate characteristic appended to testService.
const (
	hIndicate     = 22
	hIndicateCCCD = 23
)

func startClient(t *testing.T, opts []Option, svcs ...*Service) (*Server, *Client) {
	s, b := startServer(t, opts, svcs...)
	c := NewClient(b, ClientLogger(testLogger()))
	t.Cleanup(func() { c.Close() })
	return s, c
}

// ticker notifies an incrementing counter every few milliseconds.
func ticker(r Request, n Notifier) {
	for i := 0; !n.Done(); i++ {
		if _, err := n.Write([]byte{byte(i)}); err != nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestClientDiscovery(t *testing.T) {
	svc := testService(&memValue{}, NotifyHandlerFunc(ticker))
	svc.AddCharacteristic(testIndicateUUID).HandleIndicateFunc(ticker)
	_, c := startClient(t, nil, svc)
	ctx := testContext(t)

	svcs, err := c.DiscoverServices(ctx, nil)
	require.NoError(t, err)
	require.Len(t, svcs, 3)
	assert.True(t, svcs[0].UUID().Equal(attrGAPUUID))
	assert.Equal(t, uint16(1), svcs[0].Handle())
	assert.Equal(t, uint16(7), svcs[0].EndHandle())
	assert.True(t, svcs[1].UUID().Equal(attrGATTUUID))
	assert.Equal(t, uint16(8), svcs[1].Handle())
	assert.Equal(t, uint16(11), svcs[1].EndHandle())
	assert.True(t, svcs[2].UUID().Equal(testServiceUUID))
	assert.Equal(t, uint16(hTestService), svcs[2].Handle())
	assert.Equal(t, uint16(hIndicateCCCD), svcs[2].EndHandle())

	filtered, err := c.DiscoverServices(ctx, []UUID{testServiceUUID})
	require.NoError(t, err)
	require.Len(t, filtered, 1)

	chars, err := c.DiscoverCharacteristics(ctx, svcs[2], nil)
	require.NoError(t, err)
	require.Len(t, chars, 4)
	want := []struct {
		uuid  UUID
		vh    uint16
		endh  uint16
		props Property
	}{
		{testStaticUUID, hStatic, hStatic, CharRead},
		{testRWUUID, hRW, hRW, CharRead | CharWrite | CharWriteNR},
		{testNotifyUUID, hNotify, hNotifyDesc, CharNotify},
		{testIndicateUUID, hIndicate, hIndicateCCCD, CharIndicate},
	}
	for i, w := range want {
		assert.True(t, chars[i].UUID().Equal(w.uuid), "char %d uuid %s", i, chars[i].UUID())
		assert.Equal(t, w.vh, chars[i].ValueHandle(), "char %d value handle", i)
		assert.Equal(t, w.endh, chars[i].EndHandle(), "char %d end handle", i)
		assert.Equal(t, w.props, chars[i].Properties(), "char %d properties", i)
	}

	descs, err := c.DiscoverDescriptors(ctx, chars[2], nil)
	require.NoError(t, err)
	require.Len(t, descs, 2)
	assert.True(t, descs[0].UUID().Equal(attrClientCharacteristicConfigUUID))
	assert.Equal(t, uint16(hNotifyCCCD), descs[0].Handle())
	assert.True(t, descs[1].UUID().Equal(attrCharacteristicUserDescriptionUUID))
	assert.Equal(t, uint16(hNotifyDesc), descs[1].Handle())

	found, err := c.DiscoverService(ctx, testServiceUUID)
	require.NoError(t, err)
	assert.Equal(t, uint16(hTestService), found.Handle())
	assert.Equal(t, uint16(hIndicateCCCD), found.EndHandle())

	_, err = c.DiscoverService(ctx, UUID16(0x1234))
	assert.Equal(t, att.ErrAttrNotFound, err)
}

func TestClientReadWrite(t *testing.T) {
	_, c := startClient(t, nil, testService(&memValue{}, nil))
	ctx := testContext(t)

	v, err := c.ReadReq(ctx, hStatic)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), v)

	require.NoError(t, c.WriteReq(ctx, hRW, []byte("abc")))
	v, err = c.ReadReq(ctx, hRW)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), v)

	require.NoError(t, c.WriteCmd(hRW, []byte("cmd")))
	v, err = c.ReadBlob(ctx, hRW, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("md"), v)

	assert.Equal(t, att.ErrWriteNotPerm, c.WriteReq(ctx, hDeviceName, []byte("x")))
	_, err = c.ReadReq(ctx, hServiceChange)
	assert.Equal(t, att.ErrReadNotPerm, err)
	_, err = c.ReadReq(ctx, 0x0100)
	assert.Equal(t, att.ErrInvalidHandle, err)

	err = c.WriteReq(ctx, hRW, make([]byte, att.DefaultMTU))
	assert.Equal(t, att.ErrInvalidArgument, errors.Cause(err))
}

func TestClientExchangeMTU(t *testing.T) {
	_, c := startClient(t, []Option{MaxMTU(50)})
	ctx := testContext(t)

	assert.Equal(t, att.DefaultMTU, c.MTU())
	_, err := c.ExchangeMTU(ctx, 10)
	assert.Equal(t, att.ErrInvalidArgument, errors.Cause(err))

	mtu, err := c.ExchangeMTU(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 50, mtu)
	assert.Equal(t, 50, c.MTU())

	mtu, err = c.ExchangeMTU(ctx, 40)
	require.NoError(t, err)
	assert.Equal(t, 40, mtu)
}

func TestClientLongValues(t *testing.T) {
	mem := &memValue{}
	_, c := startClient(t, nil, testService(mem, nil))
	ctx := testContext(t)

	for _, n := range []int{5, 200, 220} {
		v := bytes.Repeat([]byte{byte(n)}, n)
		require.NoError(t, c.WriteLong(ctx, hRW, v), "write %d bytes", n)
		assert.Equal(t, v, mem.value(), "stored %d bytes", n)

		got, err := c.ReadLong(ctx, hRW)
		require.NoError(t, err, "read %d bytes", n)
		assert.Equal(t, v, got, "read %d bytes", n)
	}

	// More chunks than the server queues; the write is cancelled.
	before := mem.value()
	err := c.WriteLong(ctx, hRW, bytes.Repeat([]byte{'z'}, 400))
	assert.Equal(t, att.ErrPrepQueueFull, err)
	assert.Equal(t, before, mem.value())

	err = c.WriteLong(ctx, hRW, make([]byte, att.MaxAttrLen+1))
	assert.Equal(t, att.ErrInvalidArgument, errors.Cause(err))

	// A larger MTU fits the same value in fewer chunks.
	_, err = c.ExchangeMTU(ctx, 100)
	require.NoError(t, err)
	v := bytes.Repeat([]byte{'y'}, 400)
	require.NoError(t, c.WriteLong(ctx, hRW, v))
	got, err := c.ReadLong(ctx, hRW)
	require.NoError(t, err)
	assert.Equal(t, v, got)
}

func TestClientSubscribeNotify(t *testing.T) {
	_, c := startClient(t, nil, testService(&memValue{}, NotifyHandlerFunc(ticker)))
	ctx := testContext(t)

	svc, err := c.DiscoverService(ctx, testServiceUUID)
	require.NoError(t, err)
	chars, err := c.DiscoverCharacteristics(ctx, svc, []UUID{testNotifyUUID})
	require.NoError(t, err)
	require.Len(t, chars, 1)
	ch := chars[0]

	err = c.Subscribe(ctx, ch, false, func([]byte) {})
	assert.Equal(t, att.ErrInvalidArgument, errors.Cause(err), "subscribe before descriptor discovery")

	_, err = c.DiscoverDescriptors(ctx, ch, nil)
	require.NoError(t, err)

	values := make(chan byte, 64)
	require.NoError(t, c.Subscribe(ctx, ch, false, func(v []byte) {
		select {
		case values <- v[0]:
		default:
		}
	}))

	for i := 0; i < 3; i++ {
		select {
		case v := <-values:
			assert.Equal(t, byte(i), v)
		case <-time.After(2 * time.Second):
			t.Fatalf("notification %d not received", i)
		}
	}

	ccc, err := c.ReadReq(ctx, hNotifyCCCD)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x00}, ccc)

	require.NoError(t, c.Unsubscribe(ctx, ch))
	ccc, err = c.ReadReq(ctx, hNotifyCCCD)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x00}, ccc)
}

func TestClientSubscribeIndicate(t *testing.T) {
	confirmed := make(chan error, 1)
	svc := NewService(testServiceUUID)
	svc.AddCharacteristic(testIndicateUUID).HandleIndicateFunc(func(r Request, n Notifier) {
		_, err := n.Write([]byte("ind"))
		confirmed <- err
	})
	_, c := startClient(t, nil, svc)
	ctx := testContext(t)

	s, err := c.DiscoverService(ctx, testServiceUUID)
	require.NoError(t, err)
	chars, err := c.DiscoverCharacteristics(ctx, s, nil)
	require.NoError(t, err)
	require.Len(t, chars, 1)
	_, err = c.DiscoverDescriptors(ctx, chars[0], nil)
	require.NoError(t, err)

	values := make(chan []byte, 1)
	require.NoError(t, c.Subscribe(ctx, chars[0], true, func(v []byte) {
		values <- append([]byte(nil), v...)
	}))

	select {
	case v := <-values:
		assert.Equal(t, []byte("ind"), v)
	case <-time.After(2 * time.Second):
		t.Fatal("indication not received")
	}
	select {
	case err := <-confirmed:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("indication not confirmed")
	}
}

// silentPeer reads and discards everything written to a client.
func TestClientNotifierCapFollowsMTU(t *testing.T) {
	notifiers := make(chan Notifier, 1)
	svc := NewService(testServiceUUID)
	svc.AddCharacteristic(testNotifyUUID).HandleNotifyFunc(func(r Request, n Notifier) {
		notifiers <- n
	})
	_, c := startClient(t, nil, svc)
	ctx := testContext(t)

	s, err := c.DiscoverService(ctx, testServiceUUID)
	require.NoError(t, err)
	chars, err := c.DiscoverCharacteristics(ctx, s, nil)
	require.NoError(t, err)
	require.Len(t, chars, 1)
	_, err = c.DiscoverDescriptors(ctx, chars[0], nil)
	require.NoError(t, err)
	require.NoError(t, c.Subscribe(ctx, chars[0], false, func([]byte) {}))

	var n Notifier
	select {
	case n = <-notifiers:
	case <-time.After(2 * time.Second):
		t.Fatal("notify handler not started")
	}
	assert.Equal(t, att.DefaultMTU-3, n.Cap())

	_, err = c.ExchangeMTU(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 97, n.Cap())
}

func TestClientIndicateFromWriteHandler(t *testing.T) {
	defer func(d time.Duration) { indicationTimeout = d }(indicationTimeout)
	indicationTimeout = 10 * time.Second

	notifiers := make(chan Notifier, 1)
	confirmed := make(chan error, 1)
	svc := NewService(testServiceUUID)
	svc.AddCharacteristic(testIndicateUUID).HandleIndicateFunc(func(r Request, n Notifier) {
		notifiers <- n
	})
	svc.AddCharacteristic(testRWUUID).HandleWriteFunc(func(r Request, data []byte) att.Error {
		select {
		case n := <-notifiers:
			_, err := n.Write(data)
			confirmed <- err
		default:
		}
		return StatusSuccess
	})
	_, c := startClient(t, nil, svc)
	ctx := testContext(t)

	s, err := c.DiscoverService(ctx, testServiceUUID)
	require.NoError(t, err)
	chars, err := c.DiscoverCharacteristics(ctx, s, nil)
	require.NoError(t, err)
	require.Len(t, chars, 2)
	_, err = c.DiscoverDescriptors(ctx, chars[0], nil)
	require.NoError(t, err)

	values := make(chan []byte, 1)
	require.NoError(t, c.Subscribe(ctx, chars[0], true, func(v []byte) {
		values <- append([]byte(nil), v...)
	}))
	require.Eventually(t, func() bool { return len(notifiers) == 1 }, 2*time.Second, 5*time.Millisecond)

	start := time.Now()
	require.NoError(t, c.WriteReq(ctx, chars[1].ValueHandle(), []byte("ping")))
	assert.Less(t, time.Since(start), 2*time.Second)
	select {
	case err := <-confirmed:
		assert.NoError(t, err)
	default:
		t.Fatal("write handler did not indicate")
	}
	assert.Equal(t, []byte("ping"), <-values)
}

func silentPeer(t *testing.T) io.ReadWriteCloser {
	a, b := net.Pipe()
	go io.Copy(io.Discard, b)
	t.Cleanup(func() { b.Close() })
	return a
}

func TestClientTimeout(t *testing.T) {
	c := NewClient(silentPeer(t), ClientLogger(testLogger()), ClientTimeout(50*time.Millisecond))
	defer c.Close()

	_, err := c.ReadReq(context.Background(), hDeviceName)
	assert.Equal(t, att.ErrSeqProtoTimeout, err)
}

func TestClientContext(t *testing.T) {
	c := NewClient(silentPeer(t), ClientLogger(testLogger()))
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.ReadReq(ctx, hDeviceName)
	assert.Equal(t, context.DeadlineExceeded, err)
}

func TestClientClosed(t *testing.T) {
	c := NewClient(silentPeer(t), ClientLogger(testLogger()))
	require.NoError(t, c.Close())

	_, err := c.ReadReq(context.Background(), hDeviceName)
	assert.Equal(t, ErrClientClosed, err)
	assert.Error(t, c.Err())
}

func TestClientInvalidResponse(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	go func() {
		buf := make([]byte, att.MaxMTU)
		for _, rsp := range [][]byte{
			{att.OpWriteResp},
			{att.OpError, att.OpReadReq, 0x03},
		} {
			if _, err := b.Read(buf); err != nil {
				return
			}
			b.Write(rsp)
		}
	}()
	c := NewClient(a, ClientLogger(testLogger()))
	defer c.Close()
	ctx := testContext(t)

	_, err := c.ReadReq(ctx, hDeviceName)
	assert.Equal(t, att.ErrInvalidResponse, errors.Cause(err), "mismatched opcode")
	_, err = c.ReadReq(ctx, hDeviceName)
	assert.Equal(t, att.ErrInvalidResponse, errors.Cause(err), "short error response")
}
