package gatt

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/XC-/applgatt/att"
)

// ErrClientClosed is returned by requests made after the bearer closed.
var ErrClientClosed = errors.New("client closed")

// A NotificationHandler receives the values of a subscribed characteristic.
// It runs on the read loop of the client and must not call Client methods.
// The value is only valid for the duration of the call.
type NotificationHandler func(value []byte)

// A Client is a GATT client running over one bearer. Requests are
// sequential: one outstanding request at a time, as ATT requires.
type Client struct {
	b       io.ReadWriteCloser
	log     logrus.FieldLogger
	timeout time.Duration
	rxMTU   int

	mtumu sync.RWMutex
	mtu   int

	reqmu  sync.Mutex // one outstanding request
	sendmu sync.Mutex // serializes writes to the bearer
	rspc   chan []byte

	subsmu sync.RWMutex
	subs   map[uint16]*subscription // by value handle

	done chan struct{}
	err  error
}

type subscription struct {
	cccdh uint16
	fn    NotificationHandler
}

// ClientOption is a client option.
// It returns an option to restore the last arg's previous value.
type ClientOption func(*Client) ClientOption

// ClientMTU sets the receive MTU announced by ExchangeMTU calls that pass 0.
func ClientMTU(mtu int) ClientOption {
	return func(c *Client) ClientOption {
		prev := c.rxMTU
		c.rxMTU = mtu
		return ClientMTU(prev)
	}
}

// ClientLogger sets the logger of the client.
func ClientLogger(l logrus.FieldLogger) ClientOption {
	return func(c *Client) ClientOption {
		prev := c.log
		c.log = l
		return ClientLogger(prev)
	}
}

// ClientTimeout sets the transaction timeout. [Vol 3, Part F, 3.3.3]
func ClientTimeout(d time.Duration) ClientOption {
	return func(c *Client) ClientOption {
		prev := c.timeout
		c.timeout = d
		return ClientTimeout(prev)
	}
}

// NewClient starts a client on b. The client owns b and reads from it
// until Close is called or b fails.
func NewClient(b io.ReadWriteCloser, opts ...ClientOption) *Client {
	c := &Client{
		b:       b,
		log:     logrus.StandardLogger(),
		timeout: 30 * time.Second,
		rxMTU:   att.MaxMTU,
		mtu:     att.DefaultMTU,
		rspc:    make(chan []byte, 1),
		subs:    make(map[uint16]*subscription),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.loop()
	return c
}

// Close closes the bearer.
func (c *Client) Close() error {
	err := c.b.Close()
	<-c.done
	return err
}

// Done is closed when the client stops reading from the bearer.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the error that stopped the read loop, or nil while it runs.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// MTU returns the current ATT_MTU.
func (c *Client) MTU() int {
	c.mtumu.RLock()
	defer c.mtumu.RUnlock()
	return c.mtu
}

func (c *Client) loop() {
	defer close(c.done)
	buf := make([]byte, att.MaxMTU)
	for {
		n, err := c.b.Read(buf)
		if err != nil || n == 0 {
			if err == nil {
				err = io.EOF
			}
			c.err = err
			return
		}
		b := append([]byte(nil), buf[:n]...)

		switch b[0] {
		case att.OpHandleNotify, att.OpHandleInd:
			c.handleNotification(b)
		default:
			select {
			case c.rspc <- b:
			default:
				c.log.WithField("opcode", b[0]).Warn("dropped unexpected response")
			}
		}
	}
}

func (c *Client) handleNotification(b []byte) {
	if len(b) < 3 {
		c.log.Warnf("short notification: % X", b)
		return
	}
	vh := binary.LittleEndian.Uint16(b[1:])
	c.subsmu.RLock()
	s := c.subs[vh]
	c.subsmu.RUnlock()
	if s != nil && s.fn != nil {
		s.fn(b[3:])
	} else {
		c.log.WithField("handle", vh).Debug("notification without subscription")
	}
	if b[0] == att.OpHandleInd {
		// The read loop must keep draining the bearer while the
		// confirmation waits for the server to read it.
		go func() {
			if err := c.send([]byte{att.OpHandleCnf}); err != nil {
				c.log.WithError(err).Warn("confirmation failed")
			}
		}()
	}
}

func (c *Client) send(b []byte) error {
	c.sendmu.Lock()
	defer c.sendmu.Unlock()
	_, err := c.b.Write(b)
	return err
}

// request sends req and waits for its response. Error Responses are
// returned as att.Error.
func (c *Client) request(ctx context.Context, req []byte) ([]byte, error) {
	c.reqmu.Lock()
	defer c.reqmu.Unlock()

	select {
	case <-c.done:
		return nil, ErrClientClosed
	default:
	}

	// Drop a response that arrived after its request timed out.
	select {
	case <-c.rspc:
	default:
	}

	if err := c.send(req); err != nil {
		return nil, errors.Wrap(err, "send request")
	}

	t := time.NewTimer(c.timeout)
	defer t.Stop()
	select {
	case rsp := <-c.rspc:
		if rsp[0] == att.OpError {
			if len(rsp) != 5 || rsp[1] != req[0] {
				return nil, errors.Wrapf(att.ErrInvalidResponse, "error response % X", rsp)
			}
			return nil, att.Error(rsp[4])
		}
		if want, _ := att.RespFor(req[0]); rsp[0] != want {
			return nil, errors.Wrapf(att.ErrInvalidResponse, "opcode 0x%02X for request 0x%02X", rsp[0], req[0])
		}
		return rsp, nil
	case <-t.C:
		return nil, att.ErrSeqProtoTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClientClosed
	}
}

// ExchangeMTU informs the server of the client’s maximum receive MTU size and
// request the server to respond with its maximum receive MTU size. [Vol 3, Part F, 3.4.2.1]
// A zero mtu announces the ClientMTU option. It returns the negotiated ATT_MTU.
func (c *Client) ExchangeMTU(ctx context.Context, mtu int) (int, error) {
	if mtu == 0 {
		mtu = c.rxMTU
	}
	if mtu < att.DefaultMTU || mtu > att.MaxMTU {
		return 0, errors.Wrapf(att.ErrInvalidArgument, "mtu %d", mtu)
	}
	req := []byte{att.OpMTUReq, 0, 0}
	binary.LittleEndian.PutUint16(req[1:], uint16(mtu))
	rsp, err := c.request(ctx, req)
	if err != nil {
		return 0, err
	}
	if len(rsp) != 3 {
		return 0, errors.Wrap(att.ErrInvalidResponse, "mtu response length")
	}
	srv := int(binary.LittleEndian.Uint16(rsp[1:]))
	if srv < mtu {
		mtu = srv
	}
	if mtu < att.DefaultMTU {
		mtu = att.DefaultMTU
	}
	c.mtumu.Lock()
	c.mtu = mtu
	c.mtumu.Unlock()
	c.log.WithField("mtu", mtu).Debug("mtu exchanged")
	return mtu, nil
}

// DiscoverServices discovers all the primary services on a server. [Vol 3, Part G, 4.4.1]
// A nil filter matches every service.
func (c *Client) DiscoverServices(ctx context.Context, filter []UUID) ([]*Service, error) {
	var svcs []*Service
	start := uint16(0x0001)
	for {
		req := make([]byte, 0, att.ReadByGroupReqLen16)
		req = append(req, att.OpReadByGroupReq)
		req = appendUint16(req, start)
		req = appendUint16(req, 0xFFFF)
		req = append(req, attrPrimaryServiceUUID.b...)
		rsp, err := c.request(ctx, req)
		if err == att.ErrAttrNotFound {
			return svcs, nil
		}
		if err != nil {
			return nil, err
		}
		if len(rsp) < 2 {
			return nil, errors.Wrap(att.ErrInvalidResponse, "short read by group type response")
		}
		length, b := int(rsp[1]), rsp[2:]
		if length != 4+2 && length != 4+16 || len(b)%length != 0 {
			return nil, errors.Wrapf(att.ErrInvalidResponse, "read by group type length %d", length)
		}
		for len(b) != 0 {
			h := binary.LittleEndian.Uint16(b[:2])
			endh := binary.LittleEndian.Uint16(b[2:4])
			u, err := uuidFromLE(b[4:length])
			if err != nil {
				return nil, errors.Wrap(att.ErrInvalidResponse, err.Error())
			}
			if uuidContains(filter, u) {
				svcs = append(svcs, &Service{uuid: u, h: h, endh: endh})
			}
			if endh == 0xFFFF {
				return svcs, nil
			}
			if endh < h {
				return nil, errors.Wrapf(att.ErrInvalidResponse, "service range 0x%04X-0x%04X", h, endh)
			}
			start = endh + 1
			b = b[length:]
		}
	}
}

// DiscoverService discovers the primary service u by its UUID. [Vol 3, Part G, 4.4.2]
// It returns att.ErrAttrNotFound if the server has no such service.
func (c *Client) DiscoverService(ctx context.Context, u UUID) (*Service, error) {
	if u.Len() != 2 && u.Len() != 16 {
		return nil, errors.Wrap(att.ErrInvalidArgument, "uuid")
	}
	req := make([]byte, 0, att.FindByTypeReqMinLen+u.Len())
	req = append(req, att.OpFindByTypeReq)
	req = appendUint16(req, 0x0001)
	req = appendUint16(req, 0xFFFF)
	req = append(req, attrPrimaryServiceUUID.b...)
	req = append(req, u.b...)
	rsp, err := c.request(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(rsp) < 5 || (len(rsp)-1)%4 != 0 {
		return nil, errors.Wrap(att.ErrInvalidResponse, "find by type value length")
	}
	return &Service{
		uuid: UUID{append([]byte(nil), u.b...)},
		h:    binary.LittleEndian.Uint16(rsp[1:]),
		endh: binary.LittleEndian.Uint16(rsp[3:]),
	}, nil
}

// DiscoverCharacteristics discovers the characteristics of s. [Vol 3, Part G, 4.6.1]
// A nil filter matches every characteristic.
func (c *Client) DiscoverCharacteristics(ctx context.Context, s *Service, filter []UUID) ([]*Characteristic, error) {
	var lastChar *Characteristic
	start := s.h
	for start <= s.endh && start != 0 {
		req := make([]byte, 0, att.ReadByTypeReqLen16)
		req = append(req, att.OpReadByTypeReq)
		req = appendUint16(req, start)
		req = appendUint16(req, s.endh)
		req = append(req, attrCharacteristicUUID.b...)
		rsp, err := c.request(ctx, req)
		if err == att.ErrAttrNotFound {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rsp) < 2 {
			return nil, errors.Wrap(att.ErrInvalidResponse, "short read by type response")
		}
		length, b := int(rsp[1]), rsp[2:]
		if length != 7 && length != 21 || len(b)%length != 0 {
			return nil, errors.Wrapf(att.ErrInvalidResponse, "read by type length %d", length)
		}
		for len(b) != 0 {
			h := binary.LittleEndian.Uint16(b[:2])
			props := Property(b[2])
			vh := binary.LittleEndian.Uint16(b[3:5])
			u, err := uuidFromLE(b[5:length])
			if err != nil {
				return nil, errors.Wrap(att.ErrInvalidResponse, err.Error())
			}
			ch := &Characteristic{uuid: u, svc: s, props: props, h: h, vh: vh, endh: s.endh}
			if lastChar != nil {
				lastChar.endh = h - 1
			}
			lastChar = ch
			if uuidContains(filter, u) {
				s.chars = append(s.chars, ch)
			}
			if vh <= start || vh == 0xFFFF {
				return s.chars, nil
			}
			start = vh + 1
			b = b[length:]
		}
	}
	return s.chars, nil
}

// DiscoverDescriptors discovers the descriptors of ch. [Vol 3, Part G, 4.7.1]
// A nil filter matches every descriptor.
func (c *Client) DiscoverDescriptors(ctx context.Context, ch *Characteristic, filter []UUID) ([]*Descriptor, error) {
	start := ch.vh + 1
	for start <= ch.endh && start != 0 {
		req := make([]byte, 0, att.FindInfoReqLen)
		req = append(req, att.OpFindInfoReq)
		req = appendUint16(req, start)
		req = appendUint16(req, ch.endh)
		rsp, err := c.request(ctx, req)
		if err == att.ErrAttrNotFound {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rsp) < 2 {
			return nil, errors.Wrap(att.ErrInvalidResponse, "short find information response")
		}
		length := 2 + 2
		if rsp[1] == 0x02 {
			length = 2 + 16
		}
		b := rsp[2:]
		if len(b) == 0 || len(b)%length != 0 {
			return nil, errors.Wrap(att.ErrInvalidResponse, "find information length")
		}
		for len(b) != 0 {
			h := binary.LittleEndian.Uint16(b[:2])
			u, err := uuidFromLE(b[2:length])
			if err != nil {
				return nil, errors.Wrap(att.ErrInvalidResponse, err.Error())
			}
			d := &Descriptor{uuid: u, h: h, char: ch}
			if uuidContains(filter, u) {
				ch.descs = append(ch.descs, d)
			}
			if u.Equal(attrClientCharacteristicConfigUUID) {
				ch.cccd = d
			}
			if h < start || h == 0xFFFF {
				return ch.descs, nil
			}
			start = h + 1
			b = b[length:]
		}
	}
	return ch.descs, nil
}

// ReadReq reads the value of the attribute at handle h, up to MTU-1 octets. [Vol 3, Part F, 3.4.4.3]
func (c *Client) ReadReq(ctx context.Context, h uint16) ([]byte, error) {
	req := []byte{att.OpReadReq, 0, 0}
	binary.LittleEndian.PutUint16(req[1:], h)
	rsp, err := c.request(ctx, req)
	if err != nil {
		return nil, err
	}
	return rsp[1:], nil
}

// ReadBlob reads part of the value of the attribute at handle h, starting at offset. [Vol 3, Part F, 3.4.4.5]
func (c *Client) ReadBlob(ctx context.Context, h, offset uint16) ([]byte, error) {
	req := make([]byte, 0, att.ReadBlobReqLen)
	req = append(req, att.OpReadBlobReq)
	req = appendUint16(req, h)
	req = appendUint16(req, offset)
	rsp, err := c.request(ctx, req)
	if err != nil {
		return nil, err
	}
	return rsp[1:], nil
}

// ReadLong reads a value of any length with a Read Request followed by
// Read Blob Requests. [Vol 3, Part G, 4.8.3]
func (c *Client) ReadLong(ctx context.Context, h uint16) ([]byte, error) {
	v, err := c.ReadReq(ctx, h)
	if err != nil {
		return nil, err
	}
	for len(v) < att.MaxAttrLen {
		if max := c.MTU() - 1; len(v)%max != 0 || len(v) == 0 {
			break
		}
		part, err := c.ReadBlob(ctx, h, uint16(len(v)))
		if err == att.ErrAttrNotLong || err == att.ErrInvalidOffset {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(part) == 0 {
			break
		}
		v = append(v, part...)
	}
	return v, nil
}

// WriteReq writes v to the attribute at handle h and waits for the
// response. [Vol 3, Part F, 3.4.5.1]
func (c *Client) WriteReq(ctx context.Context, h uint16, v []byte) error {
	if len(v) > c.MTU()-3 {
		return errors.Wrapf(att.ErrInvalidArgument, "value of %d bytes exceeds mtu", len(v))
	}
	req := make([]byte, 0, 3+len(v))
	req = append(req, att.OpWriteReq)
	req = appendUint16(req, h)
	req = append(req, v...)
	_, err := c.request(ctx, req)
	return err
}

// WriteCmd writes v to the attribute at handle h without waiting for a
// response. [Vol 3, Part F, 3.4.5.3]
func (c *Client) WriteCmd(h uint16, v []byte) error {
	if len(v) > c.MTU()-3 {
		return errors.Wrapf(att.ErrInvalidArgument, "value of %d bytes exceeds mtu", len(v))
	}
	req := make([]byte, 0, 3+len(v))
	req = append(req, att.OpWriteCmd)
	req = appendUint16(req, h)
	req = append(req, v...)
	return c.send(req)
}

// WriteLong writes v with Prepare Write Requests and an Execute Write
// Request. [Vol 3, Part G, 4.9.4]
func (c *Client) WriteLong(ctx context.Context, h uint16, v []byte) error {
	if len(v) > att.MaxAttrLen {
		return errors.Wrapf(att.ErrInvalidArgument, "value of %d bytes", len(v))
	}
	chunk := c.MTU() - 5
	for off := 0; off < len(v) || off == 0; off += chunk {
		end := off + chunk
		if end > len(v) {
			end = len(v)
		}
		req := make([]byte, 0, 5+end-off)
		req = append(req, att.OpPrepWriteReq)
		req = appendUint16(req, h)
		req = appendUint16(req, uint16(off))
		req = append(req, v[off:end]...)
		rsp, err := c.request(ctx, req)
		if err == nil && !bytes.Equal(rsp[1:], req[1:]) {
			err = errors.Wrap(att.ErrInvalidResponse, "prepare write echo")
		}
		if err != nil {
			if _, cerr := c.request(ctx, []byte{att.OpExecWriteReq, 0x00}); cerr != nil {
				c.log.WithError(cerr).Debug("cancel prepared writes")
			}
			return err
		}
		if end == len(v) {
			break
		}
	}
	_, err := c.request(ctx, []byte{att.OpExecWriteReq, 0x01})
	return err
}

// Subscribe enables notifications, or indications if indicate is set, of
// ch and routes the values to fn. Indications are confirmed after fn
// returns. Descriptors of ch must have been discovered.
func (c *Client) Subscribe(ctx context.Context, ch *Characteristic, indicate bool, fn NotificationHandler) error {
	if ch.cccd == nil {
		return errors.Wrap(att.ErrInvalidArgument, "characteristic has no client characteristic configuration")
	}
	flag := uint16(cccNotify)
	if indicate {
		flag = cccIndicate
	}
	s := &subscription{cccdh: ch.cccd.h, fn: fn}
	c.subsmu.Lock()
	c.subs[ch.vh] = s
	c.subsmu.Unlock()

	v := make([]byte, 2)
	binary.LittleEndian.PutUint16(v, flag)
	if err := c.WriteReq(ctx, ch.cccd.h, v); err != nil {
		c.subsmu.Lock()
		delete(c.subs, ch.vh)
		c.subsmu.Unlock()
		return err
	}
	return nil
}

// Unsubscribe disables notifications and indications of ch.
func (c *Client) Unsubscribe(ctx context.Context, ch *Characteristic) error {
	c.subsmu.Lock()
	s, ok := c.subs[ch.vh]
	delete(c.subs, ch.vh)
	c.subsmu.Unlock()
	if !ok {
		return nil
	}
	return c.WriteReq(ctx, s.cccdh, []byte{0x00, 0x00})
}
