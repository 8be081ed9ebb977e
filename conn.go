package gatt

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/XC-/applgatt/att"
)

// A BDAddr (Bluetooth Device Address) is a hardware-addressed-based net.Addr.
type BDAddr struct{ net.HardwareAddr }

// Network returns "BLE".
func (a BDAddr) Network() string { return "BLE" }

// A Bearer carries ATT PDUs, one PDU per Read or Write call.
// An L2CAP LE socket on the ATT channel is a Bearer, and so is
// either end of a net.Pipe.
type Bearer interface {
	io.ReadWriteCloser
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// Conn is a connection between the server and a central.
type Conn interface {
	// LocalAddr returns the address of the local device (peripheral).
	LocalAddr() net.Addr

	// RemoteAddr returns the address of the connected device (central).
	RemoteAddr() net.Addr

	// Close disconnects the connection.
	Close() error

	// MTU returns the current ATT_MTU of the connection.
	MTU() int
}

// indicationTimeout bounds the wait for a Handle Value Confirmation. [Vol 3, Part F, 3.3.3]
var indicationTimeout = 30 * time.Second

var errConnClosed = errors.New("connection closed")

// conn serves the ATT requests of one central.
type conn struct {
	b     Bearer
	attrs *attrRange
	log   logrus.FieldLogger
	rxMTU uint16 // server receive MTU

	mtumu sync.RWMutex
	mtu   uint16 // negotiated ATT_MTU

	prep *att.PrepareQueue

	sendmu sync.Mutex // serializes writes to the bearer
	indmu  sync.Mutex // one outstanding indication at a time
	cnf    chan struct{}

	nmu       sync.Mutex
	ccc       map[uint16]uint16    // by CCCD handle
	notifiers map[uint16]*notifier // by CCCD handle

	closeOnce sync.Once
	quit      chan struct{}
}

func newConn(b Bearer, attrs *attrRange, rxMTU uint16, l logrus.FieldLogger) *conn {
	return &conn{
		b:         b,
		attrs:     attrs,
		log:       l.WithField("conn", addrString(b.RemoteAddr())),
		rxMTU:     rxMTU,
		mtu:       att.DefaultMTU,
		prep:      att.NewPrepareQueue(att.PrepareQueueSize),
		cnf:       make(chan struct{}, 1),
		ccc:       make(map[uint16]uint16),
		notifiers: make(map[uint16]*notifier),
		quit:      make(chan struct{}),
	}
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

func (c *conn) LocalAddr() net.Addr  { return c.b.LocalAddr() }
func (c *conn) RemoteAddr() net.Addr { return c.b.RemoteAddr() }

func (c *conn) MTU() int {
	c.mtumu.RLock()
	defer c.mtumu.RUnlock()
	return int(c.mtu)
}

func (c *conn) setMTU(mtu uint16) {
	c.mtumu.Lock()
	c.mtu = mtu
	c.mtumu.Unlock()
}

// Close stops the notifiers and closes the bearer.
func (c *conn) Close() error {
	err := errConnClosed
	c.closeOnce.Do(func() {
		close(c.quit)
		c.nmu.Lock()
		for h, n := range c.notifiers {
			n.stop()
			delete(c.notifiers, h)
		}
		c.nmu.Unlock()
		err = c.b.Close()
	})
	return err
}

func (c *conn) closed() bool {
	select {
	case <-c.quit:
		return true
	default:
		return false
	}
}

// loop serves requests in order. Confirmations bypass it, so that a
// handler waiting on an indication does not block its own confirmation.
func (c *conn) loop() {
	defer c.Close()
	reqc := make(chan []byte)
	go c.readLoop(reqc)
	for b := range reqc {
		if rsp := c.handleReq(b); rsp != nil {
			if err := c.send(rsp); err != nil {
				c.log.WithError(err).Warn("send failed")
				return
			}
		}
	}
}

// readLoop reads PDUs from the bearer until it fails or the connection
// closes. Handle Value Confirmations are delivered directly.
func (c *conn) readLoop(reqc chan<- []byte) {
	defer close(reqc)
	b := make([]byte, att.MaxMTU)
	for {
		n, err := c.b.Read(b)
		if err != nil {
			if err != io.EOF && !c.closed() {
				c.log.WithError(err).Warn("read failed")
			}
			return
		}
		if n == 0 {
			return
		}
		if n == 1 && b[0] == att.OpHandleCnf {
			c.handleCnf()
			continue
		}
		p := append([]byte(nil), b[:n]...)
		select {
		case reqc <- p:
		case <-c.quit:
			return
		}
	}
}

func (c *conn) send(b []byte) error {
	c.sendmu.Lock()
	defer c.sendmu.Unlock()
	_, err := c.b.Write(b)
	return err
}

func (c *conn) handleReq(b []byte) []byte {
	op := b[0]
	log := c.log.WithField("opcode", op)
	if err := att.CheckLen(b); err != nil {
		if att.IsCommand(op) || op == att.OpHandleCnf {
			log.WithError(err).Debug("dropped command")
			return nil
		}
		e, _ := err.(att.Error)
		log.WithError(err).Warn("rejected request")
		return att.ErrorResponse(op, 0x0000, e)
	}
	log.Debugf("req: % X", b)

	switch op {
	case att.OpMTUReq:
		return c.handleMTU(b)
	case att.OpFindInfoReq:
		return c.handleFindInfo(b)
	case att.OpFindByTypeReq:
		return c.handleFindByType(b)
	case att.OpReadByTypeReq:
		return c.handleReadByType(b)
	case att.OpReadReq:
		return c.handleRead(b)
	case att.OpReadBlobReq:
		return c.handleReadBlob(b)
	case att.OpReadMultiReq:
		return c.handleReadMulti(b)
	case att.OpReadByGroupReq:
		return c.handleReadByGroup(b)
	case att.OpWriteReq, att.OpWriteCmd, att.OpSignedWriteCmd:
		return c.handleWrite(b)
	case att.OpPrepWriteReq:
		return c.handlePrepWrite(b)
	case att.OpExecWriteReq:
		return c.handleExecWrite(b)
	case att.OpHandleCnf:
		c.handleCnf()
		return nil
	}
	return att.ErrorResponse(op, 0x0000, att.ErrReqNotSupp)
}

func (c *conn) handleMTU(b []byte) []byte {
	rx := binary.LittleEndian.Uint16(b[1:])
	if rx < att.DefaultMTU {
		rx = att.DefaultMTU
	}
	mtu := rx
	if mtu > c.rxMTU {
		mtu = c.rxMTU
	}
	c.setMTU(mtu)
	c.log.WithField("mtu", mtu).Debug("mtu exchanged")

	rsp := []byte{att.OpMTUResp, 0, 0}
	binary.LittleEndian.PutUint16(rsp[1:], c.rxMTU)
	return rsp
}

// checkRange returns an Error Response for an invalid handle range, or nil.
func checkRange(op byte, start, end uint16) []byte {
	if start == 0 || start > end {
		return att.ErrorResponse(op, start, att.ErrInvalidHandle)
	}
	return nil
}

func (c *conn) handleFindInfo(b []byte) []byte {
	start, end := binary.LittleEndian.Uint16(b[1:]), binary.LittleEndian.Uint16(b[3:])
	if rsp := checkRange(b[0], start, end); rsp != nil {
		return rsp
	}

	mtu := c.MTU()
	rsp := []byte{att.OpFindInfoResp, 0}
	for _, a := range c.attrs.Subrange(start, end) {
		format := byte(0x01)
		if a.typ.Len() == 16 {
			format = 0x02
		}
		if rsp[1] == 0 {
			rsp[1] = format
		} else if rsp[1] != format {
			break
		}
		if len(rsp)+2+a.typ.Len() > mtu {
			break
		}
		rsp = appendUint16(rsp, a.h)
		rsp = append(rsp, a.typ.b...)
	}

	if rsp[1] == 0 {
		return att.ErrorResponse(b[0], start, att.ErrAttrNotFound)
	}
	return rsp
}

func (c *conn) handleFindByType(b []byte) []byte {
	start, end := binary.LittleEndian.Uint16(b[1:]), binary.LittleEndian.Uint16(b[3:])
	typ := UUID16(binary.LittleEndian.Uint16(b[5:]))
	val := b[7:]
	if rsp := checkRange(b[0], start, end); rsp != nil {
		return rsp
	}

	mtu := c.MTU()
	rsp := []byte{att.OpFindByTypeResp}
	for _, a := range c.attrs.Subrange(start, end) {
		if !a.typ.Equal(typ) || a.value == nil || !bytes.Equal(a.value, val) {
			continue
		}
		if len(rsp)+4 > mtu {
			break
		}
		endh := a.h
		if a.isGroup() {
			endh = a.endh
		}
		rsp = appendUint16(rsp, a.h)
		rsp = appendUint16(rsp, endh)
	}

	if len(rsp) == 1 {
		return att.ErrorResponse(b[0], start, att.ErrAttrNotFound)
	}
	return rsp
}

func (c *conn) handleReadByType(b []byte) []byte {
	start, end := binary.LittleEndian.Uint16(b[1:]), binary.LittleEndian.Uint16(b[3:])
	typ := UUID{b[5:]}
	if rsp := checkRange(b[0], start, end); rsp != nil {
		return rsp
	}

	mtu := c.MTU()
	rsp := []byte{att.OpReadByTypeResp, 0}
	dlen := 0
	for _, a := range c.attrs.Subrange(start, end) {
		if !a.typ.Equal(typ) {
			continue
		}
		e := att.ErrReadNotPerm
		var v []byte
		if a.props&CharRead != 0 {
			v, e = c.readAttr(a, 0)
		}
		if e != att.ErrSuccess {
			if dlen == 0 {
				return att.ErrorResponse(b[0], a.h, e)
			}
			break
		}
		if dlen == 0 {
			dlen = 2 + len(v)
			if dlen > 255 {
				dlen = 255
			}
			if dlen > mtu-2 {
				dlen = mtu - 2
			}
			rsp[1] = byte(dlen)
		} else if 2+len(v) != dlen {
			break
		}
		if len(rsp)+dlen > mtu {
			break
		}
		rsp = appendUint16(rsp, a.h)
		rsp = append(rsp, v[:dlen-2]...)
	}

	if dlen == 0 {
		return att.ErrorResponse(b[0], start, att.ErrAttrNotFound)
	}
	return rsp
}

func (c *conn) handleRead(b []byte) []byte {
	h := binary.LittleEndian.Uint16(b[1:])
	v, e := c.readHandle(h, 0)
	if e != att.ErrSuccess {
		return att.ErrorResponse(b[0], h, e)
	}
	return c.valueResp(att.OpReadResp, v)
}

func (c *conn) handleReadBlob(b []byte) []byte {
	h, offset := binary.LittleEndian.Uint16(b[1:]), binary.LittleEndian.Uint16(b[3:])
	v, e := c.readHandle(h, int(offset))
	if e != att.ErrSuccess {
		return att.ErrorResponse(b[0], h, e)
	}
	return c.valueResp(att.OpReadBlobResp, v)
}

func (c *conn) handleReadMulti(b []byte) []byte {
	if (len(b)-1)%2 != 0 {
		return att.ErrorResponse(b[0], 0x0000, att.ErrInvalidPDU)
	}
	var vv []byte
	for i := 1; i < len(b); i += 2 {
		h := binary.LittleEndian.Uint16(b[i:])
		v, e := c.readHandle(h, 0)
		if e != att.ErrSuccess {
			return att.ErrorResponse(b[0], h, e)
		}
		vv = append(vv, v...)
	}
	return c.valueResp(att.OpReadMultiResp, vv)
}

func (c *conn) handleReadByGroup(b []byte) []byte {
	start, end := binary.LittleEndian.Uint16(b[1:]), binary.LittleEndian.Uint16(b[3:])
	typ := UUID{b[5:]}
	if rsp := checkRange(b[0], start, end); rsp != nil {
		return rsp
	}
	if !typ.Equal(attrPrimaryServiceUUID) && !typ.Equal(attrSecondaryServiceUUID) {
		return att.ErrorResponse(b[0], start, att.ErrUnsuppGrpType)
	}

	mtu := c.MTU()
	rsp := []byte{att.OpReadByGroupResp, 0}
	dlen := 0
	for _, a := range c.attrs.Subrange(start, end) {
		if !a.typ.Equal(typ) {
			continue
		}
		v := a.value
		if dlen == 0 {
			dlen = 4 + len(v)
			if dlen > 255 {
				dlen = 255
			}
			if dlen > mtu-2 {
				dlen = mtu - 2
			}
			rsp[1] = byte(dlen)
		} else if 4+len(v) != dlen {
			break
		}
		if len(rsp)+dlen > mtu {
			break
		}
		rsp = appendUint16(rsp, a.h)
		rsp = appendUint16(rsp, a.endh)
		rsp = append(rsp, v[:dlen-4]...)
	}

	if dlen == 0 {
		return att.ErrorResponse(b[0], start, att.ErrAttrNotFound)
	}
	return rsp
}

func (c *conn) handleWrite(b []byte) []byte {
	op := b[0]
	h := binary.LittleEndian.Uint16(b[1:])
	v := b[3:]
	flag := CharWrite
	switch op {
	case att.OpWriteCmd:
		flag = CharWriteNR
	case att.OpSignedWriteCmd:
		// The trailing 12 octets are the authentication signature,
		// which is not verified.
		v = v[:len(v)-12]
		flag = CharWriteNR | CharSignedWrite
	}

	e := att.ErrInvalidHandle
	a, ok := c.attrs.At(h)
	switch {
	case !ok:
	case a.props&flag == 0:
		e = att.ErrWriteNotPerm
	case len(v) > att.MaxAttrLen:
		e = att.ErrInvalAttrValueLen
	default:
		e = c.writeAttr(a, 0, v)
	}

	if att.IsCommand(op) {
		if e != att.ErrSuccess {
			c.log.WithFields(logrus.Fields{"handle": h, "opcode": op}).WithError(e).Debug("dropped write command")
		}
		return nil
	}
	if e != att.ErrSuccess {
		return att.ErrorResponse(op, h, e)
	}
	return []byte{att.OpWriteResp}
}

func (c *conn) handlePrepWrite(b []byte) []byte {
	h, offset := binary.LittleEndian.Uint16(b[1:]), binary.LittleEndian.Uint16(b[3:])
	a, ok := c.attrs.At(h)
	if !ok {
		return att.ErrorResponse(b[0], h, att.ErrInvalidHandle)
	}
	if a.props&CharWrite == 0 {
		return att.ErrorResponse(b[0], h, att.ErrWriteNotPerm)
	}
	if err := c.prep.Push(h, offset, b[5:]); err != nil {
		e, _ := err.(att.Error)
		if e == att.ErrPrepQueueFull {
			c.prep.Reset()
		}
		return att.ErrorResponse(b[0], h, e)
	}
	return append([]byte{att.OpPrepWriteResp}, b[1:]...)
}

// pendingWrite is a long value assembled from prepared writes.
type pendingWrite struct {
	a      attr
	offset int
	value  []byte
}

func (c *conn) handleExecWrite(b []byte) []byte {
	switch b[1] {
	case 0x00:
		c.prep.Reset()
		return []byte{att.OpExecWriteResp}
	case 0x01:
	default:
		c.prep.Reset()
		return att.ErrorResponse(b[0], 0x0000, att.ErrInvalidPDU)
	}

	var order []uint16
	pending := make(map[uint16]*pendingWrite)
	for _, w := range c.prep.Drain() {
		p, ok := pending[w.Handle]
		if !ok {
			a, _ := c.attrs.At(w.Handle)
			p = &pendingWrite{a: a, offset: int(w.Offset)}
			pending[w.Handle] = p
			order = append(order, w.Handle)
		} else if int(w.Offset) != p.offset+len(p.value) {
			return att.ErrorResponse(b[0], w.Handle, att.ErrInvalidOffset)
		}
		p.value = append(p.value, w.Value...)
	}
	for _, h := range order {
		if p := pending[h]; p.offset+len(p.value) > att.MaxAttrLen {
			return att.ErrorResponse(b[0], h, att.ErrInvalAttrValueLen)
		}
	}
	for _, h := range order {
		p := pending[h]
		if e := c.writeAttr(p.a, p.offset, p.value); e != att.ErrSuccess {
			return att.ErrorResponse(b[0], h, e)
		}
	}
	return []byte{att.OpExecWriteResp}
}

func (c *conn) handleCnf() {
	select {
	case c.cnf <- struct{}{}:
	default:
		c.log.Debug("unexpected confirmation")
	}
}

// valueResp builds a response carrying v, truncated to the MTU.
func (c *conn) valueResp(op byte, v []byte) []byte {
	if max := c.MTU() - 1; len(v) > max {
		v = v[:max]
	}
	return append([]byte{op}, v...)
}

// readHandle reads the value of the attribute at handle h, from offset on.
func (c *conn) readHandle(h uint16, offset int) ([]byte, att.Error) {
	a, ok := c.attrs.At(h)
	if !ok {
		return nil, att.ErrInvalidHandle
	}
	if a.props&CharRead == 0 {
		return nil, att.ErrReadNotPerm
	}
	return c.readAttr(a, offset)
}

// readAttr reads the value of a, from offset on. Permissions are not checked.
func (c *conn) readAttr(a attr, offset int) ([]byte, att.Error) {
	var v []byte
	switch {
	case a.typ.Equal(attrClientCharacteristicConfigUUID):
		v = appendUint16(nil, c.cccValue(a.h))
	case a.value != nil:
		v = a.value
	default:
		var h ReadHandler
		switch p := a.pvt.(type) {
		case *Characteristic:
			h = p.rhandler
		case *Descriptor:
			h = p.rhandler
		}
		if h == nil {
			break
		}
		if offset > att.MaxAttrLen {
			return nil, att.ErrInvalidOffset
		}
		req := &ReadRequest{Request: c.request(a, offset), Cap: att.MaxAttrLen - offset}
		rsp := newReadResponseWriter(req.Cap)
		h.ServeRead(rsp, req)
		if rsp.status != att.ErrSuccess {
			return nil, rsp.status
		}
		return rsp.bytes(), att.ErrSuccess
	}
	if offset > len(v) {
		return nil, att.ErrInvalidOffset
	}
	return v[offset:], att.ErrSuccess
}

// writeAttr writes v at offset into a. Permissions are not checked.
func (c *conn) writeAttr(a attr, offset int, v []byte) att.Error {
	if a.typ.Equal(attrClientCharacteristicConfigUUID) {
		if offset != 0 || len(v) != 2 {
			return att.ErrInvalAttrValueLen
		}
		c.setCCC(a, binary.LittleEndian.Uint16(v))
		return att.ErrSuccess
	}

	var h WriteHandler
	switch p := a.pvt.(type) {
	case *Characteristic:
		h = p.whandler
	case *Descriptor:
		h = p.whandler
	}
	if h == nil {
		return att.ErrWriteNotPerm
	}
	return h.ServeWrite(c.request(a, offset), v)
}

func (c *conn) request(a attr, offset int) Request {
	r := Request{Conn: c, Offset: offset}
	switch p := a.pvt.(type) {
	case *Service:
		r.Service = p
	case *Characteristic:
		r.Characteristic, r.Service = p, p.svc
	case *Descriptor:
		if p.char != nil {
			r.Characteristic, r.Service = p.char, p.char.svc
		}
	}
	return r
}

func (c *conn) cccValue(h uint16) uint16 {
	c.nmu.Lock()
	defer c.nmu.Unlock()
	return c.ccc[h]
}

// setCCC applies a write to the CCCD a, starting or stopping the notifier
// of its characteristic.
func (c *conn) setCCC(a attr, v uint16) {
	d := a.pvt.(*Descriptor)
	ch := d.char
	var mask uint16
	if ch.props&CharNotify != 0 {
		mask |= cccNotify
	}
	if ch.props&CharIndicate != 0 {
		mask |= cccIndicate
	}
	v &= mask

	c.nmu.Lock()
	defer c.nmu.Unlock()
	if c.closed() {
		return
	}
	prev := c.ccc[a.h]
	c.ccc[a.h] = v
	if prev == v {
		return
	}
	if n, ok := c.notifiers[a.h]; ok {
		n.stop()
		delete(c.notifiers, a.h)
	}
	c.log.WithFields(logrus.Fields{"handle": ch.vh, "ccc": v}).Info("subscription changed")
	if v == 0 || ch.nhandler == nil {
		return
	}
	n := newNotifier(c, ch, v&cccNotify == 0)
	c.notifiers[a.h] = n
	go ch.nhandler.ServeNotify(Request{Conn: c, Service: ch.svc, Characteristic: ch}, n)
}

func (c *conn) sendNotification(vh uint16, data []byte) (int, error) {
	pdu := c.valuePDU(att.OpHandleNotify, vh, data)
	if err := c.send(pdu); err != nil {
		return 0, err
	}
	return len(pdu) - 3, nil
}

func (c *conn) sendIndication(vh uint16, data []byte) (int, error) {
	c.indmu.Lock()
	defer c.indmu.Unlock()

	select {
	case <-c.cnf:
	default:
	}
	pdu := c.valuePDU(att.OpHandleInd, vh, data)
	if err := c.send(pdu); err != nil {
		return 0, err
	}

	t := time.NewTimer(indicationTimeout)
	defer t.Stop()
	select {
	case <-c.cnf:
		return len(pdu) - 3, nil
	case <-t.C:
		c.log.WithField("handle", vh).Warn("indication not confirmed")
		return 0, att.ErrSeqProtoTimeout
	case <-c.quit:
		return 0, errConnClosed
	}
}

// valuePDU builds a Handle Value Notification or Indication,
// truncating data to fit the MTU.
func (c *conn) valuePDU(op byte, vh uint16, data []byte) []byte {
	if max := c.MTU() - 3; len(data) > max {
		data = data[:max]
	}
	pdu := make([]byte, 3, 3+len(data))
	pdu[0] = op
	binary.LittleEndian.PutUint16(pdu[1:], vh)
	return append(pdu, data...)
}

func appendUint16(b []byte, v uint16) []byte {
	return append(b, byte(v), byte(v>>8))
}
