package gatt

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/XC-/applgatt/att"
)

// Property is the bit field of a characteristic declaration.
// Do not re-order the bit flags below;
// they are organized to match the BLE spec.
type Property uint8

// Characteristic property flags.
const (
	CharBroadcast   Property = 1 << iota // the characteristic may be brocasted
	CharRead                             // the characteristic may be read
	CharWriteNR                          // the characteristic may be written to, with no reply
	CharWrite                            // the characteristic may be written to, with a reply
	CharNotify                           // the characteristic supports notifications
	CharIndicate                         // the characteristic supports indications
	CharSignedWrite                      // the characteristic supports signed write
	CharExtended                         // the characteristic supports extended properties
)

var propertyName = []string{"broadcast", "read", "writeWithoutResponse", "write", "notify", "indicate", "signedWrite", "extended"}

// String lists the set flags, such as "read|notify".
func (p Property) String() string {
	var s []string
	for i, n := range propertyName {
		if p&(1<<uint(i)) != 0 {
			s = append(s, n)
		}
	}
	return strings.Join(s, "|")
}

// Supported statuses for GATT characteristic read/write operations.
const (
	StatusSuccess         = att.ErrSuccess
	StatusInvalidOffset   = att.ErrInvalidOffset
	StatusUnexpectedError = att.ErrUnlikely
)

// A Request is the context for a request from a connected device.
type Request struct {
	Conn           Conn
	Service        *Service
	Characteristic *Characteristic
	Offset         int // request value offset
}

// A ReadRequest is a characteristic read request from a connected device.
type ReadRequest struct {
	Request
	Cap int // maximum allowed reply length
}

// ReadResponseWriter collects the value returned by a ReadHandler.
type ReadResponseWriter interface {
	// Write writes data to return as the characteristic value.
	Write([]byte) (int, error)
	// SetStatus reports the result of the read operation. See the Status* constants.
	SetStatus(att.Error)
}

// A ReadHandler handles GATT read requests.
type ReadHandler interface {
	ServeRead(resp ReadResponseWriter, req *ReadRequest)
}

// ReadHandlerFunc is an adapter to allow the use of
// ordinary functions as ReadHandlers. If f is a function
// with the appropriate signature, ReadHandlerFunc(f) is a
// ReadHandler that calls f.
type ReadHandlerFunc func(resp ReadResponseWriter, req *ReadRequest)

// ServeRead returns f(r, maxlen, offset).
func (f ReadHandlerFunc) ServeRead(resp ReadResponseWriter, req *ReadRequest) {
	f(resp, req)
}

// A WriteHandler handles GATT write requests.
// Write and WriteNR requests are presented identically;
// the server will ensure that a response is sent if appropriate.
// The data slice is only valid for the duration of the call.
type WriteHandler interface {
	ServeWrite(r Request, data []byte) (status att.Error)
}

// WriteHandlerFunc is an adapter to allow the use of
// ordinary functions as WriteHandlers. If f is a function
// with the appropriate signature, WriteHandlerFunc(f) is a
// WriteHandler that calls f.
type WriteHandlerFunc func(r Request, data []byte) att.Error

// ServeWrite returns f(r, data).
func (f WriteHandlerFunc) ServeWrite(r Request, data []byte) att.Error {
	return f(r, data)
}

// A NotifyHandler handles GATT notification requests.
// Notifications can be sent using the provided notifier.
type NotifyHandler interface {
	ServeNotify(r Request, n Notifier)
}

// NotifyHandlerFunc is an adapter to allow the use of
// ordinary functions as NotifyHandlers. If f is a function
// with the appropriate signature, NotifyHandlerFunc(f) is a
// NotifyHandler that calls f.
type NotifyHandlerFunc func(r Request, n Notifier)

// ServeNotify calls f(r, n).
func (f NotifyHandlerFunc) ServeNotify(r Request, n Notifier) {
	f(r, n)
}

// A Notifier provides a means for a GATT server to send
// notifications about value changes to a connected device.
// Notifiers are provided by NotifyHandlers.
type Notifier interface {
	// Write sends data to the central. For indications, Write blocks
	// until the central confirms or the transaction times out.
	Write(data []byte) (int, error)

	// Done reports whether the central has requested not to
	// receive any more notifications with this notifier.
	Done() bool

	// Cap returns the maximum number of bytes that may be sent
	// in a single notification.
	Cap() int
}

// A Characteristic is a BLE characteristic. Servers build them with
// Service.AddCharacteristic; clients receive them from discovery.
type Characteristic struct {
	uuid     UUID
	props    Property // enabled properties
	value    []byte   // static value
	descs    []*Descriptor
	cccd     *Descriptor
	rhandler ReadHandler
	whandler WriteHandler
	nhandler NotifyHandler

	h    uint16 // declaration handle
	vh   uint16 // value handle
	endh uint16 // last handle of the characteristic definition

	svc *Service
}

// SetValue makes the characteristic support read requests, and returns a
// static value. SetValue must be called before the server is initialized.
func (c *Characteristic) SetValue(b []byte) {
	c.props |= CharRead
	c.value = append([]byte{}, b...)
}

// HandleRead makes the characteristic support read requests,
// and routes read requests to h. HandleRead must be called
// before any server using c has been started.
func (c *Characteristic) HandleRead(h ReadHandler) {
	c.props |= CharRead
	c.rhandler = h
}

// HandleReadFunc calls HandleRead(ReadHandlerFunc(f)).
func (c *Characteristic) HandleReadFunc(f func(resp ReadResponseWriter, req *ReadRequest)) {
	c.HandleRead(ReadHandlerFunc(f))
}

// HandleWrite makes the characteristic support write and
// write-no-response requests, and routes write requests to h.
// The WriteHandler does not differentiate between write and
// write-no-response requests; it is handled automatically.
// HandleWrite must be called before any server using c has been started.
func (c *Characteristic) HandleWrite(h WriteHandler) {
	c.props |= CharWrite | CharWriteNR
	c.whandler = h
}

// HandleWriteFunc calls HandleWrite(WriteHandlerFunc(f)).
func (c *Characteristic) HandleWriteFunc(f func(r Request, data []byte) (status att.Error)) {
	c.HandleWrite(WriteHandlerFunc(f))
}

// HandleNotify makes the characteristic support notify requests,
// and routes notification requests to h. HandleNotify must be called
// before any server using c has been started.
func (c *Characteristic) HandleNotify(h NotifyHandler) {
	c.props |= CharNotify
	c.nhandler = h
}

// HandleNotifyFunc calls HandleNotify(NotifyHandlerFunc(f)).
func (c *Characteristic) HandleNotifyFunc(f func(r Request, n Notifier)) {
	c.HandleNotify(NotifyHandlerFunc(f))
}

// HandleIndicate is HandleNotify for indications. The Notifier handed to h
// waits for the central to confirm each value.
func (c *Characteristic) HandleIndicate(h NotifyHandler) {
	c.props |= CharIndicate
	c.nhandler = h
}

// HandleIndicateFunc calls HandleIndicate(NotifyHandlerFunc(f)).
func (c *Characteristic) HandleIndicateFunc(f func(r Request, n Notifier)) {
	c.HandleIndicate(NotifyHandlerFunc(f))
}

// AddDescriptor adds a descriptor to the characteristic.
// The Client Characteristic Configuration descriptor is managed by the
// server and must not be added.
func (c *Characteristic) AddDescriptor(u UUID) *Descriptor {
	if u.Equal(attrClientCharacteristicConfigUUID) {
		panic("the client characteristic configuration descriptor is managed by the server")
	}
	d := &Descriptor{uuid: u, char: c}
	c.descs = append(c.descs, d)
	return d
}

// UUID returns the characteristic's UUID
func (c *Characteristic) UUID() UUID { return c.uuid }

// Properties returns the characteristic's properties.
func (c *Characteristic) Properties() Property { return c.props }

// Service returns the service the characteristic belongs to.
func (c *Characteristic) Service() *Service { return c.svc }

// Descriptors returns the characteristic's descriptors.
func (c *Characteristic) Descriptors() []*Descriptor { return c.descs }

// Handle returns the handle of the characteristic declaration.
func (c *Characteristic) Handle() uint16 { return c.h }

// ValueHandle returns the handle of the characteristic value.
func (c *Characteristic) ValueHandle() uint16 { return c.vh }

// EndHandle returns the last handle of the characteristic definition.
func (c *Characteristic) EndHandle() uint16 { return c.endh }

func (c *Characteristic) String() string {
	if n := c.uuid.Name(); n != "" {
		return n
	}
	return c.uuid.String()
}

// readResponseWriter is the default implementation of ReadResponseWriter.
type readResponseWriter struct {
	capacity int
	buf      *bytes.Buffer
	status   att.Error
}

func newReadResponseWriter(c int) *readResponseWriter {
	return &readResponseWriter{
		capacity: c,
		buf:      new(bytes.Buffer),
		status:   StatusSuccess,
	}
}

func (w *readResponseWriter) Write(b []byte) (int, error) {
	if avail := w.capacity - w.buf.Len(); avail < len(b) {
		return 0, fmt.Errorf("requested write %d bytes, %d available", len(b), avail)
	}
	return w.buf.Write(b)
}

func (w *readResponseWriter) SetStatus(status att.Error) { w.status = status }
func (w *readResponseWriter) bytes() []byte              { return w.buf.Bytes() }
