package gatt

// A Descriptor is a BLE characteristic descriptor.
type Descriptor struct {
	uuid     UUID
	props    Property
	value    []byte // static value
	rhandler ReadHandler
	whandler WriteHandler

	h    uint16
	char *Characteristic
}

// SetValue makes the descriptor readable and returns a static value.
func (d *Descriptor) SetValue(b []byte) {
	d.props |= CharRead
	d.value = append([]byte{}, b...)
}

// HandleRead makes the descriptor support read requests, and routes read requests to h.
func (d *Descriptor) HandleRead(h ReadHandler) {
	d.props |= CharRead
	d.rhandler = h
}

// HandleReadFunc calls HandleRead(ReadHandlerFunc(f)).
func (d *Descriptor) HandleReadFunc(f func(resp ReadResponseWriter, req *ReadRequest)) {
	d.HandleRead(ReadHandlerFunc(f))
}

// HandleWrite makes the descriptor support write requests, and routes write requests to h.
func (d *Descriptor) HandleWrite(h WriteHandler) {
	d.props |= CharWrite | CharWriteNR
	d.whandler = h
}

// UUID returns the descriptor's UUID.
func (d *Descriptor) UUID() UUID { return d.uuid }

// Handle returns the descriptor's handle.
func (d *Descriptor) Handle() uint16 { return d.h }

// Characteristic returns the characteristic the descriptor belongs to.
func (d *Descriptor) Characteristic() *Characteristic { return d.char }
