package linux

import (
	"fmt"

	"github.com/pkg/errors"
)

type eventHandler interface {
	handleEvent([]byte) error
}

type handlerFunc func(b []byte) error

func (f handlerFunc) handleEvent(b []byte) error {
	return f(b)
}

type event struct {
	evtHandlers map[eventCode]eventHandler
	trace       func(format string, v ...interface{})
}

func newEvent(trace func(format string, v ...interface{})) *event {
	return &event{
		evtHandlers: map[eventCode]eventHandler{},
		trace:       trace,
	}
}

func (e *event) handleEvent(c eventCode, h eventHandler) {
	e.evtHandlers[c] = h
}

func (e *event) dispatch(b []byte) error {
	h := &eventHeader{}
	if err := h.unmarshal(b); err != nil {
		return err
	}
	b = b[2:] // Skip Event Header (uint8 + uint8)
	if f, found := e.evtHandlers[h.code]; found {
		e.trace("> HCI Event: %s (0x%02X) plen %d: [ % X ]", h.code, uint8(h.code), h.plen, b)
		return f.handleEvent(b)
	}
	e.trace("> HCI Event: no handler for %s (0x%02X)", h.code, uint8(h.code))
	return nil
}

type eventCode uint8

const (
	disconnectionComplete eventCode = 0x05
	commandComplete       eventCode = 0x0E
	commandStatus         eventCode = 0x0F
	hardwareError         eventCode = 0x10
	numberOfCompletedPkts eventCode = 0x13
	leMeta                eventCode = 0x3E
)

var eventName = map[eventCode]string{
	disconnectionComplete: "Disconnection Complete",
	commandComplete:       "Command Complete",
	commandStatus:         "Command Status",
	hardwareError:         "Hardware Error",
	numberOfCompletedPkts: "Number Of Completed Packets",
	leMeta:                "LE Meta",
}

func (e eventCode) String() string {
	if s, ok := eventName[e]; ok {
		return s
	}
	return fmt.Sprintf("event 0x%02X", uint8(e))
}

type leEventCode eventCode

const (
	leConnectionComplete       leEventCode = 0x01
	leAdvertisingReport        leEventCode = 0x02
	leConnectionUpdateComplete leEventCode = 0x03
)

var leEventName = map[leEventCode]string{
	leConnectionComplete:       "LE Connection Complete",
	leAdvertisingReport:        "LE Advertising Report",
	leConnectionUpdateComplete: "LE Connection Update Complete",
}

func (e leEventCode) String() string {
	if s, ok := leEventName[e]; ok {
		return s
	}
	return fmt.Sprintf("LE subevent 0x%02X", uint8(e))
}

var errShortEvent = errors.New("hci: short event parameters")

type eventHeader struct {
	code eventCode
	plen uint8
}

func (h *eventHeader) unmarshal(b []byte) error {
	if len(b) < 2 {
		return errors.New("hci: malformed event header")
	}
	h.code = eventCode(b[0])
	h.plen = b[1]
	if len(b) != 2+int(h.plen) {
		return errors.Errorf("hci: %s: wrong length %d, plen %d", h.code, len(b)-2, h.plen)
	}
	return nil
}

// Event Parameters

type disconnectionCompleteEP struct {
	status           uint8
	connectionHandle uint16
	reason           uint8
}

func (ep *disconnectionCompleteEP) unmarshal(b []byte) error {
	if len(b) < 4 {
		return errShortEvent
	}
	ep.status = o.Uint8(b[0:])
	ep.connectionHandle = o.Uint16(b[1:]) & 0x0FFF
	ep.reason = o.Uint8(b[3:])
	return nil
}

type commandCompleteEP struct {
	numHCICommandPackets uint8
	commandOPCode        uint16
	returnParameters     []byte
}

func (ep *commandCompleteEP) unmarshal(b []byte) error {
	if len(b) < 3 {
		return errShortEvent
	}
	ep.numHCICommandPackets = o.Uint8(b[0:])
	ep.commandOPCode = o.Uint16(b[1:])
	ep.returnParameters = append([]byte(nil), b[3:]...)
	return nil
}

type commandStatusEP struct {
	status               uint8
	numHCICommandPackets uint8
	commandOpcode        uint16
}

func (ep *commandStatusEP) unmarshal(b []byte) error {
	if len(b) < 4 {
		return errShortEvent
	}
	ep.status = o.Uint8(b[0:])
	ep.numHCICommandPackets = o.Uint8(b[1:])
	ep.commandOpcode = o.Uint16(b[2:])
	return nil
}

// LE Meta Subevents
type leConnectionCompleteEP struct {
	subeventCode        uint8
	status              uint8
	connectionHandle    uint16
	role                uint8
	peerAddressType     uint8
	peerAddress         [6]byte
	connInterval        uint16
	connLatency         uint16
	supervisionTimeout  uint16
	masterClockAccuracy uint8
}

func (ep *leConnectionCompleteEP) unmarshal(b []byte) error {
	if len(b) < 19 {
		return errShortEvent
	}
	ep.subeventCode = o.Uint8(b[0:])
	ep.status = o.Uint8(b[1:])
	ep.connectionHandle = o.Uint16(b[2:]) & 0x0FFF
	ep.role = o.Uint8(b[4:])
	ep.peerAddressType = o.Uint8(b[5:])
	ep.peerAddress = o.MAC(b[6:])
	ep.connInterval = o.Uint16(b[12:])
	ep.connLatency = o.Uint16(b[14:])
	ep.supervisionTimeout = o.Uint16(b[16:])
	ep.masterClockAccuracy = o.Uint8(b[18:])
	return nil
}

type leAdvertisingReportEP struct {
	subeventCode uint8
	numReports   uint8
	eventType    []uint8
	addressType  []uint8
	address      [][6]byte
	length       []uint8
	data         [][]byte
	rssi         []int8
}

func (ep *leAdvertisingReportEP) unmarshal(b []byte) error {
	if len(b) < 2 {
		return errShortEvent
	}
	ep.subeventCode = o.Uint8(b)
	b = b[1:]
	ep.numReports = o.Uint8(b)
	b = b[1:]
	n := int(ep.numReports)
	// event type, address type, address, length and rssi per report
	if len(b) < n*(1+1+6+1+1) {
		return errShortEvent
	}
	ep.eventType = make([]uint8, n)
	ep.addressType = make([]uint8, n)
	ep.address = make([][6]byte, n)
	ep.length = make([]uint8, n)
	ep.data = make([][]byte, n)
	ep.rssi = make([]int8, n)

	for i := 0; i < n; i++ {
		ep.eventType[i] = o.Uint8(b)
		b = b[1:]
	}
	for i := 0; i < n; i++ {
		ep.addressType[i] = o.Uint8(b)
		b = b[1:]
	}
	for i := 0; i < n; i++ {
		ep.address[i] = o.MAC(b)
		b = b[6:]
	}
	total := 0
	for i := 0; i < n; i++ {
		ep.length[i] = o.Uint8(b)
		total += int(ep.length[i])
		b = b[1:]
	}
	if len(b) != total+n {
		return errors.Errorf("hci: advertising report data is %d bytes, want %d", len(b)-n, total)
	}
	for i := 0; i < n; i++ {
		ep.data[i] = make([]byte, ep.length[i])
		copy(ep.data[i], b)
		b = b[ep.length[i]:]
	}
	for i := 0; i < n; i++ {
		ep.rssi[i] = o.Int8(b)
		b = b[1:]
	}
	return nil
}

type leConnectionUpdateCompleteEP struct {
	subeventCode       uint8
	status             uint8
	connectionHandle   uint16
	connInterval       uint16
	connLatency        uint16
	supervisionTimeout uint16
}

func (ep *leConnectionUpdateCompleteEP) unmarshal(b []byte) error {
	if len(b) < 10 {
		return errShortEvent
	}
	ep.subeventCode = o.Uint8(b[0:])
	ep.status = o.Uint8(b[1:])
	ep.connectionHandle = o.Uint16(b[2:]) & 0x0FFF
	ep.connInterval = o.Uint16(b[4:])
	ep.connLatency = o.Uint16(b[6:])
	ep.supervisionTimeout = o.Uint16(b[8:])
	return nil
}
