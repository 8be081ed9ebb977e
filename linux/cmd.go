package linux

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	// ErrCommandTimeout is returned when the controller does not complete
	// a command in time.
	ErrCommandTimeout = errors.New("hci: command timeout")

	// ErrClosed is returned by commands issued after the device closed.
	ErrClosed = errors.New("hci: closed")
)

// A StatusError is a non-zero status returned by the controller.
type StatusError struct {
	Command string
	Status  uint8
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("hci: %s returned status 0x%02X", e.Command, e.Status)
}

type cmdParam interface {
	marshal([]byte)
	opcode() opcode
	len() int
}

type cmdPkt struct {
	op   opcode
	cp   cmdParam
	done chan []byte
}

func (c cmdPkt) marshal() []byte {
	b := make([]byte, 1+2+1+c.cp.len())
	b[0] = byte(typCommandPkt)
	b[1], b[2] = byte(c.op), byte(c.op>>8)
	b[3] = byte(c.cp.len())
	c.cp.marshal(b[4:])
	return b
}

// cmd sends commands one at a time and matches them to their
// Command Complete or Command Status events.
type cmd struct {
	dev     io.Writer
	log     logrus.FieldLogger
	timeout time.Duration
	closed  <-chan struct{}

	mu sync.Mutex // one outstanding command

	sentmu sync.Mutex
	sent   *cmdPkt
}

func newCmd(d io.Writer, l logrus.FieldLogger, timeout time.Duration, closed <-chan struct{}) *cmd {
	return &cmd{dev: d, log: l, timeout: timeout, closed: closed}
}

func (c *cmd) handleComplete(b []byte) error {
	var ep commandCompleteEP
	if err := ep.unmarshal(b); err != nil {
		return err
	}
	c.deliver(opcode(ep.commandOPCode), ep.returnParameters)
	return nil
}

func (c *cmd) handleStatus(b []byte) error {
	var ep commandStatusEP
	if err := ep.unmarshal(b); err != nil {
		return err
	}
	c.deliver(opcode(ep.commandOpcode), []byte{ep.status})
	return nil
}

func (c *cmd) deliver(op opcode, rp []byte) {
	if op == opNOP {
		return
	}
	c.sentmu.Lock()
	p := c.sent
	if p != nil && p.op == op {
		c.sent = nil
	}
	c.sentmu.Unlock()
	if p == nil || p.op != op {
		c.log.WithField("opcode", op).Warn("completion for a command not sent")
		return
	}
	p.done <- rp
}

// send writes cp and waits for its return parameters.
func (c *cmd) send(cp cmdParam) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	op := cp.opcode()
	p := &cmdPkt{op: op, cp: cp, done: make(chan []byte, 1)}
	raw := p.marshal()

	c.sentmu.Lock()
	c.sent = p
	c.sentmu.Unlock()
	defer func() {
		c.sentmu.Lock()
		if c.sent == p {
			c.sent = nil
		}
		c.sentmu.Unlock()
	}()

	c.log.Debugf("< HCI Command: %s (0x%02X|0x%04X) plen: %d [ % X ]", op, op.ogf(), op.ocf(), len(raw)-4, raw)
	if n, err := c.dev.Write(raw); err != nil {
		return nil, errors.Wrapf(err, "hci: send %s", op)
	} else if n != len(raw) {
		return nil, errors.Errorf("hci: short write of %s", op)
	}

	t := time.NewTimer(c.timeout)
	defer t.Stop()
	select {
	case rp := <-p.done:
		return rp, nil
	case <-t.C:
		return nil, errors.Wrap(ErrCommandTimeout, op.String())
	case <-c.closed:
		return nil, ErrClosed
	}
}

// sendAndCheckResp sends cp and checks the status octet of its return
// parameters. It returns the parameters that follow the status.
func (c *cmd) sendAndCheckResp(cp cmdParam) ([]byte, error) {
	rp, err := c.send(cp)
	if err != nil {
		return nil, err
	}
	if len(rp) == 0 {
		return nil, errors.Errorf("hci: %s returned no status", cp.opcode())
	}
	if rp[0] != 0x00 {
		return nil, &StatusError{Command: cp.opcode().String(), Status: rp[0]}
	}
	return rp[1:], nil
}

const (
	linkCtl = 0x01
	hostCtl = 0x03
	leCtl   = 0x08
)

type opcode uint16

func (op opcode) ogf() uint8  { return uint8((uint16(op) & 0xFC00) >> 10) }
func (op opcode) ocf() uint16 { return uint16(op) & 0x03FF }
func (op opcode) String() string {
	if s, ok := opName[op]; ok {
		return s
	}
	return fmt.Sprintf("opcode 0x%04X", uint16(op))
}

const (
	opNOP                        = opcode(0x0000)
	opDisconnect                 = opcode(linkCtl<<10 | 0x0006)
	opSetEventMask               = opcode(hostCtl<<10 | 0x0001)
	opReset                      = opcode(hostCtl<<10 | 0x0003)
	opWriteLEHostSupported       = opcode(hostCtl<<10 | 0x006D)
	opLESetEventMask             = opcode(leCtl<<10 | 0x0001)
	opLEReadBufferSize           = opcode(leCtl<<10 | 0x0002)
	opLESetAdvertisingParameters = opcode(leCtl<<10 | 0x0006)
	opLESetAdvertisingData       = opcode(leCtl<<10 | 0x0008)
	opLESetScanResponseData      = opcode(leCtl<<10 | 0x0009)
	opLESetAdvertiseEnable       = opcode(leCtl<<10 | 0x000A)
	opLESetScanParameters        = opcode(leCtl<<10 | 0x000B)
	opLESetScanEnable            = opcode(leCtl<<10 | 0x000C)
	opLECreateConn               = opcode(leCtl<<10 | 0x000D)
	opLECreateConnCancel         = opcode(leCtl<<10 | 0x000E)
	opLEConnUpdate               = opcode(leCtl<<10 | 0x0013)
)

var opName = map[opcode]string{
	opDisconnect:                 "Disconnect",
	opSetEventMask:               "Set Event Mask",
	opReset:                      "Reset",
	opWriteLEHostSupported:       "Write LE Host Supported",
	opLESetEventMask:             "LE Set Event Mask",
	opLEReadBufferSize:           "LE Read Buffer Size",
	opLESetAdvertisingParameters: "LE Set Advertising Parameters",
	opLESetAdvertisingData:       "LE Set Advertising Data",
	opLESetScanResponseData:      "LE Set Scan Response Data",
	opLESetAdvertiseEnable:       "LE Set Advertising Enable",
	opLESetScanParameters:        "LE Set Scan Parameters",
	opLESetScanEnable:            "LE Set Scan Enable",
	opLECreateConn:               "LE Create Connection",
	opLECreateConnCancel:         "LE Create Connection Cancel",
	opLEConnUpdate:               "LE Connection Update",
}

// Link Control Commands

// Disconnect (0x0006)
type disconnect struct {
	connectionHandle uint16
	reason           uint8
}

func (c disconnect) opcode() opcode { return opDisconnect }
func (c disconnect) len() int       { return 3 }
func (c disconnect) marshal(b []byte) {
	o.PutUint16(b[0:], c.connectionHandle)
	b[2] = c.reason
}

// Host Control Commands

// Set Event Mask (0x0001)
type setEventMask struct{ eventMask uint64 }

func (c setEventMask) opcode() opcode   { return opSetEventMask }
func (c setEventMask) len() int         { return 8 }
func (c setEventMask) marshal(b []byte) { o.PutUint64(b, c.eventMask) }

// Reset (0x0003)
type reset struct{}

func (c reset) opcode() opcode   { return opReset }
func (c reset) len() int         { return 0 }
func (c reset) marshal(b []byte) {}

// Write LE Host Supported (0x006D)
type writeLEHostSupported struct {
	leSupportedHost    uint8
	simultaneousLEHost uint8
}

func (c writeLEHostSupported) opcode() opcode   { return opWriteLEHostSupported }
func (c writeLEHostSupported) len() int         { return 2 }
func (c writeLEHostSupported) marshal(b []byte) { b[0], b[1] = c.leSupportedHost, c.simultaneousLEHost }

// LE Controller Commands

// LE Set Event Mask (0x0001)
type leSetEventMask struct{ leEventMask uint64 }

func (c leSetEventMask) opcode() opcode   { return opLESetEventMask }
func (c leSetEventMask) len() int         { return 8 }
func (c leSetEventMask) marshal(b []byte) { o.PutUint64(b, c.leEventMask) }

// LE Read Buffer Size (0x0002)
type leReadBufferSize struct{}

func (c leReadBufferSize) opcode() opcode   { return opLEReadBufferSize }
func (c leReadBufferSize) len() int         { return 0 }
func (c leReadBufferSize) marshal(b []byte) {}

// leReadBufferSizeRP follows the status octet.
type leReadBufferSizeRP struct {
	hcLEACLDataPacketLength    uint16
	hcTotalNumLEACLDataPackets uint8
}

func (rp *leReadBufferSizeRP) unmarshal(b []byte) error {
	if len(b) < 3 {
		return errors.New("short LE Read Buffer Size return parameters")
	}
	rp.hcLEACLDataPacketLength = o.Uint16(b)
	rp.hcTotalNumLEACLDataPackets = o.Uint8(b[2:])
	return nil
}

// LE Set Advertising Parameters (0x0006)
type leSetAdvertisingParameters struct {
	advertisingIntervalMin  uint16
	advertisingIntervalMax  uint16
	advertisingType         uint8
	ownAddressType          uint8
	directAddressType       uint8
	directAddress           [6]byte
	advertisingChannelMap   uint8
	advertisingFilterPolicy uint8
}

func (c leSetAdvertisingParameters) opcode() opcode { return opLESetAdvertisingParameters }
func (c leSetAdvertisingParameters) len() int       { return 15 }
func (c leSetAdvertisingParameters) marshal(b []byte) {
	o.PutUint16(b[0:], c.advertisingIntervalMin)
	o.PutUint16(b[2:], c.advertisingIntervalMax)
	o.PutUint8(b[4:], c.advertisingType)
	o.PutUint8(b[5:], c.ownAddressType)
	o.PutUint8(b[6:], c.directAddressType)
	o.PutMAC(b[7:], c.directAddress)
	o.PutUint8(b[13:], c.advertisingChannelMap)
	o.PutUint8(b[14:], c.advertisingFilterPolicy)
}

// LE Set Advertising Data (0x0008)
type leSetAdvertisingData struct {
	advertisingDataLength uint8
	advertisingData       [31]byte
}

func (c leSetAdvertisingData) opcode() opcode { return opLESetAdvertisingData }
func (c leSetAdvertisingData) len() int       { return 32 }
func (c leSetAdvertisingData) marshal(b []byte) {
	b[0] = c.advertisingDataLength
	copy(b[1:], c.advertisingData[:c.advertisingDataLength])
}

// LE Set Scan Response Data (0x0009)
type leSetScanResponseData struct {
	scanResponseDataLength uint8
	scanResponseData       [31]byte
}

func (c leSetScanResponseData) opcode() opcode { return opLESetScanResponseData }
func (c leSetScanResponseData) len() int       { return 32 }
func (c leSetScanResponseData) marshal(b []byte) {
	b[0] = c.scanResponseDataLength
	copy(b[1:], c.scanResponseData[:c.scanResponseDataLength])
}

// LE Set Advertising Enable (0x000A)
type leSetAdvertiseEnable struct{ advertisingEnable uint8 }

func (c leSetAdvertiseEnable) opcode() opcode   { return opLESetAdvertiseEnable }
func (c leSetAdvertiseEnable) len() int         { return 1 }
func (c leSetAdvertiseEnable) marshal(b []byte) { b[0] = c.advertisingEnable }

// LE Set Scan Parameters (0x000B)
type leSetScanParameters struct {
	leScanType           uint8
	leScanInterval       uint16
	leScanWindow         uint16
	ownAddressType       uint8
	scanningFilterPolicy uint8
}

func (c leSetScanParameters) opcode() opcode { return opLESetScanParameters }
func (c leSetScanParameters) len() int       { return 7 }
func (c leSetScanParameters) marshal(b []byte) {
	o.PutUint8(b[0:], c.leScanType)
	o.PutUint16(b[1:], c.leScanInterval)
	o.PutUint16(b[3:], c.leScanWindow)
	o.PutUint8(b[5:], c.ownAddressType)
	o.PutUint8(b[6:], c.scanningFilterPolicy)
}

// LE Set Scan Enable (0x000C)
type leSetScanEnable struct {
	leScanEnable     uint8
	filterDuplicates uint8
}

func (c leSetScanEnable) opcode() opcode   { return opLESetScanEnable }
func (c leSetScanEnable) len() int         { return 2 }
func (c leSetScanEnable) marshal(b []byte) { b[0], b[1] = c.leScanEnable, c.filterDuplicates }

// LE Create Connection (0x000D)
type leCreateConn struct {
	leScanInterval        uint16
	leScanWindow          uint16
	initiatorFilterPolicy uint8
	peerAddressType       uint8
	peerAddress           [6]byte
	ownAddressType        uint8
	connIntervalMin       uint16
	connIntervalMax       uint16
	connLatency           uint16
	supervisionTimeout    uint16
	minimumCELength       uint16
	maximumCELength       uint16
}

func (c leCreateConn) opcode() opcode { return opLECreateConn }
func (c leCreateConn) len() int       { return 25 }
func (c leCreateConn) marshal(b []byte) {
	o.PutUint16(b[0:], c.leScanInterval)
	o.PutUint16(b[2:], c.leScanWindow)
	o.PutUint8(b[4:], c.initiatorFilterPolicy)
	o.PutUint8(b[5:], c.peerAddressType)
	o.PutMAC(b[6:], c.peerAddress)
	o.PutUint8(b[12:], c.ownAddressType)
	o.PutUint16(b[13:], c.connIntervalMin)
	o.PutUint16(b[15:], c.connIntervalMax)
	o.PutUint16(b[17:], c.connLatency)
	o.PutUint16(b[19:], c.supervisionTimeout)
	o.PutUint16(b[21:], c.minimumCELength)
	o.PutUint16(b[23:], c.maximumCELength)
}

// LE Create Connection Cancel (0x000E)
type leCreateConnCancel struct{}

func (c leCreateConnCancel) opcode() opcode   { return opLECreateConnCancel }
func (c leCreateConnCancel) len() int         { return 0 }
func (c leCreateConnCancel) marshal(b []byte) {}

// LE Connection Update (0x0013)
type leConnUpdate struct {
	connectionHandle   uint16
	connIntervalMin    uint16
	connIntervalMax    uint16
	connLatency        uint16
	supervisionTimeout uint16
	minimumCELength    uint16
	maximumCELength    uint16
}

func (c leConnUpdate) opcode() opcode { return opLEConnUpdate }
func (c leConnUpdate) len() int       { return 14 }
func (c leConnUpdate) marshal(b []byte) {
	o.PutUint16(b[0:], c.connectionHandle)
	o.PutUint16(b[2:], c.connIntervalMin)
	o.PutUint16(b[4:], c.connIntervalMax)
	o.PutUint16(b[6:], c.connLatency)
	o.PutUint16(b[8:], c.supervisionTimeout)
	o.PutUint16(b[10:], c.minimumCELength)
	o.PutUint16(b[12:], c.maximumCELength)
}
