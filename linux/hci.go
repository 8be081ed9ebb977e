// Package linux drives a Bluetooth controller over HCI and carries ATT
// over the kernel's L2CAP sockets.
package linux

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	gatt "github.com/XC-/applgatt"
	"github.com/XC-/applgatt/gap"
)

// DefaultCommandTimeout bounds the wait for a command's completion event.
const DefaultCommandTimeout = 2 * time.Second

// A Report is an advertising report, merged with the scan response that
// followed it when scanning actively.
type Report struct {
	EventType    uint8
	AddressType  uint8
	Address      net.HardwareAddr
	Data         []byte
	ScanResponse []byte
	RSSI         int8
}

// Connectable reports whether the advertiser accepts connections.
func (r *Report) Connectable() bool {
	return r.EventType == advInd || r.EventType == advDirectInd
}

// Advertisement parses the advertising data and scan response of r.
func (r *Report) Advertisement() (*gatt.Advertisement, error) {
	a := &gatt.Advertisement{}
	if err := a.Unmarshal(r.Data); err != nil {
		return nil, err
	}
	if err := a.Unmarshal(r.ScanResponse); err != nil {
		return nil, errors.Wrap(err, "scan response")
	}
	return a, nil
}

// A Connection describes an LE connection reported by the controller.
type Connection struct {
	Status             uint8
	Handle             uint16
	Role               uint8
	PeerAddressType    uint8
	PeerAddress        net.HardwareAddr
	Interval           uint16 // N * 1.25 msec
	Latency            uint16
	SupervisionTimeout uint16 // N * 10 msec
}

type bdaddr [6]byte

// HCI is a host controller interface over a packet device: an HCI socket,
// or anything else that reads and writes whole H4 packets.
type HCI struct {
	d   io.ReadWriteCloser
	c   *cmd
	e   *event
	log logrus.FieldLogger

	cmdTimeout time.Duration

	hmu         sync.RWMutex
	advHandler  func(r *Report)
	connHandler func(c Connection)
	discHandler func(handle uint16, reason uint8)
	updHandler  func(c Connection)

	scanmu           sync.Mutex
	activeScan       bool
	filterDuplicates bool

	plist   map[bdaddr]*Report
	plistmu sync.Mutex

	evtc chan []byte

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
	err       error
}

// NewHCI starts reading packets from d. The controller is left untouched
// until Init is called.
func NewHCI(d io.ReadWriteCloser, opts ...Option) *HCI {
	h := &HCI{
		d:          d,
		log:        logrus.StandardLogger(),
		cmdTimeout: DefaultCommandTimeout,
		plist:      make(map[bdaddr]*Report),
		evtc:       make(chan []byte, 64),
		closed:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	h.Option(opts...)
	h.c = newCmd(d, h.log, h.cmdTimeout, h.closed)
	h.e = newEvent(h.log.Debugf)

	h.e.handleEvent(commandComplete, handlerFunc(h.c.handleComplete))
	h.e.handleEvent(commandStatus, handlerFunc(h.c.handleStatus))
	h.e.handleEvent(disconnectionComplete, handlerFunc(h.handleDisconnectionComplete))
	h.e.handleEvent(leMeta, handlerFunc(h.handleLEMeta))

	go h.asyncLoop()
	go h.mainLoop()
	return h
}

// Option is an HCI option.
// It returns an option to restore the last arg's previous value.
type Option func(*HCI) Option

// Option sets the options specified. Options take effect when passed to NewHCI.
func (h *HCI) Option(opts ...Option) (prev Option) {
	for _, opt := range opts {
		prev = opt(h)
	}
	return prev
}

// Logger sets the logger of the HCI.
func Logger(l logrus.FieldLogger) Option {
	return func(h *HCI) Option {
		prev := h.log
		h.log = l
		return Logger(prev)
	}
}

// CommandTimeout sets how long a command may wait for its completion event.
func CommandTimeout(d time.Duration) Option {
	return func(h *HCI) Option {
		prev := h.cmdTimeout
		h.cmdTimeout = d
		return CommandTimeout(prev)
	}
}

// HandleAdvertisement sets the function called with every advertising report.
func (h *HCI) HandleAdvertisement(f func(r *Report)) {
	h.hmu.Lock()
	h.advHandler = f
	h.hmu.Unlock()
}

// HandleConnection sets the function called when a connection completes.
func (h *HCI) HandleConnection(f func(c Connection)) {
	h.hmu.Lock()
	h.connHandler = f
	h.hmu.Unlock()
}

// HandleDisconnection sets the function called when a connection closes.
func (h *HCI) HandleDisconnection(f func(handle uint16, reason uint8)) {
	h.hmu.Lock()
	h.discHandler = f
	h.hmu.Unlock()
}

// HandleConnectionUpdate sets the function called when the parameters of
// a connection change.
func (h *HCI) HandleConnectionUpdate(f func(c Connection)) {
	h.hmu.Lock()
	h.updHandler = f
	h.hmu.Unlock()
}

// Close closes the device and stops the read loop.
func (h *HCI) Close() error {
	var err error
	h.closeOnce.Do(func() {
		close(h.closed)
		err = h.d.Close()
	})
	return err
}

// Done is closed when the read loop stops.
func (h *HCI) Done() <-chan struct{} { return h.done }

// Err returns the error that stopped the read loop.
func (h *HCI) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Init resets the controller and enables the events this package handles.
func (h *HCI) Init() error {
	seq := []cmdParam{
		reset{},
		setEventMask{eventMask: 0x3dbff807fffbffff},
		leSetEventMask{leEventMask: 0x000000000000001F},
		writeLEHostSupported{leSupportedHost: 1, simultaneousLEHost: 0},
	}
	for _, s := range seq {
		if _, err := h.c.sendAndCheckResp(s); err != nil {
			return err
		}
	}
	size, cnt, err := h.ReadBufferSize()
	if err != nil {
		return err
	}
	h.log.WithFields(logrus.Fields{"acl_len": size, "acl_pkts": cnt}).Info("controller initialized")
	return nil
}

// ReadBufferSize returns the LE ACL data packet length and count of the
// controller. Zero values mean the buffers are shared with BR/EDR.
func (h *HCI) ReadBufferSize() (size, count int, err error) {
	b, err := h.c.sendAndCheckResp(leReadBufferSize{})
	if err != nil {
		return 0, 0, err
	}
	var rp leReadBufferSizeRP
	if err := rp.unmarshal(b); err != nil {
		return 0, 0, err
	}
	return int(rp.hcLEACLDataPacketLength), int(rp.hcTotalNumLEACLDataPackets), nil
}

// SetAdvertisingParameters validates p and applies its timing, type and
// channel map. The data of p is set separately.
func (h *HCI) SetAdvertisingParameters(p gap.AdvParams) error {
	if err := p.Validate(); err != nil {
		return err
	}
	_, err := h.c.sendAndCheckResp(leSetAdvertisingParameters{
		advertisingIntervalMin:  p.IntervalMin,
		advertisingIntervalMax:  p.IntervalMax,
		advertisingType:         uint8(p.Type),
		ownAddressType:          p.OwnAddrType,
		advertisingChannelMap:   p.ChannelMap,
		advertisingFilterPolicy: p.FilterPolicy,
	})
	return err
}

// SetAdvertisingData sets the advertising data, at most 31 bytes.
func (h *HCI) SetAdvertisingData(b []byte) error {
	if len(b) > gap.MaxADLength {
		return gatt.ErrEIRPacketTooLong
	}
	cp := leSetAdvertisingData{advertisingDataLength: uint8(len(b))}
	copy(cp.advertisingData[:], b)
	_, err := h.c.sendAndCheckResp(cp)
	return err
}

// SetScanResponseData sets the scan response data, at most 31 bytes.
func (h *HCI) SetScanResponseData(b []byte) error {
	if len(b) > gap.MaxADLength {
		return gatt.ErrEIRPacketTooLong
	}
	cp := leSetScanResponseData{scanResponseDataLength: uint8(len(b))}
	copy(cp.scanResponseData[:], b)
	_, err := h.c.sendAndCheckResp(cp)
	return err
}

// Advertise enables advertising.
func (h *HCI) Advertise() error {
	_, err := h.c.sendAndCheckResp(leSetAdvertiseEnable{advertisingEnable: 1})
	return err
}

// StopAdvertising disables advertising.
func (h *HCI) StopAdvertising() error {
	_, err := h.c.sendAndCheckResp(leSetAdvertiseEnable{advertisingEnable: 0})
	return err
}

// SetScanParameters validates and applies p.
func (h *HCI) SetScanParameters(p gap.ScanParams) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if _, err := h.c.sendAndCheckResp(leSetScanParameters{
		leScanType:           uint8(p.Type),
		leScanInterval:       p.Interval,
		leScanWindow:         p.Window,
		ownAddressType:       p.OwnAddrType,
		scanningFilterPolicy: p.FilterPolicy,
	}); err != nil {
		return err
	}
	h.scanmu.Lock()
	h.activeScan = p.Type == gap.ScanActive
	h.filterDuplicates = p.FilterDuplicates
	h.scanmu.Unlock()
	return nil
}

// Scan starts scanning with the parameters last set.
func (h *HCI) Scan() error {
	h.scanmu.Lock()
	fd := h.filterDuplicates
	h.scanmu.Unlock()

	h.plistmu.Lock()
	h.plist = make(map[bdaddr]*Report)
	h.plistmu.Unlock()

	cp := leSetScanEnable{leScanEnable: 1}
	if fd {
		cp.filterDuplicates = 1
	}
	_, err := h.c.sendAndCheckResp(cp)
	return err
}

// StopScan stops scanning.
func (h *HCI) StopScan() error {
	_, err := h.c.sendAndCheckResp(leSetScanEnable{leScanEnable: 0})
	return err
}

// CreateConnection starts connecting to addr. The scan timing comes from
// sp and the connection parameters from cp. Completion is reported to the
// connection handler.
func (h *HCI) CreateConnection(addr net.HardwareAddr, addrType uint8, sp gap.ScanParams, cp gap.ConnParams) error {
	if len(addr) != 6 {
		return errors.Errorf("hci: invalid address %v", addr)
	}
	if err := sp.Validate(); err != nil {
		return err
	}
	if err := cp.Validate(); err != nil {
		return err
	}
	c := leCreateConn{
		leScanInterval:     sp.Interval,
		leScanWindow:       sp.Window,
		peerAddressType:    addrType,
		ownAddressType:     sp.OwnAddrType,
		connIntervalMin:    cp.IntervalMin,
		connIntervalMax:    cp.IntervalMax,
		connLatency:        cp.Latency,
		supervisionTimeout: cp.SupervisionTimeout,
		minimumCELength:    cp.MinCELength,
		maximumCELength:    cp.MaxCELength,
	}
	copy(c.peerAddress[:], addr)
	_, err := h.c.sendAndCheckResp(c)
	return err
}

// CancelConnection cancels a pending CreateConnection.
func (h *HCI) CancelConnection() error {
	_, err := h.c.sendAndCheckResp(leCreateConnCancel{})
	return err
}

// UpdateConnection requests new parameters for the connection handle.
// Completion is reported to the connection update handler.
func (h *HCI) UpdateConnection(handle uint16, cp gap.ConnParams) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	_, err := h.c.sendAndCheckResp(leConnUpdate{
		connectionHandle:   handle,
		connIntervalMin:    cp.IntervalMin,
		connIntervalMax:    cp.IntervalMax,
		connLatency:        cp.Latency,
		supervisionTimeout: cp.SupervisionTimeout,
		minimumCELength:    cp.MinCELength,
		maximumCELength:    cp.MaxCELength,
	})
	return err
}

// Disconnect terminates the connection handle.
func (h *HCI) Disconnect(handle uint16, reason uint8) error {
	_, err := h.c.sendAndCheckResp(disconnect{connectionHandle: handle, reason: reason})
	return err
}

func (h *HCI) mainLoop() {
	defer close(h.done)
	defer close(h.evtc)
	b := make([]byte, 4096)
	for {
		n, err := h.d.Read(b)
		if err != nil || n == 0 {
			if err == nil {
				err = io.EOF
			}
			select {
			case <-h.closed:
			default:
				h.log.WithError(err).Warn("hci read failed")
			}
			h.err = err
			return
		}
		p := make([]byte, n)
		copy(p, b)
		h.handlePacket(p)
	}
}

// asyncLoop runs the event handlers, so that they may issue commands
// while mainLoop keeps delivering completions.
func (h *HCI) asyncLoop() {
	for b := range h.evtc {
		if err := h.e.dispatch(b); err != nil {
			h.log.WithError(err).Warnf("hci event [ % X ]", b)
		}
	}
}

func (h *HCI) handlePacket(b []byte) {
	t, b := packetType(b[0]), b[1:]
	switch t {
	case typEventPkt:
		if len(b) >= 1 && (eventCode(b[0]) == commandComplete || eventCode(b[0]) == commandStatus) {
			if err := h.e.dispatch(b); err != nil {
				h.log.WithError(err).Warnf("hci event [ % X ]", b)
			}
			return
		}
		select {
		case h.evtc <- b:
		default:
			h.log.Warnf("hci event queue full, dropped [ % X ]", b)
		}
	case typCommandPkt:
		if len(b) >= 2 {
			op := opcode(uint16(b[0]) | uint16(b[1])<<8)
			h.log.Debugf("unmanaged cmd: %s(0x%04X)", op, uint16(op))
		}
	case typACLDataPkt:
		// ATT traffic is carried by L2CAP sockets.
		h.log.Debugf("ignored ACL data [ % X ]", b)
	case typSCODataPkt, typVendorPkt:
		h.log.Debugf("unsupported packet type 0x%02X", uint8(t))
	default:
		h.log.Warnf("unknown packet: 0x%02X [ % X ]", uint8(t), b)
	}
}

func (h *HCI) handleDisconnectionComplete(b []byte) error {
	var ep disconnectionCompleteEP
	if err := ep.unmarshal(b); err != nil {
		return err
	}
	h.log.WithFields(logrus.Fields{"handle": ep.connectionHandle, "reason": ep.reason}).Info("disconnected")
	h.hmu.RLock()
	f := h.discHandler
	h.hmu.RUnlock()
	if f != nil {
		f(ep.connectionHandle, ep.reason)
	}
	return nil
}

func (h *HCI) handleLEMeta(b []byte) error {
	if len(b) == 0 {
		return errShortEvent
	}
	switch code := leEventCode(b[0]); code {
	case leConnectionComplete:
		return h.handleConnectionComplete(b)
	case leAdvertisingReport:
		return h.handleAdvertisement(b)
	case leConnectionUpdateComplete:
		return h.handleConnectionUpdate(b)
	default:
		h.log.Debugf("unhandled %s [ % X ]", code, b)
	}
	return nil
}

func (h *HCI) handleConnectionComplete(b []byte) error {
	var ep leConnectionCompleteEP
	if err := ep.unmarshal(b); err != nil {
		return err
	}
	c := Connection{
		Status:             ep.status,
		Handle:             ep.connectionHandle,
		Role:               ep.role,
		PeerAddressType:    ep.peerAddressType,
		PeerAddress:        net.HardwareAddr(ep.peerAddress[:]),
		Interval:           ep.connInterval,
		Latency:            ep.connLatency,
		SupervisionTimeout: ep.supervisionTimeout,
	}
	h.log.WithFields(logrus.Fields{
		"handle":   c.Handle,
		"peer":     c.PeerAddress,
		"status":   c.Status,
		"interval": gap.ConnInterval(c.Interval),
	}).Info("connection complete")
	h.hmu.RLock()
	f := h.connHandler
	h.hmu.RUnlock()
	if f != nil {
		f(c)
	}
	return nil
}

func (h *HCI) handleConnectionUpdate(b []byte) error {
	var ep leConnectionUpdateCompleteEP
	if err := ep.unmarshal(b); err != nil {
		return err
	}
	h.hmu.RLock()
	f := h.updHandler
	h.hmu.RUnlock()
	if f != nil {
		f(Connection{
			Status:             ep.status,
			Handle:             ep.connectionHandle,
			Interval:           ep.connInterval,
			Latency:            ep.connLatency,
			SupervisionTimeout: ep.supervisionTimeout,
		})
	}
	return nil
}

func (h *HCI) handleAdvertisement(b []byte) error {
	h.hmu.RLock()
	f := h.advHandler
	h.hmu.RUnlock()
	// If no one is interested, don't bother.
	if f == nil {
		return nil
	}
	ep := &leAdvertisingReportEP{}
	if err := ep.unmarshal(b); err != nil {
		return err
	}
	h.scanmu.Lock()
	active := h.activeScan
	h.scanmu.Unlock()
	for i := 0; i < int(ep.numReports); i++ {
		addr := bdaddr(ep.address[i])
		et := ep.eventType[i]

		if et == scanRsp {
			h.plistmu.Lock()
			r, ok := h.plist[addr]
			if ok {
				delete(h.plist, addr)
			}
			h.plistmu.Unlock()
			if ok {
				r.ScanResponse = ep.data[i]
				f(r)
			}
			continue
		}

		r := &Report{
			EventType:   et,
			AddressType: ep.addressType[i],
			Address:     net.HardwareAddr(append([]byte(nil), addr[:]...)),
			Data:        ep.data[i],
			RSSI:        ep.rssi[i],
		}
		// Scannable advertisements wait for their scan response.
		if active && (et == advInd || et == advScanInd) {
			h.plistmu.Lock()
			prev, ok := h.plist[addr]
			h.plist[addr] = r
			h.plistmu.Unlock()
			if ok {
				// No scan response arrived for the previous one.
				f(prev)
			}
			continue
		}
		f(r)
	}
	return nil
}
