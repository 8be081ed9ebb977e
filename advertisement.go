package gatt

import (
	"encoding/binary"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// MaxEIRPacketLength is the maximum allowed AdvertisingPacket
// and ScanResponsePacket length.
const MaxEIRPacketLength = 31

// ErrEIRPacketTooLong is the error returned when an AdvertisingPacket
// or ScanResponsePacket is too long.
var ErrEIRPacketTooLong = errors.New("max packet length is 31")

// ErrInvalidAdvertisement is returned when advertising data is malformed.
var ErrInvalidAdvertisement = errors.New("invalid advertise data")

// advertising data field types
const (
	typeFlags             = 0x01 // Flags
	typeSomeUUID16        = 0x02 // Incomplete List of 16-bit Service Class UUIDs
	typeAllUUID16         = 0x03 // Complete List of 16-bit Service Class UUIDs
	typeSomeUUID32        = 0x04 // Incomplete List of 32-bit Service Class UUIDs
	typeAllUUID32         = 0x05 // Complete List of 32-bit Service Class UUIDs
	typeSomeUUID128       = 0x06 // Incomplete List of 128-bit Service Class UUIDs
	typeAllUUID128        = 0x07 // Complete List of 128-bit Service Class UUIDs
	typeShortName         = 0x08 // Shortened Local Name
	typeCompleteName      = 0x09 // Complete Local Name
	typeTxPower           = 0x0A // Tx Power Level
	typeClassOfDevice     = 0x0D // Class of Device
	typeSimplePairingC192 = 0x0E // Simple Pairing Hash C-192
	typeSimplePairingR192 = 0x0F // Simple Pairing Randomizer R-192
	typeSecManagerTK      = 0x10 // Security Manager TK Value
	typeSecManagerOOB     = 0x11 // Security Manager Out of Band Flags
	typeSlaveConnInt      = 0x12 // Slave Connection Interval Range
	typeServiceSol16      = 0x14 // List of 16-bit Service Solicitation UUIDs
	typeServiceSol128     = 0x15 // List of 128-bit Service Solicitation UUIDs
	typeServiceData16     = 0x16 // Service Data - 16-bit UUID
	typePubTargetAddr     = 0x17 // Public Target Address
	typeRandTargetAddr    = 0x18 // Random Target Address
	typeAppearance        = 0x19 // Appearance
	typeAdvInterval       = 0x1A // Advertising Interval
	typeLEDeviceAddr      = 0x1B // LE Bluetooth Device Address
	typeLERole            = 0x1C // LE Role
	typeServiceSol32      = 0x1F // List of 32-bit Service Solicitation UUIDs
	typeServiceData32     = 0x20 // Service Data - 32-bit UUID
	typeServiceData128    = 0x21 // Service Data - 128-bit UUID
	typeLESecConfirm      = 0x22 // LE Secure Connections Confirmation Value
	typeLESecRandom       = 0x23 // LE Secure Connections Random Value
	typeManufacturerData  = 0xFF // Manufacturer Specific Data
)

// flag bits
const (
	flagLimitedDiscoverable = 1 << iota // LE Limited Discoverable Mode
	flagGeneralDiscoverable             // LE General Discoverable Mode
	flagLEOnly                          // BR/EDR Not Supported. Bit 37 of LMP Feature Mask Definitions (Page 0)
	flagBothController                  // Simultaneous LE and BR/EDR to Same Device Capable (Controller).
	flagBothHost                        // Simultaneous LE and BR/EDR to Same Device Capable (Host).
)

// ServiceData is one Service Data AD structure.
type ServiceData struct {
	UUID UUID
	Data []byte
}

// Advertisement is the parsed content of advertising and scan response data.
type Advertisement struct {
	Flags            byte
	LocalName        string
	ManufacturerData []byte
	ServiceData      []ServiceData
	Services         []UUID
	TxPowerLevel     int
	Appearance       uint16
	SolicitedService []UUID
}

// Connectable reports whether the advertiser claims a discoverable mode.
func (a *Advertisement) Connectable() bool {
	return a.Flags&(flagLimitedDiscoverable|flagGeneralDiscoverable) != 0
}

// Unmarshal parses the AD structures in b into a. Fields already set in a
// are appended to or overwritten. A zero length octet ends the data early.
func (a *Advertisement) Unmarshal(b []byte) error {
	for len(b) > 0 {
		l := int(b[0])
		if l == 0 {
			return nil
		}
		if len(b) < 1+l {
			return errors.Wrapf(ErrInvalidAdvertisement, "field length %d exceeds %d remaining", l, len(b)-1)
		}
		t, d := b[1], b[2:1+l]
		var err error
		switch t {
		case typeFlags:
			if len(d) < 1 {
				return errors.Wrap(ErrInvalidAdvertisement, "empty flags")
			}
			a.Flags = d[0]
		case typeSomeUUID16, typeAllUUID16:
			a.Services, err = uuidList(a.Services, d, 2)
		case typeSomeUUID32, typeAllUUID32:
			a.Services, err = uuidList(a.Services, d, 4)
		case typeSomeUUID128, typeAllUUID128:
			a.Services, err = uuidList(a.Services, d, 16)
		case typeShortName, typeCompleteName:
			a.LocalName = string(d)
		case typeTxPower:
			if len(d) != 1 {
				return errors.Wrap(ErrInvalidAdvertisement, "tx power")
			}
			a.TxPowerLevel = int(int8(d[0]))
		case typeAppearance:
			if len(d) != 2 {
				return errors.Wrap(ErrInvalidAdvertisement, "appearance")
			}
			a.Appearance = binary.LittleEndian.Uint16(d)
		case typeServiceSol16:
			a.SolicitedService, err = uuidList(a.SolicitedService, d, 2)
		case typeServiceSol32:
			a.SolicitedService, err = uuidList(a.SolicitedService, d, 4)
		case typeServiceSol128:
			a.SolicitedService, err = uuidList(a.SolicitedService, d, 16)
		case typeServiceData16:
			err = a.appendServiceData(d, 2)
		case typeServiceData32:
			err = a.appendServiceData(d, 4)
		case typeServiceData128:
			err = a.appendServiceData(d, 16)
		case typeManufacturerData:
			a.ManufacturerData = append([]byte(nil), d...)
		default:
			logrus.WithField("type", t).Debugf("DATA: [ % X ]", d)
		}
		if err != nil {
			return err
		}
		b = b[1+l:]
	}
	return nil
}

func (a *Advertisement) appendServiceData(d []byte, w int) error {
	if len(d) < w {
		return errors.Wrap(ErrInvalidAdvertisement, "service data")
	}
	a.ServiceData = append(a.ServiceData, ServiceData{
		UUID: uuidFromWidth(d[:w]),
		Data: append([]byte(nil), d[w:]...),
	})
	return nil
}

func uuidList(u []UUID, d []byte, w int) ([]UUID, error) {
	if len(d)%w != 0 {
		return u, errors.Wrapf(ErrInvalidAdvertisement, "uuid list of %d bytes", len(d))
	}
	for len(d) > 0 {
		u = append(u, uuidFromWidth(d[:w]))
		d = d[w:]
	}
	return u, nil
}

// bluetoothBase is the Bluetooth Base UUID, 00000000-0000-1000-8000-00805F9B34FB,
// in wire order.
var bluetoothBase = []byte{
	0xfb, 0x34, 0x9b, 0x5f, 0x80, 0x00, 0x00, 0x80,
	0x00, 0x10, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

// uuidFromWidth builds a UUID from 2, 4 or 16 wire bytes. 32-bit UUIDs are
// expanded onto the Bluetooth Base UUID.
func uuidFromWidth(d []byte) UUID {
	if len(d) == 4 {
		b := append([]byte(nil), bluetoothBase...)
		copy(b[12:], d)
		return UUID{b}
	}
	return UUID{append([]byte(nil), d...)}
}

// NameScanResponsePacket constructs a scan response packet with
// the given name, truncated as necessary.
func NameScanResponsePacket(name string) []byte {
	p := (&AdvPacket{}).AppendName(name)
	return p.b
}

// ServiceAdvertisingPacket constructs an advertising packet that
// advertises as many of the provided service uuids as possible.
// It returns the advertising packet and the contained uuids.
func ServiceAdvertisingPacket(uu []UUID) ([]byte, []UUID) {
	fit := make([]UUID, 0, len(uu))
	adv := (&AdvPacket{}).AppendFlags(flagGeneralDiscoverable | flagLEOnly)
	for _, u := range uu {
		if ok := adv.AppendUUIDFit([]UUID{u}); ok {
			fit = append(fit, u)
		}
	}
	return adv.b, fit
}

// AdvPacket is an utility to help crafting advertisment or scan response data.
type AdvPacket struct {
	b []byte
}

// Bytes returns an 31-byte array, which contains up to 31 bytes of the packet.
func (a *AdvPacket) Bytes() [31]byte {
	b := [31]byte{}
	copy(b[:], a.b)
	return b
}

// Len returns the length of the packets with a maximum of 31.
func (a *AdvPacket) Len() int {
	if len(a.b) > 31 {
		return 31
	}
	return len(a.b)
}

// AppendField appends a BLE advertising packet field.
// The field is dropped if it would make the packet too long.
func (a *AdvPacket) AppendField(typ byte, b []byte) *AdvPacket {
	if len(a.b)+2+len(b) > MaxEIRPacketLength {
		return a
	}
	// A field consists of len, typ, b.
	// Len is 1 byte for typ plus len(b).
	a.b = append(a.b, byte(len(b)+1))
	a.b = append(a.b, typ)
	a.b = append(a.b, b...)
	return a
}

// AppendFlags appends a flag field to the packet.
func (a *AdvPacket) AppendFlags(f byte) *AdvPacket {
	return a.AppendField(typeFlags, []byte{f})
}

// AppendName appends a name field to the packet.
// If the name fits in the space, it will be append as a complete name field, otherwise a short name field.
// A shortened name is cut on a rune boundary.
func (a *AdvPacket) AppendName(n string) *AdvPacket {
	typ := byte(typeCompleteName)
	if avail := MaxEIRPacketLength - len(a.b) - 2; len(n) > avail {
		if avail <= 0 {
			return a
		}
		typ = byte(typeShortName)
		for avail > 0 && !utf8.RuneStart(n[avail]) {
			avail--
		}
		n = n[:avail]
	}
	return a.AppendField(typ, []byte(n))
}

// AppendManufacturerData appends a manufacturer data field to the packet.
func (a *AdvPacket) AppendManufacturerData(id uint16, b []byte) *AdvPacket {
	d := append([]byte{uint8(id), uint8(id >> 8)}, b...)
	return a.AppendField(typeManufacturerData, d)
}

// AppendUUIDFit appends a BLE advertised service UUID packet field for
// each of uu that fits in the packet, and reports whether all of them fit.
// The GAP and GATT services are never advertised.
func (a *AdvPacket) AppendUUIDFit(uu []UUID) bool {
	fit := true
	for _, u := range uu {
		if u.Equal(attrGAPUUID) || u.Equal(attrGATTUUID) {
			continue
		}
		if len(a.b)+2+u.Len() > MaxEIRPacketLength {
			fit = false
			continue
		}
		// Err on the side of safety and assume that there might be
		// other services available: Use typeSomeUUID instead
		// of typeAllUUID.
		switch u.Len() {
		case 2:
			a.AppendField(typeSomeUUID16, u.b)
		case 16:
			a.AppendField(typeSomeUUID128, u.b)
		}
	}
	return fit
}
