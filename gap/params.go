// Package gap holds the Generic Access Profile parameter sets used to
// advertise, scan and connect, and the preset tables they are drawn from.
package gap

import "encoding/binary"

// AdvType is the advertising PDU type [Vol 2, Part E, 7.8.5].
type AdvType uint8

// Advertising types.
const (
	AdvInd           AdvType = 0x00 // Connectable undirected advertising (ADV_IND).
	AdvDirectIndHigh AdvType = 0x01 // Connectable high duty cycle directed advertising (ADV_DIRECT_IND).
	AdvScanInd       AdvType = 0x02 // Scannable undirected advertising (ADV_SCAN_IND).
	AdvNonconnInd    AdvType = 0x03 // Non connectable undirected advertising (ADV_NONCONN_IND).
	AdvDirectIndLow  AdvType = 0x04 // Connectable low duty cycle directed advertising (ADV_DIRECT_IND).
)

var advTypeName = map[AdvType]string{
	AdvInd:           "ADV_IND",
	AdvDirectIndHigh: "ADV_DIRECT_IND (high duty)",
	AdvScanInd:       "ADV_SCAN_IND",
	AdvNonconnInd:    "ADV_NONCONN_IND",
	AdvDirectIndLow:  "ADV_DIRECT_IND (low duty)",
}

func (t AdvType) String() string {
	if s, ok := advTypeName[t]; ok {
		return s
	}
	return "unknown"
}

// Connectable reports whether a central may connect in response to t.
func (t AdvType) Connectable() bool {
	return t == AdvInd || t == AdvDirectIndHigh || t == AdvDirectIndLow
}

// ScanType selects passive or active scanning.
type ScanType uint8

// Scan types.
const (
	ScanPassive ScanType = 0x00
	ScanActive  ScanType = 0x01
)

func (t ScanType) String() string {
	if t == ScanActive {
		return "active"
	}
	return "passive"
}

// Address types used for own and peer addresses.
const (
	AddrPublic = 0x00
	AddrRandom = 0x01
)

// AdvParams is the parameter set for LE advertising.
type AdvParams struct {
	IntervalMin  uint16  // 0x0020 - 0x4000; N * 0.625 msec
	IntervalMax  uint16  // 0x0020 - 0x4000; N * 0.625 msec
	Type         AdvType // advertising PDU type
	OwnAddrType  uint8   // 0x00 public, 0x01 random
	ChannelMap   uint8   // bit 0: ch 37, bit 1: ch 38, bit 2: ch 39
	FilterPolicy uint8   // 0x00 process scan and connection requests from all
	Data         []byte  // advertising data, at most 31 bytes
	ScanResp     []byte  // scan response data; nil derives it from the device name
}

// ScanParams is the parameter set for LE scanning.
type ScanParams struct {
	Type             ScanType // passive or active
	Interval         uint16   // 0x0004 - 0x4000; N * 0.625 msec
	Window           uint16   // 0x0004 - 0x4000; N * 0.625 msec
	OwnAddrType      uint8    // 0x00 public, 0x01 random
	FilterPolicy     uint8    // 0x00 accept all
	FilterDuplicates bool
}

// ConnParams is the parameter set used to create or update a connection.
type ConnParams struct {
	IntervalMin        uint16 // 0x0006 - 0x0C80; N * 1.25 msec
	IntervalMax        uint16 // 0x0006 - 0x0C80; N * 1.25 msec
	Latency            uint16 // 0x0000 - 0x01F3; connection events
	SupervisionTimeout uint16 // 0x000A - 0x0C80; N * 10 msec
	MinCELength        uint16 // 0x0000 - 0xFFFF; N * 0.625 msec
	MaxCELength        uint16 // 0x0000 - 0xFFFF; N * 0.625 msec
}

// PreferredParams encodes p as the value of the Peripheral Preferred
// Connection Parameters characteristic [Vol 3, Part C, 12.3].
func (p ConnParams) PreferredParams() []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint16(b[0:], p.IntervalMin)
	binary.LittleEndian.PutUint16(b[2:], p.IntervalMax)
	binary.LittleEndian.PutUint16(b[4:], p.Latency)
	binary.LittleEndian.PutUint16(b[6:], p.SupervisionTimeout)
	return b
}

func (p AdvParams) clone() AdvParams {
	p.Data = cloneBytes(p.Data)
	p.ScanResp = cloneBytes(p.ScanResp)
	return p
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
