package linux

type packetType uint8

// HCI Packet types
const (
	typCommandPkt packetType = 0x01
	typACLDataPkt packetType = 0x02
	typSCODataPkt packetType = 0x03
	typEventPkt   packetType = 0x04
	typVendorPkt  packetType = 0xFF
)

// Advertising report event types [Vol 2, Part E, 7.7.65.2].
const (
	advInd        = 0x00 // Connectable undirected advertising (ADV_IND).
	advDirectInd  = 0x01 // Connectable directed advertising (ADV_DIRECT_IND)
	advScanInd    = 0x02 // Scannable undirected advertising (ADV_SCAN_IND)
	advNonconnInd = 0x03 // Non connectable undirected advertising (ADV_NONCONN_IND)
	scanRsp       = 0x04 // Scan Response (SCAN_RSP)
)

// Connection roles reported by LE Connection Complete.
const (
	RoleCentral    = 0x00
	RolePeripheral = 0x01
)

// Disconnect reasons [Vol 2, Part D, 2].
const (
	ReasonRemoteUserTerminated = 0x13
	ReasonLocalHostTerminated  = 0x16
)
