//go:build linux
// +build linux

package linux

import (
	"bytes"
	"fmt"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	hciMaxDevices = 16
	hciDevUp      = 1 << 0 // HCI_UP
)

// _IOR('H', 210, int) and _IOR('H', 211, int)
const (
	hciGetDeviceList = 0x800448d2 // HCIGETDEVLIST
	hciGetDeviceInfo = 0x800448d3 // HCIGETDEVINFO
)

type hciDeviceRequest struct {
	devID  uint16
	devOpt uint32
}

type hciDeviceListRequest struct {
	devNum     uint16
	devRequest [hciMaxDevices]hciDeviceRequest
}

// DeviceInfo mirrors struct hci_dev_info.
type DeviceInfo struct {
	DevID  uint16
	name   [8]byte
	btAddr [6]byte

	Flags   uint32
	DevType uint8

	Features [8]uint8

	PktType    uint32
	LinkPolicy uint32
	LinkMode   uint32

	ACLMTU  uint16
	ACLPkts uint16
	SCOMTU  uint16
	SCOPkts uint16

	Stats DeviceStats
}

// DeviceStats mirrors struct hci_dev_stats.
type DeviceStats struct {
	ErrRx  uint32
	ErrTx  uint32
	CmdTx  uint32
	EvtRx  uint32
	ACLTx  uint32
	ACLRx  uint32
	SCOTx  uint32
	SCORx  uint32
	ByteRx uint32
	ByteTx uint32
}

// Name returns the interface name, such as "hci0".
func (i *DeviceInfo) Name() string {
	return string(bytes.TrimRight(i.name[:], "\x00"))
}

// Addr returns the public device address.
func (i *DeviceInfo) Addr() string {
	a := i.btAddr
	return fmt.Sprintf("%.2x:%.2x:%.2x:%.2x:%.2x:%.2x", a[5], a[4], a[3], a[2], a[1], a[0])
}

// Up reports whether the kernel has the device up.
func (i *DeviceInfo) Up() bool { return i.Flags&hciDevUp != 0 }

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg)); errno != 0 {
		return errno
	}
	return nil
}

// Devices lists the HCI devices known to the kernel.
func Devices() ([]*DeviceInfo, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.BTPROTO_HCI)
	if err != nil {
		return nil, errors.Wrap(err, "hci socket")
	}
	defer unix.Close(fd)

	req := hciDeviceListRequest{devNum: hciMaxDevices}
	if err := ioctl(fd, hciGetDeviceList, unsafe.Pointer(&req)); err != nil {
		return nil, errors.Wrap(err, "list hci devices")
	}

	var dd []*DeviceInfo
	for n := 0; n < int(req.devNum); n++ {
		i := &DeviceInfo{DevID: req.devRequest[n].devID}
		if err := ioctl(fd, hciGetDeviceInfo, unsafe.Pointer(i)); err != nil {
			return dd, errors.Wrapf(err, "hci%d info", i.DevID)
		}
		dd = append(dd, i)
	}
	return dd, nil
}
