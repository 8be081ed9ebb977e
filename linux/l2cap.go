//go:build linux
// +build linux

package linux

import (
	"net"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	gatt "github.com/XC-/applgatt"
	"github.com/XC-/applgatt/gap"
)

// attCID is the fixed L2CAP channel of the Attribute Protocol on LE links.
const attCID = 4

// LE address types of struct sockaddr_l2.
const (
	addrLEPublic = 0x01
	addrLERandom = 0x02
)

// l2addrType maps a GAP address type to its sockaddr_l2 value.
func l2addrType(addrType uint8) uint8 {
	if addrType == gap.AddrRandom {
		return addrLERandom
	}
	return addrLEPublic
}

// attSocket is an L2CAP SOCK_SEQPACKET socket on the ATT channel.
// Every Read returns one ATT PDU.
type attSocket struct {
	fd     int
	local  net.HardwareAddr
	remote net.HardwareAddr

	closeOnce sync.Once
	err       error
}

func (s *attSocket) Read(b []byte) (int, error) {
	n, err := unix.Read(s.fd, b)
	if err != nil {
		return 0, errors.Wrap(err, "l2cap read")
	}
	if n == 0 {
		return 0, errors.Wrap(unix.ECONNRESET, "l2cap read")
	}
	return n, nil
}

func (s *attSocket) Write(b []byte) (int, error) {
	n, err := unix.Write(s.fd, b)
	if err != nil {
		return 0, errors.Wrap(err, "l2cap write")
	}
	return n, nil
}

// Close shuts the socket down first, which wakes a blocked Read.
func (s *attSocket) Close() error {
	s.closeOnce.Do(func() {
		unix.Shutdown(s.fd, unix.SHUT_RDWR)
		s.err = unix.Close(s.fd)
	})
	return s.err
}

func (s *attSocket) LocalAddr() net.Addr  { return gatt.BDAddr{HardwareAddr: s.local} }
func (s *attSocket) RemoteAddr() net.Addr { return gatt.BDAddr{HardwareAddr: s.remote} }

// sockaddrMAC converts an address returned by the kernel, which is in
// wire order, to display order.
func sockaddrMAC(sa unix.Sockaddr) net.HardwareAddr {
	l2, ok := sa.(*unix.SockaddrL2)
	if !ok {
		return nil
	}
	a := make(net.HardwareAddr, 6)
	o.PutMAC(a, l2.Addr)
	return a
}

func localMAC(fd int) net.HardwareAddr {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil
	}
	return sockaddrMAC(sa)
}

// ATTListener accepts LE connections on the ATT channel.
type ATTListener struct {
	fd   int
	addr net.HardwareAddr

	closeOnce sync.Once
	err       error
}

// ListenATT listens for ATT connections on every local adapter. addrType
// is the GAP address type the local adapter advertises with.
func ListenATT(addrType uint8) (*ATTListener, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, unix.BTPROTO_L2CAP)
	if err != nil {
		return nil, errors.Wrap(err, "l2cap socket")
	}
	if err := unix.Bind(fd, &unix.SockaddrL2{CID: attCID, AddrType: l2addrType(addrType)}); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "bind att channel")
	}
	if err := unix.Listen(fd, 1); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "listen att channel")
	}
	return &ATTListener{fd: fd, addr: localMAC(fd)}, nil
}

// Accept waits for the next central.
func (l *ATTListener) Accept() (gatt.Bearer, error) {
	nfd, sa, err := unix.Accept4(l.fd, unix.SOCK_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "accept att")
	}
	return &attSocket{fd: nfd, local: localMAC(nfd), remote: sockaddrMAC(sa)}, nil
}

// Close stops the listener. A blocked Accept returns an error.
func (l *ATTListener) Close() error {
	l.closeOnce.Do(func() {
		unix.Shutdown(l.fd, unix.SHUT_RDWR)
		l.err = unix.Close(l.fd)
	})
	return l.err
}

// Addr returns the address of the local adapter, when known.
func (l *ATTListener) Addr() net.Addr { return gatt.BDAddr{HardwareAddr: l.addr} }

// DialATT opens an ATT bearer to the peripheral at addr, whose GAP address
// type is addrType. The kernel creates the LE connection, so the HCI device
// must not be held exclusively.
func DialATT(addr net.HardwareAddr, addrType uint8) (gatt.Bearer, error) {
	if len(addr) != 6 {
		return nil, errors.Errorf("invalid address %v", addr)
	}
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, unix.BTPROTO_L2CAP)
	if err != nil {
		return nil, errors.Wrap(err, "l2cap socket")
	}
	if err := unix.Bind(fd, &unix.SockaddrL2{CID: attCID, AddrType: addrLEPublic}); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "bind att channel")
	}
	// SockaddrL2.Addr is given in display order.
	sa := &unix.SockaddrL2{CID: attCID, AddrType: l2addrType(addrType)}
	copy(sa.Addr[:], addr)
	if err := unix.Connect(fd, sa); err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "connect %v", addr)
	}
	remote := append(net.HardwareAddr(nil), addr...)
	return &attSocket{fd: fd, local: localMAC(fd), remote: remote}, nil
}
