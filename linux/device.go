//go:build linux
// +build linux

package linux

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// HCI channels of a Bluetooth HCI socket.
const (
	hciChannelRaw  = 0
	hciChannelUser = 1
)

// Socket options of raw HCI sockets.
const (
	solHCI    = 0
	hciFilter = 2
)

// pollInterval bounds how long Close waits for a blocked Read.
const pollInterval = 100 // ms

// device is an HCI socket. Reads and writes carry one H4 packet each.
type device struct {
	fd  int
	dev int
	rmu sync.Mutex
	wmu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

// OpenHCI opens the HCI device with index dev. An exclusive device is bound
// to the user channel, which detaches it from the kernel; kernels without
// user channel support fall back to the raw channel. A shared device always
// uses the raw channel, leaving L2CAP sockets usable next to it.
func OpenHCI(dev int, exclusive bool, opts ...Option) (*HCI, error) {
	d, err := openDevice(dev, exclusive)
	if err != nil {
		return nil, err
	}
	return NewHCI(d, opts...), nil
}

func openDevice(dev int, exclusive bool) (*device, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.BTPROTO_HCI)
	if err != nil {
		return nil, errors.Wrap(err, "hci socket")
	}

	ch := hciChannelRaw
	if exclusive {
		// attempt to use the linux 3.14 feature, if this fails with EINVAL fall back to raw access
		// on older kernels
		ch = hciChannelUser
		err = unix.Bind(fd, &unix.SockaddrHCI{Dev: uint16(dev), Channel: hciChannelUser})
		if err == unix.EINVAL {
			ch = hciChannelRaw
		}
	}
	if ch == hciChannelRaw {
		err = unix.Bind(fd, &unix.SockaddrHCI{Dev: uint16(dev), Channel: hciChannelRaw})
	}
	if err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "bind hci%d", dev)
	}
	if ch == hciChannelRaw {
		if err := setEventFilter(fd); err != nil {
			unix.Close(fd)
			return nil, err
		}
	}
	return &device{fd: fd, dev: dev, closed: make(chan struct{})}, nil
}

// setEventFilter lets every event through a raw socket. The filter is
// struct hci_filter: a packet type mask, two event mask words and an opcode.
func setEventFilter(fd int) error {
	f := make([]byte, 16)
	o.PutUint32(f[0:], 1<<uint(typEventPkt))
	o.PutUint32(f[4:], 0xFFFFFFFF)
	o.PutUint32(f[8:], 0xFFFFFFFF)
	if err := unix.SetsockoptString(fd, solHCI, hciFilter, string(f[:14])); err != nil {
		return errors.Wrap(err, "set hci filter")
	}
	return nil
}

// Read polls, so that Close can stop a pending Read before the
// descriptor is released.
func (d *device) Read(b []byte) (int, error) {
	d.rmu.Lock()
	defer d.rmu.Unlock()
	fds := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLIN}}
	for {
		select {
		case <-d.closed:
			return 0, os.ErrClosed
		default:
		}
		n, err := unix.Poll(fds, pollInterval)
		if err == unix.EINTR || n == 0 {
			continue
		}
		if err != nil {
			return 0, err
		}
		return unix.Read(d.fd, b)
	}
}

func (d *device) Write(b []byte) (int, error) {
	d.wmu.Lock()
	defer d.wmu.Unlock()
	return unix.Write(d.fd, b)
}

func (d *device) Close() error {
	err := os.ErrClosed
	d.closeOnce.Do(func() {
		close(d.closed)
		d.rmu.Lock()
		d.wmu.Lock()
		err = unix.Close(d.fd)
		d.wmu.Unlock()
		d.rmu.Unlock()
	})
	return err
}
