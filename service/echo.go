package service

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	gatt "github.com/XC-/applgatt"
	"github.com/XC-/applgatt/att"
)

// UUIDs of the echo service.
var (
	EchoUUID      = gatt.MustParseUUID("7a3e0c10-5b2f-4d0e-9a61-3c8f0e2b6d41")
	EchoValueUUID = gatt.MustParseUUID("7a3e0c11-5b2f-4d0e-9a61-3c8f0e2b6d41")
)

// maxEchoLen is the longest value the echo characteristic holds
// [Vol 3, Part F, 3.2.9].
const maxEchoLen = 512

type echo struct {
	log logrus.FieldLogger

	mu    sync.Mutex
	value []byte
	subs  map[gatt.Notifier]struct{}
}

// Echo returns a service with a single characteristic. Writes store the
// value, reads return it, and subscribers are notified of every write.
// Writes are logged at debug level to log.
func Echo(log logrus.FieldLogger) *gatt.Service {
	e := &echo{
		log:  log.WithField("service", "echo"),
		subs: make(map[gatt.Notifier]struct{}),
	}
	s := gatt.NewService(EchoUUID)
	c := s.AddCharacteristic(EchoValueUUID)
	c.HandleReadFunc(e.serveRead)
	c.HandleWriteFunc(e.serveWrite)
	c.HandleNotifyFunc(e.serveNotify)
	c.AddDescriptor(userDescriptionUUID).SetValue([]byte("Echo"))
	return s
}

func (e *echo) serveRead(resp gatt.ReadResponseWriter, req *gatt.ReadRequest) {
	e.mu.Lock()
	v := e.value
	e.mu.Unlock()
	if req.Offset > len(v) {
		resp.SetStatus(gatt.StatusInvalidOffset)
		return
	}
	resp.Write(v[req.Offset:])
}

func (e *echo) serveWrite(r gatt.Request, data []byte) att.Error {
	if r.Offset+len(data) > maxEchoLen {
		return att.ErrInvalAttrValueLen
	}
	e.mu.Lock()
	v := append(append([]byte(nil), e.value[:min(r.Offset, len(e.value))]...), data...)
	e.value = v
	subs := make([]gatt.Notifier, 0, len(e.subs))
	for n := range e.subs {
		subs = append(subs, n)
	}
	e.mu.Unlock()

	e.log.WithField("conn", r.Conn.RemoteAddr()).Debugf("echo: %q", v)
	for _, n := range subs {
		b := v
		if len(b) > n.Cap() {
			b = b[:n.Cap()]
		}
		if _, err := n.Write(b); err != nil {
			e.log.WithError(err).Debug("echo: notify")
		}
	}
	return att.ErrSuccess
}

func (e *echo) serveNotify(r gatt.Request, n gatt.Notifier) {
	e.mu.Lock()
	e.subs[n] = struct{}{}
	e.mu.Unlock()
	for !n.Done() {
		time.Sleep(pollInterval)
	}
	e.mu.Lock()
	delete(e.subs, n)
	e.mu.Unlock()
}
