package gatt

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrNotifierDone is returned by Notifier.Write once the central has
// unsubscribed or disconnected.
var ErrNotifierDone = errors.New("central stopped notifications")

type notifier struct {
	conn     *conn
	char     *Characteristic
	indicate bool
	donemu   sync.RWMutex
	done     bool
}

func newNotifier(c *conn, cc *Characteristic, indicate bool) *notifier {
	return &notifier{conn: c, char: cc, indicate: indicate}
}

func (n *notifier) Write(data []byte) (int, error) {
	if n.Done() {
		return 0, ErrNotifierDone
	}
	if n.indicate {
		return n.conn.sendIndication(n.char.vh, data)
	}
	return n.conn.sendNotification(n.char.vh, data)
}

// Cap follows the MTU of the connection, which may change after the
// central subscribes.
func (n *notifier) Cap() int {
	return n.conn.MTU() - 3
}

func (n *notifier) Done() bool {
	n.donemu.RLock()
	done := n.done
	n.donemu.RUnlock()
	return done
}

func (n *notifier) stop() {
	n.donemu.Lock()
	n.done = true
	n.donemu.Unlock()
}
