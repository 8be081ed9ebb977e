package att

// PrepareQueueSize bounds the number of Prepare Write Requests a server
// holds per connection before answering ErrPrepQueueFull.
const PrepareQueueSize = 16

// A PreparedWrite is one queued Prepare Write Request.
type PreparedWrite struct {
	Handle uint16
	Offset uint16
	Value  []byte
}

// A PrepareQueue holds prepared writes until they are executed or cancelled.
// It is not safe for concurrent use; each connection owns one.
type PrepareQueue struct {
	size  int
	items []PreparedWrite
}

// NewPrepareQueue returns a queue holding at most n writes.
// A non-positive n selects PrepareQueueSize.
func NewPrepareQueue(n int) *PrepareQueue {
	if n <= 0 {
		n = PrepareQueueSize
	}
	return &PrepareQueue{size: n, items: make([]PreparedWrite, 0, n)}
}

// Push queues a write. The value is copied.
func (q *PrepareQueue) Push(h, offset uint16, v []byte) error {
	if len(q.items) >= q.size {
		return ErrPrepQueueFull
	}
	q.items = append(q.items, PreparedWrite{
		Handle: h,
		Offset: offset,
		Value:  append([]byte(nil), v...),
	})
	return nil
}

// Len returns the number of queued writes.
func (q *PrepareQueue) Len() int { return len(q.items) }

// Drain returns the queued writes in arrival order and empties the queue.
func (q *PrepareQueue) Drain() []PreparedWrite {
	w := q.items
	q.items = make([]PreparedWrite, 0, q.size)
	return w
}

// Reset discards all queued writes.
func (q *PrepareQueue) Reset() { q.items = q.items[:0] }
