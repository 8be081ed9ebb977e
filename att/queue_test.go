package att

import (
	"bytes"
	"testing"
)

func TestPrepareQueue(t *testing.T) {
	q := NewPrepareQueue(2)
	v := []byte("ab")
	if err := q.Push(3, 0, v); err != nil {
		t.Fatalf("Push: %v", err)
	}
	v[0] = 'x' // queued value must be a copy
	if err := q.Push(3, 2, []byte("cd")); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := q.Push(3, 4, []byte("ef")); err != ErrPrepQueueFull {
		t.Fatalf("Push on full queue: got %v want %v", err, ErrPrepQueueFull)
	}
	if q.Len() != 2 {
		t.Fatalf("Len: got %d want 2", q.Len())
	}

	w := q.Drain()
	if len(w) != 2 || q.Len() != 0 {
		t.Fatalf("Drain: got %d writes, %d left", len(w), q.Len())
	}
	if !bytes.Equal(w[0].Value, []byte("ab")) || w[1].Offset != 2 {
		t.Errorf("Drain order: got %+v", w)
	}

	q.Push(1, 0, nil)
	q.Reset()
	if q.Len() != 0 {
		t.Errorf("Reset: %d writes left", q.Len())
	}
}

func TestNewPrepareQueueDefault(t *testing.T) {
	q := NewPrepareQueue(0)
	for i := 0; i < PrepareQueueSize; i++ {
		if err := q.Push(1, uint16(i), []byte{byte(i)}); err != nil {
			t.Fatalf("Push %d: %v", i, err)
		}
	}
	if err := q.Push(1, 0, nil); err != ErrPrepQueueFull {
		t.Errorf("Push past PrepareQueueSize: got %v", err)
	}
}
