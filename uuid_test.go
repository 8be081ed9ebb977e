package gatt

import (
	"bytes"
	"testing"
)

func TestUUID16(t *testing.T) {
	if want, got := (UUID{[]byte{0x00, 0x18}}), UUID16(0x1800); !got.Equal(want) {
		t.Errorf("UUID16: got %x, want %x", got, want)
	}
}

func TestParseUUID(t *testing.T) {
	cases := []struct {
		s    string
		want []byte // wire order
		str  string
	}{
		{s: "1800", want: []byte{0x00, 0x18}, str: "1800"},
		{s: "2A19", want: []byte{0x19, 0x2a}, str: "2a19"},
		{
			s:    "34DA3AD1-7110-41A1-B1EF-4430F509CDE7",
			want: []byte{0xe7, 0xcd, 0x09, 0xf5, 0x30, 0x44, 0xef, 0xb1, 0xa1, 0x41, 0x10, 0x71, 0xd1, 0x3a, 0xda, 0x34},
			str:  "34da3ad1-7110-41a1-b1ef-4430f509cde7",
		},
		{
			s:    "34da3ad1711041a1b1ef4430f509cde7",
			want: []byte{0xe7, 0xcd, 0x09, 0xf5, 0x30, 0x44, 0xef, 0xb1, 0xa1, 0x41, 0x10, 0x71, 0xd1, 0x3a, 0xda, 0x34},
			str:  "34da3ad1-7110-41a1-b1ef-4430f509cde7",
		},
	}
	for _, tt := range cases {
		u, err := ParseUUID(tt.s)
		if err != nil {
			t.Errorf("ParseUUID(%q): %v", tt.s, err)
			continue
		}
		if !bytes.Equal(u.Bytes(), tt.want) {
			t.Errorf("ParseUUID(%q): got %x want %x", tt.s, u.Bytes(), tt.want)
		}
		if got := u.String(); got != tt.str {
			t.Errorf("ParseUUID(%q).String(): got %q want %q", tt.s, got, tt.str)
		}
	}

	for _, s := range []string{"", "18", "zzzz", "34da3ad1-7110"} {
		if _, err := ParseUUID(s); err == nil {
			t.Errorf("ParseUUID(%q) should fail", s)
		}
	}
}

func TestUUIDFromLE(t *testing.T) {
	b := []byte{0x0f, 0x18}
	u, err := uuidFromLE(b)
	if err != nil {
		t.Fatal(err)
	}
	b[0] = 0
	if !u.Equal(UUID16(0x180f)) {
		t.Errorf("got %v want 180f; the wire bytes must be copied", u)
	}
	for _, n := range []int{0, 1, 4, 17} {
		if _, err := uuidFromLE(make([]byte, n)); err == nil {
			t.Errorf("uuidFromLE accepted %d bytes", n)
		}
	}
}

func TestUUIDName(t *testing.T) {
	if got := UUID16(0x180F).Name(); got != "Battery Service" {
		t.Errorf("Name: got %q", got)
	}
	if got := UUID16(0xFFF0).Name(); got != "" {
		t.Errorf("Name of unknown uuid: got %q", got)
	}
}

func TestReverse(t *testing.T) {
	cases := []struct {
		fwd  []byte
		back []byte
	}{
		{fwd: []byte{0, 1}, back: []byte{1, 0}},
		{fwd: []byte{0, 1, 2}, back: []byte{2, 1, 0}},
		{fwd: []byte{0, 1, 2, 3}, back: []byte{3, 2, 1, 0}},
		{
			fwd:  []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15},
			back: []byte{15, 14, 13, 12, 11, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1, 0},
		},
	}

	for _, tt := range cases {
		got := reverse(tt.fwd)
		if !bytes.Equal(got, tt.back) {
			t.Errorf("reverse(%x): got %x want %x", tt.fwd, got, tt.back)
		}

		u := UUID{tt.fwd}
		got = reverse(u.b)
		if !bytes.Equal(got, tt.back) {
			t.Errorf("UUID.reverse(%x): got %x want %x", tt.fwd, got, tt.back)
		}
	}
}

func BenchmarkReverseBytes16(b *testing.B) {
	u := UUID{make([]byte, 2)}
	for i := 0; i < b.N; i++ {
		reverse(u.b)
	}
}

func BenchmarkReverseBytes128(b *testing.B) {
	u := UUID{make([]byte, 16)}
	for i := 0; i < b.N; i++ {
		reverse(u.b)
	}
}
