package gatt

import (
	"bytes"
	"testing"
)

func TestAppendField(t *testing.T) {
	a := (&AdvPacket{}).AppendField(typeTxPower, []byte{0x04})
	if want := []byte{0x02, typeTxPower, 0x04}; !bytes.Equal(a.b, want) {
		t.Errorf("AppendField: got %x want %x", a.b, want)
	}

	// A field that does not fit is dropped.
	a = (&AdvPacket{make([]byte, 28)}).AppendField(typeTxPower, []byte{0x04, 0x05})
	if a.Len() != 28 {
		t.Errorf("AppendField past 31 bytes: got len %d want 28", a.Len())
	}
}

func TestAppendFlags(t *testing.T) {
	a := (&AdvPacket{}).AppendFlags(flagGeneralDiscoverable | flagLEOnly)
	if want := []byte{0x02, typeFlags, 0x06}; !bytes.Equal(a.b, want) {
		t.Errorf("AppendFlags: got %x want %x", a.b, want)
	}
}

func TestAppendName(t *testing.T) {
	cases := []struct {
		curr      []byte
		name      string
		wantBytes []byte
		wantLen   int
	}{
		{
			curr:      []byte{},
			name:      "ABCDE",
			wantBytes: []byte{0x06, typeCompleteName, 'A', 'B', 'C', 'D', 'E'},
			wantLen:   7,
		},
		{
			curr:      []byte("111111111122222222223333"),
			name:      "ABCDE",
			wantBytes: append([]byte("111111111122222222223333"), []byte{0x06, typeCompleteName, 'A', 'B', 'C', 'D', 'E'}...),
			wantLen:   31,
		},
		{
			curr:      []byte("1111111111222222222233333"),
			name:      "ABCDE",
			wantBytes: append([]byte("1111111111222222222233333"), []byte{0x05, typeShortName, 'A', 'B', 'C', 'D'}...),
			wantLen:   31,
		},
		{
			curr:      []byte("111111111122222222223333333333"),
			name:      "ABCDE",
			wantBytes: []byte("111111111122222222223333333333"),
			wantLen:   30,
		},
	}
	for _, tt := range cases {
		a := (&AdvPacket{tt.curr}).AppendName(tt.name)
		wantBytes := [31]byte{}
		copy(wantBytes[:], tt.wantBytes)
		if a.Bytes() != wantBytes {
			t.Errorf("%q a.AppendName(%q) got %x want %x", tt.curr, tt.name, a.Bytes(), tt.wantBytes)
		}
		if a.Len() != tt.wantLen {
			t.Errorf("%q a.AppendName(%q) got %d want %d", tt.curr, tt.name, a.Len(), tt.wantLen)
		}
	}
}

func TestAppendManufacturerData(t *testing.T) {
	a := (&AdvPacket{}).AppendManufacturerData(0x004C, []byte{0x02, 0x15})
	if want := []byte{0x05, typeManufacturerData, 0x4C, 0x00, 0x02, 0x15}; !bytes.Equal(a.b, want) {
		t.Errorf("AppendManufacturerData: got %x want %x", a.b, want)
	}
}

func TestAppendUUIDFit(t *testing.T) {
	cases := []struct {
		uu   []UUID
		want []byte
		fit  bool
	}{
		{
			uu:   []UUID{UUID16(0xFAFE)},
			want: []byte{0x02, 0x01, 0x06, 0x03, 0x02, 0xfe, 0xfa},
			fit:  true,
		},
		{
			uu:   []UUID{attrGAPUUID, UUID16(0xFAFE), attrGATTUUID},
			want: []byte{0x02, 0x01, 0x06, 0x03, 0x02, 0xfe, 0xfa},
			fit:  true,
		},
		{
			uu: []UUID{
				MustParseUUID("ABABABABABABABABABABABABABABABAB"),
				MustParseUUID("CDCDCDCDCDCDCDCDCDCDCDCDCDCDCDCD"),
				UUID16(0xFAFE),
			},
			want: append([]byte{0x02, 0x01, 0x06, 0x11, 0x06},
				append(bytes.Repeat([]byte{0xab}, 16), 0x03, 0x02, 0xfe, 0xfa)...),
			fit: false,
		},
	}

	for _, tt := range cases {
		a := (&AdvPacket{}).AppendFlags(flagGeneralDiscoverable | flagLEOnly)
		if fit := a.AppendUUIDFit(tt.uu); fit != tt.fit {
			t.Errorf("AppendUUIDFit(%v): fit got %t want %t", tt.uu, fit, tt.fit)
		}
		if !bytes.Equal(a.b, tt.want) {
			t.Errorf("AppendUUIDFit(%v): got %x want %x", tt.uu, a.b, tt.want)
		}
	}
}
