package gatt

import (
	"bytes"
	"testing"

	"github.com/XC-/applgatt/att"
	"github.com/XC-/applgatt/gap"
)

// handles returns the handles of aa.
func handles(aa []attr) []uint16 {
	hh := []uint16{}
	for _, a := range aa {
		hh = append(hh, a.h)
	}
	return hh
}

func equalHandles(a, b []uint16) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func testRange(base uint16, n int) *attrRange {
	r := &attrRange{aa: make([]attr, n), base: base}
	for i := range r.aa {
		r.aa[i].h = base + uint16(i)
	}
	return r
}

func TestAttrRangeAt(t *testing.T) {
	r := testRange(4, 3)
	for _, h := range []uint16{0, 3, 7, 0xFFFF} {
		if _, ok := r.At(h); ok {
			t.Errorf("At(%d): found an attribute outside [4, 6]", h)
		}
	}
	for _, h := range []uint16{4, 5, 6} {
		a, ok := r.At(h)
		if !ok || a.h != h {
			t.Errorf("At(%d) = %d, %v", h, a.h, ok)
		}
	}
}

func TestAttrRangeSubrange(t *testing.T) {
	r := testRange(4, 3)
	for _, tt := range []struct {
		start, end uint16
		want       []uint16
	}{
		{0, 3, []uint16{}},
		{0, 4, []uint16{4}},
		{1, 0xFFFF, []uint16{4, 5, 6}},
		{4, 5, []uint16{4, 5}},
		{5, 5, []uint16{5}},
		{6, 100, []uint16{6}},
		{7, 100, []uint16{}},
		{6, 5, []uint16{}},
		{0xFFFF, 0xFFFF, []uint16{}},
	} {
		if got := handles(r.Subrange(tt.start, tt.end)); !equalHandles(got, tt.want) {
			t.Errorf("Subrange(%d, %d) = %v, want %v", tt.start, tt.end, got, tt.want)
		}
	}
}

func TestGenerateAttrs(t *testing.T) {
	s := NewService(UUID16(0x180F))
	c := s.AddCharacteristic(UUID16(0x2A19))
	c.SetValue([]byte{99})
	c.HandleNotifyFunc(func(r Request, n Notifier) {})
	c.AddDescriptor(UUID16(0x2901)).SetValue([]byte("level"))
	w := s.AddCharacteristic(UUID16(0xFFF2))
	w.HandleWriteFunc(func(r Request, b []byte) att.Error { return StatusSuccess })

	cp, _ := gap.Conn(gap.PresetDefault)
	svcs := append(defaultServices("gopher", 0, cp), s)
	r := generateAttrs(svcs, 1)

	if got, want := len(r.aa), 7+4+7; got != want {
		t.Fatalf("%d attributes, want %d", got, want)
	}
	if s.Handle() != 12 || s.EndHandle() != 18 {
		t.Errorf("service spans [%d, %d], want [12, 18]", s.Handle(), s.EndHandle())
	}
	if c.Handle() != 13 || c.ValueHandle() != 14 || c.cccd.h != 15 || c.EndHandle() != 16 {
		t.Errorf("characteristic handles %d %d %d %d, want 13 14 15 16", c.Handle(), c.ValueHandle(), c.cccd.h, c.EndHandle())
	}
	if w.cccd != nil {
		t.Error("write-only characteristic has a CCCD")
	}

	decl, _ := r.At(13)
	want := []byte{byte(CharRead | CharNotify), 14, 0, 0x19, 0x2A}
	if !bytes.Equal(decl.value, want) {
		t.Errorf("declaration value % X, want % X", decl.value, want)
	}
	grp, _ := r.At(12)
	if !grp.isGroup() || grp.endh != 18 {
		t.Errorf("service declaration group end %d, want 18", grp.endh)
	}
	if sc, _ := r.At(11); !sc.typ.Equal(attrClientCharacteristicConfigUUID) {
		t.Errorf("handle 11 is %v, want the Service Changed CCCD", sc.typ)
	}
}
