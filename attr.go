package gatt

import (
	"encoding/binary"

	"github.com/XC-/applgatt/gap"
)

// attr is a BLE attribute. It is not exported;
// managing attributes is an implementation detail.
type attr struct {
	h     uint16   // attribute handle
	endh  uint16   // last handle of the group, for service declarations
	typ   UUID     // attribute type
	value []byte   // static value; nil values are served by the handlers of pvt
	props Property // access permissions
	pvt   interface{}
}

// isGroup reports whether a is a service declaration.
func (a attr) isGroup() bool {
	return a.typ.Equal(attrPrimaryServiceUUID) || a.typ.Equal(attrSecondaryServiceUUID)
}

// generateAttrs lays out svcs, in order, from handle base onwards. It sets the
// handles of every service, characteristic and descriptor it visits.
func generateAttrs(svcs []*Service, base uint16) *attrRange {
	var aa []attr
	h := base
	for _, s := range svcs {
		s.h = h
		aa = append(aa, attr{
			h:     h,
			typ:   attrPrimaryServiceUUID,
			value: s.uuid.Bytes(),
			props: CharRead,
			pvt:   s,
		})
		svcIdx := len(aa) - 1

		for _, c := range s.chars {
			c.svc = s
			c.h, c.vh = h+1, h+2
			h += 2

			aa = append(aa, attr{
				h:     c.h,
				typ:   attrCharacteristicUUID,
				value: charDecl(c),
				props: CharRead,
				pvt:   c,
			})
			aa = append(aa, attr{
				h:     c.vh,
				typ:   c.uuid,
				value: c.value,
				props: c.props,
				pvt:   c,
			})

			if c.props&(CharNotify|CharIndicate) != 0 {
				h++
				c.cccd = &Descriptor{
					uuid:  attrClientCharacteristicConfigUUID,
					props: CharRead | CharWrite | CharWriteNR,
					h:     h,
					char:  c,
				}
				aa = append(aa, attr{
					h:     h,
					typ:   attrClientCharacteristicConfigUUID,
					props: c.cccd.props,
					pvt:   c.cccd,
				})
			}

			for _, d := range c.descs {
				h++
				d.h = h
				d.char = c
				aa = append(aa, attr{
					h:     h,
					typ:   d.uuid,
					value: d.value,
					props: d.props,
					pvt:   d,
				})
			}
			c.endh = h
		}

		s.endh = h
		aa[svcIdx].endh = h
		h++
	}
	return &attrRange{aa: aa, base: base}
}

// charDecl builds the value of a characteristic declaration:
// properties, value handle and characteristic UUID.
func charDecl(c *Characteristic) []byte {
	b := make([]byte, 3, 3+c.uuid.Len())
	b[0] = byte(c.props)
	binary.LittleEndian.PutUint16(b[1:], c.vh)
	return append(b, c.uuid.Bytes()...)
}

// defaultServices returns the Generic Access and Generic Attribute services.
func defaultServices(name string, appearance uint16, cp gap.ConnParams) []*Service {
	gapService := NewService(attrGAPUUID)
	gapService.AddCharacteristic(attrDeviceNameUUID).SetValue([]byte(name))
	app := make([]byte, 2)
	binary.LittleEndian.PutUint16(app, appearance)
	gapService.AddCharacteristic(attrAppearanceUUID).SetValue(app)
	gapService.AddCharacteristic(attrPreferredParamsUUID).SetValue(cp.PreferredParams())

	gattService := NewService(attrGATTUUID)
	sc := gattService.AddCharacteristic(attrServiceChangedUUID)
	sc.props = CharIndicate

	return []*Service{gapService, gattService}
}

// An attrRange is a contiguous range of attributes.
type attrRange struct {
	aa   []attr
	base uint16 // handle for first attr in aa
}

const (
	tooSmall = -1
	tooLarge = -2
)

// idx returns the index into aa corresponding to attr a.
// If h is too small, idx returns tooSmall (-1).
// If h is too large, idx returns tooLarge (-2).
func (r *attrRange) idx(h int) int {
	if h < int(r.base) {
		return tooSmall
	}
	if int(h) >= int(r.base)+len(r.aa) {
		return tooLarge
	}
	return h - int(r.base)
}

// At returns attr a.
func (r *attrRange) At(h uint16) (a attr, ok bool) {
	i := r.idx(int(h))
	if i < 0 {
		return attr{}, false
	}
	return r.aa[i], true
}

// Subrange returns attributes in range [start, end]; it may
// return an empty slice. Subrange does not panic for
// out-of-range start or end.
func (r *attrRange) Subrange(start, end uint16) []attr {
	startidx := r.idx(int(start))
	switch startidx {
	case tooSmall:
		startidx = 0
	case tooLarge:
		return []attr{}
	}

	endidx := r.idx(int(end) + 1) // [start, end] includes its upper bound!
	switch endidx {
	case tooSmall:
		return []attr{}
	case tooLarge:
		endidx = len(r.aa)
	}
	if startidx > endidx {
		return []attr{}
	}
	return r.aa[startidx:endidx]
}
