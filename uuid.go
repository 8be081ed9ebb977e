package gatt

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// A UUID is a BLE UUID, stored in the little-endian order used on the wire.
type UUID struct {
	// Hide the bytes, so that we can enforce that they have length 2 or 16,
	// and that they are immutable. This simplifies the code and API.
	b []byte
}

// UUID16 converts a uint16 (such as 0x1800) to a UUID.
func UUID16(i uint16) UUID {
	return UUID{[]byte{byte(i), byte(i >> 8)}}
}

// ParseUUID parses a standard-format UUID string, such
// as "1800" or "34DA3AD1-7110-41A1-B1EF-4430F509CDE7".
func ParseUUID(s string) (UUID, error) {
	if len(s) == 4 {
		b, err := hex.DecodeString(s)
		if err != nil {
			return UUID{}, err
		}
		return UUID{reverse(b)}, nil
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return UUID{}, fmt.Errorf("invalid UUID %q: %v", s, err)
	}
	return UUID{reverse(u[:])}, nil
}

// MustParseUUID parses a standard-format UUID string,
// like ParseUUID, but panics in case of error.
func MustParseUUID(s string) UUID {
	u, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// uuidFromLE builds a UUID from wire bytes. It copies b.
func uuidFromLE(b []byte) (UUID, error) {
	switch len(b) {
	case 2, 16:
		return UUID{append([]byte(nil), b...)}, nil
	}
	return UUID{}, errors.Errorf("UUIDs must have length 2 or 16, got %d", len(b))
}

// Len returns the length of the UUID, in bytes.
// BLE UUIDs are either 2 or 16 bytes.
func (u UUID) Len() int {
	return len(u.b)
}

// Bytes returns a copy of the UUID in wire (little-endian) order.
func (u UUID) Bytes() []byte {
	return append([]byte(nil), u.b...)
}

// String hex-encodes a UUID. 128-bit UUIDs use the dashed form.
func (u UUID) String() string {
	if len(u.b) == 16 {
		var v uuid.UUID
		copy(v[:], reverse(u.b))
		return v.String()
	}
	return fmt.Sprintf("%x", reverse(u.b))
}

// Equal returns a boolean reporting whether v represent the same UUID as u.
func (u UUID) Equal(v UUID) bool {
	return bytes.Equal(u.b, v.b)
}

// uuidContains reports whether u is in s. A nil s matches everything.
func uuidContains(s []UUID, u UUID) bool {
	if s == nil {
		return true
	}
	for _, a := range s {
		if a.Equal(u) {
			return true
		}
	}
	return false
}

// reverse returns a reversed copy of u.
func reverse(u []byte) []byte {
	// Special-case 16 bit UUIDS for speed.
	l := len(u)
	if l == 2 {
		return []byte{u[1], u[0]}
	}
	b := make([]byte, l)
	for i := 0; i < l/2+1 && i < l; i++ {
		b[i], b[l-i-1] = u[l-i-1], u[i]
	}
	return b
}

var knownUUID = map[string]string{
	"1800": "Generic Access",
	"1801": "Generic Attribute",
	"180a": "Device Information",
	"180f": "Battery Service",
	"2800": "Primary Service",
	"2801": "Secondary Service",
	"2802": "Include",
	"2803": "Characteristic",
	"2901": "Characteristic User Description",
	"2902": "Client Characteristic Configuration",
	"2a00": "Device Name",
	"2a01": "Appearance",
	"2a04": "Peripheral Preferred Connection Parameters",
	"2a05": "Service Changed",
	"2a19": "Battery Level",
	"2a24": "Model Number String",
	"2a26": "Firmware Revision String",
	"2a29": "Manufacturer Name String",
}

// Name returns the assigned name of u, or the empty string.
func (u UUID) Name() string { return knownUUID[u.String()] }
