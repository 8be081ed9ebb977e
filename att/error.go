package att

import "fmt"

// Error is the result code carried in an Error Response [Vol 3, Part F, 3.4.1.1].
type Error byte

// Result codes. ErrSuccess is never sent on the wire; handlers use it to
// report that an operation completed.
const (
	ErrSuccess           Error = 0x00 // ErrSuccess means the operation succeeded.
	ErrInvalidHandle     Error = 0x01 // ErrInvalidHandle means the attribute handle given was not valid on this server.
	ErrReadNotPerm       Error = 0x02 // ErrReadNotPerm means the attribute cannot be read.
	ErrWriteNotPerm      Error = 0x03 // ErrWriteNotPerm means the attribute cannot be written.
	ErrInvalidPDU        Error = 0x04 // ErrInvalidPDU means the attribute PDU was invalid.
	ErrAuthentication    Error = 0x05 // ErrAuthentication means the attribute requires authentication before it can be read or written.
	ErrReqNotSupp        Error = 0x06 // ErrReqNotSupp means the attribute server does not support the request received from the client.
	ErrInvalidOffset     Error = 0x07 // ErrInvalidOffset means the specified offset was past the end of the attribute.
	ErrAuthorization     Error = 0x08 // ErrAuthorization means the attribute requires authorization before it can be read or written.
	ErrPrepQueueFull     Error = 0x09 // ErrPrepQueueFull means too many prepare writes have been queued.
	ErrAttrNotFound      Error = 0x0a // ErrAttrNotFound means no attribute found within the given attribute handle range.
	ErrAttrNotLong       Error = 0x0b // ErrAttrNotLong means the attribute cannot be read or written using the Read Blob Request.
	ErrInsuffEncrKeySize Error = 0x0c // ErrInsuffEncrKeySize means the Encryption Key Size used for encrypting this link is insufficient.
	ErrInvalAttrValueLen Error = 0x0d // ErrInvalAttrValueLen means the attribute value length is invalid for the operation.
	ErrUnlikely          Error = 0x0e // ErrUnlikely means the request has encountered an error that was unlikely.
	ErrInsuffEnc         Error = 0x0f // ErrInsuffEnc means the attribute requires encryption before it can be read or written.
	ErrUnsuppGrpType     Error = 0x10 // ErrUnsuppGrpType means the attribute type is not a supported grouping attribute.
	ErrInsuffResources   Error = 0x11 // ErrInsuffResources means insufficient resources to complete the request.
)

var errName = map[Error]string{
	ErrSuccess:           "success",
	ErrInvalidHandle:     "invalid handle",
	ErrReadNotPerm:       "read not permitted",
	ErrWriteNotPerm:      "write not permitted",
	ErrInvalidPDU:        "invalid PDU",
	ErrAuthentication:    "insufficient authentication",
	ErrReqNotSupp:        "request not supported",
	ErrInvalidOffset:     "invalid offset",
	ErrAuthorization:     "insufficient authorization",
	ErrPrepQueueFull:     "prepare queue full",
	ErrAttrNotFound:      "attribute not found",
	ErrAttrNotLong:       "attribute not long",
	ErrInsuffEncrKeySize: "insufficient encryption key size",
	ErrInvalAttrValueLen: "invalid attribute value length",
	ErrUnlikely:          "unlikely error",
	ErrInsuffEnc:         "insufficient encryption",
	ErrUnsuppGrpType:     "unsupported group type",
	ErrInsuffResources:   "insufficient resources",
}

func (e Error) Error() string {
	if s, ok := errName[e]; ok {
		return "att: " + s
	}
	if e.IsApplication() {
		return fmt.Sprintf("att: application error 0x%02X", byte(e))
	}
	return fmt.Sprintf("att: reserved error 0x%02X", byte(e))
}

// IsApplication reports whether e lies in the range reserved for
// application-defined result codes.
func (e Error) IsApplication() bool { return e >= 0x80 && e <= 0x9f }

// ErrorResponse builds the Error Response sent for request op on handle h.
func ErrorResponse(op byte, h uint16, e Error) []byte {
	// little-endian encoding for handle
	return []byte{OpError, op, byte(h), byte(h >> 8), byte(e)}
}
