// Package att holds the Attribute Protocol constants shared by the GATT
// server and client: opcodes, request PDU lengths, result codes and the
// prepared-write queue.
package att

import "github.com/pkg/errors"

// Attribute opcodes [Vol 3, Part F, 3.4.8].
const (
	OpError           = 0x01
	OpMTUReq          = 0x02
	OpMTUResp         = 0x03
	OpFindInfoReq     = 0x04
	OpFindInfoResp    = 0x05
	OpFindByTypeReq   = 0x06
	OpFindByTypeResp  = 0x07
	OpReadByTypeReq   = 0x08
	OpReadByTypeResp  = 0x09
	OpReadReq         = 0x0a
	OpReadResp        = 0x0b
	OpReadBlobReq     = 0x0c
	OpReadBlobResp    = 0x0d
	OpReadMultiReq    = 0x0e
	OpReadMultiResp   = 0x0f
	OpReadByGroupReq  = 0x10
	OpReadByGroupResp = 0x11
	OpWriteReq        = 0x12
	OpWriteResp       = 0x13
	OpPrepWriteReq    = 0x16
	OpPrepWriteResp   = 0x17
	OpExecWriteReq    = 0x18
	OpExecWriteResp   = 0x19
	OpHandleNotify    = 0x1b
	OpHandleInd       = 0x1d
	OpHandleCnf       = 0x1e
	OpWriteCmd        = 0x52
	OpSignedWriteCmd  = 0xd2
)

// DefaultMTU is the ATT_MTU in effect until an MTU exchange completes.
const DefaultMTU = 23

// MaxMTU is the largest ATT_MTU this stack negotiates: a 512-octet attribute
// value [Vol 3, Part F, 3.2.9] plus the 5-octet Prepare Write header.
// Receive buffers are allocated with this size.
const MaxMTU = 512 + 5

// MaxAttrLen is the maximum length of an attribute value.
const MaxAttrLen = 512

var (
	// ErrInvalidArgument means one or more of the arguments are invalid.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidResponse means one or more of the response fields are invalid.
	ErrInvalidResponse = errors.New("invalid response")

	// ErrSeqProtoTimeout means the request hasn't been acknowledged in 30 seconds.
	// [Vol 3, Part F, 3.3.3]
	ErrSeqProtoTimeout = errors.New("req timeout")
)

// respFor maps from att request
// codes to att response codes.
var respFor = map[byte]byte{
	OpMTUReq:         OpMTUResp,
	OpFindInfoReq:    OpFindInfoResp,
	OpFindByTypeReq:  OpFindByTypeResp,
	OpReadByTypeReq:  OpReadByTypeResp,
	OpReadReq:        OpReadResp,
	OpReadBlobReq:    OpReadBlobResp,
	OpReadMultiReq:   OpReadMultiResp,
	OpReadByGroupReq: OpReadByGroupResp,
	OpWriteReq:       OpWriteResp,
	OpPrepWriteReq:   OpPrepWriteResp,
	OpExecWriteReq:   OpExecWriteResp,
}

// RespFor returns the response opcode for request op.
func RespFor(op byte) (byte, bool) {
	r, ok := respFor[op]
	return r, ok
}

// IsCommand reports whether op has the command flag set.
// Commands never get a response, not even an error.
func IsCommand(op byte) bool { return op&0x40 != 0 }
