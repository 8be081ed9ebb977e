package att

// Request PDU lengths in octets, opcode included.
const (
	MTUReqLen            = 3
	FindInfoReqLen       = 5
	FindByTypeReqMinLen  = 7
	ReadByTypeReqLen16   = 7
	ReadByTypeReqLen128  = 21
	ReadReqLen           = 3
	ReadBlobReqLen       = 5
	ReadMultiReqMinLen   = 5
	ReadByGroupReqLen16  = 7
	ReadByGroupReqLen128 = 21
	WriteReqMinLen       = 3
	WriteCmdMinLen       = 3
	SignedWriteCmdMinLen = 15
	PrepWriteReqMinLen   = 5
	ExecWriteReqLen      = 2
	HandleCnfLen         = 1
)

// A lenRule is either a set of exact lengths or a minimum length.
type lenRule struct {
	exact []int
	min   int
}

var reqLen = map[byte]lenRule{
	OpMTUReq:         {exact: []int{MTUReqLen}},
	OpFindInfoReq:    {exact: []int{FindInfoReqLen}},
	OpFindByTypeReq:  {min: FindByTypeReqMinLen},
	OpReadByTypeReq:  {exact: []int{ReadByTypeReqLen16, ReadByTypeReqLen128}},
	OpReadReq:        {exact: []int{ReadReqLen}},
	OpReadBlobReq:    {exact: []int{ReadBlobReqLen}},
	OpReadMultiReq:   {min: ReadMultiReqMinLen},
	OpReadByGroupReq: {exact: []int{ReadByGroupReqLen16, ReadByGroupReqLen128}},
	OpWriteReq:       {min: WriteReqMinLen},
	OpWriteCmd:       {min: WriteCmdMinLen},
	OpSignedWriteCmd: {min: SignedWriteCmdMinLen},
	OpPrepWriteReq:   {min: PrepWriteReqMinLen},
	OpExecWriteReq:   {exact: []int{ExecWriteReqLen}},
	OpHandleCnf:      {exact: []int{HandleCnfLen}},
}

// CheckLen reports whether the length of the request pdu matches the size
// expected for its opcode. It returns ErrInvalidPDU on a length mismatch and
// ErrReqNotSupp for opcodes that are not client-to-server requests.
func CheckLen(pdu []byte) error {
	if len(pdu) == 0 {
		return ErrInvalidPDU
	}
	r, ok := reqLen[pdu[0]]
	if !ok {
		return ErrReqNotSupp
	}
	if r.min > 0 {
		if len(pdu) < r.min {
			return ErrInvalidPDU
		}
		return nil
	}
	for _, n := range r.exact {
		if len(pdu) == n {
			return nil
		}
	}
	return ErrInvalidPDU
}
