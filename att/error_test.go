package att

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
)

func TestErrorResponse(t *testing.T) {
	got := ErrorResponse(OpReadReq, 0x1234, ErrReadNotPerm)
	want := []byte{0x01, 0x0a, 0x34, 0x12, 0x02}
	if !bytes.Equal(got, want) {
		t.Errorf("ErrorResponse: got % X want % X", got, want)
	}
}

func TestErrorString(t *testing.T) {
	cases := []struct {
		err  Error
		want string
	}{
		{ErrInvalidHandle, "att: invalid handle"},
		{ErrPrepQueueFull, "att: prepare queue full"},
		{Error(0x80), "att: application error 0x80"},
		{Error(0x42), "att: reserved error 0x42"},
	}
	for _, tt := range cases {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error(0x%02X): got %q want %q", byte(tt.err), got, tt.want)
		}
	}
}

func TestRespFor(t *testing.T) {
	if r, ok := RespFor(OpReadByGroupReq); !ok || r != OpReadByGroupResp {
		t.Errorf("RespFor(ReadByGroupReq): got 0x%02X, %v", r, ok)
	}
	if _, ok := RespFor(OpWriteCmd); ok {
		t.Errorf("RespFor(WriteCmd) should not have a response")
	}
	if !IsCommand(OpWriteCmd) || !IsCommand(OpSignedWriteCmd) || IsCommand(OpWriteReq) {
		t.Errorf("IsCommand mismatch")
	}
}

func TestSentinelCause(t *testing.T) {
	for _, err := range []error{ErrInvalidArgument, ErrInvalidResponse, ErrSeqProtoTimeout} {
		wrapped := errors.Wrap(err, "read 0x0003")
		if got := errors.Cause(wrapped); got != err {
			t.Errorf("Cause(%v): got %v want %v", wrapped, got, err)
		}
		if got, want := wrapped.Error(), "read 0x0003: "+err.Error(); got != want {
			t.Errorf("got %q want %q", got, want)
		}
	}
}
