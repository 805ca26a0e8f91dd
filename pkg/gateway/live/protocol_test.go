package live

import (
	"bytes"
	"errors"
	"testing"

	"github.com/voxtutor/voxtutor/pkg/core"
	"github.com/voxtutor/voxtutor/pkg/core/types"
)

func TestFrameRoundTrip(t *testing.T) {
	in := types.AudioFrame{Seq: 42, Payload: []byte{0xde, 0xad, 0xbe, 0xef}}
	wire := EncodeFrame(in)
	if len(wire) != frameHeaderLen+4 {
		t.Fatalf("wire length = %d", len(wire))
	}

	out, err := DecodeFrame(wire)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Seq != 42 || !bytes.Equal(out.Payload, in.Payload) {
		t.Fatalf("round trip mismatch: %+v", out)
	}
	if out.Direction != types.DirectionInbound {
		t.Fatal("expected decoded frames tagged inbound")
	}
}

func TestDecodeFrame_EmptyPayload(t *testing.T) {
	wire := EncodeFrame(types.AudioFrame{Seq: 7})
	out, err := DecodeFrame(wire)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Seq != 7 || len(out.Payload) != 0 {
		t.Fatalf("unexpected frame: %+v", out)
	}
}

func TestDecodeFrame_ShortMessage(t *testing.T) {
	_, err := DecodeFrame([]byte{1, 2, 3})
	var coreErr *core.Error
	if !errors.As(err, &coreErr) || coreErr.Type != core.ErrValidation {
		t.Fatalf("expected a validation error, got %v", err)
	}
}

func TestDecodeFrame_CopiesPayload(t *testing.T) {
	wire := EncodeFrame(types.AudioFrame{Seq: 1, Payload: []byte{9, 9}})
	out, err := DecodeFrame(wire)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	wire[frameHeaderLen] = 0
	if out.Payload[0] != 9 {
		t.Fatal("expected the decoded payload detached from the read buffer")
	}
}
