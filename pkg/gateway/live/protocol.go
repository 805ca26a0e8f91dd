// Package live carries a session's audio over one WebSocket connection.
//
// Binary messages are audio frames: an 8-byte big-endian sequence number
// followed by the payload. Sequence numbers are monotonic per direction.
// Text messages are JSON control envelopes.
package live

import (
	"encoding/binary"
	"encoding/json"

	"github.com/voxtutor/voxtutor/pkg/core"
	"github.com/voxtutor/voxtutor/pkg/core/types"
)

const frameHeaderLen = 8

// EncodeFrame renders an audio frame to the wire format.
func EncodeFrame(frame types.AudioFrame) []byte {
	buf := make([]byte, frameHeaderLen+len(frame.Payload))
	binary.BigEndian.PutUint64(buf[:frameHeaderLen], frame.Seq)
	copy(buf[frameHeaderLen:], frame.Payload)
	return buf
}

// DecodeFrame parses a wire message into an inbound frame.
func DecodeFrame(data []byte) (types.AudioFrame, error) {
	if len(data) < frameHeaderLen {
		return types.AudioFrame{}, core.NewValidationError("audio frame shorter than its header")
	}
	return types.AudioFrame{
		Direction: types.DirectionInbound,
		Seq:       binary.BigEndian.Uint64(data[:frameHeaderLen]),
		Payload:   append([]byte(nil), data[frameHeaderLen:]...),
	}, nil
}

// Control message types.
const (
	MsgHello        = "hello"
	MsgNotification = "notification"
	MsgResend       = "resend"
	MsgError        = "error"
)

// ControlMessage is the JSON envelope for non-audio traffic.
type ControlMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Phase     string `json:"phase,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Message   string `json:"message,omitempty"`

	// Resend range, inclusive from, exclusive to.
	From uint64 `json:"from,omitempty"`
	To   uint64 `json:"to,omitempty"`
}

func encodeControl(msg ControlMessage) []byte {
	out, _ := json.Marshal(msg)
	return out
}
