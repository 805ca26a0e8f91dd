package session

import (
	"sync/atomic"

	"github.com/voxtutor/voxtutor/pkg/core"
	"github.com/voxtutor/voxtutor/pkg/core/types"
)

// Transport is a rebindable outbound frame sink. The gateway binds it when a
// live connection attaches and rebinds it on reconnect, so the controller
// and pipeline never hold a direct reference to a socket.
type Transport struct {
	send atomic.Value // of sendBinding
	gap  atomic.Value // of gapBinding
}

type sendBinding struct {
	fn func(types.AudioFrame) error
}

type gapBinding struct {
	fn func(from, to uint64)
}

// NewTransport creates an unbound transport. Sends fail with a connection
// error until Bind is called.
func NewTransport() *Transport {
	return &Transport{}
}

// Bind attaches the outbound send function and the inbound gap-resend
// request function. gap may be nil.
func (t *Transport) Bind(send func(types.AudioFrame) error, gap func(from, to uint64)) {
	t.send.Store(sendBinding{fn: send})
	t.gap.Store(gapBinding{fn: gap})
}

// Unbind detaches the current connection.
func (t *Transport) Unbind() {
	t.send.Store(sendBinding{})
	t.gap.Store(gapBinding{})
}

// Bound reports whether a connection is attached.
func (t *Transport) Bound() bool {
	b, _ := t.send.Load().(sendBinding)
	return b.fn != nil
}

// Send delivers one outbound frame through the current binding.
func (t *Transport) Send(frame types.AudioFrame) error {
	b, _ := t.send.Load().(sendBinding)
	if b.fn == nil {
		return core.NewConnectionError("no live connection bound", nil)
	}
	return b.fn(frame)
}

// RequestResend asks the peer to resend an inbound sequence range.
func (t *Transport) RequestResend(from, to uint64) {
	b, _ := t.gap.Load().(gapBinding)
	if b.fn != nil {
		b.fn(from, to)
	}
}
