package audio

import (
	"sync"

	"github.com/voxtutor/voxtutor/pkg/core/types"
)

// ReorderBuffer restores sequence order for inbound frames within a bounded
// window. Frames that arrive out of order are held until the gap fills; a
// gap triggers a catch-up request, never a silent skip. When the window is
// exceeded the missing frames are declared lost, counted, and the stream
// advances.
type ReorderBuffer struct {
	config ReorderConfig

	mu          sync.Mutex
	started     bool
	next        uint64
	held        map[uint64]types.AudioFrame
	lost        uint64
	droppedLate uint64
	gapFrom     uint64
	gapTo       uint64
	gapOpen     bool

	deliver func(types.AudioFrame)
	onGap   func(from, to uint64)
	onLoss  func(count uint64)
}

// NewReorderBuffer creates a reorder buffer delivering in-order frames to
// the given callback.
func NewReorderBuffer(config ReorderConfig, deliver func(types.AudioFrame)) *ReorderBuffer {
	if config.WindowFrames == 0 {
		config.WindowFrames = DefaultReorderConfig().WindowFrames
	}
	return &ReorderBuffer{
		config:  config,
		held:    make(map[uint64]types.AudioFrame),
		deliver: deliver,
	}
}

// SetCallbacks sets the gap (catch-up request) and loss callbacks.
func (r *ReorderBuffer) SetCallbacks(onGap func(from, to uint64), onLoss func(count uint64)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onGap = onGap
	r.onLoss = onLoss
}

// Push accepts an inbound frame in arrival order. In-order frames (and any
// directly following held frames) are delivered synchronously, preserving
// sequence order.
func (r *ReorderBuffer) Push(frame types.AudioFrame) {
	r.mu.Lock()

	if !r.started {
		// The stream starts at whatever sequence number the client opens with.
		r.started = true
		r.next = frame.Seq
	}

	if frame.Seq < r.next {
		// Late duplicate or a frame already declared lost.
		r.droppedLate++
		r.mu.Unlock()
		return
	}

	var ready []types.AudioFrame
	var lostNow uint64
	var gapFrom, gapTo uint64
	requestGap := false

	if frame.Seq == r.next {
		ready = append(ready, frame)
		r.next++
		ready = r.flushHeldLocked(ready)
	} else {
		if _, dup := r.held[frame.Seq]; !dup {
			r.held[frame.Seq] = frame
		}

		// Window exceeded: give up on the oldest missing range.
		if frame.Seq-r.next >= r.config.WindowFrames {
			oldest := r.oldestHeldLocked()
			lostNow = oldest - r.next
			r.lost += lostNow
			r.next = oldest
			ready = r.flushHeldLocked(ready)
		}

		// Still missing frames: ask for a resend of the open range, once
		// per distinct range.
		if len(r.held) > 0 {
			from, to := r.next, r.oldestHeldLocked()-1
			if !r.gapOpen || from != r.gapFrom || to != r.gapTo {
				r.gapOpen = true
				r.gapFrom, r.gapTo = from, to
				gapFrom, gapTo = from, to
				requestGap = true
			}
		}
	}

	if len(r.held) == 0 {
		r.gapOpen = false
	}

	onGap, onLoss := r.onGap, r.onLoss
	r.mu.Unlock()

	for _, f := range ready {
		r.deliver(f)
	}
	if lostNow > 0 && onLoss != nil {
		onLoss(lostNow)
	}
	if requestGap && onGap != nil {
		onGap(gapFrom, gapTo)
	}
}

// flushHeldLocked appends all directly following held frames to ready.
func (r *ReorderBuffer) flushHeldLocked(ready []types.AudioFrame) []types.AudioFrame {
	for {
		f, ok := r.held[r.next]
		if !ok {
			return ready
		}
		delete(r.held, r.next)
		ready = append(ready, f)
		r.next++
	}
}

// oldestHeldLocked returns the smallest held sequence number.
// Must be called with the mutex held and at least one held frame.
func (r *ReorderBuffer) oldestHeldLocked() uint64 {
	var oldest uint64
	first := true
	for seq := range r.held {
		if first || seq < oldest {
			oldest = seq
			first = false
		}
	}
	return oldest
}

// Stats returns the cumulative lost and late-dropped frame counts.
func (r *ReorderBuffer) Stats() (lost, droppedLate uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lost, r.droppedLate
}
