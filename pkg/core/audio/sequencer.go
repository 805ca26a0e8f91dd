package audio

import (
	"context"
	"sync"
	"time"

	"github.com/voxtutor/voxtutor/pkg/core/types"
)

// Utterance is one unit of outbound tutor speech.
type Utterance struct {
	ID   string
	Text string
	PCM  []byte
}

// SendFunc delivers one outbound frame to the transport.
type SendFunc func(types.AudioFrame) error

// Sequencer streams queued utterances as outbound frames in strict
// sequence-number order. An active utterance can be canceled mid-stream;
// the unsent remainder is re-queued at the front of the queue, never
// discarded.
type Sequencer struct {
	config PipelineConfig
	send   SendFunc
	now    func() time.Time

	mu        sync.Mutex
	queue     []Utterance
	seq       uint64
	active    bool
	activeID  string
	offset    int64
	paused    bool
	cancelReq bool
	wake      chan struct{}

	onCanceled func(utteranceID string, haltedAtByte int64)
	onDone     func(utteranceID string)
	onSendErr  func(err error)
}

// NewSequencer creates a sequencer delivering frames through send.
func NewSequencer(config PipelineConfig, send SendFunc) *Sequencer {
	if config.FrameBytes <= 0 {
		config.FrameBytes = DefaultPipelineConfig().FrameBytes
	}
	return &Sequencer{
		config: config,
		send:   send,
		now:    time.Now,
		wake:   make(chan struct{}, 1),
	}
}

// SetCallbacks sets the cancel, completion, and send-error callbacks.
func (s *Sequencer) SetCallbacks(
	onCanceled func(utteranceID string, haltedAtByte int64),
	onDone func(utteranceID string),
	onSendErr func(err error),
) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCanceled = onCanceled
	s.onDone = onDone
	s.onSendErr = onSendErr
}

// Enqueue appends an utterance to the back of the queue.
func (s *Sequencer) Enqueue(utt Utterance) {
	s.mu.Lock()
	s.queue = append(s.queue, utt)
	s.mu.Unlock()
	s.poke()
}

// EnqueueFront inserts an utterance ahead of everything queued, including a
// previously canceled remainder.
func (s *Sequencer) EnqueueFront(utt Utterance) {
	s.mu.Lock()
	s.queue = append([]Utterance{utt}, s.queue...)
	s.mu.Unlock()
	s.poke()
}

// CancelActive requests cancellation of the in-flight utterance and pauses
// output. The cancel callback reports the exact halted byte offset. Returns
// false if nothing is streaming.
func (s *Sequencer) CancelActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return false
	}
	s.cancelReq = true
	return true
}

// Pause stops frame delivery after the current frame. Queued utterances are
// kept.
func (s *Sequencer) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume restarts frame delivery.
func (s *Sequencer) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.poke()
}

// Active reports whether an outbound utterance is in flight.
func (s *Sequencer) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// ActiveOffset returns the in-flight utterance id and its streamed byte
// offset.
func (s *Sequencer) ActiveOffset() (string, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID, s.offset
}

// QueueLen returns the number of queued (not yet started) utterances.
func (s *Sequencer) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Drain removes and returns all queued utterances, for checkpointing.
func (s *Sequencer) Drain() []Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.queue
	s.queue = nil
	return out
}

func (s *Sequencer) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run streams frames until ctx is canceled. It is the only goroutine that
// writes to the transport, which guarantees strict sequence order.
func (s *Sequencer) Run(ctx context.Context) {
	for {
		s.mu.Lock()
		if s.paused || len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
			}
			continue
		}
		utt := s.queue[0]
		s.queue = s.queue[1:]
		s.active = true
		s.activeID = utt.ID
		s.offset = 0
		s.mu.Unlock()

		s.stream(ctx, utt)

		if ctx.Err() != nil {
			return
		}
	}
}

// stream delivers one utterance frame by frame. Cancel and pause flags are
// checked between frames, which bounds reaction latency to one frame
// interval.
func (s *Sequencer) stream(ctx context.Context, utt Utterance) {
	offset := 0
	for offset < len(utt.PCM) {
		if ctx.Err() != nil {
			s.finish(false, utt, int64(offset))
			return
		}

		s.mu.Lock()
		if s.cancelReq {
			s.cancelReq = false
			s.paused = true
			remainder := utt
			remainder.PCM = utt.PCM[offset:]
			s.queue = append([]Utterance{remainder}, s.queue...)
			s.active = false
			cb := s.onCanceled
			s.mu.Unlock()
			if cb != nil {
				cb(utt.ID, int64(offset))
			}
			return
		}
		if s.paused {
			s.mu.Unlock()
			select {
			case <-ctx.Done():
				s.finish(false, utt, int64(offset))
				return
			case <-s.wake:
			}
			continue
		}
		end := offset + s.config.FrameBytes
		if end > len(utt.PCM) {
			end = len(utt.PCM)
		}
		s.seq++
		frame := types.AudioFrame{
			Direction: types.DirectionOutbound,
			Seq:       s.seq,
			Timestamp: s.now(),
			Payload:   utt.PCM[offset:end],
		}
		s.offset = int64(end)
		s.mu.Unlock()

		if err := s.send(frame); err != nil {
			// The failed frame was never delivered. Halt output and re-queue
			// the remainder from its offset so nothing is lost; delivery
			// restarts on the next Resume.
			s.mu.Lock()
			s.paused = true
			remainder := utt
			remainder.PCM = utt.PCM[offset:]
			s.queue = append([]Utterance{remainder}, s.queue...)
			s.active = false
			s.offset = int64(offset)
			cb := s.onSendErr
			s.mu.Unlock()
			if cb != nil {
				cb(err)
			}
			return
		}
		offset = end

		if s.config.FrameInterval > 0 && offset < len(utt.PCM) {
			select {
			case <-ctx.Done():
				s.finish(false, utt, int64(offset))
				return
			case <-time.After(s.config.FrameInterval):
			}
		}
	}
	s.finish(true, utt, int64(offset))
}

func (s *Sequencer) finish(done bool, utt Utterance, offset int64) {
	s.mu.Lock()
	s.active = false
	cb := s.onDone
	s.mu.Unlock()
	if done && cb != nil {
		cb(utt.ID)
	}
}
