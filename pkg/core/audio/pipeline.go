package audio

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/voxtutor/voxtutor/pkg/core/types"
)

// Event is an occurrence the pipeline surfaces to the session controller.
// The pipeline never mutates controller state directly; everything crosses
// this boundary.
type Event interface {
	audioEvent()
}

// EventInterruption reports a barge-in: sustained inbound voice activity
// while an outbound utterance was in flight. Output is already halted at
// the reported offset by the time this event is observed.
type EventInterruption struct {
	Interruption types.InterruptionEvent
}

// EventSpeechStart reports the start of sustained inbound speech while no
// outbound utterance was in flight.
type EventSpeechStart struct {
	At time.Time
}

// EventSpeechEnd reports the end of an inbound speech run, with the
// captured audio for transcription.
type EventSpeechEnd struct {
	At       time.Time
	Duration time.Duration
	PCM      []byte
}

// EventUtteranceDone reports that an outbound utterance finished streaming.
type EventUtteranceDone struct {
	UtteranceID string
}

// EventFrameLoss reports inbound frames dropped outside the reorder window.
type EventFrameLoss struct {
	Lost uint64
}

// EventSendFailure reports a failed outbound frame write. Output is already
// halted and the undelivered remainder re-queued by the time this event is
// observed; delivery restarts on the next ResumeOutput.
type EventSendFailure struct {
	Err error
}

func (EventInterruption) audioEvent()  {}
func (EventSpeechStart) audioEvent()   {}
func (EventSpeechEnd) audioEvent()     {}
func (EventUtteranceDone) audioEvent() {}
func (EventFrameLoss) audioEvent()     {}
func (EventSendFailure) audioEvent()   {}

// Pipeline multiplexes inbound and outbound frames for one session. It runs
// voice activity detection on the in-order inbound stream and cancels the
// outbound stream the moment sustained speech is detected during playback.
type Pipeline struct {
	config PipelineConfig
	logger *slog.Logger

	vad       *EnergyVAD
	reorder   *ReorderBuffer
	sequencer *Sequencer
	capture   *Buffer

	events  chan Event
	sendGap func(from, to uint64)

	mu        sync.Mutex
	started   bool
	closed    bool
	lastSpeak time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewPipeline creates a pipeline writing outbound frames through send and
// requesting inbound resends through sendGap. sendGap may be nil.
func NewPipeline(config PipelineConfig, logger *slog.Logger, send SendFunc, sendGap func(from, to uint64)) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		config:    config,
		logger:    logger,
		events:    make(chan Event, 128),
		sendGap:   sendGap,
		capture:   NewBuffer(config.Audio, 60_000),
		sequencer: NewSequencer(config, send),
	}
	p.vad = NewEnergyVAD(config.VAD, config.Audio)
	p.vad.SetCallbacks(p.onSpeechStart, p.onSpeechEnd)
	p.reorder = NewReorderBuffer(config.Reorder, p.onInboundFrame)
	p.reorder.SetCallbacks(p.onGap, p.onLoss)
	p.sequencer.SetCallbacks(p.onCanceled, p.onUtteranceDone, p.onSendErr)
	return p
}

// Start launches the outbound streaming goroutine.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go func() {
		defer close(p.done)
		p.sequencer.Run(ctx)
	}()
}

// Close stops the pipeline. Queued outbound utterances are kept and can be
// drained for checkpointing.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Events returns the pipeline event stream consumed by the controller.
func (p *Pipeline) Events() <-chan Event {
	return p.events
}

// Ingest accepts one inbound frame in arrival order.
func (p *Pipeline) Ingest(frame types.AudioFrame) {
	p.reorder.Push(frame)
}

// Speak appends an utterance to the outbound queue.
func (p *Pipeline) Speak(utt Utterance) {
	p.sequencer.Enqueue(utt)
}

// SpeakNext inserts an utterance ahead of everything queued, including a
// canceled remainder.
func (p *Pipeline) SpeakNext(utt Utterance) {
	p.sequencer.EnqueueFront(utt)
}

// ResumeOutput restarts outbound delivery after an interruption or pause.
func (p *Pipeline) ResumeOutput() {
	p.sequencer.Resume()
}

// PauseOutput stops outbound delivery after the current frame.
func (p *Pipeline) PauseOutput() {
	p.sequencer.Pause()
}

// OutboundActive reports whether an outbound utterance is in flight.
func (p *Pipeline) OutboundActive() bool {
	return p.sequencer.Active()
}

// OutboundQueueLen returns the number of queued outbound utterances.
func (p *Pipeline) OutboundQueueLen() int {
	return p.sequencer.QueueLen()
}

// Stats returns cumulative inbound loss counters for user notification.
func (p *Pipeline) Stats() (lost, droppedLate uint64) {
	return p.reorder.Stats()
}

// onInboundFrame receives in-order inbound frames from the reorder buffer.
func (p *Pipeline) onInboundFrame(frame types.AudioFrame) {
	speaking := p.vad.Process(frame.Payload, frame.Timestamp)
	if speaking {
		p.capture.Write(frame.Payload)
	}
}

func (p *Pipeline) onSpeechStart(at time.Time) {
	p.capture.Clear()
	if p.sequencer.Active() {
		// Barge-in: halt output first, then report. The interruption event
		// is emitted from the sequencer's cancel callback, which carries
		// the exact halted offset.
		if p.sequencer.CancelActive() {
			return
		}
	}
	p.emit(EventSpeechStart{At: at})
}

func (p *Pipeline) onSpeechEnd(at time.Time, duration time.Duration) {
	pcm := p.capture.Read()
	p.capture.Clear()
	p.emit(EventSpeechEnd{At: at, Duration: duration, PCM: pcm})
}

func (p *Pipeline) onCanceled(utteranceID string, haltedAtByte int64) {
	p.emit(EventInterruption{Interruption: types.InterruptionEvent{
		At:           time.Now(),
		UtteranceID:  utteranceID,
		HaltedAtByte: haltedAtByte,
	}})
}

func (p *Pipeline) onUtteranceDone(utteranceID string) {
	p.emit(EventUtteranceDone{UtteranceID: utteranceID})
}

func (p *Pipeline) onSendErr(err error) {
	p.logger.Warn("outbound send failed, output halted", "error", err)
	p.emit(EventSendFailure{Err: err})
}

func (p *Pipeline) onGap(from, to uint64) {
	p.logger.Debug("inbound gap, requesting resend", "from", from, "to", to)
	if p.sendGap != nil {
		p.sendGap(from, to)
	}
}

func (p *Pipeline) onLoss(count uint64) {
	p.logger.Warn("inbound frames lost outside reorder window", "count", count)
	p.emit(EventFrameLoss{Lost: count})
}

func (p *Pipeline) emit(ev Event) {
	// The controller drains this channel continuously. Blocking here is
	// preferable to dropping: a lost interruption event would leave output
	// playing over the user.
	p.events <- ev
}
