package session

import (
	"github.com/voxtutor/voxtutor/pkg/core/audio"
	"github.com/voxtutor/voxtutor/pkg/core/types"
	"github.com/voxtutor/voxtutor/pkg/handoff"
)

// event is one item on the controller's serialized intake queue. Audio
// producers, the phase timer, finished handoff calls, and API commands all
// feed the same queue; the controller goroutine is the only consumer and the
// only writer of session state.
type event interface {
	sessionEvent()
}

// evAudio wraps a pipeline event.
type evAudio struct {
	ev audio.Event
}

// evPhase wraps a phase-timer threshold crossing.
type evPhase struct {
	ev types.PhaseTransitionEvent
}

// evTranscript is a finished transcription of an inbound speech run.
type evTranscript struct {
	text string
	err  error
}

// evHandoff is a finished coordinator call. Teaching results carry their
// synthesized audio so the event loop never blocks on synthesis.
type evHandoff struct {
	kind handoff.Kind
	// gen matches the teaching-call generation that produced this result;
	// stale results from a canceled call are dropped.
	gen uint64
	// vivaIdx is the question index for grade-answer results.
	vivaIdx int
	resp    *handoff.Response
	pcm     []byte
	err     error
}

// evFatal reports an unrecoverable error, typically persistence exhaustion.
type evFatal struct {
	err error
}

// cmdPause is an explicit user pause. The reply carries the synchronously
// saved checkpoint.
type cmdPause struct {
	resp chan pauseResult
}

type pauseResult struct {
	checkpoint *types.Checkpoint
	err        error
}

// cmdResume restores a paused session in place.
type cmdResume struct {
	resp chan resumeResult
}

type resumeResult struct {
	sc  *SessionContext
	err error
}

// cmdConclude requests conclusion; the reply blocks until the leaderboard
// commit is observed.
type cmdConclude struct {
	resp chan concludeResult
}

type concludeResult struct {
	score *types.SessionScore
	err   error
}

// cmdSubmitCode delivers a code or image submission for review.
type cmdSubmitCode struct {
	payload []byte
	format  string
	resp    chan error
}

// cmdSnapshot requests a read-only view of the session state.
type cmdSnapshot struct {
	resp chan *SessionContext
}

func (evAudio) sessionEvent()       {}
func (evPhase) sessionEvent()       {}
func (evTranscript) sessionEvent()  {}
func (evHandoff) sessionEvent()     {}
func (evFatal) sessionEvent()       {}
func (cmdPause) sessionEvent()      {}
func (cmdResume) sessionEvent()     {}
func (cmdConclude) sessionEvent()   {}
func (cmdSubmitCode) sessionEvent() {}
func (cmdSnapshot) sessionEvent()   {}

// SessionContext is the restored or observed session view handed back to
// callers: the session row plus the conversation and teaching position.
type SessionContext struct {
	Session          types.Session           `json:"session"`
	Conversation     []types.TranscriptEntry `json:"conversation"`
	TeachingPosition int                     `json:"teaching_position"`
}
