// Package types holds the domain model shared across the orchestrator:
// sessions, checkpoints, audio frames, assessment artifacts, and the
// leaderboard record.
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Phase is one stage of the session lifecycle.
type Phase int

const (
	// PhaseCreated is the initial state before the session is started.
	PhaseCreated Phase = iota
	// PhaseTeaching is active content delivery.
	PhaseTeaching
	// PhaseInterruptedPause is entered when the user barges in during teaching.
	PhaseInterruptedPause
	// PhaseWrapUp begins at the 40-minute threshold.
	PhaseWrapUp
	// PhaseAssessment is the viva and code-review stage.
	PhaseAssessment
	// PhasePaused is an explicit user pause; elapsed time is frozen.
	PhasePaused
	// PhaseConcluded is terminal.
	PhaseConcluded
	// PhaseFailed is entered on unrecoverable error.
	PhaseFailed
)

// String returns a human-readable phase name.
func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "CREATED"
	case PhaseTeaching:
		return "TEACHING"
	case PhaseInterruptedPause:
		return "INTERRUPTED_PAUSE"
	case PhaseWrapUp:
		return "WRAP_UP"
	case PhaseAssessment:
		return "ASSESSMENT"
	case PhasePaused:
		return "PAUSED"
	case PhaseConcluded:
		return "CONCLUDED"
	case PhaseFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// ParsePhase maps a phase name back to its value.
func ParsePhase(s string) (Phase, bool) {
	for p := PhaseCreated; p <= PhaseFailed; p++ {
		if p.String() == s {
			return p, true
		}
	}
	return 0, false
}

// MarshalJSON renders the phase as its name, keeping API responses and
// stored checkpoints readable.
func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON accepts a phase name.
func (p *Phase) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, ok := ParsePhase(s)
	if !ok {
		return fmt.Errorf("unknown phase %q", s)
	}
	*p = parsed
	return nil
}

// Session identifies one teaching-to-assessment cycle. It is owned
// exclusively by its controller while active; once concluded only the
// terminal fields (EndedAt, FinalScore) are ever written.
type Session struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Day       int        `json:"day"`
	Phase     Phase      `json:"phase"`
	ElapsedMS int64      `json:"elapsed_ms"`
	StartedAt time.Time  `json:"started_at"`
	Paused    bool       `json:"paused"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	// FinalScore is nil until concluded, and stays nil for a forced
	// conclusion with no completed assessment.
	FinalScore *int `json:"final_score,omitempty"`
}

// TranscriptEntry is one exchange in the session conversation log.
type TranscriptEntry struct {
	Role string    `json:"role"` // "tutor" or "user"
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Checkpoint is a serializable snapshot of a session sufficient to resume
// exactly. Each newer checkpoint supersedes the previous one for the same
// session id.
type Checkpoint struct {
	SessionID        string            `json:"session_id"`
	Version          int64             `json:"version"`
	Session          Session           `json:"session"`
	Conversation     []TranscriptEntry `json:"conversation"`
	TeachingPosition int               `json:"teaching_position"`
	// ResumePhase is the phase to restore on resume when the snapshot was
	// taken for an explicit pause.
	ResumePhase Phase     `json:"resume_phase"`
	SavedAt     time.Time `json:"saved_at"`
}

// ConcludedSession is the durable record of a finished session.
type ConcludedSession struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Day       int       `json:"day"`
	Score     *int      `json:"score,omitempty"`
	EndedAt   time.Time `json:"ended_at"`
}

// Direction tags an audio frame as inbound (user) or outbound (tutor).
type Direction int

const (
	DirectionInbound Direction = iota
	DirectionOutbound
)

// String returns a human-readable direction.
func (d Direction) String() string {
	if d == DirectionOutbound {
		return "OUT"
	}
	return "IN"
}

// AudioFrame is a timestamped chunk of encoded audio. Sequence numbers are
// monotonic per direction per session; a gap signals loss and must trigger
// a catch-up request, never a silent skip.
type AudioFrame struct {
	Direction Direction `json:"direction"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"ts"`
	Payload   []byte    `json:"payload"`
}

// InterruptionEvent is raised when sustained voice activity is detected on
// the inbound channel while an outbound utterance is in flight.
type InterruptionEvent struct {
	At time.Time `json:"at"`
	// UtteranceID identifies the outbound utterance that was halted.
	UtteranceID string `json:"utterance_id"`
	// HaltedAtByte is the byte offset of the outbound stream at which
	// output stopped.
	HaltedAtByte int64 `json:"halted_at_byte"`
}

// PhaseThreshold names a wall-clock-triggered transition point.
type PhaseThreshold int

const (
	// ThresholdWrapUp fires at the wrap-up boundary (default 40 minutes).
	ThresholdWrapUp PhaseThreshold = iota
	// ThresholdConclude fires at the hard session bound (default 50 minutes).
	ThresholdConclude
)

// String returns a human-readable threshold name.
func (t PhaseThreshold) String() string {
	if t == ThresholdConclude {
		return "CONCLUDE"
	}
	return "WRAP_UP"
}

// PhaseTransitionEvent is emitted by the phase timer at configured
// elapsed-time thresholds. Each threshold fires at most once per session.
type PhaseTransitionEvent struct {
	Threshold PhaseThreshold `json:"threshold"`
	ElapsedMS int64          `json:"elapsed_ms"`
	At        time.Time      `json:"at"`
}

// VivaCount is the fixed number of viva questions per assessment.
const VivaCount = 3

// VivaEntry is one question/answer/score triple.
type VivaEntry struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Score    int    `json:"score"`
}

// AssessmentResult holds exactly three viva triples and an optional
// code-review score. Immutable once consumed by the score updater.
type AssessmentResult struct {
	Viva      [VivaCount]VivaEntry `json:"viva"`
	CodeScore *int                 `json:"code_score,omitempty"`
}

// SessionScore is the final score for a session. Value is nil when the
// session was force-concluded with no completed assessment.
type SessionScore struct {
	SessionID  string    `json:"session_id"`
	UserID     string    `json:"user_id"`
	Value      *int      `json:"value,omitempty"`
	AchievedAt time.Time `json:"achieved_at"`
}

// LeaderboardRecord is the per-user ranking aggregate. It is mutated only
// under an optimistic-concurrency version check.
type LeaderboardRecord struct {
	UserID     string    `json:"user_id"`
	TotalScore int       `json:"total_score"`
	Streak     int       `json:"streak"`
	LastDay    int       `json:"last_day"`
	AchievedAt time.Time `json:"achieved_at"`
	Version    int64     `json:"version"`
}

// DailyModule is the curriculum content for one session day.
type DailyModule struct {
	Day             int      `json:"day"`
	Topics          []string `json:"topics"`
	Concepts        []string `json:"concepts"`
	Examples        []string `json:"examples"`
	Questions       []string `json:"questions"`
	DurationMinutes int      `json:"duration_minutes"`
}
