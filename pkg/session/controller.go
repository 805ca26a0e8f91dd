// Package session implements the session controller: the single-writer actor
// that owns one tutoring session's state and drives it from creation through
// teaching, wrap-up, assessment, and conclusion.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sethvargo/go-retry"

	"github.com/voxtutor/voxtutor/pkg/checkpoint"
	"github.com/voxtutor/voxtutor/pkg/core"
	"github.com/voxtutor/voxtutor/pkg/core/audio"
	"github.com/voxtutor/voxtutor/pkg/core/types"
	"github.com/voxtutor/voxtutor/pkg/curriculum"
	"github.com/voxtutor/voxtutor/pkg/handoff"
	"github.com/voxtutor/voxtutor/pkg/score"
)

// ErrUnsupportedFormat rejects code submissions in a format the grader
// cannot review.
var ErrUnsupportedFormat = &core.Error{
	Type:    core.ErrValidation,
	Code:    "unsupported_format",
	Message: "unsupported code submission format",
}

var supportedCodeFormats = map[string]bool{
	"text":       true,
	"go":         true,
	"python":     true,
	"javascript": true,
	"png":        true,
	"jpeg":       true,
}

// Deps are the controller's external collaborators.
type Deps struct {
	Coordinator *handoff.Coordinator
	Checkpoints checkpoint.Store
	Updater     *score.Updater
	Curriculum  curriculum.Provider
	Transcriber Transcriber
	Synthesizer Synthesizer
	Notifier    Notifier
}

// Controller owns one session. All state mutation happens on the controller
// goroutine, which drains a serialized event queue fed by the audio
// pipeline, the phase timer, finished handoff calls, and API commands.
// Producers never touch session state directly.
type Controller struct {
	config Config
	logger *slog.Logger
	deps   Deps

	transport *Transport
	pipeline  *audio.Pipeline
	clock     *Clock
	timer     *PhaseTimer

	module *types.DailyModule
	events chan event

	// snapMu guards the checkpointed fields. The controller goroutine takes
	// it briefly around each mutation; the auto-save loop takes it only long
	// enough to copy a snapshot, so intake is never stalled by a save.
	snapMu           sync.Mutex
	session          types.Session
	conversation     []types.TranscriptEntry
	teachingPosition int
	version          int64
	resumePhase      types.Phase

	// Assessment state, controller-goroutine-owned.
	vivaQuestions []string
	viva          [types.VivaCount]types.VivaEntry
	vivaAsked     int
	vivaGraded    int
	gradePending  bool
	codeSubmitted bool
	codeGraded    bool
	codeScore     *int

	wrapUpUtterance string
	teachGen        uint64
	teachCancel     context.CancelFunc
	utterSeq        uint64

	// A reply deferred until a superseded teaching call unwinds and frees
	// the coordinator's single-flight slot.
	pendingTeach      bool
	pendingTeachKind  handoff.Kind
	pendingTeachInput string

	finalScore *types.SessionScore
	waiters    []chan concludeResult

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// onDone unregisters the controller from its manager once terminal.
	onDone func(sessionID string)
}

// NewController wires a controller and its audio pipeline. The session does
// not run until Start or StartFromCheckpoint is called.
func NewController(config Config, logger *slog.Logger, deps Deps) *Controller {
	config = config.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Notifier == nil {
		deps.Notifier = &LogNotifier{Logger: logger}
	}
	c := &Controller{
		config:    config,
		logger:    logger,
		deps:      deps,
		transport: NewTransport(),
		clock:     NewClock(config.Now),
		events:    make(chan event, 256),
	}
	c.timer = NewPhaseTimer(config.Timer, c.clock, c.onThreshold, config.Now)
	c.pipeline = audio.NewPipeline(config.Pipeline, logger, c.transport.Send, c.transport.RequestResend)
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

// ID returns the session id.
func (c *Controller) ID() string {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	return c.session.ID
}

// UserID returns the owning user's id.
func (c *Controller) UserID() string {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	return c.session.UserID
}

// Phase returns the current phase.
func (c *Controller) Phase() types.Phase {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	return c.session.Phase
}

// Transport returns the rebindable outbound sink for the gateway to bind.
func (c *Controller) Transport() *Transport {
	return c.transport
}

// ResumeOutput restarts outbound delivery after a transport rebind. Paused
// and interrupted sessions stay halted.
func (c *Controller) ResumeOutput() {
	switch c.Phase() {
	case types.PhaseTeaching, types.PhaseWrapUp, types.PhaseAssessment:
		c.pipeline.ResumeOutput()
	}
}

// Ingest accepts one inbound audio frame. Safe to call from the gateway's
// read goroutine.
func (c *Controller) Ingest(frame types.AudioFrame) {
	if c.Phase() == types.PhasePaused {
		return
	}
	c.pipeline.Ingest(frame)
}

// Start validates the day against the curriculum, creates the session, and
// launches the controller goroutines.
func (c *Controller) Start(ctx context.Context, userID string, day int) (*types.Session, error) {
	module, err := c.deps.Curriculum.GetDailyModule(ctx, userID, day)
	if err != nil {
		return nil, err
	}
	c.module = module

	now := c.config.Now()
	c.snapMu.Lock()
	c.session = types.Session{
		ID:        ulid.Make().String(),
		UserID:    userID,
		Day:       day,
		Phase:     types.PhaseCreated,
		StartedAt: now,
	}
	c.resumePhase = types.PhaseTeaching
	snap := c.session
	c.snapMu.Unlock()

	c.logger.Info("session created",
		"session_id", snap.ID, "user_id", userID, "day", day)

	c.launch()
	c.post(evBegin{})
	return &snap, nil
}

// StartFromCheckpoint restores a session from its latest checkpoint and
// launches the controller goroutines in the paused state. Resume continues
// it.
func (c *Controller) StartFromCheckpoint(ctx context.Context, cp *types.Checkpoint) error {
	module, err := c.deps.Curriculum.GetDailyModule(ctx, cp.Session.UserID, cp.Session.Day)
	if err != nil {
		return err
	}
	c.module = module

	c.snapMu.Lock()
	c.session = cp.Session
	c.session.Phase = types.PhasePaused
	c.session.Paused = true
	c.conversation = append([]types.TranscriptEntry(nil), cp.Conversation...)
	c.teachingPosition = cp.TeachingPosition
	c.version = cp.Version
	c.resumePhase = cp.ResumePhase
	if c.resumePhase == types.PhaseCreated || c.resumePhase == types.PhasePaused {
		c.resumePhase = types.PhaseTeaching
	}
	elapsed := time.Duration(cp.Session.ElapsedMS) * time.Millisecond
	c.snapMu.Unlock()

	c.clock.SetElapsed(elapsed)
	if elapsed >= c.config.Timer.WrapUpAfter {
		c.timer.MarkFired(types.ThresholdWrapUp)
	}
	if elapsed >= c.config.Timer.ConcludeAfter {
		c.timer.MarkFired(types.ThresholdConclude)
	}

	c.logger.Info("session restored from checkpoint",
		"session_id", cp.SessionID, "version", cp.Version,
		"resume_phase", c.resumePhase.String(), "elapsed_ms", cp.Session.ElapsedMS)

	c.launch()
	return nil
}

func (c *Controller) launch() {
	c.pipeline.Start(c.ctx)

	c.wg.Add(3)
	go func() {
		defer c.wg.Done()
		c.run()
	}()
	go func() {
		defer c.wg.Done()
		c.timer.Run(c.ctx)
	}()
	go func() {
		defer c.wg.Done()
		c.autosaveLoop()
	}()

	// Audio pump: the pipeline's event stream joins the serialized queue.
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case ev := <-c.pipeline.Events():
				c.post(evAudio{ev: ev})
			}
		}
	}()
}

// Pause freezes the session and synchronously saves a checkpoint.
func (c *Controller) Pause(ctx context.Context) (*types.Checkpoint, error) {
	cmd := cmdPause{resp: make(chan pauseResult, 1)}
	if err := c.post(cmd); err != nil {
		return nil, err
	}
	select {
	case r := <-cmd.resp:
		return r.checkpoint, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Resume continues a paused session in its pre-pause phase.
func (c *Controller) Resume(ctx context.Context) (*SessionContext, error) {
	cmd := cmdResume{resp: make(chan resumeResult, 1)}
	if err := c.post(cmd); err != nil {
		return nil, err
	}
	select {
	case r := <-cmd.resp:
		return r.sc, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Conclude finishes the session and blocks until the leaderboard commit is
// observed or durably queued. An incomplete assessment yields a null score.
func (c *Controller) Conclude(ctx context.Context) (*types.SessionScore, error) {
	cmd := cmdConclude{resp: make(chan concludeResult, 1)}
	if err := c.post(cmd); err != nil {
		return nil, err
	}
	select {
	case r := <-cmd.resp:
		return r.score, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SubmitCode accepts a code or image submission for asynchronous review.
func (c *Controller) SubmitCode(ctx context.Context, payload []byte, format string) error {
	if !supportedCodeFormats[format] {
		return ErrUnsupportedFormat
	}
	cmd := cmdSubmitCode{payload: payload, format: format, resp: make(chan error, 1)}
	if err := c.post(cmd); err != nil {
		return err
	}
	select {
	case err := <-cmd.resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a read-only view of the session.
func (c *Controller) Snapshot(ctx context.Context) (*SessionContext, error) {
	cmd := cmdSnapshot{resp: make(chan *SessionContext, 1)}
	if err := c.post(cmd); err != nil {
		return nil, err
	}
	select {
	case sc := <-cmd.resp:
		return sc, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// evBegin kicks off a fresh session inside the controller goroutine.
type evBegin struct{}

func (evBegin) sessionEvent() {}

func (c *Controller) post(ev event) error {
	select {
	case c.events <- ev:
		return nil
	case <-c.ctx.Done():
		return core.NewNotFoundError("session is closed")
	}
}

func (c *Controller) onThreshold(ev types.PhaseTransitionEvent) {
	_ = c.post(evPhase{ev: ev})
}

func (c *Controller) run() {
	for {
		select {
		case ev := <-c.events:
			c.handle(ev)
		case <-c.ctx.Done():
			// Drain so no command sender is left waiting on a reply.
			for {
				select {
				case ev := <-c.events:
					c.handle(ev)
				default:
					return
				}
			}
		}
	}
}

func (c *Controller) handle(ev event) {
	switch ev := ev.(type) {
	case evBegin:
		c.begin()
	case evAudio:
		c.handleAudio(ev.ev)
	case evPhase:
		c.handleThreshold(ev.ev)
	case evTranscript:
		c.handleTranscript(ev)
	case evHandoff:
		c.handleHandoff(ev)
	case evFatal:
		c.fail(ev.err)
	case cmdPause:
		c.handlePause(ev)
	case cmdResume:
		c.handleResume(ev)
	case cmdConclude:
		c.handleConclude(ev)
	case cmdSubmitCode:
		c.handleSubmitCode(ev)
	case cmdSnapshot:
		ev.resp <- c.snapshotContext()
	}
}

func (c *Controller) begin() {
	c.clock.Start()
	c.setPhase(types.PhaseTeaching)
	if err := c.persistSnapshot(); err != nil {
		c.fail(err)
		return
	}
	c.requestTeach(handoff.KindSegment, "")
}

// setPhase records a transition and notifies the user. Elapsed time is
// refreshed so it never moves backwards in a snapshot.
func (c *Controller) setPhase(p types.Phase) {
	c.snapMu.Lock()
	from := c.session.Phase
	c.session.Phase = p
	if ms := c.clock.Elapsed().Milliseconds(); ms > c.session.ElapsedMS {
		c.session.ElapsedMS = ms
	}
	id := c.session.ID
	c.snapMu.Unlock()

	if from != p {
		c.logger.Info("phase transition",
			"session_id", id, "from", from.String(), "to", p.String())
		c.deps.Notifier.Notify(phaseNotification(id, p, c.config.Now()))
	}
}

func (c *Controller) appendTranscript(role, text string) {
	c.snapMu.Lock()
	c.conversation = append(c.conversation, types.TranscriptEntry{
		Role: role,
		Text: text,
		At:   c.config.Now(),
	})
	c.snapMu.Unlock()
}

// ---- audio events ----

func (c *Controller) handleAudio(ev audio.Event) {
	if p := c.Phase(); p == types.PhasePaused || p == types.PhaseConcluded || p == types.PhaseFailed {
		return
	}
	switch ev := ev.(type) {
	case audio.EventInterruption:
		c.handleInterruption(ev.Interruption)
	case audio.EventSpeechStart:
		c.logger.Debug("inbound speech started", "session_id", c.ID())
	case audio.EventSpeechEnd:
		c.transcribeAsync(ev.PCM)
	case audio.EventUtteranceDone:
		c.handleUtteranceDone(ev.UtteranceID)
	case audio.EventFrameLoss:
		c.deps.Notifier.Notify(Notification{
			SessionID: c.ID(),
			Kind:      NotifyFrameLoss,
			Message:   fmt.Sprintf("%d audio frames were lost; some speech may be missing", ev.Lost),
			At:        c.config.Now(),
		})
	case audio.EventSendFailure:
		// The undelivered remainder is already re-queued; delivery restarts
		// once the gateway rebinds the transport or the session is resumed.
		c.logger.Warn("outbound delivery halted on transport failure",
			"session_id", c.ID(), "error", ev.Err)
	}
}

func (c *Controller) handleInterruption(iv types.InterruptionEvent) {
	c.logger.Info("user interruption, output halted",
		"session_id", c.ID(), "utterance_id", iv.UtteranceID, "halted_at_byte", iv.HaltedAtByte)
	if c.Phase() == types.PhaseTeaching {
		c.setPhase(types.PhaseInterruptedPause)
	}
}

func (c *Controller) transcribeAsync(pcm []byte) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		tctx, cancel := context.WithTimeout(c.ctx, c.config.TranscribeTimeout)
		defer cancel()
		text, err := c.deps.Transcriber.Transcribe(tctx, pcm)
		_ = c.post(evTranscript{text: text, err: err})
	}()
}

func (c *Controller) handleTranscript(ev evTranscript) {
	if ev.err != nil {
		c.logger.Warn("transcription failed, utterance dropped",
			"session_id", c.ID(), "error", ev.err)
		return
	}
	if ev.text == "" {
		return
	}

	phase := c.Phase()
	switch phase {
	case types.PhaseTeaching, types.PhaseInterruptedPause:
		c.appendTranscript("user", ev.text)
		if c.teachCancel != nil {
			// The reply supersedes the segment call still in flight; its
			// result would be stale against the new utterance. The reply is
			// issued once the canceled call unwinds, so the coordinator's
			// single-flight slot is free again.
			c.cancelTeach()
			c.pendingTeach = true
			c.pendingTeachKind = handoff.KindReply
			c.pendingTeachInput = ev.text
			return
		}
		c.requestTeach(handoff.KindReply, ev.text)
	case types.PhaseWrapUp:
		// The wrap-up content call is never superseded; a reply is generated
		// only when nothing is in flight.
		c.appendTranscript("user", ev.text)
		c.requestTeach(handoff.KindReply, ev.text)
	case types.PhaseAssessment:
		c.handleVivaAnswer(ev.text)
	default:
		c.logger.Debug("transcript ignored in phase",
			"session_id", c.ID(), "phase", phase.String())
	}
}

func (c *Controller) handleUtteranceDone(utteranceID string) {
	phase := c.Phase()
	if phase == types.PhaseWrapUp && utteranceID == c.wrapUpUtterance {
		c.beginAssessment()
		return
	}
	if phase == types.PhaseTeaching && c.pipeline.OutboundQueueLen() == 0 && c.teachCancel == nil {
		c.requestTeach(handoff.KindSegment, "")
	}
}

// ---- phase thresholds ----

func (c *Controller) handleThreshold(ev types.PhaseTransitionEvent) {
	switch ev.Threshold {
	case types.ThresholdWrapUp:
		c.enterWrapUp(ev)
	case types.ThresholdConclude:
		c.forceConclude(ev)
	}
}

func (c *Controller) enterWrapUp(ev types.PhaseTransitionEvent) {
	switch c.Phase() {
	case types.PhaseTeaching, types.PhaseInterruptedPause:
	default:
		return
	}
	c.logger.Info("wrap-up threshold crossed",
		"session_id", c.ID(), "elapsed_ms", ev.ElapsedMS)
	c.cancelTeach()
	c.pendingTeach = false
	c.setPhase(types.PhaseWrapUp)
	c.pipeline.ResumeOutput()
	c.requestTeach(handoff.KindWrapUp, "")
}

// forceConclude enforces the hard session bound. A complete assessment is
// scored normally; anything less records the null-score sentinel.
func (c *Controller) forceConclude(ev types.PhaseTransitionEvent) {
	switch c.Phase() {
	case types.PhaseConcluded, types.PhaseFailed, types.PhasePaused:
		return
	}
	c.logger.Info("hard session bound reached, concluding",
		"session_id", c.ID(), "elapsed_ms", ev.ElapsedMS)
	c.conclude(c.completedResult())
}

// ---- handoff results ----

func (c *Controller) handleHandoff(ev evHandoff) {
	isTeaching := ev.kind == handoff.KindSegment || ev.kind == handoff.KindReply || ev.kind == handoff.KindWrapUp
	if isTeaching {
		if ev.gen != c.teachGen {
			// A superseded call has fully unwound; a deferred reply can go
			// out now.
			c.flushPendingTeach()
			return
		}
		c.teachCancel = nil
	}

	if ev.err != nil {
		if errors.Is(ev.err, context.Canceled) {
			return
		}
		c.logger.Warn("handoff call failed",
			"session_id", c.ID(), "kind", string(ev.kind), "error", ev.err)
		if ev.kind == handoff.KindGradeAnswer {
			// Never strand the assessment: score the answer zero and move on.
			c.recordVivaScore(ev.vivaIdx, 0)
		}
		return
	}

	switch ev.kind {
	case handoff.KindSegment:
		c.handleSegment(ev)
	case handoff.KindReply:
		c.handleReply(ev)
	case handoff.KindWrapUp:
		c.handleWrapUpContent(ev)
	case handoff.KindVivaQuestions:
		c.handleVivaQuestions(ev)
	case handoff.KindGradeAnswer:
		val := 0
		if ev.resp.Score != nil {
			val = *ev.resp.Score
		}
		c.recordVivaScore(ev.vivaIdx, val)
	case handoff.KindGradeCode:
		c.handleCodeGraded(ev)
	}
}

func (c *Controller) handleSegment(ev evHandoff) {
	switch c.Phase() {
	case types.PhaseTeaching, types.PhaseInterruptedPause, types.PhasePaused:
	default:
		return
	}
	c.appendTranscript("tutor", ev.resp.Content)
	c.snapMu.Lock()
	c.teachingPosition++
	pos := c.teachingPosition
	c.snapMu.Unlock()
	c.logger.Debug("teaching segment queued",
		"session_id", c.ID(), "position", pos, "fallback", ev.resp.Fallback)
	c.pipeline.Speak(audio.Utterance{ID: c.nextUtteranceID(), Text: ev.resp.Content, PCM: ev.pcm})
}

func (c *Controller) handleReply(ev evHandoff) {
	phase := c.Phase()
	c.appendTranscript("tutor", ev.resp.Content)
	// The reply cuts ahead of any halted remainder, which resumes after it.
	c.pipeline.SpeakNext(audio.Utterance{ID: c.nextUtteranceID(), Text: ev.resp.Content, PCM: ev.pcm})
	if phase != types.PhasePaused {
		c.pipeline.ResumeOutput()
	}
	if phase == types.PhaseInterruptedPause {
		c.setPhase(types.PhaseTeaching)
	}
}

func (c *Controller) handleWrapUpContent(ev evHandoff) {
	if c.Phase() != types.PhaseWrapUp {
		return
	}
	c.appendTranscript("tutor", ev.resp.Content)
	id := c.nextUtteranceID()
	c.wrapUpUtterance = id
	c.pipeline.Speak(audio.Utterance{ID: id, Text: ev.resp.Content, PCM: ev.pcm})
}

// ---- assessment ----

func (c *Controller) beginAssessment() {
	if c.Phase() == types.PhaseAssessment {
		return
	}
	c.setPhase(types.PhaseAssessment)
	c.requestGrade(handoff.KindVivaQuestions, 0, "", "")
}

func (c *Controller) handleVivaQuestions(ev evHandoff) {
	if c.Phase() != types.PhaseAssessment || c.vivaQuestions != nil {
		return
	}
	if len(ev.resp.Questions) < types.VivaCount {
		c.logger.Warn("viva question set too small, using fallback count",
			"session_id", c.ID(), "got", len(ev.resp.Questions))
		return
	}
	c.vivaQuestions = ev.resp.Questions[:types.VivaCount]
	c.askNextQuestion()
}

// askNextQuestion speaks one question and waits for the graded answer before
// asking the next.
func (c *Controller) askNextQuestion() {
	idx := c.vivaAsked
	if idx >= types.VivaCount {
		return
	}
	q := c.vivaQuestions[idx]
	c.vivaAsked++
	c.viva[idx].Question = q
	c.appendTranscript("tutor", q)
	c.speakAsync(q, false)
}

func (c *Controller) handleVivaAnswer(text string) {
	if c.gradePending || c.vivaAsked == 0 || c.vivaAsked <= c.vivaGraded {
		c.logger.Debug("speech ignored, no question awaiting an answer",
			"session_id", c.ID())
		return
	}
	idx := c.vivaAsked - 1
	c.appendTranscript("user", text)
	c.viva[idx].Answer = text
	c.gradePending = true
	c.requestGrade(handoff.KindGradeAnswer, idx, c.viva[idx].Question, text)
}

func (c *Controller) recordVivaScore(idx, value int) {
	if idx < 0 || idx >= types.VivaCount {
		return
	}
	c.viva[idx].Score = value
	c.vivaGraded++
	c.gradePending = false
	if c.vivaGraded < types.VivaCount {
		c.askNextQuestion()
		return
	}
	c.maybeConcludeAfterAssessment()
}

func (c *Controller) handleCodeGraded(ev evHandoff) {
	if !c.codeSubmitted || c.codeGraded {
		return
	}
	c.codeGraded = true
	c.codeScore = ev.resp.Score
	c.logger.Info("code submission graded",
		"session_id", c.ID(), "fallback", ev.resp.Fallback)
	c.maybeConcludeAfterAssessment()
}

func (c *Controller) assessmentComplete() bool {
	return c.vivaGraded == types.VivaCount && (!c.codeSubmitted || c.codeGraded)
}

// completedResult returns the assessment result if complete, nil otherwise.
func (c *Controller) completedResult() *types.AssessmentResult {
	if !c.assessmentComplete() {
		return nil
	}
	return &types.AssessmentResult{Viva: c.viva, CodeScore: c.codeScore}
}

func (c *Controller) maybeConcludeAfterAssessment() {
	if c.Phase() != types.PhaseAssessment || !c.assessmentComplete() {
		return
	}
	c.conclude(c.completedResult())
}

// ---- commands ----

func (c *Controller) handlePause(cmd cmdPause) {
	switch c.Phase() {
	case types.PhaseConcluded, types.PhaseFailed:
		cmd.resp <- pauseResult{err: core.NewValidationError("session is already finished")}
		return
	case types.PhasePaused:
		cmd.resp <- pauseResult{checkpoint: c.snapshot()}
		return
	}

	c.clock.Pause()
	c.pipeline.PauseOutput()
	// Content generation is abandoned; grading calls run to completion.
	c.cancelTeach()
	c.pendingTeach = false

	c.snapMu.Lock()
	c.resumePhase = c.session.Phase
	c.snapMu.Unlock()
	c.setPhase(types.PhasePaused)
	c.snapMu.Lock()
	c.session.Paused = true
	c.snapMu.Unlock()

	cp := c.snapshot()
	if err := c.persist(cp); err != nil {
		c.fail(err)
		cmd.resp <- pauseResult{err: err}
		return
	}
	c.logger.Info("session paused",
		"session_id", cp.SessionID, "version", cp.Version, "resume_phase", c.resumePhase.String())
	cmd.resp <- pauseResult{checkpoint: cp}
}

func (c *Controller) handleResume(cmd cmdResume) {
	if c.Phase() != types.PhasePaused {
		cmd.resp <- resumeResult{err: core.NewValidationError("session is not paused")}
		return
	}

	c.snapMu.Lock()
	c.session.Paused = false
	target := c.resumePhase
	c.snapMu.Unlock()

	c.clock.Resume()
	c.setPhase(target)
	if target != types.PhaseInterruptedPause {
		// An interrupted session stays halted until the reply lands.
		c.pipeline.ResumeOutput()
	}
	switch target {
	case types.PhaseTeaching:
		if !c.pipeline.OutboundActive() && c.pipeline.OutboundQueueLen() == 0 && c.teachCancel == nil {
			c.requestTeach(handoff.KindSegment, "")
		}
	case types.PhaseWrapUp:
		// After a restart the wrap-up content is gone; fetch it again so the
		// session can still reach assessment.
		if c.wrapUpUtterance == "" && !c.pipeline.OutboundActive() &&
			c.pipeline.OutboundQueueLen() == 0 && c.teachCancel == nil {
			c.requestTeach(handoff.KindWrapUp, "")
		}
	case types.PhaseAssessment:
		// Viva state is not checkpointed. A restored session restarts the
		// assessment from the first question; an in-place resume continues.
		if c.vivaQuestions == nil {
			c.requestGrade(handoff.KindVivaQuestions, 0, "", "")
		}
	}
	c.logger.Info("session resumed",
		"session_id", c.ID(), "phase", target.String())
	cmd.resp <- resumeResult{sc: c.snapshotContext()}
}

func (c *Controller) handleConclude(cmd cmdConclude) {
	switch c.Phase() {
	case types.PhaseConcluded:
		cmd.resp <- concludeResult{score: c.finalScore}
		return
	case types.PhaseFailed:
		cmd.resp <- concludeResult{err: core.NewInternalError("session failed", nil)}
		return
	}
	c.waiters = append(c.waiters, cmd.resp)
	c.conclude(c.completedResult())
}

func (c *Controller) handleSubmitCode(cmd cmdSubmitCode) {
	switch c.Phase() {
	case types.PhaseConcluded, types.PhaseFailed, types.PhasePaused:
		cmd.resp <- core.NewValidationError("session cannot accept code right now")
		return
	}
	if c.codeSubmitted {
		cmd.resp <- core.NewValidationError("code was already submitted for this session")
		return
	}
	c.codeSubmitted = true
	c.logger.Info("code submission received",
		"session_id", c.ID(), "format", cmd.format, "bytes", len(cmd.payload))
	c.requestGrade(handoff.KindGradeCode, 0, "", string(cmd.payload))
	cmd.resp <- nil
}

// ---- conclusion and failure ----

// conclude finishes the session. It blocks the controller goroutine on the
// leaderboard commit, which is bounded: conflicts beyond the retry limit
// are deferred to reconciliation, never spun on.
func (c *Controller) conclude(res *types.AssessmentResult) {
	switch c.Phase() {
	case types.PhaseConcluded, types.PhaseFailed:
		return
	}

	c.clock.Pause()
	c.pipeline.PauseOutput()
	c.cancelTeach()
	c.pendingTeach = false

	c.snapMu.Lock()
	id := c.session.ID
	userID := c.session.UserID
	day := c.session.Day
	c.snapMu.Unlock()

	sessionScore, err := c.deps.Updater.Commit(c.ctx, id, userID, day, res)
	if err != nil {
		c.logger.Error("score commit failed", "session_id", id, "error", err)
		c.fail(err)
		return
	}
	c.finalScore = sessionScore

	now := c.config.Now()
	c.snapMu.Lock()
	c.session.EndedAt = &now
	c.session.FinalScore = sessionScore.Value
	c.snapMu.Unlock()
	c.setPhase(types.PhaseConcluded)

	rec := &types.ConcludedSession{
		SessionID: id,
		UserID:    userID,
		Day:       day,
		Score:     sessionScore.Value,
		EndedAt:   now,
	}
	if err := c.persistConcluded(rec); err != nil {
		// The score is already committed; the record save is best-effort.
		c.logger.Error("concluded record save failed", "session_id", id, "error", err)
	}
	if err := c.persistSnapshot(); err != nil {
		c.logger.Error("final checkpoint save failed", "session_id", id, "error", err)
	}

	msg := "session concluded without a score"
	kind := NotifyScorePending
	if sessionScore.Value != nil {
		msg = fmt.Sprintf("final score: %d", *sessionScore.Value)
		kind = NotifyScorePosted
	}
	c.deps.Notifier.Notify(Notification{SessionID: id, Kind: kind, Message: msg, At: now})
	c.logger.Info("session concluded",
		"session_id", id, "scored", sessionScore.Value != nil,
		"elapsed_ms", c.clock.Elapsed().Milliseconds())

	c.replyWaiters(concludeResult{score: sessionScore})
	c.shutdown()
}

func (c *Controller) fail(err error) {
	if p := c.Phase(); p == types.PhaseFailed || p == types.PhaseConcluded {
		return
	}
	c.clock.Pause()
	c.pipeline.PauseOutput()
	c.cancelTeach()
	c.setPhase(types.PhaseFailed)
	c.logger.Error("session failed", "session_id", c.ID(), "error", err)
	c.replyWaiters(concludeResult{err: err})
	c.shutdown()
}

func (c *Controller) replyWaiters(r concludeResult) {
	for _, w := range c.waiters {
		w <- r
	}
	c.waiters = nil
}

// shutdown stops the background goroutines. The run loop drains remaining
// commands before exiting; late callers get a not-found from the manager.
func (c *Controller) shutdown() {
	id := c.ID()
	c.cancel()
	go func() {
		c.pipeline.Close()
		if c.onDone != nil {
			c.onDone(id)
		}
	}()
}

// ---- handoff dispatch ----

func (c *Controller) buildRequest(kind handoff.Kind, question, input string) handoff.Request {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	conv := append([]types.TranscriptEntry(nil), c.conversation...)
	return handoff.Request{
		SessionID:    c.session.ID,
		UserID:       c.session.UserID,
		Phase:        c.session.Phase,
		Kind:         kind,
		Module:       c.module,
		Conversation: conv,
		Position:     c.teachingPosition,
		Question:     question,
		Input:        input,
	}
}

// requestTeach starts a teaching-content call. At most one is in flight; it
// is canceled on pause, wrap-up, and conclusion since stale content is
// worthless.
func (c *Controller) requestTeach(kind handoff.Kind, input string) {
	if c.teachCancel != nil {
		return
	}
	c.teachGen++
	gen := c.teachGen
	ctx, cancel := context.WithCancel(c.ctx)
	c.teachCancel = cancel
	req := c.buildRequest(kind, "", input)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		resp, err := c.deps.Coordinator.Teach(ctx, req)
		var pcm []byte
		if err == nil && resp.Content != "" {
			pcm, err = c.synthesize(resp.Content)
		}
		_ = c.post(evHandoff{kind: kind, gen: gen, resp: resp, pcm: pcm, err: err})
	}()
}

func (c *Controller) cancelTeach() {
	if c.teachCancel != nil {
		// Bumping the generation discards whatever the canceled call still
		// produces, including a fallback served for the cancellation.
		c.teachGen++
		c.teachCancel()
		c.teachCancel = nil
	}
}

func (c *Controller) flushPendingTeach() {
	if !c.pendingTeach || c.teachCancel != nil {
		return
	}
	c.pendingTeach = false
	c.requestTeach(c.pendingTeachKind, c.pendingTeachInput)
}

// requestGrade starts a grading call on the session context, not the
// teaching-cancel context: grading in flight at pause or conclusion is
// allowed to complete.
func (c *Controller) requestGrade(kind handoff.Kind, vivaIdx int, question, input string) {
	req := c.buildRequest(kind, question, input)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		resp, err := c.deps.Coordinator.Grade(c.ctx, req)
		_ = c.post(evHandoff{kind: kind, vivaIdx: vivaIdx, resp: resp, err: err})
	}()
}

func (c *Controller) synthesize(text string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(c.ctx, c.config.SynthesizeTimeout)
	defer cancel()
	return c.deps.Synthesizer.Synthesize(ctx, text)
}

// speakAsync synthesizes off the controller goroutine and queues the result.
func (c *Controller) speakAsync(text string, front bool) {
	id := c.nextUtteranceID()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		pcm, err := c.synthesize(text)
		if err != nil {
			c.logger.Warn("synthesis failed, utterance dropped",
				"session_id", c.ID(), "utterance_id", id, "error", err)
			return
		}
		utt := audio.Utterance{ID: id, Text: text, PCM: pcm}
		if front {
			c.pipeline.SpeakNext(utt)
		} else {
			c.pipeline.Speak(utt)
		}
	}()
}

func (c *Controller) nextUtteranceID() string {
	c.utterSeq++
	return fmt.Sprintf("utt-%06d", c.utterSeq)
}

// ---- persistence ----

// snapshot builds the next checkpoint under a brief lock.
func (c *Controller) snapshot() *types.Checkpoint {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	c.version++
	if ms := c.clock.Elapsed().Milliseconds(); ms > c.session.ElapsedMS {
		c.session.ElapsedMS = ms
	}
	conv := append([]types.TranscriptEntry(nil), c.conversation...)
	resume := c.resumePhase
	if c.session.Phase != types.PhasePaused {
		resume = c.session.Phase
	}
	return &types.Checkpoint{
		SessionID:        c.session.ID,
		Version:          c.version,
		Session:          c.session,
		Conversation:     conv,
		TeachingPosition: c.teachingPosition,
		ResumePhase:      resume,
		SavedAt:          c.config.Now(),
	}
}

func (c *Controller) snapshotContext() *SessionContext {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	if ms := c.clock.Elapsed().Milliseconds(); ms > c.session.ElapsedMS {
		c.session.ElapsedMS = ms
	}
	conv := append([]types.TranscriptEntry(nil), c.conversation...)
	return &SessionContext{
		Session:          c.session,
		Conversation:     conv,
		TeachingPosition: c.teachingPosition,
	}
}

func (c *Controller) persistSnapshot() error {
	return c.persist(c.snapshot())
}

// persist saves a checkpoint with bounded retries. Exhaustion is an
// unrecoverable session error.
func (c *Controller) persist(cp *types.Checkpoint) error {
	backoff := retry.WithMaxRetries(uint64(c.config.PersistRetries), retry.NewExponential(c.config.PersistBackoff))
	err := retry.Do(c.ctx, backoff, func(ctx context.Context) error {
		if err := c.deps.Checkpoints.Save(ctx, cp); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return core.NewPersistenceError("checkpoint save retries exhausted", err)
	}
	return nil
}

func (c *Controller) persistConcluded(rec *types.ConcludedSession) error {
	backoff := retry.WithMaxRetries(uint64(c.config.PersistRetries), retry.NewExponential(c.config.PersistBackoff))
	return retry.Do(c.ctx, backoff, func(ctx context.Context) error {
		if err := c.deps.Checkpoints.SaveConcluded(ctx, rec); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

func (c *Controller) autosaveLoop() {
	ticker := time.NewTicker(c.config.AutosaveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			switch c.Phase() {
			case types.PhasePaused, types.PhaseConcluded, types.PhaseFailed:
				continue
			}
			if err := c.persistSnapshot(); err != nil {
				_ = c.post(evFatal{err: err})
				return
			}
		}
	}
}
