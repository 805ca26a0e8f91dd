package audio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voxtutor/voxtutor/pkg/core/types"
)

func testPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Audio:         testAudioConfig(),
		VAD:           VADConfig{EnergyThreshold: 0.02, DebounceMs: 40, HangoverMs: 60},
		Reorder:       ReorderConfig{WindowFrames: 8},
		FrameBytes:    4,
		FrameInterval: 5 * time.Millisecond,
	}
}

func inboundFrame(seq uint64, payload []byte, at time.Time) types.AudioFrame {
	return types.AudioFrame{Direction: types.DirectionInbound, Seq: seq, Timestamp: at, Payload: payload}
}

func nextEvent(t *testing.T, p *Pipeline, timeout time.Duration) Event {
	t.Helper()
	select {
	case ev := <-p.Events():
		return ev
	case <-time.After(timeout):
		t.Fatal("no pipeline event before timeout")
		return nil
	}
}

func TestPipeline_BargeInHaltsOutputAndReportsOffset(t *testing.T) {
	sink := &frameSink{}
	p := NewPipeline(testPipelineConfig(), nil, sink.send, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Close()

	pcm := make([]byte, 400)
	p.Speak(Utterance{ID: "utt-1", Text: "hello", PCM: pcm})
	waitFor(t, time.Second, func() bool { return sink.count() >= 2 })

	// Sustained inbound speech while the utterance streams.
	at := time.Now()
	for seq := uint64(1); seq <= 3; seq++ {
		p.Ingest(inboundFrame(seq, voicedFrame(40), at.Add(time.Duration(seq)*20*time.Millisecond)))
	}

	ev := nextEvent(t, p, time.Second)
	iv, ok := ev.(EventInterruption)
	if !ok {
		t.Fatalf("expected EventInterruption, got %T", ev)
	}
	if iv.Interruption.UtteranceID != "utt-1" {
		t.Fatalf("expected the in-flight utterance, got %q", iv.Interruption.UtteranceID)
	}
	if iv.Interruption.HaltedAtByte <= 0 || iv.Interruption.HaltedAtByte >= int64(len(pcm)) {
		t.Fatalf("expected a mid-stream halt offset, got %d", iv.Interruption.HaltedAtByte)
	}

	// Output is halted; the remainder is queued, not discarded.
	sent := sink.count()
	time.Sleep(30 * time.Millisecond)
	if sink.count() != sent {
		t.Fatal("expected no outbound frames after the barge-in")
	}
	if p.OutboundQueueLen() != 1 {
		t.Fatalf("expected the halted remainder queued, got %d", p.OutboundQueueLen())
	}
}

func TestPipeline_SpeechEndCarriesCapturedAudio(t *testing.T) {
	sink := &frameSink{}
	p := NewPipeline(testPipelineConfig(), nil, sink.send, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Close()

	at := time.Now()
	seq := uint64(1)
	for ; seq <= 3; seq++ {
		p.Ingest(inboundFrame(seq, voicedFrame(40), at.Add(time.Duration(seq)*20*time.Millisecond)))
	}

	ev := nextEvent(t, p, time.Second)
	if _, ok := ev.(EventSpeechStart); !ok {
		t.Fatalf("expected EventSpeechStart with no outbound utterance, got %T", ev)
	}

	for ; seq <= 7; seq++ {
		p.Ingest(inboundFrame(seq, silentFrame(40), at.Add(time.Duration(seq)*20*time.Millisecond)))
	}

	ev = nextEvent(t, p, time.Second)
	end, ok := ev.(EventSpeechEnd)
	if !ok {
		t.Fatalf("expected EventSpeechEnd, got %T", ev)
	}
	if len(end.PCM) == 0 {
		t.Fatal("expected captured speech audio on the event")
	}
}

func TestPipeline_SendFailureHaltsAndSurfacesEvent(t *testing.T) {
	send := func(types.AudioFrame) error { return errors.New("transport gone") }
	p := NewPipeline(testPipelineConfig(), nil, send, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Close()

	p.Speak(Utterance{ID: "utt-1", Text: "hello", PCM: make([]byte, 40)})

	ev := nextEvent(t, p, time.Second)
	fail, ok := ev.(EventSendFailure)
	if !ok {
		t.Fatalf("expected EventSendFailure, got %T", ev)
	}
	if fail.Err == nil {
		t.Fatal("expected the transport error carried on the event")
	}
	if p.OutboundQueueLen() != 1 {
		t.Fatalf("expected the undelivered utterance re-queued, got %d", p.OutboundQueueLen())
	}
	if p.OutboundActive() {
		t.Fatal("expected output halted after the send failure")
	}
}

func TestPipeline_LossOutsideWindowEmitsEvent(t *testing.T) {
	sink := &frameSink{}
	cfg := testPipelineConfig()
	cfg.Reorder.WindowFrames = 4
	p := NewPipeline(cfg, nil, sink.send, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Close()

	at := time.Now()
	p.Ingest(inboundFrame(1, silentFrame(40), at))
	p.Ingest(inboundFrame(5, silentFrame(40), at))
	p.Ingest(inboundFrame(6, silentFrame(40), at))

	ev := nextEvent(t, p, time.Second)
	loss, ok := ev.(EventFrameLoss)
	if !ok {
		t.Fatalf("expected EventFrameLoss, got %T", ev)
	}
	if loss.Lost != 3 {
		t.Fatalf("expected 3 lost frames, got %d", loss.Lost)
	}
}
