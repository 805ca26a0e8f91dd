package audio

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voxtutor/voxtutor/pkg/core/types"
)

type frameSink struct {
	mu     sync.Mutex
	frames []types.AudioFrame
}

func (s *frameSink) send(f types.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return nil
}

func (s *frameSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *frameSink) payload() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []byte
	for _, f := range s.frames {
		out = append(out, f.Payload...)
	}
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func testSequencerConfig() PipelineConfig {
	cfg := DefaultPipelineConfig()
	cfg.FrameBytes = 4
	cfg.FrameInterval = time.Millisecond
	return cfg
}

func TestSequencer_StreamsUtteranceInOrder(t *testing.T) {
	sink := &frameSink{}
	seq := NewSequencer(testSequencerConfig(), sink.send)

	var doneID string
	var doneMu sync.Mutex
	seq.SetCallbacks(nil, func(id string) {
		doneMu.Lock()
		doneID = id
		doneMu.Unlock()
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go seq.Run(ctx)

	pcm := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	seq.Enqueue(Utterance{ID: "utt-1", PCM: pcm})

	waitFor(t, time.Second, func() bool {
		doneMu.Lock()
		defer doneMu.Unlock()
		return doneID == "utt-1"
	})

	if got := sink.payload(); !bytes.Equal(got, pcm) {
		t.Fatalf("expected payload %v, got %v", pcm, got)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	for i, f := range sink.frames {
		if f.Seq != uint64(i+1) {
			t.Fatalf("expected monotonic seq starting at 1, frame %d has seq %d", i, f.Seq)
		}
		if f.Direction != types.DirectionOutbound {
			t.Fatalf("expected outbound direction")
		}
	}
}

func TestSequencer_CancelRequeuesRemainderAndResumes(t *testing.T) {
	sink := &frameSink{}
	cfg := testSequencerConfig()
	cfg.FrameInterval = 5 * time.Millisecond
	seq := NewSequencer(cfg, sink.send)

	var canceledID string
	var haltedAt int64
	var mu sync.Mutex
	seq.SetCallbacks(func(id string, offset int64) {
		mu.Lock()
		canceledID = id
		haltedAt = offset
		mu.Unlock()
	}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go seq.Run(ctx)

	pcm := make([]byte, 200)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	seq.Enqueue(Utterance{ID: "utt-1", PCM: pcm})

	waitFor(t, time.Second, func() bool { return sink.count() >= 2 })
	if !seq.CancelActive() {
		t.Fatal("expected an active utterance to cancel")
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return canceledID == "utt-1"
	})
	mu.Lock()
	offset := haltedAt
	mu.Unlock()
	if offset <= 0 || offset >= int64(len(pcm)) {
		t.Fatalf("expected mid-stream halt offset, got %d", offset)
	}
	if got := int64(len(sink.payload())); got != offset {
		t.Fatalf("expected %d bytes sent before the halt, got %d", offset, got)
	}
	if seq.QueueLen() != 1 {
		t.Fatalf("expected the remainder re-queued, queue len %d", seq.QueueLen())
	}

	// Output stays halted until explicitly resumed.
	sent := sink.count()
	time.Sleep(30 * time.Millisecond)
	if sink.count() != sent {
		t.Fatal("expected no frames while halted")
	}

	seq.Resume()
	waitFor(t, time.Second, func() bool { return int64(len(sink.payload())) == int64(len(pcm)) })
	if got := sink.payload(); !bytes.Equal(got, pcm) {
		t.Fatal("expected the full payload after resuming the remainder")
	}
}

func TestSequencer_SendFailureHaltsAndRequeuesRemainder(t *testing.T) {
	sink := &frameSink{}
	var sendMu sync.Mutex
	failing := false
	send := func(f types.AudioFrame) error {
		sendMu.Lock()
		fail := failing
		sendMu.Unlock()
		if fail {
			return errors.New("transport gone")
		}
		return sink.send(f)
	}

	cfg := testSequencerConfig()
	cfg.FrameInterval = 2 * time.Millisecond
	seq := NewSequencer(cfg, send)

	var cbMu sync.Mutex
	var sendErrs, completions int
	seq.SetCallbacks(nil, func(string) {
		cbMu.Lock()
		completions++
		cbMu.Unlock()
	}, func(error) {
		cbMu.Lock()
		sendErrs++
		cbMu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go seq.Run(ctx)

	pcm := make([]byte, 400)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	seq.Enqueue(Utterance{ID: "utt-1", PCM: pcm})

	waitFor(t, time.Second, func() bool { return sink.count() >= 2 })
	sendMu.Lock()
	failing = true
	sendMu.Unlock()

	waitFor(t, time.Second, func() bool {
		cbMu.Lock()
		defer cbMu.Unlock()
		return sendErrs == 1
	})
	if seq.QueueLen() != 1 {
		t.Fatalf("expected the unsent remainder re-queued, queue len %d", seq.QueueLen())
	}
	if seq.Active() {
		t.Fatal("expected streaming halted after the send failure")
	}
	cbMu.Lock()
	if completions != 0 {
		cbMu.Unlock()
		t.Fatal("expected no completion for a failed utterance")
	}
	cbMu.Unlock()

	// The transport recovers; resuming delivers the rest without loss.
	sendMu.Lock()
	failing = false
	sendMu.Unlock()
	seq.Resume()
	waitFor(t, time.Second, func() bool { return len(sink.payload()) == len(pcm) })
	if !bytes.Equal(sink.payload(), pcm) {
		t.Fatal("expected the full payload delivered after recovery")
	}
	waitFor(t, time.Second, func() bool {
		cbMu.Lock()
		defer cbMu.Unlock()
		return completions == 1
	})
}

func TestSequencer_EnqueueFrontCutsAhead(t *testing.T) {
	sink := &frameSink{}
	seq := NewSequencer(testSequencerConfig(), sink.send)

	var done []string
	var mu sync.Mutex
	seq.SetCallbacks(nil, func(id string) {
		mu.Lock()
		done = append(done, id)
		mu.Unlock()
	}, nil)

	seq.Pause()
	seq.Enqueue(Utterance{ID: "queued", PCM: []byte{1, 2, 3, 4}})
	seq.EnqueueFront(Utterance{ID: "priority", PCM: []byte{5, 6, 7, 8}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go seq.Run(ctx)
	seq.Resume()

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(done) == 2
	})
	mu.Lock()
	defer mu.Unlock()
	if done[0] != "priority" || done[1] != "queued" {
		t.Fatalf("expected priority before queued, got %v", done)
	}
}
