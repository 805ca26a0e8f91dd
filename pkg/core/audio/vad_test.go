package audio

import (
	"encoding/binary"
	"testing"
	"time"
)

// testAudioConfig makes one 40-byte frame equal 20ms.
func testAudioConfig() Config {
	return Config{SampleRate: 1000, Channels: 1, BitsPerSample: 16}
}

func voicedFrame(bytes int) []byte {
	out := make([]byte, bytes)
	for i := 0; i+1 < len(out); i += 2 {
		binary.LittleEndian.PutUint16(out[i:], uint16(int16(16000)))
	}
	return out
}

func silentFrame(bytes int) []byte {
	return make([]byte, bytes)
}

func TestEnergyVAD_BriefNoiseBelowDebounceIsIgnored(t *testing.T) {
	vad := NewEnergyVAD(VADConfig{EnergyThreshold: 0.02, DebounceMs: 40, HangoverMs: 60}, testAudioConfig())

	started := false
	vad.SetCallbacks(func(time.Time) { started = true }, nil)

	at := time.Now()
	// One 20ms voiced frame is under the 40ms debounce window.
	vad.Process(voicedFrame(40), at)
	vad.Process(silentFrame(40), at.Add(20*time.Millisecond))

	if started {
		t.Error("expected brief noise to be suppressed by debounce")
	}
	if vad.Speaking() {
		t.Error("expected no active speech")
	}
}

func TestEnergyVAD_SustainedSpeechStartsAndEnds(t *testing.T) {
	vad := NewEnergyVAD(VADConfig{EnergyThreshold: 0.02, DebounceMs: 40, HangoverMs: 60}, testAudioConfig())

	var startAt, endAt time.Time
	var voiced time.Duration
	vad.SetCallbacks(
		func(at time.Time) { startAt = at },
		func(at time.Time, d time.Duration) { endAt = at; voiced = d },
	)

	at := time.Now()
	vad.Process(voicedFrame(40), at)
	vad.Process(voicedFrame(40), at.Add(20*time.Millisecond))
	if startAt.IsZero() {
		t.Fatal("expected speech start after 40ms of voiced audio")
	}
	if !vad.Speaking() {
		t.Fatal("expected Speaking() true during speech")
	}

	// 60ms of silence ends the run.
	vad.Process(silentFrame(40), at.Add(40*time.Millisecond))
	vad.Process(silentFrame(40), at.Add(60*time.Millisecond))
	if !endAt.IsZero() {
		t.Fatal("expected hangover to hold speech active at 40ms of silence")
	}
	vad.Process(silentFrame(40), at.Add(80*time.Millisecond))
	if endAt.IsZero() {
		t.Fatal("expected speech end after 60ms of silence")
	}
	if voiced <= 0 {
		t.Errorf("expected positive voiced duration, got %v", voiced)
	}
	if vad.Speaking() {
		t.Error("expected Speaking() false after speech end")
	}
}

func TestEnergyVAD_ResetClearsState(t *testing.T) {
	vad := NewEnergyVAD(VADConfig{EnergyThreshold: 0.02, DebounceMs: 40, HangoverMs: 60}, testAudioConfig())

	at := time.Now()
	vad.Process(voicedFrame(40), at)
	vad.Process(voicedFrame(40), at.Add(20*time.Millisecond))
	if !vad.Speaking() {
		t.Fatal("expected active speech")
	}

	vad.Reset()
	if vad.Speaking() {
		t.Error("expected Reset to clear active speech")
	}
}
