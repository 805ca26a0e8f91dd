package audio

import (
	"sync"
	"time"
)

// EnergyVAD detects sustained voice activity on the inbound channel using
// frame RMS energy with a debounce window.
//
// The flow is:
//  1. A frame above EnergyThreshold accrues voiced time.
//  2. Once voiced time reaches DebounceMs, speech starts (onSpeechStart).
//     Brief noise shorter than the debounce window never fires.
//  3. Once silence accrues HangoverMs while speech is active, speech ends
//     (onSpeechEnd).
type EnergyVAD struct {
	config      VADConfig
	audioConfig Config

	mu          sync.Mutex
	speaking    bool
	voicedMs    int
	silentMs    int
	speechStart time.Time

	onSpeechStart func(at time.Time)
	onSpeechEnd   func(at time.Time, voicedDuration time.Duration)
}

// NewEnergyVAD creates a VAD for the given configuration.
func NewEnergyVAD(config VADConfig, audioConfig Config) *EnergyVAD {
	return &EnergyVAD{
		config:      config,
		audioConfig: audioConfig,
	}
}

// SetCallbacks sets the event callbacks for the VAD.
func (v *EnergyVAD) SetCallbacks(
	onSpeechStart func(at time.Time),
	onSpeechEnd func(at time.Time, voicedDuration time.Duration),
) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onSpeechStart = onSpeechStart
	v.onSpeechEnd = onSpeechEnd
}

// Process feeds one inbound PCM frame to the detector. It returns whether
// speech is considered active after the frame.
func (v *EnergyVAD) Process(pcm []byte, at time.Time) bool {
	frameMs := v.audioConfig.DurationMs(len(pcm))
	if frameMs <= 0 {
		frameMs = 20
	}
	voiced := CalculateRMSEnergy(pcm) >= v.config.EnergyThreshold

	v.mu.Lock()
	if voiced {
		v.silentMs = 0
		v.voicedMs += frameMs
		if !v.speaking && v.voicedMs >= v.config.DebounceMs {
			v.speaking = true
			v.speechStart = at
			cb := v.onSpeechStart
			v.mu.Unlock()
			if cb != nil {
				cb(at)
			}
			return true
		}
		speaking := v.speaking
		v.mu.Unlock()
		return speaking
	}

	// Silent frame.
	v.voicedMs = 0
	if !v.speaking {
		v.mu.Unlock()
		return false
	}
	v.silentMs += frameMs
	if v.silentMs >= v.config.HangoverMs {
		v.speaking = false
		v.silentMs = 0
		duration := at.Sub(v.speechStart)
		cb := v.onSpeechEnd
		v.mu.Unlock()
		if cb != nil {
			cb(at, duration)
		}
		return false
	}
	v.mu.Unlock()
	return true
}

// Speaking returns whether speech is currently considered active.
func (v *EnergyVAD) Speaking() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.speaking
}

// Reset clears the detector state, for example after a reconnect.
func (v *EnergyVAD) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.speaking = false
	v.voicedMs = 0
	v.silentMs = 0
	v.speechStart = time.Time{}
}
