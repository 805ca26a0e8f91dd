package audio

import "time"

// Config specifies audio format parameters.
type Config struct {
	// SampleRate in Hz. Common values: 16000, 24000, 44100, 48000.
	SampleRate int `json:"sample_rate"`

	// Channels: 1 for mono, 2 for stereo.
	Channels int `json:"channels"`

	// BitsPerSample: typically 16 for PCM.
	BitsPerSample int `json:"bits_per_sample"`
}

// DefaultConfig returns the standard audio configuration.
func DefaultConfig() Config {
	return Config{
		SampleRate:    24000,
		Channels:      1,
		BitsPerSample: 16,
	}
}

// BytesPerSecond returns the audio byte rate.
func (c Config) BytesPerSecond() int {
	return c.SampleRate * c.Channels * (c.BitsPerSample / 8)
}

// DurationMs returns the duration in milliseconds for the given byte count.
func (c Config) DurationMs(bytes int) int {
	if c.BytesPerSecond() == 0 {
		return 0
	}
	return (bytes * 1000) / c.BytesPerSecond()
}

// BytesForDurationMs returns the byte count for the given duration in milliseconds.
func (c Config) BytesForDurationMs(ms int) int {
	return (c.BytesPerSecond() * ms) / 1000
}

// VADConfig configures energy-based voice activity detection.
type VADConfig struct {
	// EnergyThreshold is the RMS energy level above which a frame counts as
	// voiced. Range: 0.0 to 1.0. Default: 0.02.
	EnergyThreshold float64 `json:"energy_threshold"`

	// DebounceMs is how much consecutive voiced audio is required before
	// speech is considered started. Brief noise below this window never
	// triggers an interruption. Default: 200.
	DebounceMs int `json:"debounce_ms"`

	// HangoverMs is how much consecutive silence ends an active speech run.
	// Default: 700.
	HangoverMs int `json:"hangover_ms"`
}

// DefaultVADConfig returns a VADConfig with sensible defaults.
func DefaultVADConfig() VADConfig {
	return VADConfig{
		EnergyThreshold: 0.02,
		DebounceMs:      200,
		HangoverMs:      700,
	}
}

// ReorderConfig bounds the inbound reordering window.
type ReorderConfig struct {
	// WindowFrames is how far ahead of the next expected sequence number a
	// frame may arrive and still be held for reordering. Frames further
	// ahead force the missing range to be counted as lost. Default: 16.
	WindowFrames uint64 `json:"window_frames"`
}

// DefaultReorderConfig returns a ReorderConfig with sensible defaults.
func DefaultReorderConfig() ReorderConfig {
	return ReorderConfig{WindowFrames: 16}
}

// PipelineConfig collects the tunables for one session's audio pipeline.
type PipelineConfig struct {
	Audio   Config        `json:"audio"`
	VAD     VADConfig     `json:"vad"`
	Reorder ReorderConfig `json:"reorder"`

	// FrameBytes is the outbound chunk size handed to the transport.
	// Default: 20ms of audio.
	FrameBytes int `json:"frame_bytes"`

	// FrameInterval paces outbound frame delivery. Zero disables pacing
	// and streams as fast as the transport accepts.
	FrameInterval time.Duration `json:"frame_interval"`
}

// DefaultPipelineConfig returns a PipelineConfig with sensible defaults.
func DefaultPipelineConfig() PipelineConfig {
	audio := DefaultConfig()
	return PipelineConfig{
		Audio:         audio,
		VAD:           DefaultVADConfig(),
		Reorder:       DefaultReorderConfig(),
		FrameBytes:    audio.BytesForDurationMs(20),
		FrameInterval: 20 * time.Millisecond,
	}
}
