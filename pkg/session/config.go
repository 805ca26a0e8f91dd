package session

import (
	"time"

	"github.com/voxtutor/voxtutor/pkg/core/audio"
)

// Config holds the controller tunables.
type Config struct {
	// Timer holds the wrap-up and conclusion thresholds.
	Timer TimerConfig `json:"timer"`

	// AutosaveInterval is how often the background checkpoint loop runs.
	// Must stay at or under two minutes of progress at risk. Default: 90s.
	AutosaveInterval time.Duration `json:"autosave_interval"`

	// PersistRetries is how many times a failed checkpoint save is retried
	// before the session fails. Default: 3.
	PersistRetries int `json:"persist_retries"`

	// PersistBackoff seeds the save retry backoff. Default: 250ms.
	PersistBackoff time.Duration `json:"persist_backoff"`

	// TranscribeTimeout bounds one transcription call. Default: 5s.
	TranscribeTimeout time.Duration `json:"transcribe_timeout"`

	// SynthesizeTimeout bounds one synthesis call. Default: 10s.
	SynthesizeTimeout time.Duration `json:"synthesize_timeout"`

	// Pipeline configures the per-session audio pipeline.
	Pipeline audio.PipelineConfig `json:"pipeline"`

	// Now is injectable for tests; nil uses time.Now.
	Now func() time.Time `json:"-"`
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		Timer:             DefaultTimerConfig(),
		AutosaveInterval:  90 * time.Second,
		PersistRetries:    3,
		PersistBackoff:    250 * time.Millisecond,
		TranscribeTimeout: 5 * time.Second,
		SynthesizeTimeout: 10 * time.Second,
		Pipeline:          audio.DefaultPipelineConfig(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.AutosaveInterval <= 0 {
		c.AutosaveInterval = def.AutosaveInterval
	}
	if c.PersistRetries <= 0 {
		c.PersistRetries = def.PersistRetries
	}
	if c.PersistBackoff <= 0 {
		c.PersistBackoff = def.PersistBackoff
	}
	if c.TranscribeTimeout <= 0 {
		c.TranscribeTimeout = def.TranscribeTimeout
	}
	if c.SynthesizeTimeout <= 0 {
		c.SynthesizeTimeout = def.SynthesizeTimeout
	}
	if c.Pipeline.FrameBytes <= 0 {
		c.Pipeline = def.Pipeline
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}
