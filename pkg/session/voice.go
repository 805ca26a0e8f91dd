package session

import (
	"context"
	"strings"
)

// Transcriber converts captured inbound speech to text. Speech recognition
// itself is an external collaborator; the controller only consumes text.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte) (string, error)
}

// Synthesizer renders tutor text to PCM for outbound streaming.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// StubTranscriber treats inbound audio payloads as UTF-8 text. It stands in
// for a real recognizer in development and tests, where frames carry text
// bytes instead of PCM.
type StubTranscriber struct{}

// Transcribe implements Transcriber.
func (StubTranscriber) Transcribe(_ context.Context, pcm []byte) (string, error) {
	return strings.TrimSpace(string(pcm)), nil
}

// StubSynthesizer renders text as its own UTF-8 bytes, the outbound mirror
// of StubTranscriber.
type StubSynthesizer struct{}

// Synthesize implements Synthesizer.
func (StubSynthesizer) Synthesize(_ context.Context, text string) ([]byte, error) {
	return []byte(text), nil
}
