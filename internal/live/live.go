// Package live adapts a streaming voice session onto the conversation
// engine: transcription events become turns, model audio goes to playback,
// and turn completion triggers the background analyses.
package live

import (
	"context"
)

// SessionConfig describes one streaming session: the persona's voice and
// instruction plus the model to stream against.
type SessionConfig struct {
	Model             string
	SystemInstruction string
	VoiceName         string
}

// Handlers receives stream events. Nil fields are skipped. Transcription
// deltas are incremental, not cumulative; the finished flag seals the
// utterance.
type Handlers struct {
	OnOpen                func()
	OnClose               func(err error)
	OnInterrupted         func()
	OnAudio               func(pcm []byte)
	OnInputTranscription  func(text string, finished bool)
	OnOutputTranscription func(text string, finished bool)
	OnContent             func(text string)
	OnTurnComplete        func()
}

// StreamClient is a bidirectional voice stream to the language service.
type StreamClient interface {
	Connect(ctx context.Context, cfg SessionConfig, handlers Handlers) error
	SendAudio(pcm []byte) error
	Disconnect() error
}

// PlaybackSink consumes model audio. Stop drops anything still queued,
// which is how a model interruption cuts playback without touching history.
type PlaybackSink interface {
	Play(pcm []byte)
	Stop()
	Close() error
}
