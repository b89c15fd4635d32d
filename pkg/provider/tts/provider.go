// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., the OpenAI speech
// API, ElevenLabs, or a local Coqui server) and presents a uniform
// one-shot interface: a short phrase in, a complete encoded audio clip out.
// Backends that speak a streaming protocol buffer internally; a Provider never
// returns a partial clip.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Audio is a complete synthesized clip.
type Audio struct {
	// Data is the encoded clip. Never empty on success.
	Data []byte

	// Format is the container tag used as the asset file extension
	// (e.g., "mp3", "wav").
	Format string
}

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple synthesis requests
// may run in parallel (e.g., one per corrected phrase).
type Provider interface {
	// Synthesize renders text as speech and returns the complete clip.
	//
	// Returns an error if the backend cannot be reached, rejects the text,
	// returns no audio, or ctx is cancelled before the clip is complete.
	Synthesize(ctx context.Context, text string) (Audio, error)
}
