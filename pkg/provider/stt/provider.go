// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a batch transcription service (e.g., the OpenAI audio
// API, a local whisper.cpp server, or Deepgram's pre-recorded endpoint) and
// exposes a uniform request/response interface: one recorded file in, one
// complete transcript out. Streaming and partial transcripts are not part of
// this boundary.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// Request describes a single transcription job.
type Request struct {
	// AudioPath is the path of a readable audio file on local disk. The file
	// extension is preserved from the original upload so that backends can
	// infer the container format (e.g., ".mp3", ".wav", ".webm").
	AudioPath string

	// Prompt is an optional free-text hint that biases recognition toward
	// expected vocabulary or style. Backends without prompt support ignore it.
	Prompt string

	// Language is the ISO-639-1 or BCP-47 language tag for recognition
	// (e.g., "en", "de-DE"). An empty string lets the backend use its default.
	Language string
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe runs recognition over the file at req.AudioPath and returns
	// the full transcript. The caller owns the file; implementations must not
	// delete or modify it.
	//
	// Returns an error if the backend cannot be reached, rejects the audio, or
	// ctx is cancelled before a result arrives.
	Transcribe(ctx context.Context, req Request) (string, error)
}
