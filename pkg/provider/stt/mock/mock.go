// Package mock provides a test double for the stt.Provider interface.
//
// Use Provider to return a canned transcript (or error) and to verify which
// requests reached the backend.
//
// Example:
//
//	p := &mock.Provider{Text: "the quick brown fax"}
//	text, _ := p.Transcribe(ctx, stt.Request{AudioPath: path})
package mock

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/voicecoach/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Req is the Request passed to Transcribe.
	Req stt.Request
	// Audio is a copy of the file contents at AudioPath when Transcribe was
	// called. Nil if the file could not be read.
	Audio []byte
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Text is returned by Transcribe when TranscribeErr is nil.
	Text string

	// TranscribeErr, if non-nil, is returned as the error from Transcribe.
	TranscribeErr error

	// Delay makes Transcribe wait before answering. If ctx ends first,
	// Transcribe returns ctx.Err().
	Delay time.Duration

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns Text, TranscribeErr.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	audio, _ := os.ReadFile(req.AudioPath)

	p.mu.Lock()
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Ctx: ctx, Req: req, Audio: audio})
	delay, text, err := p.Delay, p.Text, p.TranscribeErr
	p.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-t.C:
		}
	}
	if err != nil {
		return "", err
	}
	return text, nil
}

// Calls returns a snapshot of the recorded calls. Thread-safe.
func (p *Provider) Calls() []TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]TranscribeCall, len(p.TranscribeCalls))
	copy(out, p.TranscribeCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
