// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to return canned clips, to fail selected phrases, and to verify
// which texts were sent to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{
//	    Audio:   tts.Audio{Data: []byte("ID3"), Format: "mp3"},
//	    FailFor: map[string]error{"fax": errors.New("quota")},
//	}
//	clip, _ := p.Synthesize(ctx, "fox")
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voicecoach/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Text is the text passed to Synthesize.
	Text string
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Audio is returned by Synthesize on success. When Audio.Data is empty a
	// clip containing the requested text is returned with Format "mp3".
	Audio tts.Audio

	// SynthesizeErr, if non-nil, is returned for every call.
	SynthesizeErr error

	// FailFor maps specific texts to the error returned for them.
	FailFor map[string]error

	// Delay makes Synthesize wait before answering. If ctx ends first,
	// Synthesize returns ctx.Err().
	Delay time.Duration

	// --- Call records ---

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call and returns the configured clip or error.
func (p *Provider) Synthesize(ctx context.Context, text string) (tts.Audio, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Text: text})
	delay, audio, err := p.Delay, p.Audio, p.SynthesizeErr
	if e, ok := p.FailFor[text]; ok {
		err = e
	}
	p.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return tts.Audio{}, ctx.Err()
		case <-t.C:
		}
	}
	if err != nil {
		return tts.Audio{}, err
	}
	if len(audio.Data) == 0 {
		return tts.Audio{Data: []byte("mock-audio:" + text), Format: "mp3"}, nil
	}
	return tts.Audio{Data: append([]byte(nil), audio.Data...), Format: audio.Format}, nil
}

// Texts returns the texts passed to Synthesize in call order. Thread-safe.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.SynthesizeCalls))
	for i, c := range p.SynthesizeCalls {
		out[i] = c.Text
	}
	return out
}

// CallCount returns the number of Synthesize calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
