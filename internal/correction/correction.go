// Package correction turns a word-level edit script into user-facing change
// records.
//
// Only replacements are worth spoken feedback: a replaced span is something the
// speaker attempted and got wrong, so it is the single kind flagged for audio.
// Added and removed spans are reported as text only.
package correction

import (
	"strings"

	"github.com/MrWong99/voicecoach/internal/align"
)

// Kind is the user-facing category of a [Change].
type Kind string

const (
	// KindAdded marks words the speaker said that the expected text lacks.
	KindAdded Kind = "added"

	// KindRemoved marks expected words the speaker skipped.
	KindRemoved Kind = "removed"

	// KindReplaced marks expected words the speaker said differently.
	KindReplaced Kind = "replaced"
)

// Change is one difference between the transcription and the expected text.
type Change struct {
	// Kind categorises the change.
	Kind Kind `json:"type"`

	// Text is the affected span for added and removed changes.
	Text string `json:"text,omitempty"`

	// Original is what the speaker actually said (replaced only).
	Original string `json:"original,omitempty"`

	// Replacement is what the speaker was expected to say (replaced only).
	Replacement string `json:"replacement,omitempty"`

	// AudioURL references a synthesized clip for this change. Empty when no
	// clip was requested or synthesis failed.
	AudioURL string `json:"replacement_audio_url,omitempty"`

	// Similarity is the pronunciation closeness of Original to Replacement in
	// [0, 1]. Nil unless a [Scorer] is configured and Kind is replaced.
	Similarity *float64 `json:"similarity,omitempty"`

	// SoundsAlike reports phonetic overlap between Original and Replacement.
	SoundsAlike bool `json:"sounds_alike,omitempty"`
}

// NeedsAudio reports whether the change should get a synthesized clip.
func (c Change) NeedsAudio() bool {
	return c.Kind == KindReplaced
}

// Scorer rates how close a spoken phrase sounds to the expected one.
// Implementations must be safe for concurrent use.
type Scorer interface {
	Score(said, expected string) (similarity float64, alike bool)
}

// Option is a functional option for configuring a [Planner].
type Option func(*Planner)

// WithScorer attaches a [Scorer] that annotates replaced changes with a
// similarity score. When nil (the default), no score is attached.
func WithScorer(s Scorer) Option {
	return func(p *Planner) {
		p.scorer = s
	}
}

// Planner builds change records from alignment output. A Planner is
// read-only after construction and safe for concurrent use.
type Planner struct {
	scorer Scorer
}

// NewPlanner constructs a [Planner] with the supplied options.
func NewPlanner(opts ...Option) *Planner {
	p := &Planner{}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Plan converts ops, produced by align.Align(reference, candidate), into
// change records. Equal ops are dropped; the remaining records keep op order.
// The returned slice is non-nil.
func (p *Planner) Plan(ops []align.Opcode, reference, candidate []string) []Change {
	changes := make([]Change, 0, len(ops))
	for _, op := range ops {
		switch op.Tag {
		case align.Insert:
			changes = append(changes, Change{
				Kind: KindAdded,
				Text: join(candidate[op.J1:op.J2]),
			})
		case align.Delete:
			changes = append(changes, Change{
				Kind: KindRemoved,
				Text: join(reference[op.I1:op.I2]),
			})
		case align.Replace:
			c := Change{
				Kind:        KindReplaced,
				Original:    join(candidate[op.J1:op.J2]),
				Replacement: join(reference[op.I1:op.I2]),
			}
			if p.scorer != nil {
				sim, alike := p.scorer.Score(c.Original, c.Replacement)
				c.Similarity = &sim
				c.SoundsAlike = alike
			}
			changes = append(changes, c)
		}
	}
	return changes
}

// Diff tokenises both texts, aligns candidate against reference and plans the
// resulting changes.
func (p *Planner) Diff(reference, candidate string) []Change {
	ref := align.Tokenize(reference)
	cand := align.Tokenize(candidate)
	return p.Plan(align.Align(ref, cand), ref, cand)
}

// Plan is [Planner.Plan] without a scorer.
func Plan(ops []align.Opcode, reference, candidate []string) []Change {
	return NewPlanner().Plan(ops, reference, candidate)
}

func join(tokens []string) string {
	return strings.Join(tokens, " ")
}
