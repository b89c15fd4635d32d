package voice

import (
	"errors"
	"fmt"

	"github.com/MrWong99/voicecoach/internal/assets"
)

var (
	// ErrInvalidInput reports a request rejected before any work was done.
	ErrInvalidInput = errors.New("voice: invalid input")

	// ErrStorage reports a failure staging the upload or storing a clip. It
	// wraps [assets.ErrStorage], so errors.Is matches either.
	ErrStorage = fmt.Errorf("voice: %w", assets.ErrStorage)

	// ErrTranscription reports a failed or timed-out transcription.
	ErrTranscription = errors.New("voice: transcription failed")

	// ErrSynthesis reports a failed synthesis on the bare text-to-speech path.
	ErrSynthesis = errors.New("voice: synthesis failed")
)

// Kind is the stable tag of an error, used in API error bodies and metrics.
type Kind string

const (
	KindInvalidInput  Kind = "invalid_input"
	KindStorage       Kind = "storage_error"
	KindTranscription Kind = "transcription_error"
	KindSynthesis     Kind = "synthesis_error"
	KindNotFound      Kind = "not_found"
	KindCorrupt       Kind = "corrupt"
	KindInternal      Kind = "internal"
)

// KindOf classifies err. A nil error has no kind and returns "".
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, assets.ErrNotFound):
		return KindNotFound
	case errors.Is(err, assets.ErrCorrupt):
		return KindCorrupt
	case errors.Is(err, ErrTranscription):
		return KindTranscription
	case errors.Is(err, ErrSynthesis):
		return KindSynthesis
	case errors.Is(err, assets.ErrStorage):
		return KindStorage
	default:
		return KindInternal
	}
}

// invalid builds an ErrInvalidInput with a client-facing message.
func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
