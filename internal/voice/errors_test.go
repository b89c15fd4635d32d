package voice

import (
	"errors"
	"fmt"
	"testing"

	"github.com/MrWong99/voicecoach/internal/assets"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"invalid", invalid("text must not be empty"), KindInvalidInput},
		{"voice storage", fmt.Errorf("%w: stage upload: %w", ErrStorage, errors.New("disk full")), KindStorage},
		{"assets storage", fmt.Errorf("wrap: %w", assets.ErrStorage), KindStorage},
		{"not found", fmt.Errorf("%w: abc", assets.ErrNotFound), KindNotFound},
		{"corrupt", fmt.Errorf("%w: abc is empty", assets.ErrCorrupt), KindCorrupt},
		{"transcription", fmt.Errorf("%w: upstream 503", ErrTranscription), KindTranscription},
		{"synthesis", fmt.Errorf("%w: quota", ErrSynthesis), KindSynthesis},
		{"other", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestErrStorage_MatchesAssetsSentinel(t *testing.T) {
	if !errors.Is(ErrStorage, assets.ErrStorage) {
		t.Fatal("voice.ErrStorage does not match assets.ErrStorage")
	}
}
