package core

import (
	"errors"
	"fmt"
	"strings"
)

// Validation errors returned before any synthesis work is performed.
var (
	// ErrEmptyText indicates that the request text is empty or whitespace.
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrVoiceEmpty indicates that no voice was supplied.
	ErrVoiceEmpty = errors.New("voice cannot be empty")
	// ErrUnsupportedVoice indicates that the voice is not in the registered set.
	ErrUnsupportedVoice = errors.New("unsupported voice")
	// ErrSpeedRange indicates that the speed multiplier is not positive.
	ErrSpeedRange = errors.New("speed must be greater than 0")
	// ErrUnsupportedFormat indicates an unknown output container.
	ErrUnsupportedFormat = errors.New("unsupported output format")
)

// DefaultVoice is used when a request leaves the voice unset.
const DefaultVoice = "af_heart"

// registeredVoices is the fixed set of voices the engine accepts. An
// unknown voice is a rejection, never a fallback.
var registeredVoices = map[string]struct{}{
	"af_heart":   {},
	"af_bella":   {},
	"af_nicole":  {},
	"am_adam":    {},
	"am_michael": {},
	"bf_emma":    {},
	"bm_george":  {},
}

// SynthesisRequest describes one chapter synthesis job.
type SynthesisRequest struct {
	Text     string
	Voice    string
	Speed    float64
	Format   OutputFormat
	Identity *ChapterIdentity
}

// Validate rejects invalid input before any engine call occurs.
func (r *SynthesisRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return ErrEmptyText
	}

	voiceErr := ValidateVoice(r.Voice)
	if voiceErr != nil {
		return voiceErr
	}

	if r.Speed <= 0 {
		return fmt.Errorf("%w: got %f", ErrSpeedRange, r.Speed)
	}

	switch r.Format {
	case FormatMP3, FormatWAV:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, r.Format)
	}
}

// ValidateVoice checks a voice identifier against the registered set.
func ValidateVoice(voice string) error {
	if voice == "" {
		return ErrVoiceEmpty
	}

	_, ok := registeredVoices[voice]
	if !ok {
		return fmt.Errorf("%w: '%s'", ErrUnsupportedVoice, voice)
	}

	return nil
}
