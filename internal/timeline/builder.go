// Package timeline assembles per-segment audio and timing metadata into a
// single chapter-level sequence.
//
// Trailing-silence policy: the fixed inter-segment silence is appended after
// EVERY segment, including the last one. Total duration is therefore
// sum(segment durations) + segment_count * silence. Keeping the trailing
// pause makes chapter-range concatenation a plain append with no special
// casing at chapter boundaries.
package timeline

import (
	"math"

	"github.com/narravox/narrator/internal/core"
)

const millisecondPrecision = 1000

// Builder accumulates synthesized segments into concatenated audio plus an
// ordered timing-metadata sequence. The zero clock starts at 0.0 seconds.
type Builder struct {
	sampleRate int
	silence    core.PCM
	samples    core.PCM
	entries    []core.TimingEntry
	clock      float64
}

// NewBuilder creates a builder for the given sample rate.
func NewBuilder(sampleRate int) *Builder {
	return &Builder{
		sampleRate: sampleRate,
		silence:    make(core.PCM, int(core.SilenceSeconds*float64(sampleRate))),
		samples:    nil,
		entries:    nil,
		clock:      0,
	}
}

// Append records one synthesized segment belonging to the sentence at the
// given index, then advances the running clock past the segment and the
// fixed silence that follows it.
//
// The recorded text is the engine's normalized rendering, not the original
// sentence; text-sync consumers must tolerate the mismatch.
func (b *Builder) Append(sentenceIndex int, segment core.AudioSegment) {
	duration := segment.Samples.DurationSeconds(b.sampleRate)

	b.entries = append(b.entries, core.TimingEntry{
		SentenceIndex: sentenceIndex,
		Text:          segment.SpokenText,
		StartSeconds:  roundMillis(b.clock),
		EndSeconds:    roundMillis(b.clock + duration),
	})

	b.samples = append(b.samples, segment.Samples...)
	b.samples = append(b.samples, b.silence...)

	b.clock += duration + core.SilenceSeconds
}

// Samples returns the concatenated raw audio, silence included.
func (b *Builder) Samples() core.PCM {
	return b.samples
}

// Entries returns the ordered timing metadata.
func (b *Builder) Entries() []core.TimingEntry {
	return b.entries
}

// DurationSeconds returns the running clock, which equals the total audio
// duration under the trailing-silence policy.
func (b *Builder) DurationSeconds() float64 {
	return b.clock
}

// Empty reports whether no segments were appended.
func (b *Builder) Empty() bool {
	return len(b.entries) == 0
}

func roundMillis(seconds float64) float64 {
	return math.Round(seconds*millisecondPrecision) / millisecondPrecision
}
