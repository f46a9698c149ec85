// Package timeline_test tests timestamp accounting in the timeline builder.
package timeline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/narravox/narrator/internal/core"
	"github.com/narravox/narrator/internal/timeline"
)

func segmentOfDuration(seconds float64, spoken string) core.AudioSegment {
	return core.AudioSegment{
		Samples:    make(core.PCM, int(seconds*core.SampleRate)),
		SampleRate: core.SampleRate,
		SpokenText: spoken,
	}
}

func TestBuilder_TwoSegmentsTimestamps(t *testing.T) {
	t.Parallel()

	builder := timeline.NewBuilder(core.SampleRate)

	builder.Append(0, segmentOfDuration(1.0, "first"))
	builder.Append(1, segmentOfDuration(0.8, "second"))

	entries := builder.Entries()
	require.Len(t, entries, 2)

	assert.InDelta(t, 0.0, entries[0].StartSeconds, 1e-9)
	assert.InDelta(t, 1.0, entries[0].EndSeconds, 1e-9)
	assert.InDelta(t, 1.15, entries[1].StartSeconds, 1e-9)
	assert.InDelta(t, 1.95, entries[1].EndSeconds, 1e-9)

	assert.Equal(t, "first", entries[0].Text)
	assert.Equal(t, 1, entries[1].SentenceIndex)
}

// Under the trailing-silence policy, total duration equals the sum of the
// segment durations plus one silence unit per segment.
func TestBuilder_TotalDurationAccounting(t *testing.T) {
	t.Parallel()

	builder := timeline.NewBuilder(core.SampleRate)

	durations := []float64{0.5, 1.25, 0.3, 2.0}
	for i, d := range durations {
		builder.Append(i, segmentOfDuration(d, "segment"))
	}

	var segmentSum float64

	for _, entry := range builder.Entries() {
		segmentSum += entry.EndSeconds - entry.StartSeconds
	}

	expected := segmentSum + float64(len(durations))*core.SilenceSeconds
	assert.InDelta(t, expected, builder.DurationSeconds(), 1e-3)

	decodedDuration := builder.Samples().DurationSeconds(core.SampleRate)
	assert.InDelta(t, expected, decodedDuration, 1e-3)
}

func TestBuilder_EntriesMonotonicallyNonDecreasing(t *testing.T) {
	t.Parallel()

	builder := timeline.NewBuilder(core.SampleRate)

	for i := range 10 {
		builder.Append(i/2, segmentOfDuration(0.123, "s"))
	}

	entries := builder.Entries()
	for i := 1; i < len(entries); i++ {
		assert.GreaterOrEqual(t, entries[i].StartSeconds, entries[i-1].StartSeconds)
		assert.InDelta(
			t,
			core.SilenceSeconds,
			entries[i].StartSeconds-entries[i-1].EndSeconds,
			1e-3,
		)
	}
}

func TestBuilder_MultipleSegmentsPerSentence(t *testing.T) {
	t.Parallel()

	builder := timeline.NewBuilder(core.SampleRate)

	builder.Append(0, segmentOfDuration(0.4, "sentence part one"))
	builder.Append(0, segmentOfDuration(0.6, "part two"))

	entries := builder.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, 0, entries[0].SentenceIndex)
	assert.Equal(t, 0, entries[1].SentenceIndex)
}

func TestBuilder_Empty(t *testing.T) {
	t.Parallel()

	builder := timeline.NewBuilder(core.SampleRate)

	assert.True(t, builder.Empty())
	assert.Empty(t, builder.Samples())
	assert.Empty(t, builder.Entries())
	assert.Zero(t, builder.DurationSeconds())
}
