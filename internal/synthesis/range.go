package synthesis

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/narravox/narrator/internal/core"
	"github.com/narravox/narrator/internal/power"
	"github.com/narravox/narrator/internal/timeline"
)

// RangeResult is the per-chapter outcome of a bulk synthesis. A failed
// chapter carries its error without affecting sibling chapters.
type RangeResult struct {
	Audio    []byte
	Format   core.OutputFormat
	Metadata []core.TimingEntry
	Err      error
}

// Range synthesizes a set of chapters with bounded concurrency.
//
// The batch size is an adaptive admission-control value computed from the
// capability probe (device class and battery state), not a static constant.
// It bounds both the chapters in flight and, via a semaphore shared across
// them, the total engine calls in flight. Between batches the thermal
// governor may force a cooldown pause; the final batch gets none. Results
// are keyed by each chapter's original index and are slotted positionally,
// independent of completion order.
func (s *Service) Range(
	ctx context.Context,
	chapters []core.Chapter,
	voice string,
	speed float64,
) (map[int]*RangeResult, error) {
	voiceErr := core.ValidateVoice(voice)
	if voiceErr != nil {
		return nil, voiceErr
	}

	if speed <= 0 {
		return nil, core.ErrSpeedRange
	}

	batchSize := power.BatchSize(s.probe.DeviceClass(), s.probe.OnBattery())
	s.log.Info("Range synthesis: %d chapters, batch size %d", len(chapters), batchSize)

	// Pre-sized by original position so completion order cannot reorder
	// the output.
	slots := make([]*RangeResult, len(chapters))

	// Shared by every chapter worker: caps total in-flight engine calls at
	// the batch size even though chapters fan their sentences out too.
	limiter := semaphore.NewWeighted(int64(batchSize))

	for start := 0; start < len(chapters); start += batchSize {
		end := min(start+batchSize, len(chapters))

		group, groupCtx := errgroup.WithContext(ctx)

		for position := start; position < end; position++ {
			chapter := chapters[position]

			group.Go(func() error {
				slots[position] = s.synthesizeRangeChapter(
					groupCtx, chapter, voice, speed, batchSize, limiter,
				)

				// A chapter failure is recorded in its slot; it must not
				// cancel sibling chapters already scheduled.
				return nil
			})
		}

		_ = group.Wait()

		if end < len(chapters) {
			s.governor.Cooldown(ctx)
		}
	}

	results := make(map[int]*RangeResult, len(chapters))
	for position, chapter := range chapters {
		results[chapter.Index] = slots[position]
	}

	return results, nil
}

// synthesizeRangeChapter runs one chapter of a bulk request: sentences are
// synthesized concurrently in index-keyed slots, then stitched back in
// original sentence order.
func (s *Service) synthesizeRangeChapter(
	ctx context.Context,
	chapter core.Chapter,
	voice string,
	speed float64,
	batchSize int,
	limiter *semaphore.Weighted,
) *RangeResult {
	sentences := s.segmenter.Segment(chapter.Content)

	segmentsBySentence, synthErr := s.synthesizeSentences(
		ctx, sentences, voice, speed, batchSize, limiter,
	)
	if synthErr != nil {
		return &RangeResult{Audio: nil, Format: "", Metadata: nil, Err: synthErr}
	}

	builder := timeline.NewBuilder(core.SampleRate)

	for sentenceIndex, segments := range segmentsBySentence {
		for _, segment := range segments {
			builder.Append(sentenceIndex, segment)
		}
	}

	if builder.Empty() {
		return &RangeResult{
			Audio:    nil,
			Format:   core.FormatMP3,
			Metadata: []core.TimingEntry{},
			Err:      nil,
		}
	}

	payload, format, encodeErr := s.encoder.Encode(
		ctx, builder.Samples(), core.SampleRate, core.FormatMP3,
	)
	if encodeErr != nil {
		return &RangeResult{Audio: nil, Format: "", Metadata: nil, Err: encodeErr}
	}

	return &RangeResult{
		Audio:    payload,
		Format:   format,
		Metadata: builder.Entries(),
		Err:      nil,
	}
}

// synthesizeSentences fans sentence synthesis out over the worker group in
// batches and slots segments by original sentence index. Every engine call
// first acquires the request-wide limiter, so sibling chapters cannot
// multiply the concurrency past the batch size. The first sentence failure
// aborts the chapter; partial audio is discarded.
func (s *Service) synthesizeSentences(
	ctx context.Context,
	sentences []string,
	voice string,
	speed float64,
	batchSize int,
	limiter *semaphore.Weighted,
) ([][]core.AudioSegment, error) {
	segmentsBySentence := make([][]core.AudioSegment, len(sentences))

	for start := 0; start < len(sentences); start += batchSize {
		end := min(start+batchSize, len(sentences))

		group, groupCtx := errgroup.WithContext(ctx)

		for index := start; index < end; index++ {
			sentence := sentences[index]

			group.Go(func() error {
				acquireErr := limiter.Acquire(groupCtx, 1)
				if acquireErr != nil {
					return fmt.Errorf("synthesis admission wait cancelled: %w", acquireErr)
				}
				defer limiter.Release(1)

				segments, err := s.engine.Synthesize(groupCtx, sentence, voice, speed)
				if err != nil {
					return err
				}

				segmentsBySentence[index] = segments

				return nil
			})
		}

		waitErr := group.Wait()
		if waitErr != nil {
			return nil, waitErr
		}

		if end < len(sentences) {
			s.governor.Cooldown(ctx)
		}
	}

	return segmentsBySentence, nil
}
