package synthesis

import (
	"context"
	"fmt"

	"github.com/narravox/narrator/internal/core"
)

// Chunk is one independently-decodable piece of streamed audio. Chunks
// carry no timing metadata; the stream trades a slightly larger total
// payload for minimal time-to-first-audio.
type Chunk struct {
	Sequence int
	Format   core.OutputFormat
	Data     []byte
}

// Stream synthesizes text into a finite, non-restartable sequence of
// encoded audio chunks, one per engine segment. No silence is inserted
// between segments and no shared timeline is built.
//
// The chunk channel closes when the stream ends; at most one error is sent
// on the error channel and it terminates the stream.
func (s *Service) Stream(
	ctx context.Context,
	chapterText, voice string,
	speed float64,
) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk, 1)
	errs := make(chan error, 1)

	req := core.SynthesisRequest{
		Text:     chapterText,
		Voice:    voice,
		Speed:    speed,
		Format:   core.FormatMP3,
		Identity: nil,
	}

	validationErr := req.Validate()
	if validationErr != nil {
		errs <- validationErr

		close(chunks)
		close(errs)

		return chunks, errs
	}

	go func() {
		defer close(chunks)
		defer close(errs)

		streamErr := s.streamSegments(ctx, req, chunks)
		if streamErr != nil {
			errs <- streamErr
		}
	}()

	return chunks, errs
}

func (s *Service) streamSegments(
	ctx context.Context,
	req core.SynthesisRequest,
	chunks chan<- Chunk,
) error {
	sequence := 0

	for _, sentence := range s.segmenter.Segment(req.Text) {
		segments, synthErr := s.engine.Synthesize(ctx, sentence, req.Voice, req.Speed)
		if synthErr != nil {
			return synthErr
		}

		for _, segment := range segments {
			data, format, encodeErr := s.encoder.Encode(
				ctx, segment.Samples, segment.SampleRate, req.Format,
			)
			if encodeErr != nil {
				return fmt.Errorf("failed to encode stream chunk %d: %w", sequence, encodeErr)
			}

			select {
			case chunks <- Chunk{Sequence: sequence, Format: format, Data: data}:
				sequence++
			case <-ctx.Done():
				return fmt.Errorf("stream cancelled: %w", ctx.Err())
			}
		}
	}

	return nil
}
