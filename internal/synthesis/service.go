// Package synthesis orchestrates the chapter audio pipeline: segmentation,
// per-sentence synthesis, timeline assembly, encoding, remote upload and
// cache bookkeeping.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/narravox/narrator/internal/audio"
	"github.com/narravox/narrator/internal/cache"
	"github.com/narravox/narrator/internal/core"
	"github.com/narravox/narrator/internal/power"
	"github.com/narravox/narrator/internal/text"
	"github.com/narravox/narrator/internal/timeline"
)

// ErrUnexpectedFlightResult indicates an internal invariant violation in the
// in-flight deduplication path.
var ErrUnexpectedFlightResult = errors.New("unexpected in-flight result type")

// Deps carries the collaborators of the pipeline service. The engine
// instance is process-wide, constructed once at startup and shared by
// reference; the service never mutates it.
type Deps struct {
	Engine  core.Engine
	Index   *cache.Index
	Blobs   core.BlobStore
	Probe   core.Probe
	Encoder *audio.Encoder
	Log     *logger.Logger
}

// Service implements the chapter audio-synthesis pipeline.
type Service struct {
	engine    core.Engine
	index     *cache.Index
	blobs     core.BlobStore
	probe     core.Probe
	encoder   *audio.Encoder
	governor  *power.ThermalGovernor
	segmenter *text.Segmenter
	log       *logger.Logger

	// flight deduplicates concurrent first requests for the same
	// never-before-seen identity, so at most one synthesis runs per
	// chapter identity even under racing callers.
	flight singleflight.Group
}

// New creates the pipeline service. maxTempC is the thermal ceiling used by
// the batch orchestrator's cooldown governor.
func New(deps Deps, maxTempC float64) *Service {
	return &Service{
		engine:    deps.Engine,
		index:     deps.Index,
		blobs:     deps.Blobs,
		probe:     deps.Probe,
		encoder:   deps.Encoder,
		governor:  power.NewThermalGovernor(deps.Probe, maxTempC),
		segmenter: text.NewSegmenter(),
		log:       deps.Log,
		flight:    singleflight.Group{},
	}
}

// ChapterResult is the outcome of one chapter synthesis.
type ChapterResult struct {
	// Audio is the encoded payload. Empty when the result was served from
	// cache (the payload lives remotely) or when the chapter had nothing
	// to voice.
	Audio []byte
	// Format is the container actually produced, which may be the WAV
	// fallback when the compressed codec is unavailable.
	Format core.OutputFormat
	// Metadata is the ordered timing sequence for text-sync playback.
	Metadata []core.TimingEntry
	// RemoteHandle is the blob handle when the upload succeeded, empty
	// otherwise. Without a handle no cache record was persisted.
	RemoteHandle string
	// FromCache reports that synthesis was short-circuited by a cache hit.
	FromCache bool
	// ElapsedSeconds is the wall-clock synthesis time, zero on cache hits.
	ElapsedSeconds float64
}

// Chapter runs the full pipeline for one chapter.
//
// Invalid input is rejected before any engine call. A cache hit returns the
// stored record with zero engine invocations. An engine failure aborts the
// chapter and discards partial audio. Upload failure does not fail the
// result; it only skips cache persistence, so the next request synthesizes
// again.
func (s *Service) Chapter(ctx context.Context, req core.SynthesisRequest) (*ChapterResult, error) {
	validationErr := req.Validate()
	if validationErr != nil {
		return nil, validationErr
	}

	if req.Identity == nil {
		return s.synthesizeAndUpload(ctx, req)
	}

	cached, lookupErr := s.lookupRecord(ctx, *req.Identity)
	if lookupErr != nil {
		return nil, lookupErr
	}

	if cached != nil {
		return cached, nil
	}

	flightKey := req.Identity.BookSlug + "/" + req.Identity.ItemID

	result, flightErr, _ := s.flight.Do(flightKey, func() (any, error) {
		// Re-check under the flight: a concurrent duplicate may have
		// stored the record while this caller queued.
		again, err := s.lookupRecord(ctx, *req.Identity)
		if err != nil {
			return nil, err
		}

		if again != nil {
			return again, nil
		}

		return s.synthesizeAndUpload(ctx, req)
	})
	if flightErr != nil {
		return nil, flightErr
	}

	chapterResult, ok := result.(*ChapterResult)
	if !ok {
		return nil, ErrUnexpectedFlightResult
	}

	return chapterResult, nil
}

// ResolvePlayableURL exchanges a remote handle for a temporary URL.
func (s *Service) ResolvePlayableURL(ctx context.Context, remoteHandle string) (string, error) {
	return s.index.ResolvePlayableURL(ctx, remoteHandle)
}

func (s *Service) lookupRecord(
	ctx context.Context,
	identity core.ChapterIdentity,
) (*ChapterResult, error) {
	record, err := s.index.Lookup(ctx, identity)
	if errors.Is(err, cache.ErrNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("cache lookup failed: %w", err)
	}

	return &ChapterResult{
		Audio:          nil,
		Format:         "",
		Metadata:       record.Metadata,
		RemoteHandle:   record.RemoteHandle,
		FromCache:      true,
		ElapsedSeconds: 0,
	}, nil
}

func (s *Service) synthesizeAndUpload(
	ctx context.Context,
	req core.SynthesisRequest,
) (*ChapterResult, error) {
	started := time.Now()

	builder := timeline.NewBuilder(core.SampleRate)

	sentences := s.segmenter.Segment(req.Text)

	for index, sentence := range sentences {
		segments, synthErr := s.engine.Synthesize(ctx, sentence, req.Voice, req.Speed)
		if synthErr != nil {
			// Partial audio is discarded, never returned.
			return nil, synthErr
		}

		for _, segment := range segments {
			builder.Append(index, segment)
		}
	}

	if builder.Empty() {
		return &ChapterResult{
			Audio:          nil,
			Format:         req.Format,
			Metadata:       []core.TimingEntry{},
			RemoteHandle:   "",
			FromCache:      false,
			ElapsedSeconds: roundHundredths(time.Since(started).Seconds()),
		}, nil
	}

	payload, actualFormat, encodeErr := s.encoder.Encode(
		ctx, builder.Samples(), core.SampleRate, req.Format,
	)
	if encodeErr != nil {
		return nil, fmt.Errorf("encoding failed: %w", encodeErr)
	}

	remoteHandle := s.uploadPayload(ctx, req, payload, actualFormat)

	if req.Identity != nil && remoteHandle != "" {
		storeErr := s.index.Store(ctx, *req.Identity, remoteHandle, builder.Entries())
		if storeErr != nil {
			s.log.Warn("Cache store failed for %s/%s: %v",
				req.Identity.BookSlug, req.Identity.ItemID, storeErr)

			remoteHandle = ""
		}
	}

	return &ChapterResult{
		Audio:          payload,
		Format:         actualFormat,
		Metadata:       builder.Entries(),
		RemoteHandle:   remoteHandle,
		FromCache:      false,
		ElapsedSeconds: roundHundredths(time.Since(started).Seconds()),
	}, nil
}

// uploadPayload pushes the encoded audio to the remote blob collaborator.
// Failure is non-fatal: the caller still receives the payload, only cache
// persistence is skipped.
func (s *Service) uploadPayload(
	ctx context.Context,
	req core.SynthesisRequest,
	payload []byte,
	format core.OutputFormat,
) string {
	filename := blobFilename(req.Identity, format)

	remoteHandle, uploadErr := s.blobs.Upload(ctx, filename, payload)
	if uploadErr != nil {
		s.log.Warn("Remote upload skipped for %s: %v", filename, uploadErr)

		return ""
	}

	return remoteHandle
}

func blobFilename(identity *core.ChapterIdentity, format core.OutputFormat) string {
	base := uuid.NewString()
	if identity != nil {
		base = text.SanitizeFilename(identity.BookSlug + "-" + identity.ItemID)
	}

	return base + "." + string(format)
}

func roundHundredths(seconds float64) float64 {
	return math.Round(seconds*100) / 100
}
