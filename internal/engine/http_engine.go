// Package engine adapts a Kokoro-compatible HTTP synthesis server to the
// core.Engine interface.
//
// The adapter owns the boundary between the model server's wire format and
// the rest of the pipeline: whatever the server returns is normalized into
// core.AudioSegment PCM buffers before it reaches the timeline builder.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/book-expert/logger"

	"github.com/narravox/narrator/internal/audio"
	"github.com/narravox/narrator/internal/core"
)

// API endpoints and paths.
const (
	apiSynthesize = "/v1/audio/speech"
	apiHealth     = "/health"
)

// HTTP headers.
const (
	headerContentType    = "Content-Type"
	headerAccept         = "Accept"
	headerNormalizedText = "X-Normalized-Text"
	contentTypeJSON      = "application/json"
	contentTypeWAV       = "audio/wav"
)

// Static errors.
var (
	// ErrSynthesisFailed wraps any engine-side failure; the offending
	// sentence is attached by the caller-facing wrapper.
	ErrSynthesisFailed = errors.New("synthesis failed")
	// ErrEmptyAudioResponse indicates the server returned no audio data.
	ErrEmptyAudioResponse = errors.New("received empty audio data")
	// ErrUnexpectedContentType indicates a non-WAV synthesis response.
	ErrUnexpectedContentType = errors.New("unexpected content type")
)

// request is the JSON payload for the synthesis endpoint.
type request struct {
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	Speed          float64 `json:"speed"`
	ResponseFormat string  `json:"response_format"`
}

// errorResponse is the structured error body returned by the server.
type errorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// HTTPEngine implements core.Engine against a synthesis HTTP service.
//
// The service connection is verified lazily behind a single-initialization
// gate: only success is latched. A failed probe (the model server still
// booting, a dropped packet) is retried by the next caller instead of
// poisoning the adapter for the process lifetime.
type HTTPEngine struct {
	httpClient *http.Client
	baseURL    string
	log        *logger.Logger

	initMu sync.Mutex
	ready  bool
}

// NewHTTPEngine creates an engine adapter for the service at baseURL.
// The timeout applies to every HTTP request made by this adapter.
func NewHTTPEngine(baseURL string, timeout time.Duration, log *logger.Logger) *HTTPEngine {
	return &HTTPEngine{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		log:        log,
		initMu:     sync.Mutex{},
		ready:      false,
	}
}

// Synthesize converts one sentence into one or more audio segments.
//
// Engine errors propagate tagged with the offending sentence text; the core
// never retries them. The recorded spoken text is the server's normalized
// rendering when it reports one, otherwise the input sentence.
func (e *HTTPEngine) Synthesize(
	ctx context.Context,
	sentence, voice string,
	speed float64,
) ([]core.AudioSegment, error) {
	initErr := e.ensureReady(ctx)
	if initErr != nil {
		return nil, fmt.Errorf("%w for sentence %q: %w", ErrSynthesisFailed, sentence, initErr)
	}

	wavData, spokenText, err := e.requestSpeech(ctx, sentence, voice, speed)
	if err != nil {
		return nil, fmt.Errorf("%w for sentence %q: %w", ErrSynthesisFailed, sentence, err)
	}

	samples, sampleRate, decodeErr := audio.DecodeWAV(wavData)
	if decodeErr != nil {
		return nil, fmt.Errorf("%w for sentence %q: %w", ErrSynthesisFailed, sentence, decodeErr)
	}

	if sampleRate == 0 {
		sampleRate = core.SampleRate
	}

	if spokenText == "" {
		spokenText = sentence
	}

	return []core.AudioSegment{{
		Samples:    samples,
		SampleRate: sampleRate,
		SpokenText: spokenText,
	}}, nil
}

// ensureReady verifies the service health before the first synthesis.
// Concurrent first callers share one probe; after a success no further
// probes run, after a failure the next caller probes again.
func (e *HTTPEngine) ensureReady(ctx context.Context) error {
	e.initMu.Lock()
	defer e.initMu.Unlock()

	if e.ready {
		return nil
	}

	err := e.healthCheck(ctx)
	if err != nil {
		return err
	}

	e.ready = true
	e.log.Info("Synthesis engine at %s is ready", e.baseURL)

	return nil
}

func (e *HTTPEngine) healthCheck(ctx context.Context) error {
	url := e.baseURL + apiHealth

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for engine at %s: %w", e.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health check returned %s", ErrSynthesisFailed, resp.Status)
	}

	return nil
}

func (e *HTTPEngine) requestSpeech(
	ctx context.Context,
	sentence, voice string,
	speed float64,
) (wavData []byte, spokenText string, err error) {
	requestBody, err := json.Marshal(request{
		Input:          sentence,
		Voice:          voice,
		Speed:          speed,
		ResponseFormat: "wav",
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := e.baseURL + apiSynthesize

	httpReq, err := http.NewRequestWithContext(
		ctx, http.MethodPost, url, bytes.NewBuffer(requestBody),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeWAV)

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, "", fmt.Errorf("failed to send request to engine at %s: %w", e.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", parseErrorResponse(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	if contentType != contentTypeWAV {
		return nil, "", fmt.Errorf("%w: expected %s, got %s",
			ErrUnexpectedContentType, contentTypeWAV, contentType)
	}

	wavData, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(wavData) == 0 {
		return nil, "", ErrEmptyAudioResponse
	}

	return wavData, resp.Header.Get(headerNormalizedText), nil
}

// parseErrorResponse attempts to decode a structured JSON error from the
// service, falling back to the raw body so diagnostics are preserved.
func parseErrorResponse(resp *http.Response) error {
	var errorResp errorResponse

	err := json.NewDecoder(resp.Body).Decode(&errorResp)
	if err == nil {
		return fmt.Errorf("engine error (%s): %s (code: %s)",
			resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	body, _ := io.ReadAll(resp.Body)

	return fmt.Errorf("%w: engine returned %s, body: %s",
		ErrSynthesisFailed, resp.Status, string(body))
}
