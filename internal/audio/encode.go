// Package audio converts raw PCM buffers into delivery containers.
//
// The compressed container (MP3, fixed bitrate) is the primary delivery
// format and is produced by the ffmpeg binary. The uncompressed container
// (WAV) is lossless and doubles as the fallback when the codec is missing.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"

	"github.com/book-expert/logger"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/narravox/narrator/internal/core"
)

const (
	bitDepth       = 16
	numChannels    = 1
	pcmWavFormat   = 1
	maxSampleValue = 32767

	ffmpegBinary = "ffmpeg"
)

// Static errors.
var (
	// ErrNoSamples indicates an attempt to encode an empty buffer.
	ErrNoSamples = errors.New("no samples to encode")
	// ErrCodecUnavailable indicates the mp3 encoder binary is missing.
	ErrCodecUnavailable = errors.New("mp3 codec unavailable")
)

// Encoder produces encoded audio payloads from raw samples.
type Encoder struct {
	bitrateKbps int
	log         *logger.Logger
}

// NewEncoder creates an encoder with a fixed delivery bitrate.
func NewEncoder(bitrateKbps int, log *logger.Logger) *Encoder {
	return &Encoder{
		bitrateKbps: bitrateKbps,
		log:         log,
	}
}

// Encode converts raw samples into the requested container and reports the
// container actually produced. When the compressed codec is unavailable the
// encoder degrades to WAV rather than failing the request.
func (e *Encoder) Encode(
	ctx context.Context,
	samples core.PCM,
	sampleRate int,
	format core.OutputFormat,
) ([]byte, core.OutputFormat, error) {
	if len(samples) == 0 {
		return nil, "", ErrNoSamples
	}

	if format == core.FormatMP3 {
		data, mp3Err := e.encodeMP3(ctx, samples, sampleRate)
		if mp3Err == nil {
			return data, core.FormatMP3, nil
		}

		if !errors.Is(mp3Err, ErrCodecUnavailable) {
			return nil, "", mp3Err
		}

		e.log.Warn("MP3 codec unavailable, falling back to WAV: %v", mp3Err)
	}

	data, wavErr := EncodeWAV(samples, sampleRate)
	if wavErr != nil {
		return nil, "", wavErr
	}

	return data, core.FormatWAV, nil
}

// EncodeWAV writes samples into an uncompressed 16-bit mono WAV payload.
// Samples are clipped to [-1, 1] before integer quantization so that
// out-of-range values cannot wrap around.
func EncodeWAV(samples core.PCM, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}

	tempFile, err := os.CreateTemp("", "narrator-encode-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file for wav output: %w", err)
	}

	tempPath := tempFile.Name()
	defer func() { _ = os.Remove(tempPath) }()

	encoder := wav.NewEncoder(tempFile, sampleRate, bitDepth, numChannels, pcmWavFormat)

	buffer := &audio.IntBuffer{
		Data:           Quantize(samples),
		Format:         &audio.Format{NumChannels: numChannels, SampleRate: sampleRate},
		SourceBitDepth: bitDepth,
	}

	writeErr := encoder.Write(buffer)
	if writeErr != nil {
		_ = tempFile.Close()

		return nil, fmt.Errorf("failed to write wav samples: %w", writeErr)
	}

	closeErr := encoder.Close()
	if closeErr != nil {
		_ = tempFile.Close()

		return nil, fmt.Errorf("failed to finalize wav container: %w", closeErr)
	}

	fileCloseErr := tempFile.Close()
	if fileCloseErr != nil {
		return nil, fmt.Errorf("failed to close wav temp file: %w", fileCloseErr)
	}

	data, readErr := os.ReadFile(tempPath)
	if readErr != nil {
		return nil, fmt.Errorf("failed to read encoded wav data: %w", readErr)
	}

	return data, nil
}

// DecodeWAV parses a WAV payload back into normalized samples and reports
// the container's sample rate. Used by the engine adapter to normalize the
// model server's output and by round-trip tests.
func DecodeWAV(data []byte) (core.PCM, int, error) {
	decoder := wav.NewDecoder(bytes.NewReader(data))

	buffer, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode wav payload: %w", err)
	}

	sourceBitDepth := buffer.SourceBitDepth
	if sourceBitDepth == 0 {
		sourceBitDepth = bitDepth
	}

	scale := float64(int(1)<<(sourceBitDepth-1)) - 1

	samples := make(core.PCM, len(buffer.Data))
	for i, value := range buffer.Data {
		samples[i] = float64(value) / scale
	}

	return samples, buffer.Format.SampleRate, nil
}

// Quantize clips samples to the valid normalized range and converts them to
// 16-bit integer values.
func Quantize(samples core.PCM) []int {
	quantized := make([]int, len(samples))

	for i, sample := range samples {
		if sample > 1.0 {
			sample = 1.0
		}

		if sample < -1.0 {
			sample = -1.0
		}

		quantized[i] = int(math.Round(sample * maxSampleValue))
	}

	return quantized
}

// encodeMP3 converts samples to MP3 by round-tripping through the ffmpeg
// binary with a fixed bitrate.
func (e *Encoder) encodeMP3(ctx context.Context, samples core.PCM, sampleRate int) ([]byte, error) {
	_, lookErr := exec.LookPath(ffmpegBinary)
	if lookErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrCodecUnavailable, lookErr)
	}

	wavData, wavErr := EncodeWAV(samples, sampleRate)
	if wavErr != nil {
		return nil, wavErr
	}

	inputFile, err := os.CreateTemp("", "narrator-mp3-in-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create mp3 input temp file: %w", err)
	}

	inputPath := inputFile.Name()
	defer func() { _ = os.Remove(inputPath) }()

	_, writeErr := inputFile.Write(wavData)

	closeErr := inputFile.Close()
	if writeErr != nil {
		return nil, fmt.Errorf("failed to write mp3 input temp file: %w", writeErr)
	}

	if closeErr != nil {
		return nil, fmt.Errorf("failed to close mp3 input temp file: %w", closeErr)
	}

	outputPath := inputPath + ".mp3"
	defer func() { _ = os.Remove(outputPath) }()

	args := []string{
		"-y",
		"-i", inputPath,
		"-codec:a", "libmp3lame",
		"-b:a", strconv.Itoa(e.bitrateKbps) + "k",
		outputPath,
	}

	// #nosec G204 -- arguments are fixed flags plus generated temp paths
	cmd := exec.CommandContext(ctx, ffmpegBinary, args...)

	output, runErr := cmd.CombinedOutput()
	if runErr != nil {
		return nil, fmt.Errorf("ffmpeg execution failed: %w - output: %s", runErr, string(output))
	}

	data, readErr := os.ReadFile(outputPath)
	if readErr != nil {
		return nil, fmt.Errorf("failed to read encoded mp3 data: %w", readErr)
	}

	return data, nil
}
