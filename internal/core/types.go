package core

// Fixed audio constants shared by the engine adapter, the timeline builder
// and the encoder. The engine always emits mono PCM at SampleRate.
const (
	// SampleRate is the fixed output rate of the synthesis engine in Hz.
	SampleRate = 24000

	// SilenceSeconds is the fixed pause inserted after every synthesized
	// segment when a chapter timeline is assembled.
	SilenceSeconds = 0.15
)

// PCM is a mono audio buffer with normalized samples in [-1.0, 1.0].
type PCM []float64

// DurationSeconds returns the playing time of the buffer at the given rate.
func (p PCM) DurationSeconds(sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}

	return float64(len(p)) / float64(sampleRate)
}

// AudioSegment is one contiguous unit of synthesized audio corresponding to
// part or all of one sentence. SpokenText is the engine's normalized
// rendering of the input and may differ from the original spelling.
type AudioSegment struct {
	Samples    PCM
	SampleRate int
	SpokenText string
}

// ChapterIdentity is the composite cache key for one chapter's audio.
// It is structural, not content-derived: display names can change without
// invalidating the cache, and content changes are not detected.
type ChapterIdentity struct {
	BookSlug string
	ItemID   string
}

// TimingEntry maps a stretch of spoken text to its audio time range.
// Entries are ordered and monotonically non-decreasing in Start.
type TimingEntry struct {
	SentenceIndex int     `json:"index"`
	Text          string  `json:"text"`
	StartSeconds  float64 `json:"start"`
	EndSeconds    float64 `json:"end"`
}

// CacheRecord is one persisted cache row: where the encoded audio lives
// remotely and the timing metadata needed for text-sync playback.
type CacheRecord struct {
	Identity     ChapterIdentity
	RemoteHandle string
	Metadata     []TimingEntry
}

// Chapter is one unit of book text handed to the synthesis pipeline.
type Chapter struct {
	Index   int
	Title   string
	Content string
}

// OutputFormat selects the audio container produced by the encoder.
type OutputFormat string

// Supported output containers. MP3 is the primary delivery format; WAV is
// the lossless fallback used when the codec is unavailable.
const (
	FormatMP3 OutputFormat = "mp3"
	FormatWAV OutputFormat = "wav"
)
