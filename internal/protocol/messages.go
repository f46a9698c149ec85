// Package protocol defines the NATS message vocabulary of the narrator
// service: chapter synthesis jobs, their results, and streamed audio chunks.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/narravox/narrator/internal/core"
)

var (
	// ErrMissingWorkflowID indicates a job event without a workflow identifier.
	ErrMissingWorkflowID = errors.New("workflow id cannot be empty")
	// ErrMissingText indicates a job event carrying neither inline text nor
	// an object store key to fetch it from.
	ErrMissingText = errors.New("job must carry inline text or a text key")
	// ErrMissingChapters indicates a book registration without any chapters.
	ErrMissingChapters = errors.New("book must carry at least one chapter")
	// ErrMissingSessionID indicates a range job without a session to read
	// chapters from.
	ErrMissingSessionID = errors.New("session id cannot be empty")
	// ErrInvalidChapterRange indicates a range job whose bounds are reversed.
	ErrInvalidChapterRange = errors.New("start index must not exceed end index")
)

// EventHeader carries the correlation fields shared by every event.
type EventHeader struct {
	WorkflowID string    `json:"workflow_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// ChapterJobEvent requests synthesis of one chapter. The chapter text is
// either inline or referenced by an object store key; inline wins when both
// are present.
type ChapterJobEvent struct {
	Header EventHeader `json:"header"`

	BookSlug      string `json:"book_slug,omitempty"`
	ChapterItemID string `json:"chapter_item_id,omitempty"`

	Text    string `json:"text,omitempty"`
	TextKey string `json:"text_key,omitempty"`

	Voice  string            `json:"voice"`
	Speed  float64           `json:"speed"`
	Format core.OutputFormat `json:"format"`
}

// Validate checks the structural fields of the job. Voice, speed and format
// are validated downstream by the pipeline so rejection reasons stay in one
// place.
func (e *ChapterJobEvent) Validate() error {
	if e.Header.WorkflowID == "" {
		return ErrMissingWorkflowID
	}

	if e.Text == "" && e.TextKey == "" {
		return ErrMissingText
	}

	return nil
}

// Identity returns the cache identity of the job, or nil when the job is
// anonymous and must not be cached.
func (e *ChapterJobEvent) Identity() *core.ChapterIdentity {
	if e.BookSlug == "" || e.ChapterItemID == "" {
		return nil
	}

	return &core.ChapterIdentity{BookSlug: e.BookSlug, ItemID: e.ChapterItemID}
}

// ChapterAudioCreatedEvent is the reply to a ChapterJobEvent.
type ChapterAudioCreatedEvent struct {
	Header EventHeader `json:"header"`

	// AudioKey locates the encoded payload in the audio object store bucket.
	// Empty when the chapter produced no audio.
	AudioKey string `json:"audio_key,omitempty"`
	// RemoteHandle is the long-term blob handle, empty when the remote
	// upload was skipped or failed.
	RemoteHandle string `json:"remote_handle,omitempty"`

	Format         core.OutputFormat  `json:"format"`
	Metadata       []core.TimingEntry `json:"metadata"`
	FromCache      bool               `json:"from_cache"`
	ElapsedSeconds float64            `json:"elapsed_seconds"`
}

// ChapterJobFailedEvent is the reply when a job could not be processed.
type ChapterJobFailedEvent struct {
	Header EventHeader `json:"header"`
	Reason string      `json:"reason"`
}

// StreamChunkEvent carries one independently-decodable audio chunk of a
// streamed chapter. The terminal event has Final set and no data; a stream
// that fails mid-flight sets both Final and Reason.
type StreamChunkEvent struct {
	Header EventHeader `json:"header"`

	Sequence int               `json:"sequence"`
	Format   core.OutputFormat `json:"format,omitempty"`
	Data     []byte            `json:"data,omitempty"`
	Final    bool              `json:"final"`
	Reason   string            `json:"reason,omitempty"`
}

// BookRegisterEvent stores a parsed book in the worker's session cache so
// follow-up range jobs can reference chapters by index. Parsing the book
// container is the publisher's concern.
type BookRegisterEvent struct {
	Header EventHeader `json:"header"`

	Title    string         `json:"title"`
	Author   string         `json:"author,omitempty"`
	Chapters []core.Chapter `json:"chapters"`
}

// Validate checks the structural fields of the registration.
func (e *BookRegisterEvent) Validate() error {
	if e.Header.WorkflowID == "" {
		return ErrMissingWorkflowID
	}

	if len(e.Chapters) == 0 {
		return ErrMissingChapters
	}

	return nil
}

// BookRegisteredEvent is the reply to a BookRegisterEvent.
type BookRegisteredEvent struct {
	Header EventHeader `json:"header"`

	SessionID    string `json:"session_id"`
	ChapterCount int    `json:"chapter_count"`
}

// RangeJobEvent requests bulk synthesis of a contiguous chapter range from a
// previously registered session. Bounds are inclusive chapter indexes.
type RangeJobEvent struct {
	Header EventHeader `json:"header"`

	SessionID  string  `json:"session_id"`
	StartIndex int     `json:"start_index"`
	EndIndex   int     `json:"end_index"`
	Voice      string  `json:"voice"`
	Speed      float64 `json:"speed"`
}

// Validate checks the structural fields of the range job.
func (e *RangeJobEvent) Validate() error {
	if e.Header.WorkflowID == "" {
		return ErrMissingWorkflowID
	}

	if e.SessionID == "" {
		return ErrMissingSessionID
	}

	if e.StartIndex > e.EndIndex {
		return ErrInvalidChapterRange
	}

	return nil
}

// RangeChapterResult is the per-chapter slice of a RangeCompletedEvent. A
// failed chapter carries a reason instead of an audio key.
type RangeChapterResult struct {
	Index    int                `json:"index"`
	AudioKey string             `json:"audio_key,omitempty"`
	Format   core.OutputFormat  `json:"format,omitempty"`
	Metadata []core.TimingEntry `json:"metadata,omitempty"`
	Reason   string             `json:"reason,omitempty"`
}

// RangeCompletedEvent is the reply to a RangeJobEvent, ordered by chapter
// index.
type RangeCompletedEvent struct {
	Header  EventHeader          `json:"header"`
	Results []RangeChapterResult `json:"results"`
}

// Marshal serializes an event for publishing.
func Marshal(event any) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return data, nil
}

// UnmarshalChapterJob parses and validates a chapter job payload.
func UnmarshalChapterJob(data []byte) (*ChapterJobEvent, error) {
	var event ChapterJobEvent

	err := json.Unmarshal(data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal chapter job: %w", err)
	}

	validationErr := event.Validate()
	if validationErr != nil {
		return nil, validationErr
	}

	return &event, nil
}

// UnmarshalBookRegister parses and validates a book registration payload.
func UnmarshalBookRegister(data []byte) (*BookRegisterEvent, error) {
	var event BookRegisterEvent

	err := json.Unmarshal(data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal book registration: %w", err)
	}

	validationErr := event.Validate()
	if validationErr != nil {
		return nil, validationErr
	}

	return &event, nil
}

// UnmarshalRangeJob parses and validates a range job payload.
func UnmarshalRangeJob(data []byte) (*RangeJobEvent, error) {
	var event RangeJobEvent

	err := json.Unmarshal(data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal range job: %w", err)
	}

	validationErr := event.Validate()
	if validationErr != nil {
		return nil, validationErr
	}

	return &event, nil
}
