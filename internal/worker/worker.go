// Package worker provides the NATS worker that consumes chapter synthesis
// jobs, book registrations, bulk range jobs and streaming playback requests.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/narravox/narrator/internal/core"
	"github.com/narravox/narrator/internal/protocol"
	"github.com/narravox/narrator/internal/session"
	"github.com/narravox/narrator/internal/synthesis"
)

// Chapter synthesis is minutes of audio, not milliseconds; the per-message
// budget is sized accordingly.
const handleMessageTimeout = 5 * time.Minute

var (
	// ErrNoReplySubject indicates a streaming request without a reply inbox
	// to deliver chunks to.
	ErrNoReplySubject = errors.New("streaming request carries no reply subject")
	// ErrSessionNotFound indicates a range job referencing an expired or
	// unknown book session.
	ErrSessionNotFound = errors.New("book session not found")
	// ErrChapterRangeOutOfBounds indicates a range job whose bounds exceed
	// the registered book.
	ErrChapterRangeOutOfBounds = errors.New("chapter range out of bounds")
)

// Subjects names the NATS subjects the worker consumes.
type Subjects struct {
	ChapterJob   string
	Stream       string
	BookRegister string
	RangeJob     string
}

// Deps carries the worker's collaborators.
type Deps struct {
	Conn       *nats.Conn
	Subjects   Subjects
	TextStore  core.ObjectStore
	AudioStore core.ObjectStore
	Sessions   *session.Cache
	Pipeline   *synthesis.Service
	Log        *logger.Logger
}

// NatsWorker dispatches messages from the configured subjects into the
// synthesis pipeline.
type NatsWorker struct {
	conn       *nats.Conn
	subjects   Subjects
	textStore  core.ObjectStore
	audioStore core.ObjectStore
	sessions   *session.Cache
	pipeline   *synthesis.Service
	log        *logger.Logger
}

// NewNatsWorker creates a new instance of the worker.
func NewNatsWorker(deps Deps) *NatsWorker {
	return &NatsWorker{
		conn:       deps.Conn,
		subjects:   deps.Subjects,
		textStore:  deps.TextStore,
		audioStore: deps.AudioStore,
		sessions:   deps.Sessions,
		pipeline:   deps.Pipeline,
		log:        deps.Log,
	}
}

// Run subscribes to every subject and blocks until the context is cancelled.
func (w *NatsWorker) Run(ctx context.Context) error {
	handlers := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{w.subjects.ChapterJob, w.handleJobMessage},
		{w.subjects.Stream, w.handleStreamMessage},
		{w.subjects.BookRegister, w.handleBookMessage},
		{w.subjects.RangeJob, w.handleRangeMessage},
	}

	subscriptions := make([]*nats.Subscription, 0, len(handlers))

	for _, entry := range handlers {
		sub, err := w.conn.Subscribe(entry.subject, entry.handler)
		if err != nil {
			return fmt.Errorf("failed to subscribe to subject %s: %w", entry.subject, err)
		}

		subscriptions = append(subscriptions, sub)
	}

	<-ctx.Done()

	for _, sub := range subscriptions {
		drainErr := sub.Drain()
		if drainErr != nil {
			w.log.Error("Failed to drain subscription %s: %v", sub.Subject, drainErr)
		}
	}

	return nil
}

func (w *NatsWorker) handleJobMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	job, err := protocol.UnmarshalChapterJob(msg.Data)
	if err != nil {
		w.log.Error("Failed to parse chapter job: %v", err)
		w.replyFailure(msg, protocol.EventHeader{WorkflowID: "", CreatedAt: time.Now().UTC()}, err)

		return
	}

	reply, processErr := w.processChapterJob(ctx, job)
	if processErr != nil {
		w.log.Error("Failed to process chapter job %s: %v", job.Header.WorkflowID, processErr)
		w.replyFailure(msg, job.Header, processErr)

		return
	}

	replyErr := w.respond(msg, reply)
	if replyErr != nil {
		w.log.Error("Failed to publish reply for workflow %s: %v", job.Header.WorkflowID, replyErr)
	}
}

// processChapterJob resolves the chapter text, runs the pipeline, and spools
// the finished audio into the audio bucket for pickup.
func (w *NatsWorker) processChapterJob(
	ctx context.Context,
	job *protocol.ChapterJobEvent,
) (*protocol.ChapterAudioCreatedEvent, error) {
	chapterText, err := w.resolveText(ctx, job)
	if err != nil {
		return nil, err
	}

	result, synthErr := w.pipeline.Chapter(ctx, core.SynthesisRequest{
		Text:     chapterText,
		Voice:    job.Voice,
		Speed:    job.Speed,
		Format:   job.Format,
		Identity: job.Identity(),
	})
	if synthErr != nil {
		return nil, fmt.Errorf("failed to synthesize chapter: %w", synthErr)
	}

	audioKey, uploadErr := w.spoolAudio(ctx, result.Audio, result.Format)
	if uploadErr != nil {
		return nil, uploadErr
	}

	return &protocol.ChapterAudioCreatedEvent{
		Header:         job.Header,
		AudioKey:       audioKey,
		RemoteHandle:   result.RemoteHandle,
		Format:         result.Format,
		Metadata:       result.Metadata,
		FromCache:      result.FromCache,
		ElapsedSeconds: result.ElapsedSeconds,
	}, nil
}

// spoolAudio uploads an encoded payload into the audio bucket and returns
// its key. Empty payloads spool nothing.
func (w *NatsWorker) spoolAudio(
	ctx context.Context,
	payload []byte,
	format core.OutputFormat,
) (string, error) {
	if len(payload) == 0 {
		return "", nil
	}

	audioKey := uuid.NewString() + "." + string(format)

	uploadErr := w.audioStore.Upload(ctx, audioKey, payload)
	if uploadErr != nil {
		return "", fmt.Errorf("failed to upload audio for key '%s': %w", audioKey, uploadErr)
	}

	return audioKey, nil
}

func (w *NatsWorker) resolveText(
	ctx context.Context,
	job *protocol.ChapterJobEvent,
) (string, error) {
	if job.Text != "" {
		return job.Text, nil
	}

	textData, err := w.textStore.Download(ctx, job.TextKey)
	if err != nil {
		return "", fmt.Errorf("failed to download chapter text for key '%s': %w", job.TextKey, err)
	}

	return string(textData), nil
}

// handleBookMessage stores a parsed book in the session cache and replies
// with its session id.
func (w *NatsWorker) handleBookMessage(msg *nats.Msg) {
	book, err := protocol.UnmarshalBookRegister(msg.Data)
	if err != nil {
		w.log.Error("Failed to parse book registration: %v", err)
		w.replyFailure(msg, protocol.EventHeader{WorkflowID: "", CreatedAt: time.Now().UTC()}, err)

		return
	}

	sessionID := w.sessions.Put(&session.Book{
		Title:    book.Title,
		Author:   book.Author,
		Chapters: book.Chapters,
	})

	w.log.Info("Registered book %q (%d chapters) as session %s",
		book.Title, len(book.Chapters), sessionID)

	reply := &protocol.BookRegisteredEvent{
		Header:       book.Header,
		SessionID:    sessionID,
		ChapterCount: len(book.Chapters),
	}

	replyErr := w.respond(msg, reply)
	if replyErr != nil {
		w.log.Error("Failed to reply to book registration %s: %v", book.Header.WorkflowID, replyErr)
	}
}

// handleRangeMessage runs the batch orchestrator over a chapter range of a
// registered session and replies with per-chapter outcomes.
func (w *NatsWorker) handleRangeMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	job, err := protocol.UnmarshalRangeJob(msg.Data)
	if err != nil {
		w.log.Error("Failed to parse range job: %v", err)
		w.replyFailure(msg, protocol.EventHeader{WorkflowID: "", CreatedAt: time.Now().UTC()}, err)

		return
	}

	reply, processErr := w.processRangeJob(ctx, job)
	if processErr != nil {
		w.log.Error("Failed to process range job %s: %v", job.Header.WorkflowID, processErr)
		w.replyFailure(msg, job.Header, processErr)

		return
	}

	replyErr := w.respond(msg, reply)
	if replyErr != nil {
		w.log.Error("Failed to publish range reply for workflow %s: %v",
			job.Header.WorkflowID, replyErr)
	}
}

func (w *NatsWorker) processRangeJob(
	ctx context.Context,
	job *protocol.RangeJobEvent,
) (*protocol.RangeCompletedEvent, error) {
	chapters, err := w.chaptersForRange(job)
	if err != nil {
		return nil, err
	}

	results, rangeErr := w.pipeline.Range(ctx, chapters, job.Voice, job.Speed)
	if rangeErr != nil {
		return nil, fmt.Errorf("failed to run range synthesis: %w", rangeErr)
	}

	slices := make([]protocol.RangeChapterResult, 0, len(chapters))

	for _, chapter := range chapters {
		result := results[chapter.Index]

		if result.Err != nil {
			slices = append(slices, protocol.RangeChapterResult{
				Index:    chapter.Index,
				AudioKey: "",
				Format:   "",
				Metadata: nil,
				Reason:   result.Err.Error(),
			})

			continue
		}

		audioKey, uploadErr := w.spoolAudio(ctx, result.Audio, result.Format)
		if uploadErr != nil {
			return nil, uploadErr
		}

		slices = append(slices, protocol.RangeChapterResult{
			Index:    chapter.Index,
			AudioKey: audioKey,
			Format:   result.Format,
			Metadata: result.Metadata,
			Reason:   "",
		})
	}

	return &protocol.RangeCompletedEvent{Header: job.Header, Results: slices}, nil
}

// chaptersForRange slices the registered book by the job's inclusive bounds.
func (w *NatsWorker) chaptersForRange(job *protocol.RangeJobEvent) ([]core.Chapter, error) {
	book, ok := w.sessions.Get(job.SessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, job.SessionID)
	}

	if job.StartIndex < 0 || job.EndIndex >= len(book.Chapters) {
		return nil, fmt.Errorf("%w: [%d, %d] of %d chapters",
			ErrChapterRangeOutOfBounds, job.StartIndex, job.EndIndex, len(book.Chapters))
	}

	return book.Chapters[job.StartIndex : job.EndIndex+1], nil
}

// handleStreamMessage serves a streaming playback request by publishing one
// chunk event per audio segment to the requester's reply inbox, followed by
// a terminal event.
func (w *NatsWorker) handleStreamMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	job, err := protocol.UnmarshalChapterJob(msg.Data)
	if err != nil {
		w.log.Error("Failed to parse streaming request: %v", err)

		return
	}

	if msg.Reply == "" {
		w.log.Error("Streaming request %s: %v", job.Header.WorkflowID, ErrNoReplySubject)

		return
	}

	chapterText, textErr := w.resolveText(ctx, job)
	if textErr != nil {
		w.publishStreamEnd(msg.Reply, job.Header, 0, textErr)

		return
	}

	chunks, errs := w.pipeline.Stream(ctx, chapterText, job.Voice, job.Speed)

	sequence := 0

	for chunk := range chunks {
		event := &protocol.StreamChunkEvent{
			Header:   job.Header,
			Sequence: chunk.Sequence,
			Format:   chunk.Format,
			Data:     chunk.Data,
			Final:    false,
			Reason:   "",
		}

		publishErr := w.publishEvent(msg.Reply, event)
		if publishErr != nil {
			w.log.Error("Failed to publish stream chunk %d for workflow %s: %v",
				chunk.Sequence, job.Header.WorkflowID, publishErr)

			return
		}

		sequence = chunk.Sequence + 1
	}

	w.publishStreamEnd(msg.Reply, job.Header, sequence, <-errs)
}

func (w *NatsWorker) publishStreamEnd(
	replySubject string,
	header protocol.EventHeader,
	sequence int,
	streamErr error,
) {
	reason := ""
	if streamErr != nil {
		reason = streamErr.Error()
	}

	event := &protocol.StreamChunkEvent{
		Header:   header,
		Sequence: sequence,
		Format:   "",
		Data:     nil,
		Final:    true,
		Reason:   reason,
	}

	publishErr := w.publishEvent(replySubject, event)
	if publishErr != nil {
		w.log.Error("Failed to publish stream end for workflow %s: %v",
			header.WorkflowID, publishErr)
	}
}

func (w *NatsWorker) publishEvent(subject string, event any) error {
	data, err := protocol.Marshal(event)
	if err != nil {
		return err
	}

	publishErr := w.conn.Publish(subject, data)
	if publishErr != nil {
		return fmt.Errorf("failed to publish event: %w", publishErr)
	}

	return nil
}

func (w *NatsWorker) respond(msg *nats.Msg, reply any) error {
	data, err := protocol.Marshal(reply)
	if err != nil {
		return err
	}

	respondErr := msg.Respond(data)
	if respondErr != nil {
		return fmt.Errorf("failed to respond to message: %w", respondErr)
	}

	return nil
}

func (w *NatsWorker) replyFailure(msg *nats.Msg, header protocol.EventHeader, cause error) {
	if msg.Reply == "" {
		return
	}

	event := &protocol.ChapterJobFailedEvent{
		Header: header,
		Reason: cause.Error(),
	}

	data, err := protocol.Marshal(event)
	if err != nil {
		w.log.Error("Failed to marshal failure reply: %v", err)

		return
	}

	respondErr := msg.Respond(data)
	if respondErr != nil {
		w.log.Error("Failed to publish failure reply: %v", respondErr)
	}
}
