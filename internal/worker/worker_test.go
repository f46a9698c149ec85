// Package worker_test exercises the NATS worker end to end against an
// embedded server.
package worker_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/narravox/narrator/internal/audio"
	"github.com/narravox/narrator/internal/cache"
	"github.com/narravox/narrator/internal/core"
	"github.com/narravox/narrator/internal/objectstore"
	"github.com/narravox/narrator/internal/power"
	"github.com/narravox/narrator/internal/protocol"
	"github.com/narravox/narrator/internal/session"
	"github.com/narravox/narrator/internal/synthesis"
	"github.com/narravox/narrator/internal/worker"
)

const (
	jobSubject      = "narrator.chapter.job"
	streamSubject   = "narrator.chapter.stream"
	registerSubject = "narrator.book.register"
	rangeSubject    = "narrator.book.range"
	requestWait     = 10 * time.Second
)

// stubEngine voices every sentence as a fixed half-second segment.
type stubEngine struct{}

func (stubEngine) Synthesize(
	_ context.Context,
	sentence, _ string,
	_ float64,
) ([]core.AudioSegment, error) {
	return []core.AudioSegment{{
		Samples:    make(core.PCM, core.SampleRate/2),
		SampleRate: core.SampleRate,
		SpokenText: sentence,
	}}, nil
}

type stubBlobStore struct{}

func (stubBlobStore) Upload(_ context.Context, _ string, _ []byte) (string, error) {
	return "blob-handle-1", nil
}

func (stubBlobStore) Resolve(_ context.Context, handle string) (string, error) {
	return "https://blobs.example/" + handle, nil
}

type harness struct {
	conn       *nats.Conn
	textStore  core.ObjectStore
	audioStore core.ObjectStore
}

func startWorker(t *testing.T) *harness {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()

	natsServer := test.RunServer(&opts)
	t.Cleanup(natsServer.Shutdown)

	conn, err := nats.Connect(natsServer.ClientURL())
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	jetstreamContext, err := conn.JetStream()
	require.NoError(t, err)

	textStore, err := objectstore.New(jetstreamContext, "narrator-text")
	require.NoError(t, err)

	audioStore, err := objectstore.New(jetstreamContext, "narrator-audio")
	require.NoError(t, err)

	log, err := logger.New(t.TempDir(), "worker-test.log")
	require.NoError(t, err)

	index, err := cache.Open(t.Context(), filepath.Join(t.TempDir(), "narrator.db"), stubBlobStore{}, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })

	pipeline := synthesis.New(synthesis.Deps{
		Engine: stubEngine{},
		Index:  index,
		Blobs:  stubBlobStore{},
		Probe: &power.FixedProbe{
			Class:       power.DeviceClassGeneric,
			Battery:     false,
			Temperature: 40,
			HasReading:  true,
		},
		Encoder: audio.NewEncoder(48, log),
		Log:     log,
	}, 85.0)

	natsWorker := worker.NewNatsWorker(worker.Deps{
		Conn: conn,
		Subjects: worker.Subjects{
			ChapterJob:   jobSubject,
			Stream:       streamSubject,
			BookRegister: registerSubject,
			RangeJob:     rangeSubject,
		},
		TextStore:  textStore,
		AudioStore: audioStore,
		Sessions:   session.NewCache(8, time.Hour, log),
		Pipeline:   pipeline,
		Log:        log,
	})

	ctx, cancel := context.WithCancel(t.Context())
	t.Cleanup(cancel)

	go func() { _ = natsWorker.Run(ctx) }()

	// Give the worker's subscriptions time to register with the server.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, conn.Flush())

	return &harness{conn: conn, textStore: textStore, audioStore: audioStore}
}

func inlineJob(workflowID, bookSlug, itemID, text string) *protocol.ChapterJobEvent {
	return &protocol.ChapterJobEvent{
		Header: protocol.EventHeader{
			WorkflowID: workflowID,
			CreatedAt:  time.Now().UTC(),
		},
		BookSlug:      bookSlug,
		ChapterItemID: itemID,
		Text:          text,
		TextKey:       "",
		Voice:         "af_heart",
		Speed:         1.0,
		Format:        core.FormatWAV,
	}
}

func requestJob(
	t *testing.T,
	h *harness,
	job *protocol.ChapterJobEvent,
) *protocol.ChapterAudioCreatedEvent {
	t.Helper()

	data, err := protocol.Marshal(job)
	require.NoError(t, err)

	msg, err := h.conn.Request(jobSubject, data, requestWait)
	require.NoError(t, err)

	var reply protocol.ChapterAudioCreatedEvent

	require.NoError(t, json.Unmarshal(msg.Data, &reply))

	return &reply
}

func TestWorker_InlineTextJob(t *testing.T) {
	t.Parallel()

	h := startWorker(t)

	job := inlineJob("wf-inline", "moby-dick", "chap-1", "Call me Ishmael. Some years ago.")

	reply := requestJob(t, h, job)

	assert.Equal(t, "wf-inline", reply.Header.WorkflowID)
	assert.NotEmpty(t, reply.AudioKey)
	assert.Equal(t, "blob-handle-1", reply.RemoteHandle)
	assert.Len(t, reply.Metadata, 2)
	assert.False(t, reply.FromCache)

	// The finished audio is waiting in the audio bucket.
	payload, err := h.audioStore.Download(t.Context(), reply.AudioKey)
	require.NoError(t, err)
	assert.NotEmpty(t, payload)
}

func TestWorker_TextKeyJob(t *testing.T) {
	t.Parallel()

	h := startWorker(t)

	textKey := "texts/moby-dick/chap-2.txt"
	require.NoError(t, h.textStore.Upload(
		t.Context(), textKey, []byte("The pequod sails. The sea is calm."),
	))

	job := inlineJob("wf-key", "moby-dick", "chap-2", "")
	job.TextKey = textKey

	reply := requestJob(t, h, job)

	assert.NotEmpty(t, reply.AudioKey)
	assert.Len(t, reply.Metadata, 2)
}

func TestWorker_RepeatJobServedFromCache(t *testing.T) {
	t.Parallel()

	h := startWorker(t)

	job := inlineJob("wf-repeat", "moby-dick", "chap-3", "A single sentence.")

	first := requestJob(t, h, job)
	require.False(t, first.FromCache)

	second := requestJob(t, h, job)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.RemoteHandle, second.RemoteHandle)
	assert.Empty(t, second.AudioKey, "cached replies point at the remote blob, not the bucket")
}

func TestWorker_InvalidVoiceRepliesFailure(t *testing.T) {
	t.Parallel()

	h := startWorker(t)

	job := inlineJob("wf-bad-voice", "", "", "Some text.")
	job.Voice = "xx_invalid"

	data, err := protocol.Marshal(job)
	require.NoError(t, err)

	msg, err := h.conn.Request(jobSubject, data, requestWait)
	require.NoError(t, err)

	var failure protocol.ChapterJobFailedEvent

	require.NoError(t, json.Unmarshal(msg.Data, &failure))
	assert.Equal(t, "wf-bad-voice", failure.Header.WorkflowID)
	assert.Contains(t, failure.Reason, "unsupported voice")
}

func registerBook(t *testing.T, h *harness) string {
	t.Helper()

	event := &protocol.BookRegisterEvent{
		Header: protocol.EventHeader{
			WorkflowID: "wf-register",
			CreatedAt:  time.Now().UTC(),
		},
		Title:  "Moby Dick",
		Author: "Herman Melville",
		Chapters: []core.Chapter{
			{Index: 0, Title: "Loomings", Content: "Call me Ishmael. Some years ago."},
			{Index: 1, Title: "The Carpet-Bag", Content: "I stuffed a shirt or two."},
			{Index: 2, Title: "The Spouter-Inn", Content: "Entering that gable-ended inn."},
		},
	}

	data, err := protocol.Marshal(event)
	require.NoError(t, err)

	msg, err := h.conn.Request(registerSubject, data, requestWait)
	require.NoError(t, err)

	var reply protocol.BookRegisteredEvent

	require.NoError(t, json.Unmarshal(msg.Data, &reply))
	require.NotEmpty(t, reply.SessionID)
	require.Equal(t, 3, reply.ChapterCount)

	return reply.SessionID
}

func rangeJobEvent(sessionID string, start, end int) *protocol.RangeJobEvent {
	return &protocol.RangeJobEvent{
		Header: protocol.EventHeader{
			WorkflowID: "wf-range",
			CreatedAt:  time.Now().UTC(),
		},
		SessionID:  sessionID,
		StartIndex: start,
		EndIndex:   end,
		Voice:      "af_heart",
		Speed:      1.0,
	}
}

func TestWorker_RegisterBookThenRangeJob(t *testing.T) {
	t.Parallel()

	h := startWorker(t)
	sessionID := registerBook(t, h)

	data, err := protocol.Marshal(rangeJobEvent(sessionID, 0, 2))
	require.NoError(t, err)

	msg, err := h.conn.Request(rangeSubject, data, requestWait)
	require.NoError(t, err)

	var reply protocol.RangeCompletedEvent

	require.NoError(t, json.Unmarshal(msg.Data, &reply))
	require.Len(t, reply.Results, 3)

	for i, result := range reply.Results {
		assert.Equal(t, i, result.Index)
		assert.Empty(t, result.Reason)
		assert.NotEmpty(t, result.AudioKey)
		assert.NotEmpty(t, result.Metadata)

		payload, downloadErr := h.audioStore.Download(t.Context(), result.AudioKey)
		require.NoError(t, downloadErr)
		assert.NotEmpty(t, payload)
	}
}

func TestWorker_RangeJobUnknownSession(t *testing.T) {
	t.Parallel()

	h := startWorker(t)

	data, err := protocol.Marshal(rangeJobEvent("no-such-session", 0, 1))
	require.NoError(t, err)

	msg, err := h.conn.Request(rangeSubject, data, requestWait)
	require.NoError(t, err)

	var failure protocol.ChapterJobFailedEvent

	require.NoError(t, json.Unmarshal(msg.Data, &failure))
	assert.Contains(t, failure.Reason, "session not found")
}

func TestWorker_RangeJobOutOfBounds(t *testing.T) {
	t.Parallel()

	h := startWorker(t)
	sessionID := registerBook(t, h)

	data, err := protocol.Marshal(rangeJobEvent(sessionID, 1, 9))
	require.NoError(t, err)

	msg, err := h.conn.Request(rangeSubject, data, requestWait)
	require.NoError(t, err)

	var failure protocol.ChapterJobFailedEvent

	require.NoError(t, json.Unmarshal(msg.Data, &failure))
	assert.Contains(t, failure.Reason, "out of bounds")
}

func TestWorker_StreamDeliversChunksThenFinal(t *testing.T) {
	t.Parallel()

	h := startWorker(t)

	inbox := nats.NewInbox()
	sub, err := h.conn.SubscribeSync(inbox)
	require.NoError(t, err)

	job := inlineJob("wf-stream", "", "", "First sentence. Second sentence. Third one.")
	data, err := protocol.Marshal(job)
	require.NoError(t, err)

	require.NoError(t, h.conn.PublishRequest(streamSubject, inbox, data))

	var chunks []protocol.StreamChunkEvent

	for {
		msg, nextErr := sub.NextMsg(requestWait)
		require.NoError(t, nextErr)

		var event protocol.StreamChunkEvent

		require.NoError(t, json.Unmarshal(msg.Data, &event))

		if event.Final {
			assert.Empty(t, event.Reason)

			break
		}

		chunks = append(chunks, event)
	}

	require.Len(t, chunks, 3)

	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Sequence)
		assert.NotEmpty(t, chunk.Data)
	}
}

func TestWorker_StreamInvalidVoiceEndsWithReason(t *testing.T) {
	t.Parallel()

	h := startWorker(t)

	inbox := nats.NewInbox()
	sub, err := h.conn.SubscribeSync(inbox)
	require.NoError(t, err)

	job := inlineJob("wf-stream-bad", "", "", "Some text.")
	job.Voice = "xx_invalid"

	data, err := protocol.Marshal(job)
	require.NoError(t, err)

	require.NoError(t, h.conn.PublishRequest(streamSubject, inbox, data))

	msg, err := sub.NextMsg(requestWait)
	require.NoError(t, err)

	var event protocol.StreamChunkEvent

	require.NoError(t, json.Unmarshal(msg.Data, &event))
	assert.True(t, event.Final)
	assert.Contains(t, event.Reason, "unsupported voice")
}
