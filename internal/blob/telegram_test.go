// Package blob_test tests the Telegram blob collaborator.
package blob_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/narravox/narrator/internal/blob"
)

const testToken = "123456:test-token"

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "blob-test.log")
	require.NoError(t, err)

	return log
}

func newFakeTelegram(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/bot"+testToken+"/sendAudio", func(w http.ResponseWriter, r *http.Request) {
		parseErr := r.ParseMultipartForm(32 << 20)
		require.NoError(t, parseErr)

		assert.Equal(t, "-1000", r.FormValue("chat_id"))

		_, header, fileErr := r.FormFile("audio")
		require.NoError(t, fileErr)
		assert.NotEmpty(t, header.Filename)

		fmt.Fprint(w, `{"ok":true,"result":{"audio":{"file_id":"FILE-123"}}}`)
	})
	mux.HandleFunc("/bot"+testToken+"/getFile", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "FILE-123", r.URL.Query().Get("file_id"))

		fmt.Fprint(w, `{"ok":true,"result":{"file_path":"music/file_42.mp3"}}`)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server
}

func TestTelegramStore_UploadAndResolve(t *testing.T) {
	t.Parallel()

	server := newFakeTelegram(t)
	store := blob.NewTelegramStoreWithBase(
		server.URL, testToken, "-1000", 5*time.Second, newTestLogger(t),
	)

	handle, err := store.Upload(t.Context(), "chapter-one.mp3", []byte("mp3 bytes"))
	require.NoError(t, err)
	assert.Equal(t, "FILE-123", handle)

	url, err := store.Resolve(t.Context(), handle)
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/file/bot"+testToken+"/music/file_42.mp3", url)
}

func TestTelegramStore_MissingCredentials(t *testing.T) {
	t.Parallel()

	store := blob.NewTelegramStore("", "", 5*time.Second, newTestLogger(t))

	_, err := store.Upload(t.Context(), "x.mp3", []byte("data"))
	require.ErrorIs(t, err, blob.ErrMissingCredentials)

	_, err = store.Resolve(t.Context(), "FILE-123")
	require.ErrorIs(t, err, blob.ErrMissingCredentials)
}

func TestTelegramStore_UploadRejected(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/bot"+testToken+"/sendAudio", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"ok":false,"description":"chat not found"}`)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	store := blob.NewTelegramStoreWithBase(
		server.URL, testToken, "-1000", 5*time.Second, newTestLogger(t),
	)

	_, err := store.Upload(t.Context(), "x.mp3", []byte("data"))
	require.ErrorIs(t, err, blob.ErrUploadRejected)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestTelegramStore_DocumentFallbackHandle(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/bot"+testToken+"/sendAudio", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"ok":true,"result":{"document":{"file_id":"DOC-9"}}}`)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	store := blob.NewTelegramStoreWithBase(
		server.URL, testToken, "-1000", 5*time.Second, newTestLogger(t),
	)

	handle, err := store.Upload(t.Context(), "x.wav", []byte("wav"))
	require.NoError(t, err)
	assert.Equal(t, "DOC-9", handle)
}
