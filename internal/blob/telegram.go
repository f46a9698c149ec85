// Package blob implements the remote audio blob collaborator against the
// Telegram Bot API.
//
// Uploaded audio is addressed by the opaque file_id Telegram returns; the
// file_id is later exchanged for a download URL that Telegram keeps valid
// for a limited window (typically around an hour). Callers must not assume
// permanence of resolved URLs.
package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/book-expert/logger"
)

const (
	defaultAPIBase = "https://api.telegram.org"

	audioFieldName  = "audio"
	chatIDFieldName = "chat_id"
)

// Static errors.
var (
	// ErrMissingCredentials indicates that no bot token is configured.
	// Upload degrades gracefully: synthesis succeeds, caching is skipped.
	ErrMissingCredentials = errors.New("telegram credentials not configured")
	// ErrUploadRejected indicates Telegram declined the sendAudio call.
	ErrUploadRejected = errors.New("telegram upload rejected")
	// ErrResolveFailed indicates the file_id could not be exchanged for a URL.
	ErrResolveFailed = errors.New("telegram file resolution failed")
)

// TelegramStore implements core.BlobStore using the Bot API.
type TelegramStore struct {
	httpClient *http.Client
	apiBase    string
	token      string
	chatID     string
	log        *logger.Logger
}

// NewTelegramStore creates a blob store for the given bot credentials.
// An empty token is allowed; every Upload then fails with
// ErrMissingCredentials and the caller decides how to degrade.
func NewTelegramStore(token, chatID string, timeout time.Duration, log *logger.Logger) *TelegramStore {
	return NewTelegramStoreWithBase(defaultAPIBase, token, chatID, timeout, log)
}

// NewTelegramStoreWithBase creates a store against a custom API base URL.
// This constructor is primarily for testing against a local fake server.
func NewTelegramStoreWithBase(
	apiBase, token, chatID string,
	timeout time.Duration,
	log *logger.Logger,
) *TelegramStore {
	return &TelegramStore{
		httpClient: &http.Client{Timeout: timeout},
		apiBase:    apiBase,
		token:      token,
		chatID:     chatID,
		log:        log,
	}
}

type uploadResult struct {
	OK     bool `json:"ok"`
	Result struct {
		Audio struct {
			FileID string `json:"file_id"`
		} `json:"audio"`
		Document struct {
			FileID string `json:"file_id"`
		} `json:"document"`
	} `json:"result"`
	Description string `json:"description"`
}

type resolveResult struct {
	OK     bool `json:"ok"`
	Result struct {
		FilePath string `json:"file_path"`
	} `json:"result"`
	Description string `json:"description"`
}

// Upload sends the encoded audio via sendAudio and returns the file_id
// handle Telegram assigned to it.
func (s *TelegramStore) Upload(ctx context.Context, filename string, data []byte) (string, error) {
	if s.token == "" {
		return "", ErrMissingCredentials
	}

	body, contentType, err := buildUploadBody(s.chatID, filename, data)
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendAudio", s.apiBase, s.token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}

	req.Header.Set("Content-Type", contentType)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to upload audio blob: %w", err)
	}
	defer resp.Body.Close()

	var result uploadResult

	decodeErr := json.NewDecoder(resp.Body).Decode(&result)
	if decodeErr != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", decodeErr)
	}

	if !result.OK {
		return "", fmt.Errorf("%w: %s", ErrUploadRejected, result.Description)
	}

	// Audio payloads come back under "audio"; anything Telegram cannot
	// probe as audio lands under "document".
	handle := result.Result.Audio.FileID
	if handle == "" {
		handle = result.Result.Document.FileID
	}

	if handle == "" {
		return "", fmt.Errorf("%w: response carried no file_id", ErrUploadRejected)
	}

	s.log.Info("Uploaded %s (%d bytes), handle %s", filename, len(data), handle)

	return handle, nil
}

// Resolve exchanges a file_id for a temporary download URL.
func (s *TelegramStore) Resolve(ctx context.Context, handle string) (string, error) {
	if s.token == "" {
		return "", ErrMissingCredentials
	}

	endpoint := fmt.Sprintf("%s/bot%s/getFile?file_id=%s", s.apiBase, s.token, url.QueryEscape(handle))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("failed to create resolve request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to resolve blob handle: %w", err)
	}
	defer resp.Body.Close()

	var result resolveResult

	decodeErr := json.NewDecoder(resp.Body).Decode(&result)
	if decodeErr != nil {
		return "", fmt.Errorf("failed to decode resolve response: %w", decodeErr)
	}

	if !result.OK || result.Result.FilePath == "" {
		return "", fmt.Errorf("%w: %s", ErrResolveFailed, result.Description)
	}

	return fmt.Sprintf("%s/file/bot%s/%s", s.apiBase, s.token, result.Result.FilePath), nil
}

func buildUploadBody(chatID, filename string, data []byte) (io.Reader, string, error) {
	var buffer bytes.Buffer

	writer := multipart.NewWriter(&buffer)

	fieldErr := writer.WriteField(chatIDFieldName, chatID)
	if fieldErr != nil {
		return nil, "", fmt.Errorf("failed to write chat_id field: %w", fieldErr)
	}

	part, partErr := writer.CreateFormFile(audioFieldName, filename)
	if partErr != nil {
		return nil, "", fmt.Errorf("failed to create audio form file: %w", partErr)
	}

	_, copyErr := part.Write(data)
	if copyErr != nil {
		return nil, "", fmt.Errorf("failed to write audio payload: %w", copyErr)
	}

	closeErr := writer.Close()
	if closeErr != nil {
		return nil, "", fmt.Errorf("failed to finalize multipart body: %w", closeErr)
	}

	return &buffer, writer.FormDataContentType(), nil
}
