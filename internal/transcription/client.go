// Package transcription turns one audio stream into transcript text through a
// Whisper-style speech-to-text API.
package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Client submits one audio file and returns plain transcript text.
type Client interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
}

const defaultEndpoint = "https://api.openai.com/v1/audio/transcriptions"

// Whisper calls the OpenAI audio transcription endpoint.
type Whisper struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
}

func NewWhisper(apiKey string, timeout time.Duration) *Whisper {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Whisper{
		apiKey:     apiKey,
		model:      "whisper-1",
		endpoint:   defaultEndpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// NewFromEnv returns the real client, or the mock when USE_MOCK_TRANSCRIBE=true.
func NewFromEnv(timeout time.Duration) Client {
	if os.Getenv("USE_MOCK_TRANSCRIBE") == "true" {
		return Mock{}
	}
	return NewWhisper(os.Getenv("OPENAI_API_KEY"), timeout)
}

// SetEndpoint overrides the API endpoint, used by tests.
func (w *Whisper) SetEndpoint(endpoint string) {
	w.endpoint = endpoint
}

type whisperResponse struct {
	Text string `json:"text"`
}

func (w *Whisper) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	if w.apiKey == "" {
		return "", fmt.Errorf("OPENAI_API_KEY not set")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("model", w.model)
	mw.WriteField("language", "en")
	mw.WriteField("response_format", "json")
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("multipart: %w", err)
	}
	if _, err := io.Copy(fw, audio); err != nil {
		return "", fmt.Errorf("read audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("multipart: %w", err)
	}

	payload := body.Bytes()
	contentType := mw.FormDataContentType()

	var out whisperResponse
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 12 * time.Second

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+w.apiKey)
		req.Header.Set("Content-Type", contentType)

		resp, err := w.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		b, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 500 {
			return fmt.Errorf("whisper server error: %d %s", resp.StatusCode, string(b))
		}
		if resp.StatusCode >= 300 {
			// Client errors will not get better on retry.
			return backoff.Permanent(fmt.Errorf("whisper api error: %d %s", resp.StatusCode, string(b)))
		}
		if err := json.Unmarshal(b, &out); err != nil {
			return backoff.Permanent(fmt.Errorf("json decode error: %v body=%s", err, string(b)))
		}
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return "", err
	}
	return out.Text, nil
}

// Mock stands in for the API during local development.
type Mock struct{}

func (Mock) Transcribe(_ context.Context, audio io.Reader, _ string) (string, error) {
	io.Copy(io.Discard, audio)
	return "MOCK TRANSCRIPT: the quick brown fox jumps over the lazy dog.", nil
}
