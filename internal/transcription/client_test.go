package transcription

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWhisperTranscribe(t *testing.T) {
	var gotAuth, gotModel, gotFile string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		gotModel = r.FormValue("model")

		if file, _, err := r.FormFile("file"); assert.NoError(t, err) {
			defer file.Close()
			b, _ := io.ReadAll(file)
			gotFile = string(b)
		}

		w.Write([]byte(`{"text":"hello from the call"}`))
	}))
	defer srv.Close()

	w := NewWhisper("test-key", 5*time.Second)
	w.SetEndpoint(srv.URL)

	text, err := w.Transcribe(context.Background(), strings.NewReader("fake audio bytes"), "a.wav")
	require.NoError(t, err)
	assert.Equal(t, "hello from the call", text)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "whisper-1", gotModel)
	assert.Equal(t, "fake audio bytes", gotFile)
}

func TestWhisperRetriesServerErrors(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"text":"second time lucky"}`))
	}))
	defer srv.Close()

	w := NewWhisper("test-key", 5*time.Second)
	w.SetEndpoint(srv.URL)

	text, err := w.Transcribe(context.Background(), strings.NewReader("audio"), "a.wav")
	require.NoError(t, err)
	assert.Equal(t, "second time lucky", text)
	assert.Equal(t, int64(2), calls.Load())
}

func TestWhisperClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer srv.Close()

	w := NewWhisper("bad-key", 5*time.Second)
	w.SetEndpoint(srv.URL)

	_, err := w.Transcribe(context.Background(), strings.NewReader("audio"), "a.wav")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	// 4xx never retries.
	assert.Equal(t, int64(1), calls.Load())
}

func TestWhisperRequiresAPIKey(t *testing.T) {
	w := NewWhisper("", time.Second)
	_, err := w.Transcribe(context.Background(), strings.NewReader("audio"), "a.wav")
	assert.Error(t, err)
}

func TestNewFromEnv(t *testing.T) {
	t.Setenv("USE_MOCK_TRANSCRIBE", "true")
	_, ok := NewFromEnv(time.Second).(Mock)
	assert.True(t, ok)

	t.Setenv("USE_MOCK_TRANSCRIBE", "false")
	_, ok = NewFromEnv(time.Second).(*Whisper)
	assert.True(t, ok)
}

func TestMockDrainsAudio(t *testing.T) {
	text, err := Mock{}.Transcribe(context.Background(), strings.NewReader("audio"), "a.wav")
	require.NoError(t, err)
	assert.NotEmpty(t, text)
}
