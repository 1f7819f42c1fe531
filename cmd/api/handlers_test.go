package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audio-search-go/internal/errreport"
	"audio-search-go/internal/logger"
	"audio-search-go/internal/notify"
	"audio-search-go/internal/pipeline"
	"audio-search-go/internal/processor"
	"audio-search-go/internal/report"
	"audio-search-go/internal/storage"
	"audio-search-go/internal/store"
	"audio-search-go/internal/transcription"
	"audio-search-go/internal/types"
)

var wavHeader = []byte("RIFF\x24\x00\x00\x00WAVEfmt ")

func newTestServer(t *testing.T) (*apiServer, *store.Memory) {
	t.Helper()
	log := logger.New()
	st := store.NewMemory()
	blobs := storage.NewLocal(t.TempDir())

	sink, err := errreport.NewFromEnv("", log)
	require.NoError(t, err)

	proc := processor.New(st, blobs, transcription.Mock{}, sink, 0, log)
	reports := report.NewGenerator(st, blobs, log)
	coord := pipeline.New(st, blobs, proc, reports, notify.NewLog(log), "http://localhost:8080", 2, 16, log)
	coord.Start(context.Background())
	t.Cleanup(coord.Stop)

	return &apiServer{store: st, blobs: blobs, proc: proc, coord: coord, log: log}, st
}

func doJSON(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, r)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	api, _ := newTestServer(t)
	w := doJSON(t, api.routes(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestStageUpload(t *testing.T) {
	api, _ := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "2024-01-15_09-30-00.wav")
	require.NoError(t, err)
	fw.Write(wavHeader)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	api.routes().ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)

	var staged types.StagedFile
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &staged))
	assert.Equal(t, "2024-01-15_09-30-00.wav", staged.Name)
	assert.True(t, strings.HasPrefix(staged.Path, "tmp/"))
	assert.True(t, api.blobs.Exists(staged.Path))
}

func TestStageUploadMissingFileField(t *testing.T) {
	api, _ := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("other", "x"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	api.routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitSearch(t *testing.T) {
	api, st := newTestServer(t)

	require.NoError(t, api.blobs.Put("tmp/a.wav", bytes.NewReader(wavHeader)))

	w := doJSON(t, api.routes(), http.MethodPost, "/api/searches", types.SubmitRequest{
		Query: "fox",
		Files: []types.StagedFile{{Name: "a.wav", Path: "tmp/a.wav"}},
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	id, err := uuid.Parse(resp["id"])
	require.NoError(t, err)

	// The mock transcript mentions the fox once per file.
	require.Eventually(t, func() bool {
		s, err := st.GetSearch(context.Background(), id)
		return err == nil && s.Status == types.SearchCompleted
	}, 5*time.Second, 10*time.Millisecond)

	s, err := st.GetSearch(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1, s.QueryTotal)
}

func TestSubmitSearchValidation(t *testing.T) {
	api, _ := newTestServer(t)
	routes := api.routes()

	tests := []struct {
		name string
		body any
	}{
		{"missing query", types.SubmitRequest{Files: []types.StagedFile{{Name: "a", Path: "tmp/a"}}}},
		{"no files", types.SubmitRequest{Query: "cat"}},
		{"bad email", types.SubmitRequest{
			Query:       "cat",
			NotifyEmail: "not-an-address",
			Files:       []types.StagedFile{{Name: "a", Path: "tmp/a"}},
		}},
		{"file missing path", types.SubmitRequest{
			Query: "cat",
			Files: []types.StagedFile{{Name: "a"}},
		}},
		{"unknown timezone", types.SubmitRequest{
			Query:    "cat",
			Timezone: "Mars/Olympus",
			Files:    []types.StagedFile{{Name: "a", Path: "tmp/a"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, routes, http.MethodPost, "/api/searches", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}

	t.Run("invalid JSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/searches", strings.NewReader("{nope"))
		w := httptest.NewRecorder()
		routes.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestGetSearch(t *testing.T) {
	api, st := newTestServer(t)

	s := &types.Search{Query: "cat", FileCount: 1, Timezone: "UTC"}
	require.NoError(t, st.CreateSearch(context.Background(), s))

	w := doJSON(t, api.routes(), http.MethodGet, "/api/searches/"+s.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Search types.Search      `json:"search"`
		Files  []types.AudioFile `json:"files"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, s.ID, resp.Search.ID)
	assert.Equal(t, "cat", resp.Search.Query)
}

func TestGetSearchNotFound(t *testing.T) {
	api, _ := newTestServer(t)
	w := doJSON(t, api.routes(), http.MethodGet, "/api/searches/"+uuid.New().String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetSearchBadID(t *testing.T) {
	api, _ := newTestServer(t)
	w := doJSON(t, api.routes(), http.MethodGet, "/api/searches/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRetryFileNotFound(t *testing.T) {
	api, _ := newTestServer(t)
	w := doJSON(t, api.routes(), http.MethodPost, "/api/files/"+uuid.New().String()+"/retry", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRetryFileConflict(t *testing.T) {
	api, st := newTestServer(t)

	s := &types.Search{Query: "cat", FileCount: 1, Timezone: "UTC"}
	require.NoError(t, st.CreateSearch(context.Background(), s))
	f := &types.AudioFile{SearchID: s.ID, AudioPath: "audio/a.wav", Status: types.FileUploaded}
	require.NoError(t, st.CreateFile(context.Background(), f))

	w := doJSON(t, api.routes(), http.MethodPost, "/api/files/"+f.ID.String()+"/retry", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestDeleteSearch(t *testing.T) {
	api, st := newTestServer(t)

	s := &types.Search{Query: "cat", FileCount: 1, Timezone: "UTC"}
	require.NoError(t, st.CreateSearch(context.Background(), s))

	w := doJSON(t, api.routes(), http.MethodDelete, "/api/searches/"+s.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	_, err := st.GetSearch(context.Background(), s.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetTranscriptionNotFound(t *testing.T) {
	api, _ := newTestServer(t)
	w := doJSON(t, api.routes(), http.MethodGet, "/api/files/"+uuid.New().String()+"/transcription", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetTranscriptionWithoutArtifact(t *testing.T) {
	api, st := newTestServer(t)

	s := &types.Search{Query: "cat", FileCount: 1, Timezone: "UTC"}
	require.NoError(t, st.CreateSearch(context.Background(), s))
	f := &types.AudioFile{SearchID: s.ID, AudioPath: "audio/a.wav", Status: types.FileUploaded}
	require.NoError(t, st.CreateFile(context.Background(), f))

	w := doJSON(t, api.routes(), http.MethodGet, "/api/files/"+f.ID.String()+"/transcription", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "{}", w.Body.String())
}
