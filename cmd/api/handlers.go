package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"audio-search-go/internal/logger"
	"audio-search-go/internal/pipeline"
	"audio-search-go/internal/processor"
	"audio-search-go/internal/storage"
	"audio-search-go/internal/store"
	"audio-search-go/internal/types"
)

type apiServer struct {
	store store.Store
	blobs storage.Store
	proc  *processor.Processor
	coord *pipeline.Coordinator
	log   *logger.Logger
}

var validate = validator.New()

func (s *apiServer) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("POST /api/uploads", s.handleStageUpload)
	mux.HandleFunc("POST /api/searches", s.handleSubmit)
	mux.HandleFunc("GET /api/searches", s.handleListSearches)
	mux.HandleFunc("GET /api/searches/{id}", s.handleGetSearch)
	mux.HandleFunc("DELETE /api/searches/{id}", s.handleDeleteSearch)
	mux.HandleFunc("POST /api/files/{id}/retry", s.handleRetryFile)
	mux.HandleFunc("GET /api/files/{id}/transcription", s.handleGetTranscription)

	return mux
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Error("failed to write response")
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *apiServer) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

// handleStageUpload receives one multipart audio file and stages it under
// tmp/ for a later batch submission.
func (s *apiServer) handleStageUpload(w http.ResponseWriter, r *http.Request) {
	log := s.log.WithRequest(r).WithField("handler", "uploads")

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	stagedPath := "tmp/" + uuid.New().String() + path.Ext(header.Filename)
	if err := s.blobs.Put(stagedPath, file); err != nil {
		log.WithError(err).Error("could not stage upload")
		s.writeError(w, http.StatusInternalServerError, "could not store file")
		return
	}

	log.WithField("staged_path", stagedPath).Info("file staged")
	s.writeJSON(w, http.StatusCreated, types.StagedFile{Name: header.Filename, Path: stagedPath})
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	log := s.log.WithRequest(r).WithField("handler", "submit")

	var req types.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validate.Struct(req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Timezone != "" {
		if _, err := time.LoadLocation(req.Timezone); err != nil {
			s.writeError(w, http.StatusBadRequest, "unknown timezone")
			return
		}
	}

	id, err := s.coord.SubmitBatch(r.Context(), req)
	if err != nil {
		log.WithError(err).Error("batch submission failed")
		s.writeError(w, http.StatusInternalServerError, "could not dispatch batch")
		return
	}

	log.WithField("search_id", id.String()).WithField("file_count", len(req.Files)).Info("search submitted")
	s.writeJSON(w, http.StatusAccepted, map[string]string{"id": id.String()})
}

func (s *apiServer) handleListSearches(w http.ResponseWriter, r *http.Request) {
	searches, err := s.store.ListSearches(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "could not list searches")
		return
	}
	s.writeJSON(w, http.StatusOK, searches)
}

func (s *apiServer) handleGetSearch(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	search, err := s.store.GetSearch(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "search not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "could not load search")
		return
	}
	files, err := s.store.ListFiles(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "could not load files")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"search": search, "files": files})
}

func (s *apiServer) handleDeleteSearch(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	err := s.coord.DeleteSearch(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "search not found")
		return
	}
	if err != nil {
		s.log.WithRequest(r).WithError(err).Error("could not delete search")
		s.writeError(w, http.StatusInternalServerError, "could not delete search")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleRetryFile(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	err := s.coord.RetryFile(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "file not found")
	case errors.Is(err, pipeline.ErrNotRetryable):
		s.writeError(w, http.StatusConflict, "file is not in a retryable state")
	case err != nil:
		s.log.WithRequest(r).WithError(err).Error("retry dispatch failed")
		s.writeError(w, http.StatusInternalServerError, "could not dispatch retry")
	default:
		s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "retrying"})
	}
}

func (s *apiServer) handleGetTranscription(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	file, err := s.store.GetFile(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "file not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "could not load file")
		return
	}

	result, err := s.proc.Transcription(r.Context(), file)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "could not load transcription")
		return
	}
	if result == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}
