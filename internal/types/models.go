package types

import (
	"time"

	"github.com/google/uuid"
)

type SearchStatus string

const (
	SearchPending    SearchStatus = "pending"
	SearchProcessing SearchStatus = "processing"
	SearchCompleted  SearchStatus = "completed"
	SearchFailed     SearchStatus = "failed"
)

// Terminal reports whether no further automatic transitions happen from s.
func (s SearchStatus) Terminal() bool {
	return s == SearchCompleted || s == SearchFailed
}

type FileStatus string

const (
	FileQueued               FileStatus = "queued"
	FileUploaded             FileStatus = "uploaded"
	FileTranscribed          FileStatus = "transcribed"
	FileTranscriptionMissing FileStatus = "transcription-missing"
	FileFailed               FileStatus = "failed"
)

// Retryable reports whether a file may be re-submitted for processing.
func (s FileStatus) Retryable() bool {
	return s == FileFailed || s == FileTranscriptionMissing
}

// Search is one submitted phrase + batch of audio files.
type Search struct {
	ID          uuid.UUID    `json:"id"`
	Query       string       `json:"query"`
	FileCount   int          `json:"file_count"`
	QueryTotal  int          `json:"query_total"`
	Status      SearchStatus `json:"status"`
	NotifyEmail string       `json:"notify_email,omitempty"`
	ReportPath  string       `json:"report_path,omitempty"`
	Timezone    string       `json:"timezone,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// AudioFile is one uploaded recording belonging to a Search.
type AudioFile struct {
	ID                uuid.UUID  `json:"id"`
	SearchID          uuid.UUID  `json:"search_id"`
	AudioPath         string     `json:"audio_path"`
	AudioFilename     string     `json:"audio_filename"`
	ParsedDate        *time.Time `json:"parsed_date,omitempty"`
	QueryCount        *int       `json:"query_count,omitempty"`
	TranscriptionPath string     `json:"transcription_path,omitempty"`
	Status            FileStatus `json:"status"`
	CreatedAt         time.Time  `json:"created_at"`
}

// StagedFile references one client-staged upload awaiting the batch pipeline.
type StagedFile struct {
	Name string `json:"name" validate:"required"`
	Path string `json:"path" validate:"required"`
}

// SubmitRequest is the payload accepted by POST /api/searches.
type SubmitRequest struct {
	Query       string       `json:"query" validate:"required"`
	Timezone    string       `json:"timezone"`
	NotifyEmail string       `json:"notify_email" validate:"omitempty,email"`
	Files       []StagedFile `json:"files" validate:"min=1,dive"`
}
