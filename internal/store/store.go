// Package store persists Search and AudioFile records. Two implementations
// exist: Postgres for deployments and an in-memory store for local mode and
// tests. The query-total increment and the status compare-and-set are the two
// operations concurrent units rely on; both must be atomic.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"audio-search-go/internal/types"
)

var ErrNotFound = errors.New("record not found")

type Store interface {
	// CreateSearch fills in ID, Status (pending) and CreatedAt.
	CreateSearch(ctx context.Context, s *types.Search) error
	GetSearch(ctx context.Context, id uuid.UUID) (*types.Search, error)
	ListSearches(ctx context.Context) ([]types.Search, error)
	// DeleteSearch removes the search and cascades to its files.
	DeleteSearch(ctx context.Context, id uuid.UUID) error
	SetSearchStatus(ctx context.Context, id uuid.UUID, status types.SearchStatus) error
	// CasSearchStatus transitions from -> to atomically and reports whether this
	// caller won the transition. The single winner fires downstream effects.
	CasSearchStatus(ctx context.Context, id uuid.UUID, from, to types.SearchStatus) (bool, error)
	// AddToQueryTotal increments the running match total atomically.
	AddToQueryTotal(ctx context.Context, id uuid.UUID, delta int) error
	SetReportPath(ctx context.Context, id uuid.UUID, path string) error

	// CreateFile fills in ID, CreatedAt.
	CreateFile(ctx context.Context, f *types.AudioFile) error
	GetFile(ctx context.Context, id uuid.UUID) (*types.AudioFile, error)
	ListFiles(ctx context.Context, searchID uuid.UUID) ([]types.AudioFile, error)
	// ListMatchedFiles returns files with query_count > 0, highest count first.
	ListMatchedFiles(ctx context.Context, searchID uuid.UUID) ([]types.AudioFile, error)
	// MarkFileTranscribed records the processing outcome in one transition and
	// reports whether the row actually moved to transcribed. A false return
	// means a concurrent delivery already finished this file; the caller must
	// not add its count to the search total again.
	MarkFileTranscribed(ctx context.Context, id uuid.UUID, count int, transcriptionPath string) (bool, error)
	SetFileStatus(ctx context.Context, id uuid.UUID, status types.FileStatus) error
	// ResetFileForRetry nulls the match count and transcription reference and
	// puts the file back into uploaded, atomically from the caller's view.
	ResetFileForRetry(ctx context.Context, id uuid.UUID) error
}
