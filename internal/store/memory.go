package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"audio-search-go/internal/types"
)

// Memory keeps all records behind one mutex. Used when DATABASE_URL is unset
// and throughout the test suite.
type Memory struct {
	mu       sync.Mutex
	searches map[uuid.UUID]*types.Search
	files    map[uuid.UUID]*types.AudioFile
}

func NewMemory() *Memory {
	return &Memory{
		searches: make(map[uuid.UUID]*types.Search),
		files:    make(map[uuid.UUID]*types.AudioFile),
	}
}

func cloneSearch(s *types.Search) *types.Search {
	out := *s
	return &out
}

func cloneFile(f *types.AudioFile) *types.AudioFile {
	out := *f
	if f.ParsedDate != nil {
		d := *f.ParsedDate
		out.ParsedDate = &d
	}
	if f.QueryCount != nil {
		c := *f.QueryCount
		out.QueryCount = &c
	}
	return &out
}

func (m *Memory) CreateSearch(_ context.Context, s *types.Search) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = uuid.New()
	s.Status = types.SearchPending
	s.CreatedAt = time.Now().UTC()
	m.searches[s.ID] = cloneSearch(s)
	return nil
}

func (m *Memory) GetSearch(_ context.Context, id uuid.UUID) (*types.Search, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.searches[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSearch(s), nil
}

func (m *Memory) ListSearches(_ context.Context) ([]types.Search, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Search, 0, len(m.searches))
	for _, s := range m.searches {
		out = append(out, *cloneSearch(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) DeleteSearch(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.searches[id]; !ok {
		return ErrNotFound
	}
	delete(m.searches, id)
	for fid, f := range m.files {
		if f.SearchID == id {
			delete(m.files, fid)
		}
	}
	return nil
}

func (m *Memory) SetSearchStatus(_ context.Context, id uuid.UUID, status types.SearchStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.searches[id]
	if !ok {
		return ErrNotFound
	}
	s.Status = status
	return nil
}

func (m *Memory) CasSearchStatus(_ context.Context, id uuid.UUID, from, to types.SearchStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.searches[id]
	if !ok {
		return false, ErrNotFound
	}
	if s.Status != from {
		return false, nil
	}
	s.Status = to
	return true, nil
}

func (m *Memory) AddToQueryTotal(_ context.Context, id uuid.UUID, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.searches[id]
	if !ok {
		return ErrNotFound
	}
	s.QueryTotal += delta
	return nil
}

func (m *Memory) SetReportPath(_ context.Context, id uuid.UUID, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.searches[id]
	if !ok {
		return ErrNotFound
	}
	s.ReportPath = path
	return nil
}

func (m *Memory) CreateFile(_ context.Context, f *types.AudioFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.searches[f.SearchID]; !ok {
		return ErrNotFound
	}
	f.ID = uuid.New()
	f.CreatedAt = time.Now().UTC()
	m.files[f.ID] = cloneFile(f)
	return nil
}

func (m *Memory) GetFile(_ context.Context, id uuid.UUID) (*types.AudioFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneFile(f), nil
}

func (m *Memory) ListFiles(_ context.Context, searchID uuid.UUID) ([]types.AudioFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.AudioFile
	for _, f := range m.files {
		if f.SearchID == searchID {
			out = append(out, *cloneFile(f))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListMatchedFiles(_ context.Context, searchID uuid.UUID) ([]types.AudioFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.AudioFile
	for _, f := range m.files {
		if f.SearchID == searchID && f.QueryCount != nil && *f.QueryCount > 0 {
			out = append(out, *cloneFile(f))
		}
	}
	sort.Slice(out, func(i, j int) bool { return *out[i].QueryCount > *out[j].QueryCount })
	return out, nil
}

func (m *Memory) MarkFileTranscribed(_ context.Context, id uuid.UUID, count int, transcriptionPath string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return false, ErrNotFound
	}
	if f.Status == types.FileTranscribed {
		return false, nil
	}
	f.QueryCount = &count
	f.TranscriptionPath = transcriptionPath
	f.Status = types.FileTranscribed
	return true, nil
}

func (m *Memory) SetFileStatus(_ context.Context, id uuid.UUID, status types.FileStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return ErrNotFound
	}
	f.Status = status
	return nil
}

func (m *Memory) ResetFileForRetry(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return ErrNotFound
	}
	f.QueryCount = nil
	f.TranscriptionPath = ""
	f.Status = types.FileUploaded
	return nil
}
