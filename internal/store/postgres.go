package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"audio-search-go/internal/types"
)

// Postgres backs the store with a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func ConnectPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

// Migrate creates the two tables when they do not exist yet.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS searches (
			id           UUID PRIMARY KEY,
			query        TEXT NOT NULL,
			file_count   INT NOT NULL DEFAULT 0,
			query_total  INT NOT NULL DEFAULT 0,
			status       TEXT NOT NULL,
			notify_email TEXT NOT NULL DEFAULT '',
			report_path  TEXT NOT NULL DEFAULT '',
			timezone     TEXT NOT NULL DEFAULT 'UTC',
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS files (
			id                 UUID PRIMARY KEY,
			search_id          UUID NOT NULL REFERENCES searches(id) ON DELETE CASCADE,
			audio_path         TEXT NOT NULL,
			audio_filename     TEXT NOT NULL,
			parsed_date        TIMESTAMPTZ,
			query_count        INT,
			transcription_path TEXT NOT NULL DEFAULT '',
			status             TEXT NOT NULL,
			created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS files_search_id_idx ON files (search_id);
	`)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (p *Postgres) CreateSearch(ctx context.Context, s *types.Search) error {
	s.ID = uuid.New()
	s.Status = types.SearchPending
	row := p.pool.QueryRow(ctx,
		`INSERT INTO searches (id, query, file_count, status, notify_email, timezone)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at`,
		s.ID, s.Query, s.FileCount, s.Status, s.NotifyEmail, s.Timezone,
	)
	if err := row.Scan(&s.CreatedAt); err != nil {
		return fmt.Errorf("create search: %w", err)
	}
	return nil
}

func scanSearch(row pgx.Row, s *types.Search) error {
	return row.Scan(&s.ID, &s.Query, &s.FileCount, &s.QueryTotal, &s.Status,
		&s.NotifyEmail, &s.ReportPath, &s.Timezone, &s.CreatedAt)
}

const searchColumns = `id, query, file_count, query_total, status, notify_email, report_path, timezone, created_at`

func (p *Postgres) GetSearch(ctx context.Context, id uuid.UUID) (*types.Search, error) {
	var s types.Search
	row := p.pool.QueryRow(ctx, `SELECT `+searchColumns+` FROM searches WHERE id = $1`, id)
	if err := scanSearch(row, &s); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get search: %w", err)
	}
	return &s, nil
}

func (p *Postgres) ListSearches(ctx context.Context) ([]types.Search, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+searchColumns+` FROM searches ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list searches: %w", err)
	}
	defer rows.Close()

	var out []types.Search
	for rows.Next() {
		var s types.Search
		if err := scanSearch(rows, &s); err != nil {
			return nil, fmt.Errorf("scan search: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteSearch(ctx context.Context, id uuid.UUID) error {
	ct, err := p.pool.Exec(ctx, `DELETE FROM searches WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete search: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SetSearchStatus(ctx context.Context, id uuid.UUID, status types.SearchStatus) error {
	ct, err := p.pool.Exec(ctx, `UPDATE searches SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set search status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) CasSearchStatus(ctx context.Context, id uuid.UUID, from, to types.SearchStatus) (bool, error) {
	ct, err := p.pool.Exec(ctx,
		`UPDATE searches SET status = $3 WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return false, fmt.Errorf("cas search status: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

func (p *Postgres) AddToQueryTotal(ctx context.Context, id uuid.UUID, delta int) error {
	// The increment happens in SQL so sibling units never lose an update.
	ct, err := p.pool.Exec(ctx,
		`UPDATE searches SET query_total = query_total + $2 WHERE id = $1`, id, delta)
	if err != nil {
		return fmt.Errorf("add to query total: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SetReportPath(ctx context.Context, id uuid.UUID, path string) error {
	ct, err := p.pool.Exec(ctx, `UPDATE searches SET report_path = $2 WHERE id = $1`, id, path)
	if err != nil {
		return fmt.Errorf("set report path: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) CreateFile(ctx context.Context, f *types.AudioFile) error {
	f.ID = uuid.New()
	row := p.pool.QueryRow(ctx,
		`INSERT INTO files (id, search_id, audio_path, audio_filename, parsed_date, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at`,
		f.ID, f.SearchID, f.AudioPath, f.AudioFilename, f.ParsedDate, f.Status,
	)
	if err := row.Scan(&f.CreatedAt); err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	return nil
}

const fileColumns = `id, search_id, audio_path, audio_filename, parsed_date, query_count, transcription_path, status, created_at`

func scanFile(row pgx.Row, f *types.AudioFile) error {
	return row.Scan(&f.ID, &f.SearchID, &f.AudioPath, &f.AudioFilename, &f.ParsedDate,
		&f.QueryCount, &f.TranscriptionPath, &f.Status, &f.CreatedAt)
}

func (p *Postgres) GetFile(ctx context.Context, id uuid.UUID) (*types.AudioFile, error) {
	var f types.AudioFile
	row := p.pool.QueryRow(ctx, `SELECT `+fileColumns+` FROM files WHERE id = $1`, id)
	if err := scanFile(row, &f); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get file: %w", err)
	}
	return &f, nil
}

func (p *Postgres) listFiles(ctx context.Context, query string, args ...any) ([]types.AudioFile, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var out []types.AudioFile
	for rows.Next() {
		var f types.AudioFile
		if err := scanFile(rows, &f); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (p *Postgres) ListFiles(ctx context.Context, searchID uuid.UUID) ([]types.AudioFile, error) {
	return p.listFiles(ctx,
		`SELECT `+fileColumns+` FROM files WHERE search_id = $1 ORDER BY created_at`, searchID)
}

func (p *Postgres) ListMatchedFiles(ctx context.Context, searchID uuid.UUID) ([]types.AudioFile, error) {
	return p.listFiles(ctx,
		`SELECT `+fileColumns+` FROM files
		 WHERE search_id = $1 AND query_count > 0
		 ORDER BY query_count DESC`, searchID)
}

func (p *Postgres) MarkFileTranscribed(ctx context.Context, id uuid.UUID, count int, transcriptionPath string) (bool, error) {
	// Guarded transition: a redelivered unit that lost the race updates nothing.
	ct, err := p.pool.Exec(ctx,
		`UPDATE files SET query_count = $2, transcription_path = $3, status = $4
		 WHERE id = $1 AND status <> $4`,
		id, count, transcriptionPath, types.FileTranscribed)
	if err != nil {
		return false, fmt.Errorf("mark file transcribed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

func (p *Postgres) SetFileStatus(ctx context.Context, id uuid.UUID, status types.FileStatus) error {
	ct, err := p.pool.Exec(ctx, `UPDATE files SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set file status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ResetFileForRetry(ctx context.Context, id uuid.UUID) error {
	ct, err := p.pool.Exec(ctx,
		`UPDATE files SET query_count = NULL, transcription_path = '', status = $2 WHERE id = $1`,
		id, types.FileUploaded)
	if err != nil {
		return fmt.Errorf("reset file for retry: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
