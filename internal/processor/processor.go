// Package processor implements the two per-file pipeline stages: turning one
// staged upload into a durable AudioFile record, and transcribing + searching
// one uploaded file.
package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"audio-search-go/internal/errreport"
	"audio-search-go/internal/logger"
	"audio-search-go/internal/matcher"
	"audio-search-go/internal/storage"
	"audio-search-go/internal/store"
	"audio-search-go/internal/transcription"
	"audio-search-go/internal/types"
)

var allowedMimeTypes = []string{
	"audio/wav", "audio/x-wav", "audio/wave", "audio/mpeg", "audio/mp4",
}

const maxFileSize = 25 * 1024 * 1024 // 25 MiB

type Processor struct {
	store   store.Store
	blobs   storage.Store
	client  transcription.Client
	errs    errreport.Sink
	timeout time.Duration
	log     *logger.Logger
}

func New(st store.Store, blobs storage.Store, client transcription.Client, errs errreport.Sink, timeout time.Duration, log *logger.Logger) *Processor {
	return &Processor{store: st, blobs: blobs, client: client, errs: errs, timeout: timeout, log: log}
}

// Upload validates and relocates one staged file and creates its AudioFile
// record in uploaded state. A non-nil error fails only this unit; the batch
// keeps going.
func (p *Processor) Upload(ctx context.Context, search *types.Search, staged types.StagedFile) (*types.AudioFile, error) {
	log := p.log.WithSearch(search.ID).
		WithField("component", "upload").
		WithField("staged_path", staged.Path)

	tempPath := staged.Path
	permanentPath := "audio/" + path.Base(staged.Path)

	if !p.blobs.Exists(tempPath) {
		log.Error("staged file not found")
		return nil, fmt.Errorf("staged file not found: %s", tempPath)
	}

	if err := p.validate(tempPath); err != nil {
		log.WithError(err).Error("staged file rejected")
		// The rejected temp file has no record pointing at it; drop it.
		if derr := p.blobs.Delete(tempPath); derr != nil {
			log.WithError(derr).Warn("could not delete rejected file")
		}
		return nil, err
	}

	if err := p.blobs.Move(tempPath, permanentPath); err != nil {
		log.WithError(err).Error("could not relocate staged file")
		return nil, fmt.Errorf("relocate staged file: %w", err)
	}

	file := &types.AudioFile{
		SearchID:      search.ID,
		AudioPath:     permanentPath,
		AudioFilename: sanitizeFilename(staged.Name),
		ParsedDate:    parseFilenameDate(staged.Name, search.Timezone),
		Status:        types.FileUploaded,
	}
	if err := p.store.CreateFile(ctx, file); err != nil {
		log.WithError(err).Error("could not create file record")
		return nil, fmt.Errorf("create file record: %w", err)
	}

	log.WithField("file_id", file.ID.String()).Info("file uploaded")
	return file, nil
}

func (p *Processor) validate(blobPath string) error {
	mime, err := p.blobs.MimeType(blobPath)
	if err != nil {
		return fmt.Errorf("detect mime type: %w", err)
	}
	size, err := p.blobs.Size(blobPath)
	if err != nil {
		return fmt.Errorf("stat file: %w", err)
	}
	if !slices.Contains(allowedMimeTypes, mime) {
		return fmt.Errorf("unsupported file type %q", mime)
	}
	if size > maxFileSize {
		return fmt.Errorf("file too large: %d bytes", size)
	}
	return nil
}

// Process transcribes one uploaded file, searches the transcript, persists the
// match artifact and records the outcome. It returns the file's contribution
// to the search total: 0 when a concurrent delivery already finished the file.
// Processing an already-transcribed file is a no-op, never a double count.
func (p *Processor) Process(ctx context.Context, search *types.Search, fileID uuid.UUID, retry bool) (int, error) {
	log := p.log.WithSearch(search.ID).
		WithField("component", "process").
		WithField("file_id", fileID.String()).
		WithField("retry", retry)

	file, err := p.store.GetFile(ctx, fileID)
	if err != nil {
		return 0, fmt.Errorf("load file: %w", err)
	}
	if file.Status == types.FileTranscribed {
		log.Info("file already transcribed, skipping")
		return 0, nil
	}

	if file.AudioPath == "" || !p.blobs.Exists(file.AudioPath) {
		return 0, p.fail(ctx, log, fileID, fmt.Errorf("audio file does not exist: %s", file.AudioPath))
	}

	audio, err := p.blobs.ReadStream(file.AudioPath)
	if err != nil {
		return 0, p.fail(ctx, log, fileID, err)
	}
	// The deadline bounds only the remote call. Record writes after it must
	// still go through, or a timed-out file would be stuck in uploaded.
	tctx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	text, err := p.client.Transcribe(tctx, audio, path.Base(file.AudioPath))
	audio.Close()
	if err != nil {
		return 0, p.fail(ctx, log, fileID, fmt.Errorf("transcribe: %w", err))
	}

	result := matcher.Find(text, search.Query)
	if result.Segments == nil {
		return 0, p.fail(ctx, log, fileID, fmt.Errorf("matcher returned malformed result"))
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return 0, p.fail(ctx, log, fileID, fmt.Errorf("encode transcription: %w", err))
	}
	// The artifact is written before the record references it; a failed write
	// leaves nothing dangling.
	artifactPath := "transcriptions/" + uuid.New().String() + ".json"
	if err := p.blobs.Put(artifactPath, bytes.NewReader(payload)); err != nil {
		return 0, p.fail(ctx, log, fileID, fmt.Errorf("store transcription: %w", err))
	}

	moved, err := p.store.MarkFileTranscribed(ctx, fileID, result.MatchCount, artifactPath)
	if err != nil {
		return 0, p.fail(ctx, log, fileID, err)
	}
	if !moved {
		log.Info("lost transcription race, skipping total update")
		return 0, nil
	}

	if err := p.store.AddToQueryTotal(ctx, search.ID, result.MatchCount); err != nil {
		log.WithError(err).Error("could not update query total")
		return 0, err
	}

	log.WithField("match_count", result.MatchCount).Info("file transcribed")
	return result.MatchCount, nil
}

// fail marks the file failed and forwards the exception to the error sink.
// The status write detaches from ctx: a unit that died on a deadline or a
// cancelled run still has to land in failed, where retry can find it.
func (p *Processor) fail(ctx context.Context, log *logrus.Entry, fileID uuid.UUID, cause error) error {
	if err := p.store.SetFileStatus(context.WithoutCancel(ctx), fileID, types.FileFailed); err != nil {
		p.log.WithError(err).WithField("file_id", fileID.String()).Error("could not mark file failed")
	}
	p.errs.Capture(cause)
	log.WithField("error", cause.Error()).Error("file processing failed")
	return fmt.Errorf("process file %s: %w", fileID, cause)
}

// Transcription loads the stored match artifact for a file. A referenced but
// unreadable or empty artifact flips the file to transcription-missing and
// returns nil without an error.
func (p *Processor) Transcription(ctx context.Context, file *types.AudioFile) (*matcher.Result, error) {
	if file.TranscriptionPath == "" {
		return nil, nil
	}

	log := p.log.WithComponent("process").WithField("file_id", file.ID.String())

	rc, err := p.blobs.ReadStream(file.TranscriptionPath)
	if err != nil {
		log.WithError(err).Warn("transcription artifact unreadable")
		return nil, p.store.SetFileStatus(ctx, file.ID, types.FileTranscriptionMissing)
	}
	defer rc.Close()

	var result matcher.Result
	if err := json.NewDecoder(rc).Decode(&result); err != nil || len(result.Segments) == 0 {
		log.Warn("transcription artifact empty")
		return nil, p.store.SetFileStatus(ctx, file.ID, types.FileTranscriptionMissing)
	}
	return &result, nil
}
