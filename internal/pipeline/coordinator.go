// Package pipeline fans a submitted batch out into per-file upload and
// processing units, tracks their progress and detects completion exactly once.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"audio-search-go/internal/logger"
	"audio-search-go/internal/notify"
	"audio-search-go/internal/processor"
	"audio-search-go/internal/report"
	"audio-search-go/internal/storage"
	"audio-search-go/internal/store"
	"audio-search-go/internal/types"
)

// ErrNotRetryable means the file is not in a state retry applies to.
var ErrNotRetryable = errors.New("file is not in a retryable state")

// Typed queue messages. An upload unit chains into a processing unit for the
// same file; a manual retry is a processing unit with no batch run attached.
type uploadJob struct {
	run    *BatchRun
	search *types.Search
	staged types.StagedFile
}

type processJob struct {
	run    *BatchRun // nil for a manual retry
	search *types.Search
	fileID uuid.UUID
	retry  bool
}

type Coordinator struct {
	store   store.Store
	blobs   storage.Store
	proc    *processor.Processor
	reports *report.Generator
	notify  notify.Notifier
	appURL  string
	log     *logger.Logger

	jobs    chan any
	workers int

	mu   sync.Mutex
	runs map[uuid.UUID]*BatchRun

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

func New(st store.Store, blobs storage.Store, proc *processor.Processor, reports *report.Generator, notifier notify.Notifier, appURL string, workers, queueSize int, log *logger.Logger) *Coordinator {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Coordinator{
		store:   st,
		blobs:   blobs,
		proc:    proc,
		reports: reports,
		notify:  notifier,
		appURL:  appURL,
		log:     log,
		jobs:    make(chan any, queueSize),
		workers: workers,
		runs:    make(map[uuid.UUID]*BatchRun),
	}
}

// Start launches the worker pool. Pending jobs are dropped when the parent
// context dies; durable state keeps the searches recoverable.
func (c *Coordinator) Start(parent context.Context) {
	c.ctx, c.cancel = context.WithCancel(parent)
	group, gctx := errgroup.WithContext(c.ctx)
	c.group = group
	for i := 0; i < c.workers; i++ {
		group.Go(func() error {
			c.worker(gctx)
			return nil
		})
	}
	c.log.WithComponent("pipeline").WithField("workers", c.workers).Info("coordinator started")
}

// Stop cancels the workers and waits for in-flight units to wind down.
func (c *Coordinator) Stop() {
	c.cancel()
	_ = c.group.Wait()
}

func (c *Coordinator) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-c.jobs:
			c.dispatchJob(ctx, j)
		}
	}
}

func (c *Coordinator) dispatchJob(ctx context.Context, j any) {
	switch j := j.(type) {
	case uploadJob:
		c.runUpload(ctx, j)
	case processJob:
		c.runProcess(ctx, j)
	}
}

func (c *Coordinator) enqueue(j any) error {
	select {
	case c.jobs <- j:
		return nil
	case <-c.ctx.Done():
		return fmt.Errorf("dispatch queue unavailable: %w", c.ctx.Err())
	}
}

// enqueueChained hands the follow-up unit to the queue without ever blocking:
// a worker blocked on its own full queue would deadlock the pool.
func (c *Coordinator) enqueueChained(ctx context.Context, j processJob) {
	select {
	case c.jobs <- j:
	default:
		c.runProcess(ctx, j)
	}
}

// SubmitBatch creates the Search record and dispatches one upload unit per
// staged file. A dispatch failure is fatal to the whole search.
func (c *Coordinator) SubmitBatch(ctx context.Context, req types.SubmitRequest) (uuid.UUID, error) {
	if len(req.Files) == 0 {
		return uuid.Nil, errors.New("no files provided")
	}

	tz := req.Timezone
	if tz == "" {
		tz = "UTC"
	}

	search := &types.Search{
		Query:       req.Query,
		FileCount:   len(req.Files),
		NotifyEmail: req.NotifyEmail,
		Timezone:    tz,
	}
	if err := c.store.CreateSearch(ctx, search); err != nil {
		return uuid.Nil, fmt.Errorf("create search: %w", err)
	}

	log := c.log.WithSearch(search.ID).WithField("component", "pipeline")

	run := newBatchRun(c.ctx, len(req.Files))
	c.mu.Lock()
	c.runs[search.ID] = run
	c.mu.Unlock()

	for _, staged := range req.Files {
		if err := c.enqueue(uploadJob{run: run, search: search, staged: staged}); err != nil {
			// The batch never got off the ground; fail the search outright.
			log.WithError(err).Error("batch dispatch failed")
			if serr := c.store.SetSearchStatus(ctx, search.ID, types.SearchFailed); serr != nil {
				log.WithError(serr).Error("could not mark search failed")
			}
			c.unregister(search.ID)
			return search.ID, err
		}
	}

	log.WithField("file_count", len(req.Files)).Info("batch dispatched")
	return search.ID, nil
}

// RetryFile resets one failed file and re-runs its processing unit. Completion
// is re-evaluated by the retry unit itself instead of batch counters.
func (c *Coordinator) RetryFile(ctx context.Context, fileID uuid.UUID) error {
	file, err := c.store.GetFile(ctx, fileID)
	if err != nil {
		return err
	}
	if !file.Status.Retryable() {
		return ErrNotRetryable
	}
	search, err := c.store.GetSearch(ctx, file.SearchID)
	if err != nil {
		return err
	}
	if err := c.store.ResetFileForRetry(ctx, fileID); err != nil {
		return err
	}
	c.log.WithSearch(search.ID).WithField("component", "pipeline").
		WithField("file_id", fileID.String()).Info("file retry dispatched")
	return c.enqueue(processJob{search: search, fileID: fileID, retry: true})
}

// CancelBatch flags the in-flight run, if any, so its remaining units exit
// without touching aggregate state.
func (c *Coordinator) CancelBatch(searchID uuid.UUID) {
	c.mu.Lock()
	run := c.runs[searchID]
	c.mu.Unlock()
	if run != nil {
		run.Cancel()
		c.log.WithSearch(searchID).WithField("component", "pipeline").Info("batch cancelled")
	}
}

// DeleteSearch cancels any in-flight batch, removes stored blobs and deletes
// the search with its files.
func (c *Coordinator) DeleteSearch(ctx context.Context, searchID uuid.UUID) error {
	c.CancelBatch(searchID)

	search, err := c.store.GetSearch(ctx, searchID)
	if err != nil {
		return err
	}

	files, err := c.store.ListFiles(ctx, searchID)
	if err != nil {
		return err
	}
	for _, f := range files {
		if f.AudioPath != "" {
			_ = c.blobs.Delete(f.AudioPath)
		}
		if f.TranscriptionPath != "" {
			_ = c.blobs.Delete(f.TranscriptionPath)
		}
	}
	if search.ReportPath != "" {
		_ = c.blobs.Delete(search.ReportPath)
	}

	if err := c.store.DeleteSearch(ctx, searchID); err != nil {
		return err
	}
	c.unregister(searchID)
	return nil
}

func (c *Coordinator) unregister(searchID uuid.UUID) {
	c.mu.Lock()
	delete(c.runs, searchID)
	c.mu.Unlock()
}

func (c *Coordinator) runUpload(ctx context.Context, j uploadJob) {
	if j.run.Cancelled() {
		return
	}

	file, err := c.proc.Upload(j.run.Context(), j.search, j.staged)
	if j.run.Cancelled() {
		return
	}

	// Once every upload has resolved the search leaves pending, whether or not
	// individual files made it.
	if j.run.uploadTerminal() {
		if _, cerr := c.store.CasSearchStatus(ctx, j.search.ID, types.SearchPending, types.SearchProcessing); cerr != nil {
			c.log.WithSearch(j.search.ID).WithError(cerr).Error("could not advance search to processing")
		}
	}

	if err != nil {
		// The failed upload still counts toward completion detection.
		if j.run.unitTerminal(true) {
			c.finish(ctx, j.search, false)
		}
		return
	}

	c.enqueueChained(ctx, processJob{run: j.run, search: j.search, fileID: file.ID})
}

func (c *Coordinator) runProcess(ctx context.Context, j processJob) {
	if j.retry {
		if _, err := c.proc.Process(ctx, j.search, j.fileID, true); err != nil {
			return
		}
		c.finish(ctx, j.search, true)
		return
	}

	if j.run.Cancelled() {
		return
	}

	_, err := c.proc.Process(j.run.Context(), j.search, j.fileID, false)
	// A cancel that landed mid-call aborted the unit; it must not count
	// toward completion.
	if j.run.Cancelled() {
		return
	}
	if j.run.unitTerminal(err != nil) {
		c.finish(ctx, j.search, false)
	}
}

// finish runs the batch-finished decision: report when the total says there is
// something to report, then the completed transition and its one notification.
func (c *Coordinator) finish(ctx context.Context, search *types.Search, retry bool) {
	c.unregister(search.ID)

	fresh, err := c.store.GetSearch(ctx, search.ID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.log.WithSearch(search.ID).WithError(err).Error("could not load search for completion")
		}
		return
	}

	log := c.log.WithSearch(fresh.ID).WithField("component", "pipeline").WithField("retry", retry)

	if fresh.QueryTotal > 0 {
		path, rerr := c.reports.Generate(ctx, fresh)
		switch {
		case errors.Is(rerr, report.ErrNoMatches):
			log.Info("no matched files, skipping report")
		case rerr != nil:
			// A missing report never blocks completion.
			log.WithError(rerr).Error("report generation failed")
		default:
			if serr := c.store.SetReportPath(ctx, fresh.ID, path); serr != nil {
				log.WithError(serr).Error("could not record report path")
			}
		}
	}

	c.completeAndNotify(ctx, fresh)
}

// completeAndNotify fires the terminal transition. The status CAS picks the
// single winner when racing completion signals arrive; only the winner sends
// the notification.
func (c *Coordinator) completeAndNotify(ctx context.Context, search *types.Search) {
	log := c.log.WithSearch(search.ID).WithField("component", "pipeline")

	moved, err := c.store.CasSearchStatus(ctx, search.ID, types.SearchProcessing, types.SearchCompleted)
	if err != nil {
		log.WithError(err).Error("could not complete search")
		return
	}
	if !moved {
		log.Info("search already finalized")
		return
	}

	log.WithField("query_total", search.QueryTotal).Info("search completed")

	if search.NotifyEmail == "" {
		return
	}
	summary := notify.Summary{
		Query:      search.Query,
		QueryTotal: search.QueryTotal,
		FileCount:  search.FileCount,
		ResultURL:  c.appURL + "/results/" + search.ID.String(),
	}
	if err := c.notify.Send(ctx, search.NotifyEmail, summary); err != nil {
		// Fire and forget: a lost mail does not reopen a finished search.
		log.WithError(err).Error("completion notification failed")
	}
}
