package pipeline

import (
	"context"
	"sync/atomic"
)

// BatchRun tracks the in-flight units for one search. It is purely a counting
// and cancellation device; durable state lives on the Search record.
type BatchRun struct {
	total       int64
	uploadsDone atomic.Int64
	processed   atomic.Int64
	failed      atomic.Int64
	cancelled   atomic.Bool
	finished    atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

func newBatchRun(parent context.Context, total int) *BatchRun {
	ctx, cancel := context.WithCancel(parent)
	return &BatchRun{total: int64(total), ctx: ctx, cancel: cancel}
}

// Cancel flags the run and kills its context so in-flight remote calls abort.
func (r *BatchRun) Cancel() {
	r.cancelled.Store(true)
	r.cancel()
}

func (r *BatchRun) Cancelled() bool {
	return r.cancelled.Load()
}

// Context is the run-scoped context the per-file units execute under. It dies
// on Cancel and with the coordinator it was created from.
func (r *BatchRun) Context() context.Context {
	return r.ctx
}

// uploadTerminal records one upload unit reaching a terminal outcome, success
// or failure, and reports whether every upload has now resolved.
func (r *BatchRun) uploadTerminal() bool {
	return r.uploadsDone.Add(1) >= r.total
}

// unitTerminal records one unit reaching a terminal outcome and returns true
// for exactly one caller: the one whose increment first satisfies the
// completion rule. The rule is processed >= total, not ==, because concurrent
// completions can push the counter past equality before an observer checks.
func (r *BatchRun) unitTerminal(failed bool) bool {
	if failed {
		r.failed.Add(1)
	}
	if r.processed.Add(1) >= r.total {
		return r.finished.CompareAndSwap(false, true)
	}
	return false
}

// FailedCount is how many units resolved as failures so far.
func (r *BatchRun) FailedCount() int64 {
	return r.failed.Load()
}
