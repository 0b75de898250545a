package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/wafkaw/book-digger/internal/util"
	"github.com/wafkaw/book-digger/pkg/common"
	"github.com/wafkaw/book-digger/pkg/logger"
	"github.com/wafkaw/book-digger/pkg/pipeline"
	"github.com/wafkaw/book-digger/pkg/render"
)

// Analyzer runs one book. *pipeline.Runner implements it.
type Analyzer interface {
	Run(ctx context.Context, book common.Book, opts pipeline.RunOptions) (*pipeline.Result, error)
}

// Locker serializes runs of the same book across workers.
// *leaselock.Client implements it.
type Locker interface {
	WithLease(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// SinkFunc returns where the vault of a request is written.
type SinkFunc func(req RunRequest) render.Sink

// Processor handles run and cancel messages.
type Processor struct {
	analyzer  Analyzer
	publisher Publisher
	sink      SinkFunc
	locker    Locker
	runs      *Registry
	slots     *semaphore.Weighted
}

type NewProcessorParams struct {
	Analyzer  Analyzer
	Publisher Publisher
	Sink      SinkFunc
	// Locker is optional; without it runs of one book may overlap.
	Locker Locker
	// ParallelRuns bounds concurrent runs on this worker (default 1).
	ParallelRuns int64
}

func NewProcessor(params NewProcessorParams) *Processor {
	parallel := params.ParallelRuns
	if parallel <= 0 {
		parallel = 1
	}
	return &Processor{
		analyzer:  params.Analyzer,
		publisher: params.Publisher,
		sink:      params.Sink,
		locker:    params.Locker,
		runs:      NewRegistry(),
		slots:     semaphore.NewWeighted(parallel),
	}
}

// Runs exposes the runs in progress.
func (p *Processor) Runs() *Registry {
	return p.runs
}

func (p *Processor) publish(ctx context.Context, ev ProgressEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Error("[Queue] Failed to encode progress", "run_id", ev.RunID, "err", err)
		return
	}
	if err := PublishTopic(ctx, p.publisher, ProgressTopic(ev.RunID), data); err != nil {
		logger.Warn("[Queue] Failed to publish progress", "run_id", ev.RunID, "err", err)
	}
}

// ProcessRunMessage analyzes the book in body and writes its vault. A run
// cancelled through the cancel queue is settled, not retried. Shutting the
// worker down returns the context error so the message is redelivered.
func (p *Processor) ProcessRunMessage(ctx context.Context, body []byte) error {
	req, err := DecodeRunRequest(body)
	if err != nil {
		return err
	}

	if err := p.slots.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.slots.Release(1)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := p.runs.Register(req.RunID, cancel); err != nil {
		return fmt.Errorf("%w: %s", err, req.RunID)
	}
	defer p.runs.Remove(req.RunID)

	book := req.Book()
	run := func(leaseCtx context.Context) error {
		return p.run(ctx, leaseCtx, req, book)
	}
	if p.locker == nil {
		return run(runCtx)
	}
	err = p.locker.WithLease(runCtx, "book:"+book.ID, run)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.Canceled) {
		// cancelled while waiting for the lease
		logger.Info("[Queue] Run cancelled", "run_id", req.RunID, "book_id", book.ID)
		p.publish(context.WithoutCancel(ctx), ProgressEvent{RunID: req.RunID, BookID: book.ID, State: RunCancelled})
		return nil
	}
	return err
}

// run analyzes book under runCtx. ctx is the worker context; its end means
// shutdown rather than a cancelled run.
func (p *Processor) run(ctx, runCtx context.Context, req RunRequest, book common.Book) error {
	event := ProgressEvent{RunID: req.RunID, BookID: book.ID}
	start := time.Now()
	logger.Info("[Queue] Run started", "run_id", req.RunID, "book_id", book.ID, "highlights", len(book.Highlights))

	// progress events outlive runCtx so the final state is always delivered
	pubCtx := context.WithoutCancel(ctx)
	fail := func(err error) error {
		event.State, event.Error = RunFailed, err.Error()
		p.publish(pubCtx, event)
		return err
	}

	res, err := p.analyzer.Run(runCtx, book, pipeline.RunOptions{
		Progress: func(pr util.Progress) {
			ev := event
			ev.State = RunRunning
			ev.Processed, ev.Total, ev.Percentage = pr.Processed, pr.Total, pr.Percentage()
			p.publish(pubCtx, ev)
		},
	})
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, context.Canceled):
			if cause := context.Cause(runCtx); cause != nil && !errors.Is(cause, context.Canceled) {
				return fail(fmt.Errorf("run interrupted: %w", cause))
			}
			logger.Info("[Queue] Run cancelled", "run_id", req.RunID, "book_id", book.ID)
			event.State = RunCancelled
			p.publish(pubCtx, event)
			return nil
		case errors.Is(err, pipeline.ErrConfiguration):
			_ = fail(err)
			return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		return fail(err)
	}

	docs := render.Render(res.Graph, book)
	graphDoc, err := render.RenderJSON(res.Graph, book)
	if err != nil {
		return fail(err)
	}
	docs = append(docs, graphDoc)
	if err := p.sink(req).Write(runCtx, docs); err != nil {
		return fail(fmt.Errorf("failed to write vault: %w", err))
	}

	summary := res.Summary
	event.State = RunCompleted
	event.Processed, event.Total, event.Percentage = summary.Highlights, summary.Highlights, 100
	event.Summary = &summary
	event.Documents = len(docs)
	p.publish(pubCtx, event)

	logger.Info("[Queue] Run completed", "run_id", req.RunID, "book_id", book.ID, "documents", len(docs), "duration", time.Since(start))
	return nil
}

// ProcessCancelMessage cancels the run named in body if it runs here.
func (p *Processor) ProcessCancelMessage(_ context.Context, body []byte) error {
	req, err := DecodeCancelRequest(body)
	if err != nil {
		return err
	}
	if !p.runs.Cancel(req.RunID) {
		logger.Debug("[Queue] Cancel for unknown run", "run_id", req.RunID)
		return nil
	}
	logger.Info("[Queue] Cancel requested", "run_id", req.RunID)
	return nil
}
