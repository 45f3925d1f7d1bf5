package embedding

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// EmbedResult is the outcome delivered on a job's future channel.
type EmbedResult struct {
	Vector []float32
	Err    error
}

// job is one enqueued embedding request; exactly one worker claims it and
// resolves resultCh exactly once.
type job struct {
	text     string
	resultCh chan<- EmbedResult
}

// Dispatcher is a bounded pool of N workers, each owning one loaded
// EmbeddingModel. Workers never share mutable state; a failure embedding
// one text surfaces as a failed future and never crashes the pool.
type Dispatcher struct {
	dimension int
	jobs      chan job
	cancel    context.CancelFunc
	group     *errgroup.Group
}

// NewDispatcher starts workerCount workers, each constructed via
// newModel. All models must report the same Dimensions(); the first
// worker's dimension becomes the dispatcher's fixed dimension.
func NewDispatcher(ctx context.Context, workerCount int, newModel func() (EmbeddingModel, error)) (*Dispatcher, error) {
	if workerCount <= 0 {
		workerCount = 1
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)

	d := &Dispatcher{
		jobs:   make(chan job, workerCount*4),
		cancel: cancel,
		group:  g,
	}

	for i := 0; i < workerCount; i++ {
		workerID := i
		model, err := newModel()
		if err != nil {
			cancel()
			return nil, fmt.Errorf("construct embedding worker %d: %w", workerID, err)
		}
		if d.dimension == 0 {
			d.dimension = model.Dimensions()
		} else if model.Dimensions() != d.dimension {
			cancel()
			return nil, fmt.Errorf("embedding worker %d dimension %d does not match dispatcher dimension %d",
				workerID, model.Dimensions(), d.dimension)
		}

		g.Go(func() error {
			defer func() { _ = model.Close() }()
			d.runWorker(gctx, workerID, model)
			return nil
		})
	}

	return d, nil
}

// runWorker claims jobs from the shared queue until the context is
// cancelled or the queue is closed.
func (d *Dispatcher) runWorker(ctx context.Context, workerID int, model EmbeddingModel) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-d.jobs:
			if !ok {
				return
			}
			vec, err := model.Embed(j.text)
			if err != nil {
				log.Warn().Int("worker", workerID).Err(err).Msg("embedding: worker failed request")
			}
			j.resultCh <- EmbedResult{Vector: vec, Err: err}
		}
	}
}

// Dimension returns the fixed embedding dimension every worker must
// produce.
func (d *Dispatcher) Dimension() int { return d.dimension }

// Embed enqueues text and returns a single-shot future channel that
// resolves on whichever worker claims the job. No ordering between
// concurrently enqueued requests is guaranteed.
func (d *Dispatcher) Embed(ctx context.Context, text string) <-chan EmbedResult {
	resultCh := make(chan EmbedResult, 1)
	j := job{text: text, resultCh: resultCh}

	select {
	case d.jobs <- j:
	case <-ctx.Done():
		resultCh <- EmbedResult{Err: ctx.Err()}
	}
	return resultCh
}

// Close stops accepting new work, cancels in-flight worker context, and
// waits for every worker goroutine to exit.
func (d *Dispatcher) Close() error {
	close(d.jobs)
	d.cancel()
	return d.group.Wait()
}
