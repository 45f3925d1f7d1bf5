// Package querylog implements a bounded, best-effort audit sink: every
// query/insert/remove outcome is queued for a small worker pool to persist,
// and a write failure here never aborts the request that produced it.
package querylog

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/semcache/internal/store/scalar"
	"github.com/thebtf/semcache/pkg/models"
)

// defaultQueueSize bounds how many pending records can wait for a worker
// before Log starts dropping rather than blocking the caller.
const defaultQueueSize = 256

// Sink is a bounded pool of workers draining a queue of audit rows into
// ScalarStore.InsertQueryResp. Queueing never blocks: a full queue drops
// the record and logs a warning rather than stalling the request path.
type Sink struct {
	store  scalar.Store
	queue  chan models.QueryLogRecord
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	dropped int64
}

// New starts workerCount workers (default 6) draining audit rows into
// store.
func New(ctx context.Context, store scalar.Store, workerCount int) *Sink {
	if workerCount <= 0 {
		workerCount = 6
	}
	runCtx, cancel := context.WithCancel(ctx)

	s := &Sink{
		store:  store,
		queue:  make(chan models.QueryLogRecord, defaultQueueSize),
		cancel: cancel,
	}

	for i := 0; i < workerCount; i++ {
		workerID := i
		s.wg.Add(1)
		go s.runWorker(runCtx, workerID)
	}
	return s
}

func (s *Sink) runWorker(ctx context.Context, workerID int) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-s.queue:
			if !ok {
				return
			}
			if err := s.store.InsertQueryResp(ctx, rec); err != nil {
				log.Warn().Int("worker", workerID).Err(err).Msg("querylog: write failed, dropping record")
			}
		}
	}
}

// Log enqueues rec for a worker to persist. Non-blocking: if the queue is
// full the record is dropped and a counter is bumped, since audit-trail
// completeness is never allowed to slow down the request path.
func (s *Sink) Log(rec models.QueryLogRecord) {
	select {
	case s.queue <- rec:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		log.Warn().Msg("querylog: queue full, dropping record")
	}
}

// Dropped returns how many records have been discarded due to a full
// queue since the sink started.
func (s *Sink) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close cancels the workers' context and waits for every worker to exit;
// a write in progress sees the cancelled context. Queued-but-unprocessed
// records at the time of Close are discarded, and Log still queues records
// after Close without any worker to write them.
func (s *Sink) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}
