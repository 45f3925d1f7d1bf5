package querylog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/thebtf/semcache/pkg/models"
)

// scalarStoreStub implements scalar.Store with no-ops for every method
// querylog doesn't exercise, so fakeStore only needs to override
// InsertQueryResp.
type scalarStoreStub struct{}

func (scalarStoreStub) BatchInsert(context.Context, string, []models.CacheData) ([]int64, error) {
	return nil, nil
}
func (scalarStoreStub) InsertQueryResp(context.Context, models.QueryLogRecord) error { return nil }
func (scalarStoreStub) GetDataByID(context.Context, int64) (*models.ScalarRecord, error) {
	return nil, nil
}
func (scalarStoreStub) UpdateHitCountByID(context.Context, int64) error         { return nil }
func (scalarStoreStub) MarkDeleted(context.Context, []int64) (int, error)       { return 0, nil }
func (scalarStoreStub) ModelDeleted(context.Context, string) (int, error)       { return 0, nil }
func (scalarStoreStub) ClearDeletedData(context.Context) error                 { return nil }
func (scalarStoreStub) GetIDs(context.Context, string, bool) ([]int64, error)   { return nil, nil }
func (scalarStoreStub) Count(context.Context, string) (int, error)             { return 0, nil }
func (scalarStoreStub) Flush(context.Context) error                            { return nil }
func (scalarStoreStub) Close() error                                           { return nil }

type fakeStore struct {
	scalarStoreStub
	mu      sync.Mutex
	written []models.QueryLogRecord
	failOn  string
}

func (f *fakeStore) InsertQueryResp(_ context.Context, rec models.QueryLogRecord) error {
	if rec.Model == f.failOn {
		return errors.New("write failed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, rec)
	return nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

func TestLogWritesEventually(t *testing.T) {
	store := &fakeStore{}
	sink := New(context.Background(), store, 2)
	defer sink.Close()

	sink.Log(models.QueryLogRecord{Model: "gpt-4"})

	require.Eventually(t, func() bool { return store.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestLogSwallowsWriteFailures(t *testing.T) {
	store := &fakeStore{failOn: "bad-model"}
	sink := New(context.Background(), store, 1)
	defer sink.Close()

	sink.Log(models.QueryLogRecord{Model: "bad-model"})
	sink.Log(models.QueryLogRecord{Model: "good-model"})

	require.Eventually(t, func() bool { return store.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestLogDropsWhenQueueFull(t *testing.T) {
	store := &fakeStore{}
	sink := New(context.Background(), store, 0)
	sink.cancel() // stop the just-started workers before replacing the queue
	sink.wg.Wait()
	sink.queue = make(chan models.QueryLogRecord) // unbuffered, and no worker draining

	sink.Log(models.QueryLogRecord{Model: "m1"})
	require.Equal(t, int64(1), sink.Dropped())
}

func TestCloseWaitsForWorkers(t *testing.T) {
	store := &fakeStore{}
	sink := New(context.Background(), store, 3)

	done := make(chan struct{})
	go func() {
		_ = sink.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return in time")
	}
}
