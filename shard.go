package memcload

import (
	"sync"
	"sync/atomic"

	"github.com/appsinstalled/memcload/logger"
)

// errorCounter accumulates the recoverable-error count for one file
// pass. Incremented from the reader and from every writer worker.
type errorCounter struct {
	n int64
}

func (c *errorCounter) Add(n int64)  { atomic.AddInt64(&c.n, n) }
func (c *errorCounter) Value() int64 { return atomic.LoadInt64(&c.n) }

// shard is the queue and writer pool for one device type. Records are
// enqueued by the file reader and drained concurrently by the workers,
// each of which owns its own store connection and flushes bounded
// batches. Closing the queue is the termination signal: every worker
// ranging over it observes end-of-input exactly once.
type shard struct {
	devType string
	addr    string
	queue   chan AppsInstalled
	wg      sync.WaitGroup
}

// newShard starts workers goroutines draining a queue of the given
// capacity. Each worker opens its own store via open; an opener failure
// is returned before any worker starts.
func newShard(devType, addr string, workers, queueDepth, batchSize int, open StoreOpener, errs *errorCounter, log logger.Logger) (*shard, error) {
	sh := &shard{
		devType: devType,
		addr:    addr,
		queue:   make(chan AppsInstalled, queueDepth),
	}
	stores := make([]Store, workers)
	for i := range stores {
		store, err := open(addr)
		if err != nil {
			for _, s := range stores[:i] {
				s.Close()
			}
			return nil, err
		}
		stores[i] = store
	}
	for _, store := range stores {
		sh.wg.Add(1)
		go func(store Store) {
			defer sh.wg.Done()
			defer store.Close()
			sh.drain(store, batchSize, errs, log)
		}(store)
	}
	return sh, nil
}

// enqueue blocks when the queue is full; the buffer is the bounded
// backlog between the reader and the writers.
func (sh *shard) enqueue(ai AppsInstalled) {
	sh.queue <- ai
}

// finish signals end-of-input and waits until every worker has flushed
// its remainder and returned.
func (sh *shard) finish() {
	close(sh.queue)
	sh.wg.Wait()
}

// drain is the writer worker loop: fill a batch off the queue, flush at
// the size threshold, flush the remainder once the queue closes. Store
// failures are counted, never fatal; the worker keeps consuming.
func (sh *shard) drain(store Store, batchSize int, errs *errorCounter, log logger.Logger) {
	batch := make([]Item, 0, batchSize)
	for ai := range sh.queue {
		batch = append(batch, Item{Key: ai.Key(), Value: serialize(&ai)})
		if len(batch) >= batchSize {
			sh.flush(store, batch, errs, log)
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		sh.flush(store, batch, errs, log)
	}
}

// flush performs one multi-key set. Failed keys count against the
// file's error total; a whole-attempt failure counts the entire batch.
// The batch is discarded either way, there is no intra-pass retry.
func (sh *shard) flush(store Store, batch []Item, errs *errorCounter, log logger.Logger) {
	failed, err := store.SetMulti(batch)
	if err != nil {
		log.Errorf("cannot write batch of %d to memc %s: %v", len(batch), sh.addr, err)
		errs.Add(int64(len(batch)))
		return
	}
	if len(failed) > 0 {
		log.Warnf("memc %s refused %d of %d keys", sh.addr, len(failed), len(batch))
		errs.Add(int64(len(failed)))
	}
}
