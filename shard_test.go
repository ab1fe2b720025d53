package memcload

import (
	"fmt"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appsinstalled/memcload/logger"
)

// fakeStore records every flush it receives and can be told to refuse
// individual keys or to fail whole attempts.
type fakeStore struct {
	mu       sync.Mutex
	flushes  [][]Item
	failKeys map[string]bool
	failAll  bool
}

func (s *fakeStore) SetMulti(items []Item) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]Item, len(items))
	copy(cp, items)
	s.flushes = append(s.flushes, cp)
	if s.failAll {
		return nil, errors.New("store unreachable")
	}
	var failed []string
	for i := range items {
		if s.failKeys[items[i].Key] {
			failed = append(failed, items[i].Key)
		}
	}
	return failed, nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) flushSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sizes := make([]int, len(s.flushes))
	for i, f := range s.flushes {
		sizes[i] = len(f)
	}
	return sizes
}

func (s *fakeStore) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for _, f := range s.flushes {
		for i := range f {
			keys = append(keys, f[i].Key)
		}
	}
	return keys
}

func record(i int) AppsInstalled {
	return AppsInstalled{
		DevType: "idfa",
		DevID:   fmt.Sprintf("dev%04d", i),
		Lat:     55.55,
		Lon:     42.42,
		Apps:    []int64{int64(i), int64(i) + 1},
	}
}

func TestShardFlushesAtBatchSize(t *testing.T) {
	store := &fakeStore{}
	open := func(addr string) (Store, error) { return store, nil }
	var errs errorCounter

	sh, err := newShard("idfa", "addr", 1, 16, 100, open, &errs, logger.NopLogger)
	require.NoError(t, err)
	for i := 0; i < 250; i++ {
		sh.enqueue(record(i))
	}
	sh.finish()

	assert.Equal(t, []int{100, 100, 50}, store.flushSizes())
	assert.EqualValues(t, 0, errs.Value())
	assert.Len(t, store.keys(), 250)
}

func TestShardFlushesRemainderOnClose(t *testing.T) {
	store := &fakeStore{}
	open := func(addr string) (Store, error) { return store, nil }
	var errs errorCounter

	sh, err := newShard("idfa", "addr", 1, 16, 100, open, &errs, logger.NopLogger)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		sh.enqueue(record(i))
	}
	sh.finish()

	assert.Equal(t, []int{3}, store.flushSizes())
}

func TestShardEmptyQueue(t *testing.T) {
	store := &fakeStore{}
	open := func(addr string) (Store, error) { return store, nil }
	var errs errorCounter

	sh, err := newShard("idfa", "addr", 2, 16, 100, open, &errs, logger.NopLogger)
	require.NoError(t, err)
	sh.finish()

	assert.Empty(t, store.flushSizes())
	assert.EqualValues(t, 0, errs.Value())
}

func TestShardCountsFailedKeys(t *testing.T) {
	store := &fakeStore{failKeys: map[string]bool{
		"idfa:dev0001": true,
		"idfa:dev0003": true,
	}}
	open := func(addr string) (Store, error) { return store, nil }
	var errs errorCounter
	log := logger.NewBufferLogger()

	sh, err := newShard("idfa", "addr", 1, 16, 10, open, &errs, log)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		sh.enqueue(record(i))
	}
	sh.finish()

	assert.EqualValues(t, 2, errs.Value())
	out, err := log.ReadAll()
	require.NoError(t, err)
	assert.Contains(t, string(out), "refused 2 of 5 keys")
}

func TestShardCountsWholeBatchOnFlushError(t *testing.T) {
	store := &fakeStore{failAll: true}
	open := func(addr string) (Store, error) { return store, nil }
	var errs errorCounter

	sh, err := newShard("idfa", "addr", 1, 16, 10, open, &errs, logger.NopLogger)
	require.NoError(t, err)
	// two full batches plus a remainder; the worker must keep going
	// after the first failure
	for i := 0; i < 25; i++ {
		sh.enqueue(record(i))
	}
	sh.finish()

	assert.Equal(t, []int{10, 10, 5}, store.flushSizes())
	assert.EqualValues(t, 25, errs.Value())
}

func TestShardManyWorkersDrainEverything(t *testing.T) {
	store := &fakeStore{}
	open := func(addr string) (Store, error) { return store, nil }
	var errs errorCounter

	sh, err := newShard("idfa", "addr", 4, 8, 7, open, &errs, logger.NopLogger)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		sh.enqueue(record(i))
	}
	sh.finish()

	// nothing left unflushed once finish returns
	assert.Len(t, store.keys(), 100)
	assert.EqualValues(t, 0, errs.Value())
}

func TestShardOpenerFailure(t *testing.T) {
	calls := 0
	open := func(addr string) (Store, error) {
		calls++
		if calls == 2 {
			return nil, errors.New("connect refused")
		}
		return &fakeStore{}, nil
	}
	var errs errorCounter

	_, err := newShard("idfa", "addr", 3, 16, 10, open, &errs, logger.NopLogger)
	assert.Error(t, err)
}

func TestShardSerializesRecords(t *testing.T) {
	store := &fakeStore{}
	open := func(addr string) (Store, error) { return store, nil }
	var errs errorCounter

	sh, err := newShard("idfa", "addr", 1, 4, 10, open, &errs, logger.NopLogger)
	require.NoError(t, err)
	sh.enqueue(AppsInstalled{DevType: "idfa", DevID: "DEV1", Lat: 55.55, Lon: 42.42, Apps: []int64{1, 2, 3}})
	sh.finish()

	require.Equal(t, []int{1}, store.flushSizes())
	item := store.flushes[0][0]
	assert.Equal(t, "idfa:DEV1", item.Key)
	assertValueEquals(t, item.Value, 55.55, 42.42, []int64{1, 2, 3})
}
