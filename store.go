package memcload

import (
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/pkg/errors"

	"github.com/appsinstalled/memcload/appsinstalled"
	"github.com/appsinstalled/memcload/logger"
)

// Item is one key/value pair headed for the store.
type Item struct {
	Key   string
	Value []byte
}

// Store is the write side of the key-value store. Implementations are
// not safe for concurrent use; every writer worker opens its own.
type Store interface {
	// SetMulti writes all items and returns the keys that failed.
	// A non-nil error means the whole attempt failed and no per-key
	// outcome is known.
	SetMulti(items []Item) (failed []string, err error)
	Close() error
}

// StoreOpener opens a store connection for one worker. Main.NewStore
// holds the production opener; tests inject fakes through it.
type StoreOpener func(addr string) (Store, error)

// memcacheStore writes to a single memcached instance.
type memcacheStore struct {
	addr   string
	client *memcache.Client
}

// NewMemcacheStore connects to the memcached instance at addr. The
// timeout bounds every socket operation so one unresponsive instance
// cannot stall a pass indefinitely.
func NewMemcacheStore(addr string, timeout time.Duration) (Store, error) {
	if addr == "" {
		return nil, errors.New("empty memcached address")
	}
	client := memcache.New(addr)
	client.Timeout = timeout
	return &memcacheStore{addr: addr, client: client}, nil
}

// SetMulti issues one set per item; memcached has no multi-key set.
// Keys whose set fails are reported back so the caller can count them.
func (s *memcacheStore) SetMulti(items []Item) ([]string, error) {
	var failed []string
	for i := range items {
		err := s.client.Set(&memcache.Item{Key: items[i].Key, Value: items[i].Value})
		if err != nil {
			failed = append(failed, items[i].Key)
		}
	}
	return failed, nil
}

func (s *memcacheStore) Close() error {
	return nil
}

// dryStore logs decoded writes instead of performing store I/O. It
// never fails.
type dryStore struct {
	addr string
	log  logger.Logger
}

// NewDryStore returns a Store for dry runs; each would-be write is
// logged at debug level with its decoded value.
func NewDryStore(addr string, log logger.Logger) Store {
	return &dryStore{addr: addr, log: log}
}

func (s *dryStore) SetMulti(items []Item) ([]string, error) {
	var ua appsinstalled.UserApps
	for i := range items {
		if err := ua.Unmarshal(items[i].Value); err != nil {
			s.log.Debugf("%s - %s -> <undecodable: %v>", s.addr, items[i].Key, err)
			continue
		}
		s.log.Debugf("%s - %s -> lat: %v lon: %v apps: %v", s.addr, items[i].Key, ua.Lat, ua.Lon, ua.Apps)
	}
	return nil, nil
}

func (s *dryStore) Close() error {
	return nil
}
