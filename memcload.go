// Package memcload implements a bulk loader for "device → installed
// apps" logs: gzip-compressed tab-separated files are parsed, packed
// into a compact binary value, and written to one memcached instance
// per device type. Each file is judged by its recoverable-error rate
// and dot-renamed once processed so a re-run skips it.
package memcload

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/appsinstalled/memcload/logger"
)

// Main holds the full configuration surface. Fields are loaded from
// flags and MEMCLOAD_* environment variables by commandeer in
// cmd/memcload.
type Main struct {
	Pattern          string        `help:"Glob pattern matching the gzip files to load."`
	IDFA             string        `help:"host:port of the memcached instance for idfa devices."`
	GAID             string        `help:"host:port of the memcached instance for gaid devices."`
	ADID             string        `help:"host:port of the memcached instance for adid devices."`
	DVID             string        `help:"host:port of the memcached instance for dvid devices."`
	Workers          int           `short:"w" help:"Total writer budget, divided evenly across device types (min 1 each)."`
	BatchSize        int           `help:"Records accumulated per store flush."`
	QueueDepth       int           `help:"Capacity of each device queue; a full queue blocks the reader."`
	MaxFilesInFlight int           `help:"Files processed concurrently. 1 means one file at a time."`
	StoreTimeout     time.Duration `help:"Socket timeout for memcached operations."`
	Dry              bool          `help:"Log decoded writes instead of touching memcached; raises log verbosity."`
	Log              string        `short:"l" help:"Log file path. Empty logs to stderr."`
	Test             bool          `short:"t" help:"Run the value codec self-test and exit."`

	// NewStore opens one store connection per writer worker. Left nil
	// it picks real memcached clients, or dry stores under --dry.
	// Tests replace it.
	NewStore StoreOpener `flag:"-"`

	log logger.Logger
}

// NewMain returns a Main with the documented defaults.
func NewMain() *Main {
	return &Main{
		Pattern:          "/data/appsinstalled/*.tsv.gz",
		IDFA:             "127.0.0.1:33013",
		GAID:             "127.0.0.1:33014",
		ADID:             "127.0.0.1:33015",
		DVID:             "127.0.0.1:33016",
		Workers:          10,
		BatchSize:        100,
		QueueDepth:       1024,
		MaxFilesInFlight: 1,
		StoreTimeout:     3 * time.Second,
	}
}

// Validate fails fast on configuration that would only blow up
// mid-pass.
func (m *Main) Validate() error {
	if m.Pattern == "" {
		return errors.New("pattern must not be empty")
	}
	if m.Workers < 1 {
		return errors.Errorf("workers must be positive, got %d", m.Workers)
	}
	if m.BatchSize < 1 {
		return errors.Errorf("batch-size must be positive, got %d", m.BatchSize)
	}
	if m.QueueDepth < 1 {
		return errors.Errorf("queue-depth must be positive, got %d", m.QueueDepth)
	}
	if m.MaxFilesInFlight < 1 {
		return errors.Errorf("max-files-in-flight must be positive, got %d", m.MaxFilesInFlight)
	}
	for devType, addr := range m.deviceAddrs() {
		if addr == "" {
			return errors.Errorf("no memcached address for device type %q", devType)
		}
	}
	return nil
}

// deviceAddrs maps each known device type to its configured store
// address. The set of types is fixed; anything else is unroutable.
func (m *Main) deviceAddrs() map[string]string {
	return map[string]string{
		"idfa": m.IDFA,
		"gaid": m.GAID,
		"adid": m.ADID,
		"dvid": m.DVID,
	}
}

// SetLogger replaces the logger. cmd/memcload calls this after wiring
// the --log destination.
func (m *Main) SetLogger(log logger.Logger) {
	m.log = log
}

// Logger returns the configured logger, defaulting to stderr with
// debug verbosity under --dry.
func (m *Main) Logger() logger.Logger {
	if m.log == nil {
		if m.Dry {
			m.log = logger.NewVerboseLogger(os.Stderr)
		} else {
			m.log = logger.NewStandardLogger(os.Stderr)
		}
	}
	return m.log
}

func (m *Main) storeOpener(log logger.Logger) StoreOpener {
	if m.NewStore != nil {
		return m.NewStore
	}
	if m.Dry {
		return func(addr string) (Store, error) {
			return NewDryStore(addr, log), nil
		}
	}
	return func(addr string) (Store, error) {
		return NewMemcacheStore(addr, m.StoreTimeout)
	}
}

// Run performs one pass: enumerate files matching the pattern and
// process each, at most MaxFilesInFlight at a time. Files never share
// shard state. Per-file error-rate outcomes are only logged; the
// returned error is non-nil only for unexpected failures, which the
// command turns into a nonzero exit.
func (m *Main) Run() error {
	if err := m.Validate(); err != nil {
		return errors.Wrap(err, "validating configuration")
	}
	log := m.Logger()

	files, err := filepath.Glob(m.Pattern)
	if err != nil {
		return errors.Wrapf(err, "globbing %s", m.Pattern)
	}
	sort.Strings(files)

	var g errgroup.Group
	g.SetLimit(m.MaxFilesInFlight)
	matched := 0
	for _, path := range files {
		if strings.HasPrefix(filepath.Base(path), ".") {
			// already processed by an earlier pass
			continue
		}
		matched++
		path := path
		g.Go(func() error {
			_, err := m.processFile(path, log)
			return err
		})
	}
	if matched == 0 {
		log.Infof("no files match %s", m.Pattern)
	}
	return g.Wait()
}
