package memcload

import (
	"bufio"
	"compress/gzip"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/appsinstalled/memcload/appsinstalled"
	"github.com/appsinstalled/memcload/logger"
)

// normalErrRate is the per-file gate: a pass whose error rate reaches
// it is reported as a failed load.
const normalErrRate = 0.01

// serialize packs a record into the store value. Identity is carried by
// the key, so only lat/lon/apps go on the wire.
func serialize(ai *AppsInstalled) []byte {
	ua := appsinstalled.UserApps{Apps: ai.Apps, Lat: ai.Lat, Lon: ai.Lon}
	return ua.Marshal()
}

// fileReport is the outcome of one file pass.
type fileReport struct {
	Total  int64
	Errors int64
}

// ErrRate returns the recoverable-error rate for the pass. A zero-line
// file has no meaningful rate and reports 0.
func (r fileReport) ErrRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Errors) / float64(r.Total)
}

// OK reports whether the pass stayed under the error-rate gate. An
// empty file counts as a successful no-op pass.
func (r fileReport) OK() bool {
	return r.Total == 0 || r.ErrRate() < normalErrRate
}

// processFile runs the full per-file lifecycle: start one shard per
// device type, stream the decompressed lines through parse and route,
// close the shards and wait for the writers to drain, then judge the
// pass by its error rate and dot-rename the file. Only unexpected
// failures (unopenable or corrupt input) return an error; data and
// store problems are absorbed into the error count.
func (m *Main) processFile(path string, log logger.Logger) (fileReport, error) {
	log.Infof("processing %s", path)

	workersPerShard := m.Workers / len(m.deviceAddrs())
	if workersPerShard < 1 {
		workersPerShard = 1
	}

	var errs errorCounter
	shards := make(map[string]*shard, len(m.deviceAddrs()))
	for devType, addr := range m.deviceAddrs() {
		sh, err := newShard(devType, addr, workersPerShard, m.QueueDepth, m.BatchSize, m.storeOpener(log), &errs, log)
		if err != nil {
			for _, started := range shards {
				started.finish()
			}
			return fileReport{}, errors.Wrapf(err, "starting shard %s", devType)
		}
		shards[devType] = sh
	}

	report, readErr := m.streamLines(path, shards, &errs, log)
	for _, sh := range shards {
		sh.finish()
	}
	if readErr != nil {
		return fileReport{}, readErr
	}

	report.Errors = errs.Value()
	if report.Total == 0 {
		log.Infof("%s: no lines, nothing to load", path)
	} else if report.OK() {
		log.Infof("%s: acceptable error rate (%v). Successful load", path, report.ErrRate())
	} else {
		log.Errorf("%s: high error rate (%v > %v). Failed load", path, report.ErrRate(), normalErrRate)
	}

	if err := dotRename(path); err != nil {
		return report, errors.Wrapf(err, "renaming %s", path)
	}
	return report, nil
}

// streamLines feeds every non-blank line of the gzip file through the
// parser and router. Rejected and unroutable lines are counted and
// dropped. The returned report carries the total only; the error count
// is finalized by the caller once the writers have drained.
func (m *Main) streamLines(path string, shards map[string]*shard, errs *errorCounter, log logger.Logger) (fileReport, error) {
	var report fileReport

	f, err := os.Open(path)
	if err != nil {
		return report, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return report, errors.Wrapf(err, "decompressing %s", path)
	}
	defer gz.Close()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		report.Total++

		ai, ok := ParseLine(line, log)
		if !ok {
			log.Debugf("malformed line: `%s`", line)
			errs.Add(1)
			continue
		}
		sh, ok := shards[ai.DevType]
		if !ok {
			log.Errorf("unknown device type: %s", ai.DevType)
			errs.Add(1)
			continue
		}
		sh.enqueue(ai)
	}
	if err := scanner.Err(); err != nil {
		return report, errors.Wrapf(err, "reading %s", path)
	}
	return report, nil
}

// dotRename marks the file processed by prefixing its name with a dot.
// Same-directory os.Rename is atomic on POSIX filesystems.
func dotRename(path string) error {
	dir, name := filepath.Split(path)
	return os.Rename(path, filepath.Join(dir, "."+name))
}
