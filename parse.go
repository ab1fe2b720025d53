package memcload

import (
	"strconv"
	"strings"

	"github.com/appsinstalled/memcload/logger"
)

// AppsInstalled is one parsed input line: a device identity plus the
// apps installed on it and its last reported coordinates.
type AppsInstalled struct {
	DevType string
	DevID   string
	Lat     float64
	Lon     float64
	Apps    []int64
}

// Key returns the store key for the record. Identity lives only here;
// the serialized value carries lat/lon/apps.
func (ai *AppsInstalled) Key() string {
	return ai.DevType + ":" + ai.DevID
}

// ParseLine converts one raw tab-separated line into a record. It
// reports ok=false only for structurally broken lines: fewer than five
// fields, or an empty device type or id. Partial damage is tolerated:
// non-numeric app tokens are dropped and unparseable coordinates are
// left at zero, both logged as informational.
func ParseLine(line string, log logger.Logger) (AppsInstalled, bool) {
	parts := strings.Split(strings.TrimSpace(line), "\t")
	if len(parts) < 5 {
		return AppsInstalled{}, false
	}
	ai := AppsInstalled{
		DevType: strings.TrimSpace(parts[0]),
		DevID:   strings.TrimSpace(parts[1]),
	}
	if ai.DevType == "" || ai.DevID == "" {
		return AppsInstalled{}, false
	}

	rawApps := strings.Split(parts[4], ",")
	ai.Apps = make([]int64, 0, len(rawApps))
	dropped := 0
	for _, raw := range rawApps {
		app, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			dropped++
			continue
		}
		ai.Apps = append(ai.Apps, app)
	}
	if dropped > 0 {
		log.Infof("not all user apps are digits: `%s`", line)
	}

	lat, latErr := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	lon, lonErr := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
	if latErr != nil || lonErr != nil {
		log.Infof("invalid geo coords: `%s`", line)
	}
	if latErr == nil {
		ai.Lat = lat
	}
	if lonErr == nil {
		ai.Lon = lon
	}
	return ai, true
}
