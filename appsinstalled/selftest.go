package appsinstalled

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// SelfTest round-trips hand-written sample lines through the codec and
// returns an error on the first mismatch. Run by the --test option.
func SelfTest() error {
	sample := "idfa\t1rfw452y52g2gq4g\t55.55\t42.42\t1423,43,567,3,7,23\n" +
		"gaid\t7rfw452y52g2gq4g\t55.55\t42.42\t7423,424"
	for _, line := range strings.Split(sample, "\n") {
		parts := strings.Split(strings.TrimSpace(line), "\t")
		lat, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return errors.Wrap(err, "parsing sample lat")
		}
		lon, err := strconv.ParseFloat(parts[3], 64)
		if err != nil {
			return errors.Wrap(err, "parsing sample lon")
		}
		var apps []int64
		for _, raw := range strings.Split(parts[4], ",") {
			app, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return errors.Wrap(err, "parsing sample app id")
			}
			apps = append(apps, app)
		}
		ua := UserApps{Apps: apps, Lat: lat, Lon: lon}
		var unpacked UserApps
		if err := unpacked.Unmarshal(ua.Marshal()); err != nil {
			return errors.Wrap(err, "unmarshaling")
		}
		if !ua.Equal(&unpacked) {
			return errors.Errorf("round trip mismatch: %+v != %+v", ua, unpacked)
		}
	}
	return nil
}
