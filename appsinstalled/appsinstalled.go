// Package appsinstalled implements the binary encoding of the value
// stored per device: the set of installed app ids plus the last known
// coordinates. The encoding is protobuf wire format, assembled by hand
// so the module carries no generated code:
//
//	field 1: apps, packed varints
//	field 2: lat, fixed64 double
//	field 3: lon, fixed64 double
//
// Device identity is not part of the value; it lives in the store key.
package appsinstalled

import (
	"math"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	appsFieldNum = 1
	latFieldNum  = 2
	lonFieldNum  = 3
)

// UserApps is the decoded form of one store value.
type UserApps struct {
	Apps []int64
	Lat  float64
	Lon  float64
}

// Marshal encodes ua into protobuf wire format.
func (ua *UserApps) Marshal() []byte {
	b := make([]byte, 0, 16+10*len(ua.Apps))
	if len(ua.Apps) > 0 {
		packed := make([]byte, 0, 10*len(ua.Apps))
		for _, app := range ua.Apps {
			packed = protowire.AppendVarint(packed, uint64(app))
		}
		b = protowire.AppendTag(b, appsFieldNum, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	b = protowire.AppendTag(b, latFieldNum, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(ua.Lat))
	b = protowire.AppendTag(b, lonFieldNum, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(ua.Lon))
	return b
}

// Unmarshal decodes wire-format data into ua, replacing its contents.
// Unknown fields are skipped. Apps are accepted both packed and as
// repeated bare varints.
func (ua *UserApps) Unmarshal(data []byte) error {
	ua.Apps = ua.Apps[:0]
	ua.Lat, ua.Lon = 0, 0
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "consuming tag")
		}
		data = data[n:]
		switch {
		case num == appsFieldNum && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return errors.Wrap(protowire.ParseError(n), "consuming packed apps")
			}
			data = data[n:]
			for len(packed) > 0 {
				v, n := protowire.ConsumeVarint(packed)
				if n < 0 {
					return errors.Wrap(protowire.ParseError(n), "consuming app id")
				}
				packed = packed[n:]
				ua.Apps = append(ua.Apps, int64(v))
			}
		case num == appsFieldNum && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return errors.Wrap(protowire.ParseError(n), "consuming app id")
			}
			data = data[n:]
			ua.Apps = append(ua.Apps, int64(v))
		case num == latFieldNum && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return errors.Wrap(protowire.ParseError(n), "consuming lat")
			}
			data = data[n:]
			ua.Lat = math.Float64frombits(v)
		case num == lonFieldNum && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return errors.Wrap(protowire.ParseError(n), "consuming lon")
			}
			data = data[n:]
			ua.Lon = math.Float64frombits(v)
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return errors.Wrapf(protowire.ParseError(n), "skipping field %d", num)
			}
			data = data[n:]
		}
	}
	return nil
}

// Equal reports whether two values decode to the same lat, lon and app
// sequence.
func (ua *UserApps) Equal(other *UserApps) bool {
	if ua.Lat != other.Lat || ua.Lon != other.Lon {
		return false
	}
	if len(ua.Apps) != len(other.Apps) {
		return false
	}
	for i, app := range ua.Apps {
		if other.Apps[i] != app {
			return false
		}
	}
	return true
}
