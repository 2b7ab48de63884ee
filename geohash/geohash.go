// Package geohash summarizes GPS fixes into location tags.
package geohash

import (
	"sort"

	"github.com/mmcloughlin/geohash"
	"github.com/pkg/errors"

	"github.com/roboto-ai/rdk"
)

// DefaultPrecision is enough to place a recording within roughly a city
// block while tolerating GPS jitter.
const DefaultPrecision = 6

// ForFixes hashes the median position of the fixes to a geohash of the
// given precision. The median keeps a single wild fix from moving the tag.
func ForFixes(fixes []rdk.Fix, precision int) (string, error) {
	if len(fixes) == 0 {
		return "", errors.New("no fixes to hash")
	}
	if precision <= 0 {
		precision = DefaultPrecision
	}
	lat := median(fixes, func(f rdk.Fix) float64 { return f.Latitude })
	lon := median(fixes, func(f rdk.Fix) float64 { return f.Longitude })
	return geohash.EncodeWithPrecision(lat, lon, uint(precision)), nil
}

func median(fixes []rdk.Fix, get func(rdk.Fix) float64) float64 {
	vals := make([]float64, len(fixes))
	for i, f := range fixes {
		vals[i] = get(f)
	}
	sort.Float64s(vals)
	if len(vals)%2 == 1 {
		return vals[len(vals)/2]
	}
	return (vals[len(vals)/2-1] + vals[len(vals)/2]) / 2
}
