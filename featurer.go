package rdk

import (
	"strings"

	"github.com/pkg/errors"
)

// Featurer is an interface for turning topic/field paths (denoted by
// []string) into dataset feature names. A camera named "downward" under the
// "observation.images" prefix becomes "observation.images.downward".
type Featurer interface {
	// The Feature method should return an empty string and a nil error if
	// the value at the given path should be left out of the dataset. It
	// should return an error only if something unexpected has occurred which
	// means the schema cannot be properly constructed.
	Feature(path []string) (feature string, err error)
}

// FeatureFunc is similar to http.HandlerFunc in that you can make a bare
// function satisfy the Featurer interface by doing FeatureFunc(yourfunc).
type FeatureFunc func([]string) (string, error)

// Feature on FeatureFunc simply calls the wrapped function.
func (f FeatureFunc) Feature(path []string) (string, error) {
	return f(path)
}

func dotFeature(path []string) (string, error) {
	for _, p := range path {
		if p == "" {
			return "", errors.Errorf("empty element in feature path %v", path)
		}
	}
	return strings.Join(path, "."), nil
}

// DotFeature creates a feature name from the path by joining the path
// elements with the "." character, the naming convention structured training
// datasets use ("observation.state", "observation.images.downward").
var DotFeature = FeatureFunc(dotFeature)

// Conventional feature names used by the converter.
const (
	FeatureState  = "observation.state"
	FeatureAction = "action"
	// FeatureImagePrefix is joined with a camera name by DotFeature.
	FeatureImagePrefix = "observation.images"
)

// ImageFeature returns the dataset feature name for a camera.
func ImageFeature(camera string) string {
	f, _ := DotFeature.Feature([]string{FeatureImagePrefix, camera})
	return f
}
