package lerobot

import (
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

func writePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "making image dir")
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return errors.Wrapf(err, "encoding %s", path)
	}
	return f.Close()
}

func readPNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()
	img, err := png.Decode(f)
	return img, errors.Wrapf(err, "decoding %s", path)
}

// ImageSpec returns the feature spec for a camera image of the given
// dimensions, shaped [height width channel].
func ImageSpec(height, width int) FeatureSpec {
	return FeatureSpec{
		DType: DTypeImage,
		Shape: []int{height, width, 3},
		Names: []string{"height", "width", "channel"},
	}
}

// ReorderPermutation returns the permutation p such that from[p[i]] ==
// to[i], used to express image shapes in a different axis order (e.g.
// [height width channel] as [channel height width]). It errors unless "to"
// is exactly a reordering of "from".
func ReorderPermutation(from, to []string) ([]int, error) {
	if len(from) != len(to) {
		return nil, errors.Errorf("can't reorder %v to %v: lengths differ", from, to)
	}
	idx := make(map[string]int, len(from))
	for i, name := range from {
		if _, ok := idx[name]; ok {
			return nil, errors.Errorf("duplicate axis %q", name)
		}
		idx[name] = i
	}
	perm := make([]int, len(to))
	seen := make(map[string]bool, len(to))
	for i, name := range to {
		j, ok := idx[name]
		if !ok {
			return nil, errors.Errorf("axis %q not present in %v", name, from)
		}
		if seen[name] {
			return nil, errors.Errorf("duplicate axis %q", name)
		}
		seen[name] = true
		perm[i] = j
	}
	return perm, nil
}

// ReorderShape applies a permutation from ReorderPermutation to a shape.
func ReorderShape(shape []int, perm []int) []int {
	out := make([]int, len(perm))
	for i, j := range perm {
		out[i] = shape[j]
	}
	return out
}
