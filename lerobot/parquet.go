package lerobot

import (
	"io"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"
)

// Bookkeeping columns present in every data file alongside the features.
const (
	colTimestamp    = "timestamp"
	colFrameIndex   = "frame_index"
	colEpisodeIndex = "episode_index"
	colIndex        = "index"
	colTaskIndex    = "task_index"
)

// frameSchema builds the parquet schema for the dataset's scalar features.
// Image features live outside the parquet files.
func frameSchema(features map[string]FeatureSpec) *parquet.Schema {
	group := parquet.Group{
		colTimestamp:    parquet.Leaf(parquet.FloatType),
		colFrameIndex:   parquet.Leaf(parquet.Int64Type),
		colEpisodeIndex: parquet.Leaf(parquet.Int64Type),
		colIndex:        parquet.Leaf(parquet.Int64Type),
		colTaskIndex:    parquet.Leaf(parquet.Int64Type),
	}
	for name, spec := range features {
		if spec.DType != DTypeFloat32 {
			continue
		}
		group[name] = parquet.List(parquet.Leaf(parquet.FloatType))
	}
	return parquet.NewSchema("frame", group)
}

func writeParquet(path string, schema *parquet.Schema, rows []map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "making data dir")
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	defer f.Close()
	w := parquet.NewGenericWriter[map[string]any](f, schema)
	for off := 0; off < len(rows); {
		n, err := w.Write(rows[off:])
		if err != nil {
			return errors.Wrapf(err, "writing rows to %s", path)
		}
		off += n
	}
	if err := w.Close(); err != nil {
		return errors.Wrapf(err, "closing writer for %s", path)
	}
	return f.Close()
}

func readParquet(path string, schema *parquet.Schema) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()
	// map rows carry no schema of their own, so the reader needs one
	r := parquet.NewGenericReader[map[string]any](f, schema)
	defer r.Close()
	rows := make([]map[string]any, 0, r.NumRows())
	buf := make([]map[string]any, 64)
	for {
		for i := range buf {
			buf[i] = map[string]any{}
		}
		n, err := r.Read(buf)
		rows = append(rows, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "reading rows from %s", path)
		}
	}
	return rows, nil
}

// toFloat64s converts a value read back from parquet into a float64 vector.
func toFloat64s(v any) ([]float64, error) {
	switch vv := v.(type) {
	case []float64:
		return vv, nil
	case []float32:
		out := make([]float64, len(vv))
		for i, x := range vv {
			out[i] = float64(x)
		}
		return out, nil
	case []any:
		out := make([]float64, len(vv))
		for i, x := range vv {
			switch xx := x.(type) {
			case float32:
				out[i] = float64(xx)
			case float64:
				out[i] = xx
			default:
				return nil, errors.Errorf("unexpected list element type %T", x)
			}
		}
		return out, nil
	default:
		return nil, errors.Errorf("unexpected vector type %T", v)
	}
}

func toFloat64(v any) (float64, error) {
	switch vv := v.(type) {
	case float32:
		return float64(vv), nil
	case float64:
		return vv, nil
	default:
		return 0, errors.Errorf("unexpected scalar type %T", v)
	}
}

func toInt64(v any) (int64, error) {
	switch vv := v.(type) {
	case int64:
		return vv, nil
	case int32:
		return int64(vv), nil
	case int:
		return int64(vv), nil
	default:
		return 0, errors.Errorf("unexpected index type %T", v)
	}
}
