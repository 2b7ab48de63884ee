// Package lerobot reads and writes structured robot-learning datasets: a
// meta/ directory describing the feature schema, parquet frame data chunked
// by episode, and per-frame image files for camera features.
package lerobot

import (
	"bufio"
	"encoding/json"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// CodebaseVersion identifies the dataset layout this package emits.
const CodebaseVersion = "v2.1"

// DefaultChunkSize is the number of episodes per data chunk directory.
const DefaultChunkSize = 1000

// DTypes for feature specs.
const (
	DTypeFloat32 = "float32"
	DTypeImage   = "image"
)

// FeatureSpec describes one feature column of the dataset.
type FeatureSpec struct {
	DType string   `json:"dtype"`
	Shape []int    `json:"shape"`
	Names []string `json:"names,omitempty"`
}

// Len returns the flat length of the feature's shape.
func (f FeatureSpec) Len() int {
	n := 1
	for _, d := range f.Shape {
		n *= d
	}
	return n
}

// Info is the meta/info.json document.
type Info struct {
	CodebaseVersion string                 `json:"codebase_version"`
	RobotType       string                 `json:"robot_type"`
	TotalEpisodes   int                    `json:"total_episodes"`
	TotalFrames     int                    `json:"total_frames"`
	TotalTasks      int                    `json:"total_tasks"`
	TotalChunks     int                    `json:"total_chunks"`
	ChunksSize      int                    `json:"chunks_size"`
	FPS             int                    `json:"fps"`
	Splits          map[string]string      `json:"splits"`
	DataPath        string                 `json:"data_path"`
	ImagePath       string                 `json:"image_path,omitempty"`
	Features        map[string]FeatureSpec `json:"features"`
}

// TaskRecord is one line of meta/tasks.jsonl.
type TaskRecord struct {
	TaskIndex int    `json:"task_index"`
	Task      string `json:"task"`
}

// EpisodeRecord is one line of meta/episodes.jsonl.
type EpisodeRecord struct {
	EpisodeIndex int      `json:"episode_index"`
	Tasks        []string `json:"tasks"`
	Length       int      `json:"length"`
}

// FeatureStats holds per-element summary statistics for one feature, as
// written to meta/stats.json.
type FeatureStats struct {
	Min   []float64 `json:"min"`
	Max   []float64 `json:"max"`
	Mean  []float64 `json:"mean"`
	Std   []float64 `json:"std"`
	Count int       `json:"count"`
}

// statsAccum accumulates streaming per-element moments for one feature.
type statsAccum struct {
	min   []float64
	max   []float64
	sum   []float64
	sumSq []float64
	count int
}

func newStatsAccum(n int) *statsAccum {
	a := &statsAccum{
		min:   make([]float64, n),
		max:   make([]float64, n),
		sum:   make([]float64, n),
		sumSq: make([]float64, n),
	}
	for i := range a.min {
		a.min[i] = math.Inf(1)
		a.max[i] = math.Inf(-1)
	}
	return a
}

func (a *statsAccum) add(v []float64) {
	for i, x := range v {
		if x < a.min[i] {
			a.min[i] = x
		}
		if x > a.max[i] {
			a.max[i] = x
		}
	}
	floats.Add(a.sum, v)
	for i, x := range v {
		a.sumSq[i] += x * x
	}
	a.count++
}

// restore rebuilds the accumulator's moments from previously written stats
// so a loaded dataset keeps accumulating where it left off.
func (a *statsAccum) restore(fs FeatureStats) {
	n := float64(fs.Count)
	if fs.Count == 0 || len(fs.Mean) != len(a.sum) {
		return
	}
	copy(a.min, fs.Min)
	copy(a.max, fs.Max)
	for i := range a.sum {
		a.sum[i] = fs.Mean[i] * n
		a.sumSq[i] = (fs.Std[i]*fs.Std[i] + fs.Mean[i]*fs.Mean[i]) * n
	}
	a.count = fs.Count
}

func (a *statsAccum) stats() FeatureStats {
	n := float64(a.count)
	mean := make([]float64, len(a.sum))
	std := make([]float64, len(a.sum))
	if a.count > 0 {
		copy(mean, a.sum)
		floats.Scale(1/n, mean)
		for i := range std {
			v := a.sumSq[i]/n - mean[i]*mean[i]
			if v < 0 {
				v = 0
			}
			std[i] = math.Sqrt(v)
		}
	}
	return FeatureStats{Min: a.min, Max: a.max, Mean: mean, Std: std, Count: a.count}
}

func writeJSON(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "making meta dir")
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return errors.Wrapf(err, "encoding %s", path)
	}
	return f.Close()
}

func jsonUnmarshal(data []byte, v interface{}) error {
	return errors.Wrap(json.Unmarshal(data, v), "decoding record")
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading %s", path)
	}
	return errors.Wrapf(json.Unmarshal(data, v), "decoding %s", path)
}

// writeJSONL writes one JSON document per line.
func writeJSONL(path string, records []interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "making meta dir")
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return errors.Wrapf(err, "encoding line of %s", path)
		}
	}
	if err := w.Flush(); err != nil {
		return errors.Wrapf(err, "flushing %s", path)
	}
	return f.Close()
}

func readJSONL(path string, each func(data []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<16), 1<<22)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := each(line); err != nil {
			return err
		}
	}
	return errors.Wrapf(scanner.Err(), "scanning %s", path)
}
