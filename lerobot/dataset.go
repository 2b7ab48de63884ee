package lerobot

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"

	"github.com/roboto-ai/rdk"
)

// Dataset is a structured training dataset rooted at a directory. It
// implements rdk.FrameWriter: frames are buffered by AddFrame and flushed as
// an episode by SaveEpisode. Finalize writes the meta/ documents.
type Dataset struct {
	root   string
	info   Info
	schema *parquet.Schema
	logger rdk.Logger

	tasks rdk.FieldTranslator

	episodeNexter *rdk.Nexter
	frameNexter   *rdk.Nexter

	mu       sync.Mutex
	episodes []EpisodeRecord
	buf      []bufFrame
	stats    map[string]*statsAccum
}

type bufFrame struct {
	values    map[string]interface{}
	task      string
	timestamp float64
}

// Option configures a Dataset at Create or Load time.
type Option func(*Dataset) error

// OptRobotType sets the robot type recorded in info.json.
func OptRobotType(rt string) Option {
	return func(d *Dataset) error {
		d.info.RobotType = rt
		return nil
	}
}

// OptFPS sets the dataset frame rate recorded in info.json.
func OptFPS(fps int) Option {
	return func(d *Dataset) error {
		if fps <= 0 {
			return errors.Errorf("fps must be positive, got %d", fps)
		}
		d.info.FPS = fps
		return nil
	}
}

// OptChunkSize sets how many episodes share a data chunk directory.
func OptChunkSize(n int) Option {
	return func(d *Dataset) error {
		if n <= 0 {
			return errors.Errorf("chunk size must be positive, got %d", n)
		}
		d.info.ChunksSize = n
		return nil
	}
}

// OptLogger sets the dataset's logger.
func OptLogger(l rdk.Logger) Option {
	return func(d *Dataset) error {
		d.logger = l
		return nil
	}
}

// OptTaskTranslator supplies the translator mapping task strings to stable
// task indices. Pass a boltdb or leveldb backed translator to persist the
// mapping outside the dataset. The default is in-memory.
func OptTaskTranslator(t rdk.FieldTranslator) Option {
	return func(d *Dataset) error {
		d.tasks = t
		return nil
	}
}

func newDataset(root string, opts []Option) (*Dataset, error) {
	d := &Dataset{
		root:   root,
		logger: rdk.StdLogger{},
		tasks:  rdk.NewMapFieldTranslator(),
		stats:  make(map[string]*statsAccum),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, errors.Wrap(err, "applying option")
		}
	}
	return d, nil
}

// Create makes a new empty dataset at root with the given feature schema.
// It fails if root already holds a dataset.
func Create(root string, features map[string]FeatureSpec, opts ...Option) (*Dataset, error) {
	if len(features) == 0 {
		return nil, errors.New("dataset needs at least one feature")
	}
	if _, err := os.Stat(filepath.Join(root, "meta", "info.json")); err == nil {
		return nil, errors.Errorf("dataset already exists at %s", root)
	}
	d, err := newDataset(root, opts)
	if err != nil {
		return nil, err
	}
	d.info.CodebaseVersion = CodebaseVersion
	d.info.ChunksSize = orDefault(d.info.ChunksSize, DefaultChunkSize)
	d.info.Splits = map[string]string{}
	d.info.DataPath = "data/chunk-{episode_chunk:03d}/episode_{episode_index:06d}.parquet"
	d.info.ImagePath = "images/{image_key}/episode_{episode_index:06d}/frame_{frame_index:06d}.png"
	d.info.Features = make(map[string]FeatureSpec, len(features))
	for name, spec := range features {
		if spec.DType != DTypeFloat32 && spec.DType != DTypeImage {
			return nil, errors.Errorf("feature %q has unsupported dtype %q", name, spec.DType)
		}
		if len(spec.Shape) == 0 {
			return nil, errors.Errorf("feature %q has no shape", name)
		}
		d.info.Features[name] = spec
	}
	d.schema = frameSchema(d.info.Features)
	d.episodeNexter = rdk.NewNexter()
	d.frameNexter = rdk.NewNexter()
	for name, spec := range d.info.Features {
		if spec.DType == DTypeFloat32 {
			d.stats[name] = newStatsAccum(spec.Len())
		}
	}
	if err := os.MkdirAll(filepath.Join(root, "meta"), 0755); err != nil {
		return nil, errors.Wrap(err, "making dataset root")
	}
	return d, nil
}

// Load opens an existing dataset at root for reading and appending.
func Load(root string, opts ...Option) (*Dataset, error) {
	d, err := newDataset(root, opts)
	if err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(root, "meta", "info.json"), &d.info); err != nil {
		return nil, err
	}
	if d.info.CodebaseVersion != CodebaseVersion {
		d.logger.Printf("dataset at %s has codebase version %q, expected %q", root, d.info.CodebaseVersion, CodebaseVersion)
	}
	d.info.ChunksSize = orDefault(d.info.ChunksSize, DefaultChunkSize)
	d.schema = frameSchema(d.info.Features)

	if err := readJSONL(filepath.Join(root, "meta", "episodes.jsonl"), func(data []byte) error {
		var rec EpisodeRecord
		if err := jsonUnmarshal(data, &rec); err != nil {
			return err
		}
		d.episodes = append(d.episodes, rec)
		return nil
	}); err != nil {
		return nil, err
	}

	// Replay the task dictionary in index order so the translator hands out
	// the same ids it did when the dataset was written.
	var taskRecs []TaskRecord
	if err := readJSONL(filepath.Join(root, "meta", "tasks.jsonl"), func(data []byte) error {
		var rec TaskRecord
		if err := jsonUnmarshal(data, &rec); err != nil {
			return err
		}
		taskRecs = append(taskRecs, rec)
		return nil
	}); err != nil && !os.IsNotExist(errors.Cause(err)) {
		return nil, err
	}
	sort.Slice(taskRecs, func(i, j int) bool { return taskRecs[i].TaskIndex < taskRecs[j].TaskIndex })
	for _, rec := range taskRecs {
		id, err := d.tasks.GetID(rec.Task)
		if err != nil {
			return nil, errors.Wrapf(err, "restoring task %q", rec.Task)
		}
		if id != uint64(rec.TaskIndex) {
			return nil, errors.Errorf("task %q restored with index %d, expected %d", rec.Task, id, rec.TaskIndex)
		}
	}

	d.episodeNexter = rdk.NewNexterAt(uint64(d.info.TotalEpisodes))
	d.frameNexter = rdk.NewNexterAt(uint64(d.info.TotalFrames))

	for name, spec := range d.info.Features {
		if spec.DType == DTypeFloat32 {
			d.stats[name] = newStatsAccum(spec.Len())
		}
	}
	var stats map[string]FeatureStats
	if err := readJSON(filepath.Join(root, "meta", "stats.json"), &stats); err == nil {
		for name, fs := range stats {
			if acc, ok := d.stats[name]; ok {
				acc.restore(fs)
			}
		}
	}
	return d, nil
}

// Clone creates a new empty dataset at root with src's schema plus any
// extra features, carrying over robot type, fps and chunking.
func Clone(src *Dataset, root string, extra map[string]FeatureSpec, opts ...Option) (*Dataset, error) {
	features := make(map[string]FeatureSpec, len(src.info.Features)+len(extra))
	for name, spec := range src.info.Features {
		features[name] = spec
	}
	for name, spec := range extra {
		if _, ok := features[name]; ok {
			return nil, errors.Errorf("feature %q already exists in the source dataset", name)
		}
		features[name] = spec
	}
	opts = append([]Option{
		OptRobotType(src.info.RobotType),
		OptFPS(src.info.FPS),
		OptChunkSize(src.info.ChunksSize),
	}, opts...)
	return Create(root, features, opts...)
}

// Root returns the dataset's root directory.
func (d *Dataset) Root() string { return d.root }

// Info returns a copy of the dataset's info document.
func (d *Dataset) Info() Info {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info
}

// Features returns the dataset's feature schema.
func (d *Dataset) Features() map[string]FeatureSpec { return d.info.Features }

// NumEpisodes returns the number of saved episodes.
func (d *Dataset) NumEpisodes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info.TotalEpisodes
}

// Episodes returns the saved episode records.
func (d *Dataset) Episodes() []EpisodeRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	eps := make([]EpisodeRecord, len(d.episodes))
	copy(eps, d.episodes)
	return eps
}

// AddFrame buffers one frame for the episode in progress. Values are keyed
// by feature name: float32 features take []float64 vectors of the declared
// shape, image features take image.Image. The timestamp is seconds relative
// to the episode start.
func (d *Dataset) AddFrame(values map[string]interface{}, task string, timestamp float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	frame := bufFrame{
		values:    make(map[string]interface{}, len(values)),
		task:      task,
		timestamp: timestamp,
	}
	for name, spec := range d.info.Features {
		v, ok := values[name]
		if !ok {
			return errors.Errorf("frame is missing feature %q", name)
		}
		switch spec.DType {
		case DTypeFloat32:
			vec, ok := v.([]float64)
			if !ok {
				return errors.Errorf("feature %q: expected []float64, got %T", name, v)
			}
			if len(vec) != spec.Len() {
				return errors.Errorf("feature %q: expected %d values, got %d", name, spec.Len(), len(vec))
			}
			cp := make([]float64, len(vec))
			copy(cp, vec)
			frame.values[name] = cp
		case DTypeImage:
			img, ok := v.(image.Image)
			if !ok {
				return errors.Errorf("feature %q: expected image.Image, got %T", name, v)
			}
			b := img.Bounds()
			if len(spec.Shape) >= 2 && (b.Dy() != spec.Shape[0] || b.Dx() != spec.Shape[1]) {
				return errors.Errorf("feature %q: image is %dx%d, schema wants %dx%d",
					name, b.Dx(), b.Dy(), spec.Shape[1], spec.Shape[0])
			}
			frame.values[name] = img
		}
	}
	d.buf = append(d.buf, frame)
	return nil
}

// SaveEpisode flushes the buffered frames as one episode: a parquet data
// file, image files for camera features, and updated totals.
func (d *Dataset) SaveEpisode() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.buf) == 0 {
		return errors.New("no frames buffered for this episode")
	}
	epIdx := d.episodeNexter.Next()
	chunk := int(epIdx) / d.info.ChunksSize

	rows := make([]map[string]any, 0, len(d.buf))
	taskSet := map[string]bool{}
	for i, frame := range d.buf {
		taskID, err := d.tasks.GetID(frame.task)
		if err != nil {
			return errors.Wrapf(err, "translating task %q", frame.task)
		}
		taskSet[frame.task] = true
		row := map[string]any{
			colTimestamp:    float32(frame.timestamp),
			colFrameIndex:   int64(i),
			colEpisodeIndex: int64(epIdx),
			colIndex:        int64(d.frameNexter.Next()),
			colTaskIndex:    int64(taskID),
		}
		for name, v := range frame.values {
			switch vv := v.(type) {
			case []float64:
				vec := make([]float32, len(vv))
				for j, x := range vv {
					vec[j] = float32(x)
				}
				row[name] = vec
				d.stats[name].add(vv)
			case image.Image:
				if err := writePNG(d.imagePath(name, int(epIdx), i), vv); err != nil {
					return err
				}
			}
		}
		rows = append(rows, row)
	}
	if err := writeParquet(d.dataPath(chunk, int(epIdx)), d.schema, rows); err != nil {
		return err
	}

	tasks := make([]string, 0, len(taskSet))
	for task := range taskSet {
		tasks = append(tasks, task)
	}
	sort.Strings(tasks)
	d.episodes = append(d.episodes, EpisodeRecord{
		EpisodeIndex: int(epIdx),
		Tasks:        tasks,
		Length:       len(d.buf),
	})
	d.info.TotalEpisodes++
	d.info.TotalFrames += len(d.buf)
	if chunk+1 > d.info.TotalChunks {
		d.info.TotalChunks = chunk + 1
	}
	d.logger.Debugf("saved episode %d with %d frames", epIdx, len(d.buf))
	d.buf = d.buf[:0]
	return nil
}

// Finalize writes the meta/ documents. Call it once after the last
// SaveEpisode; a dataset which isn't finalized can't be loaded back.
func (d *Dataset) Finalize() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.buf) > 0 {
		return errors.Errorf("%d frames still buffered; call SaveEpisode first", len(d.buf))
	}

	var taskRecs []interface{}
	for id := uint64(0); ; id++ {
		v, err := d.tasks.Get(id)
		if err != nil {
			break
		}
		taskRecs = append(taskRecs, TaskRecord{TaskIndex: int(id), Task: toTaskString(v)})
	}
	d.info.TotalTasks = len(taskRecs)
	d.info.Splits = map[string]string{"train": fmt.Sprintf("0:%d", d.info.TotalEpisodes)}

	epRecs := make([]interface{}, len(d.episodes))
	for i, rec := range d.episodes {
		epRecs[i] = rec
	}
	stats := make(map[string]FeatureStats, len(d.stats))
	for name, acc := range d.stats {
		stats[name] = acc.stats()
	}

	meta := filepath.Join(d.root, "meta")
	if err := writeJSON(filepath.Join(meta, "info.json"), d.info); err != nil {
		return err
	}
	if err := writeJSONL(filepath.Join(meta, "tasks.jsonl"), taskRecs); err != nil {
		return err
	}
	if err := writeJSONL(filepath.Join(meta, "episodes.jsonl"), epRecs); err != nil {
		return err
	}
	return writeJSON(filepath.Join(meta, "stats.json"), stats)
}

// Frame is one row read back from a saved episode.
type Frame struct {
	Values    map[string]interface{}
	Task      string
	Timestamp float64

	FrameIndex   int64
	EpisodeIndex int64
	Index        int64
	TaskIndex    int64
}

// ReadEpisode loads every frame of one saved episode, including its images.
func (d *Dataset) ReadEpisode(episode int) ([]Frame, error) {
	d.mu.Lock()
	total := d.info.TotalEpisodes
	chunksSize := d.info.ChunksSize
	schema := d.schema
	d.mu.Unlock()
	if episode < 0 || episode >= total {
		return nil, errors.Errorf("episode %d out of range [0,%d)", episode, total)
	}

	rows, err := readParquet(d.dataPath(episode/chunksSize, episode), schema)
	if err != nil {
		return nil, err
	}
	frames := make([]Frame, 0, len(rows))
	for _, row := range rows {
		frame := Frame{Values: map[string]interface{}{}}
		if frame.Timestamp, err = toFloat64(row[colTimestamp]); err != nil {
			return nil, errors.Wrap(err, colTimestamp)
		}
		if frame.FrameIndex, err = toInt64(row[colFrameIndex]); err != nil {
			return nil, errors.Wrap(err, colFrameIndex)
		}
		if frame.EpisodeIndex, err = toInt64(row[colEpisodeIndex]); err != nil {
			return nil, errors.Wrap(err, colEpisodeIndex)
		}
		if frame.Index, err = toInt64(row[colIndex]); err != nil {
			return nil, errors.Wrap(err, colIndex)
		}
		if frame.TaskIndex, err = toInt64(row[colTaskIndex]); err != nil {
			return nil, errors.Wrap(err, colTaskIndex)
		}
		v, err := d.tasks.Get(uint64(frame.TaskIndex))
		if err != nil {
			return nil, errors.Wrapf(err, "looking up task %d", frame.TaskIndex)
		}
		frame.Task = toTaskString(v)

		for name, spec := range d.info.Features {
			switch spec.DType {
			case DTypeFloat32:
				vec, err := toFloat64s(row[name])
				if err != nil {
					return nil, errors.Wrapf(err, "feature %q", name)
				}
				frame.Values[name] = vec
			case DTypeImage:
				img, err := readPNG(d.imagePath(name, episode, int(frame.FrameIndex)))
				if err != nil {
					return nil, errors.Wrapf(err, "feature %q", name)
				}
				frame.Values[name] = img
			}
		}
		frames = append(frames, frame)
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i].FrameIndex < frames[j].FrameIndex })
	return frames, nil
}

func (d *Dataset) dataPath(chunk, episode int) string {
	return filepath.Join(d.root, "data", fmt.Sprintf("chunk-%03d", chunk), fmt.Sprintf("episode_%06d.parquet", episode))
}

func (d *Dataset) imagePath(feature string, episode, frame int) string {
	return filepath.Join(d.root, "images", feature, fmt.Sprintf("episode_%06d", episode), fmt.Sprintf("frame_%06d.png", frame))
}

func toTaskString(v interface{}) string {
	switch vv := v.(type) {
	case string:
		return vv
	case []byte:
		return string(vv)
	default:
		return fmt.Sprintf("%v", vv)
	}
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
