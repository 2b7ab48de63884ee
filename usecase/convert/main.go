// Package convert turns multi-topic robot logs into structured training
// datasets and registers them with the Roboto platform.
package convert

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/roboto-ai/rdk"
	"github.com/roboto-ai/rdk/boltdb"
	"github.com/roboto-ai/rdk/geohash"
	"github.com/roboto-ai/rdk/kafka"
	"github.com/roboto-ai/rdk/lerobot"
	"github.com/roboto-ai/rdk/mcap"
	"github.com/roboto-ai/rdk/roboto"
	"github.com/roboto-ai/rdk/s3"
	"github.com/roboto-ai/rdk/termstat"
)

// Main holds the execution state for the converter. Exactly one input must
// be set: a local path, an S3 bucket, a Kafka cluster, or a platform
// dataset id.
type Main struct {
	Path   string `help:"MCAP file or directory of MCAP files, one episode per file."`
	Output string `help:"Directory to write the converted dataset to."`

	Bucket string `help:"S3 bucket holding MCAP files."`
	Prefix string `help:"S3 key prefix of the MCAP files."`
	Region string `help:"AWS region of the bucket."`

	KafkaHosts  []string `help:"Comma separated list of Kafka hosts."`
	KafkaTopics []string `help:"Kafka topics to consume telemetry from."`
	KafkaGroup  string   `help:"Kafka consumer group."`
	RegistryURL string   `help:"Confluent schema registry host:port."`
	EpisodeMsgs int      `help:"Messages per episode when consuming from Kafka."`

	DatasetID string `help:"Roboto dataset id to download MCAP files from."`
	BaseURL   string `help:"Roboto API base URL."`

	StateTopic  string   `help:"Topic carrying observed joint states."`
	ActionTopic string   `help:"Topic carrying commanded joint trajectories."`
	Cameras     []string `help:"Cameras as name=imageTopic=infoTopic."`
	GPSTopic    string   `help:"Optional topic carrying GPS fixes."`

	AlignTopic string `help:"Topic to align frames on. Defaults to the lowest-rate topic."`
	Task       string `help:"Task label attached to every frame."`
	RobotType  string `help:"Robot type recorded in the dataset metadata."`
	Name       string `help:"Name for the published platform dataset."`
	Episodes   int    `help:"Maximum number of episodes to convert. 0 means all."`
	TaskDB     string `help:"Path to a bolt file for a persistent task dictionary."`

	Concurrency int  `help:"Number of goroutines routing messages per episode."`
	DryRun      bool `help:"Convert locally but skip the platform upload."`
	Verbose     bool `help:"Enable debug logging."`

	logger rdk.Logger
	stats  rdk.Statter
	tasks  rdk.FieldTranslator

	// schema established by the first episode
	ds         *lerobot.Dataset
	jointNames []string
	fixes      []rdk.Fix
}

// NewMain returns a new Main.
func NewMain() *Main {
	return &Main{
		Output: "dataset",

		KafkaHosts:  []string{"localhost:9092"},
		KafkaTopics: []string{"telemetry"},
		KafkaGroup:  "group0",
		RegistryURL: "localhost:8081",
		EpisodeMsgs: 1000,

		BaseURL: roboto.DefaultBaseURL,

		StateTopic:  "/joint_states",
		ActionTopic: "/arm_controller/joint_trajectory",

		Task:        "default",
		Concurrency: 1,
	}
}

var errJointMismatch = errors.New("episode joints don't match the dataset schema")

// Run converts every episode from the configured input into a dataset at
// Output and, unless DryRun is set, publishes it to the platform.
func (m *Main) Run() error {
	m.logger = rdk.StdLogger{}
	if m.Verbose {
		m.logger = rdk.VerboseLogger{}
	}
	m.stats = termstat.NewCollector(os.Stdout)

	topics, err := m.topics()
	if err != nil {
		return err
	}
	aligner := rdk.NewAligner()
	aligner.Topic = m.AlignTopic
	aligner.Logger = m.logger

	if m.TaskDB != "" {
		bt, err := boltdb.NewTranslator(m.TaskDB, "task")
		if err != nil {
			return errors.Wrap(err, "opening task db")
		}
		defer bt.Close()
		m.tasks = rdk.FieldView(bt, "task")
	}

	episodes, cleanup, err := m.episodeSources()
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	converted := 0
	for m.Episodes == 0 || converted < m.Episodes {
		src, name, err := episodes()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrap(err, "getting episode source")
		}

		ing := rdk.NewIngester(src, topics, aligner, &deferredWriter{main: m})
		ing.ParseConcurrency = m.Concurrency
		ing.Task = m.Task
		ing.Stats = m.stats
		ing.Logger = m.logger
		ing.OnEpisode = m.onEpisode

		if err := ing.Run(); err != nil {
			if errors.Cause(err) == errJointMismatch {
				m.logger.Printf("skipping %s: %v", name, err)
				m.stats.Count("convert.skipped", 1, 1)
				continue
			}
			return errors.Wrapf(err, "converting %s", name)
		}
		converted++
		m.stats.Count("convert.episodes", 1, 1)
	}
	if m.ds == nil {
		return errors.New("no episodes converted")
	}
	if err := m.ds.Finalize(); err != nil {
		return errors.Wrap(err, "finalizing dataset")
	}
	m.logger.Printf("converted %d episodes to %s", converted, m.Output)

	if m.DryRun {
		return nil
	}
	return m.publish()
}

// onEpisode establishes the dataset schema from the first episode and
// rejects later episodes whose joint sets differ.
func (m *Main) onEpisode(ep *rdk.Episode, alignment *rdk.Alignment) error {
	m.fixes = append(m.fixes, ep.Fixes...)
	if m.ds == nil {
		ds, err := m.createDataset(ep, alignment)
		if err != nil {
			return errors.Wrap(err, "creating dataset")
		}
		m.ds = ds
		m.jointNames = ep.JointNames
		m.logger.Printf("dataset schema: %d joints, %d cameras, %d fps on %s",
			len(ep.JointNames), len(ep.Cameras), alignment.Rate, alignment.Topic)
		return nil
	}
	if !sameJointSet(m.jointNames, ep.JointNames) {
		return errors.Wrapf(errJointMismatch, "got %v, dataset has %v", ep.JointNames, m.jointNames)
	}
	return nil
}

func (m *Main) createDataset(ep *rdk.Episode, alignment *rdk.Alignment) (*lerobot.Dataset, error) {
	features := map[string]lerobot.FeatureSpec{
		rdk.FeatureState: {
			DType: lerobot.DTypeFloat32,
			Shape: []int{len(ep.JointNames)},
			Names: ep.JointNames,
		},
		rdk.FeatureAction: {
			DType: lerobot.DTypeFloat32,
			Shape: []int{len(ep.JointNames)},
			Names: ep.JointNames,
		},
	}
	for _, cam := range ep.Cameras {
		features[rdk.ImageFeature(cam.Name)] = lerobot.ImageSpec(cam.Height, cam.Width)
	}
	opts := []lerobot.Option{
		lerobot.OptFPS(alignment.Rate),
		lerobot.OptLogger(m.logger),
	}
	if m.RobotType != "" {
		opts = append(opts, lerobot.OptRobotType(m.RobotType))
	}
	if m.tasks != nil {
		opts = append(opts, lerobot.OptTaskTranslator(m.tasks))
	}
	return lerobot.Create(m.Output, features, opts...)
}

// publish registers the dataset with the platform and uploads its files.
func (m *Main) publish() error {
	client, err := roboto.NewClient(roboto.OptBaseURL(m.BaseURL), roboto.OptClientLogger(m.logger))
	if err != nil {
		return errors.Wrap(err, "getting platform client")
	}
	req := roboto.CreateDatasetRequest{
		Name:        m.Name,
		Description: fmt.Sprintf("converted from %s", m.sourceName()),
	}
	if len(m.fixes) > 0 {
		hash, err := geohash.ForFixes(m.fixes, geohash.DefaultPrecision)
		if err != nil {
			return errors.Wrap(err, "hashing fixes")
		}
		req.Tags = append(req.Tags, "geohash:"+hash)
	}
	ds, err := client.CreateDataset(req)
	if err != nil {
		return errors.Wrap(err, "creating platform dataset")
	}
	n, err := client.UploadDirectory(ds.DatasetID, m.Output)
	if err != nil {
		return errors.Wrap(err, "uploading dataset")
	}
	m.logger.Printf("published %d files to dataset %s", n, ds.DatasetID)
	return nil
}

func (m *Main) topics() (rdk.Topics, error) {
	topics := rdk.Topics{
		State:  m.StateTopic,
		Action: m.ActionTopic,
		GPS:    m.GPSTopic,
	}
	for _, spec := range m.Cameras {
		parts := strings.Split(spec, "=")
		if len(parts) != 3 {
			return topics, errors.Errorf("camera %q is not name=imageTopic=infoTopic", spec)
		}
		topics.Cameras = append(topics.Cameras, rdk.CameraTopics{
			Name:  parts[0],
			Image: parts[1],
			Info:  parts[2],
		})
	}
	if m.AlignTopic != "" {
		alignable := topics.Alignable()
		found := false
		for _, t := range alignable {
			if t == m.AlignTopic {
				found = true
			}
		}
		if !found {
			return topics, errors.Errorf("alignment topic %q is not an alignable configured topic, valid options: %v", m.AlignTopic, alignable)
		}
	}
	return topics, nil
}

// episodeSources returns an iterator handing out one Source per episode.
// The cleanup func, when non-nil, removes temporary download dirs.
func (m *Main) episodeSources() (func() (rdk.Source, string, error), func(), error) {
	switch {
	case m.Path != "":
		it, err := fileEpisodes(m.Path)
		return it, nil, err
	case m.Bucket != "":
		rs, err := s3.NewRawSource(m.Region, m.Bucket, m.Prefix)
		if err != nil {
			return nil, nil, errors.Wrap(err, "getting s3 raw source")
		}
		return rawEpisodes(rs), nil, nil
	case m.DatasetID != "":
		return m.platformEpisodes()
	case len(m.KafkaHosts) > 0 && m.EpisodeMsgs > 0:
		return m.kafkaEpisodes()
	}
	return nil, nil, errors.New("no input configured: need a path, bucket, dataset id, or kafka hosts")
}

func fileEpisodes(pathname string) (func() (rdk.Source, string, error), error) {
	info, err := os.Stat(pathname)
	if err != nil {
		return nil, errors.Wrap(err, "statting path")
	}
	files := []string{pathname}
	if info.IsDir() {
		entries, err := os.ReadDir(pathname)
		if err != nil {
			return nil, errors.Wrap(err, "reading directory")
		}
		files = files[:0]
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			files = append(files, filepath.Join(pathname, entry.Name()))
		}
		sort.Strings(files)
	}
	i := 0
	return func() (rdk.Source, string, error) {
		if i >= len(files) {
			return nil, "", io.EOF
		}
		file := files[i]
		i++
		src, err := mcap.NewSource(mcap.OptSrcPath(file))
		return src, file, err
	}, nil
}

// rawEpisodes treats each reader from the raw source as one episode.
func rawEpisodes(rs rdk.RawSource) func() (rdk.Source, string, error) {
	return func() (rdk.Source, string, error) {
		reader, err := rs.NextReader()
		if err != nil {
			return nil, "", err
		}
		src, err := mcap.NewSource(mcap.OptSrcRaw(&oneReaderSource{r: reader}))
		return src, reader.Name(), err
	}
}

func (m *Main) platformEpisodes() (func() (rdk.Source, string, error), func(), error) {
	client, err := roboto.NewClient(roboto.OptBaseURL(m.BaseURL), roboto.OptClientLogger(m.logger))
	if err != nil {
		return nil, nil, errors.Wrap(err, "getting platform client")
	}
	files, err := client.ListFiles(m.DatasetID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "listing dataset files")
	}
	include := make([]string, 0, len(files))
	for _, f := range files {
		if f.IngestionStatus != roboto.IngestionStatusIngested {
			m.logger.Printf("skipping %s: not ingested", f.RelativePath)
			continue
		}
		if !strings.HasSuffix(f.RelativePath, ".mcap") {
			continue
		}
		include = append(include, f.RelativePath)
	}
	if len(include) == 0 {
		return nil, nil, errors.Errorf("dataset %s has no ingested MCAP files", m.DatasetID)
	}
	dir, err := os.MkdirTemp("", "rdk-convert-")
	if err != nil {
		return nil, nil, errors.Wrap(err, "making download dir")
	}
	cleanup := func() { os.RemoveAll(dir) }
	if _, err := client.DownloadFiles(m.DatasetID, dir, include); err != nil {
		cleanup()
		return nil, nil, errors.Wrap(err, "downloading dataset files")
	}
	it, err := fileEpisodes(dir)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return it, cleanup, nil
}

func (m *Main) kafkaEpisodes() (func() (rdk.Source, string, error), func(), error) {
	src := kafka.NewConfluentSource()
	src.Hosts = m.KafkaHosts
	src.Topics = m.KafkaTopics
	src.Group = m.KafkaGroup
	src.RegistryURL = m.RegistryURL
	if err := src.Open(); err != nil {
		return nil, nil, errors.Wrap(err, "opening kafka source")
	}
	episode := 0
	it := func() (rdk.Source, string, error) {
		episode++
		return &limitSource{src: src, max: m.EpisodeMsgs}, fmt.Sprintf("kafka episode %d", episode), nil
	}
	return it, func() { src.Close() }, nil
}

func (m *Main) sourceName() string {
	switch {
	case m.Path != "":
		return m.Path
	case m.Bucket != "":
		return "s3://" + m.Bucket + "/" + m.Prefix
	case m.DatasetID != "":
		return "dataset " + m.DatasetID
	}
	return "kafka " + strings.Join(m.KafkaTopics, ",")
}

// deferredWriter delegates to the dataset once the first episode has
// established its schema.
type deferredWriter struct {
	main *Main
}

func (w *deferredWriter) AddFrame(values map[string]interface{}, task string, timestamp float64) error {
	if err := w.bind(); err != nil {
		return err
	}
	return w.main.ds.AddFrame(values, task, timestamp)
}

func (w *deferredWriter) SaveEpisode() error {
	if err := w.bind(); err != nil {
		return err
	}
	return w.main.ds.SaveEpisode()
}

func (w *deferredWriter) bind() error {
	if w.main.ds == nil {
		return errors.New("no dataset: OnEpisode did not run")
	}
	return nil
}

// limitSource ends a stream with io.EOF after max records, delimiting
// episodes on an endless source.
type limitSource struct {
	src rdk.Source
	max int
	n   int
}

func (l *limitSource) Record() (interface{}, error) {
	if l.n >= l.max {
		return nil, io.EOF
	}
	l.n++
	return l.src.Record()
}

// oneReaderSource adapts a single reader to rdk.RawSource.
type oneReaderSource struct {
	r    rdk.NamedReadCloser
	done bool
}

func (o *oneReaderSource) NextReader() (rdk.NamedReadCloser, error) {
	if o.done {
		return nil, io.EOF
	}
	o.done = true
	return o.r, nil
}

func sameJointSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, name := range a {
		set[name] = true
	}
	for _, name := range b {
		if !set[name] {
			return false
		}
	}
	return true
}
