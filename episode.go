package rdk

import (
	"io"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// CameraTopics names the pair of topics a camera publishes on: compressed
// frames plus the camera info stream that carries the frame dimensions.
type CameraTopics struct {
	// Name is how the camera appears in the output dataset, e.g. "downward"
	// becomes the feature "observation.images.downward".
	Name string

	Image string
	Info  string
}

// Topics configures which recorded topics feed each part of an episode.
type Topics struct {
	// State is the observed joint state topic (SchemaJointState).
	State string
	// Action is the commanded trajectory topic (SchemaJointTrajectory).
	Action string
	// Cameras lists the camera image/info topic pairs to include.
	Cameras []CameraTopics
	// GPS is an optional NavSatFix topic used to geo-tag episodes.
	GPS string
}

// Alignable returns the topics frames may align on: joint state, trajectory,
// and camera image streams. Camera info and GPS topics carry no timeline.
func (t Topics) Alignable() []string {
	topics := []string{t.State, t.Action}
	for _, cam := range t.Cameras {
		topics = append(topics, cam.Image)
	}
	return topics
}

// StateSample is one observed joint state, reordered into the episode's
// joint order.
type StateSample struct {
	Timestamp int64
	Positions []float64
}

// TrajectorySample is one commanded trajectory message.
type TrajectorySample struct {
	Timestamp int64
	Points    []TrajectoryPoint
}

// ImageSample is one compressed camera frame.
type ImageSample struct {
	Timestamp int64
	Format    string
	Data      []byte
}

// Camera is one camera's image series along with the dimensions reported on
// its info topic.
type Camera struct {
	Name   string
	Height int
	Width  int
	Images []ImageSample
}

// Fix is one GPS fix.
type Fix struct {
	Timestamp int64
	Latitude  float64
	Longitude float64
}

// Episode is one recorded run of a robot, demultiplexed into per-topic
// time-ordered series.
type Episode struct {
	// JointNames is the joint order used by both States and trajectory
	// points, taken from the commanded trajectory.
	JointNames   []string
	States       []StateSample
	Trajectories []TrajectorySample
	Cameras      []Camera
	Fixes        []Fix
}

// EpisodeBuilder accumulates messages routed by topic and assembles them
// into an Episode. Add may be called from multiple goroutines.
type EpisodeBuilder struct {
	topics Topics
	logger Logger

	mu           sync.Mutex
	states       []*JointState
	trajectories []*JointTrajectory
	images       map[string][]ImageSample // camera name -> frames
	infos        map[string][]*CameraInfo // camera name -> info stream
	fixes        []Fix
}

// NewEpisodeBuilder returns a builder routing messages per the given topic
// configuration.
func NewEpisodeBuilder(topics Topics) *EpisodeBuilder {
	return &EpisodeBuilder{
		topics: topics,
		logger: StdLogger{},
		images: make(map[string][]ImageSample),
		infos:  make(map[string][]*CameraInfo),
	}
}

// SetLogger replaces the builder's logger (StdLogger by default).
func (b *EpisodeBuilder) SetLogger(l Logger) { b.logger = l }

// Add routes one message into the builder. Messages on unconfigured topics
// are ignored. Messages whose body does not match the topic's expected
// schema produce an error.
func (b *EpisodeBuilder) Add(msg *Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch msg.Topic {
	case b.topics.State:
		js, ok := msg.Body.(*JointState)
		if !ok {
			return errors.Errorf("topic %s: expected joint state, got %T", msg.Topic, msg.Body)
		}
		b.states = append(b.states, js)
	case b.topics.Action:
		jt, ok := msg.Body.(*JointTrajectory)
		if !ok {
			return errors.Errorf("topic %s: expected joint trajectory, got %T", msg.Topic, msg.Body)
		}
		b.trajectories = append(b.trajectories, jt)
	case b.topics.GPS:
		if b.topics.GPS == "" {
			return nil
		}
		fix, ok := msg.Body.(*NavSatFix)
		if !ok {
			return errors.Errorf("topic %s: expected nav sat fix, got %T", msg.Topic, msg.Body)
		}
		b.fixes = append(b.fixes, Fix{
			Timestamp: fix.Header.Stamp.Nanos(),
			Latitude:  fix.Latitude,
			Longitude: fix.Longitude,
		})
	default:
		for _, cam := range b.topics.Cameras {
			switch msg.Topic {
			case cam.Image:
				img, ok := msg.Body.(*CompressedImage)
				if !ok {
					return errors.Errorf("topic %s: expected compressed image, got %T", msg.Topic, msg.Body)
				}
				b.images[cam.Name] = append(b.images[cam.Name], ImageSample{
					Timestamp: img.Header.Stamp.Nanos(),
					Format:    img.Format,
					Data:      img.Data,
				})
			case cam.Info:
				info, ok := msg.Body.(*CameraInfo)
				if !ok {
					return errors.Errorf("topic %s: expected camera info, got %T", msg.Topic, msg.Body)
				}
				b.infos[cam.Name] = append(b.infos[cam.Name], info)
			}
		}
	}
	return nil
}

// Consume drains a Source into the builder until io.EOF.
func (b *EpisodeBuilder) Consume(src Source) error {
	for {
		rec, err := src.Record()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "reading record")
		}
		msg, ok := rec.(*Message)
		if !ok {
			return errors.Errorf("expected *rdk.Message from source, got %T", rec)
		}
		if err := b.Add(msg); err != nil {
			return err
		}
	}
}

// Episode assembles the accumulated messages into an Episode. Joint names
// come from the commanded trajectory; observed joint states are filtered and
// reordered to match, and it is an error for a commanded joint to be missing
// from the observations. Inconsistent joint naming across state messages and
// inconsistent camera dimensions are logged, not fatal.
func (b *EpisodeBuilder) Episode() (*Episode, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.trajectories) == 0 {
		return nil, errors.New("no trajectory messages found")
	}
	if len(b.states) == 0 {
		return nil, errors.New("no joint state messages found")
	}

	var jointNames []string
	trajectories := make([]TrajectorySample, 0, len(b.trajectories))
	for _, jt := range b.trajectories {
		if jointNames == nil && len(jt.JointNames) > 0 {
			jointNames = jt.JointNames
		}
		if len(jt.Points) == 0 {
			b.logger.Printf("trajectory message at %d has no points", jt.Header.Stamp.Nanos())
		}
		trajectories = append(trajectories, TrajectorySample{
			Timestamp: jt.Header.Stamp.Nanos(),
			Points:    jt.Points,
		})
	}
	if jointNames == nil {
		return nil, errors.New("no joint names found in trajectory messages")
	}
	sortTrajectories(trajectories)

	states, err := b.buildStates(jointNames)
	if err != nil {
		return nil, err
	}

	cameras := make([]Camera, 0, len(b.topics.Cameras))
	for _, ct := range b.topics.Cameras {
		cam, err := b.buildCamera(ct)
		if err != nil {
			return nil, err
		}
		cameras = append(cameras, cam)
	}

	sort.Slice(b.fixes, func(i, j int) bool { return b.fixes[i].Timestamp < b.fixes[j].Timestamp })

	return &Episode{
		JointNames:   jointNames,
		States:       states,
		Trajectories: trajectories,
		Cameras:      cameras,
		Fixes:        b.fixes,
	}, nil
}

func (b *EpisodeBuilder) buildStates(jointNames []string) ([]StateSample, error) {
	states := make([]StateSample, 0, len(b.states))
	var first []string
	for i, js := range b.states {
		if i == 0 {
			first = js.Name
		} else if !equalStrings(js.Name, first) {
			b.logger.Printf("joint names mismatch at message %d", i)
		}

		byName := make(map[string]float64, len(js.Name))
		for j, name := range js.Name {
			if j < len(js.Position) {
				byName[name] = js.Position[j]
			}
		}
		positions := make([]float64, len(jointNames))
		for j, name := range jointNames {
			pos, ok := byName[name]
			if !ok {
				return nil, errors.Errorf("joint %q from trajectory not found in joint states (available: %v)", name, js.Name)
			}
			positions[j] = pos
		}
		states = append(states, StateSample{
			Timestamp: js.Header.Stamp.Nanos(),
			Positions: positions,
		})
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Timestamp < states[j].Timestamp })
	return states, nil
}

func (b *EpisodeBuilder) buildCamera(ct CameraTopics) (Camera, error) {
	images := b.images[ct.Name]
	if len(images) == 0 {
		return Camera{}, errors.Errorf("no images found for camera %q on topic %s", ct.Name, ct.Image)
	}
	infos := b.infos[ct.Name]
	if len(infos) == 0 {
		return Camera{}, errors.Errorf("no camera info found for camera %q on topic %s", ct.Name, ct.Info)
	}
	sort.Slice(images, func(i, j int) bool { return images[i].Timestamp < images[j].Timestamp })

	height, width := infos[0].Height, infos[0].Width
	for _, info := range infos[1:] {
		if info.Height != height || info.Width != width {
			b.logger.Printf("inconsistent dimensions for camera %q: %dx%d vs %dx%d", ct.Name, width, height, info.Width, info.Height)
			break
		}
	}
	return Camera{Name: ct.Name, Height: height, Width: width, Images: images}, nil
}

func sortTrajectories(ts []TrajectorySample) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Timestamp < ts[j].Timestamp })
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
