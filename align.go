package rdk

import (
	"math"
	"sort"

	"github.com/pkg/errors"
)

// MaxFrameRate is the highest sample rate a dataset may declare. Downstream
// video encoders (SVT-AV1) reject anything faster.
const MaxFrameRate = 240

// Rate estimates the sample rate of a series from the median gap between
// consecutive timestamps. It needs at least two timestamps, and the median
// gap must be positive.
func Rate(timestamps []int64) (int, error) {
	if len(timestamps) < 2 {
		return 0, errors.New("need at least 2 timestamps to calculate a rate")
	}
	diffs := make([]float64, len(timestamps)-1)
	for i := 1; i < len(timestamps); i++ {
		diffs[i-1] = float64(timestamps[i] - timestamps[i-1])
	}
	sort.Float64s(diffs)
	// median averages the middle pair for an even count
	mid := len(diffs) / 2
	median := diffs[mid]
	if len(diffs)%2 == 0 {
		median = (diffs[mid-1] + diffs[mid]) / 2
	}
	if median <= 0 {
		return 0, errors.Errorf("invalid median time difference %vns - timestamps are identical or not increasing", median)
	}
	return int(math.Round(float64(NanosPerSec) / median)), nil
}

// TopicRate pairs a topic name with its estimated sample rate.
type TopicRate struct {
	Topic string
	Rate  int
}

// Alignment is the result of joining an episode onto a base timeline.
type Alignment struct {
	Topic  string // the base timeline topic
	Rate   int    // frames per second, capped at MaxFrameRate
	Frames []Frame
}

// Frame is one time-aligned sample across all of an episode's topics.
type Frame struct {
	Timestamp int64
	State     []float64
	Action    []float64
	Images    map[string]ImageSample
}

// Aligner joins an episode's topics onto a single base timeline using
// backward as-of lookups, the way a training dataset expects frames.
type Aligner struct {
	// Topic overrides the base timeline topic. When empty the lowest-rate
	// topic of the first aligned episode is chosen and kept for every
	// episode after it, so the frame cadence stays consistent.
	Topic  string
	Logger Logger
}

// NewAligner returns an Aligner logging through the standard logger.
func NewAligner() *Aligner {
	return &Aligner{Logger: StdLogger{}}
}

// Rates returns the estimated sample rate of every alignable topic in the
// episode: joint states, trajectory, and each camera image stream.
func (a *Aligner) Rates(ep *Episode, topics Topics) ([]TopicRate, error) {
	series := alignableSeries(ep, topics)
	rates := make([]TopicRate, 0, len(series))
	for _, s := range series {
		rate, err := Rate(s.timestamps)
		if err != nil {
			return nil, errors.Wrapf(err, "topic %s", s.topic)
		}
		rates = append(rates, TopicRate{Topic: s.topic, Rate: rate})
	}
	return rates, nil
}

// Align joins the episode onto the base timeline and generates frames. Base
// rows which precede the first sample of any other topic are dropped, and
// frames whose action length differs from the state length are skipped.
func (a *Aligner) Align(ep *Episode, topics Topics) (*Alignment, error) {
	logger := a.Logger
	if logger == nil {
		logger = StdLogger{}
	}

	rates, err := a.Rates(ep, topics)
	if err != nil {
		return nil, err
	}

	base := a.Topic
	if base == "" {
		lowest := rates[0]
		for _, tr := range rates[1:] {
			if tr.Rate < lowest.Rate {
				lowest = tr
			}
		}
		base = lowest.Topic
		a.Topic = base
	}

	series := alignableSeries(ep, topics)
	var baseTimes []int64
	rate := 0
	found := false
	for _, s := range series {
		if s.topic == base {
			baseTimes = s.timestamps
			found = true
		}
	}
	for _, tr := range rates {
		if tr.Topic == base {
			rate = tr.Rate
		}
	}
	if !found {
		valid := make([]string, len(series))
		for i, s := range series {
			valid[i] = s.topic
		}
		return nil, errors.Errorf("invalid alignment topic %q, valid options: %v", base, valid)
	}
	if rate > MaxFrameRate {
		logger.Printf("rate %d of alignment topic %s exceeds encoder maximum, capping at %d fps", rate, base, MaxFrameRate)
		rate = MaxFrameRate
	}

	stateTimes := make([]int64, len(ep.States))
	for i, s := range ep.States {
		stateTimes[i] = s.Timestamp
	}
	trajTimes := make([]int64, len(ep.Trajectories))
	for i, t := range ep.Trajectories {
		trajTimes[i] = t.Timestamp
	}
	camTimes := make(map[string][]int64, len(ep.Cameras))
	for _, cam := range ep.Cameras {
		times := make([]int64, len(cam.Images))
		for i, img := range cam.Images {
			times[i] = img.Timestamp
		}
		camTimes[cam.Name] = times
	}

	frames := make([]Frame, 0, len(baseTimes))
	dropped, skipped := 0, 0
	for _, t := range baseTimes {
		stateIdx := lastAtOrBefore(stateTimes, t)
		trajIdx := lastAtOrBefore(trajTimes, t)
		if stateIdx < 0 || trajIdx < 0 {
			dropped++
			continue
		}
		images := make(map[string]ImageSample, len(ep.Cameras))
		missing := false
		for _, cam := range ep.Cameras {
			idx := lastAtOrBefore(camTimes[cam.Name], t)
			if idx < 0 {
				missing = true
				break
			}
			images[cam.Name] = cam.Images[idx]
		}
		if missing {
			dropped++
			continue
		}

		traj := ep.Trajectories[trajIdx]
		if len(traj.Points) == 0 {
			logger.Debugf("trajectory at %d has no points, dropping frame", traj.Timestamp)
			dropped++
			continue
		}
		action := ActionAt(t, traj.Timestamp, traj.Points)
		state := ep.States[stateIdx].Positions
		if len(action) != len(state) {
			logger.Printf("action length %d does not match state length %d, skipping frame", len(action), len(state))
			skipped++
			continue
		}
		frames = append(frames, Frame{
			Timestamp: t,
			State:     state,
			Action:    action,
			Images:    images,
		})
	}
	logger.Debugf("aligned %d frames on %s (%d dropped, %d skipped)", len(frames), base, dropped, skipped)

	return &Alignment{Topic: base, Rate: rate, Frames: frames}, nil
}

// ActionAt picks the commanded joint positions from a trajectory based on
// elapsed time. It returns the last point whose time-from-start has elapsed
// at the observation time, clamped to the first and last points. There is no
// interpolation between points.
func ActionAt(observation, trajectoryStart int64, points []TrajectoryPoint) []float64 {
	elapsed := observation - trajectoryStart
	if elapsed < points[0].TimeFromStart.Nanos() {
		return points[0].Positions
	}
	if elapsed >= points[len(points)-1].TimeFromStart.Nanos() {
		return points[len(points)-1].Positions
	}
	for i := len(points) - 1; i >= 0; i-- {
		if points[i].TimeFromStart.Nanos() <= elapsed {
			return points[i].Positions
		}
	}
	return points[0].Positions
}

type topicSeries struct {
	topic      string
	timestamps []int64
}

func alignableSeries(ep *Episode, topics Topics) []topicSeries {
	stateTimes := make([]int64, len(ep.States))
	for i, s := range ep.States {
		stateTimes[i] = s.Timestamp
	}
	trajTimes := make([]int64, len(ep.Trajectories))
	for i, t := range ep.Trajectories {
		trajTimes[i] = t.Timestamp
	}
	series := []topicSeries{
		{topic: topics.State, timestamps: stateTimes},
		{topic: topics.Action, timestamps: trajTimes},
	}
	for _, cam := range ep.Cameras {
		times := make([]int64, len(cam.Images))
		for i, img := range cam.Images {
			times[i] = img.Timestamp
		}
		topic := cam.Name
		for _, ct := range topics.Cameras {
			if ct.Name == cam.Name {
				topic = ct.Image
			}
		}
		series = append(series, topicSeries{topic: topic, timestamps: times})
	}
	return series
}

// lastAtOrBefore returns the index of the last timestamp <= t in the sorted
// slice, or -1 when every timestamp is after t.
func lastAtOrBefore(times []int64, t int64) int {
	idx := sort.Search(len(times), func(i int) bool { return times[i] > t })
	return idx - 1
}
