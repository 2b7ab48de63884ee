// Package fake generates synthetic robot telemetry for demos and tests.
package fake

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/roboto-ai/rdk"
)

// Default message rates for the generated streams.
const (
	stateHz      = 50
	trajectoryHz = 10
	cameraHz     = 15
	gpsHz        = 1
)

// JointNames are the joints of the synthetic arm, in command order.
var JointNames = []string{"shoulder", "elbow", "wrist", "gripper"}

// Topics returns the topic layout the generator publishes on.
func Topics() rdk.Topics {
	return rdk.Topics{
		State:  "/joint_states",
		Action: "/arm_controller/joint_trajectory",
		Cameras: []rdk.CameraTopics{
			{Name: "down", Image: "/down/image_raw/compressed", Info: "/down/camera_info"},
		},
		GPS: "/gps/fix",
	}
}

// Generator produces synthetic episodes. The same seed yields the same
// episodes.
type Generator struct {
	rand *rand.Rand

	// Duration is the length of each generated episode.
	Duration time.Duration
	// Width and Height are the camera frame dimensions.
	Width, Height int

	start int64
}

// NewGenerator returns a Generator seeded with seed.
func NewGenerator(seed int64) *Generator {
	return &Generator{
		rand:     rand.New(rand.NewSource(seed)),
		Duration: 10 * time.Second,
		Width:    64,
		Height:   48,
		start:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).UnixNano(),
	}
}

// Episode generates the messages of one episode, in log-time order. Each
// call advances the clock so consecutive episodes don't overlap.
func (g *Generator) Episode() []*rdk.Message {
	topics := Topics()
	dur := g.Duration.Nanoseconds()
	phase := g.rand.Float64() * 2 * math.Pi
	lat := 48.85 + g.rand.Float64()*0.01
	lon := 2.35 + g.rand.Float64()*0.01

	var msgs []*rdk.Message
	add := func(topic string, ts int64, body interface{}) {
		msgs = append(msgs, &rdk.Message{Topic: topic, LogTime: ts, Body: body})
	}

	// observations report the joints in a different order than they are
	// commanded, like real drivers tend to
	perm := g.rand.Perm(len(JointNames))
	for ts := int64(0); ts < dur; ts += rdk.NanosPerSec / stateHz {
		t := g.start + ts
		pos := g.positions(phase, ts, 0)
		names := make([]string, len(perm))
		reordered := make([]float64, len(perm))
		for i, j := range perm {
			names[i] = JointNames[j]
			reordered[i] = pos[j]
		}
		add(topics.State, t, &rdk.JointState{
			Header:   header(t),
			Name:     names,
			Position: reordered,
		})
	}
	for ts := int64(0); ts < dur; ts += rdk.NanosPerSec / trajectoryHz {
		t := g.start + ts
		add(topics.Action, t, &rdk.JointTrajectory{
			Header:     header(t),
			JointNames: JointNames,
			Points: []rdk.TrajectoryPoint{
				{Positions: g.positions(phase, ts, 0.05), TimeFromStart: rdk.Stamp{}},
				{Positions: g.positions(phase, ts+rdk.NanosPerSec/trajectoryHz, 0.05), TimeFromStart: rdk.Stamp{Nsec: rdk.NanosPerSec / trajectoryHz}},
			},
		})
	}
	for ts := int64(0); ts < dur; ts += rdk.NanosPerSec / cameraHz {
		t := g.start + ts
		cam := topics.Cameras[0]
		add(cam.Image, t, &rdk.CompressedImage{
			Header: header(t),
			Format: "jpeg",
			Data:   g.frame(ts),
		})
		add(cam.Info, t, &rdk.CameraInfo{
			Header: header(t),
			Height: g.Height,
			Width:  g.Width,
		})
	}
	for ts := int64(0); ts < dur; ts += rdk.NanosPerSec / gpsHz {
		t := g.start + ts
		add(topics.GPS, t, &rdk.NavSatFix{
			Header:    header(t),
			Latitude:  lat + float64(ts)/float64(dur)*0.0001,
			Longitude: lon,
			Altitude:  35,
		})
	}

	sortMessages(msgs)
	g.start += dur + rdk.NanosPerSec
	return msgs
}

// positions returns a sinusoid per joint, jittered by noise.
func (g *Generator) positions(phase float64, ts int64, noise float64) []float64 {
	sec := float64(ts) / float64(rdk.NanosPerSec)
	out := make([]float64, len(JointNames))
	for i := range out {
		out[i] = math.Sin(phase+sec+float64(i)) + noise*g.rand.NormFloat64()
	}
	return out
}

// frame renders a small moving-gradient JPEG.
func (g *Generator) frame(ts int64) []byte {
	img := image.NewRGBA(image.Rect(0, 0, g.Width, g.Height))
	shift := uint8(ts / (rdk.NanosPerSec / cameraHz))
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(x*4) + shift,
				G: uint8(y * 5),
				B: 128,
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	// the encoder only fails on bad options
	_ = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80})
	return buf.Bytes()
}

func header(ts int64) rdk.Header {
	return rdk.Header{Stamp: rdk.Stamp{Sec: ts / rdk.NanosPerSec, Nsec: ts % rdk.NanosPerSec}}
}

func sortMessages(msgs []*rdk.Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].LogTime < msgs[j].LogTime })
}
