package rdk

import (
	"image"
	"testing"

	"github.com/roboto-ai/rdk/mock"
)

type memWriter struct {
	frames []map[string]interface{}
	tasks  []string
	stamps []float64
	saved  int
}

func (w *memWriter) AddFrame(values map[string]interface{}, task string, timestamp float64) error {
	w.frames = append(w.frames, values)
	w.tasks = append(w.tasks, task)
	w.stamps = append(w.stamps, timestamp)
	return nil
}

func (w *memWriter) SaveEpisode() error {
	w.saved++
	return nil
}

func realImageMsg(t *testing.T, topic string, ts int64, w, h int) *Message {
	t.Helper()
	return &Message{
		Topic:   topic,
		LogTime: ts,
		Body: &CompressedImage{
			Header: Header{Stamp: Stamp{Sec: ts / NanosPerSec, Nsec: ts % NanosPerSec}},
			Format: "jpeg",
			Data:   encodeTestImage(t, "jpeg", w, h),
		},
	}
}

func TestIngesterRun(t *testing.T) {
	topics := testTopics()
	names := []string{"shoulder", "elbow"}

	// trajectory commands at 1s and 2s, states at 10hz, one camera at 1hz
	// reporting 8x6 but delivering 16x12 frames (so the ingester resizes).
	msgs := []*Message{
		trajMsg(topics.Action, secs(1), names, []TrajectoryPoint{
			{Positions: []float64{0.1, 0.2}, TimeFromStart: Stamp{Sec: 0}},
			{Positions: []float64{0.3, 0.4}, TimeFromStart: Stamp{Sec: 1}},
		}),
		trajMsg(topics.Action, secs(2), names, []TrajectoryPoint{
			{Positions: []float64{0.5, 0.6}, TimeFromStart: Stamp{Sec: 0}},
		}),
		infoMsg(topics.Cameras[0].Info, secs(1), 8, 6),
		infoMsg(topics.Cameras[0].Info, secs(2), 8, 6),
	}
	for i := int64(0); i < 20; i++ {
		ts := secs(1) + i*NanosPerSec/10
		msgs = append(msgs, stateMsg(topics.State, ts, names, []float64{float64(i), float64(i) / 2}))
	}
	msgs = append(msgs,
		realImageMsg(t, topics.Cameras[0].Image, secs(1), 16, 12),
		realImageMsg(t, topics.Cameras[0].Image, secs(2), 16, 12),
	)

	writer := &memWriter{}
	stats := &mock.RecordingStatter{}
	ing := NewIngester(&sliceSource{msgs: msgs}, topics, NewAligner(), writer)
	ing.Logger = NopLogger{}
	ing.Stats = stats
	ing.Task = "pick up the block"

	var sawEpisode bool
	ing.OnEpisode = func(ep *Episode, alignment *Alignment) error {
		sawEpisode = true
		if len(ep.JointNames) != 2 {
			t.Fatalf("unexpected joint names: %v", ep.JointNames)
		}
		return nil
	}

	if err := ing.Run(); err != nil {
		t.Fatalf("running ingester: %v", err)
	}
	if !sawEpisode {
		t.Fatal("OnEpisode was never called")
	}
	if writer.saved != 1 {
		t.Fatalf("expected one saved episode, got %d", writer.saved)
	}
	// camera is the lowest-rate topic at 1hz with frames at 1s and 2s
	if len(writer.frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(writer.frames))
	}
	if writer.stamps[0] != 0 || writer.stamps[1] != 1 {
		t.Fatalf("timestamps should be relative to episode start: %v", writer.stamps)
	}
	if writer.tasks[0] != "pick up the block" {
		t.Fatalf("unexpected task: %q", writer.tasks[0])
	}
	if n := stats.CountFor("ingester.frames"); n != 2 {
		t.Fatalf("expected 2 frames counted, got %d", n)
	}
	if n := stats.CountFor("ingester.messages"); n != int64(len(msgs)) {
		t.Fatalf("expected %d messages counted, got %d", len(msgs), n)
	}

	frame := writer.frames[0]
	if _, ok := frame[FeatureState].([]float64); !ok {
		t.Fatalf("missing state feature: %v", frame)
	}
	action, ok := frame[FeatureAction].([]float64)
	if !ok || len(action) != 2 {
		t.Fatalf("missing action feature: %v", frame)
	}
	img, ok := frame[ImageFeature("down")].(image.Image)
	if !ok {
		t.Fatalf("missing image feature: %v", frame)
	}
	if b := img.Bounds(); b.Dx() != 8 || b.Dy() != 6 {
		t.Fatalf("image should be resized to the reported dimensions, got %v", b)
	}
}

func TestIngesterOnEpisodeAbort(t *testing.T) {
	topics := testTopics()
	msgs := []*Message{
		trajMsg(topics.Action, secs(1), []string{"j"}, []TrajectoryPoint{{Positions: []float64{0}}}),
		infoMsg(topics.Cameras[0].Info, secs(1), 8, 6),
	}
	for i := int64(0); i < 5; i++ {
		msgs = append(msgs, stateMsg(topics.State, secs(1+i), []string{"j"}, []float64{1}))
		msgs = append(msgs, realImageMsg(t, topics.Cameras[0].Image, secs(1+i), 8, 6))
	}

	writer := &memWriter{}
	ing := NewIngester(&sliceSource{msgs: msgs}, topics, NewAligner(), writer)
	ing.Logger = NopLogger{}
	ing.OnEpisode = func(*Episode, *Alignment) error {
		return errAbort
	}
	if err := ing.Run(); err != errAbort {
		t.Fatalf("expected the OnEpisode error back, got %v", err)
	}
	if writer.saved != 0 || len(writer.frames) != 0 {
		t.Fatal("nothing should be written after OnEpisode rejects the episode")
	}
}

var errAbort = errorString("episode rejected")

type errorString string

func (e errorString) Error() string { return string(e) }
