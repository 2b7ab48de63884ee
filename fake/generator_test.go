package fake

import (
	"io"
	"testing"

	"github.com/roboto-ai/rdk"
)

func TestGeneratorDeterminism(t *testing.T) {
	a := NewGenerator(42).Episode()
	b := NewGenerator(42).Episode()
	if len(a) != len(b) {
		t.Fatalf("same seed produced %d and %d messages", len(a), len(b))
	}
	for i := range a {
		if a[i].Topic != b[i].Topic || a[i].LogTime != b[i].LogTime {
			t.Fatalf("message %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestGeneratorEpisode(t *testing.T) {
	g := NewGenerator(1)
	msgs := g.Episode()
	topics := Topics()

	counts := map[string]int{}
	var last int64
	for _, msg := range msgs {
		if msg.LogTime < last {
			t.Fatal("messages are not in log order")
		}
		last = msg.LogTime
		counts[msg.Topic]++
	}
	// 10s episode at the documented rates
	if counts[topics.State] != 500 {
		t.Fatalf("expected 500 states, got %d", counts[topics.State])
	}
	if counts[topics.Action] != 100 {
		t.Fatalf("expected 100 trajectories, got %d", counts[topics.Action])
	}
	if counts[topics.Cameras[0].Image] != 150 {
		t.Fatalf("expected 150 frames, got %d", counts[topics.Cameras[0].Image])
	}
	if counts[topics.GPS] != 10 {
		t.Fatalf("expected 10 fixes, got %d", counts[topics.GPS])
	}

	next := g.Episode()
	if next[0].LogTime <= last {
		t.Fatal("episodes should not overlap in time")
	}
}

func TestGeneratedEpisodeAssembles(t *testing.T) {
	topics := Topics()
	b := rdk.NewEpisodeBuilder(topics)
	b.SetLogger(rdk.NopLogger{})
	if err := b.Consume(NewSource(7, 1)); err != nil {
		t.Fatalf("consuming source: %v", err)
	}
	ep, err := b.Episode()
	if err != nil {
		t.Fatalf("building episode: %v", err)
	}
	if len(ep.JointNames) != len(JointNames) {
		t.Fatalf("unexpected joints: %v", ep.JointNames)
	}
	if len(ep.Cameras) != 1 || ep.Cameras[0].Width != 64 || ep.Cameras[0].Height != 48 {
		t.Fatalf("unexpected camera: %+v", ep.Cameras)
	}
	if len(ep.Fixes) != 10 {
		t.Fatalf("expected 10 fixes, got %d", len(ep.Fixes))
	}

	alignment, err := rdk.NewAligner().Align(ep, topics)
	if err != nil {
		t.Fatalf("aligning: %v", err)
	}
	if alignment.Topic != topics.Action || alignment.Rate != 10 {
		t.Fatalf("the trajectory stream should set the rate, got %q at %d fps", alignment.Topic, alignment.Rate)
	}
	if len(alignment.Frames) == 0 {
		t.Fatal("alignment produced no frames")
	}
}

func TestSourceEpisodeCount(t *testing.T) {
	src := NewSource(3, 2)
	count := 0
	for {
		_, err := src.Record()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("record: %v", err)
		}
		count++
	}
	per := len(NewGenerator(3).Episode())
	if count != per*2 {
		t.Fatalf("expected %d messages, got %d", per*2, count)
	}
}
