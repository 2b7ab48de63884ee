package mcap

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/roboto-ai/rdk"
)

func writeTestLog(t *testing.T, path string, n int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating %s: %v", path, err)
	}
	defer f.Close()
	w, err := NewWriter(f)
	if err != nil {
		t.Fatalf("creating writer: %v", err)
	}
	for i := 0; i < n; i++ {
		ts := int64(i) * rdk.NanosPerSec
		msgs := []*rdk.Message{
			{
				Topic:   "/joint_states",
				LogTime: ts,
				Body: &rdk.JointState{
					Header:   rdk.Header{Stamp: rdk.Stamp{Sec: int64(i)}},
					Name:     []string{"shoulder", "elbow"},
					Position: []float64{float64(i), float64(i) * 2},
				},
			},
			{
				Topic:   "/gps/fix",
				LogTime: ts,
				Body:    &rdk.NavSatFix{Latitude: 48.85, Longitude: 2.35},
			},
		}
		for _, msg := range msgs {
			if err := w.WriteMessage(msg); err != nil {
				t.Fatalf("writing message: %v", err)
			}
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing writer: %v", err)
	}
}

func drain(t *testing.T, src rdk.Source) []*rdk.Message {
	t.Helper()
	var msgs []*rdk.Message
	for {
		rec, err := src.Record()
		if err == io.EOF {
			return msgs
		}
		if err != nil {
			t.Fatalf("reading record: %v", err)
		}
		msgs = append(msgs, rec.(*rdk.Message))
	}
}

func TestSourceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.mcap")
	writeTestLog(t, path, 3)

	src, err := NewSource(OptSrcPath(path))
	if err != nil {
		t.Fatalf("creating source: %v", err)
	}
	msgs := drain(t, src)
	if len(msgs) != 6 {
		t.Fatalf("expected 6 messages, got %d", len(msgs))
	}

	var joints, fixes int
	for _, msg := range msgs {
		switch body := msg.Body.(type) {
		case *rdk.JointState:
			joints++
			if msg.Topic != "/joint_states" || len(body.Position) != 2 {
				t.Fatalf("unexpected joint state: %+v", msg)
			}
		case *rdk.NavSatFix:
			fixes++
			if body.Latitude != 48.85 {
				t.Fatalf("unexpected fix: %+v", body)
			}
		default:
			t.Fatalf("unexpected body type %T", msg.Body)
		}
	}
	if joints != 3 || fixes != 3 {
		t.Fatalf("expected 3 of each, got %d joints %d fixes", joints, fixes)
	}
}

func TestSourceTopicFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.mcap")
	writeTestLog(t, path, 4)

	src, err := NewSource(OptSrcPath(path), OptSrcTopics([]string{"/joint_states"}))
	if err != nil {
		t.Fatalf("creating source: %v", err)
	}
	msgs := drain(t, src)
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	for _, msg := range msgs {
		if msg.Topic != "/joint_states" {
			t.Fatalf("filter leaked topic %q", msg.Topic)
		}
	}
}

func TestSourceDirectory(t *testing.T) {
	dir := t.TempDir()
	writeTestLog(t, filepath.Join(dir, "a.mcap"), 2)
	writeTestLog(t, filepath.Join(dir, "b.mcap"), 1)

	src, err := NewSource(OptSrcPath(dir))
	if err != nil {
		t.Fatalf("creating source: %v", err)
	}
	if msgs := drain(t, src); len(msgs) != 6 {
		t.Fatalf("expected 6 messages, got %d", len(msgs))
	}
}

func TestSourceNeedsInput(t *testing.T) {
	if _, err := NewSource(); err == nil {
		t.Fatal("expected error for source with no input")
	}
}
