package gen

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/roboto-ai/rdk"
	"github.com/roboto-ai/rdk/mcap"
)

func TestGenWritesEpisodeFiles(t *testing.T) {
	m := NewMain()
	m.Output = filepath.Join(t.TempDir(), "episodes")
	m.Episodes = 2
	m.Duration = time.Second
	if err := m.Run(); err != nil {
		t.Fatalf("running gen: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(m.Output, "episode_*.mcap"))
	if err != nil {
		t.Fatalf("globbing output: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 episode files, got %v", matches)
	}

	src, err := mcap.NewSource(mcap.OptSrcPath(matches[0]))
	if err != nil {
		t.Fatalf("opening generated file: %v", err)
	}
	states := 0
	for {
		rec, err := src.Record()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("reading record: %v", err)
		}
		msg, ok := rec.(*rdk.Message)
		if !ok {
			t.Fatalf("expected *rdk.Message, got %T", rec)
		}
		if _, ok := msg.Body.(*rdk.JointState); ok {
			states++
		}
	}
	if states != 50 {
		t.Fatalf("expected 50 joint states in a 1s episode, got %d", states)
	}
}
