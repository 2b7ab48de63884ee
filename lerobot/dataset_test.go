package lerobot

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/roboto-ai/rdk"
)

func testFeatures() map[string]FeatureSpec {
	return map[string]FeatureSpec{
		"observation.state": {
			DType: DTypeFloat32,
			Shape: []int{2},
			Names: []string{"shoulder", "elbow"},
		},
		"action": {
			DType: DTypeFloat32,
			Shape: []int{2},
			Names: []string{"shoulder", "elbow"},
		},
		"observation.images.down": ImageSpec(6, 8),
	}
}

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 7, A: 255})
		}
	}
	return img
}

func addFrames(t *testing.T, ds *Dataset, n int, task string) {
	t.Helper()
	for i := 0; i < n; i++ {
		values := map[string]interface{}{
			"observation.state":       []float64{float64(i), float64(i) * 2},
			"action":                  []float64{float64(i) + 1, float64(i) + 2},
			"observation.images.down": testImage(8, 6),
		}
		if err := ds.AddFrame(values, task, float64(i)*0.1); err != nil {
			t.Fatalf("adding frame %d: %v", i, err)
		}
	}
}

func TestDatasetRoundTrip(t *testing.T) {
	root := filepath.Join(t.TempDir(), "ds")
	ds, err := Create(root, testFeatures(), OptRobotType("test_arm"), OptFPS(10), OptLogger(rdk.NopLogger{}))
	if err != nil {
		t.Fatalf("creating dataset: %v", err)
	}

	addFrames(t, ds, 5, "pick up the block")
	if err := ds.SaveEpisode(); err != nil {
		t.Fatalf("saving episode 0: %v", err)
	}
	addFrames(t, ds, 3, "put down the block")
	if err := ds.SaveEpisode(); err != nil {
		t.Fatalf("saving episode 1: %v", err)
	}
	if err := ds.Finalize(); err != nil {
		t.Fatalf("finalizing: %v", err)
	}

	// layout on disk
	for _, p := range []string{
		"meta/info.json",
		"meta/tasks.jsonl",
		"meta/episodes.jsonl",
		"meta/stats.json",
		"data/chunk-000/episode_000000.parquet",
		"data/chunk-000/episode_000001.parquet",
		"images/observation.images.down/episode_000000/frame_000004.png",
		"images/observation.images.down/episode_000001/frame_000002.png",
	} {
		if _, err := os.Stat(filepath.Join(root, p)); err != nil {
			t.Fatalf("expected %s to exist: %v", p, err)
		}
	}

	loaded, err := Load(root, OptLogger(rdk.NopLogger{}))
	if err != nil {
		t.Fatalf("loading dataset: %v", err)
	}
	info := loaded.Info()
	if info.TotalEpisodes != 2 || info.TotalFrames != 8 || info.TotalTasks != 2 {
		t.Fatalf("unexpected totals: %+v", info)
	}
	if info.FPS != 10 || info.RobotType != "test_arm" {
		t.Fatalf("unexpected info: %+v", info)
	}
	if loaded.NumEpisodes() != 2 {
		t.Fatalf("unexpected episode count: %d", loaded.NumEpisodes())
	}
	eps := loaded.Episodes()
	if eps[0].Length != 5 || eps[1].Length != 3 {
		t.Fatalf("unexpected episode records: %+v", eps)
	}
	if len(eps[1].Tasks) != 1 || eps[1].Tasks[0] != "put down the block" {
		t.Fatalf("unexpected episode tasks: %+v", eps[1])
	}

	frames, err := loaded.ReadEpisode(1)
	if err != nil {
		t.Fatalf("reading episode 1: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	f := frames[2]
	if f.FrameIndex != 2 || f.EpisodeIndex != 1 {
		t.Fatalf("unexpected indices: %+v", f)
	}
	// global index continues across episodes: 5 frames in episode 0
	if f.Index != 7 {
		t.Fatalf("expected global index 7, got %d", f.Index)
	}
	if f.Task != "put down the block" {
		t.Fatalf("unexpected task: %q", f.Task)
	}
	state, ok := f.Values["observation.state"].([]float64)
	if !ok || len(state) != 2 || state[0] != 2 || state[1] != 4 {
		t.Fatalf("unexpected state: %v", f.Values["observation.state"])
	}
	img, ok := f.Values["observation.images.down"].(image.Image)
	if !ok {
		t.Fatalf("missing image value: %v", f.Values)
	}
	if b := img.Bounds(); b.Dx() != 8 || b.Dy() != 6 {
		t.Fatalf("unexpected image bounds: %v", b)
	}

	if _, err := loaded.ReadEpisode(2); err == nil {
		t.Fatal("expected out of range error")
	}
}

func TestDatasetAppendAfterLoad(t *testing.T) {
	root := filepath.Join(t.TempDir(), "ds")
	ds, err := Create(root, testFeatures(), OptFPS(10), OptLogger(rdk.NopLogger{}))
	if err != nil {
		t.Fatalf("creating dataset: %v", err)
	}
	addFrames(t, ds, 4, "task a")
	if err := ds.SaveEpisode(); err != nil {
		t.Fatalf("saving: %v", err)
	}
	if err := ds.Finalize(); err != nil {
		t.Fatalf("finalizing: %v", err)
	}

	loaded, err := Load(root, OptLogger(rdk.NopLogger{}))
	if err != nil {
		t.Fatalf("loading: %v", err)
	}
	addFrames(t, loaded, 2, "task a")
	if err := loaded.SaveEpisode(); err != nil {
		t.Fatalf("saving appended episode: %v", err)
	}
	if err := loaded.Finalize(); err != nil {
		t.Fatalf("finalizing again: %v", err)
	}

	frames, err := loaded.ReadEpisode(1)
	if err != nil {
		t.Fatalf("reading appended episode: %v", err)
	}
	if len(frames) != 2 || frames[0].EpisodeIndex != 1 || frames[0].Index != 4 {
		t.Fatalf("appended episode should continue indices: %+v", frames)
	}
	if loaded.Info().TotalTasks != 1 {
		t.Fatalf("task dictionary should stay deduplicated: %+v", loaded.Info())
	}
}

func TestDatasetValidatesFrames(t *testing.T) {
	root := filepath.Join(t.TempDir(), "ds")
	ds, err := Create(root, testFeatures(), OptFPS(10), OptLogger(rdk.NopLogger{}))
	if err != nil {
		t.Fatalf("creating dataset: %v", err)
	}

	base := map[string]interface{}{
		"observation.state":       []float64{1, 2},
		"action":                  []float64{3, 4},
		"observation.images.down": testImage(8, 6),
	}
	if err := ds.AddFrame(base, "t", 0); err != nil {
		t.Fatalf("valid frame rejected: %v", err)
	}

	missing := map[string]interface{}{"observation.state": []float64{1, 2}}
	if err := ds.AddFrame(missing, "t", 0); err == nil {
		t.Fatal("expected error for missing feature")
	}

	wrongLen := map[string]interface{}{
		"observation.state":       []float64{1},
		"action":                  []float64{3, 4},
		"observation.images.down": testImage(8, 6),
	}
	if err := ds.AddFrame(wrongLen, "t", 0); err == nil {
		t.Fatal("expected error for wrong vector length")
	}

	wrongDims := map[string]interface{}{
		"observation.state":       []float64{1, 2},
		"action":                  []float64{3, 4},
		"observation.images.down": testImage(4, 4),
	}
	if err := ds.AddFrame(wrongDims, "t", 0); err == nil {
		t.Fatal("expected error for wrong image dimensions")
	}
}

func TestDatasetCreateExisting(t *testing.T) {
	root := filepath.Join(t.TempDir(), "ds")
	ds, err := Create(root, testFeatures(), OptFPS(10), OptLogger(rdk.NopLogger{}))
	if err != nil {
		t.Fatalf("creating dataset: %v", err)
	}
	addFrames(t, ds, 1, "t")
	if err := ds.SaveEpisode(); err != nil {
		t.Fatalf("saving: %v", err)
	}
	if err := ds.Finalize(); err != nil {
		t.Fatalf("finalizing: %v", err)
	}
	if _, err := Create(root, testFeatures()); err == nil {
		t.Fatal("expected error creating over an existing dataset")
	}
}

func TestClone(t *testing.T) {
	dir := t.TempDir()
	src, err := Create(filepath.Join(dir, "src"), testFeatures(), OptRobotType("arm"), OptFPS(30), OptLogger(rdk.NopLogger{}))
	if err != nil {
		t.Fatalf("creating source: %v", err)
	}
	extra := map[string]FeatureSpec{
		"action_observation_difference": {DType: DTypeFloat32, Shape: []int{2}, Names: []string{"shoulder", "elbow"}},
	}
	dst, err := Clone(src, filepath.Join(dir, "dst"), extra, OptLogger(rdk.NopLogger{}))
	if err != nil {
		t.Fatalf("cloning: %v", err)
	}
	info := dst.Info()
	if info.FPS != 30 || info.RobotType != "arm" {
		t.Fatalf("clone should carry fps and robot type: %+v", info)
	}
	if len(info.Features) != len(testFeatures())+1 {
		t.Fatalf("unexpected feature count: %v", info.Features)
	}
	if _, ok := info.Features["action_observation_difference"]; !ok {
		t.Fatal("clone is missing the extra feature")
	}

	if _, err := Clone(src, filepath.Join(dir, "dst2"), map[string]FeatureSpec{
		"action": {DType: DTypeFloat32, Shape: []int{2}},
	}); err == nil {
		t.Fatal("expected error for duplicate extra feature")
	}
}

func TestSaveEpisodeEmpty(t *testing.T) {
	ds, err := Create(filepath.Join(t.TempDir(), "ds"), testFeatures(), OptFPS(10), OptLogger(rdk.NopLogger{}))
	if err != nil {
		t.Fatalf("creating dataset: %v", err)
	}
	if err := ds.SaveEpisode(); err == nil {
		t.Fatal("expected error saving an empty episode")
	}
}
