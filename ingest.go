package rdk

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// FrameWriter is the interface for writing aligned frames into a structured
// dataset, one episode at a time.
type FrameWriter interface {
	// AddFrame adds one frame to the episode being written. Values are keyed
	// by feature name; timestamp is seconds relative to the episode start.
	AddFrame(values map[string]interface{}, task string, timestamp float64) error
	// SaveEpisode flushes the buffered frames as a finished episode.
	SaveEpisode() error
}

// Ingester pumps one episode's worth of messages from a Source through the
// episode builder and aligner into a FrameWriter.
type Ingester struct {
	// ParseConcurrency is the number of goroutines reading and routing
	// messages from the source.
	ParseConcurrency int

	// Task is the task label attached to every frame.
	Task string

	// OnEpisode, when set, is called with the assembled episode and its
	// alignment before any frame is written. Returning an error aborts the
	// episode - the converter uses this to reject episodes whose joints
	// don't match the dataset schema.
	OnEpisode func(*Episode, *Alignment) error

	Stats  Statter
	Logger Logger

	src     Source
	topics  Topics
	aligner *Aligner
	writer  FrameWriter
}

// NewIngester returns an Ingester with single-routine parsing and standard
// logging.
func NewIngester(src Source, topics Topics, aligner *Aligner, writer FrameWriter) *Ingester {
	return &Ingester{
		ParseConcurrency: 1,
		Stats:            NopStatter{},
		Logger:           StdLogger{},
		src:              src,
		topics:           topics,
		aligner:          aligner,
		writer:           writer,
	}
}

// Run drains the source, assembles and aligns the episode, writes every
// frame, and saves the episode. Records which fail to route are logged and
// skipped; a source error other than io.EOF aborts the run.
func (n *Ingester) Run() error {
	start := time.Now()
	builder := NewEpisodeBuilder(n.topics)
	builder.SetLogger(n.Logger)

	var srcErr error
	var errOnce sync.Once
	pwg := sync.WaitGroup{}
	for i := 0; i < n.ParseConcurrency; i++ {
		pwg.Add(1)
		go func() {
			defer pwg.Done()
			for {
				rec, err := n.src.Record()
				if err == io.EOF {
					return
				}
				if err != nil {
					errOnce.Do(func() { srcErr = errors.Wrap(err, "reading record") })
					return
				}
				msg, ok := rec.(*Message)
				if !ok {
					n.Logger.Printf("expected *rdk.Message from source, got %T - skipping", rec)
					continue
				}
				if err := builder.Add(msg); err != nil {
					n.Logger.Printf("couldn't route message on %s: %v", msg.Topic, err)
					continue
				}
				n.Stats.Count("ingester.messages", 1, 1)
			}
		}()
	}
	pwg.Wait()
	if srcErr != nil {
		return srcErr
	}

	ep, err := builder.Episode()
	if err != nil {
		return errors.Wrap(err, "assembling episode")
	}
	alignment, err := n.aligner.Align(ep, n.topics)
	if err != nil {
		return errors.Wrap(err, "aligning episode")
	}
	if n.OnEpisode != nil {
		if err := n.OnEpisode(ep, alignment); err != nil {
			return err
		}
	}

	if len(alignment.Frames) == 0 {
		return errors.New("alignment produced no frames")
	}
	epochStart := alignment.Frames[0].Timestamp
	for _, frame := range alignment.Frames {
		values, err := n.frameValues(ep, frame)
		if err != nil {
			n.Logger.Printf("couldn't build frame values: %v - skipping frame", err)
			continue
		}
		ts := float64(frame.Timestamp-epochStart) / float64(NanosPerSec)
		if err := n.writer.AddFrame(values, n.Task, ts); err != nil {
			return errors.Wrap(err, "adding frame")
		}
		n.Stats.Count("ingester.frames", 1, 1)
	}
	if err := n.writer.SaveEpisode(); err != nil {
		return errors.Wrap(err, "saving episode")
	}
	n.Stats.Timing("ingester.episode", time.Since(start), 1)
	return nil
}

// frameValues decodes camera images and assembles the feature value map for
// one frame. Images which don't match their camera's reported dimensions are
// resized.
func (n *Ingester) frameValues(ep *Episode, frame Frame) (map[string]interface{}, error) {
	values := map[string]interface{}{
		FeatureState:  frame.State,
		FeatureAction: frame.Action,
	}
	for _, cam := range ep.Cameras {
		sample, ok := frame.Images[cam.Name]
		if !ok {
			return nil, errors.Errorf("frame missing image for camera %q", cam.Name)
		}
		img, err := DecodeImage(sample.Data, sample.Format)
		if err != nil {
			return nil, errors.Wrapf(err, "camera %q", cam.Name)
		}
		b := img.Bounds()
		if b.Dx() != cam.Width || b.Dy() != cam.Height {
			n.Logger.Debugf("resizing %q image from %dx%d to %dx%d", cam.Name, b.Dx(), b.Dy(), cam.Width, cam.Height)
			img = ResizeImage(img, cam.Width, cam.Height)
		}
		values[ImageFeature(cam.Name)] = img
	}
	return values, nil
}
