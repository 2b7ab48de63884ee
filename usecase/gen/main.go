// Package gen writes synthetic episode logs as MCAP files, for demos and
// for exercising the converter without a robot.
package gen

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/roboto-ai/rdk"
	"github.com/roboto-ai/rdk/fake"
	"github.com/roboto-ai/rdk/mcap"
)

// Main holds the execution state for the generator.
type Main struct {
	Output   string        `help:"Directory to write MCAP files into."`
	Episodes int           `help:"Number of episode files to write."`
	Seed     int64         `help:"Random seed. -1 will use current nanosecond."`
	Duration time.Duration `help:"Length of each episode."`
	Width    int           `help:"Camera frame width."`
	Height   int           `help:"Camera frame height."`
	Verbose  bool          `help:"Enable debug logging."`
}

// NewMain returns a new Main.
func NewMain() *Main {
	return &Main{
		Output:   "episodes",
		Episodes: 3,
		Seed:     1,
		Duration: 10 * time.Second,
		Width:    64,
		Height:   48,
	}
}

// Run writes one MCAP file per generated episode.
func (m *Main) Run() error {
	var logger rdk.Logger = rdk.StdLogger{}
	if m.Verbose {
		logger = rdk.VerboseLogger{}
	}
	if m.Seed == -1 {
		m.Seed = time.Now().UnixNano()
	}
	if err := os.MkdirAll(m.Output, 0755); err != nil {
		return errors.Wrap(err, "making output dir")
	}
	gen := fake.NewGenerator(m.Seed)
	gen.Duration = m.Duration
	gen.Width = m.Width
	gen.Height = m.Height

	for i := 0; i < m.Episodes; i++ {
		path := filepath.Join(m.Output, fmt.Sprintf("episode_%03d.mcap", i))
		if err := writeEpisode(path, gen.Episode()); err != nil {
			return errors.Wrapf(err, "writing %s", path)
		}
		logger.Debugf("wrote %s", path)
	}
	logger.Printf("wrote %d episodes to %s", m.Episodes, m.Output)
	return nil
}

func writeEpisode(path string, msgs []*rdk.Message) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating file")
	}
	defer f.Close()
	w, err := mcap.NewWriter(f)
	if err != nil {
		return errors.Wrap(err, "getting writer")
	}
	for _, msg := range msgs {
		if err := w.WriteMessage(msg); err != nil {
			return errors.Wrap(err, "writing message")
		}
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, "closing writer")
	}
	return f.Close()
}
