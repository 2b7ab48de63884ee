// Package pull downloads a dataset from the Roboto platform and opens it
// locally, the minimal integration example.
package pull

import (
	"github.com/pkg/errors"

	"github.com/roboto-ai/rdk"
	"github.com/roboto-ai/rdk/lerobot"
	"github.com/roboto-ai/rdk/roboto"
)

// Main holds the execution state for the puller.
type Main struct {
	DatasetID string   `help:"Roboto dataset id to download."`
	Output    string   `help:"Directory to download the dataset into."`
	Include   []string `help:"Glob patterns or path prefixes of files to download. Empty means all."`
	BaseURL   string   `help:"Roboto API base URL."`
	Verbose   bool     `help:"Enable debug logging."`

	logger rdk.Logger
}

// NewMain returns a new Main.
func NewMain() *Main {
	return &Main{
		Output:  "dataset",
		BaseURL: roboto.DefaultBaseURL,
	}
}

// Run downloads the dataset's files and loads the result.
func (m *Main) Run() error {
	m.logger = rdk.StdLogger{}
	if m.Verbose {
		m.logger = rdk.VerboseLogger{}
	}
	if m.DatasetID == "" {
		return errors.New("no dataset id configured")
	}
	client, err := roboto.NewClient(roboto.OptBaseURL(m.BaseURL), roboto.OptClientLogger(m.logger))
	if err != nil {
		return errors.Wrap(err, "getting platform client")
	}
	files, err := client.DownloadFiles(m.DatasetID, m.Output, m.Include)
	if err != nil {
		return errors.Wrap(err, "downloading dataset")
	}
	m.logger.Printf("downloaded %d files to %s", len(files), m.Output)

	ds, err := lerobot.Load(m.Output, lerobot.OptLogger(m.logger))
	if err != nil {
		return errors.Wrap(err, "loading dataset")
	}
	info := ds.Info()
	m.logger.Printf("dataset %s: %d episodes, %d frames, %d fps, %d features",
		m.DatasetID, info.TotalEpisodes, info.TotalFrames, info.FPS, len(info.Features))
	return nil
}
