// Package enrich derives new features from an existing dataset and
// republishes the result as a derivative dataset on the Roboto platform.
package enrich

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/roboto-ai/rdk"
	"github.com/roboto-ai/rdk/lerobot"
	"github.com/roboto-ai/rdk/roboto"
)

// FeatureDifference is the feature appended by the enricher: the
// element-wise difference between the commanded action and the observed
// state of each frame.
const FeatureDifference = "action_observation_difference"

// Main holds the execution state for the enricher. Input is either a local
// dataset path or a platform dataset id.
type Main struct {
	Path      string `help:"Local dataset directory to enrich."`
	DatasetID string `help:"Roboto dataset id to download and enrich."`
	Output    string `help:"Directory to write the enriched dataset to."`

	Episodes int    `help:"Maximum number of episodes to enrich. 0 means all."`
	Name     string `help:"Name for the published derivative dataset."`
	BaseURL  string `help:"Roboto API base URL."`
	DryRun   bool   `help:"Enrich locally but skip the platform upload."`
	Verbose  bool   `help:"Enable debug logging."`

	logger rdk.Logger
}

// NewMain returns a new Main.
func NewMain() *Main {
	return &Main{
		Output:  "enriched",
		BaseURL: roboto.DefaultBaseURL,
	}
}

// Run loads the source dataset, appends the difference feature to every
// frame, and publishes the result unless DryRun is set.
func (m *Main) Run() error {
	m.logger = rdk.StdLogger{}
	if m.Verbose {
		m.logger = rdk.VerboseLogger{}
	}

	src, cleanup, err := m.sourceDataset()
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	action, ok := src.Features()[rdk.FeatureAction]
	if !ok {
		return errors.Errorf("source dataset has no %q feature", rdk.FeatureAction)
	}
	if _, ok := src.Features()[rdk.FeatureState]; !ok {
		return errors.Errorf("source dataset has no %q feature", rdk.FeatureState)
	}
	extra := map[string]lerobot.FeatureSpec{FeatureDifference: action}
	dst, err := lerobot.Clone(src, m.Output, extra, lerobot.OptLogger(m.logger))
	if err != nil {
		return errors.Wrap(err, "cloning dataset")
	}

	episodes := src.NumEpisodes()
	if m.Episodes > 0 && m.Episodes < episodes {
		episodes = m.Episodes
	}
	for ep := 0; ep < episodes; ep++ {
		if err := m.enrichEpisode(src, dst, ep); err != nil {
			return errors.Wrapf(err, "enriching episode %d", ep)
		}
	}
	if err := dst.Finalize(); err != nil {
		return errors.Wrap(err, "finalizing dataset")
	}
	m.logger.Printf("enriched %d episodes to %s", episodes, m.Output)

	if m.DryRun {
		return nil
	}
	return m.publish()
}

func (m *Main) enrichEpisode(src, dst *lerobot.Dataset, episode int) error {
	frames, err := src.ReadEpisode(episode)
	if err != nil {
		return errors.Wrap(err, "reading episode")
	}
	for _, frame := range frames {
		action, aok := frame.Values[rdk.FeatureAction].([]float64)
		state, sok := frame.Values[rdk.FeatureState].([]float64)
		if !aok || !sok || len(action) != len(state) {
			return errors.Errorf("frame %d has malformed action/state vectors", frame.FrameIndex)
		}
		diff := make([]float64, len(action))
		floats.SubTo(diff, action, state)
		frame.Values[FeatureDifference] = diff
		if err := dst.AddFrame(frame.Values, frame.Task, frame.Timestamp); err != nil {
			return errors.Wrap(err, "adding frame")
		}
	}
	return errors.Wrap(dst.SaveEpisode(), "saving episode")
}

// sourceDataset opens the input dataset, downloading it first when a
// platform dataset id is configured.
func (m *Main) sourceDataset() (*lerobot.Dataset, func(), error) {
	if m.Path != "" {
		ds, err := lerobot.Load(m.Path, lerobot.OptLogger(m.logger))
		return ds, nil, errors.Wrap(err, "loading dataset")
	}
	if m.DatasetID == "" {
		return nil, nil, errors.New("no input configured: need a path or dataset id")
	}
	client, err := roboto.NewClient(roboto.OptBaseURL(m.BaseURL), roboto.OptClientLogger(m.logger))
	if err != nil {
		return nil, nil, errors.Wrap(err, "getting platform client")
	}
	dir, err := os.MkdirTemp("", "rdk-enrich-")
	if err != nil {
		return nil, nil, errors.Wrap(err, "making download dir")
	}
	cleanup := func() { os.RemoveAll(dir) }
	if _, err := client.DownloadFiles(m.DatasetID, dir, nil); err != nil {
		cleanup()
		return nil, nil, errors.Wrap(err, "downloading dataset")
	}
	ds, err := lerobot.Load(dir, lerobot.OptLogger(m.logger))
	if err != nil {
		cleanup()
		return nil, nil, errors.Wrap(err, "loading downloaded dataset")
	}
	return ds, cleanup, nil
}

// publish registers the enriched dataset as a derivative of its source.
func (m *Main) publish() error {
	client, err := roboto.NewClient(roboto.OptBaseURL(m.BaseURL), roboto.OptClientLogger(m.logger))
	if err != nil {
		return errors.Wrap(err, "getting platform client")
	}
	req := roboto.CreateDatasetRequest{
		Name:        m.Name,
		Description: fmt.Sprintf("adds %s", FeatureDifference),
		Tags:        []string{"derivative"},
	}
	if m.DatasetID != "" {
		req.DerivedFrom = []string{m.DatasetID}
	}
	ds, err := client.CreateDataset(req)
	if err != nil {
		return errors.Wrap(err, "creating platform dataset")
	}
	n, err := client.UploadDirectory(ds.DatasetID, m.Output)
	if err != nil {
		return errors.Wrap(err, "uploading dataset")
	}
	m.logger.Printf("published %d files to dataset %s", n, ds.DatasetID)
	return nil
}
