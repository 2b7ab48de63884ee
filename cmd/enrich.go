package cmd

import (
	"io"
	"log"
	"time"

	"github.com/jaffee/commandeer"
	"github.com/spf13/cobra"

	"github.com/roboto-ai/rdk/usecase/enrich"
)

// EnrichMain is wrapped by NewEnrichCommand and only exported for testing
// purposes.
var EnrichMain *enrich.Main

// NewEnrichCommand returns a new cobra command wrapping EnrichMain.
func NewEnrichCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var err error
	EnrichMain = enrich.NewMain()
	enrichCommand := &cobra.Command{
		Use:   "enrich",
		Short: "enrich - derive new features from an existing dataset",
		Long: `Loads a dataset from a local path or downloads it from Roboto,
appends the action/observation difference feature to every frame, and
republishes it as a derivative dataset unless --dry-run is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			err = EnrichMain.Run()
			if err != nil {
				return err
			}
			log.Println("Done: ", time.Since(start))
			return nil
		},
	}
	flags := enrichCommand.Flags()
	err = commandeer.Flags(flags, EnrichMain)
	if err != nil {
		panic(err)
	}
	return enrichCommand
}

func init() {
	subcommandFns["enrich"] = NewEnrichCommand
}
