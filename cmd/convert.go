package cmd

import (
	"io"
	"log"
	"time"

	"github.com/jaffee/commandeer"
	"github.com/spf13/cobra"

	"github.com/roboto-ai/rdk/usecase/convert"
)

// ConvertMain is wrapped by NewConvertCommand and only exported for testing
// purposes.
var ConvertMain *convert.Main

// NewConvertCommand returns a new cobra command wrapping ConvertMain.
func NewConvertCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var err error
	ConvertMain = convert.NewMain()
	convertCommand := &cobra.Command{
		Use:   "convert",
		Short: "convert - turn MCAP robot logs into a training dataset",
		Long: `Reads multi-topic MCAP logs from a file, directory, S3 bucket,
Kafka cluster, or Roboto dataset, aligns the topics into frames, and writes
a structured training dataset. Unless --dry-run is set the dataset is
published to the Roboto platform.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			err = ConvertMain.Run()
			if err != nil {
				return err
			}
			log.Println("Done: ", time.Since(start))
			return nil
		},
	}
	flags := convertCommand.Flags()
	err = commandeer.Flags(flags, ConvertMain)
	if err != nil {
		panic(err)
	}
	return convertCommand
}

func init() {
	subcommandFns["convert"] = NewConvertCommand
}
