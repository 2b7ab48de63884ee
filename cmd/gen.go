package cmd

import (
	"io"

	"github.com/jaffee/commandeer/cobrafy"
	"github.com/spf13/cobra"

	"github.com/roboto-ai/rdk/usecase/gen"
)

// GenMain is wrapped by NewGenCommand and only exported for testing purposes.
var GenMain *gen.Main

// NewGenCommand returns a new cobra command wrapping GenMain.
func NewGenCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	GenMain = gen.NewMain()
	command, err := cobrafy.Command(GenMain)
	if err != nil {
		panic(err)
	}
	command.Use = "gen"
	command.Short = "gen - write synthetic episode logs as MCAP files"
	command.Long = `Generates synthetic robot telemetry and writes one MCAP
file per episode, for demos and for exercising the converter.`
	return command
}

func init() {
	subcommandFns["gen"] = NewGenCommand
}
