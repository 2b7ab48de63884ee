package cmd

import (
	"io"

	"github.com/jaffee/commandeer/cobrafy"
	"github.com/spf13/cobra"

	"github.com/roboto-ai/rdk/usecase/pull"
)

// PullMain is wrapped by NewPullCommand and only exported for testing
// purposes.
var PullMain *pull.Main

// NewPullCommand returns a new cobra command wrapping PullMain.
func NewPullCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	PullMain = pull.NewMain()
	command, err := cobrafy.Command(PullMain)
	if err != nil {
		panic(err)
	}
	command.Use = "pull"
	command.Short = "pull - download a dataset from Roboto and open it"
	command.Long = `Downloads a dataset's files from the Roboto platform to a
local directory, loads it, and reports its episode and frame counts.`
	return command
}

func init() {
	subcommandFns["pull"] = NewPullCommand
}
