package cmd

import (
	"io"

	"github.com/jaffee/commandeer/cobrafy"
	"github.com/spf13/cobra"

	"github.com/roboto-ai/rdk/kafkagen"
)

// KafkagenMain is wrapped by NewKafkagenCommand and only exported for testing
// purposes.
var KafkagenMain *kafkagen.Main

// NewKafkagenCommand returns a new cobra command wrapping KafkagenMain.
func NewKafkagenCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	KafkagenMain = kafkagen.NewMain()
	command, err := cobrafy.Command(KafkagenMain)
	if err != nil {
		panic(err)
	}
	command.Use = "kafkagen"
	command.Short = "kafkagen - produce synthetic telemetry to kafka"
	command.Long = `Generates synthetic robot telemetry and produces it to a
Kafka topic as Confluent-framed Avro envelopes.`
	return command
}

func init() {
	subcommandFns["kafkagen"] = NewKafkagenCommand
}
