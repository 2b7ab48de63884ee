// Package kafkagen produces synthetic robot telemetry to Kafka for
// exercising the live ingest path without a real robot.
package kafkagen

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/Shopify/sarama"
	"github.com/linkedin/goavro"
	"github.com/pkg/errors"

	"github.com/roboto-ai/rdk"
	"github.com/roboto-ai/rdk/fake"
	"github.com/roboto-ai/rdk/kafka"
)

// Main holds the execution state for the kafka generator.
type Main struct {
	Hosts       []string `help:"Comma separated list of Kafka hosts."`
	Topic       string   `help:"Kafka topic to produce to."`
	RegistryURL string   `help:"Confluent schema registry host:port."`
	Seed        int64    `help:"Random seed for the telemetry generator."`
	Episodes    int      `help:"Number of episodes to produce. 0 means unlimited."`

	Rate time.Duration `help:"Delay between produced messages."`
}

// NewMain returns a new Main.
func NewMain() *Main {
	return &Main{
		Hosts:       []string{"localhost:9092"},
		Topic:       "telemetry",
		RegistryURL: "localhost:8081",
		Seed:        1,

		Rate: time.Millisecond * 10,
	}
}

// Run generates episodes of telemetry and produces each message as a
// Confluent-framed Avro envelope.
func (m *Main) Run() error {
	codec, err := goavro.NewCodec(kafka.EnvelopeSchema)
	if err != nil {
		return errors.Wrap(err, "parsing envelope schema")
	}
	schemaID, err := registerSchema(m.RegistryURL, m.Topic)
	if err != nil {
		return errors.Wrap(err, "registering envelope schema")
	}

	conf := sarama.NewConfig()
	conf.Version = sarama.V0_10_0_0
	conf.Producer.Return.Successes = true
	producer, err := sarama.NewSyncProducer(m.Hosts, conf)
	if err != nil {
		return errors.Wrap(err, "getting new producer")
	}
	defer producer.Close()

	gen := fake.NewGenerator(m.Seed)
	ticker := time.NewTicker(m.Rate)
	defer ticker.Stop()
	for episode := 0; m.Episodes == 0 || episode < m.Episodes; episode++ {
		for _, msg := range gen.Episode() {
			val, err := EncodeEnvelope(codec, schemaID, msg)
			if err != nil {
				return errors.Wrapf(err, "encoding message on %s", msg.Topic)
			}
			pmsg := &sarama.ProducerMessage{Topic: m.Topic, Value: sarama.ByteEncoder(val)}
			if _, _, err := producer.SendMessage(pmsg); err != nil {
				log.Printf("Error sending message: '%v', backing off", err)
				time.Sleep(time.Second * 10)
			}
			<-ticker.C
		}
	}
	return nil
}

// EncodeEnvelope wraps a message in the telemetry envelope and encodes it
// with the Confluent wire framing: a zero magic byte, the registry schema
// id big-endian, then the Avro binary record.
func EncodeEnvelope(codec *goavro.Codec, schemaID int32, msg *rdk.Message) ([]byte, error) {
	schemaName := rdk.SchemaFor(msg.Body)
	if schemaName == "" {
		return nil, errors.Errorf("no schema for body type %T", msg.Body)
	}
	data, err := json.Marshal(msg.Body)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling body")
	}
	buf := make([]byte, 5, 5+len(data))
	binary.BigEndian.PutUint32(buf[1:], uint32(schemaID))
	return codec.BinaryFromNative(buf, map[string]interface{}{
		"topic":    msg.Topic,
		"log_time": msg.LogTime,
		"schema":   schemaName,
		"data":     data,
	})
}

// registerSchema registers the envelope schema under the topic's value
// subject and returns the id the registry assigned.
func registerSchema(registryURL, topic string) (int32, error) {
	body, err := json.Marshal(map[string]string{"schema": kafka.EnvelopeSchema})
	if err != nil {
		return 0, errors.Wrap(err, "marshaling schema request")
	}
	url := fmt.Sprintf("http://%s/subjects/%s-value/versions", registryURL, topic)
	resp, err := http.Post(url, "application/vnd.schemaregistry.v1+json", bytes.NewReader(body))
	if err != nil {
		return 0, errors.Wrap(err, "posting schema")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return 0, errors.Errorf("registry returned status %d", resp.StatusCode)
	}
	reg := struct {
		ID int32 `json:"id"`
	}{}
	if err := json.NewDecoder(resp.Body).Decode(&reg); err != nil {
		return 0, errors.Wrap(err, "decoding registry response")
	}
	return reg.ID, nil
}
