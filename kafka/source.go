// Package kafka consumes live robot telemetry from Kafka topics.
package kafka

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"net/http"
	"sync"

	"github.com/Shopify/sarama"
	cluster "github.com/bsm/sarama-cluster"
	"github.com/elodina/go-avro"
	"github.com/pkg/errors"

	"github.com/roboto-ai/rdk"
	rdkjson "github.com/roboto-ai/rdk/json"
)

// Source implements the rdk.Source interface using Kafka as a data source.
// Message values are JSON envelopes (see the json package).
type Source struct {
	Hosts   []string
	Topics  []string
	Group   string
	MaxMsgs int
	numMsgs int

	consumer *cluster.Consumer
	messages <-chan *sarama.ConsumerMessage
}

// NewSource gets a new Source.
func NewSource() *Source {
	return &Source{
		Hosts:  []string{"localhost:9092"},
		Topics: []string{"telemetry"},
		Group:  "group0",
	}
}

// Record returns the decoded value of the next kafka message.
func (s *Source) Record() (interface{}, error) {
	val, err := s.next()
	if err != nil {
		return nil, err
	}
	msg, err := rdkjson.Decode(val)
	return msg, errors.Wrap(err, "decoding envelope")
}

func (s *Source) next() ([]byte, error) {
	if s.MaxMsgs > 0 {
		s.numMsgs++
		if s.numMsgs > s.MaxMsgs {
			return nil, io.EOF
		}
	}
	msg, ok := <-s.consumer.Messages()
	if !ok {
		return nil, errors.New("messages channel closed")
	}
	s.consumer.MarkOffset(msg, "") // mark message as processed
	return msg.Value, nil
}

// Open initializes the kafka source.
func (s *Source) Open() error {
	// init (custom) config, enable errors and notifications
	sarama.Logger = log.New(ioutil.Discard, "", 0)
	config := cluster.NewConfig()
	config.Config.Version = sarama.V0_10_0_0
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Group.Return.Notifications = true

	var err error
	s.consumer, err = cluster.NewConsumer(s.Hosts, s.Group, s.Topics, config)
	if err != nil {
		return errors.Wrap(err, "getting new consumer")
	}
	s.messages = s.consumer.Messages()

	// consume errors
	go func() {
		for err := range s.consumer.Errors() {
			log.Printf("Error: %s\n", err.Error())
		}
	}()

	// consume notifications
	go func() {
		for ntf := range s.consumer.Notifications() {
			log.Printf("Rebalanced: %+v\n", ntf)
		}
	}()
	return nil
}

// Close closes the underlying kafka consumer.
func (s *Source) Close() error {
	err := s.consumer.Close()
	return errors.Wrap(err, "closing kafka consumer")
}

// ConfluentSource implements rdk.Source using Kafka and the Confluent
// schema registry. Message values are Avro envelopes with topic, log_time,
// schema and data fields.
type ConfluentSource struct {
	Source
	RegistryURL string
	lock        sync.RWMutex
	cache       map[int32]avro.Schema
}

// NewConfluentSource returns a new ConfluentSource.
func NewConfluentSource() *ConfluentSource {
	src := &ConfluentSource{
		cache: make(map[int32]avro.Schema),
	}
	src.Hosts = []string{"localhost:9092"}
	src.Topics = []string{"telemetry"}
	src.Group = "group0"
	return src
}

// Record returns the next value from kafka.
func (s *ConfluentSource) Record() (interface{}, error) {
	val, err := s.next()
	if err != nil {
		return nil, err
	}
	return s.decodeAvroValueWithSchemaRegistry(val)
}

func (s *ConfluentSource) decodeAvroValueWithSchemaRegistry(val []byte) (interface{}, error) {
	if len(val) <= 6 || val[0] != 0 {
		return nil, errors.Errorf("unexpected magic byte or length in avro kafka value, should be 0x00, but got 0x%.8s", val)
	}
	id := int32(binary.BigEndian.Uint32(val[1:]))
	codec, err := s.getCodec(id)
	if err != nil {
		return nil, errors.Wrap(err, "getting avro codec")
	}
	fields, err := avroDecode(codec, val[5:])
	if err != nil {
		return nil, errors.Wrap(err, "decoding avro record")
	}
	return envelopeMessage(fields)
}

// envelopeMessage converts a decoded Avro envelope into a message.
func envelopeMessage(fields map[string]interface{}) (*rdk.Message, error) {
	topic, ok := fields["topic"].(string)
	if !ok {
		return nil, errors.Errorf("envelope topic is %T, expected string", fields["topic"])
	}
	logTime, ok := fields["log_time"].(int64)
	if !ok {
		return nil, errors.Errorf("envelope log_time is %T, expected long", fields["log_time"])
	}
	schemaName, ok := fields["schema"].(string)
	if !ok {
		return nil, errors.Errorf("envelope schema is %T, expected string", fields["schema"])
	}
	data, ok := fields["data"].([]byte)
	if !ok {
		return nil, errors.Errorf("envelope data is %T, expected bytes", fields["data"])
	}
	body, err := rdk.DecodeBody(schemaName, data)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s body on %s", schemaName, topic)
	}
	return &rdk.Message{Topic: topic, LogTime: logTime, Body: body}, nil
}

// EnvelopeSchema is the Avro schema for telemetry envelopes, registered in
// the schema registry by producers.
const EnvelopeSchema = `{
    "namespace": "ai.roboto.telemetry",
    "type": "record",
    "name": "Envelope",
    "fields": [
        {"name": "topic", "type": "string"},
        {"name": "log_time", "type": "long"},
        {"name": "schema", "type": "string"},
        {"name": "data", "type": "bytes"}
    ]
}`

// The Schema type is an object produced by the schema registry.
type Schema struct {
	Schema  string `json:"schema"`  // The actual AVRO schema
	Subject string `json:"subject"` // Subject where the schema is registered for
	Version int    `json:"version"` // Version within this subject
	ID      int    `json:"id"`      // Registry's unique id
}

func (s *ConfluentSource) getCodec(id int32) (rschema avro.Schema, rerr error) {
	s.lock.RLock()
	if codec, ok := s.cache[id]; ok {
		s.lock.RUnlock()
		return codec, nil
	}
	s.lock.RUnlock()
	s.lock.Lock()
	defer s.lock.Unlock()
	r, err := http.Get(fmt.Sprintf("http://%s/schemas/ids/%d", s.RegistryURL, id))
	if err != nil {
		return nil, errors.Wrap(err, "getting schema from registry")
	}
	defer func() {
		rerr = r.Body.Close()
	}()
	if r.StatusCode >= 300 {
		bod, err := ioutil.ReadAll(r.Body)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to get schema, code: %d, no body", r.StatusCode)
		}
		return nil, errors.Errorf("failed to get schema, code: %d, resp: %s", r.StatusCode, bod)
	}
	dec := json.NewDecoder(r.Body)
	schema := &Schema{}
	err = dec.Decode(schema)
	if err != nil {
		return nil, errors.Wrap(err, "decoding schema from registry")
	}
	codec, err := avro.ParseSchema(schema.Schema)
	if err != nil {
		return nil, errors.Wrap(err, "parsing schema")
	}
	s.cache[id] = codec
	return codec, rerr
}

func avroDecode(codec avro.Schema, data []byte) (map[string]interface{}, error) {
	reader := avro.NewGenericDatumReader()
	// SetSchema must be called before calling Read
	reader.SetSchema(codec)

	decoder := avro.NewBinaryDecoder(data)

	decodedRecord := avro.NewGenericRecord(codec)
	err := reader.Read(decodedRecord, decoder)
	if err != nil {
		return nil, errors.Wrap(err, "reading generic datum")
	}

	return decodedRecord.Map(), nil
}
