// Package json reads robot telemetry from streams of JSON message
// envelopes, one object per message.
package json

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"

	"github.com/roboto-ai/rdk"
)

// Envelope is the JSON wire form of one log message: the topic it was
// published on, its log time in nanoseconds, the schema name of the payload
// and the payload itself.
type Envelope struct {
	Topic   string          `json:"topic"`
	LogTime int64           `json:"log_time"`
	Schema  string          `json:"schema"`
	Data    json.RawMessage `json:"data"`
}

// Decode turns one serialized envelope into a message.
func Decode(data []byte) (*rdk.Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(err, "unmarshaling envelope")
	}
	return FromEnvelope(&env)
}

// FromEnvelope decodes an already-unmarshaled envelope's payload.
func FromEnvelope(env *Envelope) (*rdk.Message, error) {
	body, err := rdk.DecodeBody(env.Schema, env.Data)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s body on %s", env.Schema, env.Topic)
	}
	return &rdk.Message{Topic: env.Topic, LogTime: env.LogTime, Body: body}, nil
}

// Encode serializes a message as an envelope.
func Encode(msg *rdk.Message) ([]byte, error) {
	data, err := json.Marshal(msg.Body)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling body")
	}
	env := Envelope{
		Topic:   msg.Topic,
		LogTime: msg.LogTime,
		Schema:  rdk.SchemaFor(msg.Body),
		Data:    data,
	}
	return json.Marshal(env)
}

// Source is a rdk.Source decoding envelopes from a reader.
type Source struct {
	dec *json.Decoder
}

// NewSource gets a new json source which will decode from the given reader.
func NewSource(r io.Reader) *Source {
	return &Source{
		dec: json.NewDecoder(r),
	}
}

// Record implements rdk.Source. It returns the next message that can be
// decoded from the reader. It is guaranteed to return a *rdk.Message if
// there is no error.
func (s *Source) Record() (rec interface{}, err error) {
	var env Envelope
	err = s.dec.Decode(&env)
	if err != nil {
		return nil, err
	}
	return FromEnvelope(&env)
}

type rawSourceSource struct {
	rs rdk.RawSource

	s *Source
}

// NewSourceFromRawSource chains the readers of a raw source into one stream
// of messages.
func NewSourceFromRawSource(rs rdk.RawSource) rdk.Source {
	return &rawSourceSource{rs: rs}
}

func (r *rawSourceSource) Record() (rec interface{}, err error) {
	if r.s == nil {
		reader, err := r.rs.NextReader()
		if err != nil && err != io.EOF {
			return nil, errors.Wrap(err, "getting next reader")
		} else if err == io.EOF {
			return nil, err
		}
		r.s = NewSource(reader)
	}
	rec, err = r.s.Record()
	if err == io.EOF {
		r.s = nil
		return r.Record()
	} else if err != nil {
		return rec, err
	}
	return rec, err
}
