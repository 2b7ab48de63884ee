// Package mcap reads and writes robot sensor logs in the MCAP container
// format.
package mcap

import (
	"io"

	foxmcap "github.com/foxglove/mcap/go/mcap"
	"github.com/pkg/errors"

	"github.com/roboto-ai/rdk"
	"github.com/roboto-ai/rdk/file"
)

// Source is a rdk.Source which reads messages out of one or more MCAP
// files, in per-file log order. Message payloads are JSON-encoded per the
// channel's schema name.
type Source struct {
	rawSource rdk.RawSource
	topics    map[string]bool
	records   chan record
	bufsize   int
}

type record struct {
	data interface{}
	err  error
}

// SrcOption is a functional option for the mcap Source.
type SrcOption func(s *Source) error

// OptSrcPath reads the named MCAP file, or every file in the named
// directory.
func OptSrcPath(pathname string) SrcOption {
	return func(s *Source) (err error) {
		s.rawSource, err = file.NewRawSource(pathname)
		if err != nil {
			return errors.Wrap(err, "getting raw source")
		}
		return nil
	}
}

// OptSrcRaw reads MCAP data from an arbitrary raw source, e.g. objects
// streamed from S3.
func OptSrcRaw(rs rdk.RawSource) SrcOption {
	return func(s *Source) error {
		s.rawSource = rs
		return nil
	}
}

// OptSrcTopics restricts the source to the given topics. With no topic
// option every channel is read.
func OptSrcTopics(topics []string) SrcOption {
	return func(s *Source) error {
		s.topics = make(map[string]bool, len(topics))
		for _, topic := range topics {
			s.topics[topic] = true
		}
		return nil
	}
}

// OptSrcBufSize sets the number of messages to buffer while waiting for
// Record to be called.
func OptSrcBufSize(bufsize int) SrcOption {
	return func(s *Source) error {
		if bufsize <= 0 {
			return errors.Errorf("buffer size must be positive, got %d", bufsize)
		}
		s.bufsize = bufsize
		return nil
	}
}

// NewSource gets a new MCAP source with the options applied.
func NewSource(opts ...SrcOption) (*Source, error) {
	s := &Source{bufsize: 100}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.rawSource == nil {
		return nil, errors.New("mcap source needs a path or raw source")
	}
	s.records = make(chan record, s.bufsize)
	go s.run()
	return s, nil
}

func (s *Source) run() {
	reader, err := s.rawSource.NextReader()
	for ; err == nil; reader, err = s.rawSource.NextReader() {
		if rerr := s.readFile(reader); rerr != nil {
			s.records <- record{err: errors.Wrapf(rerr, "reading %s", reader.Name())}
		}
		reader.Close()
	}
	if err != io.EOF {
		s.records <- record{err: errors.Wrap(err, "getting next reader")}
	}
	close(s.records)
}

func (s *Source) readFile(r io.Reader) error {
	reader, err := foxmcap.NewReader(r)
	if err != nil {
		return errors.Wrap(err, "opening mcap reader")
	}
	defer reader.Close()
	it, err := reader.Messages(foxmcap.UsingIndex(false))
	if err != nil {
		return errors.Wrap(err, "getting message iterator")
	}
	for {
		schema, channel, message, err := it.Next(nil)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "reading message")
		}
		if s.topics != nil && !s.topics[channel.Topic] {
			continue
		}
		schemaName := ""
		if schema != nil {
			schemaName = schema.Name
		}
		body, err := rdk.DecodeBody(schemaName, message.Data)
		if err != nil {
			s.records <- record{err: errors.Wrapf(err, "decoding %s message on %s", schemaName, channel.Topic)}
			continue
		}
		s.records <- record{data: &rdk.Message{
			Topic:   channel.Topic,
			LogTime: int64(message.LogTime),
			Body:    body,
		}}
	}
}

// Record implements rdk.Source returning a *rdk.Message per MCAP message.
func (s *Source) Record() (interface{}, error) {
	rec, ok := <-s.records
	if !ok {
		return nil, io.EOF
	}
	return rec.data, rec.err
}
