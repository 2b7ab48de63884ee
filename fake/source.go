package fake

import (
	"io"

	"github.com/roboto-ai/rdk"
)

// Source streams the messages of one or more generated episodes,
// implementing rdk.Source.
type Source struct {
	gen      *Generator
	episodes int
	buf      []*rdk.Message
	i        int
}

// NewSource returns a Source streaming the given number of episodes from a
// seeded generator.
func NewSource(seed int64, episodes int) *Source {
	return &Source{gen: NewGenerator(seed), episodes: episodes}
}

// Record implements rdk.Source.
func (s *Source) Record() (interface{}, error) {
	for s.i >= len(s.buf) {
		if s.episodes == 0 {
			return nil, io.EOF
		}
		s.episodes--
		s.buf = s.gen.Episode()
		s.i = 0
	}
	msg := s.buf[s.i]
	s.i++
	return msg, nil
}
