// Package file reads robot logs from files on disk.
package file

import (
	"io"
	"os"
	"path"
	"path/filepath"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/roboto-ai/rdk"
	"github.com/roboto-ai/rdk/json"
)

// Source is a rdk.Source which reads JSON message envelopes from files on
// disk. MCAP logs are handled by the mcap package on top of RawSource.
type Source struct {
	rawSource *RawSource
	records   chan record
}

// SrcOption is a functional option for the file Source.
type SrcOption func(s *Source) error

// OptSrcPath sets the path name for the file or directory to use for source
// data.
func OptSrcPath(pathname string) SrcOption {
	return func(s *Source) (err error) {
		s.rawSource, err = NewRawSource(pathname)
		if err != nil {
			return errors.Wrap(err, "getting raw source")
		}
		return nil
	}
}

func (s *Source) run() {
	reader, err := s.rawSource.NextReader()
	for ; err == nil; reader, err = s.rawSource.NextReader() {
		src := json.NewSource(reader)
		r := record{}
		for {
			r.data, r.err = src.Record()
			if r.err == io.EOF {
				reader.Close()
				break
			}
			s.records <- r
		}
	}
	if err != io.EOF {
		s.records <- record{err: errors.Wrap(err, "getting next reader")}
	}

	close(s.records)
}

// NewSource gets a new file source which reads messages from a file or all
// files in a directory.
func NewSource(opts ...SrcOption) (*Source, error) {
	s := &Source{
		records: make(chan record, 100),
	}
	for _, opt := range opts {
		err := opt(s)
		if err != nil {
			return nil, err
		}
	}
	if s.rawSource == nil {
		return nil, errors.New("file source needs a path")
	}
	go s.run()
	return s, nil
}

// Record implements rdk.Source returning a *rdk.Message for each envelope
// in the source files.
func (s *Source) Record() (interface{}, error) {
	rec, ok := <-s.records
	if !ok {
		return nil, io.EOF
	}
	return rec.data, rec.err
}

type record struct {
	data interface{}
	err  error
}

// RawSource hands out a reader per file under a path.
type RawSource struct {
	files   []string
	fileIdx *uint64
}

// NewRawSource returns a RawSource over the named file, or over every file
// in the named directory.
func NewRawSource(pathname string) (*RawSource, error) {
	fileIdx := uint64(0)
	s := &RawSource{
		fileIdx: &fileIdx,
	}
	info, err := os.Stat(pathname)
	if err != nil {
		return nil, errors.Wrap(err, "statting path")
	}
	if info.IsDir() {
		entries, err := os.ReadDir(pathname)
		if err != nil {
			return nil, errors.Wrap(err, "reading directory")
		}
		s.files = make([]string, 0, len(entries))
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			s.files = append(s.files, path.Join(pathname, entry.Name()))
		}
	} else {
		s.files = []string{pathname}
	}
	return s, nil
}

type metaFile struct {
	*os.File
}

func (m *metaFile) Name() string {
	return filepath.Base(m.File.Name())
}

// NextReader implements rdk.RawSource.
func (s *RawSource) NextReader() (rdk.NamedReadCloser, error) {
	idx := atomic.AddUint64(s.fileIdx, 1) - 1
	if int(idx) >= len(s.files) {
		return nil, io.EOF
	}

	file, err := os.Open(s.files[idx])
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", s.files[idx])
	}

	mf := metaFile{file}
	return &mf, nil
}
