package rdk

import "io"

// Source is the interface for getting recorded robot messages one at a time.
// Implementations of Source should be thread safe, return *rdk.Message
// values, and return io.EOF once the underlying recording is exhausted.
type Source interface {
	Record() (interface{}, error)
}

// NamedReadCloser is an io.ReadCloser which also knows the name of the thing
// being read (a file path, S3 object key, etc).
type NamedReadCloser interface {
	io.ReadCloser
	Name() string
}

// RawSource is the interface for getting raw recording streams (e.g. whole
// MCAP files) one at a time. NextReader returns io.EOF when there are no
// more streams.
type RawSource interface {
	NextReader() (NamedReadCloser, error)
}
