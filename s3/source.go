// Package s3 streams robot logs straight out of S3 buckets.
package s3

import (
	"io"
	"sync/atomic"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/pkg/errors"

	"github.com/roboto-ai/rdk"
)

// RawSource is a rdk.RawSource which hands out a reader per object under a
// bucket/prefix. Feed it to mcap.OptSrcRaw to convert logs without pulling
// them to disk first.
type RawSource struct {
	bucket string
	prefix string
	region string

	s3      *s3.S3
	sess    *session.Session
	objects []*s3.Object
	objIdx  *uint64
}

// NewRawSource lists the objects under bucket/prefix and returns a RawSource
// over them.
func NewRawSource(region, bucket, prefix string) (*RawSource, error) {
	idx := uint64(0)
	rs := &RawSource{
		region: region,
		bucket: bucket,
		prefix: prefix,

		objIdx: &idx,
	}
	var err error
	rs.sess, err = session.NewSession(&aws.Config{
		Region: aws.String(rs.region)},
	)
	if err != nil {
		return nil, errors.Wrap(err, "getting aws session")
	}
	rs.s3 = s3.New(rs.sess)
	resp, err := rs.s3.ListObjects(&s3.ListObjectsInput{Bucket: aws.String(rs.bucket), Prefix: aws.String(rs.prefix)})
	if err != nil {
		return nil, errors.Wrap(err, "listing objects")
	}
	rs.objects = resp.Contents

	return rs, nil
}

type objReader struct {
	name string
	body io.ReadCloser
}

func (o *objReader) Read(buf []byte) (n int, err error) {
	return o.body.Read(buf)
}

func (o *objReader) Close() error {
	return o.body.Close()
}

func (o *objReader) Name() string {
	return o.name
}

// NextReader implements rdk.RawSource, fetching the next object.
func (rs *RawSource) NextReader() (rdk.NamedReadCloser, error) {
	idx := atomic.AddUint64(rs.objIdx, 1) - 1
	if int(idx) >= len(rs.objects) {
		return nil, io.EOF
	}
	obj := rs.objects[idx]

	result, err := rs.s3.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(rs.bucket),
		Key:    aws.String(*obj.Key),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "fetching %v", *obj.Key)
	}
	return &objReader{name: *obj.Key, body: result.Body}, nil
}
