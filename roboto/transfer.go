package roboto

import (
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/pkg/errors"
)

// storageCredentials are scoped S3 credentials handed out by the platform
// for one dataset.
type storageCredentials struct {
	Bucket          string `json:"bucket"`
	Prefix          string `json:"prefix"`
	Region          string `json:"region"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	SessionToken    string `json:"session_token"`
}

func (c *Client) credentials(datasetID string) (*storageCredentials, error) {
	var creds storageCredentials
	err := c.do(http.MethodGet, "/v1/datasets/"+url.PathEscape(datasetID)+"/credentials", nil, &creds)
	if err != nil {
		return nil, errors.Wrapf(err, "getting storage credentials for %s", datasetID)
	}
	return &creds, nil
}

func (c *storageCredentials) awsSession() (*session.Session, error) {
	sess, err := session.NewSession(&aws.Config{
		Region:      aws.String(c.Region),
		Credentials: credentials.NewStaticCredentials(c.AccessKeyID, c.SecretAccessKey, c.SessionToken),
	})
	return sess, errors.Wrap(err, "getting aws session")
}

// matchesAny reports whether the relative path matches one of the include
// patterns, either as a glob or as a path prefix. No patterns means
// everything matches.
func matchesAny(relPath string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, pattern := range patterns {
		if ok, _ := path.Match(pattern, relPath); ok {
			return true
		}
		if strings.HasPrefix(relPath, strings.TrimSuffix(pattern, "/")+"/") || relPath == pattern {
			return true
		}
	}
	return false
}

// DownloadFiles pulls a dataset's files into outDir, keeping their relative
// paths. Include patterns (globs or path prefixes) filter what is
// downloaded; nil downloads everything. It returns the downloaded files.
func (c *Client) DownloadFiles(datasetID, outDir string, include []string) ([]File, error) {
	files, err := c.ListFiles(datasetID)
	if err != nil {
		return nil, err
	}
	creds, err := c.credentials(datasetID)
	if err != nil {
		return nil, err
	}
	sess, err := creds.awsSession()
	if err != nil {
		return nil, err
	}
	downloader := s3manager.NewDownloader(sess)

	var downloaded []File
	for _, f := range files {
		if !matchesAny(f.RelativePath, include) {
			continue
		}
		bucket, key, err := splitURI(f.URI)
		if err != nil {
			return nil, errors.Wrapf(err, "file %s", f.RelativePath)
		}
		dest := filepath.Join(outDir, filepath.FromSlash(f.RelativePath))
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return nil, errors.Wrap(err, "making output dir")
		}
		out, err := os.Create(dest)
		if err != nil {
			return nil, errors.Wrapf(err, "creating %s", dest)
		}
		_, err = downloader.Download(out, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		cerr := out.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "downloading %s", f.RelativePath)
		}
		if cerr != nil {
			return nil, errors.Wrapf(cerr, "closing %s", dest)
		}
		c.Logger.Debugf("downloaded %s (%d bytes)", f.RelativePath, f.Size)
		downloaded = append(downloaded, f)
	}
	return downloaded, nil
}

// UploadDirectory pushes every file under dir into the dataset's storage,
// keyed by path relative to dir.
func (c *Client) UploadDirectory(datasetID, dir string) (int, error) {
	creds, err := c.credentials(datasetID)
	if err != nil {
		return 0, err
	}
	sess, err := creds.awsSession()
	if err != nil {
		return 0, err
	}
	uploader := s3manager.NewUploader(sess)

	count := 0
	err = filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return errors.Wrap(err, "relativizing path")
		}
		f, err := os.Open(p)
		if err != nil {
			return errors.Wrapf(err, "opening %s", p)
		}
		defer f.Close()
		key := path.Join(creds.Prefix, filepath.ToSlash(rel))
		_, err = uploader.Upload(&s3manager.UploadInput{
			Bucket: aws.String(creds.Bucket),
			Key:    aws.String(key),
			Body:   f,
		})
		if err != nil {
			return errors.Wrapf(err, "uploading %s", rel)
		}
		c.Logger.Debugf("uploaded %s", rel)
		count++
		return nil
	})
	return count, errors.Wrap(err, "walking upload dir")
}

// splitURI splits an s3://bucket/key URI.
func splitURI(uri string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(uri, "s3://")
	if trimmed == uri {
		return "", "", errors.Errorf("unexpected storage uri %q", uri)
	}
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.Errorf("unexpected storage uri %q", uri)
	}
	return parts[0], parts[1], nil
}
