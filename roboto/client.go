// Package roboto is a client for the Roboto data platform: dataset records
// over its REST API, file content through its S3 storage.
package roboto

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/roboto-ai/rdk"
)

// DefaultBaseURL is the hosted platform endpoint.
const DefaultBaseURL = "https://api.roboto.ai"

// IngestionStatusIngested marks files the platform has fully processed.
// Conversion skips files which aren't there yet.
const IngestionStatusIngested = "ingested"

// Client talks to the platform's REST API. The zero value is not usable;
// call NewClient.
type Client struct {
	BaseURL string
	Token   string
	OrgID   string

	HTTPClient *http.Client
	Logger     rdk.Logger
}

// ClientOption is a functional option for Client.
type ClientOption func(*Client)

// OptBaseURL points the client at a different API endpoint.
func OptBaseURL(u string) ClientOption {
	return func(c *Client) { c.BaseURL = u }
}

// OptToken sets the bearer token. The default comes from ROBOTO_TOKEN.
func OptToken(token string) ClientOption {
	return func(c *Client) { c.Token = token }
}

// OptOrgID sets the organization id sent with each request. The default
// comes from ROBOTO_ORG_ID.
func OptOrgID(org string) ClientOption {
	return func(c *Client) { c.OrgID = org }
}

// OptHTTPClient swaps the underlying HTTP client.
func OptHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.HTTPClient = hc }
}

// OptClientLogger sets the client's logger.
func OptClientLogger(l rdk.Logger) ClientOption {
	return func(c *Client) { c.Logger = l }
}

// NewClient returns a Client for the platform API.
func NewClient(opts ...ClientOption) (*Client, error) {
	c := &Client{
		BaseURL:    DefaultBaseURL,
		Token:      os.Getenv("ROBOTO_TOKEN"),
		OrgID:      os.Getenv("ROBOTO_ORG_ID"),
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		Logger:     rdk.StdLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.Token == "" {
		return nil, errors.New("no platform token; set ROBOTO_TOKEN")
	}
	return c, nil
}

// Dataset is a platform dataset record.
type Dataset struct {
	DatasetID   string                 `json:"dataset_id"`
	Name        string                 `json:"name,omitempty"`
	Description string                 `json:"description,omitempty"`
	Tags        []string               `json:"tags,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	OrgID       string                 `json:"org_id,omitempty"`
	CreatedBy   string                 `json:"created_by,omitempty"`
}

// CreateDatasetRequest is the body of a dataset creation call.
type CreateDatasetRequest struct {
	Name        string                 `json:"name,omitempty"`
	Description string                 `json:"description,omitempty"`
	Tags        []string               `json:"tags,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	// DerivedFrom records provenance: the dataset ids this one was
	// computed from.
	DerivedFrom []string `json:"derived_from,omitempty"`
}

// File is one file of a dataset.
type File struct {
	FileID          string `json:"file_id"`
	RelativePath    string `json:"relative_path"`
	Size            int64  `json:"size"`
	IngestionStatus string `json:"ingestion_status"`
	URI             string `json:"uri"`
}

// CreateDataset creates a new dataset record.
func (c *Client) CreateDataset(req CreateDatasetRequest) (*Dataset, error) {
	var ds Dataset
	if err := c.do(http.MethodPost, "/v1/datasets", req, &ds); err != nil {
		return nil, errors.Wrap(err, "creating dataset")
	}
	return &ds, nil
}

// Dataset fetches a dataset record by id.
func (c *Client) Dataset(id string) (*Dataset, error) {
	var ds Dataset
	if err := c.do(http.MethodGet, "/v1/datasets/"+url.PathEscape(id), nil, &ds); err != nil {
		return nil, errors.Wrapf(err, "getting dataset %s", id)
	}
	return &ds, nil
}

type filePage struct {
	Items         []File `json:"items"`
	NextPageToken string `json:"next_page_token"`
}

// ListFiles returns the file manifest of a dataset, following pagination.
func (c *Client) ListFiles(datasetID string) ([]File, error) {
	var files []File
	pageToken := ""
	for {
		path := "/v1/datasets/" + url.PathEscape(datasetID) + "/files"
		if pageToken != "" {
			path += "?page_token=" + url.QueryEscape(pageToken)
		}
		var page filePage
		if err := c.do(http.MethodGet, path, nil, &page); err != nil {
			return nil, errors.Wrapf(err, "listing files of %s", datasetID)
		}
		files = append(files, page.Items...)
		if page.NextPageToken == "" {
			return files, nil
		}
		pageToken = page.NextPageToken
	}
}

func (c *Client) do(method, path string, body, out interface{}) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "marshaling request")
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.BaseURL+path, rdr)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	if c.OrgID != "" {
		req.Header.Set("X-Roboto-Org-Id", c.OrgID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return errors.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	// the API wraps responses in a data envelope
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "reading response")
	}
	if err := json.Unmarshal(data, &envelope); err == nil && len(envelope.Data) > 0 {
		data = envelope.Data
	}
	return errors.Wrapf(json.Unmarshal(data, out), "decoding %s response", path)
}
