package roboto

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/roboto-ai/rdk"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c, err := NewClient(
		OptBaseURL(server.URL),
		OptToken("test-token"),
		OptOrgID("org-123"),
		OptClientLogger(rdk.NopLogger{}),
	)
	if err != nil {
		t.Fatalf("creating client: %v", err)
	}
	return c, server
}

func TestCreateDataset(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/datasets" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Fatalf("unexpected auth header: %q", got)
		}
		if got := r.Header.Get("X-Roboto-Org-Id"); got != "org-123" {
			t.Fatalf("unexpected org header: %q", got)
		}
		var req CreateDatasetRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if len(req.Tags) != 1 || req.Tags[0] != "derivative" {
			t.Fatalf("unexpected tags: %v", req.Tags)
		}
		if len(req.DerivedFrom) != 1 || req.DerivedFrom[0] != "ds_src" {
			t.Fatalf("unexpected provenance: %v", req.DerivedFrom)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": Dataset{DatasetID: "ds_new", Description: req.Description, Tags: req.Tags},
		})
	}))

	ds, err := c.CreateDataset(CreateDatasetRequest{
		Description: "enriched",
		Tags:        []string{"derivative"},
		DerivedFrom: []string{"ds_src"},
	})
	if err != nil {
		t.Fatalf("creating dataset: %v", err)
	}
	if ds.DatasetID != "ds_new" || ds.Description != "enriched" {
		t.Fatalf("unexpected dataset: %+v", ds)
	}
}

func TestDatasetByID(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/datasets/ds_1" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		// responses without the data envelope also decode
		json.NewEncoder(w).Encode(Dataset{DatasetID: "ds_1", Tags: []string{"robot"}})
	}))
	ds, err := c.Dataset("ds_1")
	if err != nil {
		t.Fatalf("getting dataset: %v", err)
	}
	if ds.DatasetID != "ds_1" || len(ds.Tags) != 1 {
		t.Fatalf("unexpected dataset: %+v", ds)
	}
}

func TestListFilesPaginated(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/datasets/ds_1/files" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		page := filePage{}
		if r.URL.Query().Get("page_token") == "" {
			page.Items = []File{
				{FileID: "f1", RelativePath: "logs/a.mcap", IngestionStatus: IngestionStatusIngested},
				{FileID: "f2", RelativePath: "logs/b.mcap", IngestionStatus: "pending"},
			}
			page.NextPageToken = "tok"
		} else {
			page.Items = []File{
				{FileID: "f3", RelativePath: "notes.txt", IngestionStatus: IngestionStatusIngested},
			}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"data": page})
	}))

	files, err := c.ListFiles("ds_1")
	if err != nil {
		t.Fatalf("listing files: %v", err)
	}
	if len(files) != 3 || files[2].FileID != "f3" {
		t.Fatalf("unexpected files: %+v", files)
	}
}

func TestErrorStatus(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, fmt.Sprintf("no dataset at %s", r.URL.Path), http.StatusNotFound)
	}))
	if _, err := c.Dataset("nope"); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestNewClientNeedsToken(t *testing.T) {
	t.Setenv("ROBOTO_TOKEN", "")
	if _, err := NewClient(); err == nil {
		t.Fatal("expected error without a token")
	}
}

func TestMatchesAny(t *testing.T) {
	tests := []struct {
		path     string
		patterns []string
		exp      bool
	}{
		{"logs/a.mcap", nil, true},
		{"logs/a.mcap", []string{"logs/*.mcap"}, true},
		{"logs/a.mcap", []string{"logs"}, true},
		{"logs/a.mcap", []string{"other"}, false},
		{"notes.txt", []string{"*.txt"}, true},
		{"notes.txt", []string{"logs/*.mcap"}, false},
	}
	for _, test := range tests {
		if got := matchesAny(test.path, test.patterns); got != test.exp {
			t.Fatalf("matchesAny(%q, %v): expected %v, got %v", test.path, test.patterns, test.exp, got)
		}
	}
}

func TestSplitURI(t *testing.T) {
	bucket, key, err := splitURI("s3://my-bucket/org/ds/logs/a.mcap")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bucket != "my-bucket" || key != "org/ds/logs/a.mcap" {
		t.Fatalf("unexpected split: %q %q", bucket, key)
	}
	for _, bad := range []string{"http://x/y", "s3://", "s3://bucket", "s3://bucket/"} {
		if _, _, err := splitURI(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
