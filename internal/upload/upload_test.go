package upload

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"edgectl/internal/fault"
)

func writeArchive(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bundle.tar.zst")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write archive: %v", err)
	}
	return path
}

func TestUploadHTTPPut(t *testing.T) {
	var gotMethod, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	uploader := New(Config{HTTPClient: server.Client()})
	ok, err := uploader.Upload(context.Background(), server.URL+"/one-time", writeArchive(t, "archive-bytes"), "abc")
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	if !ok {
		t.Fatalf("Upload() = false, want true")
	}
	if gotMethod != http.MethodPut {
		t.Fatalf("method = %s, want PUT", gotMethod)
	}
	if gotBody != "archive-bytes" {
		t.Fatalf("body = %q, want archive bytes", gotBody)
	}
}

func TestUploadHTTPFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, "signature expired")
	}))
	defer server.Close()

	uploader := New(Config{HTTPClient: server.Client()})
	ok, err := uploader.Upload(context.Background(), server.URL, writeArchive(t, "x"), "abc")
	if ok {
		t.Fatalf("Upload() = true on failure response")
	}
	if !fault.Is(err, fault.API) {
		t.Fatalf("error kind = %v, want api", fault.KindOf(err))
	}
	if !strings.Contains(err.Error(), "signature expired") {
		t.Fatalf("error %q missing response body", err)
	}
}

func TestUploadMissingArchive(t *testing.T) {
	uploader := New(Config{})
	ok, err := uploader.Upload(context.Background(), "https://uploads.example.com",
		filepath.Join(t.TempDir(), "missing.tar.zst"), "abc")
	if ok {
		t.Fatalf("Upload() = true for missing archive")
	}
	if !fault.Is(err, fault.IO) {
		t.Fatalf("error kind = %v, want io", fault.KindOf(err))
	}
}

type fakePutter struct {
	bucket, key, sha string
	size             int64
	calls            int
}

func (f *fakePutter) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, sha256Hex string) error {
	f.calls++
	f.bucket, f.key, f.sha, f.size = bucket, key, sha256Hex, size
	_, err := io.Copy(io.Discard, r)
	return err
}

func TestUploadS3Destination(t *testing.T) {
	putter := &fakePutter{}
	uploader := New(Config{S3: putter})

	ok, err := uploader.Upload(context.Background(), "s3://bundles/stores/abc123/upload.tar.zst",
		writeArchive(t, "archive-bytes"), "deadbeef")
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	if !ok || putter.calls != 1 {
		t.Fatalf("S3 put not invoked exactly once (ok=%v calls=%d)", ok, putter.calls)
	}
	if putter.bucket != "bundles" || putter.key != "stores/abc123/upload.tar.zst" {
		t.Fatalf("put destination = %s/%s", putter.bucket, putter.key)
	}
	if putter.sha != "deadbeef" || putter.size != int64(len("archive-bytes")) {
		t.Fatalf("put metadata sha=%s size=%d", putter.sha, putter.size)
	}
}

func TestParseS3URL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		bucket  string
		key     string
		wantErr bool
	}{
		{name: "valid", url: "s3://b/k/nested", bucket: "b", key: "k/nested"},
		{name: "missing key", url: "s3://bucket", wantErr: true},
		{name: "empty bucket", url: "s3:///key", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, key, err := parseS3URL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseS3URL() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if bucket != tt.bucket || key != tt.key {
				t.Fatalf("parseS3URL() = %s/%s, want %s/%s", bucket, key, tt.bucket, tt.key)
			}
		})
	}
}
