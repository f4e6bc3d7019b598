package report

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 answers the handful of path-style calls the uploader makes
type fakeS3 struct {
	mu       sync.Mutex
	buckets  map[string]bool
	objects  map[string][]byte
	headers  map[string]http.Header
	requests []string
}

func newFakeS3(buckets ...string) *fakeS3 {
	f := &fakeS3{buckets: map[string]bool{}, objects: map[string][]byte{}, headers: map[string]http.Header{}}
	for _, b := range buckets {
		f.buckets[b] = true
	}
	return f
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)

	path := r.URL.Path[1:]
	bucket, key := path, ""
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			bucket, key = path[:i], path[i+1:]
			break
		}
	}

	switch {
	case r.Method == http.MethodHead && key == "":
		if !f.buckets[bucket] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut && key == "":
		f.buckets[bucket] = true
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut:
		if !f.buckets[bucket] {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<Error><Code>NoSuchBucket</Code><Message>missing</Message></Error>`)
			return
		}
		body, _ := io.ReadAll(r.Body)
		f.objects[bucket+"/"+key] = body
		f.headers[bucket+"/"+key] = r.Header.Clone()
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func testS3Config(endpoint string) S3Config {
	return S3Config{
		Bucket:       "analytics",
		Region:       "us-east-1",
		Endpoint:     endpoint,
		AccessKey:    "test",
		SecretKey:    "test",
		UsePathStyle: true,
	}
}

func TestS3Uploader_Put(t *testing.T) {
	fake := newFakeS3("analytics")
	server := httptest.NewServer(fake)
	defer server.Close()

	ctx := context.Background()
	u, err := NewS3Uploader(ctx, testS3Config(server.URL))
	require.NoError(t, err)

	require.NoError(t, u.Put(ctx, "reports/2024/06/15/snapshot.json", []byte(`{"ok":true}`), "application/json"))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, []byte(`{"ok":true}`), fake.objects["analytics/reports/2024/06/15/snapshot.json"])
	hdr := fake.headers["analytics/reports/2024/06/15/snapshot.json"]
	assert.Equal(t, "application/json", hdr.Get("Content-Type"))
	sum := sha256.Sum256([]byte(`{"ok":true}`))
	assert.Equal(t, hex.EncodeToString(sum[:]), hdr.Get("X-Amz-Meta-Checksum-Sha256"))
}

func TestS3Uploader_CreatesMissingBucket(t *testing.T) {
	fake := newFakeS3()
	server := httptest.NewServer(fake)
	defer server.Close()

	cfg := testS3Config(server.URL)
	cfg.CreateBucket = true
	u, err := NewS3Uploader(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, u.HealthCheck(context.Background()))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.True(t, fake.buckets["analytics"])
}

func TestS3Uploader_Errors(t *testing.T) {
	_, err := NewS3Uploader(context.Background(), S3Config{})
	assert.Error(t, err)

	fake := newFakeS3()
	server := httptest.NewServer(fake)
	defer server.Close()

	u, err := NewS3Uploader(context.Background(), testS3Config(server.URL))
	require.NoError(t, err)
	assert.Error(t, u.HealthCheck(context.Background()))
	assert.ErrorContains(t, u.Put(context.Background(), "k", []byte("x"), "text/plain"), "failed to upload report to s3")
}
