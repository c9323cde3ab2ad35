package blob

import (
	"context"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/kiranshivaraju/driveimport/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
)

func blake(s string) string {
	sum := blake2b.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestObjectKey(t *testing.T) {
	key := ObjectKey("holiday.png")
	assert.True(t, strings.HasSuffix(key, "_holiday.png"))
	assert.Len(t, key, 36+1+len("holiday.png"))
	assert.NotEqual(t, key, ObjectKey("holiday.png"))
}

func TestSanitizeName(t *testing.T) {
	tests := map[string]string{
		"photo.jpg":        "photo.jpg",
		"../../etc/passwd": "passwd",
		`dir\file.png`:     "file.png",
		"":                 "file",
		"a?b#c.png":        "a_b_c.png",
	}
	for in, want := range tests {
		assert.Equal(t, want, sanitizeName(in), in)
	}
}

func TestKeyFromPath(t *testing.T) {
	assert.Equal(t, "abc_x.png", KeyFromPath("https://b.s3.us-east-1.amazonaws.com/abc_x.png"))
	assert.Equal(t, "abc_x.png", KeyFromPath("http://localhost:9000/b/abc_x.png?versionId=1"))
	assert.Equal(t, "abc_x.png", KeyFromPath("/var/data/abc_x.png"))
}

func TestLocalSink_PutAndDelete(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewLocalSink(dir)
	require.NoError(t, err)
	ctx := context.Background()

	obj, err := sink.Put(ctx, "cat.png", "image/png", strings.NewReader("meow"))
	require.NoError(t, err)
	assert.Equal(t, ProviderLocal, obj.Provider)
	assert.Equal(t, int64(4), obj.Size)
	assert.Equal(t, blake("meow"), obj.Checksum)
	assert.Equal(t, filepath.Join(dir, obj.Key), obj.Path)

	data, err := os.ReadFile(obj.Path)
	require.NoError(t, err)
	assert.Equal(t, "meow", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file should be gone")

	require.NoError(t, sink.Delete(ctx, obj.Path))
	_, err = os.Stat(obj.Path)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, sink.Delete(ctx, obj.Path), "deleting twice is fine")
}

func TestLocalSink_DeleteStaysInsideDir(t *testing.T) {
	dir := t.TempDir()
	outside := filepath.Join(t.TempDir(), "keep.txt")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o644))

	sink, err := NewLocalSink(dir)
	require.NoError(t, err)
	require.NoError(t, sink.Delete(context.Background(), outside))

	_, err = os.Stat(outside)
	assert.NoError(t, err)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestLocalSink_PutReadError(t *testing.T) {
	sink, err := NewLocalSink(t.TempDir())
	require.NoError(t, err)

	_, err = sink.Put(context.Background(), "a.png", "image/png", failingReader{})
	assert.ErrorIs(t, err, ErrUpload)
}

func TestLocalSink_PutCanceled(t *testing.T) {
	sink, err := NewLocalSink(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = sink.Put(ctx, "a.png", "image/png", strings.NewReader("data"))
	assert.ErrorIs(t, err, ErrUpload)
}

// fakeS3 records the requests an S3 client makes against a path-style endpoint.
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string]string
	requests []string
	status   int
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)

	if f.status != 0 {
		w.WriteHeader(f.status)
		return
	}
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = string(body)
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		delete(f.objects, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	case http.MethodHead:
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestS3Sink(t *testing.T, fake *fakeS3) *S3Sink {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	sink, err := NewS3Sink(context.Background(), config.AWSConfig{
		Region:          "us-east-1",
		Bucket:          "images",
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		EndpointURL:     srv.URL + "/",
	})
	require.NoError(t, err)
	return sink
}

func TestS3Sink_PutAndDelete(t *testing.T) {
	fake := &fakeS3{objects: map[string]string{}}
	sink := newTestS3Sink(t, fake)
	ctx := context.Background()

	obj, err := sink.Put(ctx, "dog.jpg", "image/jpeg", strings.NewReader("woof woof"))
	require.NoError(t, err)
	assert.Equal(t, ProviderAWS, obj.Provider)
	assert.Equal(t, int64(9), obj.Size)
	assert.Equal(t, blake("woof woof"), obj.Checksum)
	assert.True(t, strings.HasSuffix(obj.Path, "/images/"+obj.Key))
	assert.Equal(t, "woof woof", fake.objects["/images/"+obj.Key])

	require.NoError(t, sink.Delete(ctx, obj.Path))
	assert.Empty(t, fake.objects)
	assert.Contains(t, fake.requests, "DELETE /images/"+obj.Key)
}

func TestS3Sink_PutFailure(t *testing.T) {
	fake := &fakeS3{objects: map[string]string{}, status: http.StatusForbidden}
	sink := newTestS3Sink(t, fake)

	_, err := sink.Put(context.Background(), "dog.jpg", "image/jpeg", strings.NewReader("woof"))
	assert.ErrorIs(t, err, ErrUpload)
}

func TestS3Sink_Ping(t *testing.T) {
	fake := &fakeS3{objects: map[string]string{}}
	sink := newTestS3Sink(t, fake)

	require.NoError(t, sink.Ping(context.Background()))
	assert.Contains(t, fake.requests, "HEAD /images")
}

func TestS3Sink_PublicURL(t *testing.T) {
	sink := &S3Sink{bucket: "images", region: "eu-west-1"}
	assert.Equal(t, "https://images.s3.eu-west-1.amazonaws.com/k_a.png", sink.objectURL("k_a.png"))
}

func TestNewSink(t *testing.T) {
	sink, err := NewSink(context.Background(), config.StorageConfig{Provider: "local", LocalDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, ProviderLocal, sink.Provider())

	_, err = NewSink(context.Background(), config.StorageConfig{Provider: "gcs"})
	assert.Error(t, err)
}
