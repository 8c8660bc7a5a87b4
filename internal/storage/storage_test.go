package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 accepts path-style object uploads.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = body
		f.types[key] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestS3Storage(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	store, err := NewS3Storage(S3Config{
		Bucket:    "archive",
		Region:    "us-east-1",
		Endpoint:  srv.URL,
		AccessKey: "key",
		SecretKey: "secret",
	})
	require.NoError(t, err)

	ctx := context.Background()
	key := "activity/1/100.jsonl"
	require.NoError(t, store.Put(ctx, key, []byte("{}\n"), "application/x-ndjson"))

	fake.mu.Lock()
	assert.Equal(t, []byte("{}\n"), fake.objects["archive/"+key])
	assert.Equal(t, "application/x-ndjson", fake.types["archive/"+key])
	fake.mu.Unlock()

	require.NoError(t, store.PutStream(ctx, "activity/1/200.jsonl", strings.NewReader("{\"id\":1}\n"), "application/x-ndjson"))
	fake.mu.Lock()
	assert.Equal(t, "{\"id\":1}\n", string(fake.objects["archive/activity/1/200.jsonl"]))
	fake.mu.Unlock()
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.PutStream(ctx, "b", strings.NewReader("two"), "text/plain"))
	require.NoError(t, m.Put(ctx, "a", []byte("one"), "text/plain"))
	assert.Equal(t, []string{"a", "b"}, m.Keys())

	got, err := m.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))

	_, err = m.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
