package client

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

	"github.com/podforge/api/internal/apperr"
	"github.com/podforge/api/internal/config"
)

// fakeS3 keeps objects by request path, which is /<bucket>/<key> in path style.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.Method {
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = data
		f.types[r.URL.Path] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"etag"`)
	case http.MethodGet:
		data, ok := f.objects[r.URL.Path]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			return
		}
		_, _ = w.Write(data)
	case http.MethodDelete:
		delete(f.objects, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}
}

func newTestR2(t *testing.T, publicURL string) (*R2Storage, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: make(map[string][]byte), types: make(map[string]string)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	s, err := NewR2Storage(&config.R2Config{
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		BucketName:      "podforge",
		PublicURL:       publicURL,
		Endpoint:        srv.URL,
	})
	require.NoError(t, err)
	return s, fake
}

func TestR2Storage_RoundTrip(t *testing.T) {
	s, fake := newTestR2(t, "https://cdn.example.com/")
	ctx := context.Background()
	key := "productions/p1/segments/seg_0001.mp3"

	// a plain reader is buffered before signing
	body := io.MultiReader(strings.NewReader("ID3"), strings.NewReader("audio"))
	url, err := s.Upload(ctx, key, body, "audio/mpeg")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/"+key, url)
	assert.Equal(t, []byte("ID3audio"), fake.objects["/podforge/"+key])
	assert.Equal(t, "audio/mpeg", fake.types["/podforge/"+key])

	rc, err := s.Download(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "ID3audio", string(data))

	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Download(ctx, key)
	assert.True(t, apperr.IsNotFound(err))
}

func TestR2Storage_RejectsEscapingKeys(t *testing.T) {
	s, _ := newTestR2(t, "")
	_, err := s.Upload(context.Background(), "productions/../research/r1/findings.json", strings.NewReader("x"), "application/json")
	assert.True(t, apperr.IsValidation(err))

	_, err = s.Download(context.Background(), "")
	assert.True(t, apperr.IsValidation(err))
}

func TestR2Storage_URLs(t *testing.T) {
	s, _ := newTestR2(t, "")
	assert.Equal(t, s.endpoint+"/podforge/research/r1/summary.md", s.GetPublicURL("research/r1/summary.md"))

	signed, err := s.GetSignedURL(context.Background(), "productions/p1/export.mp3", 0)
	require.NoError(t, err)
	assert.Contains(t, signed, "/podforge/productions/p1/export.mp3")
	assert.Contains(t, signed, "X-Amz-Expires=900")
}

func TestNewR2Storage_IncompleteConfig(t *testing.T) {
	_, err := NewR2Storage(&config.R2Config{AccessKeyID: "k", SecretAccessKey: "s"})
	assert.Error(t, err)

	_, err = NewR2Storage(&config.R2Config{AccessKeyID: "k", SecretAccessKey: "s", BucketName: "b"})
	assert.Error(t, err)
}
