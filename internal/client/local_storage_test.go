package client

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podforge/api/internal/apperr"
)

func TestLocalStorage_RoundTrip(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir(), "http://localhost:8000/files")
	require.NoError(t, err)
	ctx := context.Background()

	url, err := s.Upload(ctx, "productions/p1/segments/0001.mp3", strings.NewReader("audio"), "audio/mpeg")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000/files/productions/p1/segments/0001.mp3", url)

	rc, err := s.Download(ctx, "productions/p1/segments/0001.mp3")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "audio", string(data))

	require.NoError(t, s.Delete(ctx, "productions/p1/segments/0001.mp3"))
	_, err = s.Download(ctx, "productions/p1/segments/0001.mp3")
	assert.True(t, apperr.IsNotFound(err))
}

func TestLocalStorage_KeysStayInsideRoot(t *testing.T) {
	root := t.TempDir()
	s, err := NewLocalStorage(root, "")
	require.NoError(t, err)

	_, err = s.Upload(context.Background(), "../../escape.txt", strings.NewReader("x"), "text/plain")
	require.NoError(t, err)

	rc, err := s.Download(context.Background(), "escape.txt")
	require.NoError(t, err)
	rc.Close()
}

func TestLocalStorage_DeleteMissingIsNoop(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir(), "")
	require.NoError(t, err)
	assert.NoError(t, s.Delete(context.Background(), "nope.mp3"))
}
