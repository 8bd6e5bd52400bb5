package client

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
)

func TestOpenFile(t *testing.T) {
	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)
	path := filepath.Join(t.TempDir(), "frame.png")
	require.NoError(t, os.WriteFile(path, png, 0o600))

	f, err := OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, "frame.png", f.Name())
	assert.Equal(t, int64(len(png)), f.Size())
	assert.Equal(t, "image/png", f.ContentType())

	// Sniffing must not disturb positional reads.
	buf := make([]byte, 4)
	_, err = f.ReadAt(buf, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("PNG\r"), buf)

	assert.Equal(t, "video/mp4", f.WithContentType("video/mp4").ContentType())
}

func TestOpenFile_Errors(t *testing.T) {
	_, err := OpenFile(filepath.Join(t.TempDir(), "missing.mp4"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = OpenFile(t.TempDir())
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestMemoryFile(t *testing.T) {
	f := NewMemoryFile("notes.txt", "", []byte("hello world"))
	assert.Contains(t, f.ContentType(), "text/plain")
	assert.Equal(t, int64(11), f.Size())

	section := io.NewSectionReader(f, 6, 5)
	data, err := io.ReadAll(section)
	require.NoError(t, err)
	assert.Equal(t, "world", string(data))

	assert.Equal(t, "video/mp4", NewMemoryFile("a.mp4", "video/mp4", nil).ContentType())
}
