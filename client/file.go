package client

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"

	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
)

// File is an upload source. Parts are read independently through ReadAt, so
// a retry re-reads exactly the part's range.
type File interface {
	io.ReaderAt
	Name() string
	Size() int64
	ContentType() string
}

// LocalFile is a File backed by an *os.File.
type LocalFile struct {
	f           *os.File
	name        string
	size        int64
	contentType string
}

// OpenFile opens path for upload and sniffs its content type.
func OpenFile(path string) (*LocalFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewError("openFile", err).WithKey(path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.NewError("openFile", err).WithKey(path)
	}
	if info.IsDir() {
		f.Close()
		return nil, errors.NewError("openFile", errors.ErrInvalidInput).
			WithKey(path).
			WithMessage("is a directory")
	}

	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		f.Close()
		return nil, errors.NewError("openFile", err).WithKey(path)
	}

	return &LocalFile{
		f:           f,
		name:        filepath.Base(path),
		size:        info.Size(),
		contentType: mtype.String(),
	}, nil
}

// ReadAt implements io.ReaderAt.
func (l *LocalFile) ReadAt(p []byte, off int64) (int, error) {
	return l.f.ReadAt(p, off)
}

// Name returns the base file name.
func (l *LocalFile) Name() string { return l.name }

// Size returns the file size.
func (l *LocalFile) Size() int64 { return l.size }

// ContentType returns the sniffed media type.
func (l *LocalFile) ContentType() string { return l.contentType }

// Close closes the underlying file.
func (l *LocalFile) Close() error {
	return l.f.Close()
}

// WithContentType overrides the sniffed content type.
func (l *LocalFile) WithContentType(ct string) *LocalFile {
	l.contentType = ct
	return l
}

func (l *LocalFile) String() string {
	return fmt.Sprintf("%s (%d bytes, %s)", l.name, l.size, l.contentType)
}

// MemoryFile is a File held in memory.
type MemoryFile struct {
	*bytes.Reader
	name        string
	contentType string
}

// NewMemoryFile returns a File over data. An empty contentType is sniffed.
func NewMemoryFile(name, contentType string, data []byte) *MemoryFile {
	if contentType == "" {
		contentType = mimetype.Detect(data).String()
	}
	return &MemoryFile{Reader: bytes.NewReader(data), name: name, contentType: contentType}
}

// Name returns the file name.
func (m *MemoryFile) Name() string { return m.name }

// ContentType returns the media type.
func (m *MemoryFile) ContentType() string { return m.contentType }

var (
	_ File = (*LocalFile)(nil)
	_ File = (*MemoryFile)(nil)
)
