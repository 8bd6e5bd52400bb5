package coordinator

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/objectstore"
	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/testutil"
	"github.com/input-output-hk/catalyst-forge-libs/upload/sigv4"
	"github.com/input-output-hk/catalyst-forge-libs/upload/store"
	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

const (
	owner = "owner-1"
	mib   = int64(1 << 20)
)

var testCreds = sigv4.Credentials{
	AccessKeyID:     "R2ACCESSKEY",
	SecretAccessKey: "r2-secret",
	Region:          "auto",
	Service:         "s3",
}

// mockObjectStore is a function-field ObjectStore that records aborts.
type mockObjectStore struct {
	CreateFunc   func(ctx context.Context, key, contentType string) (string, error)
	CompleteFunc func(ctx context.Context, key, uploadID string, parts []uploadtypes.Part) (string, error)
	AbortFunc    func(ctx context.Context, key, uploadID string) error

	mu        sync.Mutex
	creates   int
	aborts    []string
	completes [][]uploadtypes.Part
}

func (m *mockObjectStore) CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error) {
	m.mu.Lock()
	m.creates++
	n := m.creates
	m.mu.Unlock()
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, key, contentType)
	}
	return fmt.Sprintf("upload-%d", n), nil
}

func (m *mockObjectStore) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []uploadtypes.Part) (string, error) {
	m.mu.Lock()
	m.completes = append(m.completes, parts)
	m.mu.Unlock()
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, key, uploadID, parts)
	}
	return `"etag-final"`, nil
}

func (m *mockObjectStore) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	m.mu.Lock()
	m.aborts = append(m.aborts, uploadID)
	m.mu.Unlock()
	if m.AbortFunc != nil {
		return m.AbortFunc(ctx, key, uploadID)
	}
	return nil
}

func (m *mockObjectStore) PresignUploadPart(key, uploadID string, partNumber int, at time.Time, expires time.Duration) (string, error) {
	return fmt.Sprintf("https://store.example.com/%s?uploadId=%s&partNumber=%d&t=%d&x=%d",
		key, uploadID, partNumber, at.Unix(), int(expires.Seconds())), nil
}

func (m *mockObjectStore) PublicURL(key string) string {
	return "https://cdn.example.com/" + key
}

func (m *mockObjectStore) createCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creates
}

func (m *mockObjectStore) abortCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.aborts)
}

func (m *mockObjectStore) completeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.completes)
}

// failingCreateStore is a MemoryStore whose Create always fails.
type failingCreateStore struct {
	*store.MemoryStore
	err error
}

func (f failingCreateStore) Create(context.Context, *uploadtypes.Session) error {
	return f.err
}

func newMockCoordinator(t *testing.T, opts ...Option) (*Coordinator, *mockObjectStore, *store.MemoryStore) {
	t.Helper()
	objects := &mockObjectStore{}
	sessions := store.NewMemoryStore()
	c, err := New(sessions, objects, opts...)
	require.NoError(t, err)
	return c, objects, sessions
}

func newFakeCoordinator(t *testing.T, opts ...Option) (*Coordinator, *testutil.FakeStore, *store.MemoryStore) {
	t.Helper()
	fake := testutil.NewFakeStore(t, "media", testCreds)
	signer, err := sigv4.New(testCreds)
	require.NoError(t, err)
	objects, err := objectstore.New(objectstore.Config{
		Endpoint:      fake.URL(),
		Bucket:        "media",
		PublicBaseURL: "https://cdn.example.com",
	}, signer, objectstore.WithHTTPClient(fake.Client()))
	require.NoError(t, err)

	sessions := store.NewMemoryStore()
	c, err := New(sessions, objects, opts...)
	require.NoError(t, err)
	return c, fake, sessions
}

func initVideo(t *testing.T, c *Coordinator, size int64) *uploadtypes.InitResult {
	t.Helper()
	res, err := c.Init(context.Background(), InitCommand{
		OwnerID:     owner,
		FileName:    "clip.mp4",
		FileSize:    size,
		ContentType: "video/mp4",
	})
	require.NoError(t, err)
	return res
}

// putParts uploads data split into partSize chunks and returns the parts.
func putParts(t *testing.T, client *http.Client, urls []uploadtypes.PartURL, data []byte, partSize int64) []uploadtypes.Part {
	t.Helper()
	parts := make([]uploadtypes.Part, 0, len(urls))
	for _, u := range urls {
		start := int64(u.PartNumber-1) * partSize
		end := min(start+partSize, int64(len(data)))

		req, err := http.NewRequest(http.MethodPut, u.URL, bytes.NewReader(data[start:end]))
		require.NoError(t, err)
		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, "part %d", u.PartNumber)

		parts = append(parts, uploadtypes.Part{
			PartNumber: u.PartNumber,
			ETag:       resp.Header.Get("ETag"),
			Size:       end - start,
		})
	}
	return parts
}
