package client

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-libs/upload/coordinator"
	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/objectstore"
	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/testutil"
	"github.com/input-output-hk/catalyst-forge-libs/upload/sigv4"
	"github.com/input-output-hk/catalyst-forge-libs/upload/store"
	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

const (
	mib   = int64(1 << 20)
	owner = "owner-1"
)

var testCreds = sigv4.Credentials{
	AccessKeyID:     "R2ACCESSKEY",
	SecretAccessKey: "r2-secret",
	Region:          "auto",
	Service:         "s3",
}

type harness struct {
	fake     *testutil.FakeStore
	sessions *store.MemoryStore
	coord    *countingCoordinator
}

func newHarness(t *testing.T, opts ...coordinator.Option) *harness {
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
	c, err := coordinator.New(sessions, objects, opts...)
	require.NoError(t, err)

	return &harness{
		fake:     fake,
		sessions: sessions,
		coord:    &countingCoordinator{Coordinator: Local(c, owner)},
	}
}

func (h *harness) orchestrator(opts ...Option) *Orchestrator {
	base := []Option{
		WithPartHTTPClient(h.fake.Client()),
		WithBackOff(func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }),
	}
	return NewOrchestrator(h.coord, append(base, opts...)...)
}

func (h *harness) session(t *testing.T, id string) *uploadtypes.Session {
	t.Helper()
	s, err := h.sessions.Get(context.Background(), id)
	require.NoError(t, err)
	return s
}

// countingCoordinator counts part URL requests and remembers the last session.
type countingCoordinator struct {
	Coordinator
	partURLCalls atomic.Int64

	mu      sync.Mutex
	session string
}

func (c *countingCoordinator) Init(ctx context.Context, name string, size int64, ct string) (*uploadtypes.InitResult, error) {
	res, err := c.Coordinator.Init(ctx, name, size, ct)
	if err == nil {
		c.mu.Lock()
		c.session = res.SessionID
		c.mu.Unlock()
	}
	return res, err
}

func (c *countingCoordinator) GetPartURLs(ctx context.Context, id string, n int) ([]uploadtypes.PartURL, error) {
	c.partURLCalls.Add(1)
	return c.Coordinator.GetPartURLs(ctx, id, n)
}

func (c *countingCoordinator) lastSession() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// recordingObserver records every event.
type recordingObserver struct {
	mu       sync.Mutex
	statuses []uploadtypes.Status
	retries  map[int][]int
	acked    []int64
	sent     map[int]int64
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{retries: make(map[int][]int), sent: make(map[int]int64)}
}

func (r *recordingObserver) OnPartProgress(n int, sent int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent[n] = sent
}

func (r *recordingObserver) OnPartRetry(n, attempt int, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries[n] = append(r.retries[n], attempt)
}

func (r *recordingObserver) OnProgress(acked, _ int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acked = append(r.acked, acked)
}

func (r *recordingObserver) OnSessionStatusChanged(_ string, s uploadtypes.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *recordingObserver) snapshot() ([]uploadtypes.Status, map[int][]int, []int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	retries := make(map[int][]int, len(r.retries))
	for k, v := range r.retries {
		retries[k] = append([]int(nil), v...)
	}
	return append([]uploadtypes.Status(nil), r.statuses...), retries, append([]int64(nil), r.acked...)
}

func videoData(size int64) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}
