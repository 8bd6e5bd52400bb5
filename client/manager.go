package client

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

const (
	// DefaultFileConcurrency is the number of files uploading at once.
	DefaultFileConcurrency = 3

	// DefaultRetireAfter is how long completed entries stay listed.
	DefaultRetireAfter = 5 * time.Second

	speedWindow = 500 * time.Millisecond
)

// State is a managed upload's client-side state.
type State string

const (
	StateQueued    State = "queued"
	StateUploading State = "uploading"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether the entry will not change again.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Uploader uploads one file. *Orchestrator implements it.
type Uploader interface {
	Upload(ctx context.Context, f File, opts ...UploadOption) (*Result, error)
}

var _ Uploader = (*Orchestrator)(nil)

// Snapshot is a point-in-time view of a managed upload.
type Snapshot struct {
	ID            string
	FileName      string
	Size          int64
	State         State
	SessionID     string
	SessionStatus uploadtypes.Status

	// Transferred counts bytes sent, including parts still in flight.
	Transferred int64

	// Acknowledged counts bytes of parts the store accepted.
	Acknowledged int64

	// Speed is the recent transfer rate in bytes per second.
	Speed float64

	Retries    int
	Result     *Result
	Err        error
	QueuedAt   time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// Manager runs uploads in the background, at most a fixed number of files at
// once. Each entry is keyed by a client-generated id.
type Manager struct {
	uploader    Uploader
	sem         *semaphore.Weighted
	retireAfter time.Duration
	logger      *slog.Logger
	now         func() time.Time
	onChange    func(Snapshot)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	seq     int
	entries map[string]*entry
}

type entry struct {
	seq    int
	cancel context.CancelFunc
	snap   Snapshot
	parts  map[int]int64

	sampleAt    time.Time
	sampleBytes int64
}

// snapshot returns the entry as of now. A transfer that stalled past the
// speed window reports its average since the last sample, falling to zero.
func (e *entry) snapshot(now time.Time) Snapshot {
	snap := e.snap
	if snap.State != StateUploading {
		return snap
	}
	if elapsed := now.Sub(e.sampleAt); elapsed >= speedWindow {
		snap.Speed = max(0, float64(snap.Transferred-e.sampleBytes)/elapsed.Seconds())
	}
	return snap
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithFileConcurrency sets the number of files uploading at once.
func WithFileConcurrency(n int) ManagerOption {
	return func(m *Manager) {
		if n < 1 {
			n = 1
		}
		m.sem = semaphore.NewWeighted(int64(n))
	}
}

// WithRetireAfter sets how long completed entries remain listed. Zero retires
// them immediately; failed and cancelled entries stay until acknowledged.
func WithRetireAfter(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.retireAfter = d
	}
}

// WithManagerLogger sets the logger.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithManagerClock overrides the time source used for speed and timestamps.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// WithOnChange registers a callback run after every entry change. It runs
// while no Manager lock is held and may call back into the Manager.
func WithOnChange(f func(Snapshot)) ManagerOption {
	return func(m *Manager) {
		m.onChange = f
	}
}

// NewManager returns a Manager that uploads through u.
func NewManager(u Uploader, opts ...ManagerOption) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		uploader:    u,
		sem:         semaphore.NewWeighted(DefaultFileConcurrency),
		retireAfter: DefaultRetireAfter,
		logger:      slog.New(slog.DiscardHandler),
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
		entries:     make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Enqueue schedules f and returns its entry id. The upload starts once a
// file slot is free.
func (m *Manager) Enqueue(f File) (string, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", errors.NewError("enqueue", errors.ErrInvalidInput).WithMessage("manager is closed")
	}
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(m.ctx)
	m.seq++
	e := &entry{
		seq:    m.seq,
		cancel: cancel,
		parts:  make(map[int]int64),
		snap: Snapshot{
			ID:       id,
			FileName: f.Name(),
			Size:     f.Size(),
			State:    StateQueued,
			QueuedAt: m.now(),
		},
	}
	m.entries[id] = e
	m.wg.Add(1)
	snap := e.snap
	m.mu.Unlock()

	m.notify(snap)
	go m.run(ctx, id, f)
	return id, nil
}

func (m *Manager) run(ctx context.Context, id string, f File) {
	defer m.wg.Done()

	if err := m.sem.Acquire(ctx, 1); err != nil {
		m.finish(id, nil, err)
		return
	}
	defer m.sem.Release(1)

	if ctx.Err() != nil {
		m.finish(id, nil, ctx.Err())
		return
	}
	m.update(id, func(e *entry) {
		e.snap.State = StateUploading
		e.snap.StartedAt = m.now()
		e.sampleAt = e.snap.StartedAt
	})
	m.logger.Info("upload started", "id", id, "file", f.Name(), "size", f.Size())

	res, err := m.uploader.Upload(ctx, f, WithUploadObserver(&entryObserver{m: m, id: id}))
	m.finish(id, res, err)
}

func (m *Manager) finish(id string, res *Result, err error) {
	var state State
	m.update(id, func(e *entry) {
		e.snap.FinishedAt = m.now()
		e.snap.Speed = 0
		e.cancel()
		switch {
		case err == nil:
			e.snap.State = StateCompleted
			e.snap.Result = res
			if res != nil {
				e.snap.Retries = res.Retries
			}
			e.snap.Acknowledged = e.snap.Size
			e.snap.Transferred = e.snap.Size
		case stderrors.Is(err, context.Canceled):
			e.snap.State = StateCancelled
			e.snap.Err = err
		default:
			e.snap.State = StateFailed
			e.snap.Err = err
		}
		state = e.snap.State
	})

	if err != nil && state == StateFailed {
		m.logger.Error("upload failed", "id", id, "error", err)
	} else {
		m.logger.Info("upload finished", "id", id, "state", state)
	}

	if state == StateCompleted {
		if m.retireAfter <= 0 {
			m.retire(id)
			return
		}
		time.AfterFunc(m.retireAfter, func() { m.retire(id) })
	}
}

func (m *Manager) retire(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok && e.snap.State == StateCompleted {
		delete(m.entries, id)
	}
}

// update applies fn to the entry under the lock and notifies the change.
func (m *Manager) update(id string, fn func(e *entry)) {
	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	fn(e)
	snap := e.snap
	m.mu.Unlock()
	m.notify(snap)
}

func (m *Manager) notify(s Snapshot) {
	if m.onChange != nil {
		m.onChange(s)
	}
}

// Cancel stops the upload with id. A queued upload is cancelled before it
// starts; a running one stops scheduling parts and aborts its session.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	e, ok := m.entries[id]
	m.mu.Unlock()
	if !ok {
		return errors.NewError("cancel", errors.ErrInvalidInput).WithMessage(fmt.Sprintf("unknown upload %s", id))
	}
	e.cancel()
	return nil
}

// Get returns the entry with id.
func (m *Manager) Get(id string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return Snapshot{}, false
	}
	return e.snapshot(m.now()), true
}

// List returns all entries in enqueue order.
func (m *Manager) List() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })

	now := m.now()
	out := make([]Snapshot, len(list))
	for i, e := range list {
		out[i] = e.snapshot(now)
	}
	return out
}

// Acknowledge removes a failed or cancelled entry.
func (m *Manager) Acknowledge(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return errors.NewError("acknowledge", errors.ErrInvalidInput).WithMessage(fmt.Sprintf("unknown upload %s", id))
	}
	if e.snap.State != StateFailed && e.snap.State != StateCancelled {
		return errors.NewError("acknowledge", errors.ErrInvalidInput).
			WithMessage(fmt.Sprintf("upload %s is %s", id, e.snap.State))
	}
	delete(m.entries, id)
	return nil
}

// Wait blocks until every enqueued upload has finished or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels all uploads, refuses new ones and waits for workers to exit.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()
	m.wg.Wait()
	return nil
}

// entryObserver feeds orchestrator events into a manager entry.
type entryObserver struct {
	m  *Manager
	id string
}

func (o *entryObserver) OnPartProgress(partNumber int, bytesSent int64) {
	o.m.update(o.id, func(e *entry) {
		prev := e.parts[partNumber]
		if bytesSent < prev {
			// The part restarted from zero.
			e.sampleBytes -= prev
		}
		e.snap.Transferred += bytesSent - prev
		e.parts[partNumber] = bytesSent

		now := o.m.now()
		if elapsed := now.Sub(e.sampleAt); elapsed >= speedWindow {
			e.snap.Speed = max(0, float64(e.snap.Transferred-e.sampleBytes)/elapsed.Seconds())
			e.sampleAt = now
			e.sampleBytes = e.snap.Transferred
		}
	})
}

func (o *entryObserver) OnPartRetry(int, int, error) {
	o.m.update(o.id, func(e *entry) {
		e.snap.Retries++
	})
}

func (o *entryObserver) OnProgress(acknowledged, _ int64) {
	o.m.update(o.id, func(e *entry) {
		e.snap.Acknowledged = acknowledged
	})
}

func (o *entryObserver) OnSessionStatusChanged(sessionID string, status uploadtypes.Status) {
	o.m.update(o.id, func(e *entry) {
		e.snap.SessionID = sessionID
		e.snap.SessionStatus = status
	})
}
