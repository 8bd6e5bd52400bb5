package store

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

var t0 = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func newSession(id string) *uploadtypes.Session {
	return &uploadtypes.Session{
		ID:          id,
		UploadID:    "upload-" + id,
		Key:         "videos/2026/10/16/" + id + ".mp4",
		OwnerID:     "owner-1",
		FileName:    id + ".mp4",
		FileSize:    50 << 20,
		ContentType: "video/mp4",
		Status:      uploadtypes.StatusUploading,
		CreatedAt:   t0,
		UpdatedAt:   t0,
	}
}

// runContract exercises behaviour every SessionStore must share.
func runContract(t *testing.T, newStore func(t *testing.T) SessionStore) {
	ctx := context.Background()

	t.Run("create_and_get", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newSession("a")))

		got, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "upload-a", got.UploadID)
		assert.Equal(t, uploadtypes.StatusUploading, got.Status)
		assert.True(t, t0.Equal(got.CreatedAt))

		byUpload, err := s.GetByUploadID(ctx, "upload-a")
		require.NoError(t, err)
		assert.Equal(t, "a", byUpload.ID)

		byKey, err := s.GetByKey(ctx, "videos/2026/10/16/a.mp4")
		require.NoError(t, err)
		assert.Equal(t, "a", byKey.ID)
	})

	t.Run("duplicate_create", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newSession("a")))
		assert.ErrorIs(t, s.Create(ctx, newSession("a")), errors.ErrAlreadyExists)
	})

	t.Run("missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "nope")
		assert.ErrorIs(t, err, errors.ErrSessionNotFound)
		_, err = s.GetByUploadID(ctx, "nope")
		assert.ErrorIs(t, err, errors.ErrSessionNotFound)
		_, err = s.Transition(ctx, "nope", Transition{
			From: []uploadtypes.Status{uploadtypes.StatusUploading},
			To:   uploadtypes.StatusCancelled,
			At:   t0,
		})
		assert.ErrorIs(t, err, errors.ErrSessionNotFound)
		assert.NoError(t, s.Delete(ctx, "nope"))
	})

	t.Run("record_part_count_is_max_merge", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newSession("a")))

		got, err := s.RecordPartCount(ctx, "a", 7, t0.Add(time.Second))
		require.NoError(t, err)
		assert.Equal(t, 7, got.PartCount)

		got, err = s.RecordPartCount(ctx, "a", 3, t0.Add(2*time.Second))
		require.NoError(t, err)
		assert.Equal(t, 7, got.PartCount)
	})

	t.Run("record_part_count_requires_uploading", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newSession("a")))
		_, err := s.Transition(ctx, "a", Transition{
			From: []uploadtypes.Status{uploadtypes.StatusUploading},
			To:   uploadtypes.StatusCancelled,
			At:   t0,
		})
		require.NoError(t, err)

		_, err = s.RecordPartCount(ctx, "a", 2, t0)
		assert.ErrorIs(t, err, errors.ErrSessionNotActive)
	})

	t.Run("transition_check_and_set", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newSession("a")))

		got, err := s.Transition(ctx, "a", Transition{
			From: []uploadtypes.Status{uploadtypes.StatusUploading},
			To:   uploadtypes.StatusAssembling,
			At:   t0.Add(time.Minute),
		})
		require.NoError(t, err)
		assert.Equal(t, uploadtypes.StatusAssembling, got.Status)

		_, err = s.Transition(ctx, "a", Transition{
			From: []uploadtypes.Status{uploadtypes.StatusUploading},
			To:   uploadtypes.StatusCancelled,
			At:   t0.Add(time.Minute),
		})
		assert.ErrorIs(t, err, errors.ErrSessionNotActive)

		got, err = s.Transition(ctx, "a", Transition{
			From:      []uploadtypes.Status{uploadtypes.StatusAssembling},
			To:        uploadtypes.StatusCompleted,
			PublicURL: "https://cdn.example/videos/a.mp4",
			At:        t0.Add(2 * time.Minute),
		})
		require.NoError(t, err)
		assert.Equal(t, uploadtypes.StatusCompleted, got.Status)
		assert.Equal(t, "https://cdn.example/videos/a.mp4", got.PublicURL)
		assert.True(t, t0.Add(2*time.Minute).Equal(got.UpdatedAt))
	})

	t.Run("transition_rejects_illegal_moves", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newSession("a")))

		_, err := s.Transition(ctx, "a", Transition{
			From: []uploadtypes.Status{uploadtypes.StatusCompleted},
			To:   uploadtypes.StatusUploading,
			At:   t0,
		})
		assert.ErrorIs(t, err, errors.ErrInvalidInput)
	})

	t.Run("terminal_statuses_are_monotonic", func(t *testing.T) {
		s := newStore(t)
		rng := rand.New(rand.NewSource(42))
		targets := []uploadtypes.Status{
			uploadtypes.StatusAssembling,
			uploadtypes.StatusCompleted,
			uploadtypes.StatusFailed,
			uploadtypes.StatusCancelled,
		}
		origins := map[uploadtypes.Status][]uploadtypes.Status{
			uploadtypes.StatusAssembling: {uploadtypes.StatusUploading},
			uploadtypes.StatusCompleted:  {uploadtypes.StatusAssembling},
			uploadtypes.StatusFailed:     {uploadtypes.StatusUploading, uploadtypes.StatusAssembling},
			uploadtypes.StatusCancelled:  {uploadtypes.StatusUploading, uploadtypes.StatusAssembling},
		}

		for i := 0; i < 40; i++ {
			id := fmt.Sprintf("s%d", i)
			require.NoError(t, s.Create(ctx, newSession(id)))

			var terminal uploadtypes.Status
			for step := 0; step < 8; step++ {
				to := targets[rng.Intn(len(targets))]
				got, err := s.Transition(ctx, id, Transition{From: origins[to], To: to, At: t0})
				if terminal != "" {
					assert.ErrorIs(t, err, errors.ErrSessionNotActive)
				}
				if err == nil && got.Status.Terminal() {
					terminal = got.Status
				}

				cur, err := s.Get(ctx, id)
				require.NoError(t, err)
				if terminal != "" {
					assert.Equal(t, terminal, cur.Status)
				}
			}
		}
	})

	t.Run("racing_terminal_transitions_pick_one", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newSession("a")))
		_, err := s.Transition(ctx, "a", Transition{
			From: []uploadtypes.Status{uploadtypes.StatusUploading},
			To:   uploadtypes.StatusAssembling,
			At:   t0,
		})
		require.NoError(t, err)

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins []uploadtypes.Status
		)
		for _, to := range []uploadtypes.Status{
			uploadtypes.StatusCompleted, uploadtypes.StatusCancelled,
			uploadtypes.StatusCompleted, uploadtypes.StatusCancelled,
		} {
			wg.Add(1)
			go func(to uploadtypes.Status) {
				defer wg.Done()
				got, err := s.Transition(ctx, "a", Transition{
					From: []uploadtypes.Status{uploadtypes.StatusAssembling},
					To:   to,
					At:   t0,
				})
				if err == nil {
					mu.Lock()
					wins = append(wins, got.Status)
					mu.Unlock()
				}
			}(to)
		}
		wg.Wait()

		require.Len(t, wins, 1)
		cur, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, wins[0], cur.Status)
	})

	t.Run("list_filters", func(t *testing.T) {
		s := newStore(t)
		for i, id := range []string{"old", "mid", "new"} {
			sess := newSession(id)
			sess.UpdatedAt = t0.Add(time.Duration(i) * time.Hour)
			require.NoError(t, s.Create(ctx, sess))
		}
		_, err := s.Transition(ctx, "mid", Transition{
			From: []uploadtypes.Status{uploadtypes.StatusUploading},
			To:   uploadtypes.StatusCancelled,
			At:   t0.Add(time.Hour),
		})
		require.NoError(t, err)

		got, err := s.List(ctx, Filter{
			Statuses:      []uploadtypes.Status{uploadtypes.StatusUploading},
			UpdatedBefore: t0.Add(3 * time.Hour),
		})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "old", got[0].ID)
		assert.Equal(t, "new", got[1].ID)

		got, err = s.List(ctx, Filter{UpdatedBefore: t0.Add(30 * time.Minute)})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "old", got[0].ID)

		got, err = s.List(ctx, Filter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newSession("a")))
		require.NoError(t, s.Delete(ctx, "a"))
		_, err := s.Get(ctx, "a")
		assert.ErrorIs(t, err, errors.ErrSessionNotFound)
	})
}
