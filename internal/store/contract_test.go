package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/videojobs/internal/store"
	"github.com/kiranshivaraju/videojobs/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func newJob(channelID string, createdAt time.Time) *models.VideoJob {
	j := &models.VideoJob{
		ID:            uuid.New(),
		CorrelationID: uuid.New(),
		Prompt:        "an 8 second clip of a cat astronaut",
		Status:        models.JobStatusQueued,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
	if channelID != "" {
		j.ChannelID = strPtr(channelID)
	}
	return j
}

// runStoreContract exercises the behaviour every Store implementation must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("CreateAndGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Microsecond)
		job := newJob("sipdeluxe", now)
		job.Title = strPtr("Cat astronaut")

		require.NoError(t, s.CreateJob(ctx, job))

		got, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, job.ID, got.ID)
		assert.Equal(t, job.CorrelationID, got.CorrelationID)
		assert.Equal(t, models.JobStatusQueued, got.Status)
		assert.Equal(t, "sipdeluxe", *got.ChannelID)
		assert.Equal(t, "Cat astronaut", *got.Title)
		assert.Nil(t, got.LocalPath)
	})

	t.Run("GetNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetJob(context.Background(), uuid.New())
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("UpdateFollowsStateMachine", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		job := newJob("", time.Now().UTC())
		require.NoError(t, s.CreateJob(ctx, job))

		_, err := s.UpdateJob(ctx, job.ID, store.WithStatus(models.JobStatusReady), store.WithLocalPath("/tmp/x.mp4"))
		assert.ErrorIs(t, err, store.ErrInvalidTransition)

		got, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusQueued, got.Status, "rejected update must not persist")

		updated, err := s.UpdateJob(ctx, job.ID, store.WithStatus(models.JobStatusSending))
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusSending, updated.Status)
		assert.False(t, updated.UpdatedAt.Before(job.UpdatedAt))
	})

	t.Run("UpdateGuardConflict", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		job := newJob("", time.Now().UTC())
		require.NoError(t, s.CreateJob(ctx, job))

		_, err := s.UpdateJob(ctx, job.ID,
			store.WhenStatus(models.JobStatusSending),
			store.WithStatus(models.JobStatusWaitingReply))
		assert.ErrorIs(t, err, store.ErrStatusConflict)
	})

	t.Run("UpdateNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.UpdateJob(context.Background(), uuid.New(), store.WithStatus(models.JobStatusSending))
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("RequestMessageIDWrittenOnce", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		job := newJob("", time.Now().UTC())
		require.NoError(t, s.CreateJob(ctx, job))

		_, err := s.UpdateJob(ctx, job.ID, store.WithRequestMessageID(100))
		require.NoError(t, err)
		_, err = s.UpdateJob(ctx, job.ID, store.WithRequestMessageID(100))
		require.NoError(t, err, "same marker is idempotent")
		_, err = s.UpdateJob(ctx, job.ID, store.WithRequestMessageID(101))
		assert.ErrorIs(t, err, store.ErrInvalidTransition)

		got, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(100), *got.RequestMessageID)
	})

	t.Run("FullLifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		job := newJob("hotwell", time.Now().UTC())
		require.NoError(t, s.CreateJob(ctx, job))

		steps := [][]store.JobUpdateOption{
			{store.WithStatus(models.JobStatusSending)},
			{store.WithRequestMessageID(100), store.WithStatus(models.JobStatusWaitingReply)},
			{store.WithReplyMessageID(103), store.WithStatus(models.JobStatusDownloading)},
			{store.WithLocalPath("/data/clip.mp4"), store.WithStatus(models.JobStatusReady)},
			{store.WithStatus(models.JobStatusUploading)},
			{store.WithUpload(models.UploadResult{FileID: "drive-1", WebViewLink: "https://view"}),
				store.WithStatus(models.JobStatusUploaded)},
		}
		for _, opts := range steps {
			_, err := s.UpdateJob(ctx, job.ID, opts...)
			require.NoError(t, err)
		}

		got, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusUploaded, got.Status)
		assert.Equal(t, "drive-1", *got.DriveFileID)
		assert.Equal(t, "https://view", *got.WebViewLink)
		assert.Nil(t, got.WebContentLink)
		assert.Equal(t, int64(103), *got.ReplyMessageID)
	})

	t.Run("ListNewestFirstWithLimit", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		base := time.Now().UTC().Truncate(time.Microsecond)
		var ids []uuid.UUID
		for i := 0; i < 3; i++ {
			j := newJob("babushka-dedushka", base.Add(time.Duration(i)*time.Second))
			require.NoError(t, s.CreateJob(ctx, j))
			ids = append(ids, j.ID)
		}
		require.NoError(t, s.CreateJob(ctx, newJob("other", base.Add(10*time.Second))))

		jobs, err := s.ListJobs(ctx, store.JobFilter{ChannelID: "babushka-dedushka", Limit: 2})
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, ids[2], jobs[0].ID)
		assert.Equal(t, ids[1], jobs[1].ID)

		all, err := s.ListJobs(ctx, store.JobFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 4)
	})

	t.Run("ListPagesWithOffset", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		// Same creation time everywhere, so paging relies on the id tiebreak.
		created := time.Now().UTC().Truncate(time.Microsecond)
		for i := 0; i < 5; i++ {
			require.NoError(t, s.CreateJob(ctx, newJob("", created)))
		}

		seen := map[uuid.UUID]bool{}
		for offset := 0; offset < 6; offset += 2 {
			page, err := s.ListJobs(ctx, store.JobFilter{Limit: 2, Offset: offset})
			require.NoError(t, err)
			for _, j := range page {
				assert.False(t, seen[j.ID], "job %s listed twice", j.ID)
				seen[j.ID] = true
			}
		}
		assert.Len(t, seen, 5)

		past, err := s.ListJobs(ctx, store.JobFilter{Offset: 10})
		require.NoError(t, err)
		assert.Empty(t, past)
	})

	t.Run("NoOpUpdateKeepsRecord", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		job := newJob("", time.Now().UTC().Truncate(time.Microsecond))
		require.NoError(t, s.CreateJob(ctx, job))

		first, err := s.UpdateJob(ctx, job.ID, store.ClearLocalPath(), store.WithStatus(models.JobStatusDiscarded))
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
		second, err := s.UpdateJob(ctx, job.ID, store.ClearLocalPath(), store.WithStatus(models.JobStatusDiscarded))
		require.NoError(t, err)

		assert.True(t, first.UpdatedAt.Equal(second.UpdatedAt), "no-op update moved updated_at")
		got, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.True(t, first.UpdatedAt.Equal(got.UpdatedAt))
		assert.Equal(t, models.JobStatusDiscarded, got.Status)
	})

	t.Run("ListByStatusAndAge", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		job := newJob("", time.Now().UTC())
		require.NoError(t, s.CreateJob(ctx, job))
		_, err := s.UpdateJob(ctx, job.ID, store.WithStatus(models.JobStatusSending))
		require.NoError(t, err)
		require.NoError(t, s.CreateJob(ctx, newJob("", time.Now().UTC())))

		jobs, err := s.ListJobs(ctx, store.JobFilter{Statuses: []models.JobStatus{models.JobStatusSending}})
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, job.ID, jobs[0].ID)

		jobs, err = s.ListJobs(ctx, store.JobFilter{
			Statuses:      []models.JobStatus{models.JobStatusSending},
			UpdatedBefore: time.Now().UTC().Add(-time.Hour),
		})
		require.NoError(t, err)
		assert.Empty(t, jobs)
	})

	t.Run("CountNonTerminal", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		active := newJob("sipdeluxe", time.Now().UTC())
		require.NoError(t, s.CreateJob(ctx, active))
		discarded := newJob("sipdeluxe", time.Now().UTC())
		require.NoError(t, s.CreateJob(ctx, discarded))
		_, err := s.UpdateJob(ctx, discarded.ID, store.WithStatus(models.JobStatusDiscarded))
		require.NoError(t, err)
		require.NoError(t, s.CreateJob(ctx, newJob("hotwell", time.Now().UTC())))

		n, err := s.CountNonTerminalJobs(ctx, "sipdeluxe")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = s.CountNonTerminalJobs(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}
