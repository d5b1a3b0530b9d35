package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/imagehunter/internal/store"
	"github.com/kiranshivaraju/imagehunter/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool + cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("imagehunter_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func setupSQLite(t *testing.T) store.Store {
	t.Helper()
	s, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// forEachStore runs fn against SQLite always and against Postgres unless -short.
func forEachStore(t *testing.T, fn func(t *testing.T, s store.Store)) {
	t.Run("sqlite", func(t *testing.T) {
		fn(t, setupSQLite(t))
	})
	t.Run("postgres", func(t *testing.T) {
		if testing.Short() {
			t.Skip("skipping integration test")
		}
		fn(t, store.NewPostgresStore(setupTestDB(t)))
	})
}

func newJob(query string, count int) *models.Job {
	return &models.Job{Query: query, Email: "user@example.com", ImageCount: count}
}

func createJob(t *testing.T, s store.Store, query string, count int) *models.Job {
	t.Helper()
	j := newJob(query, count)
	require.NoError(t, s.CreateJob(context.Background(), j))
	return j
}

func TestJob_CreateAndGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		j := createJob(t, s, "red bicycle", 10)
		assert.NotZero(t, j.ID)

		got, err := s.GetJob(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, "red bicycle", got.Query)
		assert.Equal(t, "user@example.com", got.Email)
		assert.Equal(t, 10, got.ImageCount)
		assert.Equal(t, models.JobTypeFree, got.JobType)
		assert.Equal(t, models.JobStatusPending, got.Status)
		assert.False(t, got.EmailSent)
		assert.Nil(t, got.FailureReason)
		assert.Empty(t, got.Images)
	})
}

func TestJob_PaidTypeAboveFreeTier(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store) {
		j := createJob(t, s, "mountains", 60)

		got, err := s.GetJob(context.Background(), j.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobTypePaid, got.JobType)
	})
}

func TestJob_GetNotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store) {
		_, err := s.GetJob(context.Background(), 9999)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestJob_ListNewestFirst(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		a := createJob(t, s, "a", 1)
		b := createJob(t, s, "b", 1)
		c := createJob(t, s, "c", 1)

		jobs, err := s.ListJobs(ctx, 2)
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, c.ID, jobs[0].ID)
		assert.Equal(t, b.ID, jobs[1].ID)

		all, err := s.ListJobs(ctx, 0)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, a.ID, all[2].ID)
	})
}

func TestJob_ClaimOldestPending(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		first := createJob(t, s, "first", 5)
		second := createJob(t, s, "second", 5)

		claimed, err := s.ClaimNextPending(ctx)
		require.NoError(t, err)
		assert.Equal(t, first.ID, claimed.ID)
		assert.Equal(t, models.JobStatusProcessing, claimed.Status)
		assert.NotNil(t, claimed.StartedAt)

		claimed, err = s.ClaimNextPending(ctx)
		require.NoError(t, err)
		assert.Equal(t, second.ID, claimed.ID)

		_, err = s.ClaimNextPending(ctx)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestJob_ClaimSkipsNonPending(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		old := createJob(t, s, "old", 5)
		_, err := s.ClaimNextPending(ctx)
		require.NoError(t, err)
		require.NoError(t, s.UpdateJobStatus(ctx, old.ID, models.JobStatusFailed, store.WithFailureReason("boom")))

		fresh := createJob(t, s, "fresh", 5)
		claimed, err := s.ClaimNextPending(ctx)
		require.NoError(t, err)
		assert.Equal(t, fresh.ID, claimed.ID)
	})
}

func TestJob_UpdateStatusProcessingToFailed(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		j := createJob(t, s, "q", 5)
		require.NoError(t, s.UpdateJobStatus(ctx, j.ID, models.JobStatusProcessing))

		err := s.UpdateJobStatus(ctx, j.ID, models.JobStatusFailed, store.WithFailureReason("fetch returned no images"))
		require.NoError(t, err)

		got, err := s.GetJob(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusFailed, got.Status)
		require.NotNil(t, got.FailureReason)
		assert.Equal(t, "fetch returned no images", *got.FailureReason)
		assert.NotNil(t, got.CompletedAt)
	})
}

func TestJob_UpdateStatusInvalidTransition(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		j := createJob(t, s, "q", 5)

		cases := []string{models.JobStatusFailed, models.JobStatusCompleted, models.JobStatusPending}
		for _, to := range cases {
			err := s.UpdateJobStatus(ctx, j.ID, to)
			assert.ErrorIs(t, err, store.ErrInvalidTransition, "pending -> %s", to)
		}

		require.NoError(t, s.UpdateJobStatus(ctx, j.ID, models.JobStatusProcessing))
		assert.ErrorIs(t, s.UpdateJobStatus(ctx, j.ID, models.JobStatusPending), store.ErrInvalidTransition)
		assert.ErrorIs(t, s.UpdateJobStatus(ctx, j.ID, models.JobStatusProcessing), store.ErrInvalidTransition)
	})
}

func TestJob_CompletedRequiresCompleteJob(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		j := createJob(t, s, "q", 5)
		require.NoError(t, s.UpdateJobStatus(ctx, j.ID, models.JobStatusProcessing))

		err := s.UpdateJobStatus(ctx, j.ID, models.JobStatusCompleted)
		assert.ErrorIs(t, err, store.ErrInvalidTransition)
	})
}

func TestJob_UpdateStatusNotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store) {
		err := s.UpdateJobStatus(context.Background(), 4242, models.JobStatusProcessing)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestJob_CompleteJobStoresImagesInOrder(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		j := createJob(t, s, "q", 3)
		_, err := s.ClaimNextPending(ctx)
		require.NoError(t, err)

		paths := []string{"downloads/job_1/image_0002.jpg", "downloads/job_1/image_0000.jpg", "downloads/job_1/image_0001.png"}
		require.NoError(t, s.CompleteJob(ctx, j.ID, paths))

		got, err := s.GetJob(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusCompleted, got.Status)
		assert.NotNil(t, got.CompletedAt)
		require.Len(t, got.Images, 3)
		for i, img := range got.Images {
			assert.Equal(t, paths[i], img.FilePath)
			assert.Equal(t, i, img.Position)
			assert.Equal(t, j.ID, img.JobID)
		}
		assert.Equal(t, "image_0001.png", got.Images[2].Filename())
	})
}

func TestJob_CompleteJobRejectsEmpty(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		j := createJob(t, s, "q", 3)
		_, err := s.ClaimNextPending(ctx)
		require.NoError(t, err)

		assert.ErrorIs(t, s.CompleteJob(ctx, j.ID, nil), store.ErrNoImages)

		got, err := s.GetJob(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusProcessing, got.Status)
	})
}

func TestJob_CompleteJobRequiresProcessing(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		j := createJob(t, s, "q", 3)

		err := s.CompleteJob(ctx, j.ID, []string{"a.jpg"})
		assert.ErrorIs(t, err, store.ErrInvalidTransition)

		got, err := s.GetJob(ctx, j.ID)
		require.NoError(t, err)
		assert.Empty(t, got.Images)
		assert.Equal(t, models.JobStatusPending, got.Status)
	})
}

func TestJob_NotificationLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		done := createJob(t, s, "done", 2)
		createJob(t, s, "waiting", 2)

		_, err := s.ClaimNextPending(ctx)
		require.NoError(t, err)
		require.NoError(t, s.CompleteJob(ctx, done.ID, []string{"x.jpg"}))

		pending, err := s.ListUnnotifiedCompleted(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, done.ID, pending[0].ID)

		require.NoError(t, s.MarkEmailSent(ctx, done.ID))

		pending, err = s.ListUnnotifiedCompleted(ctx)
		require.NoError(t, err)
		assert.Empty(t, pending)

		got, err := s.GetJob(ctx, done.ID)
		require.NoError(t, err)
		assert.True(t, got.EmailSent)

		assert.ErrorIs(t, s.MarkEmailSent(ctx, done.ID), store.ErrInvalidTransition)
	})
}

func TestJob_MarkEmailSentRequiresCompleted(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		j := createJob(t, s, "q", 2)

		assert.ErrorIs(t, s.MarkEmailSent(ctx, j.ID), store.ErrInvalidTransition)
		assert.ErrorIs(t, s.MarkEmailSent(ctx, 777), store.ErrNotFound)

		got, err := s.GetJob(ctx, j.ID)
		require.NoError(t, err)
		assert.False(t, got.EmailSent)
	})
}

func TestPing(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store) {
		assert.NoError(t, s.Ping(context.Background()))
	})
}
