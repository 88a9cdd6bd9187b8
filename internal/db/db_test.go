package db

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tvoe/cliphub/internal/config"
	"github.com/tvoe/cliphub/internal/domain"
	"github.com/tvoe/cliphub/internal/store"
)

var testStore *Store

// TestMain starts Postgres in a container when CLIPHUB_INTEGRATION=1.
func TestMain(m *testing.M) {
	if os.Getenv("CLIPHUB_INTEGRATION") != "1" {
		os.Exit(m.Run())
	}

	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "postgres",
				"POSTGRES_PASSWORD": "postgres",
				"POSTGRES_DB":       "cliphub",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("failed to start postgres container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		log.Fatalf("failed to get mapped port: %v", err)
	}

	database, err := New(ctx, config.DatabaseConfig{
		URL:             fmt.Sprintf("postgres://postgres:postgres@%s:%s/cliphub?sslmode=disable", host, port.Port()),
		MaxOpenConns:    5,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	})
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	if err := database.Migrate(ctx); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}
	testStore = NewStore(database)

	code := m.Run()

	database.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func requireStore(t *testing.T) *Store {
	t.Helper()
	if testStore == nil {
		t.Skip("set CLIPHUB_INTEGRATION=1 to run Postgres tests")
	}
	return testStore
}

func seedClip(t *testing.T, s *Store) *domain.Clip {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	c := &domain.Clip{
		ID:               uuid.New(),
		OwnerID:          uuid.New(),
		Title:            "knurling",
		DurationSeconds:  20,
		Tags:             []string{"lathe", "knurl"},
		OriginalFilename: "k.mp4",
		FileSizeBytes:    2048,
		MimeType:         "video/mp4",
		Status:           domain.LifecycleDraft,
		ProcessingStatus: domain.ProcessingPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, s.CreateClip(context.Background(), c))
	return c
}

func TestJobCompareAndSwap(t *testing.T) {
	s := requireStore(t)
	ctx := context.Background()
	clip := seedClip(t, s)

	job := domain.NewProcessingJob(clip.ID, domain.JobTypeTranscode, "uploads/k.mp4", 1)
	require.NoError(t, s.CreateJob(ctx, job))

	dup := domain.NewProcessingJob(clip.ID, domain.JobTypeTranscode, "uploads/k.mp4", 2)
	assert.ErrorIs(t, s.CreateJob(ctx, dup), store.ErrDuplicate)

	stale, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)

	job.Status = domain.JobStatusRunning
	require.NoError(t, s.UpdateJob(ctx, job, domain.JobStatusQueued))

	stale.Status = domain.JobStatusCancelled
	assert.ErrorIs(t, s.UpdateJob(ctx, stale, domain.JobStatusQueued), store.ErrConflict)

	mp4 := "out/k.mp4"
	job.Status = domain.JobStatusCompleted
	job.Outputs = &domain.JobOutputs{MP4Path: &mp4}
	require.NoError(t, s.UpdateJob(ctx, job, domain.JobStatusRunning))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Outputs)
	assert.Equal(t, mp4, *got.Outputs.MP4Path)
}

func TestClipCountersAndCascade(t *testing.T) {
	s := requireStore(t)
	ctx := context.Background()
	clip := seedClip(t, s)

	v, err := s.IncrementCounter(ctx, clip.ID, domain.CounterDownloads, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	clip.Title = "knurling, second pass"
	require.NoError(t, s.UpdateClip(ctx, clip))
	assert.Equal(t, int64(2), clip.DownloadCount)

	require.NoError(t, s.CreateJob(ctx, domain.NewProcessingJob(clip.ID, domain.JobTypeThumbnail, "k", 1)))
	require.NoError(t, s.DeleteClip(ctx, clip.ID))

	jobs, err := s.ListJobsByClip(ctx, clip.ID)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestListClipsByTag(t *testing.T) {
	s := requireStore(t)
	ctx := context.Background()
	clip := seedClip(t, s)

	clips, err := s.ListClips(ctx, store.ClipFilter{OwnerID: &clip.OwnerID, Tag: "knurl", Limit: 10})
	require.NoError(t, err)
	require.Len(t, clips, 1)
	assert.Equal(t, clip.ID, clips[0].ID)
}
