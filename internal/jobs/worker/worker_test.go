package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/yungbote/kanda-backend/internal/data/repos"
	"github.com/yungbote/kanda-backend/internal/data/repos/testutil"
	types "github.com/yungbote/kanda-backend/internal/domain"
	"github.com/yungbote/kanda-backend/internal/domain/character"
	jobsdomain "github.com/yungbote/kanda-backend/internal/domain/jobs"
	"github.com/yungbote/kanda-backend/internal/jobs/pipeline/character_enrich"
	"github.com/yungbote/kanda-backend/internal/jobs/runtime"
	"github.com/yungbote/kanda-backend/internal/pkg/dbctx"
	"github.com/yungbote/kanda-backend/internal/services"
)

type panicHandler struct {
	mu        sync.Mutex
	exhausted []uuid.UUID
}

func (h *panicHandler) Type() string { return "panic_job" }

func (h *panicHandler) Run(*runtime.Context) error { panic("boom") }

func (h *panicHandler) OnExhausted(_ context.Context, job *types.JobRun, _ services.JobNotifier, _ error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exhausted = append(h.exhausted, job.ID)
}

func seedJob(t *testing.T, repo repos.JobRunRepo, job *types.JobRun) {
	t.Helper()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Payload == nil {
		job.Payload = datatypes.JSON([]byte(`{}`))
	}
	job.Result = datatypes.JSON([]byte(`{}`))
	_, err := repo.Create(dbctx.Context{Ctx: context.Background()}, []*types.JobRun{job})
	require.NoError(t, err)
}

func loadJob(t *testing.T, repo repos.JobRunRepo, id uuid.UUID) *types.JobRun {
	t.Helper()
	rows, err := repo.GetByIDs(dbctx.Context{Ctx: context.Background()}, []uuid.UUID{id})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	return rows[0]
}

func TestWorkerPanicRetriesUntilLastAttempt(t *testing.T) {
	db := testutil.DB(t)
	repo := repos.NewJobRunRepo(db, testutil.Logger(t))
	h := &panicHandler{}
	reg := runtime.NewRegistry()
	require.NoError(t, reg.Register(h))
	w := NewWorker(db, testutil.Logger(t), repo, reg, nil, Config{MaxAttempts: 3, RetryDelay: time.Hour})

	first := &types.JobRun{OwnerUserID: uuid.New(), JobType: "panic_job", Status: jobsdomain.StatusQueued}
	seedJob(t, repo, first)
	require.True(t, w.RunOnce(context.Background()))
	got := loadJob(t, repo, first.ID)
	assert.Equal(t, jobsdomain.StatusFailed, got.Status)
	assert.Equal(t, "panic", got.Stage)
	assert.Empty(t, h.exhausted)

	last := &types.JobRun{OwnerUserID: uuid.New(), JobType: "panic_job", Status: jobsdomain.StatusQueued, Attempts: 2}
	seedJob(t, repo, last)
	require.True(t, w.RunOnce(context.Background()))
	got = loadJob(t, repo, last.ID)
	assert.Equal(t, jobsdomain.StatusDead, got.Status)
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, []uuid.UUID{last.ID}, h.exhausted)
}

func TestSweepExhaustedFailsCharacter(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	ctx := context.Background()
	jobRepo := repos.NewJobRunRepo(db, log)
	chars := repos.NewCharacterRepo(db, log)

	c := testutil.SeedCharacter(t, ctx, db, uuid.New(), "Aria", "a thief from the docks")
	moved, err := chars.MarkProcessing(dbctx.Context{Ctx: ctx}, c.ID, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, moved)

	id := c.ID
	stale := time.Now().UTC().Add(-time.Hour)
	job := &types.JobRun{
		OwnerUserID: c.OwnerUserID,
		JobType:     jobsdomain.JobTypeCharacterEnrich,
		EntityType:  jobsdomain.EntityTypeCharacter,
		EntityID:    &id,
		Status:      jobsdomain.StatusRunning,
		Attempts:    3,
		HeartbeatAt: &stale,
		Payload:     datatypes.JSON([]byte(`{"character_id":"` + c.ID.String() + `"}`)),
	}
	seedJob(t, jobRepo, job)

	reg := runtime.NewRegistry()
	require.NoError(t, reg.Register(character_enrich.New(db, log, chars, nil, nil, nil, character_enrich.Config{})))
	w := NewWorker(db, log, jobRepo, reg, nil, Config{MaxAttempts: 3, StaleRunning: 10 * time.Minute})

	assert.False(t, w.RunOnce(ctx))

	n, err := w.SweepExhausted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := loadJob(t, jobRepo, job.ID)
	assert.Equal(t, jobsdomain.StatusDead, got.Status)
	assert.Equal(t, "stale", got.Stage)

	profile, err := chars.GetByID(dbctx.Context{Ctx: ctx}, c.ID)
	require.NoError(t, err)
	assert.Equal(t, character.StatusFailed, profile.ProcessingStatus.Status)
	assert.Contains(t, profile.ProcessingStatus.ErrorMessage, "stopped heartbeating")

	n, err = w.SweepExhausted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
