package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/kanda-backend/internal/data/repos/testutil"
	types "github.com/yungbote/kanda-backend/internal/domain"
	"github.com/yungbote/kanda-backend/internal/pkg/dbctx"
)

func newJob(owner uuid.UUID, jobType, entityType string, entityID uuid.UUID, status string, created time.Time) *types.JobRun {
	return &types.JobRun{
		ID:          uuid.New(),
		OwnerUserID: owner,
		JobType:     jobType,
		EntityType:  entityType,
		EntityID:    &entityID,
		Status:      status,
		Stage:       status,
		Payload:     datatypes.JSON([]byte("{}")),
		Result:      datatypes.JSON([]byte("{}")),
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func TestJobRunRepoClaimOrder(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewJobRunRepo(db, testutil.Logger(t))

	now := time.Now().UTC()
	owner := uuid.New()

	queued := newJob(owner, "test_job", "character", uuid.New(), "queued", now.Add(-4*time.Hour))
	failed := newJob(owner, "test_job", "character", uuid.New(), "failed", now.Add(-3*time.Hour))
	failed.LastErrorAt = ptrTime(now.Add(-2 * time.Hour))
	staleRunning := newJob(owner, "test_job", "character", uuid.New(), "running", now.Add(-2*time.Hour))
	staleRunning.HeartbeatAt = ptrTime(now.Add(-10 * time.Hour))
	deferred := newJob(owner, "test_job", "character", uuid.New(), "queued", now.Add(-5*time.Hour))
	deferred.RunAfter = ptrTime(now.Add(time.Hour))
	exhausted := newJob(owner, "test_job", "character", uuid.New(), "failed", now.Add(-6*time.Hour))
	exhausted.Attempts = 3
	exhausted.LastErrorAt = ptrTime(now.Add(-2 * time.Hour))
	coolingDown := newJob(owner, "test_job", "character", uuid.New(), "failed", now.Add(-7*time.Hour))
	coolingDown.Attempts = 1
	coolingDown.LastErrorAt = ptrTime(now.Add(-time.Minute))

	created, err := repo.Create(dbc, []*types.JobRun{queued, failed, staleRunning, deferred, exhausted, coolingDown})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(created) != 6 {
		t.Fatalf("Create: expected 6, got %d", len(created))
	}

	for i, want := range []uuid.UUID{queued.ID, failed.ID, staleRunning.ID} {
		claim, err := repo.ClaimNextRunnable(dbc, 3, time.Hour, time.Hour)
		if err != nil {
			t.Fatalf("ClaimNextRunnable #%d: %v", i+1, err)
		}
		if claim == nil || claim.ID != want {
			t.Fatalf("ClaimNextRunnable #%d: expected %v got %v", i+1, want, claim)
		}
		if claim.Status != "running" || claim.Attempts != 1 || claim.HeartbeatAt == nil {
			t.Fatalf("ClaimNextRunnable #%d: claim not reflected: %+v", i+1, claim)
		}
	}

	claim, err := repo.ClaimNextRunnable(dbc, 3, time.Hour, time.Hour)
	if err != nil {
		t.Fatalf("ClaimNextRunnable (drained): %v", err)
	}
	if claim != nil {
		t.Fatalf("ClaimNextRunnable (drained): expected nil, got %v", claim.ID)
	}

	rows, err := repo.GetByIDs(dbc, []uuid.UUID{queued.ID})
	if err != nil || len(rows) != 1 || rows[0].Attempts != 1 || rows[0].Status != "running" {
		t.Fatalf("GetByIDs: rows=%+v err=%v", rows, err)
	}
}

func TestJobRunRepoDeferRefundsAttempt(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewJobRunRepo(db, testutil.Logger(t))

	now := time.Now().UTC()
	job := newJob(uuid.New(), "test_job", "character", uuid.New(), "queued", now.Add(-time.Minute))
	if _, err := repo.Create(dbc, []*types.JobRun{job}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	claim, err := repo.ClaimNextRunnable(dbc, 3, time.Hour, time.Hour)
	if err != nil || claim == nil {
		t.Fatalf("ClaimNextRunnable: claim=%v err=%v", claim, err)
	}

	if err := repo.Defer(dbc, claim.ID, now.Add(time.Hour), "lock busy"); err != nil {
		t.Fatalf("Defer: %v", err)
	}
	rows, _ := repo.GetByIDs(dbc, []uuid.UUID{job.ID})
	if rows[0].Status != "queued" || rows[0].Attempts != 0 || rows[0].RunAfter == nil {
		t.Fatalf("Defer: unexpected row %+v", rows[0])
	}

	// held back until run_after
	claim, err = repo.ClaimNextRunnable(dbc, 3, time.Hour, time.Hour)
	if err != nil || claim != nil {
		t.Fatalf("ClaimNextRunnable(deferred): claim=%v err=%v", claim, err)
	}
}

func TestJobRunRepoEntityQueries(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewJobRunRepo(db, testutil.Logger(t))

	now := time.Now().UTC()
	owner := uuid.New()
	entityID := uuid.New()

	older := newJob(owner, "build", "character", entityID, "queued", now.Add(-5*time.Hour))
	newer := newJob(owner, "build", "character", entityID, "failed", now.Add(-4*time.Hour))
	if _, err := repo.Create(dbc, []*types.JobRun{older, newer}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	latest, err := repo.GetLatestByEntity(dbc, owner, "character", entityID, "build")
	if err != nil || latest == nil || latest.ID != newer.ID {
		t.Fatalf("GetLatestByEntity: expected %v got %v (err=%v)", newer.ID, latest, err)
	}

	queued, err := repo.GetQueuedForEntity(dbc, "character", entityID, "build")
	if err != nil || queued == nil || queued.ID != older.ID {
		t.Fatalf("GetQueuedForEntity: expected %v got %v (err=%v)", older.ID, queued, err)
	}

	n, err := repo.CancelWaitingForEntity(dbc, "character", entityID, "build", "superseded")
	if err != nil || n != 2 {
		t.Fatalf("CancelWaitingForEntity: n=%d err=%v", n, err)
	}
	queued, err = repo.GetQueuedForEntity(dbc, "character", entityID, "build")
	if err != nil || queued != nil {
		t.Fatalf("GetQueuedForEntity(after cancel): got %v err=%v", queued, err)
	}

	ok, err := repo.UpdateFieldsUnlessStatus(dbc, older.ID, []string{"canceled"}, map[string]interface{}{"status": "running"})
	if err != nil || ok {
		t.Fatalf("UpdateFieldsUnlessStatus: ok=%v err=%v", ok, err)
	}

	counts, err := repo.CountByStatus(dbc)
	if err != nil || counts["canceled"] < 2 {
		t.Fatalf("CountByStatus: %v err=%v", counts, err)
	}
}

func TestJobRunRepoStaleRunningRespectsAttemptBudget(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewJobRunRepo(db, testutil.Logger(t))

	now := time.Now().UTC()
	owner := uuid.New()

	exhausted := newJob(owner, "test_job", "character", uuid.New(), "running", now.Add(-3*time.Hour))
	exhausted.Attempts = 3
	exhausted.HeartbeatAt = ptrTime(now.Add(-time.Hour))
	retryable := newJob(owner, "test_job", "character", uuid.New(), "running", now.Add(-2*time.Hour))
	retryable.Attempts = 2
	retryable.HeartbeatAt = ptrTime(now.Add(-time.Hour))
	live := newJob(owner, "test_job", "character", uuid.New(), "running", now.Add(-4*time.Hour))
	live.Attempts = 3
	live.HeartbeatAt = ptrTime(now)
	if _, err := repo.Create(dbc, []*types.JobRun{exhausted, retryable, live}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	claim, err := repo.ClaimNextRunnable(dbc, 3, time.Minute, 10*time.Minute)
	if err != nil {
		t.Fatalf("ClaimNextRunnable: %v", err)
	}
	if claim == nil || claim.ID != retryable.ID || claim.Attempts != 3 {
		t.Fatalf("ClaimNextRunnable: expected %v on attempt 3, got %+v", retryable.ID, claim)
	}
	claim, err = repo.ClaimNextRunnable(dbc, 3, time.Minute, 10*time.Minute)
	if err != nil || claim != nil {
		t.Fatalf("ClaimNextRunnable(exhausted): claim=%v err=%v", claim, err)
	}

	moved, err := repo.MarkStaleExhaustedDead(dbc, 3, 10*time.Minute, "stopped heartbeating")
	if err != nil {
		t.Fatalf("MarkStaleExhaustedDead: %v", err)
	}
	if len(moved) != 1 || moved[0].ID != exhausted.ID || moved[0].Status != "dead" {
		t.Fatalf("MarkStaleExhaustedDead: unexpected rows %+v", moved)
	}

	rows, err := repo.GetByIDs(dbc, []uuid.UUID{exhausted.ID, live.ID})
	if err != nil || len(rows) != 2 {
		t.Fatalf("GetByIDs: rows=%+v err=%v", rows, err)
	}
	for _, row := range rows {
		switch row.ID {
		case exhausted.ID:
			if row.Status != "dead" || row.Stage != "stale" || row.Error != "stopped heartbeating" || row.Attempts != 3 {
				t.Fatalf("exhausted row: %+v", row)
			}
		case live.ID:
			if row.Status != "running" {
				t.Fatalf("live row should stay running: %+v", row)
			}
		}
	}

	moved, err = repo.MarkStaleExhaustedDead(dbc, 3, 10*time.Minute, "stopped heartbeating")
	if err != nil || len(moved) != 0 {
		t.Fatalf("MarkStaleExhaustedDead(again): moved=%d err=%v", len(moved), err)
	}
}

func ptrTime(t time.Time) *time.Time { return &t }
