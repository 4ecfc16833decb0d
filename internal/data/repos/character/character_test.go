package character

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/kanda-backend/internal/data/repos/testutil"
	domain "github.com/yungbote/kanda-backend/internal/domain/character"
	"github.com/yungbote/kanda-backend/internal/pkg/dbctx"
)

func TestCharacterRepoLifecycle(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	repo := NewCharacterRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}

	owner := uuid.New()
	now := time.Now().UTC().Truncate(time.Second)
	c := domain.New(owner, "Aria", "a thief from the docks", []string{"rogue"}, false, now)
	if err := repo.Create(dbc, c); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.GetByID(dbc, c.ID)
	if err != nil || got == nil {
		t.Fatalf("GetByID: got=%+v err=%v", got, err)
	}
	if got.ProcessingStatus.Status != domain.StatusPending || got.VersionNumber != 1 {
		t.Fatalf("GetByID: unexpected initial state: %+v", got.ProcessingStatus)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "rogue" {
		t.Fatalf("GetByID: tags=%v", got.Tags)
	}

	taken, err := repo.NameTaken(dbc, owner, "Aria", uuid.Nil)
	if err != nil || !taken {
		t.Fatalf("NameTaken: taken=%v err=%v", taken, err)
	}
	taken, err = repo.NameTaken(dbc, owner, "Aria", c.ID)
	if err != nil || taken {
		t.Fatalf("NameTaken(exclude self): taken=%v err=%v", taken, err)
	}

	ok, err := repo.MarkProcessing(dbc, c.ID, now)
	if err != nil || !ok {
		t.Fatalf("MarkProcessing: ok=%v err=%v", ok, err)
	}
	ok, err = repo.MarkProcessing(dbc, c.ID, now.Add(time.Minute))
	if err != nil || !ok {
		t.Fatalf("MarkProcessing(again): ok=%v err=%v", ok, err)
	}
	got, _ = repo.GetByID(dbc, c.ID)
	if got.ProcessingStatus.Status != domain.StatusProcessing || got.ProcessingStatus.Attempts != 2 {
		t.Fatalf("after MarkProcessing: %+v", got.ProcessingStatus)
	}

	locked, err := repo.GetByIDForUpdate(dbc, c.ID)
	if err != nil || locked == nil {
		t.Fatalf("GetByIDForUpdate: got=%+v err=%v", locked, err)
	}
	expected := locked.VersionNumber
	locked.ApplyContent(domain.Content{
		Personality: map[string]any{"traits": "sly"},
		Abilities:   []domain.Entry{{"name": "lockpicking"}},
	})
	completedAt := now.Add(2 * time.Minute)
	locked.ProcessingStatus.Status = domain.StatusCompleted
	locked.ProcessingStatus.CompletedAt = &completedAt
	locked.UpdatedAt = completedAt
	ok, err = repo.SaveEnrichment(dbc, locked, expected)
	if err != nil || !ok {
		t.Fatalf("SaveEnrichment: ok=%v err=%v", ok, err)
	}

	// stale version loses
	ok, err = repo.SaveEnrichment(dbc, locked, expected+5)
	if err != nil || ok {
		t.Fatalf("SaveEnrichment(stale): ok=%v err=%v", ok, err)
	}

	got, _ = repo.GetByID(dbc, c.ID)
	if got.ProcessingStatus.Status != domain.StatusCompleted {
		t.Fatalf("after SaveEnrichment: status=%s", got.ProcessingStatus.Status)
	}
	if got.Personality["traits"] != "sly" || len(got.Abilities) != 1 {
		t.Fatalf("after SaveEnrichment: content not persisted: %+v %+v", got.Personality, got.Abilities)
	}
	if got.ProcessingStatus.Attempts != 2 {
		t.Fatalf("attempts must survive completion, got %d", got.ProcessingStatus.Attempts)
	}

	// completed rows cannot be marked failed or processing without a reset
	ok, err = repo.MarkFailed(dbc, c.ID, "ai_provider_error: boom", now)
	if err != nil || ok {
		t.Fatalf("MarkFailed(completed): ok=%v err=%v", ok, err)
	}

	counts, err := repo.CountByStatus(dbc, &owner)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts[domain.StatusCompleted] != 1 || counts[domain.StatusPending] != 0 {
		t.Fatalf("CountByStatus: %v", counts)
	}

	if err := repo.Delete(dbc, c.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, err = repo.GetByID(dbc, c.ID)
	if err != nil || got != nil {
		t.Fatalf("GetByID(deleted): got=%+v err=%v", got, err)
	}

	// the name is free again once the row is gone
	again := domain.New(owner, "Aria", "second take", nil, true, now)
	if err := repo.Create(dbc, again); err != nil {
		t.Fatalf("Create(reuse name): %v", err)
	}
}

func TestCharacterRepoListAndStats(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	repo := NewCharacterRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}

	owner := uuid.New()
	other := uuid.New()
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)

	a := domain.New(owner, "A", "first", nil, true, base)
	b := domain.New(owner, "B", "second", nil, false, base.Add(time.Minute))
	c := domain.New(other, "C", "third", nil, true, base.Add(2*time.Minute))
	for _, x := range []*domain.CharacterProfile{a, b, c} {
		if err := repo.Create(dbc, x); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if ok, err := repo.MarkFailed(dbc, b.ID, "malformed_response: not json", base); err != nil || ok {
		t.Fatalf("MarkFailed(pending): ok=%v err=%v", ok, err)
	}
	if _, err := repo.MarkProcessing(dbc, b.ID, base); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if ok, err := repo.MarkFailed(dbc, b.ID, "malformed_response: not json", base); err != nil || !ok {
		t.Fatalf("MarkFailed: ok=%v err=%v", ok, err)
	}

	all, err := repo.ListByOwner(dbc, owner, ListFilter{})
	if err != nil || len(all) != 2 {
		t.Fatalf("ListByOwner: len=%d err=%v", len(all), err)
	}
	if all[0].ID != b.ID {
		t.Fatalf("ListByOwner: expected newest first")
	}

	public := true
	pubs, err := repo.ListByOwner(dbc, owner, ListFilter{IsPublic: &public})
	if err != nil || len(pubs) != 1 || pubs[0].ID != a.ID {
		t.Fatalf("ListByOwner(public): %+v err=%v", pubs, err)
	}

	failed, err := repo.ListByOwner(dbc, owner, ListFilter{Status: domain.StatusFailed})
	if err != nil || len(failed) != 1 || failed[0].ProcessingStatus.ErrorMessage == "" {
		t.Fatalf("ListByOwner(failed): %+v err=%v", failed, err)
	}

	n, err := repo.CountByOwner(dbc, owner)
	if err != nil || n != 2 {
		t.Fatalf("CountByOwner: n=%d err=%v", n, err)
	}

	pubCount, err := repo.CountPublic(dbc, nil)
	if err != nil || pubCount != 2 {
		t.Fatalf("CountPublic: n=%d err=%v", pubCount, err)
	}

	top, err := repo.TopOwners(dbc, 10)
	if err != nil || len(top) != 2 || top[0].OwnerUserID != owner || top[0].Count != 2 || top[1].Count != 1 {
		t.Fatalf("TopOwners: %+v err=%v", top, err)
	}

	recentFailed, err := repo.ListRecent(dbc, nil, domain.StatusFailed, 5)
	if err != nil || len(recentFailed) != 1 || recentFailed[0].ID != b.ID {
		t.Fatalf("ListRecent(failed): %+v err=%v", recentFailed, err)
	}

	ok, err := repo.UpdateFieldsIfStatus(dbc, b.ID, []domain.Status{domain.StatusFailed}, map[string]interface{}{
		"processing_status":        domain.StatusPending,
		"processing_error_message": "",
	})
	if err != nil || !ok {
		t.Fatalf("UpdateFieldsIfStatus: ok=%v err=%v", ok, err)
	}
	got, _ := repo.GetByID(dbc, b.ID)
	if got.ProcessingStatus.Status != domain.StatusPending || got.ProcessingStatus.ErrorMessage != "" {
		t.Fatalf("reset: %+v", got.ProcessingStatus)
	}
}
