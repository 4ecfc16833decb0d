package services

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/kanda-backend/internal/data/repos"
	"github.com/yungbote/kanda-backend/internal/data/repos/testutil"
	types "github.com/yungbote/kanda-backend/internal/domain"
	"github.com/yungbote/kanda-backend/internal/domain/character"
	jobsdomain "github.com/yungbote/kanda-backend/internal/domain/jobs"
	"github.com/yungbote/kanda-backend/internal/pkg/ctxutil"
	"github.com/yungbote/kanda-backend/internal/pkg/dbctx"
	apperrors "github.com/yungbote/kanda-backend/internal/pkg/errors"
)

type characterFixture struct {
	db    *gorm.DB
	svc   CharacterService
	chars repos.CharacterRepo
	jobs  repos.JobRunRepo
	owner *types.User
	other *types.User
}

func newCharacterFixture(t *testing.T) *characterFixture {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	chars := repos.NewCharacterRepo(db, log)
	users := repos.NewUserRepo(db, log)
	jobRepo := repos.NewJobRunRepo(db, log)
	jobs := NewJobService(db, log, jobRepo, nil)
	ctx := context.Background()
	return &characterFixture{
		db:    db,
		svc:   NewCharacterService(db, log, chars, users, jobs, nil, nil),
		chars: chars,
		jobs:  jobRepo,
		owner: testutil.SeedUser(t, ctx, db, "owner"),
		other: testutil.SeedUser(t, ctx, db, "other"),
	}
}

func as(u *types.User) context.Context {
	return ctxutil.WithRequestData(context.Background(), &ctxutil.RequestData{UserID: u.ID, IsStaff: u.IsStaff})
}

func (f *characterFixture) complete(t *testing.T, id uuid.UUID) {
	t.Helper()
	require.NoError(t, f.chars.UpdateFields(dbctx.Context{Ctx: context.Background()}, id, map[string]interface{}{
		"processing_status": character.StatusCompleted,
		"personality":       datatypes.JSONMap{"mood": "calm"},
		"abilities":         datatypes.JSONSlice[character.Entry]{{"name": "archery"}},
	}))
}

func (f *characterFixture) queueDepth(t *testing.T) map[string]int64 {
	t.Helper()
	depth, err := f.jobs.CountByStatus(dbctx.Context{Ctx: context.Background()})
	require.NoError(t, err)
	return depth
}

func TestCharacterCreateQueuesEnrichment(t *testing.T) {
	f := newCharacterFixture(t)

	c, err := f.svc.Create(as(f.owner), CreateCharacterInput{
		Name:        "  Aria ",
		Description: "a thief from the docks",
		Tags:        []string{"rogue", "rogue", " "},
	})
	require.NoError(t, err)
	assert.Equal(t, "Aria", c.Name)
	assert.Equal(t, character.StatusPending, c.ProcessingStatus.Status)
	assert.Equal(t, 1, c.VersionNumber)
	assert.Equal(t, []string{"rogue"}, []string(c.Tags))

	job, err := f.jobs.GetQueuedForEntity(dbctx.Context{Ctx: context.Background()}, jobsdomain.EntityTypeCharacter, c.ID, jobsdomain.JobTypeCharacterEnrich)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, f.owner.ID, job.OwnerUserID)
	assert.Contains(t, string(job.Payload), c.ID.String())

	_, err = f.svc.Create(as(f.owner), CreateCharacterInput{Name: "Aria", Description: "again"})
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	_, err = f.svc.Create(as(f.owner), CreateCharacterInput{Name: "Nameless"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)

	_, err = f.svc.Create(context.Background(), CreateCharacterInput{Name: "X", Description: "y"})
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestCharacterCreateEnforcesLimit(t *testing.T) {
	f := newCharacterFixture(t)
	require.NoError(t, f.db.Model(&types.User{}).Where("id = ?", f.owner.ID).Update("max_characters", 1).Error)

	_, err := f.svc.Create(as(f.owner), CreateCharacterInput{Name: "One", Description: "first"})
	require.NoError(t, err)
	_, err = f.svc.Create(as(f.owner), CreateCharacterInput{Name: "Two", Description: "second"})
	assert.ErrorIs(t, err, apperrors.ErrLimitReached)
}

func TestCharacterVisibility(t *testing.T) {
	f := newCharacterFixture(t)
	private, err := f.svc.Create(as(f.owner), CreateCharacterInput{Name: "Hidden", Description: "secret"})
	require.NoError(t, err)
	public, err := f.svc.Create(as(f.owner), CreateCharacterInput{Name: "Shown", Description: "open", IsPublic: true})
	require.NoError(t, err)

	_, err = f.svc.Get(as(f.other), private.ID)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
	got, err := f.svc.Get(as(f.other), public.ID)
	require.NoError(t, err)
	assert.Equal(t, "Shown", got.Name)

	_, err = f.svc.Retry(as(f.other), public.ID)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
	assert.ErrorIs(t, f.svc.Delete(as(f.other), public.ID), apperrors.ErrForbidden)

	_, err = f.svc.Get(as(f.owner), uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	list, err := f.svc.List(as(f.owner), CharacterListFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 2)
	pub := true
	list, err = f.svc.List(as(f.owner), CharacterListFilter{Public: &pub})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, public.ID, list[0].ID)
	_, err = f.svc.List(as(f.owner), CharacterListFilter{Status: "bogus"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
}

func TestCharacterListByTag(t *testing.T) {
	f := newCharacterFixture(t)
	_, err := f.svc.Create(as(f.owner), CreateCharacterInput{Name: "A", Description: "a", Tags: []string{"hero"}})
	require.NoError(t, err)
	_, err = f.svc.Create(as(f.owner), CreateCharacterInput{Name: "B", Description: "b", Tags: []string{"villain"}})
	require.NoError(t, err)

	list, err := f.svc.List(as(f.owner), CharacterListFilter{Tag: "villain"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "B", list[0].Name)
}

func TestCharacterUpdateRegenerate(t *testing.T) {
	f := newCharacterFixture(t)
	c, err := f.svc.Create(as(f.owner), CreateCharacterInput{Name: "Aria", Description: "a thief"})
	require.NoError(t, err)
	f.complete(t, c.ID)

	name := "Aria Vance"
	updated, regenerated, err := f.svc.Update(as(f.owner), c.ID, UpdateCharacterInput{Name: &name})
	require.NoError(t, err)
	assert.False(t, regenerated)
	assert.Equal(t, name, updated.Name)
	assert.Equal(t, character.StatusCompleted, updated.ProcessingStatus.Status)

	desc := "a reformed thief"
	updated, regenerated, err = f.svc.Update(as(f.owner), c.ID, UpdateCharacterInput{Description: &desc, Regenerate: true})
	require.NoError(t, err)
	assert.True(t, regenerated)
	assert.Equal(t, desc, updated.Description)
	assert.Equal(t, character.StatusPending, updated.ProcessingStatus.Status)
	assert.Equal(t, "calm", updated.Personality["mood"], "archival happens in the pipeline, content stays until then")
	assert.Equal(t, int64(1), f.queueDepth(t)[jobsdomain.StatusQueued], "the queued creation job is reused")

	_, err = f.svc.Create(as(f.owner), CreateCharacterInput{Name: "Other", Description: "x"})
	require.NoError(t, err)
	taken := "Other"
	_, _, err = f.svc.Update(as(f.owner), c.ID, UpdateCharacterInput{Name: &taken})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestCharacterRetryReplacesWaitingJob(t *testing.T) {
	f := newCharacterFixture(t)
	c, err := f.svc.Create(as(f.owner), CreateCharacterInput{Name: "Aria", Description: "a thief"})
	require.NoError(t, err)
	first, err := f.jobs.GetQueuedForEntity(dbctx.Context{Ctx: context.Background()}, jobsdomain.EntityTypeCharacter, c.ID, jobsdomain.JobTypeCharacterEnrich)
	require.NoError(t, err)
	require.NotNil(t, first)

	require.NoError(t, f.chars.UpdateFields(dbctx.Context{Ctx: context.Background()}, c.ID, map[string]interface{}{
		"processing_status":        character.StatusFailed,
		"processing_error_message": "ai_provider_error: timeout",
		"processing_attempts":      3,
	}))

	got, err := f.svc.Retry(as(f.owner), c.ID)
	require.NoError(t, err)
	assert.Equal(t, character.StatusPending, got.ProcessingStatus.Status)

	reloaded, err := f.chars.GetByID(dbctx.Context{Ctx: context.Background()}, c.ID)
	require.NoError(t, err)
	assert.Equal(t, character.StatusPending, reloaded.ProcessingStatus.Status)
	assert.Equal(t, "", reloaded.ProcessingStatus.ErrorMessage)
	assert.Equal(t, 3, reloaded.ProcessingStatus.Attempts)

	old, err := f.jobs.GetByIDs(dbctx.Context{Ctx: context.Background()}, []uuid.UUID{first.ID})
	require.NoError(t, err)
	require.Len(t, old, 1)
	assert.Equal(t, jobsdomain.StatusCanceled, old[0].Status)
	depth := f.queueDepth(t)
	assert.Equal(t, int64(1), depth[jobsdomain.StatusQueued])
	assert.Equal(t, int64(1), depth[jobsdomain.StatusCanceled])
}

func TestCharacterExport(t *testing.T) {
	f := newCharacterFixture(t)
	c, err := f.svc.Create(as(f.owner), CreateCharacterInput{Name: "Aria Vance", Description: "a thief"})
	require.NoError(t, err)

	_, err = f.svc.Export(as(f.owner), c.ID, "json")
	assert.ErrorIs(t, err, apperrors.ErrNotReady)

	f.complete(t, c.ID)
	_, err = f.svc.Export(as(f.owner), c.ID, "pdf")
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)

	file, err := f.svc.Export(as(f.owner), c.ID, "JSON")
	require.NoError(t, err)
	assert.Equal(t, "Aria_Vance.json", file.Filename)
	assert.Equal(t, "application/json", file.ContentType)
	assert.Contains(t, string(file.Body), `"mood": "calm"`)
	assert.Contains(t, string(file.Body), `"owner": "owner"`)

	file, err = f.svc.Export(as(f.owner), c.ID, "txt")
	require.NoError(t, err)
	assert.Equal(t, "Aria_Vance.txt", file.Filename)
	body := string(file.Body)
	assert.True(t, strings.HasPrefix(body, "CHARACTER PROFILE: Aria Vance\n"))
	assert.Contains(t, body, "PERSONALITY:\n- mood: calm\n")
	assert.Contains(t, body, "ABILITIES:\n- name: archery\n")
	assert.Contains(t, body, "Created by: owner")
}

func TestCharacterDeleteCancelsJobs(t *testing.T) {
	f := newCharacterFixture(t)
	c, err := f.svc.Create(as(f.owner), CreateCharacterInput{Name: "Aria", Description: "a thief"})
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(as(f.owner), c.ID))
	_, err = f.svc.Get(as(f.owner), c.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, int64(0), f.queueDepth(t)[jobsdomain.StatusQueued])

	again, err := f.svc.Create(as(f.owner), CreateCharacterInput{Name: "Aria", Description: "reuse the name"})
	require.NoError(t, err)
	assert.NotEqual(t, c.ID, again.ID)
}

func TestCharacterStatistics(t *testing.T) {
	f := newCharacterFixture(t)
	a, err := f.svc.Create(as(f.owner), CreateCharacterInput{Name: "A", Description: "a", IsPublic: true})
	require.NoError(t, err)
	b, err := f.svc.Create(as(f.owner), CreateCharacterInput{Name: "B", Description: "b"})
	require.NoError(t, err)
	_, err = f.svc.Create(as(f.other), CreateCharacterInput{Name: "C", Description: "c"})
	require.NoError(t, err)
	f.complete(t, a.ID)
	require.NoError(t, f.chars.UpdateFields(dbctx.Context{Ctx: context.Background()}, b.ID, map[string]interface{}{
		"processing_status":        character.StatusFailed,
		"processing_error_message": "malformed_response: invalid JSON",
	}))

	stats, err := f.svc.UserStatistics(as(f.owner))
	require.NoError(t, err)
	assert.Equal(t, CharacterCounts{Total: 2, Completed: 1, Failed: 1, Public: 1, Private: 1}, stats.Statistics)
	assert.Len(t, stats.RecentCharacters, 2)
	require.Len(t, stats.FailedCharacters, 1)
	assert.Equal(t, "malformed_response: invalid JSON", stats.FailedCharacters[0].Error)

	_, err = f.svc.AdminStatistics(as(f.owner))
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	staff := *f.owner
	staff.IsStaff = true
	admin, err := f.svc.AdminStatistics(as(&staff))
	require.NoError(t, err)
	assert.Equal(t, int64(3), admin.GlobalStatistics.Total)
	assert.Equal(t, UserCounts{Total: 2, Active: 2, Inactive: 0}, admin.UserStatistics)
	require.Len(t, admin.TopUsers, 2)
	assert.Equal(t, "owner", admin.TopUsers[0].Username)
	assert.Equal(t, int64(2), admin.TopUsers[0].CharacterCount)
	require.Len(t, admin.FailedCharacters, 1)
	assert.Equal(t, "owner", admin.FailedCharacters[0].User)
}
