package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yungbote/kanda-backend/internal/data/repos"
	"github.com/yungbote/kanda-backend/internal/data/repos/testutil"
	types "github.com/yungbote/kanda-backend/internal/domain"
	"github.com/yungbote/kanda-backend/internal/domain/story"
	"github.com/yungbote/kanda-backend/internal/pkg/dbctx"
	apperrors "github.com/yungbote/kanda-backend/internal/pkg/errors"
	"github.com/yungbote/kanda-backend/internal/platform/ai"
	"github.com/yungbote/kanda-backend/internal/platform/lock"
)

type narratorAI struct {
	mu      sync.Mutex
	err     error
	prompts []string
}

func (n *narratorAI) Complete(ctx context.Context, prompt string, p ai.Params) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.prompts = append(n.prompts, prompt)
	if n.err != nil {
		return "", n.err
	}
	return "  The tide turns.  ", nil
}

func (n *narratorAI) Provider() string { return "stub" }
func (n *narratorAI) Model() string    { return "stub-1" }

func (n *narratorAI) lastPrompt() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.prompts) == 0 {
		return ""
	}
	return n.prompts[len(n.prompts)-1]
}

type storyFixture struct {
	db     *gorm.DB
	svc    StorytellingService
	rooms  repos.RoomRepo
	locker lock.Locker
	staff  *types.User
	owner  *types.User
	other  *types.User
}

func newStoryFixture(t *testing.T, client ai.Client) *storyFixture {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	ctx := context.Background()
	rooms := repos.NewRoomRepo(db, log)
	locker := lock.NewMemoryLocker()
	f := &storyFixture{
		db:     db,
		rooms:  rooms,
		locker: locker,
		staff:  testutil.SeedUser(t, ctx, db, "staff"),
		owner:  testutil.SeedUser(t, ctx, db, "owner"),
		other:  testutil.SeedUser(t, ctx, db, "other"),
	}
	f.staff.IsStaff = true
	f.svc = NewStorytellingService(db, log,
		repos.NewUniverseRepo(db, log),
		rooms,
		repos.NewStoryRepo(db, log),
		repos.NewCharacterRepo(db, log),
		client, locker, StorytellingConfig{},
	)
	return f
}

func strp(s string) *string { return &s }
func boolp(b bool) *bool    { return &b }

func (f *storyFixture) universe(t *testing.T, public bool) *types.Universe {
	t.Helper()
	u, err := f.svc.CreateUniverse(as(f.staff), UniverseInput{
		Name:        strp("Eldoria"),
		Description: strp("A realm of floating islands."),
		Context:     strp("The sky empire is collapsing."),
		Rules:       strp("No resurrection."),
		IsPublic:    boolp(public),
	})
	require.NoError(t, err)
	return u
}

// ready seats u with one of their own characters and marks them ready.
func (f *storyFixture) ready(t *testing.T, u *types.User, roomID uuid.UUID, name string) {
	t.Helper()
	c := testutil.SeedCharacter(t, context.Background(), f.db, u.ID, name, "a wanderer")
	seat, err := f.rooms.GetParticipantByUser(dbctx.Context{Ctx: context.Background()}, roomID, u.ID)
	require.NoError(t, err)
	require.NotNil(t, seat)
	ids := []uuid.UUID{c.ID}
	_, err = f.svc.UpdateParticipant(as(u), seat.ID, ParticipantUpdate{CharacterIDs: &ids, IsReady: boolp(true)})
	require.NoError(t, err)
}

func TestStorytellingUniverseAccess(t *testing.T) {
	f := newStoryFixture(t, nil)

	_, err := f.svc.CreateUniverse(as(f.owner), UniverseInput{Name: strp("x"), Description: strp("d"), Context: strp("c")})
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
	_, err = f.svc.CreateUniverse(as(f.staff), UniverseInput{Name: strp("  "), Description: strp("d"), Context: strp("c")})
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)

	private := f.universe(t, false)
	assert.Equal(t, f.staff.ID, *private.CreatedByUserID)

	_, err = f.svc.GetUniverse(as(f.other), private.ID)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
	_, err = f.svc.GetUniverse(as(f.other), uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	list, err := f.svc.ListUniverses(as(f.other))
	require.NoError(t, err)
	assert.Empty(t, list)
	list, err = f.svc.ListUniverses(as(f.staff))
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = f.svc.UpdateUniverse(as(f.other), private.ID, UniverseInput{IsPublic: boolp(true)})
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
	updated, err := f.svc.UpdateUniverse(as(f.staff), private.ID, UniverseInput{IsPublic: boolp(true), MagicAllowed: boolp(true)})
	require.NoError(t, err)
	assert.True(t, updated.IsPublic)
	assert.True(t, updated.MagicAllowed)
	assert.Equal(t, "Eldoria", updated.Name)

	_, err = f.svc.GetUniverse(as(f.other), private.ID)
	require.NoError(t, err)

	_, err = f.svc.CreateRoom(as(f.other), CreateRoomInput{Name: "Lobby", UniverseID: private.ID, IsPublic: true})
	require.NoError(t, err)
	err = f.svc.DeleteUniverse(as(f.staff), private.ID)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	err = f.svc.DeleteUniverse(as(f.other), private.ID)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = f.svc.ListUniverses(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestStorytellingPrivateRoomJoin(t *testing.T) {
	f := newStoryFixture(t, nil)
	u := f.universe(t, true)

	view, err := f.svc.CreateRoom(as(f.owner), CreateRoomInput{Name: "Den", UniverseID: u.ID, MaxPlayers: 2})
	require.NoError(t, err)
	room := view.Room
	assert.Len(t, room.AccessCode, story.AccessCodeLength)
	assert.True(t, room.AllowDiscussion)
	assert.Equal(t, story.DefaultTotalChapters, room.TotalChapters)
	require.Len(t, view.Participants, 1)
	assert.Equal(t, f.owner.ID, view.Participants[0].UserID)

	_, err = f.svc.GetRoom(as(f.other), room.ID)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
	_, err = f.svc.JoinRoom(as(f.other), room.ID, "WRONG1")
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
	_, err = f.svc.JoinRoomWithCode(as(f.other), "ZZZZZZ")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	view, err = f.svc.JoinRoomWithCode(as(f.other), strings.ToLower(room.AccessCode))
	require.NoError(t, err)
	assert.Len(t, view.Participants, 2)
	_, err = f.svc.JoinRoom(as(f.other), room.ID, room.AccessCode)
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
	_, err = f.svc.JoinRoom(as(f.staff), room.ID, room.AccessCode)
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument, "room is full")

	joined, err := f.svc.JoinedRooms(as(f.other))
	require.NoError(t, err)
	require.Len(t, joined, 1)
	public, err := f.svc.ListRooms(as(f.other))
	require.NoError(t, err)
	assert.Empty(t, public)
	mine, err := f.svc.MyRooms(as(f.owner))
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	require.NoError(t, f.svc.LeaveRoom(as(f.other), room.ID))
	assert.ErrorIs(t, f.svc.LeaveRoom(as(f.staff), room.ID), apperrors.ErrForbidden)
	_, err = f.svc.JoinRoom(as(f.staff), room.ID, room.AccessCode)
	require.NoError(t, err)
}

func TestStorytellingParticipantRules(t *testing.T) {
	f := newStoryFixture(t, nil)
	u := f.universe(t, true)
	view, err := f.svc.CreateRoom(as(f.owner), CreateRoomInput{Name: "Hall", UniverseID: u.ID, IsPublic: true})
	require.NoError(t, err)
	seat := view.Participants[0]

	_, err = f.svc.UpdateParticipant(as(f.other), seat.ID, ParticipantUpdate{IsReady: boolp(true)})
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	empty := []uuid.UUID{}
	_, err = f.svc.UpdateParticipant(as(f.owner), seat.ID, ParticipantUpdate{CharacterIDs: &empty})
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)

	foreign := testutil.SeedCharacter(t, context.Background(), f.db, f.other.ID, "Vex", "a spy")
	ids := []uuid.UUID{foreign.ID}
	_, err = f.svc.UpdateParticipant(as(f.owner), seat.ID, ParticipantUpdate{CharacterIDs: &ids})
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)

	f.ready(t, f.owner, view.Room.ID, "Aria")
	got, err := f.rooms.GetParticipant(dbctx.Context{Ctx: context.Background()}, seat.ID)
	require.NoError(t, err)
	assert.True(t, got.IsReady)
	assert.Len(t, got.CharacterIDs, 1)
}

func TestStorytellingGameFlow(t *testing.T) {
	narrator := &narratorAI{}
	f := newStoryFixture(t, narrator)
	u := f.universe(t, true)
	view, err := f.svc.CreateRoom(as(f.owner), CreateRoomInput{Name: "Harbor", UniverseID: u.ID, IsPublic: true, TotalChapters: 2})
	require.NoError(t, err)
	roomID := view.Room.ID
	_, err = f.svc.JoinRoom(as(f.other), roomID, "")
	require.NoError(t, err)

	_, err = f.svc.StartGame(as(f.other), roomID)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
	_, err = f.svc.StartGame(as(f.owner), roomID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument, "nobody is ready")

	f.ready(t, f.owner, roomID, "Aria")
	f.ready(t, f.other, roomID, "Brom")

	st, err := f.svc.StartGame(as(f.owner), roomID)
	require.NoError(t, err)
	assert.Equal(t, story.StoryInProgress, st.Status)
	assert.Equal(t, 2, st.TotalChapters)
	assert.Equal(t, 0, st.CurrentChapter)
	_, err = f.svc.StartGame(as(f.owner), roomID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)

	ids := []uuid.UUID{uuid.New()}
	seat, err := f.rooms.GetParticipantByUser(dbctx.Context{Ctx: context.Background()}, roomID, f.owner.ID)
	require.NoError(t, err)
	_, err = f.svc.UpdateParticipant(as(f.owner), seat.ID, ParticipantUpdate{CharacterIDs: &ids})
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument, "characters are frozen while playing")

	_, err = f.svc.GenerateNarrative(as(f.staff), roomID)
	assert.ErrorIs(t, err, apperrors.ErrForbidden, "not seated")

	first, err := f.svc.GenerateNarrative(as(f.owner), roomID)
	require.NoError(t, err)
	require.NotNil(t, first.Chapter)
	assert.False(t, first.Finished)
	assert.Equal(t, "The tide turns.", first.Narrative)
	assert.Equal(t, 1, first.Chapter.ChapterNumber)
	prompt := narrator.lastPrompt()
	assert.Contains(t, prompt, "chapter 1 of 2")
	assert.Contains(t, prompt, "Aria, Brom")
	assert.Contains(t, prompt, "The sky empire is collapsing.")

	_, err = f.svc.SubmitAction(as(f.other), roomID, first.Chapter.ID, "   ")
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
	_, err = f.svc.SubmitAction(as(f.other), roomID, uuid.New(), "look around")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	action, err := f.svc.SubmitAction(as(f.other), roomID, first.Chapter.ID, " climb the mast ")
	require.NoError(t, err)
	assert.Equal(t, "climb the mast", action.ActionText)

	actions, err := f.svc.ListActions(as(f.owner), first.Chapter.ID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, f.other.ID, actions[0].UserID)

	second, err := f.svc.GenerateNarrative(as(f.owner), roomID)
	require.NoError(t, err)
	require.NotNil(t, second.Chapter)
	assert.Equal(t, 2, second.Chapter.ChapterNumber)
	prompt = narrator.lastPrompt()
	assert.Contains(t, prompt, "- climb the mast")
	assert.Contains(t, prompt, "final chapter")

	chapters, err := f.svc.ListChapters(as(f.other), st.ID)
	require.NoError(t, err)
	require.Len(t, chapters, 2)
	assert.Equal(t, first.Chapter.ID, chapters[0].ID)

	done, err := f.svc.GenerateNarrative(as(f.owner), roomID)
	require.NoError(t, err)
	assert.True(t, done.Finished)
	assert.Nil(t, done.Chapter)

	latest, err := f.svc.GetRoomStory(as(f.other), roomID)
	require.NoError(t, err)
	assert.Equal(t, story.StoryCompleted, latest.Status)
	assert.Equal(t, 2, latest.CurrentChapter)
	assert.NotNil(t, latest.CompletedAt)

	room, err := f.svc.GetRoom(as(f.other), roomID)
	require.NoError(t, err)
	assert.Equal(t, story.RoomFinished, room.Room.Status)

	_, err = f.svc.GenerateNarrative(as(f.owner), roomID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
}

func TestStorytellingNarrativeFallbackAndLock(t *testing.T) {
	narrator := &narratorAI{err: errors.New("provider down")}
	f := newStoryFixture(t, narrator)
	u := f.universe(t, true)
	view, err := f.svc.CreateRoom(as(f.owner), CreateRoomInput{Name: "Keep", UniverseID: u.ID, IsPublic: true})
	require.NoError(t, err)
	roomID := view.Room.ID
	f.ready(t, f.owner, roomID, "Aria")
	_, err = f.svc.StartGame(as(f.owner), roomID)
	require.NoError(t, err)

	lease, err := f.locker.TryAcquire(context.Background(), roomLockKey(roomID), time.Minute)
	require.NoError(t, err)
	_, err = f.svc.GenerateNarrative(as(f.owner), roomID)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	require.NoError(t, lease.Release(context.Background()))

	res, err := f.svc.GenerateNarrative(as(f.owner), roomID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Narrative, "Chapter 1: In the universe of Eldoria, A realm of floating islands."))
	assert.Contains(t, res.Narrative, "The protagonists: Aria.")
	assert.Len(t, narrator.prompts, 1)
}

func TestFallbackNarrativeCutsLongSetting(t *testing.T) {
	in := narrativeInput{
		Number:   3,
		Universe: &types.Universe{Name: "Ash", Description: strings.Repeat("ö", 500)},
		Actions:  []string{"run", "hide"},
	}
	got := fallbackNarrative(in)
	assert.Contains(t, got, strings.Repeat("ö", 200)+"...")
	assert.NotContains(t, got, strings.Repeat("ö", 201))
	assert.True(t, strings.HasSuffix(got, "Player actions: run; hide"))
}
