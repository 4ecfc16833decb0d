package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/kanda-backend/internal/data/repos"
	types "github.com/yungbote/kanda-backend/internal/domain"
	"github.com/yungbote/kanda-backend/internal/domain/story"
	"github.com/yungbote/kanda-backend/internal/pkg/dbctx"
	apperrors "github.com/yungbote/kanda-backend/internal/pkg/errors"
	"github.com/yungbote/kanda-backend/internal/pkg/logger"
	"github.com/yungbote/kanda-backend/internal/platform/ai"
	"github.com/yungbote/kanda-backend/internal/platform/lock"
)

const (
	maxRoomPlayers    = 12
	maxRoomChapters   = 20
	maxActionTextSize = 2000
)

// UniverseInput is used for both create and update. On update nil fields
// are left alone.
type UniverseInput struct {
	Name                 *string
	Description          *string
	Context              *string
	Rules                *string
	CoverImage           *string
	BackgroundImage      *string
	TimePeriod           *string
	Location             *string
	TechnologyLevel      *string
	MagicAllowed         *bool
	SupernaturalElements *bool
	IsPublic             *bool
}

type CreateRoomInput struct {
	Name            string
	Description     string
	UniverseID      uuid.UUID
	IsPublic        bool
	MaxPlayers      int
	TotalChapters   int
	DiscussionTime  int
	AllowDiscussion *bool
}

// ParticipantUpdate is a patch on the caller's own seat.
type ParticipantUpdate struct {
	IsReady      *bool
	CharacterIDs *[]uuid.UUID
}

type RoomView struct {
	Room         *types.Room
	Participants []*types.RoomParticipant
}

type NarrativeResult struct {
	Narrative string
	Chapter   *types.Chapter
	// Finished is set when the story had no chapters left to write.
	Finished bool
}

type StorytellingService interface {
	ListUniverses(ctx context.Context) ([]*types.Universe, error)
	GetUniverse(ctx context.Context, id uuid.UUID) (*types.Universe, error)
	CreateUniverse(ctx context.Context, in UniverseInput) (*types.Universe, error)
	UpdateUniverse(ctx context.Context, id uuid.UUID, in UniverseInput) (*types.Universe, error)
	DeleteUniverse(ctx context.Context, id uuid.UUID) error

	ListRooms(ctx context.Context) ([]*types.Room, error)
	MyRooms(ctx context.Context) ([]*types.Room, error)
	JoinedRooms(ctx context.Context) ([]*types.Room, error)
	GetRoom(ctx context.Context, id uuid.UUID) (*RoomView, error)
	CreateRoom(ctx context.Context, in CreateRoomInput) (*RoomView, error)
	JoinRoom(ctx context.Context, id uuid.UUID, accessCode string) (*RoomView, error)
	JoinRoomWithCode(ctx context.Context, accessCode string) (*RoomView, error)
	LeaveRoom(ctx context.Context, id uuid.UUID) error
	UpdateParticipant(ctx context.Context, participantID uuid.UUID, in ParticipantUpdate) (*types.RoomParticipant, error)
	StartGame(ctx context.Context, roomID uuid.UUID) (*types.Story, error)
	SubmitAction(ctx context.Context, roomID, chapterID uuid.UUID, text string) (*types.PlayerAction, error)
	GenerateNarrative(ctx context.Context, roomID uuid.UUID) (*NarrativeResult, error)

	GetRoomStory(ctx context.Context, roomID uuid.UUID) (*types.Story, error)
	GetStory(ctx context.Context, id uuid.UUID) (*types.Story, error)
	ListChapters(ctx context.Context, storyID uuid.UUID) ([]*types.Chapter, error)
	GetChapter(ctx context.Context, id uuid.UUID) (*types.Chapter, error)
	ListActions(ctx context.Context, chapterID uuid.UUID) ([]*types.PlayerAction, error)
}

type storytellingService struct {
	db         *gorm.DB
	log        *logger.Logger
	universes  repos.UniverseRepo
	rooms      repos.RoomRepo
	stories    repos.StoryRepo
	characters repos.CharacterRepo
	ai         ai.Client
	locker     lock.Locker
	cfg        StorytellingConfig
}

// NewStorytellingService wires the universe, room and story flows. aiClient
// may be nil.
func NewStorytellingService(
	db *gorm.DB,
	baseLog *logger.Logger,
	universes repos.UniverseRepo,
	rooms repos.RoomRepo,
	stories repos.StoryRepo,
	characters repos.CharacterRepo,
	aiClient ai.Client,
	locker lock.Locker,
	cfg StorytellingConfig,
) StorytellingService {
	if locker == nil {
		locker = lock.NewMemoryLocker()
	}
	return &storytellingService{
		db:         db,
		log:        baseLog.With("service", "StorytellingService"),
		universes:  universes,
		rooms:      rooms,
		stories:    stories,
		characters: characters,
		ai:         aiClient,
		locker:     locker,
		cfg:        cfg.withDefaults(),
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{apperrors.ErrInvalidArgument}, args...)...)
}

// ---- universes ----

func (s *storytellingService) ListUniverses(ctx context.Context) ([]*types.Universe, error) {
	rd, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	return s.universes.ListVisible(dbctx.Context{Ctx: ctx}, rd.UserID)
}

func (s *storytellingService) loadUniverse(ctx context.Context, id uuid.UUID) (*types.Universe, uuid.UUID, error) {
	rd, err := caller(ctx)
	if err != nil {
		return nil, uuid.Nil, err
	}
	u, err := s.universes.GetByID(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("load universe: %w", err)
	}
	if u == nil {
		return nil, uuid.Nil, fmt.Errorf("%w: universe not found", apperrors.ErrNotFound)
	}
	return u, rd.UserID, nil
}

func createdBy(u *types.Universe, userID uuid.UUID) bool {
	return u.CreatedByUserID != nil && *u.CreatedByUserID == userID
}

func (s *storytellingService) GetUniverse(ctx context.Context, id uuid.UUID) (*types.Universe, error) {
	u, userID, err := s.loadUniverse(ctx, id)
	if err != nil {
		return nil, err
	}
	if !u.IsPublic && !createdBy(u, userID) {
		return nil, fmt.Errorf("%w: this universe is private", apperrors.ErrForbidden)
	}
	return u, nil
}

func applyUniverse(u *types.Universe, in UniverseInput) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&u.Name, in.Name)
	set(&u.Description, in.Description)
	set(&u.Context, in.Context)
	set(&u.Rules, in.Rules)
	set(&u.CoverImage, in.CoverImage)
	set(&u.BackgroundImage, in.BackgroundImage)
	set(&u.TimePeriod, in.TimePeriod)
	set(&u.Location, in.Location)
	set(&u.TechnologyLevel, in.TechnologyLevel)
	if in.MagicAllowed != nil {
		u.MagicAllowed = *in.MagicAllowed
	}
	if in.SupernaturalElements != nil {
		u.SupernaturalElements = *in.SupernaturalElements
	}
	if in.IsPublic != nil {
		u.IsPublic = *in.IsPublic
	}
}

func validateUniverse(u *types.Universe) error {
	switch {
	case u.Name == "":
		return invalid("name is required")
	case len(u.Name) > 200:
		return invalid("name must be at most 200 characters")
	case u.Description == "":
		return invalid("description is required")
	case u.Context == "":
		return invalid("context is required")
	}
	return nil
}

func (s *storytellingService) CreateUniverse(ctx context.Context, in UniverseInput) (*types.Universe, error) {
	rd, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if !rd.IsStaff {
		return nil, fmt.Errorf("%w: only administrators can create universes", apperrors.ErrForbidden)
	}
	now := time.Now().UTC()
	owner := rd.UserID
	u := &types.Universe{
		ID:              uuid.New(),
		IsPublic:        true,
		CreatedByUserID: &owner,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	applyUniverse(u, in)
	if err := validateUniverse(u); err != nil {
		return nil, err
	}
	if err := s.universes.Create(dbctx.Context{Ctx: ctx}, u); err != nil {
		return nil, fmt.Errorf("create universe: %w", err)
	}
	s.log.Info("universe created", "universe_id", u.ID.String())
	return u, nil
}

func (s *storytellingService) UpdateUniverse(ctx context.Context, id uuid.UUID, in UniverseInput) (*types.Universe, error) {
	u, userID, err := s.loadUniverse(ctx, id)
	if err != nil {
		return nil, err
	}
	if !createdBy(u, userID) {
		return nil, fmt.Errorf("%w: only the creator can edit this universe", apperrors.ErrForbidden)
	}
	applyUniverse(u, in)
	if err := validateUniverse(u); err != nil {
		return nil, err
	}
	u.UpdatedAt = time.Now().UTC()
	if err := s.universes.Save(dbctx.Context{Ctx: ctx}, u); err != nil {
		return nil, fmt.Errorf("save universe: %w", err)
	}
	return u, nil
}

func (s *storytellingService) DeleteUniverse(ctx context.Context, id uuid.UUID) error {
	u, userID, err := s.loadUniverse(ctx, id)
	if err != nil {
		return err
	}
	if !createdBy(u, userID) {
		return fmt.Errorf("%w: only the creator can delete this universe", apperrors.ErrForbidden)
	}
	dbc := dbctx.Context{Ctx: ctx}
	n, err := s.rooms.CountByUniverse(dbc, u.ID)
	if err != nil {
		return fmt.Errorf("count rooms: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("%w: universe still has %d rooms", apperrors.ErrConflict, n)
	}
	if err := s.universes.Delete(dbc, u.ID); err != nil {
		return fmt.Errorf("delete universe: %w", err)
	}
	s.log.Info("universe deleted", "universe_id", u.ID.String())
	return nil
}

// ---- rooms ----

func (s *storytellingService) ListRooms(ctx context.Context) ([]*types.Room, error) {
	if _, err := caller(ctx); err != nil {
		return nil, err
	}
	return s.rooms.ListPublicWaiting(dbctx.Context{Ctx: ctx})
}

func (s *storytellingService) MyRooms(ctx context.Context) ([]*types.Room, error) {
	rd, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	return s.rooms.ListByAdmin(dbctx.Context{Ctx: ctx}, rd.UserID)
}

func (s *storytellingService) JoinedRooms(ctx context.Context) ([]*types.Room, error) {
	rd, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	return s.rooms.ListJoined(dbctx.Context{Ctx: ctx}, rd.UserID)
}

// loadRoom returns the room when the caller may see it: public rooms, and
// private rooms for their admin and players.
func (s *storytellingService) loadRoom(ctx context.Context, id uuid.UUID) (*types.Room, uuid.UUID, error) {
	rd, err := caller(ctx)
	if err != nil {
		return nil, uuid.Nil, err
	}
	dbc := dbctx.Context{Ctx: ctx}
	room, err := s.rooms.GetByID(dbc, id)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("load room: %w", err)
	}
	if room == nil {
		return nil, uuid.Nil, fmt.Errorf("%w: room not found", apperrors.ErrNotFound)
	}
	if room.IsPublic || room.AdminUserID == rd.UserID {
		return room, rd.UserID, nil
	}
	seat, err := s.rooms.GetParticipantByUser(dbc, room.ID, rd.UserID)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("load participant: %w", err)
	}
	if seat == nil {
		return nil, uuid.Nil, fmt.Errorf("%w: this room is private", apperrors.ErrForbidden)
	}
	return room, rd.UserID, nil
}

func (s *storytellingService) view(ctx context.Context, room *types.Room) (*RoomView, error) {
	participants, err := s.rooms.ListParticipants(dbctx.Context{Ctx: ctx}, room.ID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return &RoomView{Room: room, Participants: participants}, nil
}

func (s *storytellingService) GetRoom(ctx context.Context, id uuid.UUID) (*RoomView, error) {
	room, _, err := s.loadRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, room)
}

func (s *storytellingService) CreateRoom(ctx context.Context, in CreateRoomInput) (*RoomView, error) {
	rd, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, invalid("name is required")
	}
	if len(name) > 200 {
		return nil, invalid("name must be at most 200 characters")
	}
	if in.MaxPlayers == 0 {
		in.MaxPlayers = story.DefaultMaxPlayers
	}
	if in.MaxPlayers < 1 || in.MaxPlayers > maxRoomPlayers {
		return nil, invalid("max_players must be between 1 and %d", maxRoomPlayers)
	}
	if in.TotalChapters == 0 {
		in.TotalChapters = story.DefaultTotalChapters
	}
	if in.TotalChapters < 1 || in.TotalChapters > maxRoomChapters {
		return nil, invalid("total_chapters must be between 1 and %d", maxRoomChapters)
	}
	if in.DiscussionTime == 0 {
		in.DiscussionTime = story.DefaultDiscussionTime
	}
	if in.DiscussionTime < 0 {
		return nil, invalid("discussion_time must be positive")
	}
	if _, err := s.GetUniverse(ctx, in.UniverseID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	room := &types.Room{
		ID:              uuid.New(),
		Name:            name,
		Description:     strings.TrimSpace(in.Description),
		UniverseID:      in.UniverseID,
		IsPublic:        in.IsPublic,
		MaxPlayers:      in.MaxPlayers,
		AdminUserID:     rd.UserID,
		Status:          story.RoomWaiting,
		TotalChapters:   in.TotalChapters,
		DiscussionTime:  in.DiscussionTime,
		AllowDiscussion: in.AllowDiscussion == nil || *in.AllowDiscussion,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if !room.IsPublic {
		code, err := story.NewAccessCode()
		if err != nil {
			return nil, fmt.Errorf("access code: %w", err)
		}
		room.AccessCode = code
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		if err := s.rooms.Create(dbc, room); err != nil {
			return fmt.Errorf("create room: %w", err)
		}
		return s.rooms.AddParticipant(dbc, &types.RoomParticipant{
			RoomID:       room.ID,
			UserID:       rd.UserID,
			CharacterIDs: datatypes.JSONSlice[uuid.UUID]{},
			JoinedAt:     now,
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("room created", "room_id", room.ID.String(), "public", room.IsPublic)
	return s.view(ctx, room)
}

// join seats userID in the room. The room row is locked so the capacity
// check and the insert cannot interleave with another join.
func (s *storytellingService) join(ctx context.Context, roomID, userID uuid.UUID, check func(*types.Room) error) (*RoomView, error) {
	var joined *types.Room
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		room, err := s.rooms.GetByIDForUpdate(dbc, roomID)
		if err != nil {
			return fmt.Errorf("load room: %w", err)
		}
		if room == nil {
			return fmt.Errorf("%w: room not found", apperrors.ErrNotFound)
		}
		if room.Status != story.RoomWaiting {
			return invalid("the room is not accepting new players")
		}
		if check != nil {
			if err := check(room); err != nil {
				return err
			}
		}
		seat, err := s.rooms.GetParticipantByUser(dbc, room.ID, userID)
		if err != nil {
			return fmt.Errorf("load participant: %w", err)
		}
		if seat != nil {
			return invalid("you are already in this room")
		}
		n, err := s.rooms.CountParticipants(dbc, room.ID)
		if err != nil {
			return fmt.Errorf("count participants: %w", err)
		}
		if int(n) >= room.MaxPlayers {
			return invalid("the room is full")
		}
		if err := s.rooms.AddParticipant(dbc, &types.RoomParticipant{
			RoomID:       room.ID,
			UserID:       userID,
			CharacterIDs: datatypes.JSONSlice[uuid.UUID]{},
			JoinedAt:     time.Now().UTC(),
		}); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return invalid("you are already in this room")
			}
			return fmt.Errorf("add participant: %w", err)
		}
		joined = room
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("player joined room", "room_id", roomID.String(), "user_id", userID.String())
	return s.view(ctx, joined)
}

func (s *storytellingService) JoinRoom(ctx context.Context, id uuid.UUID, accessCode string) (*RoomView, error) {
	rd, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	code := strings.ToUpper(strings.TrimSpace(accessCode))
	return s.join(ctx, id, rd.UserID, func(room *types.Room) error {
		if !room.IsPublic && code != room.AccessCode {
			return invalid("wrong access code")
		}
		return nil
	})
}

func (s *storytellingService) JoinRoomWithCode(ctx context.Context, accessCode string) (*RoomView, error) {
	rd, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	code := strings.ToUpper(strings.TrimSpace(accessCode))
	if code == "" {
		return nil, invalid("access_code is required")
	}
	room, err := s.rooms.GetPrivateByAccessCode(dbctx.Context{Ctx: ctx}, code)
	if err != nil {
		return nil, fmt.Errorf("load room: %w", err)
	}
	if room == nil {
		return nil, fmt.Errorf("%w: invalid access code", apperrors.ErrNotFound)
	}
	return s.join(ctx, room.ID, rd.UserID, nil)
}

func (s *storytellingService) LeaveRoom(ctx context.Context, id uuid.UUID) error {
	room, userID, err := s.loadRoom(ctx, id)
	if err != nil {
		return err
	}
	removed, err := s.rooms.RemoveParticipant(dbctx.Context{Ctx: ctx}, room.ID, userID)
	if err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	if !removed {
		return invalid("you are not in this room")
	}
	s.log.Info("player left room", "room_id", room.ID.String(), "user_id", userID.String())
	return nil
}

func (s *storytellingService) UpdateParticipant(ctx context.Context, participantID uuid.UUID, in ParticipantUpdate) (*types.RoomParticipant, error) {
	rd, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	dbc := dbctx.Context{Ctx: ctx}
	seat, err := s.rooms.GetParticipant(dbc, participantID)
	if err != nil {
		return nil, fmt.Errorf("load participant: %w", err)
	}
	if seat == nil {
		return nil, fmt.Errorf("%w: participant not found", apperrors.ErrNotFound)
	}
	if seat.UserID != rd.UserID {
		return nil, fmt.Errorf("%w: you cannot change other participants", apperrors.ErrForbidden)
	}

	updates := map[string]interface{}{}
	if in.IsReady != nil {
		updates["is_ready"] = *in.IsReady
		seat.IsReady = *in.IsReady
	}
	if in.CharacterIDs != nil {
		room, err := s.rooms.GetByID(dbc, seat.RoomID)
		if err != nil {
			return nil, fmt.Errorf("load room: %w", err)
		}
		if room == nil || room.Status != story.RoomWaiting {
			return nil, invalid("characters cannot change once the game has started")
		}
		ids := *in.CharacterIDs
		if len(ids) == 0 {
			return nil, invalid("characters must be a non-empty list")
		}
		for _, id := range ids {
			c, err := s.characters.GetByID(dbc, id)
			if err != nil {
				return nil, fmt.Errorf("load character: %w", err)
			}
			if c == nil {
				return nil, invalid("unknown character %s", id)
			}
			if c.OwnerUserID != rd.UserID {
				return nil, invalid("you can only bring your own characters")
			}
		}
		chars := datatypes.JSONSlice[uuid.UUID](ids)
		updates["character_ids"] = chars
		seat.CharacterIDs = chars
	}
	if len(updates) == 0 {
		return seat, nil
	}
	if err := s.rooms.UpdateParticipant(dbc, seat.ID, updates); err != nil {
		return nil, fmt.Errorf("update participant: %w", err)
	}
	return seat, nil
}

// StartGame moves a waiting room to playing and opens its story. Only the
// admin may start, and every participant must be ready with at least one
// character.
func (s *storytellingService) StartGame(ctx context.Context, roomID uuid.UUID) (*types.Story, error) {
	rd, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	var started *types.Story
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		room, err := s.rooms.GetByIDForUpdate(dbc, roomID)
		if err != nil {
			return fmt.Errorf("load room: %w", err)
		}
		if room == nil {
			return fmt.Errorf("%w: room not found", apperrors.ErrNotFound)
		}
		if room.AdminUserID != rd.UserID {
			return fmt.Errorf("%w: only the room admin can start the game", apperrors.ErrForbidden)
		}
		if room.Status == story.RoomPlaying {
			return invalid("the game is already in progress")
		}
		if room.Status != story.RoomWaiting {
			return invalid("the room is not ready to start")
		}
		active, err := s.stories.GetActiveForRoom(dbc, room.ID)
		if err != nil {
			return fmt.Errorf("load story: %w", err)
		}
		if active != nil {
			return invalid("the room already has an active story")
		}
		participants, err := s.rooms.ListParticipants(dbc, room.ID)
		if err != nil {
			return fmt.Errorf("list participants: %w", err)
		}
		if len(participants) == 0 {
			return invalid("at least one participant is needed to start")
		}
		for _, p := range participants {
			if !p.IsReady {
				return invalid("every participant must be ready")
			}
			if len(p.CharacterIDs) == 0 {
				return invalid("every participant needs at least one character")
			}
		}
		moved, err := s.rooms.UpdateStatusIf(dbc, room.ID, story.RoomWaiting, story.RoomPlaying)
		if err != nil {
			return fmt.Errorf("update room: %w", err)
		}
		if !moved {
			return fmt.Errorf("%w: room changed while starting", apperrors.ErrConflict)
		}
		st := &types.Story{
			ID:            uuid.New(),
			RoomID:        room.ID,
			Title:         "The story of " + room.Name,
			TotalChapters: room.TotalChapters,
			Status:        story.StoryInProgress,
			StartedAt:     time.Now().UTC(),
		}
		if err := s.stories.Create(dbc, st); err != nil {
			return fmt.Errorf("create story: %w", err)
		}
		started = st
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("game started", "room_id", roomID.String(), "story_id", started.ID.String())
	return started, nil
}

func (s *storytellingService) SubmitAction(ctx context.Context, roomID, chapterID uuid.UUID, text string) (*types.PlayerAction, error) {
	room, userID, err := s.loadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	dbc := dbctx.Context{Ctx: ctx}
	st, err := s.stories.GetActiveForRoom(dbc, room.ID)
	if err != nil {
		return nil, fmt.Errorf("load story: %w", err)
	}
	if st == nil {
		return nil, invalid("there is no active story")
	}
	if chapterID == uuid.Nil {
		return nil, invalid("chapter is required")
	}
	chapter, err := s.stories.GetChapter(dbc, chapterID)
	if err != nil {
		return nil, fmt.Errorf("load chapter: %w", err)
	}
	if chapter == nil || chapter.StoryID != st.ID {
		return nil, fmt.Errorf("%w: chapter not found", apperrors.ErrNotFound)
	}
	seat, err := s.rooms.GetParticipantByUser(dbc, room.ID, userID)
	if err != nil {
		return nil, fmt.Errorf("load participant: %w", err)
	}
	if seat == nil || len(seat.CharacterIDs) == 0 {
		return nil, invalid("select your characters first")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, invalid("action_text is required")
	}
	if len(text) > maxActionTextSize {
		return nil, invalid("action_text must be at most %d characters", maxActionTextSize)
	}
	action := &types.PlayerAction{
		ID:          uuid.New(),
		ChapterID:   chapter.ID,
		UserID:      userID,
		CharacterID: seat.CharacterIDs[0],
		ActionText:  text,
		SubmittedAt: time.Now().UTC(),
	}
	if err := s.stories.CreateAction(dbc, action); err != nil {
		return nil, fmt.Errorf("create action: %w", err)
	}
	return action, nil
}

func roomLockKey(id uuid.UUID) string { return "room:" + id.String() }

// GenerateNarrative writes the next chapter of the room's active story. When
// every chapter has been written the story is completed instead. Runs on the
// same room are serialized through the locker.
func (s *storytellingService) GenerateNarrative(ctx context.Context, roomID uuid.UUID) (*NarrativeResult, error) {
	room, userID, err := s.loadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.AdminUserID != userID {
		seat, err := s.rooms.GetParticipantByUser(dbctx.Context{Ctx: ctx}, room.ID, userID)
		if err != nil {
			return nil, fmt.Errorf("load participant: %w", err)
		}
		if seat == nil {
			return nil, fmt.Errorf("%w: only players in the room can advance the story", apperrors.ErrForbidden)
		}
	}
	lease, err := s.locker.TryAcquire(ctx, roomLockKey(room.ID), s.cfg.LockTTL)
	if errors.Is(err, lock.ErrBusy) {
		return nil, fmt.Errorf("%w: a chapter is already being written", apperrors.ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("lock room: %w", err)
	}
	defer func() {
		if rerr := lease.Release(context.Background()); rerr != nil {
			s.log.Warn("release room lock failed", "room_id", room.ID.String(), "error", rerr)
		}
	}()

	dbc := dbctx.Context{Ctx: ctx}
	st, err := s.stories.GetActiveForRoom(dbc, room.ID)
	if err != nil {
		return nil, fmt.Errorf("load story: %w", err)
	}
	if st == nil {
		return nil, invalid("there is no active story")
	}
	if st.Finished() {
		if err := s.finishStory(ctx, room, st); err != nil {
			return nil, err
		}
		return &NarrativeResult{Narrative: "The story has ended.", Finished: true}, nil
	}

	in, err := s.narrativeInput(ctx, room, st)
	if err != nil {
		return nil, err
	}
	text, err := s.writeChapter(ctx, in)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	chapter := &types.Chapter{
		ID:            uuid.New(),
		StoryID:       st.ID,
		ChapterNumber: in.Number,
		Content:       text,
		Status:        story.ChapterCompleted,
		CreatedAt:     now,
		CompletedAt:   &now,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tdbc := dbctx.Context{Ctx: ctx, Tx: tx}
		ok, err := s.stories.AdvanceChapter(tdbc, st.ID, st.CurrentChapter)
		if err != nil {
			return fmt.Errorf("advance story: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: story changed while writing", apperrors.ErrConflict)
		}
		if err := s.stories.CreateChapter(tdbc, chapter); err != nil {
			return fmt.Errorf("create chapter: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("chapter written", "room_id", room.ID.String(), "story_id", st.ID.String(), "chapter", chapter.ChapterNumber)
	return &NarrativeResult{Narrative: text, Chapter: chapter}, nil
}

func (s *storytellingService) finishStory(ctx context.Context, room *types.Room, st *types.Story) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		if _, err := s.stories.Complete(dbc, st.ID, time.Now().UTC()); err != nil {
			return fmt.Errorf("complete story: %w", err)
		}
		if _, err := s.rooms.UpdateStatusIf(dbc, room.ID, story.RoomPlaying, story.RoomFinished); err != nil {
			return fmt.Errorf("finish room: %w", err)
		}
		return nil
	})
}

func (s *storytellingService) narrativeInput(ctx context.Context, room *types.Room, st *types.Story) (narrativeInput, error) {
	dbc := dbctx.Context{Ctx: ctx}
	in := narrativeInput{
		Number: st.CurrentChapter + 1,
		Total:  st.TotalChapters,
		Title:  st.Title,
		Last:   st.CurrentChapter+1 >= st.TotalChapters,
	}
	u, err := s.universes.GetByID(dbc, room.UniverseID)
	if err != nil {
		return in, fmt.Errorf("load universe: %w", err)
	}
	if u == nil {
		u = &types.Universe{}
	}
	in.Universe = u

	participants, err := s.rooms.ListParticipants(dbc, room.ID)
	if err != nil {
		return in, fmt.Errorf("list participants: %w", err)
	}
	for _, p := range participants {
		for _, id := range p.CharacterIDs {
			c, err := s.characters.GetByID(dbc, id)
			if err != nil {
				return in, fmt.Errorf("load character: %w", err)
			}
			if c != nil {
				in.Characters = append(in.Characters, c.Name)
			}
		}
	}

	if st.CurrentChapter > 0 {
		prev, err := s.stories.GetChapterByNumber(dbc, st.ID, st.CurrentChapter)
		if err != nil {
			return in, fmt.Errorf("load chapter: %w", err)
		}
		if prev != nil {
			actions, err := s.stories.ListActions(dbc, prev.ID)
			if err != nil {
				return in, fmt.Errorf("list actions: %w", err)
			}
			for _, a := range actions {
				in.Actions = append(in.Actions, a.ActionText)
			}
		}
	}
	return in, nil
}

// ---- stories ----

func (s *storytellingService) GetRoomStory(ctx context.Context, roomID uuid.UUID) (*types.Story, error) {
	room, _, err := s.loadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	st, err := s.stories.GetLatestForRoom(dbctx.Context{Ctx: ctx}, room.ID)
	if err != nil {
		return nil, fmt.Errorf("load story: %w", err)
	}
	if st == nil {
		return nil, fmt.Errorf("%w: the room has no story yet", apperrors.ErrNotFound)
	}
	return st, nil
}

func (s *storytellingService) GetStory(ctx context.Context, id uuid.UUID) (*types.Story, error) {
	if _, err := caller(ctx); err != nil {
		return nil, err
	}
	st, err := s.stories.GetByID(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return nil, fmt.Errorf("load story: %w", err)
	}
	if st == nil {
		return nil, fmt.Errorf("%w: story not found", apperrors.ErrNotFound)
	}
	if _, _, err := s.loadRoom(ctx, st.RoomID); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *storytellingService) ListChapters(ctx context.Context, storyID uuid.UUID) ([]*types.Chapter, error) {
	st, err := s.GetStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	return s.stories.ListChapters(dbctx.Context{Ctx: ctx}, st.ID)
}

func (s *storytellingService) GetChapter(ctx context.Context, id uuid.UUID) (*types.Chapter, error) {
	if _, err := caller(ctx); err != nil {
		return nil, err
	}
	ch, err := s.stories.GetChapter(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return nil, fmt.Errorf("load chapter: %w", err)
	}
	if ch == nil {
		return nil, fmt.Errorf("%w: chapter not found", apperrors.ErrNotFound)
	}
	if _, err := s.GetStory(ctx, ch.StoryID); err != nil {
		return nil, err
	}
	return ch, nil
}

func (s *storytellingService) ListActions(ctx context.Context, chapterID uuid.UUID) ([]*types.PlayerAction, error) {
	ch, err := s.GetChapter(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	return s.stories.ListActions(dbctx.Context{Ctx: ctx}, ch.ID)
}
