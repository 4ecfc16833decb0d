package story

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/kanda-backend/internal/domain"
	domain "github.com/yungbote/kanda-backend/internal/domain/story"
	"github.com/yungbote/kanda-backend/internal/pkg/dbctx"
	"github.com/yungbote/kanda-backend/internal/pkg/logger"
)

// StoryRepo stores stories together with their chapters and the player
// actions submitted against each chapter.
type StoryRepo interface {
	Create(dbc dbctx.Context, s *types.Story) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Story, error)
	GetActiveForRoom(dbc dbctx.Context, roomID uuid.UUID) (*types.Story, error)
	GetActiveForRoomForUpdate(dbc dbctx.Context, roomID uuid.UUID) (*types.Story, error)
	GetLatestForRoom(dbc dbctx.Context, roomID uuid.UUID) (*types.Story, error)
	// AdvanceChapter moves current_chapter from expected to expected+1 and
	// reports whether no other writer got there first.
	AdvanceChapter(dbc dbctx.Context, id uuid.UUID, expected int) (bool, error)
	Complete(dbc dbctx.Context, id uuid.UUID, now time.Time) (bool, error)

	CreateChapter(dbc dbctx.Context, c *types.Chapter) error
	GetChapter(dbc dbctx.Context, id uuid.UUID) (*types.Chapter, error)
	GetChapterByNumber(dbc dbctx.Context, storyID uuid.UUID, number int) (*types.Chapter, error)
	ListChapters(dbc dbctx.Context, storyID uuid.UUID) ([]*types.Chapter, error)

	CreateAction(dbc dbctx.Context, a *types.PlayerAction) error
	ListActions(dbc dbctx.Context, chapterID uuid.UUID) ([]*types.PlayerAction, error)
}

type storyRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStoryRepo(db *gorm.DB, baseLog *logger.Logger) StoryRepo {
	return &storyRepo{db: db, log: baseLog.With("repo", "StoryRepo")}
}

func (r *storyRepo) Create(dbc dbctx.Context, s *types.Story) error {
	if s == nil {
		return nil
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return dbc.Resolve(r.db).Create(s).Error
}

func (r *storyRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Story, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	return r.first(dbc.Resolve(r.db).Where("id = ?", id))
}

func (r *storyRepo) GetActiveForRoom(dbc dbctx.Context, roomID uuid.UUID) (*types.Story, error) {
	return r.first(dbc.Resolve(r.db).Where("room_id = ? AND status = ?", roomID, domain.StoryInProgress))
}

func (r *storyRepo) GetActiveForRoomForUpdate(dbc dbctx.Context, roomID uuid.UUID) (*types.Story, error) {
	return r.first(dbctx.ForUpdate(dbc.Resolve(r.db), false).Where("room_id = ? AND status = ?", roomID, domain.StoryInProgress))
}

func (r *storyRepo) GetLatestForRoom(dbc dbctx.Context, roomID uuid.UUID) (*types.Story, error) {
	return r.first(dbc.Resolve(r.db).Where("room_id = ?", roomID).Order("started_at DESC"))
}

func (r *storyRepo) first(q *gorm.DB) (*types.Story, error) {
	var s types.Story
	err := q.First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *storyRepo) AdvanceChapter(dbc dbctx.Context, id uuid.UUID, expected int) (bool, error) {
	res := dbc.Resolve(r.db).
		Model(&types.Story{}).
		Where("id = ? AND current_chapter = ? AND status = ?", id, expected, domain.StoryInProgress).
		Update("current_chapter", expected+1)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *storyRepo) Complete(dbc dbctx.Context, id uuid.UUID, now time.Time) (bool, error) {
	res := dbc.Resolve(r.db).
		Model(&types.Story{}).
		Where("id = ? AND status = ?", id, domain.StoryInProgress).
		Updates(map[string]interface{}{
			"status":       domain.StoryCompleted,
			"completed_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *storyRepo) CreateChapter(dbc dbctx.Context, c *types.Chapter) error {
	if c == nil {
		return nil
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return dbc.Resolve(r.db).Create(c).Error
}

func (r *storyRepo) GetChapter(dbc dbctx.Context, id uuid.UUID) (*types.Chapter, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	return r.chapter(dbc.Resolve(r.db).Where("id = ?", id))
}

func (r *storyRepo) GetChapterByNumber(dbc dbctx.Context, storyID uuid.UUID, number int) (*types.Chapter, error) {
	return r.chapter(dbc.Resolve(r.db).Where("story_id = ? AND chapter_number = ?", storyID, number))
}

func (r *storyRepo) chapter(q *gorm.DB) (*types.Chapter, error) {
	var c types.Chapter
	err := q.First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *storyRepo) ListChapters(dbc dbctx.Context, storyID uuid.UUID) ([]*types.Chapter, error) {
	out := []*types.Chapter{}
	err := dbc.Resolve(r.db).
		Where("story_id = ?", storyID).
		Order("chapter_number ASC").
		Find(&out).Error
	return out, err
}

func (r *storyRepo) CreateAction(dbc dbctx.Context, a *types.PlayerAction) error {
	if a == nil {
		return nil
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return dbc.Resolve(r.db).Create(a).Error
}

func (r *storyRepo) ListActions(dbc dbctx.Context, chapterID uuid.UUID) ([]*types.PlayerAction, error) {
	out := []*types.PlayerAction{}
	err := dbc.Resolve(r.db).
		Where("chapter_id = ?", chapterID).
		Order("submitted_at ASC").
		Find(&out).Error
	return out, err
}
