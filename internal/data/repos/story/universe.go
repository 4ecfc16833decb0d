package story

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/kanda-backend/internal/domain"
	"github.com/yungbote/kanda-backend/internal/pkg/dbctx"
	"github.com/yungbote/kanda-backend/internal/pkg/logger"
)

type UniverseRepo interface {
	Create(dbc dbctx.Context, u *types.Universe) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Universe, error)
	// ListVisible returns public universes plus the ones userID created.
	ListVisible(dbc dbctx.Context, userID uuid.UUID) ([]*types.Universe, error)
	Save(dbc dbctx.Context, u *types.Universe) error
	Delete(dbc dbctx.Context, id uuid.UUID) error
}

type universeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUniverseRepo(db *gorm.DB, baseLog *logger.Logger) UniverseRepo {
	return &universeRepo{db: db, log: baseLog.With("repo", "UniverseRepo")}
}

func (r *universeRepo) Create(dbc dbctx.Context, u *types.Universe) error {
	if u == nil {
		return nil
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return dbc.Resolve(r.db).Create(u).Error
}

func (r *universeRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Universe, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var u types.Universe
	err := dbc.Resolve(r.db).Where("id = ?", id).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *universeRepo) ListVisible(dbc dbctx.Context, userID uuid.UUID) ([]*types.Universe, error) {
	out := []*types.Universe{}
	err := dbc.Resolve(r.db).
		Where("is_public = ? OR created_by_user_id = ?", true, userID).
		Order("created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *universeRepo) Save(dbc dbctx.Context, u *types.Universe) error {
	if u == nil || u.ID == uuid.Nil {
		return nil
	}
	return dbc.Resolve(r.db).Save(u).Error
}

func (r *universeRepo) Delete(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	return dbc.Resolve(r.db).Where("id = ?", id).Delete(&types.Universe{}).Error
}
