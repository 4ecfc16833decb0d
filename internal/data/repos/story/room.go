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

type RoomRepo interface {
	Create(dbc dbctx.Context, room *types.Room) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Room, error)
	GetByIDForUpdate(dbc dbctx.Context, id uuid.UUID) (*types.Room, error)
	GetPrivateByAccessCode(dbc dbctx.Context, code string) (*types.Room, error)
	ListPublicWaiting(dbc dbctx.Context) ([]*types.Room, error)
	ListByAdmin(dbc dbctx.Context, adminUserID uuid.UUID) ([]*types.Room, error)
	ListJoined(dbc dbctx.Context, userID uuid.UUID) ([]*types.Room, error)
	UpdateStatusIf(dbc dbctx.Context, id uuid.UUID, from, to domain.RoomStatus) (bool, error)
	CountByUniverse(dbc dbctx.Context, universeID uuid.UUID) (int64, error)

	AddParticipant(dbc dbctx.Context, p *types.RoomParticipant) error
	GetParticipant(dbc dbctx.Context, id uuid.UUID) (*types.RoomParticipant, error)
	GetParticipantByUser(dbc dbctx.Context, roomID, userID uuid.UUID) (*types.RoomParticipant, error)
	ListParticipants(dbc dbctx.Context, roomID uuid.UUID) ([]*types.RoomParticipant, error)
	CountParticipants(dbc dbctx.Context, roomID uuid.UUID) (int64, error)
	UpdateParticipant(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	RemoveParticipant(dbc dbctx.Context, roomID, userID uuid.UUID) (bool, error)
}

type roomRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRoomRepo(db *gorm.DB, baseLog *logger.Logger) RoomRepo {
	return &roomRepo{db: db, log: baseLog.With("repo", "RoomRepo")}
}

func (r *roomRepo) Create(dbc dbctx.Context, room *types.Room) error {
	if room == nil {
		return nil
	}
	if room.ID == uuid.Nil {
		room.ID = uuid.New()
	}
	return dbc.Resolve(r.db).Create(room).Error
}

func (r *roomRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Room, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	return r.get(dbc.Resolve(r.db), "id = ?", id)
}

// GetByIDForUpdate row-locks the room on Postgres. Call it inside a
// transaction.
func (r *roomRepo) GetByIDForUpdate(dbc dbctx.Context, id uuid.UUID) (*types.Room, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	return r.get(dbctx.ForUpdate(dbc.Resolve(r.db), false), "id = ?", id)
}

func (r *roomRepo) GetPrivateByAccessCode(dbc dbctx.Context, code string) (*types.Room, error) {
	if code == "" {
		return nil, nil
	}
	return r.get(dbc.Resolve(r.db).Where("is_public = ?", false), "access_code = ?", code)
}

func (r *roomRepo) get(q *gorm.DB, where string, arg any) (*types.Room, error) {
	var room types.Room
	err := q.Where(where, arg).First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (r *roomRepo) ListPublicWaiting(dbc dbctx.Context) ([]*types.Room, error) {
	out := []*types.Room{}
	err := dbc.Resolve(r.db).
		Where("is_public = ? AND status = ?", true, domain.RoomWaiting).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

func (r *roomRepo) ListByAdmin(dbc dbctx.Context, adminUserID uuid.UUID) ([]*types.Room, error) {
	out := []*types.Room{}
	err := dbc.Resolve(r.db).
		Where("admin_user_id = ?", adminUserID).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

func (r *roomRepo) ListJoined(dbc dbctx.Context, userID uuid.UUID) ([]*types.Room, error) {
	out := []*types.Room{}
	err := dbc.Resolve(r.db).
		Where("id IN (?)", dbc.Resolve(r.db).Model(&types.RoomParticipant{}).Select("room_id").Where("user_id = ?", userID)).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

// UpdateStatusIf moves the room from one status to another and reports
// whether it was still in from.
func (r *roomRepo) UpdateStatusIf(dbc dbctx.Context, id uuid.UUID, from, to domain.RoomStatus) (bool, error) {
	res := dbc.Resolve(r.db).
		Model(&types.Room{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{"status": to, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *roomRepo) CountByUniverse(dbc dbctx.Context, universeID uuid.UUID) (int64, error) {
	var n int64
	err := dbc.Resolve(r.db).Model(&types.Room{}).Where("universe_id = ?", universeID).Count(&n).Error
	return n, err
}

func (r *roomRepo) AddParticipant(dbc dbctx.Context, p *types.RoomParticipant) error {
	if p == nil {
		return nil
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return dbc.Resolve(r.db).Create(p).Error
}

func (r *roomRepo) GetParticipant(dbc dbctx.Context, id uuid.UUID) (*types.RoomParticipant, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	return r.participant(dbc.Resolve(r.db).Where("id = ?", id))
}

func (r *roomRepo) GetParticipantByUser(dbc dbctx.Context, roomID, userID uuid.UUID) (*types.RoomParticipant, error) {
	return r.participant(dbc.Resolve(r.db).Where("room_id = ? AND user_id = ?", roomID, userID))
}

func (r *roomRepo) participant(q *gorm.DB) (*types.RoomParticipant, error) {
	var p types.RoomParticipant
	err := q.First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *roomRepo) ListParticipants(dbc dbctx.Context, roomID uuid.UUID) ([]*types.RoomParticipant, error) {
	out := []*types.RoomParticipant{}
	err := dbc.Resolve(r.db).
		Where("room_id = ?", roomID).
		Order("joined_at ASC").
		Find(&out).Error
	return out, err
}

func (r *roomRepo) CountParticipants(dbc dbctx.Context, roomID uuid.UUID) (int64, error) {
	var n int64
	err := dbc.Resolve(r.db).Model(&types.RoomParticipant{}).Where("room_id = ?", roomID).Count(&n).Error
	return n, err
}

func (r *roomRepo) UpdateParticipant(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	return dbc.Resolve(r.db).
		Model(&types.RoomParticipant{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *roomRepo) RemoveParticipant(dbc dbctx.Context, roomID, userID uuid.UUID) (bool, error) {
	res := dbc.Resolve(r.db).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Delete(&types.RoomParticipant{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
