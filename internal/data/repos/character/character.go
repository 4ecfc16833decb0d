package character

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/kanda-backend/internal/domain"
	domain "github.com/yungbote/kanda-backend/internal/domain/character"
	"github.com/yungbote/kanda-backend/internal/pkg/dbctx"
	"github.com/yungbote/kanda-backend/internal/pkg/logger"
)

// ListFilter narrows an owner's character list. Zero values do not filter.
type ListFilter struct {
	Status   domain.Status
	IsPublic *bool
}

type CharacterRepo interface {
	Create(dbc dbctx.Context, c *types.CharacterProfile) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.CharacterProfile, error)
	GetByIDForUpdate(dbc dbctx.Context, id uuid.UUID) (*types.CharacterProfile, error)
	ListByOwner(dbc dbctx.Context, ownerUserID uuid.UUID, filter ListFilter) ([]*types.CharacterProfile, error)
	CountByOwner(dbc dbctx.Context, ownerUserID uuid.UUID) (int64, error)
	NameTaken(dbc dbctx.Context, ownerUserID uuid.UUID, name string, excludeID uuid.UUID) (bool, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsIfStatus(dbc dbctx.Context, id uuid.UUID, allowed []domain.Status, updates map[string]interface{}) (bool, error)
	MarkProcessing(dbc dbctx.Context, id uuid.UUID, now time.Time) (bool, error)
	MarkFailed(dbc dbctx.Context, id uuid.UUID, message string, now time.Time) (bool, error)
	SaveEnrichment(dbc dbctx.Context, c *types.CharacterProfile, expectedVersion int) (bool, error)
	Delete(dbc dbctx.Context, id uuid.UUID) error
	CountByStatus(dbc dbctx.Context, ownerUserID *uuid.UUID) (map[domain.Status]int64, error)
	CountPublic(dbc dbctx.Context, ownerUserID *uuid.UUID) (int64, error)
	ListRecent(dbc dbctx.Context, ownerUserID *uuid.UUID, status domain.Status, limit int) ([]*types.CharacterProfile, error)
	TopOwners(dbc dbctx.Context, limit int) ([]OwnerCount, error)
}

// OwnerCount is one row of the per-owner character ranking.
type OwnerCount struct {
	OwnerUserID uuid.UUID
	Count       int64
}

type characterRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCharacterRepo(db *gorm.DB, baseLog *logger.Logger) CharacterRepo {
	return &characterRepo{db: db, log: baseLog.With("repo", "CharacterRepo")}
}

func (r *characterRepo) Create(dbc dbctx.Context, c *types.CharacterProfile) error {
	if c == nil {
		return nil
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return dbc.Resolve(r.db).Create(c).Error
}

func (r *characterRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.CharacterProfile, error) {
	return r.get(dbc.Resolve(r.db), id)
}

// GetByIDForUpdate row-locks the character on Postgres. Call it inside a
// transaction.
func (r *characterRepo) GetByIDForUpdate(dbc dbctx.Context, id uuid.UUID) (*types.CharacterProfile, error) {
	return r.get(dbctx.ForUpdate(dbc.Resolve(r.db), false), id)
}

func (r *characterRepo) get(q *gorm.DB, id uuid.UUID) (*types.CharacterProfile, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var c types.CharacterProfile
	err := q.Where("id = ?", id).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *characterRepo) ListByOwner(dbc dbctx.Context, ownerUserID uuid.UUID, filter ListFilter) ([]*types.CharacterProfile, error) {
	out := []*types.CharacterProfile{}
	if ownerUserID == uuid.Nil {
		return out, nil
	}
	q := dbc.Resolve(r.db).Where("owner_user_id = ?", ownerUserID)
	if filter.Status != "" {
		q = q.Where("processing_status = ?", filter.Status)
	}
	if filter.IsPublic != nil {
		q = q.Where("is_public = ?", *filter.IsPublic)
	}
	if err := q.Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *characterRepo) CountByOwner(dbc dbctx.Context, ownerUserID uuid.UUID) (int64, error) {
	var count int64
	err := dbc.Resolve(r.db).
		Model(&types.CharacterProfile{}).
		Where("owner_user_id = ?", ownerUserID).
		Count(&count).Error
	return count, err
}

func (r *characterRepo) NameTaken(dbc dbctx.Context, ownerUserID uuid.UUID, name string, excludeID uuid.UUID) (bool, error) {
	q := dbc.Resolve(r.db).
		Model(&types.CharacterProfile{}).
		Where("owner_user_id = ? AND name = ?", ownerUserID, name)
	if excludeID != uuid.Nil {
		q = q.Where("id <> ?", excludeID)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *characterRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return dbc.Resolve(r.db).
		Model(&types.CharacterProfile{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// UpdateFieldsIfStatus applies updates only while the row is in one of the
// allowed statuses. It reports whether a row changed.
func (r *characterRepo) UpdateFieldsIfStatus(dbc dbctx.Context, id uuid.UUID, allowed []domain.Status, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	q := dbc.Resolve(r.db).
		Model(&types.CharacterProfile{}).
		Where("id = ?", id)
	if len(allowed) > 0 {
		q = q.Where("processing_status IN ?", allowed)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkProcessing records the start of an enrichment attempt. Attempts is
// incremented in SQL so concurrent writers cannot lose a count.
func (r *characterRepo) MarkProcessing(dbc dbctx.Context, id uuid.UUID, now time.Time) (bool, error) {
	return r.UpdateFieldsIfStatus(dbc, id, sourcesOf(domain.StatusProcessing), map[string]interface{}{
		"processing_status":       domain.StatusProcessing,
		"processing_started_at":   now,
		"processing_attempts":     gorm.Expr("processing_attempts + 1"),
		"processing_last_attempt": now,
		"updated_at":              now,
	})
}

// MarkFailed ends a run that exhausted its attempts. Only processing rows
// move, so a row already sent back to pending by a retry keeps its new run.
func (r *characterRepo) MarkFailed(dbc dbctx.Context, id uuid.UUID, message string, now time.Time) (bool, error) {
	return r.UpdateFieldsIfStatus(dbc, id, []domain.Status{domain.StatusProcessing}, map[string]interface{}{
		"processing_status":        domain.StatusFailed,
		"processing_error_message": message,
		"updated_at":               now,
	})
}

// SaveEnrichment writes generated content, history and the completed status
// in one statement guarded by version_number. A false result means another
// writer archived first.
func (r *characterRepo) SaveEnrichment(dbc dbctx.Context, c *types.CharacterProfile, expectedVersion int) (bool, error) {
	if c == nil || c.ID == uuid.Nil {
		return false, nil
	}
	res := dbc.Resolve(r.db).
		Model(&types.CharacterProfile{}).
		Where("id = ? AND version_number = ?", c.ID, expectedVersion).
		Where("processing_status IN ?", sourcesOf(domain.StatusCompleted)).
		Updates(map[string]interface{}{
			"personality":              c.Personality,
			"background":               c.Background,
			"appearance":               c.Appearance,
			"relationships":            c.Relationships,
			"abilities":                c.Abilities,
			"versions":                 c.Versions,
			"version_number":           c.VersionNumber,
			"processing_status":        c.ProcessingStatus.Status,
			"processing_completed_at":  c.ProcessingStatus.CompletedAt,
			"processing_error_message": c.ProcessingStatus.ErrorMessage,
			"updated_at":               c.UpdatedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *characterRepo) Delete(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	return dbc.Resolve(r.db).
		Where("id = ?", id).
		Delete(&types.CharacterProfile{}).Error
}

func (r *characterRepo) CountByStatus(dbc dbctx.Context, ownerUserID *uuid.UUID) (map[domain.Status]int64, error) {
	type row struct {
		Status domain.Status
		Count  int64
	}
	var rows []row
	q := dbc.Resolve(r.db).
		Model(&types.CharacterProfile{}).
		Select("processing_status AS status, COUNT(*) AS count")
	if ownerUserID != nil {
		q = q.Where("owner_user_id = ?", *ownerUserID)
	}
	if err := q.Group("processing_status").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := map[domain.Status]int64{
		domain.StatusPending:    0,
		domain.StatusProcessing: 0,
		domain.StatusCompleted:  0,
		domain.StatusFailed:     0,
	}
	for _, rr := range rows {
		out[rr.Status] = rr.Count
	}
	return out, nil
}

func (r *characterRepo) CountPublic(dbc dbctx.Context, ownerUserID *uuid.UUID) (int64, error) {
	q := dbc.Resolve(r.db).
		Model(&types.CharacterProfile{}).
		Where("is_public = ?", true)
	if ownerUserID != nil {
		q = q.Where("owner_user_id = ?", *ownerUserID)
	}
	var count int64
	err := q.Count(&count).Error
	return count, err
}

// ListRecent returns the most recently updated characters, optionally
// narrowed to one owner and one status.
func (r *characterRepo) ListRecent(dbc dbctx.Context, ownerUserID *uuid.UUID, status domain.Status, limit int) ([]*types.CharacterProfile, error) {
	out := []*types.CharacterProfile{}
	if limit <= 0 {
		limit = 5
	}
	q := dbc.Resolve(r.db).Model(&types.CharacterProfile{})
	if ownerUserID != nil {
		q = q.Where("owner_user_id = ?", *ownerUserID)
	}
	if status != "" {
		q = q.Where("processing_status = ?", status)
	}
	if err := q.Order("updated_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// TopOwners ranks owners by how many characters they hold, largest first.
func (r *characterRepo) TopOwners(dbc dbctx.Context, limit int) ([]OwnerCount, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []OwnerCount
	err := dbc.Resolve(r.db).
		Model(&types.CharacterProfile{}).
		Select("owner_user_id, COUNT(*) AS count").
		Group("owner_user_id").
		Order("count DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// sourcesOf lists the statuses that may move to target.
func sourcesOf(target domain.Status) []domain.Status {
	var out []domain.Status
	for _, from := range []domain.Status{
		domain.StatusPending,
		domain.StatusProcessing,
		domain.StatusCompleted,
		domain.StatusFailed,
	} {
		if domain.CanTransition(from, target) {
			out = append(out, from)
		}
	}
	return out
}
